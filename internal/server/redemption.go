package server

import (
	"math"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	redemptiondomain "github.com/smallbiznis/loyalty/internal/redemption/domain"
)

const idempotencyKeyHeader = "Idempotency-Key"

type redeemRequest struct {
	Points         decimal.Decimal `json:"points"`
	IdempotencyKey string          `json:"idempotency_key"`
}

var (
	minPoints = decimal.NewFromInt(math.MinInt64)
	maxPoints = decimal.NewFromInt(math.MaxInt64)
)

// redeemPoints accepts whole numbers only; 1.5 or a value beyond int64 is an
// invalid amount rather than a malformed body.
func redeemPoints(points decimal.Decimal) (int64, error) {
	if !points.IsInteger() || points.LessThan(minPoints) || points.GreaterThan(maxPoints) {
		return 0, redemptiondomain.ErrInvalidRedemptionAmount
	}
	return points.IntPart(), nil
}

type redeemResponse struct {
	RedemptionID     string          `json:"redemption_id"`
	CouponCode       string          `json:"coupon_code"`
	Value            decimal.Decimal `json:"value"`
	Currency         string          `json:"currency"`
	PointsSpent      int64           `json:"points_spent"`
	RemainingBalance int64           `json:"remaining_balance"`
	Replayed         bool            `json:"replayed"`
}

func (s *Server) Redeem(c *gin.Context) {
	accountID, err := accountFromRequest(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req redeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	points, err := redeemPoints(req.Points)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	key := strings.TrimSpace(req.IdempotencyKey)
	if header := strings.TrimSpace(c.GetHeader(idempotencyKeyHeader)); header != "" {
		if key != "" && key != header {
			AbortWithError(c, newValidationError("idempotency_key", "invalid_idempotency_key", "header and body idempotency keys differ"))
			return
		}
		key = header
	}

	result, err := s.redemptionSvc.Redeem(c.Request.Context(), redemptiondomain.RedeemRequest{
		AccountID:      accountID,
		Points:         points,
		IdempotencyKey: key,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{"data": redeemResponse{
		RedemptionID:     result.Redemption.ID.String(),
		CouponCode:       result.Redemption.CouponCode,
		Value:            result.Redemption.ValueAmount,
		Currency:         result.Redemption.Currency,
		PointsSpent:      result.Redemption.PointsSpent,
		RemainingBalance: result.RemainingBalance,
		Replayed:         result.Replayed,
	}})
}

func (s *Server) ListRedemptions(c *gin.Context) {
	accountID, err := accountFromRequest(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	limit, err := parseLimit(c.Query("limit"), 0)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	items, err := s.redemptionSvc.List(c.Request.Context(), accountID, limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if items == nil {
		items = []redemptiondomain.Redemption{}
	}
	c.JSON(http.StatusOK, gin.H{"data": items})
}

func (s *Server) GetRedemption(c *gin.Context) {
	accountID, err := accountFromRequest(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	id, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, ErrNotFound)
		return
	}

	item, err := s.redemptionSvc.Get(c.Request.Context(), accountID, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": item})
}
