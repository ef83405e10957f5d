package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	accountdomain "github.com/smallbiznis/loyalty/internal/account/domain"
	auditdomain "github.com/smallbiznis/loyalty/internal/audit/domain"
	ledgerdomain "github.com/smallbiznis/loyalty/internal/ledger/domain"
	"github.com/smallbiznis/loyalty/pkg/db/pagination"
)

type createAccountRequest struct {
	ExternalRef string `json:"external_ref"`
}

type earnRequest struct {
	AccountID string `json:"account_id"`
	Points    int64  `json:"points"`
	OrderID   string `json:"order_id"`
}

type adjustRequest struct {
	AccountID string `json:"account_id"`
	Delta     int64  `json:"delta"`
	Memo      string `json:"memo"`
}

type consumeCouponRequest struct {
	Reference string `json:"reference"`
}

type verifyResponse struct {
	AccountID  string         `json:"account_id"`
	Consistent bool           `json:"consistent"`
	Finding    *verifyFinding `json:"finding,omitempty"`
}

type verifyFinding struct {
	Kind   string `json:"kind"`
	Cached int64  `json:"cached"`
	Folded int64  `json:"folded"`
}

func (s *Server) CreateAccount(c *gin.Context) {
	var req createAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	account, err := s.accountSvc.Create(c.Request.Context(), accountdomain.CreateRequest{
		ExternalRef: req.ExternalRef,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if s.auditSvc != nil {
		_ = s.auditSvc.Record(c.Request.Context(), auditdomain.Record{
			Action:     "account.create",
			TargetType: "account",
			TargetID:   account.ID.String(),
			Metadata:   map[string]any{"external_ref": account.ExternalRef},
		})
	}

	c.JSON(http.StatusCreated, gin.H{"data": account})
}

func (s *Server) GetAccount(c *gin.Context) {
	account, err := s.accountSvc.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": account})
}

func (s *Server) VerifyAccount(c *gin.Context) {
	accountID, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, accountdomain.ErrInvalidID)
		return
	}

	resp := verifyResponse{AccountID: accountID.String(), Consistent: true}
	err = s.ledgerSvc.Verify(c.Request.Context(), accountID)
	var finding *ledgerdomain.IntegrityError
	switch {
	case errors.As(err, &finding):
		resp.Consistent = false
		resp.Finding = &verifyFinding{Kind: finding.Kind, Cached: finding.Cached, Folded: finding.Folded}
	case err != nil:
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) Earn(c *gin.Context) {
	var req earnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	accountID, err := parseSnowflakeID(req.AccountID)
	if err != nil {
		AbortWithError(c, ledgerdomain.ErrInvalidAccount)
		return
	}
	c.Set(contextAccountIDKey, accountID.String())

	res, err := s.ledgerSvc.Earn(c.Request.Context(), ledgerdomain.EarnRequest{
		AccountID: accountID,
		Points:    req.Points,
		OrderID:   req.OrderID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{"data": res})
}

func (s *Server) Adjust(c *gin.Context) {
	var req adjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	accountID, err := parseSnowflakeID(req.AccountID)
	if err != nil {
		AbortWithError(c, ledgerdomain.ErrInvalidAccount)
		return
	}
	c.Set(contextAccountIDKey, accountID.String())

	principal, _ := principalFromContext(c)
	entry, err := s.ledgerSvc.Adjust(c.Request.Context(), ledgerdomain.AdjustRequest{
		AccountID: accountID,
		Delta:     req.Delta,
		Memo:      req.Memo,
		Actor:     principal.Subject,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if s.auditSvc != nil {
		_ = s.auditSvc.Record(c.Request.Context(), auditdomain.Record{
			Action:     "ledger.adjust",
			TargetType: "account",
			TargetID:   accountID.String(),
			Metadata: map[string]any{
				"entry_id": entry.ID.String(),
				"delta":    entry.Delta,
				"memo":     entry.Memo,
				"sequence": entry.Sequence,
			},
		})
	}

	c.JSON(http.StatusCreated, gin.H{"data": entry})
}

func (s *Server) GetCoupon(c *gin.Context) {
	coupon, err := s.couponSvc.GetByCode(c.Request.Context(), c.Param("code"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": coupon})
}

func (s *Server) ConsumeCoupon(c *gin.Context) {
	var req consumeCouponRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	coupon, err := s.couponSvc.Consume(c.Request.Context(), c.Param("code"), req.Reference)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if s.auditSvc != nil {
		_ = s.auditSvc.Record(c.Request.Context(), auditdomain.Record{
			Action:     "coupon.consume",
			TargetType: "coupon",
			TargetID:   coupon.Code,
			Metadata: map[string]any{
				"account_id": coupon.AccountID.String(),
				"reference":  coupon.ConsumedRef,
			},
		})
	}

	c.JSON(http.StatusOK, gin.H{"data": coupon})
}

func (s *Server) ListAuditLogs(c *gin.Context) {
	limit, err := parseLimit(c.Query("limit"), pagination.DefaultPageSize)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.auditSvc.List(c.Request.Context(), auditdomain.ListAuditLogRequest{
		Pagination: pagination.Pagination{
			PageToken: strings.TrimSpace(c.Query("page_token")),
			PageSize:  limit,
		},
		Action:     strings.TrimSpace(c.Query("action")),
		TargetType: strings.TrimSpace(c.Query("target_type")),
		TargetID:   strings.TrimSpace(c.Query("target_id")),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}
