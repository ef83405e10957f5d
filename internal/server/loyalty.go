package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	leaderboarddomain "github.com/smallbiznis/loyalty/internal/leaderboard/domain"
	ledgerdomain "github.com/smallbiznis/loyalty/internal/ledger/domain"
	tierdomain "github.com/smallbiznis/loyalty/internal/tier/domain"
	"github.com/smallbiznis/loyalty/pkg/db/pagination"
)

const defaultLeaderboardLimit = 10

type balanceResponse struct {
	AccountID          string          `json:"account_id"`
	Balance            int64           `json:"balance"`
	LifetimeEarned     int64           `json:"lifetime_earned"`
	Tier               string          `json:"tier"`
	TierCode           string          `json:"tier_code"`
	DiscountPercentage decimal.Decimal `json:"discount_percentage"`
	NextTier           *string         `json:"next_tier"`
	PointsToNextTier   int64           `json:"points_to_next_tier"`
}

type transactionsResponse struct {
	pagination.PageInfo
	Transactions []ledgerdomain.Entry `json:"transactions"`
}

type leaderboardEntry struct {
	Rank           int    `json:"rank"`
	AccountID      string `json:"account_id"`
	LifetimeEarned int64  `json:"lifetime_earned"`
	Tier           string `json:"tier"`
}

func (s *Server) GetBalance(c *gin.Context) {
	accountID, err := accountFromRequest(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	snapshot, err := s.ledgerSvc.Snapshot(c.Request.Context(), accountID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	progress := s.tierSvc.Progress(snapshot.LifetimeEarned)
	resp := balanceResponse{
		AccountID:          snapshot.AccountID.String(),
		Balance:            snapshot.Balance,
		LifetimeEarned:     snapshot.LifetimeEarned,
		Tier:               progress.Current.Name,
		TierCode:           progress.Current.Code,
		DiscountPercentage: progress.Current.DiscountPercentage,
		PointsToNextTier:   progress.PointsToNext,
	}
	if progress.Next != nil {
		name := progress.Next.Name
		resp.NextTier = &name
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListTransactions(c *gin.Context) {
	accountID, err := accountFromRequest(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	limit, err := parseLimit(c.Query("limit"), pagination.DefaultPageSize)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	res, err := s.ledgerSvc.ListEntries(c.Request.Context(), ledgerdomain.ListEntriesRequest{
		AccountID: accountID,
		PageSize:  int32(min(limit, pagination.MaxPageSize)),
		PageToken: strings.TrimSpace(c.Query("page_token")),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": transactionsResponse{
		PageInfo:     res.PageInfo,
		Transactions: res.Entries,
	}})
}

func (s *Server) ListTiers(c *gin.Context) {
	tiers := s.tierSvc.List()
	if tiers == nil {
		tiers = []tierdomain.Definition{}
	}
	c.JSON(http.StatusOK, gin.H{"data": tiers})
}

func (s *Server) GetLeaderboard(c *gin.Context) {
	limit, err := parseLimit(c.Query("limit"), defaultLeaderboardLimit)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	standings, err := s.leaderboardSvc.Collect(c.Request.Context(), leaderboarddomain.ClampN(limit))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp := make([]leaderboardEntry, 0, len(standings))
	for _, standing := range standings {
		resp = append(resp, leaderboardEntry{
			Rank:           standing.Rank,
			AccountID:      standing.AccountID.String(),
			LifetimeEarned: standing.LifetimeEarned,
			Tier:           standing.Tier,
		})
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}
