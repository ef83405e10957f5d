package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	referraldomain "github.com/smallbiznis/loyalty/internal/referral/domain"
)

type claimReferralRequest struct {
	Code string `json:"code"`
}

type claimReferralResponse struct {
	ClaimID        string `json:"claim_id"`
	PointsCredited int64  `json:"points_credited"`
	ReferrerPoints int64  `json:"referrer_points"`
}

func (s *Server) GetReferralCode(c *gin.Context) {
	accountID, err := accountFromRequest(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	code, err := s.referralSvc.GetCode(c.Request.Context(), accountID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"code": code}})
}

func (s *Server) ClaimReferral(c *gin.Context) {
	accountID, err := accountFromRequest(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req claimReferralRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	claim, err := s.referralSvc.Claim(c.Request.Context(), referraldomain.ClaimRequest{
		ClaimantID: accountID,
		Code:       req.Code,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": claimReferralResponse{
		ClaimID:        claim.ID.String(),
		PointsCredited: claim.ClaimantPoints,
		ReferrerPoints: claim.ReferrerPoints,
	}})
}

func (s *Server) GetReferralStats(c *gin.Context) {
	accountID, err := accountFromRequest(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	stats, err := s.referralSvc.Stats(c.Request.Context(), accountID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": stats})
}
