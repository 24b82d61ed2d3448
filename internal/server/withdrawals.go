package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	withdrawaldomain "github.com/rcarraroia/slim-quality-sub008/internal/withdrawal/domain"
)

type requestWithdrawalRequest struct {
	AffiliateID string `json:"affiliate_id"`
	Amount      int64  `json:"amount"`
	Note        string `json:"note"`
}

func (s *Server) RequestWithdrawal(c *gin.Context) {
	var req requestWithdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	affiliateID, err := parseOptionalSnowflakeID(req.AffiliateID)
	if err != nil || affiliateID == nil {
		AbortWithError(c, newValidationError("affiliate_id", "invalid_affiliate_id", "invalid affiliate_id"))
		return
	}

	resp, err := s.withdrawalSvc.Request(c.Request.Context(), withdrawaldomain.RequestInput{
		AffiliateID: *affiliateID,
		Amount:      req.Amount,
		Note:        strings.TrimSpace(req.Note),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListWithdrawals(c *gin.Context) {
	var query struct {
		pageQuery
		AffiliateID string `form:"affiliate_id"`
		Status      string `form:"status"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	affiliateID, err := parseOptionalSnowflakeID(query.AffiliateID)
	if err != nil {
		AbortWithError(c, newValidationError("affiliate_id", "invalid_affiliate_id", "invalid affiliate_id"))
		return
	}

	resp, err := s.withdrawalSvc.List(c.Request.Context(), withdrawaldomain.ListRequest{
		AffiliateID: affiliateID,
		Status:      withdrawaldomain.Status(strings.TrimSpace(query.Status)),
		PageToken:   query.PageToken,
		PageSize:    query.PageSize,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetWithdrawal(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	resp, err := s.withdrawalSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type withdrawalDecisionRequest struct {
	DecidedBy string `json:"decided_by"`
	Reason    string `json:"reason"`
}

// bindDecision accepts an empty body so the actor can come from X-Actor alone.
func bindDecision(c *gin.Context) (withdrawalDecisionRequest, bool) {
	var req withdrawalDecisionRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return req, false
		}
	}
	req.DecidedBy = actor(c, req.DecidedBy)
	req.Reason = strings.TrimSpace(req.Reason)
	return req, true
}

func (s *Server) ApproveWithdrawal(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	req, ok := bindDecision(c)
	if !ok {
		return
	}

	resp, err := s.withdrawalSvc.Approve(c.Request.Context(), id, req.DecidedBy)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) RejectWithdrawal(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	req, ok := bindDecision(c)
	if !ok {
		return
	}

	resp, err := s.withdrawalSvc.Reject(c.Request.Context(), id, req.DecidedBy, req.Reason)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) PayWithdrawal(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	req, ok := bindDecision(c)
	if !ok {
		return
	}

	resp, err := s.withdrawalSvc.MarkPaid(c.Request.Context(), id, req.DecidedBy)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
