package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	ledgerdomain "github.com/rcarraroia/slim-quality-sub008/internal/ledger/domain"
)

func (s *Server) ListCommissions(c *gin.Context) {
	var query struct {
		pageQuery
		AffiliateID string `form:"affiliate_id"`
		OrderRef    string `form:"order_ref"`
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

	resp, err := s.ledgerSvc.ListCommissions(c.Request.Context(), ledgerdomain.ListCommissionsRequest{
		AffiliateID: affiliateID,
		OrderRef:    strings.TrimSpace(query.OrderRef),
		Status:      ledgerdomain.CommissionStatus(strings.TrimSpace(query.Status)),
		PageToken:   query.PageToken,
		PageSize:    query.PageSize,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type failCommissionsRequest struct {
	CommissionIDs []string `json:"commission_ids"`
}

// FailCommissions marks pending commissions whose payout errored out.
func (s *Server) FailCommissions(c *gin.Context) {
	var req failCommissionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if len(req.CommissionIDs) == 0 {
		AbortWithError(c, newValidationError("commission_ids", "required", "commission_ids is required"))
		return
	}

	ids := make([]snowflake.ID, 0, len(req.CommissionIDs))
	for _, raw := range req.CommissionIDs {
		id, err := parseOptionalSnowflakeID(raw)
		if err != nil || id == nil {
			AbortWithError(c, newValidationError("commission_ids", "invalid_commission_id", "invalid commission id"))
			return
		}
		ids = append(ids, *id)
	}

	if err := s.ledgerSvc.MarkFailed(c.Request.Context(), ids); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"failed": len(ids)}})
}
