package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type captureAttributionRequest struct {
	VisitorID     string `json:"visitor_id"`
	AffiliateCode string `json:"affiliate_code"`
}

// CaptureAttribution records a referral touch at the current time.
func (s *Server) CaptureAttribution(c *gin.Context) {
	var req captureAttributionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	ctx := c.Request.Context()
	visitorID := strings.TrimSpace(req.VisitorID)
	if err := s.attributionSvc.Capture(ctx, visitorID, strings.TrimSpace(req.AffiliateCode), s.clock.Now()); err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.attributionSvc.Get(ctx, visitorID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetAttribution(c *gin.Context) {
	resp, err := s.attributionSvc.Get(c.Request.Context(), strings.TrimSpace(c.Param("visitor_id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
