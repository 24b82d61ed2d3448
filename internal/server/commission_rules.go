package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	ruledomain "github.com/rcarraroia/slim-quality-sub008/internal/commissionrule/domain"
)

func (s *Server) PublishCommissionRules(c *gin.Context) {
	var req ruledomain.PublishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.ruleSvc.Publish(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListCommissionRules(c *gin.Context) {
	versions, err := s.ruleSvc.ListVersions(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if versions == nil {
		versions = []ruledomain.RuleSet{}
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"versions": versions}})
}
