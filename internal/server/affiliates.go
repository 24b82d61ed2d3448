package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	affiliatedomain "github.com/rcarraroia/slim-quality-sub008/internal/affiliate/domain"
)

type createAffiliateRequest struct {
	Code       string `json:"code"`
	Name       string `json:"name"`
	Status     string `json:"status"`
	ParentID   string `json:"parent_id"`
	ParentCode string `json:"parent_code"`
}

func (s *Server) CreateAffiliate(c *gin.Context) {
	var req createAffiliateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	parentID, err := parseOptionalSnowflakeID(req.ParentID)
	if err != nil {
		AbortWithError(c, newValidationError("parent_id", "invalid_parent_id", "invalid parent_id"))
		return
	}

	resp, err := s.affiliateSvc.Create(c.Request.Context(), affiliatedomain.CreateRequest{
		Code:       strings.TrimSpace(req.Code),
		Name:       strings.TrimSpace(req.Name),
		Status:     affiliatedomain.Status(strings.TrimSpace(req.Status)),
		ParentID:   parentID,
		ParentCode: strings.TrimSpace(req.ParentCode),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetAffiliate(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	resp, err := s.affiliateSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListAffiliates(c *gin.Context) {
	var query struct {
		pageQuery
		Status   string `form:"status"`
		ParentID string `form:"parent_id"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	parentID, err := parseOptionalSnowflakeID(query.ParentID)
	if err != nil {
		AbortWithError(c, newValidationError("parent_id", "invalid_parent_id", "invalid parent_id"))
		return
	}

	resp, err := s.affiliateSvc.List(c.Request.Context(), affiliatedomain.ListRequest{
		Status:    affiliatedomain.Status(strings.TrimSpace(query.Status)),
		ParentID:  parentID,
		PageToken: query.PageToken,
		PageSize:  query.PageSize,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type attachAffiliateRequest struct {
	ParentID string `json:"parent_id"`
}

func (s *Server) AttachAffiliate(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req attachAffiliateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	parentID, err := parseOptionalSnowflakeID(req.ParentID)
	if err != nil || parentID == nil {
		AbortWithError(c, newValidationError("parent_id", "invalid_parent_id", "invalid parent_id"))
		return
	}

	ctx := c.Request.Context()
	if err := s.affiliateSvc.Attach(ctx, id, *parentID); err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.affiliateSvc.Get(ctx, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type updateAffiliateStatusRequest struct {
	Status string `json:"status"`
}

func (s *Server) UpdateAffiliateStatus(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req updateAffiliateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.affiliateSvc.UpdateStatus(c.Request.Context(), id, affiliatedomain.Status(strings.TrimSpace(req.Status)))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// AffiliateAncestors lists the upline starting at the affiliate itself.
// max_depth defaults to the configured commission depth.
func (s *Server) AffiliateAncestors(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	depth, err := parseOptionalInt(c.Query("max_depth"))
	if err != nil {
		AbortWithError(c, newValidationError("max_depth", "invalid_max_depth", "invalid max_depth"))
		return
	}
	maxDepth := s.commissionCfg.Get().MaxDepth
	if depth != nil {
		maxDepth = *depth
	}

	ids, err := s.affiliateSvc.AncestorsOf(c.Request.Context(), id, maxDepth)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if ids == nil {
		ids = []snowflake.ID{}
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"ancestors": ids}})
}

// AffiliateBalance returns the withdrawable balance with its per-status
// breakdown.
func (s *Server) AffiliateBalance(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	resp, err := s.ledgerSvc.Summary(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
