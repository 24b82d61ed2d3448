package server

import (
	"errors"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

type pageQuery struct {
	PageToken string `form:"page_token"`
	PageSize  int    `form:"page_size"`
}

func parseOptionalInt(value string) (*int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	parsed, err := strconv.Atoi(trimmed)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

func parseOptionalSnowflakeID(value string) (*snowflake.ID, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	parsed, err := snowflake.ParseString(trimmed)
	if err != nil || parsed == 0 {
		return nil, errors.New("invalid_snowflake_id")
	}
	return &parsed, nil
}

// pathID reads a snowflake id from a route parameter. An unparsable id can
// never match a row, so it is reported as not found.
func pathID(c *gin.Context, name string) (snowflake.ID, bool) {
	id, err := parseOptionalSnowflakeID(c.Param(name))
	if err != nil || id == nil {
		AbortWithError(c, ErrNotFound)
		return 0, false
	}
	return *id, true
}

// actor names whoever performs an operator action. The body value wins over
// the X-Actor header.
func actor(c *gin.Context, fromBody string) string {
	if v := strings.TrimSpace(fromBody); v != "" {
		return v
	}
	return strings.TrimSpace(c.GetHeader(HeaderActor))
}
