package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	intakedomain "github.com/rcarraroia/slim-quality-sub008/internal/intake/domain"
	"github.com/rcarraroia/slim-quality-sub008/internal/observability/logger"
	"go.uber.org/zap"
)

const (
	HeaderEventID = "Event-ID"
	maxEventBytes = 1 << 20
)

// IngestOrderCompleted accepts an order-completed delivery. The event id is
// read from the body, falling back to the Event-ID header. A duplicate
// delivery inside the retention window answers 200 with outcome duplicate.
func (s *Server) IngestOrderCompleted(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxEventBytes))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	var event intakedomain.Event
	if err := json.Unmarshal(body, &event); err != nil {
		AbortWithError(c, intakedomain.ErrInvalidPayload)
		return
	}
	if strings.TrimSpace(event.EventID) == "" {
		event.EventID = c.GetHeader(HeaderEventID)
	}
	event.Source = intakedomain.SourceHTTP
	event.Payload = body

	ctx := c.Request.Context()
	outcome, result, err := s.intakeSvc.Ingest(ctx, event)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	logger.FromContext(ctx).Debug("order completed ingested",
		zap.String("event_id", event.EventID),
		zap.String("outcome", string(outcome)),
	)

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"outcome": outcome,
		"result":  result,
	}})
}
