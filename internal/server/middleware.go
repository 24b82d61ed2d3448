package server

import (
	"context"
	"math"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	obscontext "github.com/rcarraroia/slim-quality-sub008/internal/observability/context"
	"github.com/rcarraroia/slim-quality-sub008/internal/observability/logger"
	obsmetrics "github.com/rcarraroia/slim-quality-sub008/internal/observability/metrics"
	"go.uber.org/zap"
)

const (
	HeaderActor  = "X-Actor"
	HeaderSource = "X-Source"
)

const rateLimitReasonSourceRate = "source-rate"

// ActorContext carries the X-Actor header into the request context so audit
// entries name the operator.
func ActorContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		if v := strings.TrimSpace(c.GetHeader(HeaderActor)); v != "" {
			c.Request = c.Request.WithContext(obscontext.WithActor(c.Request.Context(), v))
		}
		c.Next()
	}
}

// IntakeRateLimit throttles order-completed deliveries per upstream source.
// The source is the X-Source header, falling back to the client address.
func (s *Server) IntakeRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.intakeLimiter.Enabled() {
			c.Next()
			return
		}

		endpoint := normalizeRateLimitEndpoint(c)
		ctx := c.Request.Context()
		source := intakeSource(c)

		res, err := s.intakeLimiter.Allow(ctx, source)
		if err != nil {
			logger.FromContext(ctx).Warn("intake rate limit check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if !res.Allowed {
			denyIntakeRateLimit(c, endpoint, rateLimitReasonSourceRate, retryAfterSeconds(res.RetryAfter.Seconds()), s.obsMetrics)
			return
		}

		recordRateLimitAllowed(ctx, endpoint, s.obsMetrics)
		c.Next()
	}
}

func intakeSource(c *gin.Context) string {
	if v := strings.TrimSpace(c.GetHeader(HeaderSource)); v != "" {
		return v
	}
	return c.ClientIP()
}

func retryAfterSeconds(seconds float64) int {
	n := int(math.Ceil(seconds))
	if n < 1 {
		return 1
	}
	return n
}

func denyIntakeRateLimit(c *gin.Context, endpoint, reason string, retryAfter int, metrics *obsmetrics.Metrics) {
	ctx := c.Request.Context()
	logger.FromContext(ctx).Warn("intake rate limit exceeded",
		zap.String("reason", reason),
		zap.String("endpoint", endpoint),
	)
	recordRateLimitDenied(ctx, endpoint, reason, metrics)

	c.Header("Retry-After", strconv.Itoa(retryAfter))
	c.Header("X-Rate-Limited-Reason", reason)
	AbortWithError(c, ErrRateLimited)
}

func recordRateLimitAllowed(ctx context.Context, endpoint string, metrics *obsmetrics.Metrics) {
	if metrics == nil {
		return
	}
	metrics.RecordRateLimitAllowed(ctx, endpoint)
}

func recordRateLimitDenied(ctx context.Context, endpoint, reason string, metrics *obsmetrics.Metrics) {
	if metrics == nil {
		return
	}
	metrics.RecordRateLimitDenied(ctx, endpoint, reason)
}

func normalizeRateLimitEndpoint(c *gin.Context) string {
	if c == nil {
		return "unknown"
	}
	endpoint := strings.TrimSpace(c.FullPath())
	if endpoint == "" {
		endpoint = strings.TrimSpace(c.Request.URL.Path)
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	return endpoint
}
