package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rcarraroia/slim-quality-sub008/internal/affiliate"
	affiliatedomain "github.com/rcarraroia/slim-quality-sub008/internal/affiliate/domain"
	"github.com/rcarraroia/slim-quality-sub008/internal/attribution"
	attributiondomain "github.com/rcarraroia/slim-quality-sub008/internal/attribution/domain"
	"github.com/rcarraroia/slim-quality-sub008/internal/audit"
	auditdomain "github.com/rcarraroia/slim-quality-sub008/internal/audit/domain"
	"github.com/rcarraroia/slim-quality-sub008/internal/clock"
	"github.com/rcarraroia/slim-quality-sub008/internal/commission"
	"github.com/rcarraroia/slim-quality-sub008/internal/commissionrule"
	ruledomain "github.com/rcarraroia/slim-quality-sub008/internal/commissionrule/domain"
	"github.com/rcarraroia/slim-quality-sub008/internal/config"
	"github.com/rcarraroia/slim-quality-sub008/internal/intake"
	intakedomain "github.com/rcarraroia/slim-quality-sub008/internal/intake/domain"
	"github.com/rcarraroia/slim-quality-sub008/internal/ledger"
	ledgerdomain "github.com/rcarraroia/slim-quality-sub008/internal/ledger/domain"
	"github.com/rcarraroia/slim-quality-sub008/internal/observability"
	obsmiddleware "github.com/rcarraroia/slim-quality-sub008/internal/observability/logger"
	obsmetrics "github.com/rcarraroia/slim-quality-sub008/internal/observability/metrics"
	obstracing "github.com/rcarraroia/slim-quality-sub008/internal/observability/tracing"
	"github.com/rcarraroia/slim-quality-sub008/internal/ratelimit"
	"github.com/rcarraroia/slim-quality-sub008/internal/withdrawal"
	withdrawaldomain "github.com/rcarraroia/slim-quality-sub008/internal/withdrawal/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	audit.Module,
	affiliate.Module,
	attribution.Module,
	commissionrule.Module,
	ledger.Module,
	commission.Module,
	withdrawal.Module,
	ratelimit.Module,
	intake.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine         *gin.Engine
	cfg            config.Config
	commissionCfg  *config.CommissionConfigHolder
	clock          clock.Clock
	affiliateSvc   affiliatedomain.Service
	attributionSvc attributiondomain.Service
	ruleSvc        ruledomain.Service
	ledgerSvc      ledgerdomain.Service
	withdrawalSvc  withdrawaldomain.Service
	intakeSvc      intakedomain.Service
	auditSvc       auditdomain.Service
	intakeLimiter  *ratelimit.IntakeLimiter
	obsMetrics     *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin            *gin.Engine
	Cfg            config.Config
	CommissionCfg  *config.CommissionConfigHolder
	Clock          clock.Clock
	AffiliateSvc   affiliatedomain.Service
	AttributionSvc attributiondomain.Service
	RuleSvc        ruledomain.Service
	LedgerSvc      ledgerdomain.Service
	WithdrawalSvc  withdrawaldomain.Service
	IntakeSvc      intakedomain.Service
	AuditSvc       auditdomain.Service
	IntakeLimiter  *ratelimit.IntakeLimiter `optional:"true"`
	ObsMetrics     *obsmetrics.Metrics      `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:         p.Gin,
		cfg:            p.Cfg,
		commissionCfg:  p.CommissionCfg,
		clock:          p.Clock,
		affiliateSvc:   p.AffiliateSvc,
		attributionSvc: p.AttributionSvc,
		ruleSvc:        p.RuleSvc,
		ledgerSvc:      p.LedgerSvc,
		withdrawalSvc:  p.WithdrawalSvc,
		intakeSvc:      p.IntakeSvc,
		auditSvc:       p.AuditSvc,
		intakeLimiter:  p.IntakeLimiter,
		obsMetrics:     p.ObsMetrics,
	}

	svc.RegisterAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) RegisterAPIRoutes() {
	api := s.engine.Group("/api")
	api.Use(ActorContext())

	api.POST("/affiliates", s.CreateAffiliate)
	api.GET("/affiliates", s.ListAffiliates)
	api.GET("/affiliates/:id", s.GetAffiliate)
	api.POST("/affiliates/:id/attach", s.AttachAffiliate)
	api.PATCH("/affiliates/:id/status", s.UpdateAffiliateStatus)
	api.GET("/affiliates/:id/ancestors", s.AffiliateAncestors)
	api.GET("/affiliates/:id/balance", s.AffiliateBalance)

	api.POST("/attributions", s.CaptureAttribution)
	api.GET("/attributions/:visitor_id", s.GetAttribution)

	api.POST("/commission-rules", s.PublishCommissionRules)
	api.GET("/commission-rules", s.ListCommissionRules)

	api.GET("/commissions", s.ListCommissions)
	api.POST("/commissions/fail", s.FailCommissions)

	api.POST("/events/order-completed", s.IntakeRateLimit(), s.IngestOrderCompleted)

	api.POST("/withdrawals", s.RequestWithdrawal)
	api.GET("/withdrawals", s.ListWithdrawals)
	api.GET("/withdrawals/:id", s.GetWithdrawal)
	api.POST("/withdrawals/:id/approve", s.ApproveWithdrawal)
	api.POST("/withdrawals/:id/reject", s.RejectWithdrawal)
	api.POST("/withdrawals/:id/pay", s.PayWithdrawal)

	api.GET("/audit-logs", s.ListAuditLogs)
}
