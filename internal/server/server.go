package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/voxbill/internal/billing"
	billingdomain "github.com/smallbiznis/voxbill/internal/billing/domain"
	"github.com/smallbiznis/voxbill/internal/cache"
	"github.com/smallbiznis/voxbill/internal/config"
	"github.com/smallbiznis/voxbill/internal/ingest"
	"github.com/smallbiznis/voxbill/internal/observability"
	obsmiddleware "github.com/smallbiznis/voxbill/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/voxbill/internal/observability/metrics"
	obstracing "github.com/smallbiznis/voxbill/internal/observability/tracing"
	"github.com/smallbiznis/voxbill/internal/ratelimit"
	"github.com/smallbiznis/voxbill/internal/subscription"
	"github.com/smallbiznis/voxbill/internal/telephony"
	"github.com/smallbiznis/voxbill/internal/tenant"
	tenantdomain "github.com/smallbiznis/voxbill/internal/tenant/domain"
	"github.com/smallbiznis/voxbill/internal/usage"
	usagedomain "github.com/smallbiznis/voxbill/internal/usage/domain"
	"github.com/smallbiznis/voxbill/internal/webhook"
	webhookdomain "github.com/smallbiznis/voxbill/internal/webhook/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const maxEventBytes = 1 << 20

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Provide(cache.NewResolverCache),
	tenant.Module,
	subscription.Module,
	usage.Module,
	billing.Module,
	webhook.Module,
	telephony.Module,
	ingest.Module,
	ratelimit.Module,
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
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
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
	engine *gin.Engine
	cfg    config.Config

	pipeline   *ingest.Pipeline
	tenantSvc  tenantdomain.Service
	usageSvc   usagedomain.Service
	billingSvc billingdomain.Service
	webhookSvc webhookdomain.Service

	guard      ratelimit.Guard
	policies   ratelimit.Policies
	obsMetrics *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	Pipeline   *ingest.Pipeline
	TenantSvc  tenantdomain.Service
	UsageSvc   usagedomain.Service
	BillingSvc billingdomain.Service
	WebhookSvc webhookdomain.Service
	Guard      ratelimit.Guard
	Policies   ratelimit.Policies
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine: p.Gin,
		cfg:    p.Cfg,

		pipeline:   p.Pipeline,
		tenantSvc:  p.TenantSvc,
		usageSvc:   p.UsageSvc,
		billingSvc: p.BillingSvc,
		webhookSvc: p.WebhookSvc,

		guard:      p.Guard,
		policies:   p.Policies,
		obsMetrics: p.ObsMetrics,
	}

	svc.RegisterTelephonyRoutes()
	svc.RegisterAPIRoutes()

	return svc
}

// RegisterTelephonyRoutes mounts provider callbacks. They carry no tenant header;
// the tenant is resolved from the event itself.
func (s *Server) RegisterTelephonyRoutes() {
	telephonyGroup := s.engine.Group("/v1/telephony")
	telephonyGroup.POST("/events", s.Admit(s.policies.Ingest, ingestAdmissionKey), s.IngestTelephonyEvent)
}

func (s *Server) RegisterAPIRoutes() {
	api := s.engine.Group("/v1")
	api.Use(OrgContext())

	mutationAdmission := s.Admit(s.policies.Mutation, orgAdmissionKey)
	usageGroup := api.Group("/usage")
	usageGroup.GET("/summary", s.GetUsageSummary)
	usageGroup.GET("/records", s.ListUsageRecords)
	usageGroup.POST("/records/:id/reverse", mutationAdmission, s.ReverseUsageRecord)

	api.POST("/phone-numbers", mutationAdmission, s.RegisterPhoneNumber)

	webhookAdmission := s.Admit(s.policies.Webhook, orgAdmissionKey)
	webhooks := api.Group("/webhooks")
	webhooks.GET("", s.ListWebhooks)
	webhooks.POST("", webhookAdmission, s.CreateWebhook)
	webhooks.GET("/:id", s.GetWebhook)
	webhooks.PATCH("/:id", webhookAdmission, s.UpdateWebhook)
	webhooks.DELETE("/:id", webhookAdmission, s.DeleteWebhook)
	webhooks.POST("/:id/test", webhookAdmission, s.TestWebhook)
	webhooks.POST("/:id/rotate-secret", webhookAdmission, s.RotateWebhookSecret)
}
