// Package server is the thin HTTP surface: gateway webhooks, manual payment
// verification, the admin subscription API and scheduler management. All
// domain decisions live in the services; handlers only translate.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/tably/internal/config"
	ledgerdomain "github.com/smallbiznis/tably/internal/ledger/domain"
	paymentdomain "github.com/smallbiznis/tably/internal/payment/domain"
	plandomain "github.com/smallbiznis/tably/internal/plan/domain"
	"github.com/smallbiznis/tably/internal/ratelimit"
	"github.com/smallbiznis/tably/internal/scheduler"
	subscriptiondomain "github.com/smallbiznis/tably/internal/subscription/domain"
	usagedomain "github.com/smallbiznis/tably/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func NewEngine(log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

type Server struct {
	engine          *gin.Engine
	cfg             config.Config
	log             *zap.Logger
	planSvc         plandomain.Service
	subscriptionSvc subscriptiondomain.Service
	ledgerSvc       ledgerdomain.Service
	usageSvc        usagedomain.Service
	paymentSvc      paymentdomain.Service
	webhookLimiter  *ratelimit.TokenBucket
	scheduler       *scheduler.Scheduler
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	Log             *zap.Logger
	PlanSvc         plandomain.Service
	SubscriptionSvc subscriptiondomain.Service
	LedgerSvc       ledgerdomain.Service
	UsageSvc        usagedomain.Service
	PaymentSvc      paymentdomain.Service
	WebhookLimiter  *ratelimit.TokenBucket `optional:"true"`
	Scheduler       *scheduler.Scheduler
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		log:             p.Log.Named("server"),
		planSvc:         p.PlanSvc,
		subscriptionSvc: p.SubscriptionSvc,
		ledgerSvc:       p.LedgerSvc,
		usageSvc:        p.UsageSvc,
		paymentSvc:      p.PaymentSvc,
		webhookLimiter:  p.WebhookLimiter,
		scheduler:       p.Scheduler,
	}
	svc.registerRoutes()
	return svc
}

func (s *Server) registerRoutes() {
	r := s.engine

	r.POST("/webhooks/razorpay", s.rateLimitWebhook(), s.HandleRazorpayWebhook)
	r.POST("/payments/verify", s.HandleVerifyPayment)

	r.GET("/plans", s.HandleListPlans)

	subs := r.Group("/subscriptions")
	{
		subs.POST("", s.HandleCreateSubscription)
		subs.GET("/:id", s.HandleGetSubscription)
		subs.GET("/:id/history", s.HandleGetPaymentHistory)
		subs.GET("/:id/usage", s.HandleGetUsage)
		subs.POST("/:id/cancel", s.HandleCancelSubscription)
		subs.POST("/:id/renew", s.HandleRenewSubscription)
		subs.POST("/:id/upgrade", s.HandleUpgradeSubscription)
		subs.PATCH("/:id/auto-renew", s.HandleSetAutoRenew)
	}

	sched := r.Group("/scheduler")
	{
		sched.GET("/status", s.HandleSchedulerStatus)
		sched.POST("/start", s.HandleSchedulerStart)
		sched.POST("/stop", s.HandleSchedulerStop)
		sched.POST("/jobs/:name/run", s.HandleSchedulerTrigger)
	}
}

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
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
