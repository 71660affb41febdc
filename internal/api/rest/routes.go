package rest

import (
	"github.com/Dhoini/channel-gatekeeper/internal/api/rest/handlers"
	"github.com/Dhoini/channel-gatekeeper/internal/api/rest/middleware"
	"github.com/Dhoini/channel-gatekeeper/internal/metrics"
	"github.com/Dhoini/channel-gatekeeper/internal/service"
	"github.com/Dhoini/channel-gatekeeper/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterDeps collects what the HTTP layer needs. Optional parts disable their
// routes when nil or empty.
type RouterDeps struct {
	Log         *logger.Logger
	Registry    *prometheus.Registry
	HTTPMetrics metrics.HTTPMetrics
	Clock       service.Clock

	Confirmer   handlers.PaymentConfirmer
	Sweeper     handlers.SweepRunner
	Checkout    handlers.CheckoutCreator
	Welcomer    handlers.Welcomer
	Subscribers handlers.SubscriberReader

	// InstamojoWebhooks enables POST /instamojo-webhook
	InstamojoWebhooks bool
	// StripeWebhooks enables POST /stripe-webhook when set
	StripeWebhooks handlers.WebhookParser

	BaseURL    string
	PriceINR   int
	CronSecret string
	// JWTSecret enables /admin when set
	JWTSecret string
}

// SetupRouter настраивает маршрутизатор Gin с маршрутами и middleware
func SetupRouter(deps RouterDeps) *gin.Engine {
	log := deps.Log
	if deps.Clock == nil {
		deps.Clock = service.RealClock()
	}

	r := gin.New()

	// Подключение middleware
	r.Use(middleware.LoggerMiddleware(log, deps.HTTPMetrics))
	r.Use(gin.Recovery())

	// Endpoint для проверки работоспособности сервиса
	r.GET("/", handlers.HealthCheck)
	r.GET("/health", handlers.HealthCheck)

	// Prometheus метрики
	if deps.Registry != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{})))
	}

	// Вебхуки платежных провайдеров
	webhookHandler := handlers.NewWebhookHandler(deps.Confirmer, deps.StripeWebhooks, log)
	if deps.InstamojoWebhooks {
		r.POST("/instamojo-webhook", webhookHandler.HandleInstamojoWebhook)
	}
	if deps.StripeWebhooks != nil {
		r.POST("/stripe-webhook", webhookHandler.HandleStripeWebhook)
	}

	expiryHandler := handlers.NewExpiryHandler(deps.Sweeper, deps.CronSecret, deps.Clock, log)
	r.GET("/run-expiry", expiryHandler.RunExpiry)
	r.POST("/run-expiry", expiryHandler.RunExpiry)

	if deps.Welcomer != nil {
		telegramHandler := handlers.NewTelegramHandler(deps.Welcomer, deps.BaseURL, deps.PriceINR, log)
		r.POST("/telegram-webhook", telegramHandler.HandleUpdate)
	}

	if deps.Checkout != nil {
		payHandler := handlers.NewPayHandler(deps.Checkout, log)
		r.GET("/pay", payHandler.Pay)
	}
	r.GET("/payment-return", handlers.PaymentReturn)

	if deps.JWTSecret != "" && deps.Subscribers != nil {
		auth := middleware.NewJWTMiddleware(log, &middleware.DefaultTokenValidator{Secret: []byte(deps.JWTSecret)})
		adminHandler := handlers.NewAdminHandler(deps.Subscribers, log)

		admin := r.Group("/admin", auth.RequireAuth(middleware.ScopeAdmin))
		{
			admin.GET("/subscribers", adminHandler.ListSubscribers)
			admin.GET("/subscribers/:identity", adminHandler.GetSubscriber)
		}
	} else {
		log.Info("Admin endpoints disabled: JWT secret not configured")
	}

	return r
}
