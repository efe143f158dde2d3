package delivery

import (
	"adengine/internal/delivery/middleware"
	"adengine/pkg/config"
	"adengine/pkg/logger"
	"adengine/pkg/metrics"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

type HTTPRouter struct {
	handlers *HTTPHandlers
	server   config.ServerConfig
	logger   *logger.Logger
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
}

func NewHTTPRouter(handlers *HTTPHandlers, server config.ServerConfig, logger *logger.Logger, metrics *metrics.Metrics, gatherer prometheus.Gatherer) *HTTPRouter {
	return &HTTPRouter{
		handlers: handlers,
		server:   server,
		logger:   logger,
		metrics:  metrics,
		gatherer: gatherer,
	}
}

func (r *HTTPRouter) SetupRoutes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(r.logger))
	router.Use(middleware.Recovery(r.logger))
	router.Use(middleware.Metrics(r.metrics))
	router.Use(middleware.Timeout(r.server.RequestTimeout))

	// the delivery snippet runs on publisher pages
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Content-Type", "X-Request-ID", "X-Account-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}

	router.Use(cors.New(corsConfig))

	// Health endpoint
	router.GET("/health", r.handlers.HealthCheck)

	v1 := router.Group("/api/v1")
	{
		slots := v1.Group("/slots/:slotKey")
		{
			slots.GET("/ad", r.handlers.ServeAd)
			slots.POST("/track", middleware.RateLimit(r.server.TrackRateLimit, r.server.TrackRateBurst), r.handlers.TrackEvent)
		}

		// Reporting endpoints
		ads := v1.Group("/ads/:id", middleware.AccountID())
		{
			ads.GET("/stats", r.handlers.GetAdStats)
			ads.GET("/activity", r.handlers.GetAdActivity)
		}
	}

	// Prometheus metrics endpoint
	router.GET("/metrics", middleware.PrometheusHandler(r.gatherer))

	return router
}
