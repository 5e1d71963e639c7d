package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"pairchat/internal/config"
	"pairchat/internal/handlers"
	"pairchat/internal/middleware"
	"pairchat/internal/observability"
)

type pinger interface {
	PingContext(ctx context.Context) error
}

type routerDeps struct {
	Config      config.AppConfig
	Logger      *zap.Logger
	Pinger      pinger
	Sessions    middleware.Authenticator
	Chats       *handlers.ChatHandler
	SendLimiter *middleware.RateLimiter
	Live        interface{ Handle(c *gin.Context) }
}

func newRouter(deps routerDeps) *gin.Engine {
	if deps.Config.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(corsConfig(deps.Config.AllowedOrigins)))
	router.Use(otelgin.Middleware(serviceName))
	router.Use(observability.RequestIDMiddleware())
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/metrics", observability.Handler())
	router.GET("/healthz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := deps.Pinger.PingContext(ctx); err != nil {
			deps.Logger.Warn("health check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/ws", deps.Live.Handle)

	authenticated := router.Group("/", middleware.AuthMiddleware(deps.Sessions))
	var sendLimit gin.HandlerFunc
	if deps.SendLimiter != nil {
		sendLimit = middleware.PerUser(deps.SendLimiter)
	}
	deps.Chats.Register(authenticated, sendLimit)
	if deps.Config.Env == "dev" {
		deps.Chats.RegisterDebug(authenticated)
	}

	return router
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Request-Id", "X-Device-Id"},
		ExposeHeaders:    []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	for _, origin := range origins {
		if origin == "*" {
			cfg.AllowOriginFunc = func(string) bool { return true }
			return cfg
		}
	}
	cfg.AllowOrigins = origins
	if len(cfg.AllowOrigins) == 0 {
		cfg.AllowOriginFunc = func(string) bool { return false }
	}
	return cfg
}
