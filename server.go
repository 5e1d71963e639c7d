package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"pairchat/internal/auth"
	"pairchat/internal/chat"
	"pairchat/internal/config"
	"pairchat/internal/db"
	grpcserver "pairchat/internal/grpc"
	"pairchat/internal/handlers"
	"pairchat/internal/logging"
	"pairchat/internal/middleware"
	"pairchat/internal/observability"
	"pairchat/internal/rabbitmq"
	"pairchat/internal/repositories"
	"pairchat/internal/telemetry"
	"pairchat/internal/ws"
)

const (
	auditRoutingKey = "audit.chat"
	shutdownTimeout = 10 * time.Second
	limiterIdleTTL  = 10 * time.Minute
)

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.Env)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	shutdownTracing, err := observability.InitTracing(ctx, serviceName, appConfig.OTelEndpoint, logger)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("tracer shutdown", zap.Error(err))
		}
	}()

	database, err := db.Connect(ctx, appConfig.DatabaseDSN, logger)
	if err != nil {
		return err
	}
	defer database.Close()

	publisher := rabbitmq.NewPublisher(appConfig.AMQPURL, appConfig.AMQPExchange, logger)
	defer publisher.Close() //nolint:errcheck
	logger.Info("event publisher ready",
		zap.String("mode", rabbitmq.PublisherMode(publisher)),
		zap.String("noop_reason", rabbitmq.PublisherNoopReason(publisher)))
	audits := telemetry.NewAuditEmitter(publisher, auditRoutingKey, serviceName, appConfig.Env, logger)

	sessions, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        appConfig.Issuer,
		CookieName:    appConfig.CookieName,
	})
	if err != nil {
		return err
	}

	hub := ws.NewHub(logger)
	registry := ws.NewRegistry(ws.RegistryConfig{GracePeriod: appConfig.GracePeriod, Logger: logger})

	service, err := chat.NewService(chat.Dependencies{
		Chats:    repositories.NewChatRepo(database),
		Messages: repositories.NewMessageRepo(database),
		Unread:   repositories.NewUnreadRepo(database),
		Blocks:   repositories.NewBlockRepo(database),
		Users:    repositories.NewUserRepo(database),
		Rooms:    hub,
		Events:   publisher,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	service.SetConnections(registry)
	registry.SetPresenceListener(service)

	sendLimiter := middleware.NewRateLimiter(rate.Limit(appConfig.MessagesPerSecond), appConfig.Burst, limiterIdleTTL)
	sendLimiter.Start(time.Minute)
	defer sendLimiter.Stop()

	router := newRouter(routerDeps{
		Config:      appConfig,
		Logger:      logger,
		Pinger:      database,
		Sessions:    sessions,
		Chats:       handlers.NewChatHandler(service, audits, logger),
		SendLimiter: sendLimiter,
		Live: ws.NewChatWebSocketHandler(ws.HandlerConfig{
			Hub:               hub,
			Registry:          registry,
			Service:           service,
			Auth:              sessions,
			Events:            publisher,
			Logger:            logger,
			MessagesPerSecond: appConfig.MessagesPerSecond,
			Burst:             appConfig.Burst,
			AllowedOrigins:    appConfig.AllowedOrigins,
		}),
	})

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	healthServer := grpcserver.NewHealthServer(database, 10*time.Second, logger)
	grpcListener, err := net.Listen("tcp", appConfig.GRPCAddress)
	if err != nil {
		return err
	}

	errCh := make(chan error, 2)
	go func() {
		if err := healthServer.Serve(signalCtx, grpcListener); err != nil {
			errCh <- err
		}
	}()
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var serveErr error
	select {
	case <-signalCtx.Done():
		logger.Info("shutdown requested")
	case serveErr = <-errCh:
		logger.Error("server failed", zap.Error(serveErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	healthServer.Stop()
	registry.Close()
	return serveErr
}
