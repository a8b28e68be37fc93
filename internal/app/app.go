package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"cnpj-relay-go/internal/auth"
	"cnpj-relay-go/internal/config"
	"cnpj-relay-go/internal/db"
	"cnpj-relay-go/internal/handler"
	"cnpj-relay-go/internal/metrics"
	"cnpj-relay-go/internal/middleware"
	"cnpj-relay-go/internal/relay"
	"cnpj-relay-go/internal/repository"
	"cnpj-relay-go/internal/router"
	"cnpj-relay-go/internal/scheduler"
)

// ConfigureLogging applies the log format and level
func ConfigureLogging(cfg config.LogConfig) {
	if strings.EqualFold(cfg.Format, "text") {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		logrus.Warnf("Unknown log level %q, using info", cfg.Level)
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
}

// Run initializes and starts the application
func Run(cfg *config.Config) error {
	logrus.Info("Starting CNPJ Webhook Relay")

	dbConn, err := db.Init(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer func() {
		if sqlDB, err := dbConn.DB(); err == nil {
			sqlDB.Close()
		}
	}()

	repo := repository.New(dbConn)
	m := metrics.NewMetrics(prometheus.DefaultRegisterer)
	resolver := auth.NewJWTResolver(cfg.Auth)

	if !cfg.Relay.ResolveGuard {
		logrus.Warn("Destination address guard is disabled; hostnames resolving to private addresses will be contacted")
	}
	forwarder := relay.NewForwarder(relay.NewHTTPClient(cfg.Relay.ResolveGuard), cfg.Relay.MaxResponseBytes)

	svc := relay.NewService(resolver, repo, repo, forwarder, m, relay.Options{
		SendTimeout:     cfg.Relay.SendTimeout,
		ReceiveTimeout:  cfg.Relay.ReceiveTimeout,
		MaxPayloadBytes: cfg.Relay.MaxPayloadBytes,
	})

	sched := scheduler.NewScheduler(cfg.Retention, repo, m)

	var relayMiddleware []gin.HandlerFunc
	if cfg.RateLimit.RPS > 0 {
		limiter := middleware.NewRateLimiter(rate.Limit(cfg.RateLimit.RPS), cfg.RateLimit.Burst)
		defer limiter.Close()
		relayMiddleware = append(relayMiddleware, limiter.Handler())
	}

	h := handler.NewHandlers(svc, repo, resolver, sched, cfg.Retention, prometheus.DefaultGatherer, cfg.Relay.MaxBodyBytes)
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router.WithCORS(router.SetupRouter(h, relayMiddleware...)),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	if cfg.Retention.Days > 0 {
		if err := sched.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	} else {
		logrus.Info("Log retention disabled")
	}

	serverErr := make(chan error, 1)
	go func() {
		logrus.Infof("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case <-quit:
	case err := <-serverErr:
		runErr = fmt.Errorf("HTTP server error: %w", err)
	}

	logrus.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := sched.Stop(); err != nil {
		logrus.Errorf("Failed to stop scheduler: %v", err)
	}
	sched.Wait()

	if err := srv.Shutdown(ctx); err != nil {
		logrus.Errorf("HTTP server shutdown error: %v", err)
	}

	// failure logs started by in-flight requests
	svc.Wait()

	logrus.Info("Server stopped gracefully")
	return runErr
}
