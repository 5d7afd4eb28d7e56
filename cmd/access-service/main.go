package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/medrex/consent-ledger/internal/httpapi"
	"github.com/medrex/consent-ledger/internal/service"
	"github.com/medrex/consent-ledger/pkg/config"
	"github.com/medrex/consent-ledger/pkg/logger"
	"github.com/medrex/consent-ledger/pkg/monitoring"
	"github.com/medrex/consent-ledger/pkg/types"
)

const serviceName = "access-service"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel)
	log.WithComponent(serviceName).Info("Starting consent ledger access service")

	health := monitoring.NewHealthManager(serviceName)
	var metrics *monitoring.MetricsCollector
	if cfg.Monitoring.Enabled {
		metrics = monitoring.NewMetricsCollector(serviceName)
	}

	backend, err := service.OpenBackend(context.Background(), cfg, log, health)
	if err != nil {
		log.WithError(err).Fatal("Failed to open ledger store")
	}
	defer backend.Close()

	svc, err := service.New(backend.Store, service.Options{
		Administrator: types.Principal(cfg.Ledger.Administrator),
		AuditWriter:   types.Principal(cfg.Ledger.AuditWriter),
		Clock:         types.SystemClock{},
		Logger:        log,
		Metrics:       metrics,
	})
	if err != nil {
		log.WithError(err).Fatal("Failed to create ledger service")
	}

	var limiter *httpapi.RateLimiter
	if cfg.Server.RateLimitPerSecond > 0 {
		limiter = httpapi.NewRateLimiter(cfg.Server.RateLimitPerSecond, cfg.Server.RateLimitBurst)
		limiter.StartCleanup(time.Minute)
		defer limiter.Stop()
	}

	router := httpapi.NewRouter(svc, httpapi.RouterOptions{
		Validator:   httpapi.NewTokenValidator(cfg.JWT.SecretKey, cfg.JWT.Issuer, cfg.JWT.Audience),
		Logger:      log,
		Metrics:     metrics,
		Health:      health,
		HealthPath:  cfg.Monitoring.HealthPath,
		MetricsPath: cfg.Monitoring.MetricsPath,

		RateLimiter:  limiter,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	go func() {
		log.WithField("address", server.Addr).Info("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("Failed to start HTTP server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down access service...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Error("Server forced to shutdown")
	}

	log.WithField("uptime", svc.Uptime().String()).Info("Access service stopped")
}
