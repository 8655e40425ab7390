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

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/devrev/ringkv/internal/config"
	"github.com/devrev/ringkv/internal/metrics"
	"github.com/devrev/ringkv/internal/registry"
	"github.com/devrev/ringkv/internal/service"
)

func main() {
	cfg, err := config.LoadDetectorConfig(os.Getenv("CONFIG_PATH"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := cfg.Logging.BuildLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg, err := registry.Open(cfg.Registry.Backend, registry.RedisOptions{
		Addr:     cfg.Registry.Addr,
		Password: cfg.Registry.Password,
		DB:       cfg.Registry.DB,
		Prefix:   cfg.Registry.Prefix,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to connect to registry", zap.Error(err))
	}
	defer reg.Close()

	promRegistry := prometheus.NewRegistry()
	m := metrics.NewDetectorMetrics(promRegistry)

	fd, err := service.NewFailureDetector(ctx, reg, service.FailureDetectorConfig{
		Interval:     cfg.Interval,
		ProbeTimeout: cfg.ProbeTimeout,
		Concurrency:  cfg.Concurrency,
	}, m, logger)
	if err != nil {
		logger.Fatal("Failed to start failure detector", zap.Error(err))
	}

	if cfg.MetricsPort > 0 {
		router := mux.NewRouter()
		router.Handle("/metrics", promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
		httpServer := &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.MetricsPort),
			Handler:      router,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
		go func() {
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("Metrics server failed", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			httpServer.Shutdown(shutdownCtx)
		}()
	}

	if err := fd.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Failure detector stopped", zap.Error(err))
	}
}
