package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/devrev/ringkv/internal/config"
	"github.com/devrev/ringkv/internal/handler"
	"github.com/devrev/ringkv/internal/health"
	"github.com/devrev/ringkv/internal/metrics"
	"github.com/devrev/ringkv/internal/model"
	"github.com/devrev/ringkv/internal/registry"
	"github.com/devrev/ringkv/internal/server"
	"github.com/devrev/ringkv/internal/service"
	"github.com/devrev/ringkv/internal/storage/diskmanager"
	"github.com/devrev/ringkv/internal/storage/filestore"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config.yaml"
	}

	cfg, err := config.LoadConfig(configPath)
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

	logger = logger.With(zap.String("node", cfg.Server.NodeName))
	logger.Info("Configuration loaded",
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.String("cache_strategy", cfg.Cache.Strategy),
		zap.Int("cache_size", cfg.Cache.Size))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("Storage node failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(cfg.Server.NodeName, promRegistry)

	dataDir := cfg.NodeDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	disk, err := diskmanager.New(&diskmanager.Config{
		DataDir:                 dataDir,
		CheckInterval:           cfg.Storage.DiskCheckInterval,
		WarningThreshold:        cfg.Storage.DiskWarningPercent,
		CircuitBreakerThreshold: cfg.Storage.DiskCriticalPercent,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize disk manager: %w", err)
	}

	store, err := filestore.Open(dataDir, disk, logger)
	if err != nil {
		return err
	}

	self := model.NewNodeDescriptor(cfg.Server.NodeName, cfg.Server.AdvertiseHost, cfg.Server.Port)
	node, err := service.NewStorageService(store, service.CacheConfig{
		Strategy: cfg.CacheStrategy(),
		Size:     cfg.Cache.Size,
	}, self, m, logger)
	if err != nil {
		return err
	}
	node.SetMigrationService(service.NewMigrationService(service.MigrationConfig{
		DialTimeout:    cfg.Migration.DialTimeout,
		RequestTimeout: cfg.Migration.RequestTimeout,
		RateLimit:      cfg.Migration.RateLimit,
		Burst:          cfg.Migration.Burst,
	}, m, logger))

	record := model.RegistryRecord{
		NodeName: cfg.Server.NodeName,
		NodeHost: cfg.Server.AdvertiseHost,
		NodePort: cfg.Server.Port,
	}

	var gossipSvc *service.GossipService
	if cfg.Gossip.Enabled {
		gs, err := service.NewGossipService(&service.GossipConfig{
			Enabled:        cfg.Gossip.Enabled,
			BindPort:       cfg.Gossip.BindPort,
			SeedNodes:      cfg.Gossip.SeedNodes,
			GossipInterval: cfg.Gossip.GossipInterval,
			ProbeTimeout:   cfg.Gossip.ProbeTimeout,
			ProbeInterval:  cfg.Gossip.ProbeInterval,
		}, record, m, logger)
		if err != nil {
			logger.Error("Failed to initialize gossip service", zap.Error(err))
		} else {
			gossipSvc = gs
			defer gossipSvc.Shutdown()
			node.OnWriteLockChange(gossipSvc.SetWriteLocked)
			logger.Info("Gossip service initialized")
		}
	}

	checker := health.NewHealthChecker(&health.HealthCheckConfig{
		NodeName:        cfg.Server.NodeName,
		DataDir:         dataDir,
		Interval:        cfg.Health.CheckInterval,
		WarningPercent:  cfg.Storage.DiskWarningPercent,
		CriticalPercent: cfg.Storage.DiskCriticalPercent,
	}, logger)
	go checker.Start(ctx)

	kvServer := server.NewKVServer(server.KVServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		MaxConnections:  cfg.Server.MaxConnections,
		Backlog:         cfg.Server.Backlog,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, handler.NewConnectionHandler(node, m, logger), m, logger)
	if err := kvServer.Listen(); err != nil {
		return err
	}

	var adminDisk *diskmanager.DiskManager
	if cfg.Metrics.Enabled {
		adminDisk = disk
	}
	admin := server.NewAdminServer(&server.AdminServerConfig{
		Host:              cfg.Server.Host,
		Port:              cfg.Server.AdminPort,
		DiskStatsInterval: cfg.Metrics.DiskStatsInterval,
	}, node, checker, adminDisk, promRegistry, m, logger)
	if gossipSvc != nil {
		admin.SetGossip(gossipSvc)
	}
	if err := admin.Start(); err != nil {
		return err
	}

	if cfg.Server.HealthPort > 0 {
		hs := server.NewHealthServer(node, logger)
		if err := hs.Listen(cfg.Server.Host, cfg.Server.HealthPort); err != nil {
			return err
		}
		go func() {
			if err := hs.Serve(); err != nil {
				logger.Error("gRPC health server failed", zap.Error(err))
			}
		}()
		defer hs.Stop()
	}

	reg, err := registry.Open(cfg.Registry.Backend, registry.RedisOptions{
		Addr:     cfg.Registry.Addr,
		Password: cfg.Registry.Password,
		DB:       cfg.Registry.DB,
		Prefix:   cfg.Registry.Prefix,
	}, logger)
	if err != nil {
		return err
	}
	if reg != nil {
		defer reg.Close()
		if err := registry.RegisterNode(ctx, reg, record); err != nil {
			return fmt.Errorf("failed to register node: %w", err)
		}
		logger.Info("Registered node", zap.String("path", registry.NodePath(record.NodeName)))
	}

	logger.Info("Storage node started", zap.String("addr", kvServer.Addr().String()))
	serveErr := kvServer.Serve(ctx)

	logger.Info("Shutting down gracefully...")
	checker.SetDraining(true)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if reg != nil {
		if err := registry.UnregisterNode(shutdownCtx, reg, record.NodeName); err != nil {
			logger.Warn("Failed to unregister node", zap.Error(err))
		}
	}
	if err := admin.Stop(shutdownCtx); err != nil {
		logger.Warn("Admin server shutdown incomplete", zap.Error(err))
	}
	if err := kvServer.Shutdown(); err != nil {
		logger.Warn("Client listener shutdown incomplete", zap.Error(err))
	}

	logger.Info("Storage node stopped", zap.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout))
	return serveErr
}
