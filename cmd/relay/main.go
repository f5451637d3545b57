package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hivemesh/relay/internal/authz"
	"github.com/hivemesh/relay/internal/config"
	"github.com/hivemesh/relay/internal/heartbeat"
	"github.com/hivemesh/relay/internal/hub"
	"github.com/hivemesh/relay/internal/metrics"
	"github.com/hivemesh/relay/internal/model"
	"github.com/hivemesh/relay/internal/registry"
	"github.com/hivemesh/relay/internal/server"
	"github.com/hivemesh/relay/internal/store"
)

func main() {
	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}

	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	logger.Info("Starting relay service",
		zap.String("node_id", cfg.Server.NodeID),
		zap.Int("port", cfg.Server.Port),
		zap.String("message_log_backend", cfg.MessageLog.Backend),
		zap.String("cache_backend", cfg.Cache.Backend),
		zap.String("authz_backend", cfg.Authz.Backend))

	// Initialize metrics
	m := metrics.NewMetrics()
	logger.Info("Metrics initialized")

	// Initialize message log
	messageLog, pgLog, err := buildMessageLog(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize message log", zap.Error(err))
	}
	defer messageLog.Close()
	logger.Info("Message log initialized", zap.String("backend", cfg.MessageLog.Backend))

	// Initialize permission store
	permissionStore, err := buildPermissionStore(cfg, pgLog, logger)
	if err != nil {
		logger.Fatal("Failed to initialize permission store", zap.Error(err))
	}
	defer permissionStore.Close()
	logger.Info("Permission store initialized", zap.String("backend", cfg.Authz.Backend))

	// Initialize decision cache
	cache, err := buildDecisionCache(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize decision cache", zap.Error(err))
	}
	logger.Info("Decision cache initialized", zap.String("backend", cfg.Cache.Backend))

	// Initialize authorization engine
	engine := authz.NewEngine(permissionStore, cache, cfg.Cache.TTL, logger)
	logger.Info("Authorization engine initialized")

	// Initialize connection hub
	reg := registry.NewTenantRegistry(logger)
	hubCfg := &hub.Config{
		Echo:           cfg.Hub.Echo,
		ConnectTimeout: cfg.Hub.ConnectTimeout,
		OutboundBuffer: cfg.Hub.OutboundBuffer,
	}
	connectionHub := hub.NewHub(hubCfg, reg, engine, messageLog, nil, logger)
	logger.Info("Connection hub initialized")

	// Initialize heartbeat monitor
	monitorCfg := &heartbeat.Config{
		DegradedThreshold: cfg.Heartbeat.DegradedThreshold,
		OfflineThreshold:  cfg.Heartbeat.OfflineThreshold,
		SweepInterval:     cfg.Heartbeat.SweepInterval,
	}
	monitor, err := heartbeat.NewMonitor(monitorCfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize heartbeat monitor", zap.Error(err))
	}
	monitor.Subscribe(func(event model.StatusEvent) {
		m.RecordStatusTransition(string(event.Type))
		logger.Info("Peer status transition",
			zap.String("event", string(event.Type)),
			zap.String("peer_id", event.PeerID),
			zap.Time("last_seen_at", event.LastSeenAt))
	})
	logger.Info("Heartbeat monitor initialized",
		zap.Duration("degraded_threshold", cfg.Heartbeat.DegradedThreshold),
		zap.Duration("offline_threshold", cfg.Heartbeat.OfflineThreshold))

	// Optionally feed the monitor from cluster gossip
	var gossip *heartbeat.GossipSource
	if cfg.Gossip.Enabled {
		gossipCfg := &heartbeat.GossipConfig{
			Enabled:        true,
			NodeID:         cfg.Server.NodeID,
			BindPort:       cfg.Gossip.BindPort,
			SeedNodes:      cfg.Gossip.SeedNodes,
			GossipInterval: cfg.Gossip.GossipInterval,
			ProbeTimeout:   cfg.Gossip.ProbeTimeout,
			ProbeInterval:  cfg.Gossip.ProbeInterval,
		}
		gossip, err = heartbeat.NewGossipSource(gossipCfg, monitor, logger)
		if err != nil {
			logger.Fatal("Failed to initialize gossip source", zap.Error(err))
		}
		logger.Info("Gossip source initialized", zap.Int("bind_port", cfg.Gossip.BindPort))
	}

	// Initialize HTTP server
	srv := server.NewServer(cfg, server.Deps{
		Hub:             connectionHub,
		Engine:          engine,
		Monitor:         monitor,
		MessageLog:      messageLog,
		PermissionStore: permissionStore,
		Cache:           cache,
		Metrics:         m,
	}, logger)
	srv.SetupRoutes()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	// HTTP server
	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	// Heartbeat sweeper
	g.Go(func() error {
		return monitor.Run(gctx)
	})

	// Metrics server
	if cfg.Metrics.Enabled {
		metricsServer := &http.Server{
			Addr: fmt.Sprintf(":%d", cfg.Metrics.Port),
		}
		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.Metrics.Path, promhttp.Handler())
		metricsServer.Handler = metricsMux

		g.Go(func() error {
			logger.Info("Starting metrics server", zap.String("address", metricsServer.Addr))
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return metricsServer.Shutdown(shutdownCtx)
		})
	}

	logger.Info("Relay service started")

	if err := g.Wait(); err != nil && err != context.Canceled {
		logger.Error("Service error", zap.Error(err))
	}

	// Graceful shutdown
	logger.Info("Shutting down gracefully")

	connectionHub.Shutdown()
	if gossip != nil {
		if err := gossip.Shutdown(); err != nil {
			logger.Warn("Gossip shutdown failed", zap.Error(err))
		}
	}
	if err := monitor.Stop(5 * time.Second); err != nil {
		logger.Warn("Monitor stop timed out", zap.Error(err))
	}

	logger.Info("Relay service stopped")
}

func buildLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	zapCfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	}
	if cfg.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		zapCfg.Level = level
	}
	return zapCfg.Build()
}

// buildMessageLog returns the configured message log. The second return
// value is non-nil only for the Postgres backend so its pool can be shared.
func buildMessageLog(cfg *config.Config, logger *zap.Logger) (store.MessageLog, *store.PostgresMessageLog, error) {
	switch cfg.MessageLog.Backend {
	case "postgres":
		pgLog, err := store.NewPostgresMessageLog(
			cfg.Database.Host,
			cfg.Database.Port,
			cfg.Database.Database,
			cfg.Database.User,
			cfg.Database.Password,
			cfg.Database.MaxConnections,
			cfg.Database.MinConnections,
			logger,
		)
		if err != nil {
			return nil, nil, err
		}
		return pgLog, pgLog, nil
	case "tarantool":
		ttLog, err := store.NewTarantoolMessageLog(&store.TarantoolConfig{
			Address:  cfg.Tarantool.Address,
			User:     cfg.Tarantool.User,
			Password: cfg.Tarantool.Password,
			Timeout:  cfg.Tarantool.Timeout,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return ttLog, nil, nil
	default:
		return store.NewInMemoryMessageLog(logger), nil, nil
	}
}

func buildPermissionStore(cfg *config.Config, pgLog *store.PostgresMessageLog, logger *zap.Logger) (store.PermissionStore, error) {
	if cfg.Authz.Backend == "postgres" {
		if pgLog != nil {
			return store.NewPostgresPermissionStore(pgLog.GetPool(), logger), nil
		}
		pool, err := store.NewPostgresPool(
			cfg.Database.Host,
			cfg.Database.Port,
			cfg.Database.Database,
			cfg.Database.User,
			cfg.Database.Password,
			cfg.Database.MaxConnections,
			cfg.Database.MinConnections,
		)
		if err != nil {
			return nil, err
		}
		return store.NewPostgresPermissionStore(pool, logger), nil
	}

	grants := make(map[model.Role][]model.Permission)
	if cfg.Authz.RolesFile != "" {
		loaded, err := config.LoadRoles(cfg.Authz.RolesFile)
		if err != nil {
			return nil, err
		}
		grants = loaded
	}
	return store.NewInMemoryPermissionStore(grants, logger), nil
}

func buildDecisionCache(cfg *config.Config, logger *zap.Logger) (store.DecisionCache, error) {
	if cfg.Cache.Backend == "redis" {
		return store.NewRedisDecisionCache(
			cfg.Redis.Host,
			cfg.Redis.Port,
			cfg.Redis.Password,
			cfg.Redis.DB,
			logger,
		)
	}
	return store.NewInMemoryDecisionCache(cfg.Cache.MaxSize, logger), nil
}
