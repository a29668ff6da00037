// Package main provides the entry point for chatmesh-server.
//
// chatmesh-server is one node of a ChatMesh cluster: a federated chat
// service where every node accepts writes and the mesh converges
// through gossip replication.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/chatmesh/chatmesh-go/internal/core/service"
	"github.com/chatmesh/chatmesh-go/internal/fanout"
	"github.com/chatmesh/chatmesh-go/internal/gossip"
	"github.com/chatmesh/chatmesh-go/internal/infra/buildinfo"
	"github.com/chatmesh/chatmesh-go/internal/infra/confloader"
	"github.com/chatmesh/chatmesh-go/internal/infra/shutdown"
	"github.com/chatmesh/chatmesh-go/internal/server/config"
	"github.com/chatmesh/chatmesh-go/internal/server/httpserver"
	"github.com/chatmesh/chatmesh-go/internal/server/httpserver/handler"
	"github.com/chatmesh/chatmesh-go/internal/storage"
	"github.com/chatmesh/chatmesh-go/internal/telemetry/logger"
	"github.com/chatmesh/chatmesh-go/internal/telemetry/metric"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configFile  = flag.String("config", "", "Path to configuration file")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("chatmesh-server %s\n", buildinfo.String())
		return nil
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := initLogger(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	log.Info("starting chatmesh-server",
		"version", buildinfo.Version,
		"commit", buildinfo.Commit,
		"config", *configFile,
		"addr", cfg.Server.Addr,
	)

	metrics := metric.New()

	bus, err := initBus(cfg, log)
	if err != nil {
		return fmt.Errorf("init bus: %w", err)
	}
	fanoutMgr := fanout.NewManager(bus, log, metrics)

	auth, err := initAuth(cfg)
	if err != nil {
		return fmt.Errorf("init auth: %w", err)
	}

	tokens, err := initTokens(cfg, log)
	if err != nil {
		return fmt.Errorf("init tokens: %w", err)
	}

	// The gossip service is created lazily when the node initializes;
	// the handle is kept so config reloads can update the peer set.
	var (
		gossipMu  sync.Mutex
		gossipSvc *gossip.Service
	)

	node := service.NewNodeService(service.NodeConfig{
		DataDir:          cfg.Node.DataDir,
		SnapshotInterval: cfg.Node.SnapshotInterval,
		OpenStore: func(dir string) (service.Store, error) {
			store, err := storage.Open(storage.Config{
				Dir:        dir,
				SyncWrites: cfg.Node.SyncWrites,
				Logger:     log,
			})
			if err != nil {
				return nil, err
			}
			return store.RegisterMetrics(metrics.Registry()), nil
		},
		NewGossiper: func(nodeID string, store service.Store, state *service.State) service.Gossiper {
			svc := gossip.New(gossip.Config{
				NodeID:      nodeID,
				SelfURL:     cfg.Gossip.AdvertiseURL,
				Peers:       cfg.Gossip.Peers,
				Interval:    cfg.Gossip.Interval,
				Warmup:      cfg.Gossip.Warmup,
				PushTimeout: cfg.Gossip.PushTimeout,
				PullTimeout: cfg.Gossip.PullTimeout,
				PullFanout:  cfg.Gossip.PullFanout,
				PageSize:    cfg.Gossip.PageSize,
				Logger:      log,
				Metrics:     metrics,
			}, store, state)

			gossipMu.Lock()
			gossipSvc = svc
			gossipMu.Unlock()
			return svc
		},
		Publisher: fanoutMgr,
		Logger:    log,
		Metrics:   metrics,
	})

	ctx := context.Background()

	// Container deployments pin the identity up front; interactive ones
	// initialize at the first login instead. Startup failures here are
	// warnings, a later login retries initialization.
	if cfg.Node.ID != "" {
		if err := node.Initialize(ctx, cfg.Node.ID); err != nil {
			log.Warn("startup initialization failed, continuing uninitialized",
				"node_id", cfg.Node.ID, "error", err)
		}
	}

	httpHandler := handler.New(handler.Config{
		Node:      node,
		Auth:      auth,
		Tokens:    tokens,
		Fanout:    fanoutMgr,
		StaticDir: cfg.Server.StaticDir,
		Logger:    log,
	})

	router := httpserver.NewRouter(&httpserver.RouterConfig{
		Handler:            httpHandler,
		Tokens:             tokens,
		Metrics:            metrics,
		Logger:             log,
		CORSAllowedOrigins: cfg.Server.CORSAllowedOrigins,
		RateLimit:          cfg.Server.RateLimit,
		ServeStatic:        cfg.Server.StaticDir != "",
	})

	httpServer := httpserver.New(cfg.Server.Addr, router)

	watcher, err := watchConfig(*configFile, log, func(newCfg *config.Config) {
		logger.SetLevel(newCfg.Log.Level)
		gossipMu.Lock()
		if gossipSvc != nil {
			gossipSvc.SetPeers(newCfg.Gossip.Peers)
		}
		gossipMu.Unlock()
		log.Info("configuration reloaded", "peers", newCfg.Gossip.Peers)
	})
	if err != nil {
		log.Warn("config watcher unavailable, hot reload disabled", "error", err)
	}

	// Hooks run in reverse registration order: stop accepting HTTP
	// traffic first, then drain the node, then tear down the bus.
	shutdownHandler := shutdown.NewHandler(30 * time.Second)
	if watcher != nil {
		shutdownHandler.OnShutdown(func(ctx context.Context) error {
			return watcher.Stop()
		})
	}
	shutdownHandler.OnShutdown(func(ctx context.Context) error {
		log.Info("closing fanout bus")
		fanoutMgr.Close()
		return bus.Close()
	})
	shutdownHandler.OnShutdown(func(ctx context.Context) error {
		log.Info("shutting down node")
		return node.Shutdown(ctx)
	})
	shutdownHandler.OnShutdown(func(ctx context.Context) error {
		log.Info("shutting down HTTP server")
		return httpServer.Shutdown(ctx)
	})

	go func() {
		log.Info("HTTP server listening", "addr", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", "error", err)
		}
	}()

	if err := shutdownHandler.Wait(); err != nil {
		log.Error("shutdown error", "error", err)
		return err
	}

	log.Info("server stopped gracefully")
	return nil
}

// loadConfig loads configuration from defaults, file, and environment.
func loadConfig(configFile string) (*config.Config, error) {
	cfg := config.Default()

	opts := []confloader.Option{}
	if configFile != "" {
		opts = append(opts, confloader.WithConfigFile(configFile))
	}

	if err := confloader.NewLoader(opts...).Load(cfg); err != nil {
		return nil, err
	}

	if err := config.Verify(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// initLogger builds the structured logger and installs it as the
// package default.
func initLogger(cfg *config.Config) (logger.Logger, error) {
	log, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stdout,
	})
	if err != nil {
		return nil, err
	}
	logger.SetDefault(log)
	return log, nil
}

// initBus selects the cluster fanout bus implementation.
func initBus(cfg *config.Config, log logger.Logger) (fanout.Bus, error) {
	switch cfg.Bus.Kind {
	case "redis":
		return fanout.NewRedisBus(cfg.Bus.RedisURL, log)
	default:
		return fanout.NewMemoryBus(), nil
	}
}

// initAuth selects the credential provider behind /api/login.
func initAuth(cfg *config.Config) (service.Provider, error) {
	switch cfg.Auth.Backend {
	case "file":
		return service.NewFileProvider(cfg.Auth.UsersFile)
	default:
		return service.NewStaticProvider(nil), nil
	}
}

// initTokens builds the session token issuer. Without a configured
// secret a random one is generated, so tokens die with the process and
// other nodes cannot verify them.
func initTokens(cfg *config.Config, log logger.Logger) (*httpserver.TokenIssuer, error) {
	secret := []byte(cfg.Auth.TokenSecret)
	if len(secret) == 0 {
		raw := make([]byte, 32)
		if _, err := rand.Read(raw); err != nil {
			return nil, fmt.Errorf("generate token secret: %w", err)
		}
		secret = []byte(hex.EncodeToString(raw))
		log.Warn("auth.token_secret not set, generated a process-local secret; " +
			"tokens will not verify on other nodes or across restarts")
	}
	return httpserver.NewTokenIssuer(secret, cfg.Auth.TokenTTL), nil
}

// watchConfig starts a config file watcher that reloads and applies
// the hot-reloadable settings (log level, gossip peers). Returns nil
// without error when no config file is in use.
func watchConfig(configFile string, log logger.Logger, apply func(*config.Config)) (*confloader.Watcher, error) {
	if configFile == "" {
		return nil, nil
	}

	watcher, err := confloader.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Watch(configFile); err != nil {
		watcher.Stop()
		return nil, err
	}

	watcher.OnChange(func(path string) {
		cfg, err := loadConfig(configFile)
		if err != nil {
			log.Warn("config reload failed, keeping previous settings",
				"path", path, "error", err)
			return
		}
		apply(cfg)
	})

	watcher.StartAsync()
	return watcher, nil
}
