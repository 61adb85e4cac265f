// Package app wires the routing core together: storage, cache, chat
// usage accounting, the router, the batch controller, and the remote
// server health sweep.
package app

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/robfig/cron/v3"

	"content-router/internal/adapters"
	_ "content-router/internal/adapters/localfile"
	_ "content-router/internal/adapters/mcptool"
	_ "content-router/internal/adapters/todoist"
	_ "content-router/internal/adapters/webhook"
	"content-router/internal/batch"
	"content-router/internal/common/cache"
	commonhttp "content-router/internal/common/http"
	"content-router/internal/common/logging"
	"content-router/internal/config"
	"content-router/internal/llm"
	"content-router/internal/mapping"
	"content-router/internal/mcp"
	"content-router/internal/routing"
	"content-router/internal/storage"
	"content-router/internal/storage/postgres"
	"content-router/internal/storage/sqlite"
)

const healthCheckTimeout = 30 * time.Second

type App struct {
	Config     *config.Config
	Logger     logging.Logger
	Store      storage.Storage
	ToolCache  cache.Cache
	Recorder   *llm.UsageRecorder
	HTTPClient *http.Client
	Batch      *batch.Controller

	redisClient *redis.Client
	cron        *cron.Cron
}

func New(cfg *config.Config, logger logging.Logger) (*App, error) {
	app := &App{
		Config:     cfg,
		Logger:     logger,
		HTTPClient: commonhttp.NewHTTPClient(commonhttp.WithTimeout(healthCheckTimeout)),
	}

	store, err := openStorage(cfg)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	app.Store = store

	toolCache, err := app.openCache()
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("cache: %w", err)
	}
	app.ToolCache = toolCache

	app.Recorder = llm.NewUsageRecorder(store, cfg.UsageLogBuffer, logger)
	app.Batch = batch.NewController(store, app, cfg.BatchSize, cfg.BatchDelay, logger)

	app.cron = cron.New()
	if _, err := app.cron.AddFunc(cfg.HealthSweepSchedule, app.sweepRemoteServers); err != nil {
		app.Close()
		return nil, fmt.Errorf("health sweep schedule: %w", err)
	}

	return app, nil
}

func openStorage(cfg *config.Config) (storage.Storage, error) {
	switch cfg.DatabaseType {
	case "postgres", "postgresql":
		port, err := strconv.Atoi(cfg.PostgresPort)
		if err != nil {
			return nil, fmt.Errorf("invalid postgres port %q", cfg.PostgresPort)
		}
		return storage.Create("postgres", &postgres.Config{
			Host:     cfg.PostgresHost,
			Port:     port,
			Database: cfg.PostgresDB,
			Username: cfg.PostgresUser,
			Password: cfg.PostgresPassword,
			SSLMode:  cfg.PostgresSSLMode,
		})
	default:
		return storage.Create("sqlite", &sqlite.Config{
			DatabasePath: cfg.DatabasePath,
		})
	}
}

func (a *App) openCache() (cache.Cache, error) {
	cacheConfig := cache.DefaultConfig()
	cacheConfig.TTL = a.Config.ToolCacheTTL
	cacheConfig.KeyPrefix = "content-router:"

	if a.Config.RedisAddress != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     a.Config.RedisAddress,
			Password: a.Config.RedisPassword,
			DB:       a.Config.RedisDB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		a.redisClient = client
		cacheConfig.Type = cache.TypeRedis
		cacheConfig.RedisClient = client
	}

	return cache.New(cacheConfig)
}

// RouterFor builds a router bound to the user's chat backends. A user
// without usable backends still gets a router; mapping then degrades to
// the static fallback inside the adapters.
func (a *App) RouterFor(userID string) *routing.Router {
	deps := &adapters.Deps{
		ToolCache:  a.ToolCache,
		HTTPClient: a.HTTPClient,
		Logger:     a.Logger,
	}

	configs, err := a.Store.GetChatBackendConfigs(userID)
	if err == nil {
		if chatClient, err := llm.NewClient(userID, configs, a.Recorder, a.Logger); err == nil {
			deps.Mapper = mapping.NewService(chatClient, a.Logger)
		} else {
			a.Logger.Debug("no chat client for user, mapping disabled",
				logging.String("user_id", userID),
				logging.Err(err))
		}
	}

	return routing.NewRouter(a.Store, deps, a.Logger)
}

// DistributeItem satisfies batch.Distributor.
func (a *App) DistributeItem(ctx context.Context, userID, itemID string) (*routing.Summary, error) {
	return a.RouterFor(userID).DistributeItem(ctx, userID, itemID)
}

// Start kicks off background work. The HTTP surface is started
// separately by the caller.
func (a *App) Start() {
	a.cron.Start()
}

// sweepRemoteServers pings every enabled remote server and records the
// outcome, so stale configs surface without waiting for a distribution
// to fail.
func (a *App) sweepRemoteServers() {
	servers, err := a.Store.ListEnabledRemoteServerConfigs()
	if err != nil {
		a.Logger.Error("health sweep: listing remote servers failed", logging.Err(err))
		return
	}

	for _, server := range servers {
		ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
		client := mcp.NewClient(server, a.ToolCache, a.Logger)
		healthy := client.Initialize(ctx) == nil && client.HealthCheck(ctx)
		client.Cleanup()
		cancel()

		if err := a.Store.UpdateRemoteServerHealth(server.ID, healthy, time.Now().UTC()); err != nil {
			a.Logger.Error("health sweep: recording result failed",
				logging.String("server_id", server.ID),
				logging.Err(err))
		}
		if !healthy {
			a.Logger.Warn("remote server unhealthy",
				logging.String("server_id", server.ID),
				logging.String("name", server.Name))
		}
	}
}

func (a *App) Close() {
	if a.cron != nil {
		a.cron.Stop()
	}
	if a.Recorder != nil {
		a.Recorder.Close()
	}
	if a.redisClient != nil {
		a.redisClient.Close()
	}
	if a.Store != nil {
		a.Store.Close()
	}
}
