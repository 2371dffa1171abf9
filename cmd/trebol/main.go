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

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/nidhogg/trebol/internal/api"
	"github.com/nidhogg/trebol/internal/config"
	"github.com/nidhogg/trebol/internal/dispatch"
	"github.com/nidhogg/trebol/internal/knowledge"
	"github.com/nidhogg/trebol/internal/provider"
	"github.com/nidhogg/trebol/internal/trace"
	"github.com/nidhogg/trebol/internal/workflow"
)

func main() {
	_ = godotenv.Load()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/trebol.json"
	}
	cfg, found, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config %s: %v\n", cfgPath, err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Server.LogLevel, cfg.Server.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting Trebol...")
	if found {
		logger.Info("Config loaded", zap.String("path", cfgPath))
	} else {
		logger.Warn("Config file not found, using environment defaults", zap.String("path", cfgPath))
	}

	profile, err := workflow.ProfileFor(cfg.Server.Backend)
	if err != nil {
		logger.Fatal("invalid backend profile", zap.Error(err))
	}

	// Initialize knowledge store
	store, cache, closeStore := openStore(cfg, logger)
	defer closeStore()

	// Initialize provider router
	router := provider.NewRouter(logger)
	for _, pc := range cfg.Providers {
		if pc.APIKey == "" {
			logger.Warn("provider has no API key, skipping", zap.String("id", pc.ID))
			continue
		}
		p, err := provider.New(provider.ProviderConfig{
			ID: pc.ID, Type: pc.Type, Name: pc.Name,
			Endpoint: pc.Endpoint, APIKey: pc.APIKey,
			Model: pc.Model, Timeout: pc.Timeout(),
		}, logger)
		if err != nil {
			logger.Warn("unknown provider type", zap.String("id", pc.ID), zap.Error(err))
			continue
		}
		router.Register(p)
	}
	// Each provider gets its own timeout; the gateway allows the whole chain.
	gateway := provider.NewGateway(router, 0, logger)
	if !gateway.Configured() {
		logger.Warn("no completion provider configured, answers will use canned fallbacks")
	}

	// Wire workflows
	rec := trace.NewRecorder(cfg.Server.MaxTraceEntries, logger)
	ticket := workflow.NewTicketWorkflow(store, gateway, profile, logger)
	general := workflow.NewGeneralWorkflow(store, gateway, profile, workflow.GeneralOptions{
		KnowledgeLookup: cfg.KnowledgeLookupEnabled(),
		KnowledgeLimit:  cfg.Workflow.KnowledgeLimit,
	}, logger)
	dispatcher := dispatch.New(rec, ticket, general, profile, logger)

	handler := api.NewHandler(dispatcher, store, api.Options{
		AllowedOrigins: cfg.Server.CORSOrigins,
		Services: api.Services{
			Completion:     gateway.Configured(),
			KnowledgeStore: cfg.Knowledge.Driver != config.DriverNone,
			Cache:          cache,
		},
	}, logger)

	port := fmt.Sprintf("%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Trebol listening",
			zap.String("port", port),
			zap.String("backend", profile.Label),
			zap.String("driver", cfg.Knowledge.Driver))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down Trebol...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("shutdown incomplete", zap.Error(err))
	}
}

// openStore builds the knowledge store for the configured driver, wrapped in
// the Redis cache when one is configured. The bool reports whether the cache
// is active.
func openStore(cfg *config.Config, logger *zap.Logger) (knowledge.Store, bool, func()) {
	ctx := context.Background()
	closers := []func(){}
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var store knowledge.Store
	switch cfg.Knowledge.Driver {
	case config.DriverREST:
		store = knowledge.NewRESTStore(knowledge.RESTConfig{
			URL:     cfg.Knowledge.URL,
			APIKey:  cfg.Knowledge.APIKey,
			Timeout: cfg.StoreTimeout(),
			Tables:  cfg.Knowledge.Tables,
		}, logger)
	case config.DriverPostgres:
		ps, err := knowledge.NewPostgresStore(ctx, cfg.Database.Postgres.DSN, cfg.Knowledge.Tables, cfg.StoreTimeout(), logger)
		if err != nil {
			logger.Warn("PostgreSQL unavailable, running without knowledge store", zap.Error(err))
			return knowledge.Disabled(), false, closeAll
		}
		if dir := cfg.Knowledge.MigrationsDir; dir != "" {
			if err := ps.Migrate(ctx, dir); err != nil {
				logger.Fatal("migration failed", zap.Error(err))
			}
		}
		closers = append(closers, ps.Close)
		store = ps
	default:
		logger.Warn("knowledge store disabled, ticket lookups will report failures")
		return knowledge.Disabled(), false, closeAll
	}

	if cfg.Knowledge.Cache.RedisURL == "" {
		return store, false, closeAll
	}
	cached, err := knowledge.NewCachedStore(ctx, store, knowledge.CacheConfig{
		URL:       cfg.Knowledge.Cache.RedisURL,
		TTL:       cfg.CacheTTL(),
		Resources: cfg.Knowledge.Cache.Resources,
	}, logger)
	if err != nil {
		logger.Warn("Redis unavailable, running without cache", zap.Error(err))
		return store, false, closeAll
	}
	closers = append(closers, func() { cached.Close() })
	return cached, true, closeAll
}

func newLogger(level, format string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewDevelopmentConfig()
	if format == "json" {
		zc = zap.NewProductionConfig()
	}
	zc.Level = lvl
	return zc.Build()
}
