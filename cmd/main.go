package main

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/angeloszaimis/data-aggregator/config"
	"github.com/angeloszaimis/data-aggregator/internal/cache"
	"github.com/angeloszaimis/data-aggregator/internal/circuitbreaker"
	"github.com/angeloszaimis/data-aggregator/internal/fetch"
	"github.com/angeloszaimis/data-aggregator/internal/handler"
	"github.com/angeloszaimis/data-aggregator/internal/health"
	"github.com/angeloszaimis/data-aggregator/internal/httpserver"
	"github.com/angeloszaimis/data-aggregator/internal/metrics"
	"github.com/angeloszaimis/data-aggregator/internal/orchestrator"
	"github.com/angeloszaimis/data-aggregator/internal/provider"
	"github.com/angeloszaimis/data-aggregator/internal/ratelimit"
	"github.com/angeloszaimis/data-aggregator/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.Any("err", err))
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, true, cfg.Server.Environment)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	registry, err := initializeProviders(cfg, log)
	if err != nil {
		log.Error("Failed to initialize providers", slog.Any("err", err))
		os.Exit(1)
	}

	breakers := circuitbreaker.NewRegistry(cfg.Breaker.FailureThreshold, cfg.Breaker.RecoveryTimeout)
	limiter := ratelimit.NewLimiter(rateLimits(cfg))

	collector := metrics.NewCollector(1024, log)
	collector.Start(ctx)

	engineCache := cache.New(createStore(ctx, cfg, log))

	client := fetch.NewClient(registry, breakers, limiter, collector, fetch.Config{
		Timeout:    cfg.Fetch.Timeout,
		MaxRetries: cfg.Fetch.MaxRetries,
		BaseDelay:  cfg.Fetch.BaseDelay,
		MaxDelay:   cfg.Fetch.MaxDelay,
	}, log)

	monitor := health.NewMonitor(registry, client, breakers, collector,
		cfg.HealthMonitor.Interval, cfg.HealthMonitor.DegradedLatency, log)
	go monitor.Run(ctx)

	resolver := orchestrator.NewResolver(registry, engineCache, client, collector,
		operationTTLs(cfg), consensusConfig(cfg), log)

	queryHandler := handler.NewQueryHandler(log, resolver)
	healthHandler := handler.NewHealthHandler(registry, breakers)

	srv, err := httpserver.New(cfg.Server.Address, setupRouter(queryHandler, healthHandler, collector))
	if err != nil {
		log.Error("Failed to create server", slog.Any("err", err))
		os.Exit(1)
	}

	srvErrCh := make(chan error, 1)

	go func() {
		srvErrCh <- srv.Start()
	}()

	log.Info("Aggregation engine started",
		slog.String("address", cfg.Server.Address),
		slog.Int("providers", registry.Len()))

	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
		if err := srv.Shutdown(context.Background()); err != nil {
			log.Error("Error during shutdown", slog.Any("err", err))
		}
	case err := <-srvErrCh:
		if err != nil {
			log.Error("Error starting server", slog.Any("err", err))
			os.Exit(1)
		}
	}
}

func initializeProviders(cfg *config.Config, log *slog.Logger) (*provider.Registry, error) {
	var providers []*provider.Provider

	for _, pc := range cfg.Providers {
		baseURL, err := url.Parse(pc.BaseURL)
		if err != nil {
			log.Error("Failed to parse provider URL",
				slog.String("provider", pc.ID),
				slog.String("url", pc.BaseURL),
				slog.String("error", err.Error()))
			continue
		}

		category, ok := provider.ParseCategory(pc.Category)
		if !ok {
			log.Error("Unknown provider category",
				slog.String("provider", pc.ID),
				slog.String("category", pc.Category))
			continue
		}

		endpoints := make(map[provider.Operation]string, len(pc.Endpoints))
		for op, path := range pc.Endpoints {
			if parsed, ok := provider.ParseOperation(op); ok {
				endpoints[parsed] = path
			}
		}

		var credential string
		if pc.AuthEnv != "" {
			credential = os.Getenv(pc.AuthEnv)
			if credential == "" {
				log.Warn("Credential env var not set, provider runs unauthenticated",
					slog.String("provider", pc.ID),
					slog.String("env", pc.AuthEnv))
			}
		}

		providers = append(providers, provider.New(pc.ID, pc.Name, category, pc.Priority, baseURL, provider.Options{
			ProbePath:  pc.ProbePath,
			PriceField: pc.PriceField,
			Credential: credential,
			Endpoints:  endpoints,
		}))
	}

	if len(providers) == 0 {
		return nil, os.ErrInvalid
	}

	return provider.NewRegistry(providers...), nil
}

func rateLimits(cfg *config.Config) map[string]ratelimit.Limit {
	limits := make(map[string]ratelimit.Limit)

	for _, pc := range cfg.Providers {
		if pc.RateLimit != nil {
			limits[pc.ID] = ratelimit.Limit{
				Requests: pc.RateLimit.Requests,
				Window:   pc.RateLimit.Window,
			}
		}
	}

	return limits
}

func operationTTLs(cfg *config.Config) map[provider.Operation]time.Duration {
	ttls := make(map[provider.Operation]time.Duration, len(cfg.Cache.TTL))

	for op, ttl := range cfg.Cache.TTL {
		if parsed, ok := provider.ParseOperation(op); ok {
			ttls[parsed] = ttl
		}
	}

	return ttls
}

func consensusConfig(cfg *config.Config) orchestrator.ConsensusConfig {
	operations := make([]provider.Operation, 0, len(cfg.Consensus.Operations))

	for _, op := range cfg.Consensus.Operations {
		if parsed, ok := provider.ParseOperation(op); ok {
			operations = append(operations, parsed)
		}
	}

	return orchestrator.ConsensusConfig{
		Operations:       operations,
		Fanout:           cfg.Consensus.Fanout,
		TolerancePercent: cfg.Consensus.TolerancePercent,
	}
}

func createStore(ctx context.Context, cfg *config.Config, log *slog.Logger) cache.Store {
	if cfg.Cache.Backend == config.CacheBackendRedis {
		store, err := cache.NewRedisStore(cfg.Cache.Redis.Addr, cfg.Cache.Redis.Password, cfg.Cache.Redis.DB, log)
		if err == nil {
			return store
		}

		// A broken cache backend degrades to in-process caching, it
		// never stops the engine.
		log.Warn("Redis unavailable, falling back to in-memory cache",
			slog.String("error", err.Error()))
	}

	store := cache.NewMemoryStore()
	if cfg.Cache.SweepInterval > 0 {
		go store.Sweep(ctx, cfg.Cache.SweepInterval)
	}

	return store
}
