package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/mealex/peerdir/internal/api"
	"github.com/mealex/peerdir/internal/auth"
	"github.com/mealex/peerdir/internal/cache"
	"github.com/mealex/peerdir/internal/events"
	"github.com/mealex/peerdir/internal/index"
	"github.com/mealex/peerdir/internal/invitation"
	appmetrics "github.com/mealex/peerdir/internal/metrics"
	"github.com/mealex/peerdir/internal/profile"
	"github.com/mealex/peerdir/internal/ratelimit"
	"github.com/mealex/peerdir/internal/search"
	"github.com/mealex/peerdir/internal/store"
	"github.com/mealex/peerdir/pkg/config"
	"github.com/mealex/peerdir/pkg/health"
	"github.com/mealex/peerdir/pkg/kafka"
	"github.com/mealex/peerdir/pkg/logger"
	pkgmetrics "github.com/mealex/peerdir/pkg/metrics"
	"github.com/mealex/peerdir/pkg/postgres"
	pkgredis "github.com/mealex/peerdir/pkg/redis"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting peerdir service", "port", cfg.Server.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	documents, err := store.NewPostgres(ctx, db)
	if err != nil {
		slog.Error("failed to initialize document store", "error", err)
		os.Exit(1)
	}
	slog.Info("document store ready", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)

	// Redis is an optimization. When it is down the service starts anyway
	// and every read goes straight to the document store.
	var cacheStore cache.Store
	redisClient, err := pkgredis.NewClient(cfg.Redis)
	if err != nil {
		slog.Warn("redis unavailable, running uncached", "error", err)
	} else {
		defer redisClient.Close()
		cacheStore = redisClient
		slog.Info("cache enabled", "addr", cfg.Redis.Addr)
	}

	prom := pkgmetrics.New()
	collector := appmetrics.New(prom)
	go collector.Run(ctx)

	cacheLayer := cache.New(cacheStore, cfg.Redis.TTL, collector)

	profiles := profile.NewRepository(documents)
	invitations := invitation.NewRepository(documents)

	builder := index.NewBuilder(profiles, cfg.Index.RebuildInterval, collector)
	go builder.Run(ctx)
	engine := search.NewEngine(builder)

	limiter := ratelimit.New(cfg.RateLimit.Window, cfg.RateLimit.MaxAdmissions)

	provider := auth.NewHTTPProvider(cfg.Auth)
	tokens := auth.NewTokenCache(provider, cacheLayer, prom)

	var publisher *events.Publisher
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.CacheInvalidate)
		defer producer.Close()
		publisher = events.NewPublisher(producer)

		consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.CacheInvalidate, events.Handler(cacheLayer, builder))
		go func() {
			if err := consumer.Start(ctx); err != nil {
				slog.Error("invalidation consumer error", "error", err)
			}
		}()
		slog.Info("invalidation events enabled", "topic", cfg.Kafka.Topics.CacheInvalidate)
	}

	checker := health.NewChecker()
	checker.Register("postgres", func(ctx context.Context) health.ComponentHealth {
		if err := db.Ping(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDown, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})
	checker.Register("redis", func(ctx context.Context) health.ComponentHealth {
		if cacheStore == nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "not configured"}
		}
		if err := cacheStore.Ping(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})
	checker.Register("index", func(ctx context.Context) health.ComponentHealth {
		snap := builder.Current()
		if snap.BuiltAt().IsZero() {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "no rebuild yet"}
		}
		return health.ComponentHealth{
			Status:  health.StatusUp,
			Message: fmt.Sprintf("%d profiles indexed", snap.Profiles()),
		}
	})

	if cfg.Metrics.Enabled {
		shutdownMetrics := pkgmetrics.StartServer(cfg.Metrics.Port)
		defer shutdownMetrics(context.Background())
		slog.Info("prometheus metrics listening", "port", cfg.Metrics.Port)
	}

	h := api.New(profiles, invitations, engine, builder, cacheLayer, collector, publisher)
	router := api.NewRouter(h, checker, limiter, tokens, prom, cfg.Server.WriteTimeout)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("peerdir service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("peerdir service stopped")
}
