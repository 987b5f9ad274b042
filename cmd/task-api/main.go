package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/todo-1m/tms/internal/app/analytics"
	"github.com/todo-1m/tms/internal/app/api"
	"github.com/todo-1m/tms/internal/app/identity"
	"github.com/todo-1m/tms/internal/app/insights"
	"github.com/todo-1m/tms/internal/app/notes"
	"github.com/todo-1m/tms/internal/app/pipeline"
	"github.com/todo-1m/tms/internal/app/revocation"
	"github.com/todo-1m/tms/internal/app/tasks"
	"github.com/todo-1m/tms/internal/eventbus"
	"github.com/todo-1m/tms/internal/platform/auth"
	"github.com/todo-1m/tms/internal/platform/config"
	"github.com/todo-1m/tms/internal/platform/dbpool"
	"github.com/todo-1m/tms/internal/platform/llm"
	"github.com/todo-1m/tms/internal/platform/logging"
	"github.com/todo-1m/tms/internal/platform/migrate"
	"github.com/todo-1m/tms/internal/platform/natsutil"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(runCtx, cfg, logger); err != nil {
		logger.Fatal("task-api stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	if cfg.DB.Migrate {
		if err := migrate.Up(ctx, cfg.DatabaseURL, logger); err != nil {
			return err
		}
	}
	pool, err := dbpool.New(ctx, cfg.DatabaseURL, cfg.DB)
	if err != nil {
		return err
	}
	defer pool.Close()

	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("parse REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(redisOpts)
	defer func() { _ = rdb.Close() }()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not reachable at startup", zap.Error(err))
	}

	tokens, err := auth.NewManager(cfg.JWT.Secret, cfg.JWT.AccessTTL(), cfg.JWT.RefreshTTL())
	if err != nil {
		return err
	}
	registry := revocation.NewRegistry(rdb, tokens, cfg.Redis.RevocationTimeout)

	userRepo := identity.NewPostgresRepository(pool)
	users := identity.NewUserCache(userRepo, cfg.UserCache.Size, cfg.UserCache.TTL)
	identitySvc := identity.NewService(userRepo, users, tokens, registry, logger.Named("identity"))

	statsRepo := analytics.NewPostgresRepository(pool)
	insightSvc := insights.NewService(llm.New(cfg.LLM, logger.Named("llm")), logger.Named("insights"))

	readiness := map[string]api.ReadinessCheck{
		"postgres": pingPool(pool),
		"redis":    registry.Ping,
	}

	g, gctx := errgroup.WithContext(ctx)

	var bus eventbus.Bus
	switch cfg.Events.Bus {
	case config.BusMemory:
		memory := eventbus.NewMemoryBus(cfg.Events.Partitions, cfg.Events.RetryDelay, logger.Named("eventbus"))
		bus = memory
		p := pipeline.New(cfg, pipeline.Deps{
			Bus:        memory,
			Stats:      statsRepo,
			Users:      users,
			Summarizer: insightSvc,
			Location:   cfg.Location(),
			Log:        logger,
		})
		g.Go(func() error { return p.Run(gctx) })
	default:
		client, err := natsutil.ConnectJetStreamWithRetry(ctx, logger, cfg.Events.NATSURL, cfg.Events.Stream, cfg.Events.Topic, 20*time.Second)
		if err != nil {
			return err
		}
		defer client.Close()
		bus = eventbus.NewJetStreamBus(client.JS, eventbus.JetStreamOptions{
			Stream:     cfg.Events.Stream,
			Topic:      cfg.Events.Topic,
			Partitions: cfg.Events.Partitions,
			AckWait:    cfg.Events.AckWait,
			MaxDeliver: cfg.Events.MaxDeliver,
			RetryDelay: cfg.Events.RetryDelay,
		}, logger.Named("eventbus"))
		readiness["nats"] = func(context.Context) error { return client.Ready() }
	}

	emitter := tasks.NewEmitter(bus, cfg.Events.PublishTimeout, logger.Named("emitter"))
	handler := api.NewHandler(api.Deps{
		Identity:    identitySvc,
		Users:       users,
		Tokens:      tokens,
		Revocations: registry,
		Tasks:       tasks.NewService(tasks.NewPostgresRepository(pool), emitter),
		Notes:       notes.NewService(notes.NewPostgresRepository(pool)),
		Analytics:   analytics.NewService(statsRepo, cfg.Location()),
		Insights:    insightSvc,
		Readiness:   readiness,
		FailOpen:    cfg.Redis.FailOpen,
		Location:    cfg.Location(),
		Log:         logger.Named("http"),
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g.Go(func() error {
		logger.Info("task-api listening", zap.String("addr", cfg.HTTPAddr), zap.String("event_bus", cfg.Events.Bus))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("graceful shutdown failed", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func pingPool(pool *pgxpool.Pool) api.ReadinessCheck {
	return func(ctx context.Context) error {
		if err := pool.Ping(ctx); err != nil {
			return fmt.Errorf("postgres ping failed: %w", err)
		}
		return nil
	}
}
