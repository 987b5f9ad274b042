package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/todo-1m/tms/internal/app/analytics"
	"github.com/todo-1m/tms/internal/app/identity"
	"github.com/todo-1m/tms/internal/app/insights"
	"github.com/todo-1m/tms/internal/app/pipeline"
	"github.com/todo-1m/tms/internal/eventbus"
	"github.com/todo-1m/tms/internal/platform/config"
	"github.com/todo-1m/tms/internal/platform/dbpool"
	"github.com/todo-1m/tms/internal/platform/llm"
	"github.com/todo-1m/tms/internal/platform/logging"
	"github.com/todo-1m/tms/internal/platform/metrics"
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

	if cfg.Events.Bus != config.BusJetStream {
		logger.Fatal("task-consumers requires EVENT_BUS=jetstream; the memory bus runs inside task-api")
	}

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(runCtx, cfg, logger); err != nil {
		logger.Fatal("task-consumers stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	pool, err := dbpool.New(ctx, cfg.DatabaseURL, cfg.DB)
	if err != nil {
		return err
	}
	defer pool.Close()

	client, err := natsutil.ConnectJetStreamWithRetry(ctx, logger, cfg.Events.NATSURL, cfg.Events.Stream, cfg.Events.Topic, 20*time.Second)
	if err != nil {
		return err
	}
	defer client.Close()

	bus := eventbus.NewJetStreamBus(client.JS, eventbus.JetStreamOptions{
		Stream:     cfg.Events.Stream,
		Topic:      cfg.Events.Topic,
		Partitions: cfg.Events.Partitions,
		AckWait:    cfg.Events.AckWait,
		MaxDeliver: cfg.Events.MaxDeliver,
		RetryDelay: cfg.Events.RetryDelay,
	}, logger.Named("eventbus"))

	users := identity.NewUserCache(identity.NewPostgresRepository(pool), cfg.UserCache.Size, cfg.UserCache.TTL)
	p := pipeline.New(cfg, pipeline.Deps{
		Bus:        bus,
		Stats:      analytics.NewPostgresRepository(pool),
		Users:      users,
		Summarizer: insights.NewService(llm.New(cfg.LLM, logger.Named("llm")), logger.Named("insights")),
		Location:   cfg.Location(),
		Log:        logger,
	})

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		checkCtx, cancel := context.WithTimeout(req.Context(), 1500*time.Millisecond)
		defer cancel()
		if err := client.Ready(); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		if err := pool.Ping(checkCtx); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", metrics.Handler())
	server := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.Run(gctx) })
	g.Go(func() error {
		logger.Info("task-consumers listening", zap.String("addr", cfg.MetricsAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
