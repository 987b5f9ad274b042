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

	"github.com/caarlos0/env/v11"
	"github.com/todo-1m/tms/internal/platform/logging"
	"github.com/todo-1m/tms/internal/platform/metrics"
	"go.uber.org/zap"
)

type config struct {
	APIBase              string        `env:"LOADGEN_API_BASE" envDefault:"http://localhost:8080"`
	Users                int           `env:"LOADGEN_USERS" envDefault:"200"`
	SetupConcurrency     int           `env:"LOADGEN_SETUP_CONCURRENCY" envDefault:"25"`
	StartupWait          time.Duration `env:"LOADGEN_STARTUP_WAIT" envDefault:"2m"`
	Duration             time.Duration `env:"LOADGEN_DURATION" envDefault:"10m"`
	RampUp               time.Duration `env:"LOADGEN_RAMP_UP" envDefault:"30s"`
	ActionsPerUserPerSec float64       `env:"LOADGEN_ACTIONS_PER_USER_PER_SECOND" envDefault:"0.3"`
	RequestTimeout       time.Duration `env:"LOADGEN_REQUEST_TIMEOUT" envDefault:"10s"`
	MetricsAddr          string        `env:"LOADGEN_METRICS_ADDR" envDefault:":9099"`
	Password             string        `env:"LOADGEN_PASSWORD" envDefault:"load-test-pass-123"`
	LogLevel             string        `env:"LOG_LEVEL" envDefault:"info"`
}

func main() {
	cfg, err := env.ParseAs[config]()
	if err != nil {
		log.Fatal(err)
	}
	if cfg.Users <= 0 || cfg.SetupConcurrency <= 0 {
		log.Fatal("LOADGEN_USERS and LOADGEN_SETUP_CONCURRENCY must be > 0")
	}
	logger, err := logging.New(cfg.LogLevel, false)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	baseCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx := baseCtx
	if cfg.Duration > 0 {
		timeoutCtx, cancel := context.WithTimeout(baseCtx, cfg.Duration)
		defer cancel()
		ctx = timeoutCtx
	}

	go runMetricsServer(cfg.MetricsAddr, logger)

	r := newRunner(cfg, logger)
	if err := r.waitForReady(ctx); err != nil {
		logger.Fatal("task-api not ready", zap.Error(err))
	}

	users := r.setupUsers(ctx)
	if len(users) == 0 {
		logger.Fatal("failed to initialize any users")
	}
	logger.Info("load generator initialized",
		zap.Int("users", len(users)),
		zap.Duration("duration", cfg.Duration),
		zap.Float64("rate_per_user", cfg.ActionsPerUserPerSec),
	)

	go r.logProgress(ctx)
	r.run(ctx, users)

	logger.Info("load test complete",
		zap.Int64("success_requests", r.requestsSuccess.Load()),
		zap.Int64("error_requests", r.requestsError.Load()),
	)
}

func runMetricsServer(addr string, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.Info("metrics endpoint listening", zap.String("addr", addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server failed", zap.Error(err))
	}
}
