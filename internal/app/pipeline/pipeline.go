// Package pipeline subscribes the task event consumer groups and owns the enrichment pool.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/todo-1m/tms/internal/app/analytics"
	"github.com/todo-1m/tms/internal/app/enrichment"
	"github.com/todo-1m/tms/internal/app/eventlog"
	"github.com/todo-1m/tms/internal/app/notifications"
	"github.com/todo-1m/tms/internal/eventbus"
	"github.com/todo-1m/tms/internal/platform/config"
	"github.com/todo-1m/tms/internal/platform/logging"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Deps struct {
	Bus        eventbus.Subscriber
	Stats      analytics.Repository
	Users      enrichment.UserLookup
	Summarizer enrichment.Summarizer
	Location   *time.Location
	Log        *zap.Logger
}

type Pipeline struct {
	Bus        eventbus.Subscriber
	Handlers   map[string]eventbus.Handler
	Enrichment *enrichment.Worker
	// Sweeper is nil when dedup retention is disabled.
	Sweeper *analytics.Sweeper
	Log     *zap.Logger
}

// New wires the analytics, notification and event-logger groups named in cfg.
func New(cfg config.Config, deps Deps) *Pipeline {
	log := logging.OrNop(deps.Log)
	worker := enrichment.NewWorker(deps.Users, deps.Stats, deps.Summarizer, enrichment.Options{
		Workers:   cfg.LLM.EnrichmentWorkers,
		QueueSize: cfg.LLM.EnrichmentQueue,
		Timeout:   cfg.LLM.Timeout,
		Location:  deps.Location,
	}, log.Named("enrichment"))

	stats := analytics.NewConsumer(cfg.Events.AnalyticsGroup, deps.Stats, worker, deps.Location, log.Named("analytics"))
	notify := notifications.NewConsumer(log.Named("notifications"))
	events := eventlog.NewConsumer(log.Named("eventlog"))

	var sweeper *analytics.Sweeper
	if cfg.Events.ProcessedRetention > 0 {
		sweeper = analytics.NewSweeper(deps.Stats, cfg.Events.ProcessedRetention, cfg.Events.ProcessedSweepInterval, log.Named("sweeper"))
	}

	return &Pipeline{
		Bus: deps.Bus,
		Handlers: map[string]eventbus.Handler{
			cfg.Events.AnalyticsGroup:    stats.Handle,
			cfg.Events.NotificationGroup: notify.Handle,
			cfg.Events.LoggerGroup:       events.Handle,
		},
		Enrichment: worker,
		Sweeper:    sweeper,
		Log:        log,
	}
}

// Run subscribes every group and blocks until ctx is done, then drains the enrichment pool.
func (p *Pipeline) Run(ctx context.Context) error {
	p.Enrichment.Start(ctx)
	defer p.Enrichment.Stop()

	if p.Sweeper != nil {
		swept := make(chan struct{})
		go func() {
			defer close(swept)
			p.Sweeper.Run(ctx)
		}()
		defer func() { <-swept }()
	}

	var g errgroup.Group
	for group, handler := range p.Handlers {
		g.Go(func() error {
			if err := p.Bus.Subscribe(ctx, group, eventbus.Observe(group, p.Log, handler)); err != nil {
				return fmt.Errorf("subscribe %s: %w", group, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	p.Log.Info("consumer groups running", zap.Int("groups", len(p.Handlers)))
	<-ctx.Done()
	p.Log.Info("consumer groups stopping")
	return nil
}
