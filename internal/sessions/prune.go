package sessions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/haasonsaas/teller/internal/observability"
)

var cronParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// PrunerConfig configures conversation retention.
type PrunerConfig struct {
	// Schedule is a cron expression or descriptor such as "@hourly".
	Schedule string

	// Retention is how long an idle conversation is kept.
	Retention time.Duration
}

// Pruner periodically deletes idle conversations from a Store.
type Pruner struct {
	store     Store
	retention time.Duration
	cron      *cron.Cron
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// NewPruner validates cfg and builds a pruner. Call Start to begin.
func NewPruner(store Store, cfg PrunerConfig, logger *slog.Logger, metrics *observability.Metrics) (*Pruner, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if cfg.Retention <= 0 {
		return nil, errors.New("retention must be positive")
	}
	schedule := strings.TrimSpace(cfg.Schedule)
	if schedule == "" {
		schedule = "@hourly"
	}
	if logger == nil {
		logger = slog.Default()
	}

	p := &Pruner{
		store:     store,
		retention: cfg.Retention,
		cron:      cron.New(cron.WithParser(cronParser)),
		logger:    logger.With("component", "pruner"),
		metrics:   metrics,
	}
	if _, err := p.cron.AddFunc(schedule, func() { p.RunOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("invalid prune schedule %q: %w", schedule, err)
	}
	return p, nil
}

// Start runs the schedule in the background.
func (p *Pruner) Start() {
	p.cron.Start()
}

// Stop halts the schedule and waits for a running prune to finish or ctx
// to end.
func (p *Pruner) Stop(ctx context.Context) {
	done := p.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// RunOnce prunes immediately and returns how many conversations were removed.
func (p *Pruner) RunOnce(ctx context.Context) int64 {
	start := time.Now()
	removed, err := p.store.Prune(ctx, p.retention)
	if err != nil {
		p.logger.ErrorContext(ctx, "prune failed", "error", err)
		return removed
	}
	p.metrics.RecordPruned(removed)
	p.logger.InfoContext(ctx, "pruned idle conversations",
		"removed", removed,
		"retention", p.retention.String(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return removed
}
