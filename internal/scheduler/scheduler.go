// Package scheduler prunes finished workflow records on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rendis/shopsync/internal/telemetry"
	"github.com/rendis/shopsync/pkg/schema"
)

// Defaults applied by NewRetention.
const (
	DefaultSchedule = "0 * * * *"
	DefaultMaxAge   = 24 * time.Hour
)

// Pruner deletes terminal workflow records completed before a cutoff.
// Satisfied by store.Store.
type Pruner interface {
	PruneWorkflows(ctx context.Context, completedBefore time.Time) (int64, error)
}

// Config controls the retention job.
type Config struct {
	Schedule string        // 5-field cron expression or descriptor such as "@every 1h"
	MaxAge   time.Duration // records older than this are pruned
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Retention runs the pruning job in the background.
type Retention struct {
	pruner   Pruner
	sink     telemetry.Sink
	logger   *slog.Logger
	cfg      Config
	schedule cron.Schedule
	now      func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	// runMu serializes prune runs so a slow run is never overlapped.
	runMu sync.Mutex
}

// NewRetention parses the schedule and fills defaults. sink and logger may be nil.
func NewRetention(p Pruner, cfg Config, sink telemetry.Sink, logger *slog.Logger) (*Retention, error) {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultMaxAge
	}
	sched, err := parser.Parse(cfg.Schedule)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid retention schedule %q", cfg.Schedule).WithCause(err)
	}
	if sink == nil {
		sink = telemetry.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retention{
		pruner:   p,
		sink:     sink,
		logger:   logger,
		cfg:      cfg,
		schedule: sched,
		now:      time.Now,
	}, nil
}

// Start launches the background loop.
func (r *Retention) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.done != nil {
		r.mu.Unlock()
		return fmt.Errorf("retention already started")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.mu.Unlock()

	go r.loop(loopCtx)
	r.logger.Info("retention started", slog.String("schedule", r.cfg.Schedule), slog.Duration("max_age", r.cfg.MaxAge))
	return nil
}

func (r *Retention) loop(ctx context.Context) {
	defer close(r.done)

	for {
		wait := r.schedule.Next(r.now()).Sub(r.now())
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("retention run failed", slog.String("error", err.Error()))
		}
	}
}

// RunOnce prunes every finished record older than MaxAge and returns how many went.
func (r *Retention) RunOnce(ctx context.Context) (int64, error) {
	r.runMu.Lock()
	defer r.runMu.Unlock()

	cutoff := r.now().Add(-r.cfg.MaxAge)
	n, err := r.pruner.PruneWorkflows(ctx, cutoff)
	if err != nil {
		err = schema.NewError(schema.ErrCodeStore, "prune workflows").WithCause(err)
		r.sink.LogError(ctx, err, map[string]any{"cutoff": cutoff.UTC().Format(time.RFC3339)})
		return 0, err
	}

	r.sink.LogEvent(ctx, schema.EventRetentionPruned, map[string]any{
		"pruned": n,
		"cutoff": cutoff.UTC().Format(time.RFC3339),
	})
	if n > 0 {
		r.logger.Info("pruned workflow records", slog.Int64("count", n), slog.Time("cutoff", cutoff))
	}
	return n, nil
}

// NextRun returns when the job fires next after from.
func (r *Retention) NextRun(from time.Time) time.Time {
	return r.schedule.Next(from)
}

// Stop cancels the loop and waits for it. Safe to call when not started.
func (r *Retention) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel == nil {
		return nil
	}

	r.cancel()
	<-r.done
	r.cancel = nil
	r.done = nil

	r.logger.Info("retention stopped")
	return nil
}

// CalculateNextRun computes the next fire time of a cron expression.
func CalculateNextRun(cronExpr string, from time.Time) (time.Time, error) {
	sched, err := parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return sched.Next(from), nil
}
