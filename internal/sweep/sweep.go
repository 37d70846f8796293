// Package sweep periodically re-checks every tenant with unscheduled ready
// items. It covers content that became ready while the tenant was locked,
// disabled, or while no ingest trigger fired (e.g. after downtime).
//
// A tenant whose batch reports a busy lock is simply retried on the next
// cycle; nothing was written, so there is no state to clean up.
package sweep

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/postpilot-io/postpilot/internal/autopilot"
	"github.com/postpilot-io/postpilot/internal/domain"
	"github.com/postpilot-io/postpilot/internal/lock"
)

// Store lists tenants that still have unscheduled ready items.
type Store interface {
	ListPendingTenants(ctx context.Context) ([]domain.TenantKey, error)
}

// Scheduler runs one scheduling batch for a tenant.
type Scheduler interface {
	OnPeriodicSweep(ctx context.Context, key domain.TenantKey) (autopilot.Result, error)
}

// MetricsSink defines the interface for recording sweep metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	SweepCompleted(duration time.Duration, tenants, scheduled int, err error)
}

// Config holds sweeper configuration.
type Config struct {
	// Interval is the fixed cadence between cycles. Ignored when
	// CronExpression is set.
	Interval time.Duration

	// CronExpression optionally pins cycles to wall-clock times
	// (standard five-field cron syntax).
	CronExpression string
}

// Sweeper drives periodic re-checks.
type Sweeper struct {
	config    Config
	store     Store
	scheduler Scheduler
	metrics   MetricsSink // optional, nil = disabled
	clock     func() time.Time
}

// New creates a Sweeper.
func New(config Config, store Store, scheduler Scheduler) *Sweeper {
	return &Sweeper{
		config:    config,
		store:     store,
		scheduler: scheduler,
		clock:     time.Now,
	}
}

// WithMetrics attaches a metrics sink to the sweeper.
func (s *Sweeper) WithMetrics(sink MetricsSink) *Sweeper {
	s.metrics = sink
	return s
}

// Run starts the sweep loop. It blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	if s.config.CronExpression != "" {
		return s.runCron(ctx)
	}

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	log.Printf("sweep: started (interval=%s)", s.config.Interval)

	for {
		select {
		case <-ctx.Done():
			log.Println("sweep: stopped")
			return ctx.Err()
		case <-ticker.C:
			s.runCycle(ctx)
		}
	}
}

// runCron sleeps until each cron fire time instead of a fixed ticker.
func (s *Sweeper) runCron(ctx context.Context) error {
	sched, err := cron.ParseStandard(s.config.CronExpression)
	if err != nil {
		return err
	}

	log.Printf("sweep: started (cron=%q)", s.config.CronExpression)

	for {
		next := sched.Next(s.clock())
		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			log.Println("sweep: stopped")
			return ctx.Err()
		case <-timer.C:
			s.runCycle(ctx)
		}
	}
}

// runCycle sweeps every pending tenant once.
func (s *Sweeper) runCycle(ctx context.Context) {
	start := s.clock()

	tenants, err := s.store.ListPendingTenants(ctx)
	if err != nil {
		log.Printf("sweep: failed to list pending tenants: %v", err)
		if s.metrics != nil {
			s.metrics.SweepCompleted(s.clock().Sub(start), 0, 0, err)
		}
		return
	}

	scheduled := 0
	for _, key := range tenants {
		if ctx.Err() != nil {
			log.Printf("sweep: cycle interrupted after %d tenants", scheduled)
			return
		}

		res, err := s.scheduler.OnPeriodicSweep(ctx, key)
		if err != nil {
			if errors.Is(err, lock.ErrBusy) {
				// Another trigger is already scheduling this tenant.
				continue
			}
			log.Printf("sweep: tenant=%s batch error: %v", key, err)
			continue
		}
		scheduled += len(res.Scheduled)
	}

	if scheduled > 0 {
		log.Printf("sweep: cycle complete, tenants=%d scheduled=%d", len(tenants), scheduled)
	}
	if s.metrics != nil {
		s.metrics.SweepCompleted(s.clock().Sub(start), len(tenants), scheduled, nil)
	}
}
