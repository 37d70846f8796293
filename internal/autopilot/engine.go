// Package autopilot decides when ready content items get published.
//
// One batch run per tenant at a time: the engine takes the tenant lock,
// loads the cadence settings and checkpoint, walks the ready items oldest
// first, assigns each a publish time via the policy function, writes one
// schedule record per item, and persists the advanced checkpoint once at
// the end. Everything upstream (content readiness) and downstream (the
// actual platform call) is behind an interface.
package autopilot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/postpilot-io/postpilot/internal/domain"
	"github.com/postpilot-io/postpilot/internal/lock"
	"github.com/postpilot-io/postpilot/internal/policy"
)

// ErrDuplicateRecord is returned by RecordStore implementations when a
// schedule record for the item already exists.
var ErrDuplicateRecord = errors.New("schedule record already exists")

// Trigger labels for metrics.
const (
	TriggerReady = "ready"
	TriggerSweep = "sweep"
)

// CheckpointStore persists the last scheduled publish time per tenant.
type CheckpointStore interface {
	// GetCheckpoint returns the checkpoint and whether one exists.
	GetCheckpoint(ctx context.Context, key domain.TenantKey) (time.Time, bool, error)
	// PutCheckpoint upserts the checkpoint. Implementations MUST keep it
	// monotonic: a value earlier than the stored one is ignored.
	PutCheckpoint(ctx context.Context, key domain.TenantKey, at time.Time) error
}

// RecordStore persists scheduling decisions.
type RecordStore interface {
	// InsertRecord writes the record if no record exists for its item yet.
	// It MUST be an atomic insert-if-absent. On conflict it returns the
	// existing record and created=false.
	InsertRecord(ctx context.Context, rec domain.ScheduleRecord) (domain.ScheduleRecord, bool, error)
}

// SettingsProvider is the external owner of per-tenant cadence settings.
type SettingsProvider interface {
	GetSettings(ctx context.Context, key domain.TenantKey) (domain.AutopilotSettings, error)
}

// ReadySource lists content items eligible for scheduling. The engine
// treats the result as already filtered to unscheduled items but still
// applies the per-item idempotency check as defense in depth.
type ReadySource interface {
	ListReady(ctx context.Context, key domain.TenantKey) ([]domain.ReadyItem, error)
}

// AnalyticsSink records scheduling outcomes as a best-effort side effect.
type AnalyticsSink interface {
	Record(ctx context.Context, rec domain.ScheduleRecord)
}

// MetricsSink defines the interface for recording engine metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	BatchStarted(trigger string)
	BatchCompleted(trigger string, duration time.Duration, scheduled, skipped int, err error)
	LockBusy(trigger string)
}

// Config holds engine tuning knobs.
type Config struct {
	// MinGap is the platform-wide floor on spacing between two scheduled
	// posts for the same tenant.
	MinGap time.Duration

	// LockTTL bounds how long a crashed batch can stall a tenant. Must
	// exceed the worst-case batch duration.
	LockTTL time.Duration

	// LockWait is how long a trigger waits for a concurrent batch before
	// giving up with lock.ErrBusy.
	LockWait time.Duration
}

// Result summarizes one batch run.
type Result struct {
	// Scheduled holds the records created by this run, in assignment order.
	Scheduled []domain.ScheduleRecord

	// Skipped counts ready items that already had a record (a prior,
	// possibly crashed, run got there first).
	Skipped int
}

// Engine is the batch scheduler.
type Engine struct {
	config      Config
	locks       lock.Manager
	checkpoints CheckpointStore
	records     RecordStore
	settings    SettingsProvider
	ready       ReadySource
	analytics   AnalyticsSink // optional, nil = disabled
	metrics     MetricsSink   // optional, nil = disabled
	clock       func() time.Time
}

// New creates an Engine.
func New(config Config, locks lock.Manager, checkpoints CheckpointStore, records RecordStore, settings SettingsProvider, ready ReadySource) *Engine {
	return &Engine{
		config:      config,
		locks:       locks,
		checkpoints: checkpoints,
		records:     records,
		settings:    settings,
		ready:       ready,
		clock:       time.Now,
	}
}

// WithAnalytics attaches an analytics sink to the engine.
func (e *Engine) WithAnalytics(sink AnalyticsSink) *Engine {
	e.analytics = sink
	return e
}

// WithMetrics attaches a metrics sink to the engine.
func (e *Engine) WithMetrics(sink MetricsSink) *Engine {
	e.metrics = sink
	return e
}

// OnReadyItemsAvailable runs a batch for a tenant in response to new
// content becoming ready.
func (e *Engine) OnReadyItemsAvailable(ctx context.Context, key domain.TenantKey) (Result, error) {
	return e.run(ctx, key, TriggerReady)
}

// OnPeriodicSweep runs a batch for a tenant from the periodic sweep. It
// covers items that became ready while the tenant was locked or disabled.
func (e *Engine) OnPeriodicSweep(ctx context.Context, key domain.TenantKey) (Result, error) {
	return e.run(ctx, key, TriggerSweep)
}

func (e *Engine) run(ctx context.Context, key domain.TenantKey, trigger string) (Result, error) {
	start := e.clock()
	if e.metrics != nil {
		e.metrics.BatchStarted(trigger)
	}

	res, err := e.ScheduleBatch(ctx, key)

	if e.metrics != nil {
		if errors.Is(err, lock.ErrBusy) {
			e.metrics.LockBusy(trigger)
		}
		e.metrics.BatchCompleted(trigger, e.clock().Sub(start), len(res.Scheduled), res.Skipped, err)
	}
	return res, err
}

// ScheduleBatch assigns publish times to all ready items of one tenant.
//
// On lock.ErrBusy no work was done and nothing was written; the caller may
// retry later. Any other error aborts the remainder of the batch: records
// already written stay valid, and the checkpoint covering them is persisted
// so a retry resumes from the right floor.
func (e *Engine) ScheduleBatch(ctx context.Context, key domain.TenantKey) (Result, error) {
	token, err := e.locks.Acquire(ctx, key, e.config.LockTTL, e.config.LockWait)
	if err != nil {
		if errors.Is(err, lock.ErrBusy) {
			log.Printf("autopilot: tenant=%s lock busy, batch abandoned", key)
			return Result{}, err
		}
		return Result{}, fmt.Errorf("acquire lock: %w", err)
	}
	defer func() {
		if err := e.locks.Release(ctx, key, token); err != nil {
			log.Printf("autopilot: tenant=%s lock release failed: %v", key, err)
		}
	}()

	settings, err := e.settings.GetSettings(ctx, key)
	if err != nil {
		// Abort before touching anything durable.
		return Result{}, fmt.Errorf("load settings: %w", err)
	}
	if !settings.Enabled {
		return Result{}, nil
	}

	items, err := e.ready.ListReady(ctx, key)
	if err != nil {
		return Result{}, fmt.Errorf("list ready items: %w", err)
	}
	if len(items) == 0 {
		return Result{}, nil
	}

	// First-ready, first-scheduled. The store orders already; re-sorting
	// keeps the invariant independent of the source.
	sort.Slice(items, func(i, j int) bool {
		return items[i].BecameReadyAt.Before(items[j].BecameReadyAt)
	})

	var cursor *time.Time
	if cp, ok, err := e.checkpoints.GetCheckpoint(ctx, key); err != nil {
		return Result{}, fmt.Errorf("load checkpoint: %w", err)
	} else if ok {
		cursor = &cp
	}

	now := e.clock().UTC()
	initial := cursor

	var res Result
	var batchErr error

	for _, item := range items {
		next := policy.DecideNext(cursor, settings.Interval(), e.config.MinGap, now)

		rec := domain.ScheduleRecord{
			ItemID:       item.ItemID,
			TenantKey:    key,
			ScheduledFor: next,
			DecidedAt:    now,
			Status:       domain.RecordStatusScheduled,
			CreatedAt:    now,
		}

		stored, created, err := e.records.InsertRecord(ctx, rec)
		if err != nil {
			batchErr = fmt.Errorf("insert record item=%s: %w", item.ItemID, err)
			break
		}

		if !created {
			// A prior run already scheduled this item. Keep its time, and
			// pace the rest of the batch after it.
			res.Skipped++
			cursor = laterOf(cursor, stored.ScheduledFor)
			continue
		}

		log.Printf("autopilot: tenant=%s item=%s scheduled_for=%s",
			key, item.ItemID, next.Format(time.RFC3339))
		res.Scheduled = append(res.Scheduled, stored)
		cursor = laterOf(cursor, stored.ScheduledFor)

		if e.analytics != nil {
			e.analytics.Record(ctx, stored)
		}
	}

	// Persist the advanced checkpoint once. The cursor only ever covers
	// durably written records, so writing it after a mid-batch failure is
	// still safe; on restart the idempotency check skips what exists.
	if cursor != nil && (initial == nil || cursor.After(*initial)) {
		if err := e.checkpoints.PutCheckpoint(ctx, key, *cursor); err != nil {
			if batchErr == nil {
				batchErr = fmt.Errorf("persist checkpoint: %w", err)
			} else {
				log.Printf("autopilot: tenant=%s checkpoint persist failed after batch error: %v", key, err)
			}
		}
	}

	return res, batchErr
}

func laterOf(cursor *time.Time, t time.Time) *time.Time {
	if cursor == nil || t.After(*cursor) {
		return &t
	}
	return cursor
}
