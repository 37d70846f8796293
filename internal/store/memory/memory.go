// Package memory provides the in-memory reference implementation of every
// store interface. It backs single-process deployments and tests; the
// postgres package is the durable implementation of the same contracts.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/postpilot-io/postpilot/internal/api"
	"github.com/postpilot-io/postpilot/internal/autopilot"
	"github.com/postpilot-io/postpilot/internal/domain"
	"github.com/postpilot-io/postpilot/internal/publisher"
	"github.com/postpilot-io/postpilot/internal/sweep"
)

type Store struct {
	mu          sync.Mutex
	checkpoints map[domain.TenantKey]domain.Checkpoint
	records     map[uuid.UUID]domain.ScheduleRecord
	settings    map[domain.TenantKey]domain.AutopilotSettings
	items       map[uuid.UUID]domain.ReadyItem
	claims      map[uuid.UUID]time.Time
	attempts    []domain.PublishAttempt
	clock       func() time.Time
}

func New() *Store {
	return &Store{
		checkpoints: make(map[domain.TenantKey]domain.Checkpoint),
		records:     make(map[uuid.UUID]domain.ScheduleRecord),
		settings:    make(map[domain.TenantKey]domain.AutopilotSettings),
		items:       make(map[uuid.UUID]domain.ReadyItem),
		claims:      make(map[uuid.UUID]time.Time),
		clock:       time.Now,
	}
}

func (s *Store) GetCheckpoint(ctx context.Context, key domain.TenantKey) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.checkpoints[key]
	return cp.LastScheduledAt, ok, nil
}

// PutCheckpoint upserts the checkpoint. Values earlier than the stored one
// are ignored so the checkpoint only ever moves forward.
func (s *Store) PutCheckpoint(ctx context.Context, key domain.TenantKey, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.checkpoints[key]; ok && at.Before(cur.LastScheduledAt) {
		return nil
	}
	s.checkpoints[key] = domain.Checkpoint{
		TenantKey:       key,
		LastScheduledAt: at,
		UpdatedAt:       s.clock().UTC(),
	}
	return nil
}

func (s *Store) InsertRecord(ctx context.Context, rec domain.ScheduleRecord) (domain.ScheduleRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.records[rec.ItemID]; ok {
		return existing, false, nil
	}
	s.records[rec.ItemID] = rec
	return rec, true, nil
}

// GetSettings returns the tenant's settings, or disabled zero-value
// settings when the tenant has never been configured.
func (s *Store) GetSettings(ctx context.Context, key domain.TenantKey) (domain.AutopilotSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.settings[key]
	if !ok {
		return domain.AutopilotSettings{TenantKey: key}, nil
	}
	return set, nil
}

func (s *Store) PutSettings(ctx context.Context, set domain.AutopilotSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set.UpdatedAt = s.clock().UTC()
	s.settings[set.TenantKey] = set
	return nil
}

// AddReadyItem registers a ready item. Re-adding an existing item is a
// no-op so upstream retries stay harmless.
func (s *Store) AddReadyItem(ctx context.Context, item domain.ReadyItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[item.ItemID]; ok {
		return nil
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = s.clock().UTC()
	}
	s.items[item.ItemID] = item
	return nil
}

// ListReady returns the tenant's items that have no schedule record yet,
// oldest ready time first.
func (s *Store) ListReady(ctx context.Context, key domain.TenantKey) ([]domain.ReadyItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.ReadyItem
	for id, item := range s.items {
		if item.TenantKey != key {
			continue
		}
		if _, scheduled := s.records[id]; scheduled {
			continue
		}
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].BecameReadyAt.Before(out[j].BecameReadyAt)
	})
	return out, nil
}

func (s *Store) ListPendingTenants(ctx context.Context) ([]domain.TenantKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[domain.TenantKey]bool)
	var out []domain.TenantKey
	for id, item := range s.items {
		if _, scheduled := s.records[id]; scheduled {
			continue
		}
		if !seen[item.TenantKey] {
			seen[item.TenantKey] = true
			out = append(out, item.TenantKey)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].String() < out[j].String()
	})
	return out, nil
}

func (s *Store) ListDue(ctx context.Context, now, staleBefore time.Time, limit int) ([]domain.ScheduleRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []domain.ScheduleRecord
	for id, rec := range s.records {
		switch {
		case rec.Status == domain.RecordStatusScheduled && !rec.ScheduledFor.After(now):
			due = append(due, rec)
		case rec.Status == domain.RecordStatusPublishing && !s.claims[id].After(staleBefore):
			due = append(due, rec)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].ScheduledFor.Before(due[j].ScheduledFor)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// ClaimRecord takes a record for delivery. Scheduled records and stale
// publishing claims are claimable; anything else belongs to another
// publisher or is already terminal.
func (s *Store) ClaimRecord(ctx context.Context, itemID uuid.UUID, now, staleBefore time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[itemID]
	if !ok {
		return false, nil
	}
	switch rec.Status {
	case domain.RecordStatusScheduled:
	case domain.RecordStatusPublishing:
		if s.claims[itemID].After(staleBefore) {
			return false, nil
		}
	default:
		return false, nil
	}

	rec.Status = domain.RecordStatusPublishing
	s.records[itemID] = rec
	s.claims[itemID] = now
	return true, nil
}

func (s *Store) RecordPublishAttempt(ctx context.Context, attempt domain.PublishAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, attempt)
	if rec, ok := s.records[attempt.ItemID]; ok {
		rec.Attempts++
		s.records[attempt.ItemID] = rec
	}
	return nil
}

func (s *Store) UpdateRecordStatus(ctx context.Context, itemID uuid.UUID, status domain.RecordStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[itemID]
	if !ok {
		return publisher.ErrStatusTransitionDenied
	}
	if rec.Status == domain.RecordStatusPublished || rec.Status == domain.RecordStatusFailed {
		return publisher.ErrStatusTransitionDenied
	}
	rec.Status = status
	s.records[itemID] = rec
	delete(s.claims, itemID)
	return nil
}

// ListRecords returns the tenant's schedule records, newest publish time
// first, paginated by limit and offset.
func (s *Store) ListRecords(ctx context.Context, key domain.TenantKey, limit, offset int) ([]domain.ScheduleRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.ScheduleRecord
	for _, rec := range s.records {
		if rec.TenantKey == key {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ScheduledFor.After(out[j].ScheduledFor)
	})
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Compile-time interface assertions
var (
	_ autopilot.CheckpointStore  = (*Store)(nil)
	_ autopilot.RecordStore      = (*Store)(nil)
	_ autopilot.SettingsProvider = (*Store)(nil)
	_ autopilot.ReadySource      = (*Store)(nil)
	_ publisher.Store            = (*Store)(nil)
	_ sweep.Store                = (*Store)(nil)
	_ api.Store                  = (*Store)(nil)
)
