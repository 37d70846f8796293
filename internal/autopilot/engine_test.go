package autopilot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/postpilot-io/postpilot/internal/domain"
	"github.com/postpilot-io/postpilot/internal/lock"
)

var (
	tenantA = domain.TenantKey{Platform: "instagram", Account: "acct-1"}
	tenantB = domain.TenantKey{Platform: "linkedin", Account: "acct-2"}

	testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
)

// fakeStore implements CheckpointStore, RecordStore, SettingsProvider, and
// ReadySource in memory.
type fakeStore struct {
	mu          sync.Mutex
	checkpoints map[domain.TenantKey]time.Time
	records     map[uuid.UUID]domain.ScheduleRecord
	settings    map[domain.TenantKey]domain.AutopilotSettings
	ready       map[domain.TenantKey][]domain.ReadyItem

	settingsErr error
	insertErr   error
	failAfter   int // insert failures kick in after this many successful inserts (0 = never)
	inserted    int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		checkpoints: make(map[domain.TenantKey]time.Time),
		records:     make(map[uuid.UUID]domain.ScheduleRecord),
		settings:    make(map[domain.TenantKey]domain.AutopilotSettings),
		ready:       make(map[domain.TenantKey][]domain.ReadyItem),
	}
}

func (s *fakeStore) GetCheckpoint(ctx context.Context, key domain.TenantKey) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.checkpoints[key]
	return cp, ok, nil
}

func (s *fakeStore) PutCheckpoint(ctx context.Context, key domain.TenantKey, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.checkpoints[key]; ok && at.Before(cur) {
		return nil
	}
	s.checkpoints[key] = at
	return nil
}

func (s *fakeStore) InsertRecord(ctx context.Context, rec domain.ScheduleRecord) (domain.ScheduleRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.records[rec.ItemID]; ok {
		return existing, false, nil
	}
	if s.insertErr != nil && s.inserted >= s.failAfter {
		return domain.ScheduleRecord{}, false, s.insertErr
	}
	s.records[rec.ItemID] = rec
	s.inserted++
	return rec, true, nil
}

func (s *fakeStore) GetSettings(ctx context.Context, key domain.TenantKey) (domain.AutopilotSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settingsErr != nil {
		return domain.AutopilotSettings{}, s.settingsErr
	}
	return s.settings[key], nil
}

func (s *fakeStore) ListReady(ctx context.Context, key domain.TenantKey) ([]domain.ReadyItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.ReadyItem(nil), s.ready[key]...), nil
}

func (s *fakeStore) recordCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *fakeStore) enable(key domain.TenantKey, intervalHours float64) {
	s.settings[key] = domain.AutopilotSettings{TenantKey: key, IntervalHours: intervalHours, Enabled: true}
}

func (s *fakeStore) addReady(key domain.TenantKey, readyAt time.Time) uuid.UUID {
	id := uuid.New()
	s.ready[key] = append(s.ready[key], domain.ReadyItem{
		ItemID:        id,
		TenantKey:     key,
		BecameReadyAt: readyAt,
	})
	return id
}

func newTestEngine(store *fakeStore) *Engine {
	e := New(
		Config{MinGap: 2 * time.Hour, LockTTL: 30 * time.Second, LockWait: 50 * time.Millisecond},
		lock.NewMemoryManager(),
		store, store, store, store,
	)
	e.clock = func() time.Time { return testNow }
	return e
}

func TestScheduleBatch_BurstSpacing(t *testing.T) {
	store := newFakeStore()
	store.enable(tenantA, 2)
	for i := 0; i < 3; i++ {
		store.addReady(tenantA, testNow.Add(-time.Minute))
	}

	e := newTestEngine(store)

	res, err := e.ScheduleBatch(context.Background(), tenantA)
	if err != nil {
		t.Fatalf("batch failed: %v", err)
	}
	if len(res.Scheduled) != 3 {
		t.Fatalf("expected 3 records, got %d", len(res.Scheduled))
	}

	// No prior checkpoint, interval 2h, gap 2h: T+2h, T+4h, T+6h.
	for i, rec := range res.Scheduled {
		want := testNow.Add(time.Duration(i+1) * 2 * time.Hour)
		if !rec.ScheduledFor.Equal(want) {
			t.Errorf("record %d: scheduled_for = %s, want %s", i, rec.ScheduledFor, want)
		}
	}

	// Checkpoint advanced to the last assigned time.
	cp, ok, _ := store.GetCheckpoint(context.Background(), tenantA)
	if !ok || !cp.Equal(testNow.Add(6*time.Hour)) {
		t.Errorf("checkpoint = %s (ok=%v), want %s", cp, ok, testNow.Add(6*time.Hour))
	}
}

func TestScheduleBatch_RespectsExistingCheckpoint(t *testing.T) {
	store := newFakeStore()
	store.enable(tenantA, 2)
	store.checkpoints[tenantA] = testNow.Add(-time.Hour)
	store.addReady(tenantA, testNow.Add(-time.Minute))

	e := newTestEngine(store)

	res, err := e.ScheduleBatch(context.Background(), tenantA)
	if err != nil {
		t.Fatalf("batch failed: %v", err)
	}
	if len(res.Scheduled) != 1 {
		t.Fatalf("expected 1 record, got %d", len(res.Scheduled))
	}
	// Interval not elapsed: checkpoint + 2h.
	if want := testNow.Add(time.Hour); !res.Scheduled[0].ScheduledFor.Equal(want) {
		t.Errorf("scheduled_for = %s, want %s", res.Scheduled[0].ScheduledFor, want)
	}
}

func TestScheduleBatch_Idempotent(t *testing.T) {
	store := newFakeStore()
	store.enable(tenantA, 2)
	store.addReady(tenantA, testNow.Add(-2*time.Minute))
	store.addReady(tenantA, testNow.Add(-time.Minute))

	e := newTestEngine(store)
	ctx := context.Background()

	first, err := e.ScheduleBatch(ctx, tenantA)
	if err != nil {
		t.Fatalf("first batch failed: %v", err)
	}
	if len(first.Scheduled) != 2 {
		t.Fatalf("expected 2 records, got %d", len(first.Scheduled))
	}

	// Simulate a crash-and-retry: same ready set, engine runs again.
	second, err := e.ScheduleBatch(ctx, tenantA)
	if err != nil {
		t.Fatalf("second batch failed: %v", err)
	}
	if len(second.Scheduled) != 0 {
		t.Errorf("expected 0 new records on retry, got %d", len(second.Scheduled))
	}
	if second.Skipped != 2 {
		t.Errorf("expected 2 skipped on retry, got %d", second.Skipped)
	}
	if store.recordCount() != 2 {
		t.Errorf("expected exactly 2 records total, got %d", store.recordCount())
	}

	// First-run times preserved.
	for _, rec := range first.Scheduled {
		if got := store.records[rec.ItemID].ScheduledFor; !got.Equal(rec.ScheduledFor) {
			t.Errorf("item %s: time changed from %s to %s", rec.ItemID, rec.ScheduledFor, got)
		}
	}
}

func TestScheduleBatch_DisabledTenantSchedulesNothing(t *testing.T) {
	store := newFakeStore()
	store.settings[tenantA] = domain.AutopilotSettings{TenantKey: tenantA, IntervalHours: 2, Enabled: false}
	store.addReady(tenantA, testNow)

	e := newTestEngine(store)

	res, err := e.ScheduleBatch(context.Background(), tenantA)
	if err != nil {
		t.Fatalf("batch failed: %v", err)
	}
	if len(res.Scheduled) != 0 || store.recordCount() != 0 {
		t.Errorf("disabled tenant produced records: %+v", res)
	}
}

func TestScheduleBatch_SettingsErrorAbortsBeforeWrites(t *testing.T) {
	store := newFakeStore()
	store.settingsErr = errors.New("settings backend down")
	store.addReady(tenantA, testNow)

	e := newTestEngine(store)

	if _, err := e.ScheduleBatch(context.Background(), tenantA); err == nil {
		t.Fatal("expected error")
	}
	if store.recordCount() != 0 {
		t.Errorf("settings failure must not write records, got %d", store.recordCount())
	}
	if _, ok, _ := store.GetCheckpoint(context.Background(), tenantA); ok {
		t.Error("settings failure must not write a checkpoint")
	}
}

func TestScheduleBatch_MidBatchFailureKeepsEarlierDecisions(t *testing.T) {
	store := newFakeStore()
	store.enable(tenantA, 2)
	store.addReady(tenantA, testNow.Add(-3*time.Minute))
	store.addReady(tenantA, testNow.Add(-2*time.Minute))
	store.addReady(tenantA, testNow.Add(-time.Minute))
	store.insertErr = errors.New("write failed")
	store.failAfter = 1 // first insert succeeds, second fails

	e := newTestEngine(store)
	ctx := context.Background()

	res, err := e.ScheduleBatch(ctx, tenantA)
	if err == nil {
		t.Fatal("expected error from mid-batch insert failure")
	}
	if len(res.Scheduled) != 1 {
		t.Fatalf("expected 1 record before failure, got %d", len(res.Scheduled))
	}
	firstTime := res.Scheduled[0].ScheduledFor

	// Checkpoint must cover the durably written record, not beyond.
	cp, ok, _ := store.GetCheckpoint(ctx, tenantA)
	if !ok || !cp.Equal(firstTime) {
		t.Fatalf("checkpoint = %s (ok=%v), want %s", cp, ok, firstTime)
	}

	// Retry succeeds and paces the remaining items after the first.
	store.insertErr = nil
	retry, err := e.ScheduleBatch(ctx, tenantA)
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if retry.Skipped != 1 || len(retry.Scheduled) != 2 {
		t.Fatalf("retry: scheduled=%d skipped=%d, want 2/1", len(retry.Scheduled), retry.Skipped)
	}
	prev := firstTime
	for _, rec := range retry.Scheduled {
		if gap := rec.ScheduledFor.Sub(prev); gap < 2*time.Hour {
			t.Errorf("gap %s below minimum after retry", gap)
		}
		prev = rec.ScheduledFor
	}
}

func TestScheduleBatch_LockBusy(t *testing.T) {
	store := newFakeStore()
	store.enable(tenantA, 2)
	store.addReady(tenantA, testNow)

	locks := lock.NewMemoryManager()
	e := New(
		Config{MinGap: 2 * time.Hour, LockTTL: 30 * time.Second, LockWait: 20 * time.Millisecond},
		locks, store, store, store, store,
	)
	e.clock = func() time.Time { return testNow }

	ctx := context.Background()

	// Another trigger holds the tenant lock.
	token, err := locks.Acquire(ctx, tenantA, time.Minute, 0)
	if err != nil {
		t.Fatalf("pre-acquire failed: %v", err)
	}
	defer locks.Release(ctx, tenantA, token)

	res, err := e.ScheduleBatch(ctx, tenantA)
	if !errors.Is(err, lock.ErrBusy) {
		t.Fatalf("expected lock.ErrBusy, got %v", err)
	}
	if len(res.Scheduled) != 0 || store.recordCount() != 0 {
		t.Error("busy trigger must not write anything")
	}
}

func TestScheduleBatch_TenantIsolation(t *testing.T) {
	store := newFakeStore()
	store.enable(tenantA, 2)
	store.enable(tenantB, 2)
	store.addReady(tenantA, testNow)
	store.addReady(tenantB, testNow)

	e := newTestEngine(store)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, key := range []domain.TenantKey{tenantA, tenantB} {
		wg.Add(1)
		go func(k domain.TenantKey) {
			defer wg.Done()
			if _, err := e.ScheduleBatch(ctx, k); err != nil {
				errs <- err
			}
		}(key)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent batch for independent tenants failed: %v", err)
	}
	if store.recordCount() != 2 {
		t.Errorf("expected 2 records (one per tenant), got %d", store.recordCount())
	}
}

// TestScheduleBatch_ConcurrentSameTenant fires two batches for one tenant at
// once; exactly one set of records must come out.
func TestScheduleBatch_ConcurrentSameTenant(t *testing.T) {
	store := newFakeStore()
	store.enable(tenantA, 2)
	for i := 0; i < 3; i++ {
		store.addReady(tenantA, testNow.Add(time.Duration(i)*time.Minute))
	}

	e := newTestEngine(store)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = e.ScheduleBatch(ctx, tenantA)
		}()
	}
	wg.Wait()

	if store.recordCount() != 3 {
		t.Fatalf("expected 3 records, got %d", store.recordCount())
	}

	// Spacing holds across whichever interleaving happened.
	var times []time.Time
	for _, rec := range store.records {
		times = append(times, rec.ScheduledFor)
	}
	for i := range times {
		for j := range times {
			if i == j {
				continue
			}
			gap := times[i].Sub(times[j])
			if gap < 0 {
				gap = -gap
			}
			if gap < 2*time.Hour {
				t.Fatalf("records %s apart, below minimum gap", gap)
			}
		}
	}
}

func TestTriggerEntryPoints(t *testing.T) {
	store := newFakeStore()
	store.enable(tenantA, 2)
	store.addReady(tenantA, testNow)

	e := newTestEngine(store)
	ctx := context.Background()

	if _, err := e.OnReadyItemsAvailable(ctx, tenantA); err != nil {
		t.Fatalf("OnReadyItemsAvailable failed: %v", err)
	}
	if _, err := e.OnPeriodicSweep(ctx, tenantA); err != nil {
		t.Fatalf("OnPeriodicSweep failed: %v", err)
	}
	if store.recordCount() != 1 {
		t.Errorf("expected 1 record across both triggers, got %d", store.recordCount())
	}
}
