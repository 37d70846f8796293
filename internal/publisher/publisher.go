// Package publisher delivers due schedule records to their platforms.
//
// The engine owns the initial "scheduled" write; the publisher owns the
// transitions out of it. Before the network send a record is claimed
// ("scheduled" to "publishing") so concurrent publishers never deliver the
// same item twice; a retryable failure releases the claim back to
// "scheduled" and the next poll retries it until the attempt budget runs
// out. A claim orphaned by a crash is reclaimed after ClaimLease elapses.
// Platform-specific payload construction lives behind the PlatformSender;
// this package only carries the generic envelope.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/postpilot-io/postpilot/internal/circuitbreaker"
	"github.com/postpilot-io/postpilot/internal/domain"
)

const (
	defaultMaxAttempts = 4
	defaultClaimLease  = 5 * time.Minute
)

// ErrStatusTransitionDenied is returned when a status update would regress
// from a terminal state (published/failed).
var ErrStatusTransitionDenied = errors.New("status transition denied: record already in terminal state")

type Store interface {
	// ListDue returns records with status "scheduled" whose publish time
	// is at or before now, oldest first, plus "publishing" records whose
	// claim predates staleBefore (a publisher died mid-delivery).
	ListDue(ctx context.Context, now, staleBefore time.Time, limit int) ([]domain.ScheduleRecord, error)

	// ClaimRecord atomically transitions the record to "publishing".
	// Only a "scheduled" record, or a "publishing" record whose claim
	// predates staleBefore, can be claimed. Returns false when another
	// publisher holds the record.
	ClaimRecord(ctx context.Context, itemID uuid.UUID, now, staleBefore time.Time) (bool, error)

	// RecordPublishAttempt persists one delivery attempt and bumps the
	// record's attempt counter.
	RecordPublishAttempt(ctx context.Context, attempt domain.PublishAttempt) error

	// UpdateRecordStatus sets the record status. Implementations MUST
	// reject transitions from terminal states and return
	// ErrStatusTransitionDenied. This keeps replays idempotent.
	UpdateRecordStatus(ctx context.Context, itemID uuid.UUID, status domain.RecordStatus) error
}

type PlatformSender interface {
	Publish(ctx context.Context, req PublishRequest) PublishResult
}

// MetricsSink defines the interface for recording publisher metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	PublishAttemptCompleted(statusClass string, duration time.Duration)
	PublishOutcome(outcome string)
	DueBacklogUpdate(count int)
}

type PublishRequest struct {
	URL       string
	Secret    string
	Timeout   time.Duration
	Payload   PublishPayload
	AttemptID string
}

type PublishPayload struct {
	ItemID       string `json:"item_id"`
	Platform     string `json:"platform"`
	Account      string `json:"account"`
	ScheduledFor string `json:"scheduled_for"`
	DecidedAt    string `json:"decided_at"`
}

type PublishResult struct {
	StatusCode int
	Error      error
	Duration   time.Duration
}

func (r PublishResult) IsSuccess() bool {
	return r.Error == nil && r.StatusCode >= 200 && r.StatusCode < 300
}

func (r PublishResult) IsRetryable() bool {
	if r.Error != nil {
		return true
	}
	if r.StatusCode == 429 {
		return true
	}
	return r.StatusCode >= 500
}

// Config holds publisher configuration.
type Config struct {
	PollInterval time.Duration
	BatchSize    int

	// Endpoint receives the publish envelope; platform adapters live
	// behind it.
	Endpoint string
	Secret   string
	Timeout  time.Duration

	// MaxAttempts caps retries per record before it is marked failed.
	MaxAttempts int

	// ClaimLease is how long a "publishing" claim is honored before other
	// publishers may reclaim the record. Must exceed the worst-case send
	// duration (Timeout plus slack).
	ClaimLease time.Duration
}

type Publisher struct {
	config  Config
	store   Store
	sender  PlatformSender
	breaker *circuitbreaker.CircuitBreaker // optional, nil = disabled
	metrics MetricsSink                    // optional, nil = disabled
	clock   func() time.Time
}

func New(config Config, store Store, sender PlatformSender) *Publisher {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaultMaxAttempts
	}
	if config.ClaimLease <= 0 {
		config.ClaimLease = defaultClaimLease
	}
	return &Publisher{
		config: config,
		store:  store,
		sender: sender,
		clock:  time.Now,
	}
}

// WithCircuitBreaker attaches a per-platform circuit breaker.
func (p *Publisher) WithCircuitBreaker(cb *circuitbreaker.CircuitBreaker) *Publisher {
	p.breaker = cb
	return p
}

// WithMetrics attaches a metrics sink to the publisher.
func (p *Publisher) WithMetrics(sink MetricsSink) *Publisher {
	p.metrics = sink
	return p
}

// Run polls for due records until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	log.Printf("publisher: started (poll=%s, batch=%d)", p.config.PollInterval, p.config.BatchSize)

	for {
		select {
		case <-ctx.Done():
			log.Println("publisher: stopped")
			return
		case <-ticker.C:
			p.runCycle(ctx)
		}
	}
}

// runCycle publishes every due record once.
func (p *Publisher) runCycle(ctx context.Context) {
	now := p.clock().UTC()

	due, err := p.store.ListDue(ctx, now, now.Add(-p.config.ClaimLease), p.config.BatchSize)
	if err != nil {
		log.Printf("publisher: failed to list due records: %v", err)
		return
	}
	if p.metrics != nil {
		p.metrics.DueBacklogUpdate(len(due))
	}

	for _, rec := range due {
		if ctx.Err() != nil {
			return
		}
		if err := p.publish(ctx, rec); err != nil {
			log.Printf("publisher: item=%s error: %v", rec.ItemID, err)
		}
	}
}

func (p *Publisher) publish(ctx context.Context, rec domain.ScheduleRecord) error {
	if p.breaker != nil {
		if err := p.breaker.Allow(rec.TenantKey.Platform); err != nil {
			// Platform endpoint is cooling off; the record stays
			// scheduled and the next cycle retries.
			return nil
		}
	}

	now := p.clock().UTC()
	claimed, err := p.store.ClaimRecord(ctx, rec.ItemID, now, now.Add(-p.config.ClaimLease))
	if err != nil {
		return fmt.Errorf("claim record: %w", err)
	}
	if !claimed {
		// Another publisher holds this record.
		return nil
	}

	attemptID := uuid.New()
	req := PublishRequest{
		URL:       p.config.Endpoint,
		Secret:    p.config.Secret,
		Timeout:   p.config.Timeout,
		AttemptID: attemptID.String(),
		Payload: PublishPayload{
			ItemID:       rec.ItemID.String(),
			Platform:     rec.TenantKey.Platform,
			Account:      rec.TenantKey.Account,
			ScheduledFor: rec.ScheduledFor.UTC().Format(time.RFC3339),
			DecidedAt:    rec.DecidedAt.UTC().Format(time.RFC3339),
		},
	}

	startedAt := p.clock().UTC()
	result := p.sender.Publish(ctx, req)
	finishedAt := p.clock().UTC()

	if p.metrics != nil {
		p.metrics.PublishAttemptCompleted(classifyStatus(result.StatusCode, result.Error), result.Duration)
	}

	attempt := domain.PublishAttempt{
		ID:         attemptID,
		ItemID:     rec.ItemID,
		Attempt:    rec.Attempts + 1,
		StatusCode: result.StatusCode,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
	}
	if result.Error != nil {
		attempt.Error = result.Error.Error()
	}
	if err := p.store.RecordPublishAttempt(ctx, attempt); err != nil {
		log.Printf("publisher: failed to record attempt: %v", err)
	}

	if result.IsSuccess() {
		if p.breaker != nil {
			p.breaker.RecordSuccess(rec.TenantKey.Platform)
		}
		if p.metrics != nil {
			p.metrics.PublishOutcome("published")
		}
		log.Printf("publisher: item=%s published attempt=%d", rec.ItemID, attempt.Attempt)
		return p.markTerminal(ctx, rec, domain.RecordStatusPublished)
	}

	if p.breaker != nil {
		p.breaker.RecordFailure(rec.TenantKey.Platform)
	}

	if result.IsRetryable() && attempt.Attempt < p.config.MaxAttempts {
		// Release the claim; a later cycle retries it.
		if err := p.store.UpdateRecordStatus(ctx, rec.ItemID, domain.RecordStatusScheduled); err != nil {
			log.Printf("publisher: item=%s claim release failed: %v", rec.ItemID, err)
		}
		log.Printf("publisher: item=%s attempt=%d failed status=%d err=%v, will retry",
			rec.ItemID, attempt.Attempt, result.StatusCode, result.Error)
		return nil
	}

	if p.metrics != nil {
		p.metrics.PublishOutcome("failed")
	}
	log.Printf("publisher: item=%s failed terminally status=%d err=%v",
		rec.ItemID, result.StatusCode, result.Error)
	return p.markTerminal(ctx, rec, domain.RecordStatusFailed)
}

func (p *Publisher) markTerminal(ctx context.Context, rec domain.ScheduleRecord, status domain.RecordStatus) error {
	err := p.store.UpdateRecordStatus(ctx, rec.ItemID, status)
	if errors.Is(err, ErrStatusTransitionDenied) {
		// Already terminal (reprocessing race). Safe to ignore.
		log.Printf("publisher: item=%s already terminal, skipping status update", rec.ItemID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	return nil
}

// classifyStatus maps a status code and error to a bounded-cardinality
// metrics label: 2xx, 4xx, 5xx, timeout, connection_error, other_error.
func classifyStatus(statusCode int, err error) string {
	if err != nil {
		msg := err.Error()
		if containsInsensitive(msg, "timeout") || containsInsensitive(msg, "deadline exceeded") {
			return "timeout"
		}
		if containsInsensitive(msg, "connection refused") ||
			containsInsensitive(msg, "no such host") ||
			containsInsensitive(msg, "network is unreachable") ||
			containsInsensitive(msg, "dial") {
			return "connection_error"
		}
		return "other_error"
	}

	switch {
	case statusCode >= 200 && statusCode < 300:
		return "2xx"
	case statusCode >= 400 && statusCode < 500:
		return "4xx"
	case statusCode >= 500:
		return "5xx"
	default:
		return "other_error"
	}
}

// containsInsensitive checks if substr is in s (case-insensitive).
func containsInsensitive(s, substr string) bool {
	if len(s) < len(substr) {
		return false
	}
	for i := 0; i <= len(s)-len(substr); i++ {
		match := true
		for j := 0; j < len(substr); j++ {
			c1 := s[i+j]
			c2 := substr[j]
			if c1 >= 'A' && c1 <= 'Z' {
				c1 += 32
			}
			if c2 >= 'A' && c2 <= 'Z' {
				c2 += 32
			}
			if c1 != c2 {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
