package metrics

import "time"

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or propagate errors.
// If the metrics backend is unavailable, implementations log warnings and continue.
type Sink interface {
	// Engine metrics
	BatchStarted(trigger string)
	BatchCompleted(trigger string, duration time.Duration, scheduled, skipped int, err error)
	LockBusy(trigger string)

	// Sweep metrics
	SweepCompleted(duration time.Duration, tenants, scheduled int, err error)

	// Publisher metrics
	PublishAttemptCompleted(statusClass string, duration time.Duration)
	PublishOutcome(outcome string)
	DueBacklogUpdate(count int)

	// Trigger bus metrics
	BufferSizeUpdate(size int)
	BufferCapacitySet(capacity int)
	EmitError()
}

// Outcome constants for PublishOutcome.
const (
	OutcomePublished = "published"
	OutcomeFailed    = "failed"
)
