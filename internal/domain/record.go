package domain

import (
	"time"

	"github.com/google/uuid"
)

type RecordStatus string

const (
	RecordStatusScheduled RecordStatus = "scheduled"
	// RecordStatusPublishing marks a record claimed by a publisher for the
	// duration of one delivery attempt.
	RecordStatusPublishing RecordStatus = "publishing"
	RecordStatusPublished  RecordStatus = "published"
	RecordStatusFailed     RecordStatus = "failed"
)

// ScheduleRecord is the durable output of one scheduling decision: when a
// ready item will be published. Created exactly once per item (item_id is
// the idempotency key). The publisher owns the transition out of
// "scheduled"; the engine only ever writes the initial record.
type ScheduleRecord struct {
	ItemID    uuid.UUID
	TenantKey TenantKey

	ScheduledFor time.Time
	DecidedAt    time.Time
	Status       RecordStatus

	// Attempts counts publish attempts made so far.
	Attempts int

	CreatedAt time.Time
}
