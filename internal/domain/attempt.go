package domain

import (
	"time"

	"github.com/google/uuid"
)

// PublishAttempt records one attempt by the publisher to deliver a
// scheduled item to its platform.
type PublishAttempt struct {
	ID     uuid.UUID
	ItemID uuid.UUID

	Attempt    int
	StatusCode int
	Error      string

	StartedAt  time.Time
	FinishedAt time.Time
}
