package domain

import (
	"time"

	"github.com/google/uuid"
)

// ReadyItem is one unit of content eligible for scheduling. It is produced
// upstream (content generation, approval) and consumed exactly once by the
// autopilot engine.
type ReadyItem struct {
	ItemID    uuid.UUID
	TenantKey TenantKey

	BecameReadyAt time.Time

	CreatedAt time.Time
}
