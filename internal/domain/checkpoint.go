package domain

import "time"

// Checkpoint marks the last time a publish was scheduled for a tenant.
// One row per tenant; created on the first scheduling decision and only
// ever moved forward after that.
type Checkpoint struct {
	TenantKey TenantKey

	LastScheduledAt time.Time

	UpdatedAt time.Time
}
