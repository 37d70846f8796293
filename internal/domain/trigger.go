package domain

import "time"

// ReadyEvent signals that new content became ready for a tenant. Emitted by
// the ingest API onto the trigger bus; consumed by the trigger worker, which
// runs a scheduling batch for the tenant.
type ReadyEvent struct {
	TenantKey TenantKey

	OccurredAt time.Time
}
