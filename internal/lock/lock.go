// Package lock provides per-tenant mutual exclusion for scheduling runs.
//
// A lock is held for the duration of one batch and carries a TTL so that a
// crashed holder never deadlocks the tenant: after the TTL the lock
// self-expires and a new acquirer succeeds. This is safe because scheduling
// decisions are idempotent per item and re-running a batch only ever
// recomputes a not-earlier time.
package lock

import (
	"context"
	"errors"
	"time"

	"github.com/postpilot-io/postpilot/internal/domain"
)

// ErrBusy is returned when the lock could not be acquired within the wait
// window. The caller must not proceed with scheduling; retry is up to
// whatever issued the trigger.
var ErrBusy = errors.New("tenant lock busy")

// Manager is a per-tenant exclusive lock. Unrelated tenants never block
// each other.
type Manager interface {
	// Acquire blocks up to wait for the tenant lock, returning a holder
	// token on success and ErrBusy on wait expiry. The lock self-expires
	// after ttl regardless of the holder's liveness.
	Acquire(ctx context.Context, key domain.TenantKey, ttl, wait time.Duration) (string, error)

	// Release frees the lock if token still matches the current holder.
	// A stale token (lock expired and re-acquired by someone else) is a
	// no-op success, never an error.
	Release(ctx context.Context, key domain.TenantKey, token string) error
}
