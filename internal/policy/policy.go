// Package policy computes the next eligible publish instant for a tenant.
//
// The decision is a pure function of the tenant's checkpoint (last scheduled
// publish time), the user-configured interval, the platform-wide minimum
// gap, and the current time. All persistence, locking, and batching live in
// the autopilot engine; keeping the time math here makes it exhaustively
// testable.
package policy

import "time"

// DecideNext returns when the next item for a tenant may publish.
//
// checkpoint is nil when the tenant has never scheduled anything. every is
// the user-configured interval between posts; minGap is the floor on spacing
// between any two posts for the same tenant, which always wins when the two
// conflict. The result is never before checkpoint+minGap and never before
// now, so a skewed clock (now earlier than checkpoint) only pushes the
// decision forward, never back.
func DecideNext(checkpoint *time.Time, every, minGap time.Duration, now time.Time) time.Time {
	if checkpoint == nil {
		// First item ever for this tenant: no history to pace against,
		// but the universal floor still applies.
		return now.Add(minGap)
	}

	cp := *checkpoint
	elapsed := now.Sub(cp)
	if elapsed < 0 {
		elapsed = 0
	}

	var candidate time.Time
	if elapsed >= every {
		// The configured interval already passed naturally; don't make the
		// caller wait a full interval again.
		candidate = now
	} else {
		candidate = cp.Add(every)
	}

	if floor := cp.Add(minGap); candidate.Before(floor) {
		candidate = floor
	}
	if candidate.Before(now) {
		candidate = now
	}
	return candidate
}
