package domain

import "time"

// AutopilotSettings is the user-owned cadence configuration for a tenant.
// The engine reads it as a snapshot at decision time and never writes it.
type AutopilotSettings struct {
	TenantKey TenantKey

	IntervalHours float64
	Enabled       bool

	UpdatedAt time.Time
}

// Interval converts the configured hours into a duration.
func (s AutopilotSettings) Interval() time.Duration {
	return time.Duration(s.IntervalHours * float64(time.Hour))
}
