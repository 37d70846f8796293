package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) BatchStarted(trigger string) {}
func (n *NoopSink) BatchCompleted(trigger string, d time.Duration, scheduled, skipped int, e error) {
}
func (n *NoopSink) LockBusy(trigger string)                                           {}
func (n *NoopSink) SweepCompleted(d time.Duration, tenants, scheduled int, err error) {}
func (n *NoopSink) PublishAttemptCompleted(statusClass string, d time.Duration)       {}
func (n *NoopSink) PublishOutcome(outcome string)                                     {}
func (n *NoopSink) DueBacklogUpdate(count int)                                        {}
func (n *NoopSink) BufferSizeUpdate(size int)                                         {}
func (n *NoopSink) BufferCapacitySet(capacity int)                                    {}
func (n *NoopSink) EmitError()                                                        {}
