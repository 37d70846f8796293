// Package channel provides the in-memory trigger bus between content
// ingest and the autopilot engine.
package channel

import (
	"context"

	"github.com/postpilot-io/postpilot/internal/domain"
)

// MetricsSink defines the interface for recording bus metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	BufferSizeUpdate(size int)
	BufferCapacitySet(capacity int)
	EmitError()
}

type Option func(*TriggerBus)

// WithMetrics attaches a metrics sink to the bus.
func WithMetrics(sink MetricsSink) Option {
	return func(b *TriggerBus) {
		b.metrics = sink
	}
}

// TriggerBus is a buffered channel of ready events. Emit blocks only when
// the buffer is full and the context allows waiting.
type TriggerBus struct {
	ch      chan domain.ReadyEvent
	metrics MetricsSink // optional, nil = disabled
}

// NewTriggerBus creates a bus with the given buffer size.
func NewTriggerBus(buffer int, opts ...Option) *TriggerBus {
	b := &TriggerBus{
		ch: make(chan domain.ReadyEvent, buffer),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.metrics != nil {
		b.metrics.BufferCapacitySet(buffer)
	}
	return b
}

// Emit enqueues a ready event, blocking until buffer space or ctx is done.
func (b *TriggerBus) Emit(ctx context.Context, event domain.ReadyEvent) error {
	select {
	case b.ch <- event:
		if b.metrics != nil {
			b.metrics.BufferSizeUpdate(len(b.ch))
		}
		return nil
	case <-ctx.Done():
		if b.metrics != nil {
			b.metrics.EmitError()
		}
		return ctx.Err()
	}
}

// Channel exposes the consuming side of the bus.
func (b *TriggerBus) Channel() <-chan domain.ReadyEvent {
	return b.ch
}
