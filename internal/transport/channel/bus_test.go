package channel

import (
	"context"
	"testing"
	"time"

	"github.com/postpilot-io/postpilot/internal/domain"
)

func TestTriggerBus_EmitAndReceive(t *testing.T) {
	bus := NewTriggerBus(4)
	ctx := context.Background()

	event := domain.ReadyEvent{
		TenantKey:  domain.TenantKey{Platform: "instagram", Account: "a"},
		OccurredAt: time.Now().UTC(),
	}

	if err := bus.Emit(ctx, event); err != nil {
		t.Fatalf("emit failed: %v", err)
	}

	select {
	case got := <-bus.Channel():
		if got.TenantKey != event.TenantKey {
			t.Errorf("received %v, want %v", got.TenantKey, event.TenantKey)
		}
	default:
		t.Fatal("expected buffered event")
	}
}

func TestTriggerBus_EmitFullBufferHonorsContext(t *testing.T) {
	bus := NewTriggerBus(1)
	ctx := context.Background()

	key := domain.TenantKey{Platform: "instagram", Account: "a"}
	if err := bus.Emit(ctx, domain.ReadyEvent{TenantKey: key}); err != nil {
		t.Fatalf("emit failed: %v", err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()

	if err := bus.Emit(cancelled, domain.ReadyEvent{TenantKey: key}); err == nil {
		t.Fatal("expected error emitting into full buffer with cancelled context")
	}
}
