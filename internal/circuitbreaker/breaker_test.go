package circuitbreaker

import (
	"errors"
	"testing"
	"time"
)

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	cb := New(3, time.Minute)

	for i := 0; i < 2; i++ {
		cb.RecordFailure("instagram")
		if err := cb.Allow("instagram"); err != nil {
			t.Fatalf("breaker opened early after %d failures: %v", i+1, err)
		}
	}

	cb.RecordFailure("instagram")
	if err := cb.Allow("instagram"); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected open circuit, got %v", err)
	}
}

func TestBreaker_PlatformsIndependent(t *testing.T) {
	cb := New(1, time.Minute)

	cb.RecordFailure("instagram")
	if err := cb.Allow("instagram"); !errors.Is(err, ErrCircuitOpen) {
		t.Fatal("instagram circuit should be open")
	}
	if err := cb.Allow("facebook"); err != nil {
		t.Fatalf("facebook circuit should be unaffected: %v", err)
	}
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	cb := New(1, 10*time.Millisecond)

	cb.RecordFailure("instagram")
	if err := cb.Allow("instagram"); !errors.Is(err, ErrCircuitOpen) {
		t.Fatal("circuit should be open")
	}

	time.Sleep(15 * time.Millisecond)

	// First caller after cooldown gets the probe; the next is still blocked.
	if err := cb.Allow("instagram"); err != nil {
		t.Fatalf("expected half-open probe, got %v", err)
	}
	if err := cb.Allow("instagram"); !errors.Is(err, ErrCircuitOpen) {
		t.Fatal("second caller during half-open should be blocked")
	}

	cb.RecordSuccess("instagram")
	if err := cb.Allow("instagram"); err != nil {
		t.Fatalf("circuit should be closed after successful probe: %v", err)
	}
}
