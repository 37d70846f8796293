package postgres

import (
	"context"
	"testing"
	"time"
)

func TestOperationTimeoutBound(t *testing.T) {
	s := New(nil, 5*time.Second)

	ctx, cancel := s.opCtx(context.Background())
	defer cancel()

	deadline, ok := ctx.Deadline()
	if !ok {
		t.Fatal("expected a deadline on the operation context")
	}
	if remaining := time.Until(deadline); remaining <= 0 || remaining > 5*time.Second {
		t.Errorf("deadline %s outside the configured bound", remaining)
	}
}

func TestOperationTimeoutDisabled(t *testing.T) {
	s := New(nil, 0)

	ctx, cancel := s.opCtx(context.Background())
	defer cancel()

	if _, ok := ctx.Deadline(); ok {
		t.Error("zero timeout must not add a deadline")
	}
}
