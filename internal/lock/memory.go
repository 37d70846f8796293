package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/postpilot-io/postpilot/internal/domain"
)

type holder struct {
	token     string
	expiresAt time.Time
}

// MemoryManager implements Manager in-process. It is the single-node
// fallback when redis is not configured, and the deterministic test double.
type MemoryManager struct {
	mu    sync.Mutex
	held  map[domain.TenantKey]holder
	clock func() time.Time
	retry time.Duration
}

// NewMemoryManager creates an in-process lock manager.
func NewMemoryManager() *MemoryManager {
	return &MemoryManager{
		held:  make(map[domain.TenantKey]holder),
		clock: time.Now,
		retry: 5 * time.Millisecond,
	}
}

func (m *MemoryManager) Acquire(ctx context.Context, key domain.TenantKey, ttl, wait time.Duration) (string, error) {
	deadline := m.clock().Add(wait)

	for {
		if token, ok := m.tryAcquire(key, ttl); ok {
			return token, nil
		}
		if !m.clock().Before(deadline) {
			return "", ErrBusy
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(m.retry):
		}
	}
}

func (m *MemoryManager) tryAcquire(key domain.TenantKey, ttl time.Duration) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	if h, ok := m.held[key]; ok && now.Before(h.expiresAt) {
		return "", false
	}

	token := uuid.NewString()
	m.held[key] = holder{token: token, expiresAt: now.Add(ttl)}
	return token, true
}

func (m *MemoryManager) Release(ctx context.Context, key domain.TenantKey, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if h, ok := m.held[key]; ok && h.token == token {
		delete(m.held, key)
	}
	// Token mismatch: lock expired and was re-acquired. No-op success.
	return nil
}

var _ Manager = (*MemoryManager)(nil)
