// Package analytics keeps lightweight per-tenant scheduling counters in
// Redis. Counters are bucketed by hour and expire on their own; losing
// them never affects scheduling correctness.
package analytics

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/postpilot-io/postpilot/internal/domain"
)

// DefaultRetention is how long a counter bucket survives after its last
// increment.
const DefaultRetention = 30 * 24 * time.Hour

type RedisSink struct {
	client    *redis.Client
	retention time.Duration
}

func NewRedisSink(client *redis.Client) *RedisSink {
	return &RedisSink{client: client, retention: DefaultRetention}
}

// WithRetention overrides the bucket TTL.
func (s *RedisSink) WithRetention(d time.Duration) *RedisSink {
	s.retention = d
	return s
}

// Record increments the tenant's hourly scheduled counter. Best effort:
// failures are logged and swallowed.
func (s *RedisSink) Record(ctx context.Context, rec domain.ScheduleRecord) {
	key := buildKey(rec.TenantKey, rec.ScheduledFor)

	pipe := s.client.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, s.retention)

	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("analytics: tenant=%s write failed: %v", rec.TenantKey, err)
	}
}

func buildKey(key domain.TenantKey, t time.Time) string {
	return fmt.Sprintf("postpilot:stats:%s:%s:scheduled:%s",
		key.Platform, key.Account, t.UTC().Format("2006010215"))
}
