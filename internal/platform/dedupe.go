package platform

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper filters redelivered webhook events. Platforms retry deliveries
// they consider unacknowledged, so each delivery id is processed once.
type Deduper interface {
	// Seen marks the delivery id and reports whether it was already marked.
	Seen(ctx context.Context, deliveryID string) (bool, error)
}

// RedisDeduper keys delivery ids in Redis with a TTL, so dedupe survives
// restarts and is shared when several replicas receive deliveries.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper builds a deduper on an existing client.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

// Seen uses SETNX: the first caller for an id wins.
func (d *RedisDeduper) Seen(ctx context.Context, deliveryID string) (bool, error) {
	set, err := d.client.SetNX(ctx, "delivery:"+deliveryID, 1, d.ttl).Result()
	if err != nil {
		return false, err
	}
	return !set, nil
}

// MemoryDeduper is the in-process fallback when Redis is not configured.
type MemoryDeduper struct {
	mu   sync.Mutex
	ttl  time.Duration
	seen map[string]time.Time
}

// NewMemoryDeduper builds the fallback deduper.
func NewMemoryDeduper(ttl time.Duration) *MemoryDeduper {
	return &MemoryDeduper{ttl: ttl, seen: make(map[string]time.Time)}
}

// Seen marks the id, purging expired entries as it goes.
func (d *MemoryDeduper) Seen(ctx context.Context, deliveryID string) (bool, error) {
	now := time.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	for id, expiry := range d.seen {
		if now.After(expiry) {
			delete(d.seen, id)
		}
	}

	if _, ok := d.seen[deliveryID]; ok {
		return true, nil
	}
	d.seen[deliveryID] = now.Add(d.ttl)
	return false, nil
}
