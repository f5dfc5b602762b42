package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// cancel-notice dedup key: notice:cancel:{order_id}
const cancelNoticeKey = "notice:cancel:%s"

// RedisNoticeGuard suppresses duplicate cancellation notices across
// process instances via SET NX with a TTL.
type RedisNoticeGuard struct {
	client *redis.Client
	window time.Duration
}

func NewRedisNoticeGuard(client *redis.Client, window time.Duration) *RedisNoticeGuard {
	return &RedisNoticeGuard{client: client, window: window}
}

func (g *RedisNoticeGuard) FirstNotice(ctx context.Context, orderID uuid.UUID) bool {
	key := fmt.Sprintf(cancelNoticeKey, orderID)
	ok, err := g.client.SetNX(ctx, key, "1", g.window).Result()
	if err != nil {
		// When redis is down, erring toward a duplicate email beats
		// swallowing the only one.
		log.Warn().Err(err).Stringer("order_id", orderID).Msg("notify: cancel-notice guard unavailable, allowing notice")
		return true
	}
	return ok
}

// MemoryNoticeGuard is the process-local fallback: a time-boxed set of
// recently notified order ids. It does not survive restarts and does not
// coordinate across instances, which is acceptable for suppressing rapid
// duplicate calls within one process.
type MemoryNoticeGuard struct {
	mu      sync.Mutex
	window  time.Duration
	noticed map[uuid.UUID]time.Time
	now     func() time.Time
}

func NewMemoryNoticeGuard(window time.Duration) *MemoryNoticeGuard {
	return &MemoryNoticeGuard{
		window:  window,
		noticed: make(map[uuid.UUID]time.Time),
		now:     time.Now,
	}
}

func (g *MemoryNoticeGuard) FirstNotice(_ context.Context, orderID uuid.UUID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	// Sweep expired entries so the set stays bounded by the window.
	for id, at := range g.noticed {
		if now.Sub(at) > g.window {
			delete(g.noticed, id)
		}
	}

	if at, ok := g.noticed[orderID]; ok && now.Sub(at) <= g.window {
		return false
	}
	g.noticed[orderID] = now
	return true
}
