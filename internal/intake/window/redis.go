package window

import (
	"context"
	"sync"
	"time"

	intakedomain "github.com/rcarraroia/slim-quality-sub008/internal/intake/domain"
	"github.com/rcarraroia/slim-quality-sub008/internal/ratelimit"
)

const redisKeyPrefix = "affiliate:intake:event:"

// RedisWindow shares the window across replicas. Each claim is a key with the
// retention as TTL; only the claiming process can forget it.
type RedisWindow struct {
	claims    *ratelimit.ClaimStore
	retention time.Duration

	mu   sync.Mutex
	held map[string]ratelimit.Claim
}

func NewRedisWindow(claims *ratelimit.ClaimStore, retention time.Duration) *RedisWindow {
	return &RedisWindow{
		claims:    claims,
		retention: retention,
		held:      make(map[string]ratelimit.Claim),
	}
}

func (w *RedisWindow) Claim(ctx context.Context, eventID string) (bool, error) {
	claim, ok, err := w.claims.Acquire(ctx, eventID, w.retention)
	if err != nil || !ok {
		return false, err
	}
	w.mu.Lock()
	w.held[eventID] = claim
	w.mu.Unlock()
	return true, nil
}

func (w *RedisWindow) Forget(ctx context.Context, eventID string) error {
	w.mu.Lock()
	claim, ok := w.held[eventID]
	delete(w.held, eventID)
	w.mu.Unlock()
	if !ok {
		return nil
	}
	_, err := w.claims.Release(ctx, claim)
	return err
}

// Done drops the local claim once an event is accepted for good; the Redis
// key stays until its TTL.
func (w *RedisWindow) Done(eventID string) {
	w.mu.Lock()
	delete(w.held, eventID)
	w.mu.Unlock()
}

func (w *RedisWindow) Close() error {
	w.mu.Lock()
	w.held = make(map[string]ratelimit.Claim)
	w.mu.Unlock()
	return nil
}

var (
	_ intakedomain.EventWindow = (*MemoryWindow)(nil)
	_ intakedomain.EventWindow = (*RedisWindow)(nil)
)
