package barrier

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"mediagen/internal/domain"
)

// Keys live long enough to survive slow uploads but are reclaimed if a root
// job is abandoned past any plausible retry horizon.
const redisKeyTTL = 24 * time.Hour

// Redis implements Barrier on a shared Redis instance so that siblings
// running on different worker processes still contend on a single atomic
// counter. DECR is atomic server-side, which makes decrement-to-zero a
// single-winner operation.
type Redis struct {
	client *redis.Client
}

// NewRedis wraps an existing Redis client.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func remainingKey(parentID string) string { return "barrier:remaining:" + parentID }
func sizeKey(parentID string) string      { return "barrier:size:" + parentID }

// Init arms the counter at n and records the set size for the finalize
// cross-check.
func (b *Redis) Init(ctx context.Context, parentID string, n int) error {
	if n <= 0 {
		return fmt.Errorf("barrier size must be positive, got %d", n)
	}
	if err := b.client.Set(ctx, remainingKey(parentID), n, redisKeyTTL).Err(); err != nil {
		return fmt.Errorf("barrier init: %w", err)
	}
	if err := b.client.Set(ctx, sizeKey(parentID), n, redisKeyTTL).Err(); err != nil {
		return fmt.Errorf("barrier init size: %w", err)
	}
	return nil
}

// Arrive atomically decrements the remaining counter. Exactly one arrival
// observes zero; a decrement past zero means more arrivals happened than the
// barrier was armed for.
func (b *Redis) Arrive(ctx context.Context, parentID string) (bool, error) {
	remaining, err := b.client.Decr(ctx, remainingKey(parentID)).Result()
	if err != nil {
		return false, fmt.Errorf("barrier arrive: %w", err)
	}
	if remaining < 0 {
		size, _ := b.Size(ctx, parentID)
		return false, &domain.BarrierInconsistencyError{ParentID: parentID, Expected: size, Got: size + int(-remaining)}
	}
	return remaining == 0, nil
}

// Size returns the set size recorded at Init.
func (b *Redis) Size(ctx context.Context, parentID string) (int, error) {
	n, err := b.client.Get(ctx, sizeKey(parentID)).Int()
	if err != nil {
		if err == redis.Nil {
			return 0, domain.ErrNotFound
		}
		return 0, fmt.Errorf("barrier size: %w", err)
	}
	return n, nil
}

// Forget deletes both keys.
func (b *Redis) Forget(ctx context.Context, parentID string) error {
	if err := b.client.Del(ctx, remainingKey(parentID), sizeKey(parentID)).Err(); err != nil {
		return fmt.Errorf("barrier forget: %w", err)
	}
	return nil
}

var _ Barrier = (*Redis)(nil)
