// Package claim lets overlapping relay instances agree on who forwards an item.
//
// During a rolling deploy two relays can be subscribed to the same source for
// a short while. Each one claims an item before delivering it; the loser logs
// and skips. Claims expire after a TTL and are never used as a history.
package claim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"vidrelay.app/relay/internal/model"
)

const keyPrefix = "relay:claim"

// Claimer reserves an item for this instance.
type Claimer interface {
	Claim(ctx context.Context, item model.ForwardableItem) (bool, error)
}

type RedisClaimer struct {
	client   *redis.Client
	instance string
	ttl      time.Duration
}

func NewRedisClaimer(client *redis.Client, instance string, ttl time.Duration) *RedisClaimer {
	return &RedisClaimer{
		client:   client,
		instance: instance,
		ttl:      ttl,
	}
}

// Claim returns true when this instance owns the item, including when it
// already claimed it earlier (a duplicate notification to the same instance).
func (c *RedisClaimer) Claim(ctx context.Context, item model.ForwardableItem) (bool, error) {
	key := Key(item)

	ok, err := c.client.SetNX(ctx, key, c.instance, c.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx %s: %w", key, err)
	}
	if ok {
		return true, nil
	}

	owner, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// Expired between SETNX and GET; try once more.
			return c.client.SetNX(ctx, key, c.instance, c.ttl).Result()
		}
		return false, fmt.Errorf("get %s: %w", key, err)
	}

	if owner != c.instance {
		slog.DebugContext(ctx, "item claimed by another instance", "key", key, "owner", owner)
		return false, nil
	}
	return true, nil
}

func Key(item model.ForwardableItem) string {
	return fmt.Sprintf("%s:%d:%d", keyPrefix, item.SourceID, item.MessageID)
}
