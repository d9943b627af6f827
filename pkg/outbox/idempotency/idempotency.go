// Package idempotency deduplicates at-least-once deliveries per consumer.
package idempotency

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/angelmondragon/assetledger-backend/pkg/redis"
)

// Guard claims event ids for a single consumer with SETNX. A claim lives for
// the guard's TTL, which must outlast the broker's redelivery window.
//
// Keys look like `al:idempotency:evt:<consumer>:<event_id>` and hold the
// claim time, so an operator can tell when an event was first seen.
type Guard struct {
	store    redis.IdempotencyStore
	consumer string
	ttl      time.Duration
	now      func() time.Time
}

func NewGuard(store redis.IdempotencyStore, consumer string, ttl time.Duration) (*Guard, error) {
	consumer = strings.TrimSpace(consumer)
	switch {
	case store == nil:
		return nil, errors.New("idempotency store is required")
	case consumer == "":
		return nil, errors.New("consumer name is required")
	case ttl < 0:
		return nil, errors.New("ttl must be non-negative")
	}
	return &Guard{store: store, consumer: consumer, ttl: ttl, now: time.Now}, nil
}

// Claim reports whether this call is the first to see eventID.
func (g *Guard) Claim(ctx context.Context, eventID string) (bool, error) {
	key, err := g.key(eventID)
	if err != nil {
		return false, err
	}
	return g.store.SetNX(ctx, key, g.now().UTC().Format(time.RFC3339), g.ttl)
}

// Release drops a claim so a redelivery of eventID is processed again.
func (g *Guard) Release(ctx context.Context, eventID string) error {
	key, err := g.key(eventID)
	if err != nil {
		return err
	}
	return g.store.Del(ctx, key)
}

func (g *Guard) key(eventID string) (string, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return "", errors.New("event id is required")
	}
	return g.store.IdempotencyKey("evt:"+g.consumer, eventID), nil
}
