package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ivmarkov/ticketflow/config"
	"github.com/ivmarkov/ticketflow/internal/domain"
	"github.com/redis/go-redis/v9"
)

type RedisCache struct {
	client    *redis.Client
	eventsTTL time.Duration
}

func NewRedisCache(cfg config.RedisConfig, eventsTTL time.Duration) *RedisCache {
	return &RedisCache{
		client:    redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}),
		eventsTTL: eventsTTL,
	}
}

func (c *RedisCache) GetEvents(ctx context.Context) ([]domain.Event, error) {
	data, err := c.client.Get(ctx, eventsKey()).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}

	var events []domain.Event
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, err
	}
	return events, nil
}

func (c *RedisCache) SetEvents(ctx context.Context, events []domain.Event) error {
	payload, err := json.Marshal(events)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, eventsKey(), payload, c.eventsTTL).Err()
}

func (c *RedisCache) InvalidateEvents(ctx context.Context) error {
	return c.client.Del(ctx, eventsKey()).Err()
}

// MarkTxnSeen is a fast-path deduplication marker for webhook deliveries.
// Advisory only: the unique (order_id, external_txn_id) constraint in
// postgres is the authoritative idempotency check, so a lost redis key never
// causes a double application.
func (c *RedisCache) MarkTxnSeen(ctx context.Context, externalTxnID string, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, txnSeenKey(externalTxnID), "seen", ttl).Result()
}

func (c *RedisCache) TxnSeen(ctx context.Context, externalTxnID string) (bool, error) {
	n, err := c.client.Exists(ctx, txnSeenKey(externalTxnID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (c *RedisCache) ClearTxnSeen(ctx context.Context, externalTxnID string) error {
	return c.client.Del(ctx, txnSeenKey(externalTxnID)).Err()
}

func eventsKey() string {
	return "cache:events"
}

func txnSeenKey(txnID string) string {
	return fmt.Sprintf("webhook:txn:%s", txnID)
}
