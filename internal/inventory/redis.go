package inventory

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const defaultKeyPrefix = "inventory:stock:"

// lockScript decrements only when stock is positive.
// Returns -2 when the key is missing and -1 when stock is exhausted.
var lockScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if not v then return -2 end
if tonumber(v) <= 0 then return -1 end
return redis.call('DECR', KEYS[1])
`)

var releaseScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -2 end
return redis.call('INCR', KEYS[1])
`)

type RedisConfig struct {
	KeyPrefix string
	Logger    *zap.Logger
}

// RedisLedger keeps stock counters in Redis so several processes can share them.
// Descriptive catalog data stays in process.
type RedisLedger struct {
	client  redis.UniversalClient
	catalog Catalog
	items   map[string]Item
	prefix  string
	logger  *zap.Logger
}

// NewRedisLedger seeds missing stock keys with SETNX, so existing counters survive restarts.
func NewRedisLedger(ctx context.Context, client redis.UniversalClient, c Catalog, cfg RedisConfig) (*RedisLedger, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = defaultKeyPrefix
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	l := &RedisLedger{client: client, catalog: c.clone(), items: map[string]Item{}, prefix: cfg.KeyPrefix, logger: cfg.Logger}

	pipe := client.Pipeline()
	for _, it := range c.Items() {
		l.items[it.ID] = it
		pipe.SetNX(ctx, l.key(it.ID), it.Stock, 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("seed inventory stock: %w", err)
	}
	return l, nil
}

func (l *RedisLedger) key(id string) string {
	return l.prefix + id
}

func (l *RedisLedger) Lock(ctx context.Context, id string) (Item, error) {
	it, ok := l.items[id]
	if !ok {
		return Item{}, fmt.Errorf("%s: %w", id, ErrItemNotFound)
	}
	n, err := lockScript.Run(ctx, l.client, []string{l.key(id)}).Int()
	if err != nil {
		return Item{}, fmt.Errorf("redis lock %s: %w", id, err)
	}
	switch n {
	case -2:
		return Item{}, fmt.Errorf("%s: %w", id, ErrItemNotFound)
	case -1:
		it.Stock = 0
		return it, fmt.Errorf("%s: %w", id, ErrOutOfStock)
	}
	it.Stock = n
	l.logger.Info("inventory locked", zap.String("inventoryId", id), zap.Int("remaining", n))
	return it, nil
}

func (l *RedisLedger) Release(ctx context.Context, id string) (Item, error) {
	it, ok := l.items[id]
	if !ok {
		return Item{}, fmt.Errorf("%s: %w", id, ErrItemNotFound)
	}
	n, err := releaseScript.Run(ctx, l.client, []string{l.key(id)}).Int()
	if err != nil {
		return Item{}, fmt.Errorf("redis release %s: %w", id, err)
	}
	if n == -2 {
		return Item{}, fmt.Errorf("%s: %w", id, ErrItemNotFound)
	}
	it.Stock = n
	l.logger.Info("inventory released", zap.String("inventoryId", id), zap.Int("remaining", n))
	return it, nil
}

func (l *RedisLedger) Get(ctx context.Context, id string) (Item, error) {
	it, ok := l.items[id]
	if !ok {
		return Item{}, fmt.Errorf("%s: %w", id, ErrItemNotFound)
	}
	n, err := l.client.Get(ctx, l.key(id)).Int()
	if errors.Is(err, redis.Nil) {
		return Item{}, fmt.Errorf("%s: %w", id, ErrItemNotFound)
	}
	if err != nil {
		return Item{}, fmt.Errorf("redis get %s: %w", id, err)
	}
	it.Stock = n
	return it, nil
}

func (l *RedisLedger) stocks(ctx context.Context, ids []string) (map[string]int, error) {
	if len(ids) == 0 {
		return map[string]int{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = l.key(id)
	}
	vals, err := l.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget: %w", err)
	}
	out := make(map[string]int, len(ids))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("stock for %s: %w", ids[i], err)
		}
		out[ids[i]] = n
	}
	return out, nil
}

func (l *RedisLedger) Flights(ctx context.Context) ([]Flight, error) {
	ids := make([]string, len(l.catalog.Flights))
	for i, f := range l.catalog.Flights {
		ids[i] = f.ID
	}
	stock, err := l.stocks(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]Flight, len(l.catalog.Flights))
	for i, f := range l.catalog.Flights {
		f.AvailableSeats = stock[f.ID]
		out[i] = f
	}
	return out, nil
}

func (l *RedisLedger) Hotels(ctx context.Context) ([]Hotel, error) {
	ids := make([]string, len(l.catalog.Hotels))
	for i, h := range l.catalog.Hotels {
		ids[i] = h.ID
	}
	stock, err := l.stocks(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]Hotel, len(l.catalog.Hotels))
	for i, h := range l.catalog.Hotels {
		h.AvailableRooms = stock[h.ID]
		out[i] = h
	}
	return out, nil
}
