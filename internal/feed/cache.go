package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/atmx/backtest-engine/internal/model"
)

// Cached wraps a primary feed with a Redis read-through cache. The whole
// stream is stored under one key as JSON; a miss or an undecodable entry
// falls back to the primary and repopulates the cache.
type Cached struct {
	primary Feed
	rdb     *redis.Client
	key     string
	ttl     time.Duration
	log     zerolog.Logger
}

// NewCached creates a cached wrapper. key identifies the primary's stream,
// e.g. its source and time range.
func NewCached(primary Feed, rdb *redis.Client, key string, ttl time.Duration, log zerolog.Logger) *Cached {
	return &Cached{primary: primary, rdb: rdb, key: eventsKey(key), ttl: ttl, log: log}
}

func (c *Cached) Events(ctx context.Context) ([]model.MarketEvent, error) {
	data, err := c.rdb.Get(ctx, c.key).Bytes()
	if err == nil {
		var events []model.MarketEvent
		if json.Unmarshal(data, &events) == nil {
			c.log.Debug().Str("key", c.key).Int("events", len(events)).Msg("feed cache hit")
			return events, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		c.log.Warn().Err(err).Str("key", c.key).Msg("feed cache unavailable")
	}

	events, err := c.primary.Events(ctx)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(events); err == nil {
		if err := c.rdb.Set(ctx, c.key, data, c.ttl).Err(); err != nil {
			c.log.Warn().Err(err).Str("key", c.key).Msg("feed cache write failed")
		}
	}
	return events, nil
}

// Invalidate drops the cached stream.
func (c *Cached) Invalidate(ctx context.Context) error {
	return c.rdb.Del(ctx, c.key).Err()
}

func eventsKey(k string) string { return fmt.Sprintf("events:%s", k) }

// PostgresKey builds the cache key for a replay range.
func PostgresKey(from, to time.Time) string {
	return fmt.Sprintf("postgres:%s:%s", formatBound(from), formatBound(to))
}

func formatBound(t time.Time) string {
	if t.IsZero() {
		return "open"
	}
	return t.UTC().Format(time.RFC3339)
}
