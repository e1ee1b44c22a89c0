package feed

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/atmx/backtest-engine/internal/config"
)

// Sources owns the long-lived connections feeds need and builds a fresh
// Feed per run.
type Sources struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
	log  zerolog.Logger
}

// Connect opens the PostgreSQL pool and Redis client named in cfg. Either
// may be absent; only the postgres source requires a pool.
func Connect(ctx context.Context, cfg config.FeedConfig, log zerolog.Logger) (*Sources, error) {
	s := &Sources{log: log}

	if cfg.PostgresURL != "" {
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("feed: connect postgres: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("feed: ping postgres: %w", err)
		}
		s.pool = pool
		log.Info().Msg("connected to PostgreSQL")
	}

	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("feed: invalid redis url: %w", err)
		}
		s.rdb = redis.NewClient(opt)
		log.Info().Msg("Redis feed cache enabled")
	}

	return s, nil
}

// Close releases all connections.
func (s *Sources) Close() {
	if s.rdb != nil {
		s.rdb.Close()
	}
	if s.pool != nil {
		s.pool.Close()
	}
}

// Postgres returns the replay feed over the pool, or nil without a pool.
func (s *Sources) Postgres(cfg config.FeedConfig) *Postgres {
	if s.pool == nil {
		return nil
	}
	return NewPostgres(s.pool, cfg.From, cfg.To)
}

// Feed builds the feed described by cfg. Postgres replays are cached in
// Redis when a client is configured; synthetic streams are cheap to
// regenerate and never cached.
func (s *Sources) Feed(cfg config.FeedConfig) (Feed, error) {
	switch cfg.Source {
	case SourceSynthetic:
		return NewSynthetic(SyntheticFromConfig(cfg.Synthetic))
	case SourcePostgres:
		pg := s.Postgres(cfg)
		if pg == nil {
			return nil, fmt.Errorf("%w: postgres source requested but no database is configured", ErrNotConnected)
		}
		if s.rdb == nil {
			return pg, nil
		}
		return NewCached(pg, s.rdb, PostgresKey(cfg.From, cfg.To), cfg.CacheTTL, s.log), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, cfg.Source)
	}
}

// SyntheticFromConfig converts the configuration section.
func SyntheticFromConfig(c config.SyntheticConfig) SyntheticConfig {
	return SyntheticConfig{
		Seed:          c.Seed,
		Days:          c.Days,
		MarketsPerDay: c.MarketsPerDay,
		Start:         c.Start,
		LMSRB:         c.LMSRB,
		FlowStd:       c.FlowStd,
		MispricingStd: c.MispricingStd,
		Bias:          c.Bias,
	}
}
