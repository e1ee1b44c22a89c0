// Package feed provides market-event sources for backtests: a seeded
// synthetic generator, a PostgreSQL replay of recorded events, and a Redis
// read-through cache that can front either.
package feed

import (
	"context"
	"errors"

	"github.com/atmx/backtest-engine/internal/model"
)

var (
	// ErrUnknownSource is returned for an unsupported source name.
	ErrUnknownSource = errors.New("feed: unknown source")

	// ErrNotConnected is returned when a source needs a connection that was
	// never opened.
	ErrNotConnected = errors.New("feed: source not connected")
)

// Source names accepted in configuration.
const (
	SourceSynthetic = "synthetic"
	SourcePostgres  = "postgres"
)

// Feed produces the full, time-ordered event stream of one run.
type Feed interface {
	Events(ctx context.Context) ([]model.MarketEvent, error)
}
