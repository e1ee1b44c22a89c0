// Package api exposes backtests over HTTP: runs are submitted with
// optional overrides of the server configuration, executed synchronously,
// stored in the run registry and streamed to WebSocket subscribers.
package api

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/atmx/backtest-engine/internal/config"
	"github.com/atmx/backtest-engine/internal/engine"
	"github.com/atmx/backtest-engine/internal/feed"
	"github.com/atmx/backtest-engine/internal/metrics"
	"github.com/atmx/backtest-engine/internal/model"
	"github.com/atmx/backtest-engine/internal/store"
	"github.com/atmx/backtest-engine/internal/strategy"
)

// FeedFunc builds the event source for one run.
type FeedFunc func(cfg config.FeedConfig) (feed.Feed, error)

// Runner executes backtests. It is safe for concurrent use: every run gets
// its own strategies, engine and feed.
type Runner struct {
	feeds FeedFunc
	store store.Store
	hub   *WSHub // optional
	log   zerolog.Logger
}

// NewRunner creates a runner. Pass nil for hub if broadcasting is not
// needed.
func NewRunner(feeds FeedFunc, st store.Store, hub *WSHub, log zerolog.Logger) *Runner {
	return &Runner{feeds: feeds, store: st, hub: hub, log: log}
}

// Run executes one backtest described by cfg and records it.
func (r *Runner) Run(ctx context.Context, cfg *config.Config) (*store.Run, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	strategies, err := strategy.BuildAll(cfg.Strategies)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}

	src, err := r.feeds(cfg.Feed)
	if err != nil {
		return nil, err
	}
	events, err := src.Events(ctx)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}

	id := uuid.New().String()
	log := r.log.With().Str("run_id", id).Logger()

	opts := []engine.Option{engine.WithLogger(log)}
	if r.hub != nil {
		opts = append(opts, engine.WithTradeHook(func(t model.Trade) {
			r.hub.Broadcast(WSMessage{Type: MessageTrade, RunID: id, Trade: &t})
		}))
	}

	eng, err := engine.New(engine.Config{
		InitialCapital: cfg.InitialCapital(),
		FeeRate:        cfg.FeeRate(),
		Limits:         cfg.Limits(),
	}, strategies, opts...)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	res, err := eng.Run(events)
	if err != nil {
		return nil, err
	}
	metrics.ObserveRun(res, time.Since(start))

	run := &store.Run{
		ID:        id,
		CreatedAt: time.Now().UTC(),
		Config:    cfg,
		Result:    res,
	}
	if err := r.store.SaveRun(ctx, run); err != nil {
		return nil, fmt.Errorf("save run: %w", err)
	}

	if r.hub != nil {
		info := run.Info()
		r.hub.Broadcast(WSMessage{Type: MessageRunCompleted, RunID: id, Run: &info})
	}
	return run, nil
}
