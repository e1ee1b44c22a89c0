// Package store keeps completed backtest runs so the API can serve their
// results after the engine is gone.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/atmx/backtest-engine/internal/config"
	"github.com/atmx/backtest-engine/internal/engine"
)

var (
	ErrNotFound  = errors.New("store: run not found")
	ErrDuplicate = errors.New("store: run already exists")
)

// Run is one finished backtest with the configuration that produced it.
type Run struct {
	ID        string         `json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	Config    *config.Config `json:"config"`
	Result    *engine.Result `json:"result"`
}

// Info is the listing view of a run.
type Info struct {
	ID              string        `json:"id"`
	CreatedAt       time.Time     `json:"created_at"`
	Status          engine.Status `json:"status"`
	HaltReason      string        `json:"halt_reason,omitempty"`
	EventsProcessed int           `json:"events_processed"`
	Trades          int           `json:"trades"`
	FinalEquity     string        `json:"final_equity"`
	TotalReturn     float64       `json:"total_return"`
}

// Info summarizes r for listings.
func (r *Run) Info() Info {
	return Info{
		ID:              r.ID,
		CreatedAt:       r.CreatedAt,
		Status:          r.Result.Status,
		HaltReason:      r.Result.HaltReason,
		EventsProcessed: r.Result.EventsProcessed,
		Trades:          len(r.Result.Trades),
		FinalEquity:     r.Result.Summary.FinalEquity.String(),
		TotalReturn:     r.Result.Summary.TotalReturn,
	}
}

// Store is the run registry.
type Store interface {
	// SaveRun records a finished run. Ids are unique.
	SaveRun(ctx context.Context, run *Run) error

	// GetRun retrieves a run by id.
	GetRun(ctx context.Context, id string) (*Run, error)

	// ListRuns returns all runs, newest first.
	ListRuns(ctx context.Context) ([]*Run, error)
}
