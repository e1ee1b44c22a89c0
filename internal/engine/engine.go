// Package engine runs a backtest: it replays a validated event stream
// through the risk manager, the registered strategies and the portfolio
// ledger, then reduces the result with the performance calculator.
//
// The loop is single-threaded and deterministic. For every event, in order:
//
//  1. daily bookkeeping and circuit breakers (a trip halts the run)
//  2. mark the held position and exit it on stop, target or resolution
//  3. skip strategy polling for resolving events
//  4. poll strategies in registration order and admit their proposals
//  5. append an equity sample
//
// Positions still open when the stream ends or the run halts are closed at
// their last known price.
package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/atmx/backtest-engine/internal/model"
	"github.com/atmx/backtest-engine/internal/performance"
	"github.com/atmx/backtest-engine/internal/portfolio"
	"github.com/atmx/backtest-engine/internal/risk"
	"github.com/atmx/backtest-engine/internal/strategy"
)

var (
	// ErrEngineUsed is returned when Run is called a second time.
	ErrEngineUsed = errors.New("engine: run already started")

	// ErrInvalidConfig is returned by New for unusable parameters.
	ErrInvalidConfig = errors.New("engine: invalid config")
)

// Status is the engine state.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusHalted    Status = "halted"
	StatusCompleted Status = "completed"
)

// Rejection reasons beyond the risk package's admission labels.
const (
	RejectOpposingPosition = "opposing_position"
	RejectInvalidPrice     = "invalid_price"
	RejectBelowMinSize     = "below_min_size"
)

// Config holds the run parameters.
type Config struct {
	InitialCapital decimal.Decimal
	FeeRate        decimal.Decimal
	Limits         risk.Limits
}

// Validate checks that the config describes a runnable backtest.
func (c Config) Validate() error {
	switch {
	case !c.InitialCapital.IsPositive():
		return fmt.Errorf("%w: initial capital must be positive, got %s", ErrInvalidConfig, c.InitialCapital)
	case c.FeeRate.IsNegative() || c.FeeRate.GreaterThanOrEqual(decimal.NewFromInt(1)):
		return fmt.Errorf("%w: fee rate must be in [0,1), got %s", ErrInvalidConfig, c.FeeRate)
	case c.Limits.MaxPositions <= 0:
		return fmt.Errorf("%w: max positions must be positive, got %d", ErrInvalidConfig, c.Limits.MaxPositions)
	case !c.Limits.MaxPositionSize.IsPositive():
		return fmt.Errorf("%w: max position size must be positive", ErrInvalidConfig)
	case !c.Limits.MaxSingleMarketExposure.IsPositive(),
		!c.Limits.DailyLossLimit.IsPositive(),
		!c.Limits.MaxDrawdown.IsPositive():
		return fmt.Errorf("%w: exposure, daily loss and drawdown limits must be positive", ErrInvalidConfig)
	}
	return nil
}

// Result is the outcome of one run.
type Result struct {
	Status          Status              `json:"status"`
	HaltReason      string              `json:"halt_reason,omitempty"`
	EventsProcessed int                 `json:"events_processed"`
	Trades          []model.Trade       `json:"trades"`
	EquityCurve     []model.EquityPoint `json:"equity_curve"`
	Summary         performance.Summary `json:"summary"`
	Rejections      map[string]int      `json:"rejections"`
	FinalCash       decimal.Decimal     `json:"final_cash"`
	PeakEquity      decimal.Decimal     `json:"peak_equity"`
	FeesPaid        decimal.Decimal     `json:"fees_paid"`
	StartedAt       time.Time           `json:"started_at"`
	FinishedAt      time.Time           `json:"finished_at"`
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithTradeHook registers a callback invoked synchronously after every
// ledger append. The hook receives a copy and cannot affect the run.
func WithTradeHook(fn func(model.Trade)) Option {
	return func(e *Engine) { e.onTrade = fn }
}

// Engine orchestrates a single backtest run. It is not safe for concurrent
// use and cannot be reused.
type Engine struct {
	cfg        Config
	strategies []strategy.Strategy
	risk       *risk.Manager
	ledger     *portfolio.Ledger
	state      risk.State

	status     Status
	haltReason string
	lastTime   time.Time
	processed  int
	rejections map[string]int

	log     zerolog.Logger
	onTrade func(model.Trade)
}

// New creates an engine for one run.
func New(cfg Config, strategies []strategy.Strategy, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:        cfg,
		strategies: strategies,
		risk:       risk.NewManager(cfg.Limits),
		ledger:     portfolio.New(cfg.InitialCapital),
		status:     StatusIdle,
		rejections: make(map[string]int),
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Status returns the current engine state.
func (e *Engine) Status() Status {
	return e.status
}

// Run replays events and returns the finalized result. A malformed stream
// is rejected with ErrMalformedFeed before anything is processed.
func (e *Engine) Run(events []model.MarketEvent) (*Result, error) {
	if e.status != StatusIdle {
		return nil, ErrEngineUsed
	}
	if err := ValidateFeed(events); err != nil {
		return nil, err
	}

	started := time.Now()
	e.status = StatusRunning
	e.log.Info().
		Int("events", len(events)).
		Int("strategies", len(e.strategies)).
		Str("initial_capital", e.cfg.InitialCapital.String()).
		Msg("backtest started")

	for _, ev := range events {
		if !e.step(ev) {
			break
		}
	}

	e.finalize()
	if e.status == StatusRunning {
		e.status = StatusCompleted
	}

	trades := e.ledger.Trades()
	curve := e.ledger.EquityCurve()
	res := &Result{
		Status:          e.status,
		HaltReason:      e.haltReason,
		EventsProcessed: e.processed,
		Trades:          trades,
		EquityCurve:     curve,
		Summary: performance.Calculate(performance.Input{
			InitialCapital: e.cfg.InitialCapital,
			Trades:         trades,
			EquityCurve:    curve,
		}),
		Rejections: e.rejections,
		FinalCash:  e.ledger.Cash(),
		PeakEquity: e.state.PeakEquity,
		FeesPaid:   e.ledger.FeesPaid(),
		StartedAt:  started,
		FinishedAt: time.Now(),
	}

	e.log.Info().
		Str("status", string(res.Status)).
		Int("events_processed", res.EventsProcessed).
		Int("trades", len(res.Trades)).
		Str("final_equity", res.Summary.FinalEquity.String()).
		Float64("max_drawdown", res.Summary.MaxDrawdown).
		Msg("backtest finished")

	return res, nil
}

// step processes one event. It returns false when a circuit breaker halts
// the run; the halting event itself is not processed.
func (e *Engine) step(ev model.MarketEvent) bool {
	total := e.ledger.TotalValue()
	risk.UpdateDaily(&e.state, total, ev.Timestamp)
	if err := e.risk.CheckCircuitBreakers(e.state, total); err != nil {
		e.status = StatusHalted
		e.haltReason = risk.Reason(err)
		e.log.Warn().Err(err).
			Time("at", ev.Timestamp).
			Str("total_value", total.String()).
			Str("unrealized_pnl", e.ledger.UnrealizedPnL().String()).
			Msg("circuit breaker tripped, halting")
		return false
	}

	e.processed++
	e.lastTime = ev.Timestamp

	e.manageHeld(ev)

	if ev.Resolved() {
		for _, s := range e.strategies {
			if f, ok := s.(strategy.Forgetter); ok {
				f.Forget(ev.InstrumentID)
			}
		}
	} else {
		e.pollStrategies(ev)
	}

	e.ledger.RecordEquity(ev.Timestamp)
	return true
}

// manageHeld marks the position in ev's instrument, if any, and closes it
// on resolution or on a stop-loss / take-profit trigger.
func (e *Engine) manageHeld(ev model.MarketEvent) {
	pos, held := e.ledger.Position(ev.InstrumentID)
	if !held {
		return
	}

	if ev.Resolved() {
		exit := decimal.Zero
		if ev.Resolution.Wins(pos.Side) {
			exit = unit
		}
		e.ledger.MarkPrice(ev.InstrumentID, exit)
		e.close(pos.InstrumentID, exit, ev.Timestamp, model.ReasonResolution)
		return
	}

	price := ev.PriceFor(pos.Side)
	e.ledger.MarkPrice(ev.InstrumentID, price)
	if reason, exit := risk.CheckExit(pos, price); exit {
		pos.CurrentPrice = price
		e.log.Debug().
			Str("instrument", pos.InstrumentID).
			Str("reason", reason).
			Str("pnl_pct", pos.PnLPct().StringFixed(2)).
			Msg("exit triggered")
		e.close(pos.InstrumentID, price, ev.Timestamp, reason)
	}
}

func (e *Engine) pollStrategies(ev model.MarketEvent) {
	for _, s := range e.strategies {
		p, ok := s.Analyze(ev, e.ledger)
		if !ok || p.Signal != strategy.SignalBuy {
			continue
		}
		e.open(s.Name(), ev, p)
	}
}

// open applies admission and the cash clamp to a proposal and, if it
// survives, records it in the ledger.
func (e *Engine) open(name string, ev model.MarketEvent, p strategy.Proposal) {
	price := ev.PriceFor(p.Side)
	if !price.IsPositive() {
		e.reject(name, ev, RejectInvalidPrice, nil)
		return
	}

	size := p.Size
	if err := e.risk.CheckAdmission(e.ledger, size, price); err != nil {
		e.reject(name, ev, risk.Reason(err), err)
		return
	}

	fee := size.Mul(price).Mul(e.cfg.FeeRate)
	if cash := e.ledger.Cash(); size.Mul(price).Add(fee).GreaterThan(cash) {
		size = e.affordable(cash, price)
		if size.LessThan(strategy.MinShares) {
			e.reject(name, ev, RejectBelowMinSize, nil)
			return
		}
		fee = size.Mul(price).Mul(e.cfg.FeeRate)
	}

	t, err := e.ledger.Open(portfolio.OpenOrder{
		InstrumentID: ev.InstrumentID,
		Side:         p.Side,
		Size:         size,
		Price:        price,
		Fee:          fee,
		Timestamp:    ev.Timestamp,
		Strategy:     name,
		Levels:       risk.ExitLevels,
	})
	switch {
	case errors.Is(err, portfolio.ErrOpposingPosition):
		e.reject(name, ev, RejectOpposingPosition, err)
		return
	case err != nil:
		e.reject(name, ev, risk.Reason(err), err)
		return
	}
	e.emit(t)
}

// affordable returns the largest size, truncated to 8 places, whose cost
// plus fee fits in cash.
func (e *Engine) affordable(cash, price decimal.Decimal) decimal.Decimal {
	perShare := price.Mul(unit.Add(e.cfg.FeeRate))
	size := cash.Div(perShare).Truncate(8)
	if size.Mul(perShare).GreaterThan(cash) {
		size = size.Sub(decimal.New(1, -8))
	}
	return size
}

func (e *Engine) close(instrumentID string, price decimal.Decimal, ts time.Time, reason string) {
	t, err := e.ledger.Close(instrumentID, price, e.cfg.FeeRate, ts, reason)
	if err != nil {
		// Only reachable if the ledger and engine disagree about holdings.
		e.log.Error().Err(err).Str("instrument", instrumentID).Msg("close failed")
		return
	}
	e.emit(t)
}

// finalize closes every remaining position at its last marked price, in
// opening order, stamped with the last processed event time.
func (e *Engine) finalize() {
	positions := e.ledger.Positions()
	for _, pos := range positions {
		e.close(pos.InstrumentID, pos.CurrentPrice, e.lastTime, model.ReasonEndOfRun)
	}
	if len(positions) > 0 {
		e.ledger.RecordEquity(e.lastTime)
	}
}

func (e *Engine) reject(name string, ev model.MarketEvent, reason string, err error) {
	e.rejections[reason]++
	e.log.Debug().Err(err).
		Str("strategy", name).
		Str("instrument", ev.InstrumentID).
		Str("reason", reason).
		Msg("proposal rejected")
}

func (e *Engine) emit(t model.Trade) {
	e.log.Debug().
		Str("id", t.ID).
		Str("instrument", t.InstrumentID).
		Str("action", string(t.Action)).
		Str("side", string(t.Side)).
		Str("size", t.Size.String()).
		Str("price", t.Price.String()).
		Str("reason", t.Reason).
		Msg("trade")
	if e.onTrade != nil {
		e.onTrade(t)
	}
}
