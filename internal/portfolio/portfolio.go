// Package portfolio implements the run ledger: cash, open positions keyed by
// instrument, an append-only trade log and the equity curve.
//
// The ledger is owned by the engine for the lifetime of a run. Strategies and
// the risk manager only ever see it through the read-only View interface.
package portfolio

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/backtest-engine/internal/model"
)

var (
	// ErrInsufficientCash is returned when an open would drive cash negative.
	ErrInsufficientCash = errors.New("portfolio: insufficient cash")

	// ErrNoPosition is returned when closing an instrument that is not held.
	ErrNoPosition = errors.New("portfolio: no open position")

	// ErrOpposingPosition is returned when opening the opposite side of a
	// held instrument. A ledger holds at most one position per instrument.
	ErrOpposingPosition = errors.New("portfolio: opposite side already held")

	// ErrInvalidOrder is returned for non-positive sizes or negative prices.
	ErrInvalidOrder = errors.New("portfolio: invalid order")
)

// View is the read-only surface handed to strategies and the risk manager.
type View interface {
	Cash() decimal.Decimal
	TotalValue() decimal.Decimal
	Position(instrumentID string) (model.Position, bool)
	OpenPositions() int
}

// Ledger holds the mutable state of one run.
type Ledger struct {
	cash      decimal.Decimal
	feesPaid  decimal.Decimal
	positions map[string]*model.Position
	order     []string // instrument ids in opening order
	trades    []model.Trade
	equity    []model.EquityPoint
}

// New creates a ledger funded with initial cash.
func New(initialCash decimal.Decimal) *Ledger {
	return &Ledger{
		cash:      initialCash,
		positions: make(map[string]*model.Position),
	}
}

// Cash returns uninvested cash.
func (l *Ledger) Cash() decimal.Decimal {
	return l.cash
}

// FeesPaid returns the cumulative fees charged on both legs.
func (l *Ledger) FeesPaid() decimal.Decimal {
	return l.feesPaid
}

// TotalValue returns cash plus the mark-to-market value of every position.
func (l *Ledger) TotalValue() decimal.Decimal {
	total := l.cash
	for _, p := range l.positions {
		total = total.Add(p.Value())
	}
	return total
}

// UnrealizedPnL sums the open P&L across positions.
func (l *Ledger) UnrealizedPnL() decimal.Decimal {
	total := decimal.Zero
	for _, p := range l.positions {
		total = total.Add(p.PnL())
	}
	return total
}

// Position returns a copy of the open position in instrumentID.
func (l *Ledger) Position(instrumentID string) (model.Position, bool) {
	p, ok := l.positions[instrumentID]
	if !ok {
		return model.Position{}, false
	}
	return *p, true
}

// OpenPositions returns the number of open positions.
func (l *Ledger) OpenPositions() int {
	return len(l.positions)
}

// Positions returns copies of all open positions in opening order.
func (l *Ledger) Positions() []model.Position {
	out := make([]model.Position, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, *l.positions[id])
	}
	return out
}

// Trades returns a copy of the trade log.
func (l *Ledger) Trades() []model.Trade {
	out := make([]model.Trade, len(l.trades))
	copy(out, l.trades)
	return out
}

// EquityCurve returns a copy of the equity samples.
func (l *Ledger) EquityCurve() []model.EquityPoint {
	out := make([]model.EquityPoint, len(l.equity))
	copy(out, l.equity)
	return out
}

// MarkPrice updates the current price of a held position. It reports false
// when the instrument is not held.
func (l *Ledger) MarkPrice(instrumentID string, price decimal.Decimal) bool {
	p, ok := l.positions[instrumentID]
	if !ok {
		return false
	}
	p.CurrentPrice = price
	return true
}

// OpenOrder describes an approved position opening.
type OpenOrder struct {
	InstrumentID string
	Side         model.Side
	Size         decimal.Decimal
	Price        decimal.Decimal
	Fee          decimal.Decimal
	Timestamp    time.Time
	Strategy     string

	// Levels derives stop-loss and take-profit from the entry price. It is
	// applied again to the averaged entry when adding to a position.
	Levels func(entry decimal.Decimal) (stop, target decimal.NullDecimal)
}

// Open deducts cost and fee, creates (or averages into) the position and
// appends an OPEN trade. Nothing changes when an error is returned.
func (l *Ledger) Open(o OpenOrder) (model.Trade, error) {
	if !o.Size.IsPositive() || o.Price.IsNegative() || o.Fee.IsNegative() || !o.Side.Valid() {
		return model.Trade{}, fmt.Errorf("%w: size=%s price=%s side=%q", ErrInvalidOrder, o.Size, o.Price, o.Side)
	}

	existing, held := l.positions[o.InstrumentID]
	if held && existing.Side != o.Side {
		return model.Trade{}, fmt.Errorf("%w: %s holds %s", ErrOpposingPosition, o.InstrumentID, existing.Side)
	}

	cost := o.Size.Mul(o.Price)
	if cost.Add(o.Fee).GreaterThan(l.cash) {
		return model.Trade{}, fmt.Errorf("%w: need %s, have %s", ErrInsufficientCash, cost.Add(o.Fee), l.cash)
	}

	if held {
		// Averaging in: size-weighted entry.
		newSize := existing.Size.Add(o.Size)
		existing.EntryPrice = existing.Size.Mul(existing.EntryPrice).Add(cost).Div(newSize)
		existing.Size = newSize
		existing.CurrentPrice = o.Price
	} else {
		existing = &model.Position{
			InstrumentID: o.InstrumentID,
			Side:         o.Side,
			Size:         o.Size,
			EntryPrice:   o.Price,
			CurrentPrice: o.Price,
			EntryTime:    o.Timestamp,
			Strategy:     o.Strategy,
		}
		l.positions[o.InstrumentID] = existing
		l.order = append(l.order, o.InstrumentID)
	}
	if o.Levels != nil {
		existing.StopLoss, existing.TakeProfit = o.Levels(existing.EntryPrice)
	}

	l.cash = l.cash.Sub(cost).Sub(o.Fee)
	l.feesPaid = l.feesPaid.Add(o.Fee)

	return l.appendTrade(model.Trade{
		InstrumentID: o.InstrumentID,
		Side:         o.Side,
		Action:       model.ActionOpen,
		Size:         o.Size,
		Price:        o.Price,
		Fee:          o.Fee,
		Timestamp:    o.Timestamp,
		Strategy:     o.Strategy,
		RealizedPnL:  decimal.Zero,
	}), nil
}

// Close realizes the position in instrumentID at exitPrice, charging
// feeRate on the exit notional, and appends exactly one CLOSE trade.
func (l *Ledger) Close(instrumentID string, exitPrice, feeRate decimal.Decimal, ts time.Time, reason string) (model.Trade, error) {
	p, ok := l.positions[instrumentID]
	if !ok {
		return model.Trade{}, fmt.Errorf("%w: %s", ErrNoPosition, instrumentID)
	}

	gross := p.Size.Mul(exitPrice)
	fee := gross.Mul(feeRate)
	pnl := p.Size.Mul(exitPrice.Sub(p.EntryPrice)).Sub(fee)

	l.cash = l.cash.Add(gross).Sub(fee)
	l.feesPaid = l.feesPaid.Add(fee)

	delete(l.positions, instrumentID)
	for i, id := range l.order {
		if id == instrumentID {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}

	return l.appendTrade(model.Trade{
		InstrumentID: instrumentID,
		Side:         p.Side,
		Action:       model.ActionClose,
		Size:         p.Size,
		Price:        exitPrice,
		Fee:          fee,
		Timestamp:    ts,
		Strategy:     p.Strategy,
		RealizedPnL:  pnl,
		Reason:       reason,
	}), nil
}

// RecordEquity appends a (timestamp, total value) sample.
func (l *Ledger) RecordEquity(ts time.Time) model.EquityPoint {
	pt := model.EquityPoint{Timestamp: ts, TotalValue: l.TotalValue()}
	l.equity = append(l.equity, pt)
	return pt
}

func (l *Ledger) appendTrade(t model.Trade) model.Trade {
	t.Seq = len(l.trades) + 1
	t.ID = model.TradeID(t.Seq)
	l.trades = append(l.trades, t)
	return t
}
