// Package strategy defines the Strategy interface and the six built-in
// prediction-market strategies.
//
// A strategy inspects one MarketEvent together with a read-only view of the
// portfolio and optionally proposes a position. Strategies never propose
// exits; those are decided by the risk manager or by market resolution.
package strategy

import (
	"github.com/shopspring/decimal"

	"github.com/atmx/backtest-engine/internal/model"
	"github.com/atmx/backtest-engine/internal/portfolio"
)

// Signal is the action a strategy proposes.
type Signal string

const (
	SignalBuy  Signal = "BUY"
	SignalHold Signal = "HOLD"
)

// MinShares is the smallest order any strategy will propose.
var MinShares = decimal.NewFromInt(10)

// Proposal is a strategy's suggested order for the event's instrument.
type Proposal struct {
	Signal Signal
	Side   model.Side
	Size   decimal.Decimal
}

// Strategy is implemented by every trading strategy.
type Strategy interface {
	// Name is the tag recorded on trades opened by this strategy.
	Name() string

	// Analyze returns a proposal and true, or false when the strategy has
	// nothing to say about this event.
	Analyze(ev model.MarketEvent, view portfolio.View) (Proposal, bool)
}

// Forgetter is implemented by strategies that keep per-instrument memory.
// The engine calls Forget once an instrument resolves.
type Forgetter interface {
	Forget(instrumentID string)
}

// buy builds a BUY proposal, applying the minimum viable size.
func buy(side model.Side, size decimal.Decimal) (Proposal, bool) {
	if size.LessThan(MinShares) {
		return Proposal{}, false
	}
	return Proposal{Signal: SignalBuy, Side: side, Size: size}, true
}

// cashShare returns min(frac*cash/price, cap).
func cashShare(view portfolio.View, frac, price, limit decimal.Decimal) decimal.Decimal {
	return decimal.Min(view.Cash().Mul(frac).Div(price), limit)
}

var (
	half = decimal.NewFromFloat(0.5)
	one  = decimal.NewFromInt(1)
)
