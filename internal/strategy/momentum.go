package strategy

import (
	"github.com/shopspring/decimal"

	"github.com/atmx/backtest-engine/internal/model"
	"github.com/atmx/backtest-engine/internal/portfolio"
)

var (
	momentumCashShare = decimal.NewFromFloat(0.1)
	momentumMaxShares = decimal.NewFromInt(500)
)

// Momentum follows the YES-price trend over a fixed lookback window.
// Only the last Lookback prices per instrument are retained.
type Momentum struct {
	Lookback  int
	Threshold decimal.Decimal

	history map[string][]decimal.Decimal
}

// NewMomentum creates a momentum strategy.
func NewMomentum(lookback int, threshold decimal.Decimal) *Momentum {
	if lookback < 2 {
		lookback = 2
	}
	return &Momentum{
		Lookback:  lookback,
		Threshold: threshold,
		history:   make(map[string][]decimal.Decimal),
	}
}

func (s *Momentum) Name() string { return KindMomentum }

func (s *Momentum) Analyze(ev model.MarketEvent, view portfolio.View) (Proposal, bool) {
	prices := append(s.history[ev.InstrumentID], ev.YesPrice)
	if len(prices) > s.Lookback {
		prices = prices[len(prices)-s.Lookback:]
	}
	s.history[ev.InstrumentID] = prices

	if len(prices) < s.Lookback || !prices[0].IsPositive() {
		return Proposal{}, false
	}

	move := prices[len(prices)-1].Sub(prices[0]).Div(prices[0])

	var side model.Side
	switch {
	case move.GreaterThan(s.Threshold):
		side = model.SideYes
	case move.LessThan(s.Threshold.Neg()):
		side = model.SideNo
	default:
		return Proposal{}, false
	}

	if _, held := view.Position(ev.InstrumentID); held {
		return Proposal{}, false
	}

	price := ev.PriceFor(side)
	if !price.IsPositive() {
		return Proposal{}, false
	}
	return buy(side, cashShare(view, momentumCashShare, price, momentumMaxShares))
}

// Forget drops the price history of a settled instrument.
func (s *Momentum) Forget(instrumentID string) {
	delete(s.history, instrumentID)
}
