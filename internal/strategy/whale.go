package strategy

import (
	"github.com/shopspring/decimal"

	"github.com/atmx/backtest-engine/internal/model"
	"github.com/atmx/backtest-engine/internal/portfolio"
)

var (
	whaleCashShare = decimal.NewFromFloat(0.08)
	whaleMaxShares = decimal.NewFromInt(400)
	whaleLean      = decimal.NewFromFloat(0.55)
)

// WhaleTracking follows deep markets that lean clearly to one side, on the
// theory that large resting liquidity signals informed money.
type WhaleTracking struct {
	LargeOrderThreshold decimal.Decimal
}

// NewWhaleTracking creates a whale-tracking strategy.
func NewWhaleTracking(largeOrderThreshold decimal.Decimal) *WhaleTracking {
	return &WhaleTracking{LargeOrderThreshold: largeOrderThreshold}
}

func (s *WhaleTracking) Name() string { return KindWhaleTracking }

func (s *WhaleTracking) Analyze(ev model.MarketEvent, view portfolio.View) (Proposal, bool) {
	if !ev.Liquidity.GreaterThan(s.LargeOrderThreshold) {
		return Proposal{}, false
	}
	if _, held := view.Position(ev.InstrumentID); held {
		return Proposal{}, false
	}

	var side model.Side
	switch {
	case ev.YesPrice.GreaterThan(whaleLean):
		side = model.SideYes
	case ev.NoPrice.GreaterThan(whaleLean):
		side = model.SideNo
	default:
		return Proposal{}, false
	}

	price := ev.PriceFor(side)
	return buy(side, cashShare(view, whaleCashShare, price, whaleMaxShares))
}
