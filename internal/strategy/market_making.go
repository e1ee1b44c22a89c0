package strategy

import (
	"github.com/shopspring/decimal"

	"github.com/atmx/backtest-engine/internal/model"
	"github.com/atmx/backtest-engine/internal/portfolio"
)

// MarketMaking buys the cheaper side when the quoted spread is wide enough,
// averaging in until the position reaches its value limit.
type MarketMaking struct {
	SpreadTarget  decimal.Decimal
	PositionLimit decimal.Decimal
}

// NewMarketMaking creates a market-making strategy.
func NewMarketMaking(spreadTarget, positionLimit decimal.Decimal) *MarketMaking {
	return &MarketMaking{SpreadTarget: spreadTarget, PositionLimit: positionLimit}
}

func (s *MarketMaking) Name() string { return KindMarketMaking }

func (s *MarketMaking) Analyze(ev model.MarketEvent, view portfolio.View) (Proposal, bool) {
	spread := ev.YesPrice.Sub(one.Sub(ev.NoPrice)).Abs()
	if spread.LessThan(s.SpreadTarget) {
		return Proposal{}, false
	}

	if pos, ok := view.Position(ev.InstrumentID); ok && pos.Value().GreaterThan(s.PositionLimit) {
		return Proposal{Signal: SignalHold, Side: pos.Side, Size: decimal.Zero}, true
	}

	side := model.SideYes
	if ev.YesPrice.GreaterThan(half) {
		side = model.SideNo
	}
	price := ev.PriceFor(side)
	if !price.IsPositive() {
		return Proposal{}, false
	}

	size := decimal.Min(
		s.PositionLimit.Div(price),
		view.Cash().Mul(decimal.NewFromFloat(0.1)).Div(price),
	)
	return buy(side, size)
}
