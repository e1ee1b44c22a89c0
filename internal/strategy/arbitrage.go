package strategy

import (
	"github.com/shopspring/decimal"

	"github.com/atmx/backtest-engine/internal/model"
	"github.com/atmx/backtest-engine/internal/portfolio"
)

var (
	arbCashShare = decimal.NewFromFloat(0.2)
	arbMaxShares = decimal.NewFromInt(1000)
)

// Arbitrage buys the cheaper side when YES + NO trades below 1 by more than
// the profit threshold.
type Arbitrage struct {
	MinProfitThreshold decimal.Decimal
}

// NewArbitrage creates an arbitrage strategy.
func NewArbitrage(minProfitThreshold decimal.Decimal) *Arbitrage {
	return &Arbitrage{MinProfitThreshold: minProfitThreshold}
}

func (s *Arbitrage) Name() string { return KindArbitrage }

func (s *Arbitrage) Analyze(ev model.MarketEvent, view portfolio.View) (Proposal, bool) {
	total := ev.YesPrice.Add(ev.NoPrice)
	if total.GreaterThanOrEqual(one.Sub(s.MinProfitThreshold)) || !total.IsPositive() {
		return Proposal{}, false
	}

	profit := one.Sub(total).Div(total)
	if profit.LessThan(s.MinProfitThreshold) {
		return Proposal{}, false
	}

	side := model.SideNo
	if ev.YesPrice.LessThanOrEqual(ev.NoPrice) {
		side = model.SideYes
	}
	price := ev.PriceFor(side)
	if !price.IsPositive() {
		return Proposal{}, false
	}

	return buy(side, cashShare(view, arbCashShare, price, arbMaxShares))
}
