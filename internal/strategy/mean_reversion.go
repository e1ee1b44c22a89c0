package strategy

import (
	"github.com/shopspring/decimal"

	"github.com/atmx/backtest-engine/internal/model"
	"github.com/atmx/backtest-engine/internal/portfolio"
)

var (
	meanRevCashShare = decimal.NewFromFloat(0.15)
	meanRevMaxShares = decimal.NewFromInt(800)
)

// MeanReversion bets on a return toward 0.5 when the YES price is pushed
// past an oversold or overbought band. Size scales with how far past the
// band the price sits.
type MeanReversion struct {
	Oversold   decimal.Decimal
	Overbought decimal.Decimal
}

// NewMeanReversion creates a mean-reversion strategy.
func NewMeanReversion(oversold, overbought decimal.Decimal) *MeanReversion {
	return &MeanReversion{Oversold: oversold, Overbought: overbought}
}

func (s *MeanReversion) Name() string { return KindMeanReversion }

func (s *MeanReversion) Analyze(ev model.MarketEvent, view portfolio.View) (Proposal, bool) {
	if _, held := view.Position(ev.InstrumentID); held {
		return Proposal{}, false
	}

	var (
		side       model.Side
		confidence decimal.Decimal
	)
	switch {
	case ev.YesPrice.LessThan(s.Oversold) && s.Oversold.IsPositive():
		side = model.SideYes
		confidence = s.Oversold.Sub(ev.YesPrice).Div(s.Oversold)
	case ev.YesPrice.GreaterThan(s.Overbought) && s.Overbought.LessThan(one):
		side = model.SideNo
		confidence = ev.YesPrice.Sub(s.Overbought).Div(one.Sub(s.Overbought))
	default:
		return Proposal{}, false
	}

	price := ev.PriceFor(side)
	if !price.IsPositive() {
		return Proposal{}, false
	}
	return buy(side, cashShare(view, meanRevCashShare.Mul(confidence), price, meanRevMaxShares))
}
