package strategy

import (
	"github.com/shopspring/decimal"

	"github.com/atmx/backtest-engine/internal/model"
	"github.com/atmx/backtest-engine/internal/portfolio"
)

var (
	sentimentCashShare = decimal.NewFromFloat(0.12)
	sentimentMaxShares = decimal.NewFromInt(600)
)

// Sentiment treats a volume surge over the first-seen baseline as crowd
// conviction and joins the side already priced above 0.5.
type Sentiment struct {
	VolumeThreshold decimal.Decimal

	baseline map[string]decimal.Decimal
}

// NewSentiment creates a sentiment strategy.
func NewSentiment(volumeThreshold decimal.Decimal) *Sentiment {
	return &Sentiment{
		VolumeThreshold: volumeThreshold,
		baseline:        make(map[string]decimal.Decimal),
	}
}

func (s *Sentiment) Name() string { return KindSentiment }

func (s *Sentiment) Analyze(ev model.MarketEvent, view portfolio.View) (Proposal, bool) {
	base, seen := s.baseline[ev.InstrumentID]
	if !seen {
		s.baseline[ev.InstrumentID] = ev.Volume
		return Proposal{}, false
	}

	ratio := one
	if base.IsPositive() {
		ratio = ev.Volume.Div(base)
	}
	if !ratio.GreaterThan(s.VolumeThreshold) {
		return Proposal{}, false
	}

	if _, held := view.Position(ev.InstrumentID); held {
		return Proposal{}, false
	}

	side := model.SideNo
	if ev.YesPrice.GreaterThan(half) {
		side = model.SideYes
	}
	price := ev.PriceFor(side)
	if !price.IsPositive() {
		return Proposal{}, false
	}
	return buy(side, cashShare(view, sentimentCashShare, price, sentimentMaxShares))
}

// Forget drops the volume baseline of a settled instrument.
func (s *Sentiment) Forget(instrumentID string) {
	delete(s.baseline, instrumentID)
}
