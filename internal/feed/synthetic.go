package feed

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/backtest-engine/internal/instrument"
	"github.com/atmx/backtest-engine/internal/lmsr"
	"github.com/atmx/backtest-engine/internal/model"
)

const (
	minLifecycleHours = 24
	maxLifecycleHours = 720
)

var (
	priceFloor = decimal.NewFromFloat(0.01)
	priceCeil  = decimal.NewFromFloat(0.99)
)

// SyntheticConfig parameterizes the generator.
type SyntheticConfig struct {
	Seed          int64
	Days          int
	MarketsPerDay int
	Start         time.Time

	// LMSRB is the liquidity of the book each market's price is read from.
	LMSRB float64
	// FlowStd is the standard deviation of net hourly order flow, in shares.
	FlowStd float64
	// MispricingStd controls the YES+NO gap below 1. Zero quotes exact
	// complements.
	MispricingStd float64
	// Bias blends the final price with a coin flip when resolving:
	// P(YES) = yes·bias + 0.5·(1−bias).
	Bias float64
}

// DefaultSyntheticConfig returns 90 days of five new markets per day.
func DefaultSyntheticConfig() SyntheticConfig {
	return SyntheticConfig{
		Seed:          42,
		Days:          90,
		MarketsPerDay: 5,
		Start:         time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		LMSRB:         100,
		FlowStd:       4,
		MispricingStd: 0.01,
		Bias:          0.5,
	}
}

// Validate reports unusable generator parameters.
func (c SyntheticConfig) Validate() error {
	switch {
	case c.Days < 0 || c.MarketsPerDay < 0:
		return fmt.Errorf("feed: days and markets_per_day must be non-negative")
	case c.LMSRB <= 0:
		return fmt.Errorf("feed: lmsr_b must be positive, got %v", c.LMSRB)
	case c.FlowStd < 0 || c.MispricingStd < 0:
		return fmt.Errorf("feed: flow_std and mispricing_std must be non-negative")
	case c.Bias < 0 || c.Bias > 1:
		return fmt.Errorf("feed: bias must be in [0,1], got %v", c.Bias)
	}
	return nil
}

// Synthetic generates a deterministic event stream from a seed.
type Synthetic struct {
	cfg SyntheticConfig
}

// NewSynthetic creates a generator.
func NewSynthetic(cfg SyntheticConfig) (*Synthetic, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Synthetic{cfg: cfg}, nil
}

// Events generates the stream. Every market emits one event per hour of its
// lifecycle; the last one resolves it. The result is stable-sorted by time.
func (s *Synthetic) Events(ctx context.Context) ([]model.MarketEvent, error) {
	rng := rand.New(rand.NewSource(s.cfg.Seed))
	b := decimal.NewFromFloat(s.cfg.LMSRB)

	var events []model.MarketEvent
	counter := 0
	for day := 0; day < s.cfg.Days; day++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		listed := s.cfg.Start.Add(time.Duration(day) * 24 * time.Hour)
		for i := 0; i < s.cfg.MarketsPerDay; i++ {
			counter++
			evs, err := s.market(rng, b, counter, listed)
			if err != nil {
				return nil, err
			}
			events = append(events, evs...)
		}
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
	return events, nil
}

// market simulates one instrument from listing to resolution.
func (s *Synthetic) market(rng *rand.Rand, b decimal.Decimal, n int, listed time.Time) ([]model.MarketEvent, error) {
	category := instrument.Categories[rng.Intn(len(instrument.Categories))]
	questions := instrument.Questions[category]
	question := questions[rng.Intn(len(questions))]
	id, err := instrument.Format(category, n)
	if err != nil {
		return nil, err
	}

	yes := clampPrice(decimal.NewFromFloat(beta22(rng)).Round(3))
	book, err := lmsr.NewBook(b, yes)
	if err != nil {
		return nil, fmt.Errorf("feed: seed book for %s: %w", id, err)
	}
	volume := math.Exp(8 + rng.NormFloat64())
	liquidity := math.Exp(7 + 0.8*rng.NormFloat64())

	hours := minLifecycleHours + rng.Intn(maxLifecycleHours-minLifecycleHours)
	out := make([]model.MarketEvent, 0, hours)
	ts := listed
	for h := 0; h < hours; h++ {
		cost, p := book.Apply(decimal.NewFromFloat(rng.NormFloat64() * s.cfg.FlowStd))
		yes = clampPrice(p.Round(3))
		volume = volume*math.Exp(0.1*rng.NormFloat64()) + math.Abs(cost.InexactFloat64())
		liquidity *= math.Exp(0.05 * rng.NormFloat64())
		ts = ts.Add(time.Hour)

		ev := model.MarketEvent{
			InstrumentID: id,
			Question:     question,
			Category:     category,
			YesPrice:     yes,
			NoPrice:      s.noPrice(rng, yes),
			Volume:       decimal.NewFromFloat(volume).Round(2),
			Liquidity:    decimal.NewFromFloat(liquidity).Round(2),
			Timestamp:    ts,
		}

		if h == hours-1 {
			pYes := yes.InexactFloat64()*s.cfg.Bias + 0.5*(1-s.cfg.Bias)
			outcome := model.OutcomeNo
			ev.YesPrice, ev.NoPrice = decimal.Zero, decimal.NewFromInt(1)
			if rng.Float64() < pYes {
				outcome = model.OutcomeYes
				ev.YesPrice, ev.NoPrice = decimal.NewFromInt(1), decimal.Zero
			}
			ev.Resolution = &outcome
		}
		out = append(out, ev)
	}
	return out, nil
}

// noPrice quotes NO as the complement of YES less a non-negative gap.
func (s *Synthetic) noPrice(rng *rand.Rand, yes decimal.Decimal) decimal.Decimal {
	no := decimal.NewFromInt(1).Sub(yes)
	if s.cfg.MispricingStd > 0 {
		gap := math.Abs(rng.NormFloat64() * s.cfg.MispricingStd)
		no = no.Sub(decimal.NewFromFloat(gap)).Round(3)
	}
	return decimal.Max(no, decimal.Zero)
}

// beta22 samples Beta(2,2) as X/(X+Y) with X, Y ~ Gamma(2,1).
func beta22(rng *rand.Rand) float64 {
	x := rng.ExpFloat64() + rng.ExpFloat64()
	y := rng.ExpFloat64() + rng.ExpFloat64()
	return x / (x + y)
}

func clampPrice(p decimal.Decimal) decimal.Decimal {
	return decimal.Max(priceFloor, decimal.Min(priceCeil, p))
}
