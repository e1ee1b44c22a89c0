package strategy

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Strategy tags, also used as Spec kinds.
const (
	KindMarketMaking  = "market_making"
	KindArbitrage     = "arbitrage"
	KindMomentum      = "momentum"
	KindMeanReversion = "mean_reversion"
	KindSentiment     = "sentiment"
	KindWhaleTracking = "whale_tracking"
)

var (
	ErrUnknownKind  = errors.New("strategy: unknown kind")
	ErrInvalidParam = errors.New("strategy: invalid parameter")
)

// Spec describes one strategy instance in a run configuration.
// Missing params fall back to the defaults below.
type Spec struct {
	Kind   string             `yaml:"kind" json:"kind"`
	Params map[string]float64 `yaml:"params,omitempty" json:"params,omitempty"`
}

var defaults = map[string]map[string]float64{
	KindMarketMaking:  {"spread_target": 0.02, "position_limit": 500},
	KindArbitrage:     {"min_profit_threshold": 0.005},
	KindMomentum:      {"lookback": 10, "threshold": 0.05},
	KindMeanReversion: {"oversold": 0.25, "overbought": 0.75},
	KindSentiment:     {"volume_threshold": 2.0},
	KindWhaleTracking: {"large_order_threshold": 10000},
}

// DefaultSpecs returns the six built-in strategies in their default order.
func DefaultSpecs() []Spec {
	return []Spec{
		{Kind: KindMarketMaking},
		{Kind: KindArbitrage},
		{Kind: KindMomentum},
		{Kind: KindMeanReversion},
		{Kind: KindSentiment},
		{Kind: KindWhaleTracking},
	}
}

// Build creates a fresh strategy instance from a spec.
func Build(spec Spec) (Strategy, error) {
	def, ok := defaults[spec.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, spec.Kind)
	}

	p := make(map[string]float64, len(def))
	for k, v := range def {
		p[k] = v
	}
	for k, v := range spec.Params {
		if _, known := def[k]; !known {
			return nil, fmt.Errorf("%w: %s has no parameter %q", ErrInvalidParam, spec.Kind, k)
		}
		if v < 0 {
			return nil, fmt.Errorf("%w: %s.%s must be non-negative, got %v", ErrInvalidParam, spec.Kind, k, v)
		}
		p[k] = v
	}
	dec := func(k string) decimal.Decimal { return decimal.NewFromFloat(p[k]) }

	switch spec.Kind {
	case KindMarketMaking:
		return NewMarketMaking(dec("spread_target"), dec("position_limit")), nil
	case KindArbitrage:
		return NewArbitrage(dec("min_profit_threshold")), nil
	case KindMomentum:
		return NewMomentum(int(p["lookback"]), dec("threshold")), nil
	case KindMeanReversion:
		if p["oversold"] >= p["overbought"] || p["overbought"] > 1 {
			return nil, fmt.Errorf("%w: mean_reversion needs oversold < overbought <= 1", ErrInvalidParam)
		}
		return NewMeanReversion(dec("oversold"), dec("overbought")), nil
	case KindSentiment:
		return NewSentiment(dec("volume_threshold")), nil
	default:
		return NewWhaleTracking(dec("large_order_threshold")), nil
	}
}

// BuildAll builds specs in order. Each call returns new instances so that
// runs never share strategy memory.
func BuildAll(specs []Spec) ([]Strategy, error) {
	out := make([]Strategy, 0, len(specs))
	for i, spec := range specs {
		s, err := Build(spec)
		if err != nil {
			return nil, fmt.Errorf("strategies[%d]: %w", i, err)
		}
		out = append(out, s)
	}
	return out, nil
}
