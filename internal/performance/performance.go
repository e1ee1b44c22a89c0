// Package performance reduces a finished run (trade log and equity curve)
// to summary statistics.
package performance

import (
	"encoding/json"
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/atmx/backtest-engine/internal/instrument"
	"github.com/atmx/backtest-engine/internal/model"
)

// TradingDaysPerYear annualizes the Sharpe ratio.
const TradingDaysPerYear = 252

// Input is everything Calculate needs from a run.
type Input struct {
	InitialCapital decimal.Decimal
	Trades         []model.Trade
	EquityCurve    []model.EquityPoint
}

// StrategyStats aggregates the trades attributed to one strategy tag.
type StrategyStats struct {
	Opened   int             `json:"opened"`
	Closed   int             `json:"closed"`
	Wins     int             `json:"wins"`
	Losses   int             `json:"losses"`
	WinRate  float64         `json:"win_rate"`
	TotalPnL decimal.Decimal `json:"total_pnl"`
	AvgPnL   decimal.Decimal `json:"avg_pnl"`
}

// Summary is the result of Calculate.
type Summary struct {
	InitialCapital decimal.Decimal `json:"initial_capital"`
	FinalEquity    decimal.Decimal `json:"final_equity"`
	TotalPnL       decimal.Decimal `json:"total_pnl"`
	TotalReturn    float64         `json:"total_return"`
	TotalFees      decimal.Decimal `json:"total_fees"`

	OpenTrades   int             `json:"open_trades"`
	ClosedTrades int             `json:"closed_trades"`
	Wins         int             `json:"wins"`
	Losses       int             `json:"losses"`
	WinRate      float64         `json:"win_rate"`
	ProfitFactor float64         `json:"profit_factor"`
	AvgWin       decimal.Decimal `json:"avg_win"`
	AvgLoss      decimal.Decimal `json:"avg_loss"`

	MaxDrawdown float64 `json:"max_drawdown"`
	SharpeRatio float64 `json:"sharpe_ratio"`

	ByStrategy map[string]*StrategyStats  `json:"by_strategy"`
	ByCategory map[string]decimal.Decimal `json:"by_category"`
}

// MarshalJSON encodes an infinite profit factor as "Infinity", which
// encoding/json cannot represent as a number.
func (s Summary) MarshalJSON() ([]byte, error) {
	type plain Summary
	var pf any = s.ProfitFactor
	if math.IsInf(s.ProfitFactor, 1) {
		pf = "Infinity"
	}
	return json.Marshal(struct {
		plain
		ProfitFactor any `json:"profit_factor"`
	}{plain(s), pf})
}

// Calculate computes the run summary. It never fails: degenerate inputs
// (no trades, flat or short equity curves) produce zero statistics.
func Calculate(in Input) Summary {
	s := Summary{
		InitialCapital: in.InitialCapital,
		FinalEquity:    in.InitialCapital,
		ByStrategy:     make(map[string]*StrategyStats),
		ByCategory:     make(map[string]decimal.Decimal),
	}
	if n := len(in.EquityCurve); n > 0 {
		s.FinalEquity = in.EquityCurve[n-1].TotalValue
	}
	s.TotalPnL = s.FinalEquity.Sub(in.InitialCapital)
	if in.InitialCapital.IsPositive() {
		s.TotalReturn = s.TotalPnL.Div(in.InitialCapital).InexactFloat64()
	}

	grossWin, grossLoss := decimal.Zero, decimal.Zero
	for _, t := range in.Trades {
		s.TotalFees = s.TotalFees.Add(t.Fee)
		st := s.ByStrategy[t.Strategy]
		if st == nil {
			st = &StrategyStats{}
			s.ByStrategy[t.Strategy] = st
		}

		if t.Action == model.ActionOpen {
			s.OpenTrades++
			st.Opened++
			continue
		}

		s.ClosedTrades++
		st.Closed++
		st.TotalPnL = st.TotalPnL.Add(t.RealizedPnL)
		cat := instrument.CategoryOf(t.InstrumentID)
		s.ByCategory[cat] = s.ByCategory[cat].Add(t.RealizedPnL)

		if t.RealizedPnL.IsPositive() {
			s.Wins++
			st.Wins++
			grossWin = grossWin.Add(t.RealizedPnL)
		} else {
			s.Losses++
			st.Losses++
			grossLoss = grossLoss.Add(t.RealizedPnL)
		}
	}

	if s.ClosedTrades > 0 {
		s.WinRate = float64(s.Wins) / float64(s.ClosedTrades)
	}
	if s.Wins > 0 {
		s.AvgWin = grossWin.Div(decimal.NewFromInt(int64(s.Wins)))
	}
	if s.Losses > 0 {
		s.AvgLoss = grossLoss.Div(decimal.NewFromInt(int64(s.Losses)))
	}
	s.ProfitFactor = profitFactor(grossWin, grossLoss)

	for _, st := range s.ByStrategy {
		if st.Closed > 0 {
			st.WinRate = float64(st.Wins) / float64(st.Closed)
			st.AvgPnL = st.TotalPnL.Div(decimal.NewFromInt(int64(st.Closed)))
		}
	}

	s.MaxDrawdown = MaxDrawdown(in.EquityCurve)
	s.SharpeRatio = Sharpe(in.EquityCurve)
	return s
}

func profitFactor(grossWin, grossLoss decimal.Decimal) float64 {
	loss := grossLoss.Abs()
	switch {
	case loss.IsPositive():
		return grossWin.Div(loss).InexactFloat64()
	case grossWin.IsPositive():
		return math.Inf(1)
	default:
		return 0
	}
}

// MaxDrawdown returns the largest peak-to-trough decline of the curve as a
// fraction of the running peak.
func MaxDrawdown(curve []model.EquityPoint) float64 {
	var peak, worst float64
	for i, pt := range curve {
		v := pt.TotalValue.InexactFloat64()
		if i == 0 || v > peak {
			peak = v
		}
		if peak > 0 {
			worst = math.Max(worst, (peak-v)/peak)
		}
	}
	return worst
}

// Sharpe returns mean/std of period returns scaled by √252, using the
// population standard deviation. It is 0 when the curve has fewer than two
// points or the returns do not vary.
func Sharpe(curve []model.EquityPoint) float64 {
	if len(curve) < 2 {
		return 0
	}
	returns := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].TotalValue.InexactFloat64()
		if prev == 0 {
			continue
		}
		returns = append(returns, curve[i].TotalValue.InexactFloat64()/prev-1)
	}
	if len(returns) == 0 {
		return 0
	}

	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	std := math.Sqrt(variance / float64(len(returns)))
	if std < 1e-12 {
		return 0
	}
	return mean / std * math.Sqrt(TradingDaysPerYear)
}

// StrategyNames returns the strategy tags in s sorted by name.
func (s Summary) StrategyNames() []string {
	names := make([]string, 0, len(s.ByStrategy))
	for name := range s.ByStrategy {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
