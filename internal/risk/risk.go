// Package risk implements the portfolio-level risk gate: position admission,
// stop-loss / take-profit triggers, and the daily-loss and max-drawdown
// circuit breakers.
//
// Every check is a pure function of the limits, the read-only portfolio view
// and the RiskState. The engine owns the state and applies the decisions.
package risk

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/backtest-engine/internal/model"
	"github.com/atmx/backtest-engine/internal/portfolio"
)

var (
	// ErrMaxPositions is returned when the open-position count is at its cap.
	ErrMaxPositions = errors.New("risk: maximum number of positions reached")

	// ErrPositionTooLarge is returned when the order notional exceeds the
	// per-position maximum.
	ErrPositionTooLarge = errors.New("risk: position size exceeds maximum")

	// ErrExposureExceeded is returned when the order notional is too large a
	// fraction of total portfolio value.
	ErrExposureExceeded = errors.New("risk: single market exposure exceeded")

	// ErrInsufficientCash is returned when the order notional exceeds cash.
	ErrInsufficientCash = errors.New("risk: insufficient cash")

	// ErrDailyLossLimit trips when the intraday loss exceeds the daily limit.
	ErrDailyLossLimit = errors.New("risk: daily loss limit exceeded")

	// ErrMaxDrawdown trips when equity falls too far below its peak.
	ErrMaxDrawdown = errors.New("risk: max drawdown exceeded")
)

var (
	stopLossFactor   = decimal.NewFromFloat(0.85)
	takeProfitFactor = decimal.NewFromFloat(1.3)
	takeProfitCap    = decimal.NewFromFloat(0.99)
)

// Limits are the run's risk parameters.
type Limits struct {
	MaxPositionSize         decimal.Decimal // max notional per position
	MaxPositions            int
	MaxSingleMarketExposure decimal.Decimal // fraction of total value
	DailyLossLimit          decimal.Decimal // fraction of day-start equity
	MaxDrawdown             decimal.Decimal // fraction of peak equity
}

// DefaultLimits returns the stock limits used when nothing is configured.
func DefaultLimits() Limits {
	return Limits{
		MaxPositionSize:         decimal.NewFromInt(2000),
		MaxPositions:            10,
		MaxSingleMarketExposure: decimal.NewFromFloat(0.15),
		DailyLossLimit:          decimal.NewFromFloat(0.10),
		MaxDrawdown:             decimal.NewFromFloat(0.20),
	}
}

// State is the per-run mutable risk bookkeeping.
type State struct {
	PeakEquity       decimal.Decimal
	DailyStartEquity decimal.Decimal
	CurrentDay       time.Time // midnight of the current event day; zero before the first event
}

// Manager evaluates the checks against a fixed set of limits.
type Manager struct {
	limits Limits
}

// NewManager creates a risk manager.
func NewManager(limits Limits) *Manager {
	return &Manager{limits: limits}
}

// CheckAdmission validates a proposed opening of size shares at price.
// Checks run in a fixed order and the first failure is returned.
func (m *Manager) CheckAdmission(view portfolio.View, size, price decimal.Decimal) error {
	// 1. Position count.
	if view.OpenPositions() >= m.limits.MaxPositions {
		return fmt.Errorf("%w: %d open", ErrMaxPositions, view.OpenPositions())
	}

	// 2. Per-position notional.
	notional := size.Mul(price)
	if notional.GreaterThan(m.limits.MaxPositionSize) {
		return fmt.Errorf("%w: %s > %s", ErrPositionTooLarge, notional.StringFixed(2), m.limits.MaxPositionSize)
	}

	// 3. Share of portfolio.
	total := view.TotalValue()
	if !total.IsPositive() {
		return fmt.Errorf("%w: portfolio value %s", ErrExposureExceeded, total)
	}
	if notional.Div(total).GreaterThan(m.limits.MaxSingleMarketExposure) {
		return fmt.Errorf("%w: %s of %s", ErrExposureExceeded, notional.StringFixed(2), total.StringFixed(2))
	}

	// 4. Cash.
	if notional.GreaterThan(view.Cash()) {
		return fmt.Errorf("%w: %s > %s", ErrInsufficientCash, notional.StringFixed(2), view.Cash().StringFixed(2))
	}

	return nil
}

// ExitLevels returns the stop-loss and take-profit set at open time. The
// same formula applies to both sides.
func ExitLevels(entry decimal.Decimal) (stop, target decimal.NullDecimal) {
	stop = decimal.NewNullDecimal(entry.Mul(stopLossFactor))
	target = decimal.NewNullDecimal(decimal.Min(entry.Mul(takeProfitFactor), takeProfitCap))
	return stop, target
}

// CheckExit reports whether pos should be closed at price, and why. YES
// positions stop out at or below the stop and take profit at or above the
// target; NO positions compare the other way round. Stop is checked first.
func CheckExit(pos model.Position, price decimal.Decimal) (string, bool) {
	if pos.StopLoss.Valid {
		stop := pos.StopLoss.Decimal
		if pos.Side == model.SideYes && price.LessThanOrEqual(stop) {
			return model.ReasonStopLoss, true
		}
		if pos.Side == model.SideNo && price.GreaterThanOrEqual(stop) {
			return model.ReasonStopLoss, true
		}
	}

	if pos.TakeProfit.Valid {
		target := pos.TakeProfit.Decimal
		if pos.Side == model.SideYes && price.GreaterThanOrEqual(target) {
			return model.ReasonTakeProfit, true
		}
		if pos.Side == model.SideNo && price.LessThanOrEqual(target) {
			return model.ReasonTakeProfit, true
		}
	}

	return "", false
}

// UpdateDaily resets the day-start equity on the first event of a new UTC
// calendar day and raises the peak to the running maximum.
func UpdateDaily(s *State, totalValue decimal.Decimal, ts time.Time) {
	y, mo, dd := ts.UTC().Date()
	day := time.Date(y, mo, dd, 0, 0, 0, 0, time.UTC)
	if s.CurrentDay.IsZero() || !s.CurrentDay.Equal(day) {
		s.CurrentDay = day
		s.DailyStartEquity = totalValue
	}
	if totalValue.GreaterThan(s.PeakEquity) {
		s.PeakEquity = totalValue
	}
}

// CheckCircuitBreakers returns ErrDailyLossLimit or ErrMaxDrawdown (wrapped)
// when either limit is breached.
func (m *Manager) CheckCircuitBreakers(s State, totalValue decimal.Decimal) error {
	if s.DailyStartEquity.IsPositive() {
		change := totalValue.Sub(s.DailyStartEquity).Div(s.DailyStartEquity)
		if change.LessThan(m.limits.DailyLossLimit.Neg()) {
			return fmt.Errorf("%w: %s%%", ErrDailyLossLimit, change.Mul(decimal.NewFromInt(100)).StringFixed(2))
		}
	}

	if s.PeakEquity.IsPositive() {
		drawdown := s.PeakEquity.Sub(totalValue).Div(s.PeakEquity)
		if drawdown.GreaterThan(m.limits.MaxDrawdown) {
			return fmt.Errorf("%w: %s%%", ErrMaxDrawdown, drawdown.Mul(decimal.NewFromInt(100)).StringFixed(2))
		}
	}

	return nil
}

// Reason maps an admission or breaker error to a short label for counters.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMaxPositions):
		return "max_positions"
	case errors.Is(err, ErrPositionTooLarge):
		return "position_too_large"
	case errors.Is(err, ErrExposureExceeded):
		return "exposure_exceeded"
	case errors.Is(err, ErrInsufficientCash):
		return "insufficient_cash"
	case errors.Is(err, ErrDailyLossLimit):
		return "daily_loss_limit"
	case errors.Is(err, ErrMaxDrawdown):
		return "max_drawdown"
	default:
		return "other"
	}
}
