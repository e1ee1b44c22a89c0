package risk

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/backtest-engine/internal/model"
	"github.com/atmx/backtest-engine/internal/portfolio"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// fakeView is a fixed read-only portfolio.
type fakeView struct {
	cash  decimal.Decimal
	total decimal.Decimal
	open  int
}

func (v fakeView) Cash() decimal.Decimal       { return v.cash }
func (v fakeView) TotalValue() decimal.Decimal { return v.total }
func (v fakeView) OpenPositions() int          { return v.open }
func (v fakeView) Position(string) (model.Position, bool) {
	return model.Position{}, false
}

var _ portfolio.View = fakeView{}

// --- Admission ---

func TestCheckAdmission_WithinLimits(t *testing.T) {
	m := NewManager(DefaultLimits())
	err := m.CheckAdmission(fakeView{cash: d(10000), total: d(10000)}, d(1000), d(0.45))
	if err != nil {
		t.Errorf("expected admission, got %v", err)
	}
}

func TestCheckAdmission_Order(t *testing.T) {
	m := NewManager(DefaultLimits())

	tests := []struct {
		name  string
		view  fakeView
		size  float64
		price float64
		want  error
	}{
		{"position count first", fakeView{cash: d(0), total: d(0), open: 10}, 1e6, 1, ErrMaxPositions},
		{"notional over max", fakeView{cash: d(100000), total: d(100000)}, 5000, 0.5, ErrPositionTooLarge},
		{"exposure over share", fakeView{cash: d(10000), total: d(10000)}, 4000, 0.5, ErrExposureExceeded},
		{"zero portfolio value", fakeView{cash: d(0), total: d(0)}, 10, 0.5, ErrExposureExceeded},
		{"cash short", fakeView{cash: d(100), total: d(10000)}, 1000, 0.5, ErrInsufficientCash},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := m.CheckAdmission(tt.view, d(tt.size), d(tt.price))
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestCheckAdmission_ExposureBoundaryInclusive(t *testing.T) {
	m := NewManager(DefaultLimits())
	// 1500 / 10000 = 0.15 exactly: allowed.
	err := m.CheckAdmission(fakeView{cash: d(10000), total: d(10000)}, d(2500), d(0.6))
	if err != nil {
		t.Errorf("exposure at the limit should pass, got %v", err)
	}
}

// --- Exit levels and triggers ---

func TestExitLevels(t *testing.T) {
	stop, target := ExitLevels(d(0.60))
	if !stop.Valid || !stop.Decimal.Equal(d(0.51)) {
		t.Errorf("expected stop 0.51, got %v", stop)
	}
	if !target.Valid || !target.Decimal.Equal(d(0.78)) {
		t.Errorf("expected target 0.78, got %v", target)
	}

	_, capped := ExitLevels(d(0.90))
	if !capped.Decimal.Equal(d(0.99)) {
		t.Errorf("expected target capped at 0.99, got %s", capped.Decimal)
	}
}

func position(side model.Side, entry float64) model.Position {
	stop, target := ExitLevels(d(entry))
	return model.Position{Side: side, Size: d(100), EntryPrice: d(entry), CurrentPrice: d(entry), StopLoss: stop, TakeProfit: target}
}

func TestCheckExit_Yes(t *testing.T) {
	pos := position(model.SideYes, 0.60)

	tests := []struct {
		price  float64
		reason string
		exit   bool
	}{
		{0.50, model.ReasonStopLoss, true},
		{0.51, model.ReasonStopLoss, true},
		{0.60, "", false},
		{0.78, model.ReasonTakeProfit, true},
		{0.90, model.ReasonTakeProfit, true},
	}
	for _, tt := range tests {
		reason, exit := CheckExit(pos, d(tt.price))
		if exit != tt.exit || reason != tt.reason {
			t.Errorf("price %.2f: expected (%q,%v), got (%q,%v)", tt.price, tt.reason, tt.exit, reason, exit)
		}
	}
}

func TestCheckExit_NoUsesMirroredComparisons(t *testing.T) {
	// NO side: stop fires at or above the stop level, target at or below
	// the target level. With the shared formula this stops out on almost
	// any price at or above 85% of entry.
	pos := position(model.SideNo, 0.40) // stop 0.34, target 0.52

	if reason, exit := CheckExit(pos, d(0.40)); !exit || reason != model.ReasonStopLoss {
		t.Errorf("expected stop on unchanged price, got (%q,%v)", reason, exit)
	}
	if reason, exit := CheckExit(pos, d(0.30)); !exit || reason != model.ReasonTakeProfit {
		t.Errorf("expected target below stop level, got (%q,%v)", reason, exit)
	}
}

func TestCheckExit_NoLevels(t *testing.T) {
	pos := model.Position{Side: model.SideYes, EntryPrice: d(0.5)}
	if _, exit := CheckExit(pos, d(0.01)); exit {
		t.Error("position without levels should never trigger")
	}
}

// --- Daily bookkeeping and breakers ---

func TestUpdateDaily_ResetsOnNewDayAndTracksPeak(t *testing.T) {
	var s State
	day1 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	UpdateDaily(&s, d(10000), day1)
	if !s.DailyStartEquity.Equal(d(10000)) || !s.PeakEquity.Equal(d(10000)) {
		t.Fatalf("unexpected initial state %+v", s)
	}

	UpdateDaily(&s, d(9000), day1.Add(5*time.Hour))
	if !s.DailyStartEquity.Equal(d(10000)) {
		t.Errorf("same day must not reset start equity, got %s", s.DailyStartEquity)
	}

	UpdateDaily(&s, d(9500), day1.Add(20*time.Hour))
	if !s.DailyStartEquity.Equal(d(9500)) {
		t.Errorf("new day should reset start equity to 9500, got %s", s.DailyStartEquity)
	}
	if !s.PeakEquity.Equal(d(10000)) {
		t.Errorf("peak should stay 10000, got %s", s.PeakEquity)
	}
}

func TestUpdateDaily_DayBoundaryIsUTC(t *testing.T) {
	est := time.FixedZone("EST", -5*3600)
	morning := time.Date(2026, 3, 1, 10, 0, 0, 0, est) // 15:00 UTC
	evening := time.Date(2026, 3, 1, 22, 0, 0, 0, est) // 03:00 UTC next day

	var local State
	UpdateDaily(&local, d(10000), morning)
	UpdateDaily(&local, d(9000), evening)
	if !local.DailyStartEquity.Equal(d(9000)) {
		t.Errorf("crossing UTC midnight should reset start equity, got %s", local.DailyStartEquity)
	}
	if local.CurrentDay.Location() != time.UTC {
		t.Errorf("expected a UTC day, got %s", local.CurrentDay.Location())
	}

	var utc State
	UpdateDaily(&utc, d(10000), morning.UTC())
	UpdateDaily(&utc, d(9000), evening.UTC())
	if !utc.CurrentDay.Equal(local.CurrentDay) || !utc.DailyStartEquity.Equal(local.DailyStartEquity) {
		t.Errorf("same instants in different zones diverged: %+v vs %+v", utc, local)
	}
}

func TestUpdateDaily_PeakMonotone(t *testing.T) {
	var s State
	ts := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	values := []float64{100, 120, 90, 130, 80, 125}
	prev := decimal.Zero
	for i, v := range values {
		UpdateDaily(&s, d(v), ts.Add(time.Duration(i)*7*time.Hour))
		if s.PeakEquity.LessThan(prev) {
			t.Fatalf("peak decreased at step %d: %s < %s", i, s.PeakEquity, prev)
		}
		prev = s.PeakEquity
	}
	if !s.PeakEquity.Equal(d(130)) {
		t.Errorf("expected peak 130, got %s", s.PeakEquity)
	}
}

func TestCheckCircuitBreakers(t *testing.T) {
	m := NewManager(DefaultLimits())

	tests := []struct {
		name  string
		state State
		total float64
		want  error
	}{
		{"fresh state", State{}, 5000, nil},
		{"daily loss within limit", State{PeakEquity: d(10000), DailyStartEquity: d(10000)}, 9100, nil},
		{"daily loss breached", State{PeakEquity: d(10000), DailyStartEquity: d(10000)}, 8900, ErrDailyLossLimit},
		{"drawdown breached", State{PeakEquity: d(12000), DailyStartEquity: d(9200)}, 9000, ErrMaxDrawdown},
		{"drawdown at limit", State{PeakEquity: d(10000), DailyStartEquity: d(8000)}, 8000, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := m.CheckCircuitBreakers(tt.state, d(tt.total))
			if tt.want == nil && err != nil {
				t.Errorf("expected no trip, got %v", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestReason(t *testing.T) {
	if Reason(nil) != "" {
		t.Error("nil error should have empty reason")
	}
	if got := Reason(ErrInsufficientCash); got != "insufficient_cash" {
		t.Errorf("unexpected reason %q", got)
	}
	if got := Reason(errors.New("boom")); got != "other" {
		t.Errorf("unexpected reason %q", got)
	}
}
