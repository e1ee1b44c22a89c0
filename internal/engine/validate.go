package engine

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atmx/backtest-engine/internal/model"
)

// ErrMalformedFeed is returned by Run before any state changes when the
// event stream violates its invariants.
var ErrMalformedFeed = errors.New("engine: malformed feed")

var unit = decimal.NewFromInt(1)

// ValidateFeed checks the whole stream up front: non-empty ids,
// non-decreasing timestamps, prices in [0, 1], non-negative volume and
// liquidity, and resolutions that never change or disappear once set.
func ValidateFeed(events []model.MarketEvent) error {
	resolved := make(map[string]model.Outcome)
	for i, ev := range events {
		if ev.InstrumentID == "" {
			return fmt.Errorf("%w: event %d has empty instrument id", ErrMalformedFeed, i)
		}
		if i > 0 && ev.Timestamp.Before(events[i-1].Timestamp) {
			return fmt.Errorf("%w: event %d (%s) goes back in time: %s < %s",
				ErrMalformedFeed, i, ev.InstrumentID, ev.Timestamp, events[i-1].Timestamp)
		}
		if !inUnit(ev.YesPrice) || !inUnit(ev.NoPrice) {
			return fmt.Errorf("%w: event %d (%s) price outside [0,1]: yes=%s no=%s",
				ErrMalformedFeed, i, ev.InstrumentID, ev.YesPrice, ev.NoPrice)
		}
		if ev.Volume.IsNegative() || ev.Liquidity.IsNegative() {
			return fmt.Errorf("%w: event %d (%s) negative volume or liquidity",
				ErrMalformedFeed, i, ev.InstrumentID)
		}

		prev, settled := resolved[ev.InstrumentID]
		switch {
		case settled && ev.Resolution == nil:
			return fmt.Errorf("%w: event %d (%s) unresolved after resolving %s",
				ErrMalformedFeed, i, ev.InstrumentID, prev)
		case settled && *ev.Resolution != prev:
			return fmt.Errorf("%w: event %d (%s) resolution changed from %s to %s",
				ErrMalformedFeed, i, ev.InstrumentID, prev, *ev.Resolution)
		case ev.Resolution != nil:
			if *ev.Resolution != model.OutcomeYes && *ev.Resolution != model.OutcomeNo {
				return fmt.Errorf("%w: event %d (%s) unknown outcome %q",
					ErrMalformedFeed, i, ev.InstrumentID, *ev.Resolution)
			}
			resolved[ev.InstrumentID] = *ev.Resolution
		}
	}
	return nil
}

func inUnit(p decimal.Decimal) bool {
	return !p.IsNegative() && p.LessThanOrEqual(unit)
}
