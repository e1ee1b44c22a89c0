// Package model defines the core domain types shared across the backtest engine.
// Prices, sizes and cash are shopspring decimals; float64 is reserved for ratios.
package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the outcome a position bets on.
type Side string

const (
	SideYes Side = "YES"
	SideNo  Side = "NO"
)

// Valid reports whether s is one of the two contract sides.
func (s Side) Valid() bool {
	return s == SideYes || s == SideNo
}

// Outcome is the settled result of a binary instrument.
type Outcome string

const (
	OutcomeYes Outcome = "YES"
	OutcomeNo  Outcome = "NO"
)

// Wins reports whether a position on side s pays out under outcome o.
func (o Outcome) Wins(s Side) bool {
	return string(o) == string(s)
}

// MarketEvent is an immutable snapshot of one instrument at one instant.
// YesPrice and NoPrice need not sum to 1; the gap is an arbitrage signal.
type MarketEvent struct {
	InstrumentID string          `json:"instrument_id"`
	Question     string          `json:"question,omitempty"`
	Category     string          `json:"category,omitempty"`
	YesPrice     decimal.Decimal `json:"yes_price"`
	NoPrice      decimal.Decimal `json:"no_price"`
	Volume       decimal.Decimal `json:"volume"`
	Liquidity    decimal.Decimal `json:"liquidity"`
	Timestamp    time.Time       `json:"timestamp"`
	Resolution   *Outcome        `json:"resolution,omitempty"` // nil while unresolved
}

// PriceFor returns the quoted price of the given side.
func (e MarketEvent) PriceFor(s Side) decimal.Decimal {
	if s == SideNo {
		return e.NoPrice
	}
	return e.YesPrice
}

// Resolved reports whether the event settles the instrument.
func (e MarketEvent) Resolved() bool {
	return e.Resolution != nil
}

// Position is one open holding in an instrument. The ledger owns positions;
// everyone else sees copies.
type Position struct {
	InstrumentID string              `json:"instrument_id"`
	Side         Side                `json:"side"`
	Size         decimal.Decimal     `json:"size"`
	EntryPrice   decimal.Decimal     `json:"entry_price"`
	CurrentPrice decimal.Decimal     `json:"current_price"`
	EntryTime    time.Time           `json:"entry_time"`
	StopLoss     decimal.NullDecimal `json:"stop_loss"`
	TakeProfit   decimal.NullDecimal `json:"take_profit"`
	Strategy     string              `json:"strategy"`
}

// Value is the mark-to-market value: size * current price.
func (p Position) Value() decimal.Decimal {
	return p.Size.Mul(p.CurrentPrice)
}

// PnL is the unrealized profit: size * (current - entry).
func (p Position) PnL() decimal.Decimal {
	return p.Size.Mul(p.CurrentPrice.Sub(p.EntryPrice))
}

// PnLPct is the unrealized return on entry price, in percent.
func (p Position) PnLPct() decimal.Decimal {
	if p.EntryPrice.IsZero() {
		return decimal.Zero
	}
	return p.CurrentPrice.Sub(p.EntryPrice).Div(p.EntryPrice).Mul(decimal.NewFromInt(100))
}

// Action distinguishes opening and closing ledger entries.
type Action string

const (
	ActionOpen  Action = "OPEN"
	ActionClose Action = "CLOSE"
)

// Close reasons recorded on Close trades.
const (
	ReasonStopLoss   = "stop_loss"
	ReasonTakeProfit = "take_profit"
	ReasonResolution = "resolution"
	ReasonEndOfRun   = "end_of_run"
)

// Trade is an immutable record of a ledger transaction.
// Once created, these are never modified or deleted.
type Trade struct {
	ID           string          `json:"id"`
	Seq          int             `json:"seq"`
	InstrumentID string          `json:"instrument_id"`
	Side         Side            `json:"side"`
	Action       Action          `json:"action"`
	Size         decimal.Decimal `json:"size"`
	Price        decimal.Decimal `json:"price"`
	Fee          decimal.Decimal `json:"fee"`
	Timestamp    time.Time       `json:"timestamp"`
	Strategy     string          `json:"strategy"`
	RealizedPnL  decimal.Decimal `json:"realized_pnl"` // zero for OPEN
	Reason       string          `json:"reason,omitempty"`
}

// TradeID formats the ledger id for sequence number seq.
func TradeID(seq int) string {
	return fmt.Sprintf("trade_%06d", seq)
}

// EquityPoint is one sample of the equity curve.
type EquityPoint struct {
	Timestamp  time.Time       `json:"timestamp"`
	TotalValue decimal.Decimal `json:"total_value"`
}
