// Package lmsr implements a binary Logarithmic Market Scoring Rule book.
//
// The synthetic feed uses it as the price process for generated markets:
// random order flow is routed through a Book and the resulting YES
// probability becomes the quoted price. Quantities and costs are decimals;
// the exponentials are evaluated in float64 with max-subtraction and
// converted back immediately.
package lmsr

import (
	"errors"
	"math"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidLiquidity is returned when b <= 0.
	ErrInvalidLiquidity = errors.New("lmsr: liquidity parameter b must be positive")

	// ErrInvalidPrice is returned when seeding a book outside (0, 1).
	ErrInvalidPrice = errors.New("lmsr: price must be strictly between 0 and 1")

	// MinPrice and MaxPrice bound every quoted probability.
	MinPrice = decimal.NewFromFloat(0.001)
	MaxPrice = decimal.NewFromFloat(0.999)

	// PriceScale is the number of decimal places for prices and costs.
	PriceScale int32 = 8
)

// MarketMaker evaluates the LMSR cost and price functions for a fixed b.
// It holds no quantities.
type MarketMaker struct {
	b decimal.Decimal
}

// NewMarketMaker creates a market maker with liquidity parameter b.
// Higher b means smaller price impact per share.
func NewMarketMaker(b decimal.Decimal) (*MarketMaker, error) {
	if !b.IsPositive() {
		return nil, ErrInvalidLiquidity
	}
	return &MarketMaker{b: b}, nil
}

// logSumExp computes ln(Σ exp(x_i)) without overflowing for large x.
func logSumExp(xs ...float64) float64 {
	if len(xs) == 0 {
		return math.Inf(-1)
	}
	hi := xs[0]
	for _, x := range xs[1:] {
		hi = math.Max(hi, x)
	}
	if math.IsInf(hi, -1) {
		return hi
	}
	var sum float64
	for _, x := range xs {
		sum += math.Exp(x - hi)
	}
	return hi + math.Log(sum)
}

// Cost is C(q) = b·ln(exp(qYes/b) + exp(qNo/b)).
func (m *MarketMaker) Cost(qYes, qNo decimal.Decimal) decimal.Decimal {
	b := m.b.InexactFloat64()
	c := b * logSumExp(qYes.InexactFloat64()/b, qNo.InexactFloat64()/b)
	return decimal.NewFromFloat(c).Round(PriceScale)
}

// Price returns the YES probability, clamped to [MinPrice, MaxPrice].
func (m *MarketMaker) Price(qYes, qNo decimal.Decimal) decimal.Decimal {
	b := m.b.InexactFloat64()
	diff := (qNo.InexactFloat64() - qYes.InexactFloat64()) / b
	p := decimal.NewFromFloat(1 / (1 + math.Exp(diff))).Round(PriceScale)
	return decimal.Max(MinPrice, decimal.Min(MaxPrice, p))
}

// QuantityForPrice returns the YES quantity that quotes price p against a
// zero NO quantity: qYes = b·ln(p/(1−p)).
func (m *MarketMaker) QuantityForPrice(p decimal.Decimal) (decimal.Decimal, error) {
	if !p.IsPositive() || p.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return decimal.Zero, ErrInvalidPrice
	}
	pf := p.InexactFloat64()
	q := m.b.InexactFloat64() * math.Log(pf/(1-pf))
	return decimal.NewFromFloat(q).Round(PriceScale), nil
}

// Book is a market maker with its outstanding quantities.
type Book struct {
	mm   *MarketMaker
	qYes decimal.Decimal
	qNo  decimal.Decimal
}

// NewBook seeds a book so that it initially quotes price p.
func NewBook(b, p decimal.Decimal) (*Book, error) {
	mm, err := NewMarketMaker(b)
	if err != nil {
		return nil, err
	}
	q, err := mm.QuantityForPrice(p)
	if err != nil {
		return nil, err
	}
	return &Book{mm: mm, qYes: q}, nil
}

// Price returns the current YES probability.
func (bk *Book) Price() decimal.Decimal {
	return bk.mm.Price(bk.qYes, bk.qNo)
}

// Apply routes net order flow through the book. Positive flow buys YES,
// negative flow buys NO. It returns the trader's cost and the new price.
func (bk *Book) Apply(flow decimal.Decimal) (cost, price decimal.Decimal) {
	before := bk.mm.Cost(bk.qYes, bk.qNo)
	if flow.IsNegative() {
		bk.qNo = bk.qNo.Add(flow.Neg())
	} else {
		bk.qYes = bk.qYes.Add(flow)
	}
	return bk.mm.Cost(bk.qYes, bk.qNo).Sub(before), bk.Price()
}
