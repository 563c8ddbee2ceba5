// Package amm implements the continuous pricing function for binary share
// markets. Two share pools (YES and NO) are seeded equal at creation, so the
// market opens at 50/50 implied probability. Buying shares depletes the
// chosen pool, and the cost integrates the instantaneous price over the
// depletion, so marginal cost strictly increases: a large order always costs
// more per share than a small one.
//
// Instantaneous price of YES is noPool / (yesPool + noPool); the cost of
// removing s shares from the YES pool is
//
//	cost(s) = noPool * ln((yesPool + noPool) / (yesPool - s + noPool))
//
// All monetary values use shopspring/decimal — never float64 for money.
// The transcendental math runs in float64 internally, with results rounded
// and immediately converted back to decimal.
package amm

import (
	"errors"
	"math"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidShareAmount is returned for zero or negative share requests.
	ErrInvalidShareAmount = errors.New("amm: share amount must be positive")

	// ErrInsufficientLiquidity is returned when a purchase would deplete a
	// pool below the safe minimum.
	ErrInsufficientLiquidity = errors.New("amm: purchase would deplete pool below safe minimum")
)

// PriceScale is the number of decimal places for cost and price rounding.
const PriceScale int32 = 8

// MinPoolFraction is the fraction of the seeded pool size that must always
// remain in each pool. Prevents the cost curve's asymptote from being
// reachable and keeps prices finite.
var MinPoolFraction = decimal.NewFromFloat(0.01)

// Curve prices share purchases against a pair of pools. It is stateless —
// pool sizes are passed as arguments, not stored.
type Curve struct {
	minPool decimal.Decimal
}

// NewCurve creates a pricing curve for a market seeded with initialShares
// per pool. The safe minimum is derived from the seed size.
func NewCurve(initialShares decimal.Decimal) *Curve {
	return &Curve{minPool: initialShares.Mul(MinPoolFraction)}
}

// MinPool returns the smallest pool size the curve will price down to.
func (c *Curve) MinPool() decimal.Decimal {
	return c.minPool
}

// Cost returns the value required to buy shares from the chosen side.
// buyYes selects which pool is depleted. The cost is rounded up at
// PriceScale so the market never undercharges.
func (c *Curve) Cost(yesPool, noPool decimal.Decimal, buyYes bool, shares decimal.Decimal) (decimal.Decimal, error) {
	if !shares.IsPositive() {
		return decimal.Zero, ErrInvalidShareAmount
	}

	from, other := yesPool, noPool
	if !buyYes {
		from, other = noPool, yesPool
	}
	if from.Sub(shares).LessThan(c.minPool) {
		return decimal.Zero, ErrInsufficientLiquidity
	}

	f := from.InexactFloat64()
	o := other.InexactFloat64()
	s := shares.InexactFloat64()

	cost := o * math.Log((f+o)/(f-s+o))
	return decimal.NewFromFloat(cost).RoundCeil(PriceScale), nil
}

// Odds returns the instantaneous per-share price of each side, derived from
// pool ratios. The two prices sum to one.
func (c *Curve) Odds(yesPool, noPool decimal.Decimal) (priceYes, priceNo decimal.Decimal) {
	total := yesPool.Add(noPool)
	if !total.IsPositive() {
		half := decimal.NewFromFloat(0.5)
		return half, half
	}
	priceYes = noPool.Div(total).Round(PriceScale)
	priceNo = decimal.NewFromInt(1).Sub(priceYes)
	return priceYes, priceNo
}

// ImpliedProbability returns the market's price-derived estimate of the YES
// outcome in basis points (0–10000).
func (c *Curve) ImpliedProbability(yesPool, noPool decimal.Decimal) decimal.Decimal {
	priceYes, _ := c.Odds(yesPool, noPool)
	return priceYes.Mul(decimal.NewFromInt(10000)).Round(0)
}
