// Package model defines the core domain types shared across the market core.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PricingModel selects how a market prices participation. Each market uses
// exactly one model, chosen at creation.
type PricingModel string

const (
	// PricingPooled is the N-ary pooled-ledger model: wagers buy into a
	// per-option pool at flat per-share economics, LPs earn wager fees.
	PricingPooled PricingModel = "pooled"

	// PricingAMM is the binary constant-curve model: traders buy YES/NO
	// shares out of seeded pools with price impact.
	PricingAMM PricingModel = "amm"
)

// Market status values.
const (
	StatusOpen     = "open"
	StatusResolved = "resolved"
)

// OutcomeNoContest is the resolution sentinel for markets that expired
// without genuine wagers: bettors are refunded their net stakes instead of
// redistributing pool value.
const OutcomeNoContest = -1

// MaxOptions is the largest allowed option count for pooled markets.
const MaxOptions = 10

// OptionPool is the aggregate value backing one option of a pooled market,
// decomposed by participant role. Neither side ever goes negative.
type OptionPool struct {
	LP     decimal.Decimal `json:"lp"`
	Bettor decimal.Decimal `json:"bettor"`
}

// Total returns the combined value backing the option.
func (p OptionPool) Total() decimal.Decimal {
	return p.LP.Add(p.Bettor)
}

// LedgerState is the full accounting state of one market. It is mutated only
// by the ledger and amm packages and persisted as a single document.
//
// Pooled-model fields: Pools, TotalLPShares, LPShares, LPLiquidity,
// BettorStakes, AccruedFees. AMM-model fields: YesPool, NoPool, YesHoldings,
// NoHoldings, CostBasis, Collected. Claimed is shared by both models.
type LedgerState struct {
	Pools         []OptionPool               `json:"pools,omitempty"`
	TotalLPShares decimal.Decimal            `json:"total_lp_shares"`
	LPShares      map[string]decimal.Decimal `json:"lp_shares,omitempty"`
	// LPLiquidity tracks, per user, the per-option liquidity currently
	// represented by that user's LP shares.
	LPLiquidity  map[string][]decimal.Decimal `json:"lp_liquidity,omitempty"`
	BettorStakes map[string][]decimal.Decimal `json:"bettor_stakes,omitempty"`
	AccruedFees  decimal.Decimal              `json:"accrued_fees"`
	Claimed      map[string]bool              `json:"claimed,omitempty"`

	// Resolution snapshot. Claim math is frozen at resolution time so that
	// post-resolution LP withdrawals cannot change what winners are owed.
	ResolvedPool decimal.Decimal `json:"resolved_pool"`
	WinningPool  decimal.Decimal `json:"winning_pool"`
	// LPResidual is the value still redeemable by LP share holders after
	// resolution; it decreases as shares are burned.
	LPResidual decimal.Decimal `json:"lp_residual"`

	// SeedPool is the per-side pool size the AMM market opened with; the
	// pricing curve's liquidity floor is derived from it.
	SeedPool    decimal.Decimal            `json:"seed_pool"`
	YesPool     decimal.Decimal            `json:"yes_pool"`
	NoPool      decimal.Decimal            `json:"no_pool"`
	YesHoldings map[string]decimal.Decimal `json:"yes_holdings,omitempty"`
	NoHoldings  map[string]decimal.Decimal `json:"no_holdings,omitempty"`
	CostBasis   map[string]decimal.Decimal `json:"cost_basis,omitempty"`
	Collected   decimal.Decimal            `json:"collected"`
}

// Market is a single prediction question plus its accounting state.
type Market struct {
	ID          string       `json:"id" db:"id"`
	Creator     string       `json:"creator" db:"creator"`
	Question    string       `json:"question" db:"question"`
	Description string       `json:"description" db:"description"`
	Category    string       `json:"category" db:"category"`
	Options     []string     `json:"options" db:"options"`
	Pricing     PricingModel `json:"pricing" db:"pricing"`
	Deadline    time.Time    `json:"deadline" db:"deadline"`
	CreatedAt   time.Time    `json:"created_at" db:"created_at"`
	Status      string       `json:"status" db:"status"`
	// Outcome is a valid option index, or OutcomeNoContest. Meaningful only
	// once Status is StatusResolved.
	Outcome int         `json:"outcome" db:"outcome"`
	State   LedgerState `json:"state" db:"state"`
}

// Resolved reports whether the market has reached its terminal state.
func (m *Market) Resolved() bool {
	return m.Status == StatusResolved
}

// TotalPool returns the total value currently held by the market: the sum of
// all option pools for pooled markets, or the collected value for AMM markets.
func (m *Market) TotalPool() decimal.Decimal {
	if m.Pricing == PricingAMM {
		return m.State.Collected
	}
	total := decimal.Zero
	for _, p := range m.State.Pools {
		total = total.Add(p.Total())
	}
	return total
}

// WagerRecord is an immutable record of a value-moving operation on a market.
// Once created, these are never modified or deleted.
type WagerRecord struct {
	ID        string          `json:"id" db:"id"`
	MarketID  string          `json:"market_id" db:"market_id"`
	UserID    string          `json:"user_id" db:"user_id"`
	Kind      string          `json:"kind" db:"kind"` // "wager", "shares", "liquidity", "withdrawal", "claim"
	Option    int             `json:"option" db:"option"`
	Gross     decimal.Decimal `json:"gross" db:"gross"`
	Net       decimal.Decimal `json:"net" db:"net"`
	Fee       decimal.Decimal `json:"fee" db:"fee"`
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
}

// Position is a read-model snapshot of one user's standing in one market.
type Position struct {
	UserID       string            `json:"user_id"`
	MarketID     string            `json:"market_id"`
	LPShares     decimal.Decimal   `json:"lp_shares"`
	LPLiquidity  []decimal.Decimal `json:"lp_liquidity,omitempty"`
	BettorStakes []decimal.Decimal `json:"bettor_stakes,omitempty"`
	YesShares    decimal.Decimal   `json:"yes_shares"`
	NoShares     decimal.Decimal   `json:"no_shares"`
	Claimed      bool              `json:"claimed"`
}

// Profile is a user's public profile.
type Profile struct {
	UserID    string    `json:"user_id" db:"user_id"`
	Username  string    `json:"username" db:"username"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// ResolutionStatus describes whether and how a market can currently be
// resolved.
type ResolutionStatus struct {
	CanResolve        bool   `json:"can_resolve"`
	HasActualBetting  bool   `json:"has_actual_betting"`
	RequiresNoContest bool   `json:"requires_no_contest"`
	Message           string `json:"message"`
}
