package ledger

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/overunder/market-core/internal/amm"
	"github.com/overunder/market-core/internal/model"
)

var (
	// ErrInsufficientPayment is returned when a share purchase is underpaid.
	ErrInsufficientPayment = errors.New("ledger: payment below share cost")

	// ErrNoWinningShares is returned when a claimer holds no shares on the
	// resolved side.
	ErrNoWinningShares = errors.New("ledger: no winning shares to claim")
)

// AMM markets are always binary; option 0 is YES, option 1 is NO.
const (
	OptionYes = 0
	OptionNo  = 1
)

// SeedShares initializes an AMM market's share pools from the creator's
// initial liquidity. Both pools start equal, so the market opens at 50/50.
// The deposit is the creator's pricing subsidy: it backs payouts and is not
// redeemable as LP shares.
func (e *Engine) SeedShares(m *model.Market, total decimal.Decimal) error {
	if total.LessThan(e.cfg.MinLiquidity) {
		return ErrBelowMinimumLiquidity
	}
	st := &m.State
	st.SeedPool = total
	st.YesPool = total
	st.NoPool = total
	st.Collected = total
	st.YesHoldings = make(map[string]decimal.Decimal)
	st.NoHoldings = make(map[string]decimal.Decimal)
	st.CostBasis = make(map[string]decimal.Decimal)
	st.Claimed = make(map[string]bool)
	return nil
}

// BuyShares prices a share purchase against the curve and commits it. The
// caller's payment must cover the cost; any excess is returned to the caller
// as a refund after the state is committed. Returns cost and refund.
func (e *Engine) BuyShares(m *model.Market, curve *amm.Curve, user string, buyYes bool, shares, payment decimal.Decimal, now time.Time) (cost, refund decimal.Decimal, err error) {
	if m.Resolved() {
		return decimal.Zero, decimal.Zero, ErrMarketResolved
	}
	if !now.Before(m.Deadline) {
		return decimal.Zero, decimal.Zero, ErrMarketClosed
	}

	st := &m.State
	cost, err = curve.Cost(st.YesPool, st.NoPool, buyYes, shares)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	if payment.LessThan(cost) {
		return decimal.Zero, decimal.Zero, ErrInsufficientPayment
	}
	refund = payment.Sub(cost)

	if st.YesHoldings == nil {
		st.YesHoldings = make(map[string]decimal.Decimal)
	}
	if st.NoHoldings == nil {
		st.NoHoldings = make(map[string]decimal.Decimal)
	}
	if st.CostBasis == nil {
		st.CostBasis = make(map[string]decimal.Decimal)
	}

	if buyYes {
		st.YesPool = st.YesPool.Sub(shares)
		st.YesHoldings[user] = st.YesHoldings[user].Add(shares)
	} else {
		st.NoPool = st.NoPool.Sub(shares)
		st.NoHoldings[user] = st.NoHoldings[user].Add(shares)
	}
	st.CostBasis[user] = st.CostBasis[user].Add(cost)
	st.Collected = st.Collected.Add(cost)
	return cost, refund, nil
}

// HasOutstandingShares reports whether any shares have been sold. An AMM
// market where nobody bought is the share-market analogue of an LP-only
// pooled market and must resolve no-contest.
func (e *Engine) HasOutstandingShares(m *model.Market) bool {
	for _, h := range m.State.YesHoldings {
		if h.IsPositive() {
			return true
		}
	}
	for _, h := range m.State.NoHoldings {
		if h.IsPositive() {
			return true
		}
	}
	return false
}

// ResolveShares freezes an AMM market at an outcome (OptionYes, OptionNo, or
// model.OutcomeNoContest). The same no-contest gating as pooled markets
// applies. The resolution snapshot records the collected value and the total
// outstanding shares on the winning side.
func (e *Engine) ResolveShares(m *model.Market, outcome int, force bool, now time.Time) error {
	if m.Resolved() {
		return ErrMarketResolved
	}
	if !force && now.Before(m.Deadline) {
		return ErrDeadlineNotReached
	}
	if outcome != model.OutcomeNoContest && outcome != OptionYes && outcome != OptionNo {
		return ErrInvalidOption
	}

	hasShares := e.HasOutstandingShares(m)
	if !hasShares && outcome != model.OutcomeNoContest {
		return ErrNoActualBets
	}
	if hasShares && outcome == model.OutcomeNoContest {
		return ErrHasActualBets
	}

	st := &m.State
	winning := decimal.Zero
	if outcome == OptionYes {
		for _, h := range st.YesHoldings {
			winning = winning.Add(h)
		}
	} else if outcome == OptionNo {
		for _, h := range st.NoHoldings {
			winning = winning.Add(h)
		}
	}

	m.Status = model.StatusResolved
	m.Outcome = outcome
	st.ResolvedPool = st.Collected
	st.WinningPool = winning
	return nil
}

// ClaimShares pays a share holder after resolution. Winners split the
// collected pool pro-rata by winning shares held, net of the platform fee;
// under no-contest every buyer is refunded their cost basis. The claimed
// flag is set before any external transfer.
func (e *Engine) ClaimShares(m *model.Market, user string) (payout, platformFee decimal.Decimal, err error) {
	if !m.Resolved() {
		return decimal.Zero, decimal.Zero, ErrMarketNotResolved
	}
	st := &m.State
	if st.Claimed == nil {
		st.Claimed = make(map[string]bool)
	}
	if st.Claimed[user] {
		return decimal.Zero, decimal.Zero, ErrAlreadyClaimed
	}

	if m.Outcome == model.OutcomeNoContest {
		basis := st.CostBasis[user]
		if !basis.IsPositive() {
			return decimal.Zero, decimal.Zero, ErrNothingToClaim
		}
		st.Claimed[user] = true
		return basis, decimal.Zero, nil
	}

	held := st.NoHoldings[user]
	if m.Outcome == OptionYes {
		held = st.YesHoldings[user]
	}
	if !held.IsPositive() {
		return decimal.Zero, decimal.Zero, ErrNoWinningShares
	}
	if !st.WinningPool.IsPositive() {
		return decimal.Zero, decimal.Zero, ErrNoWinningShares
	}

	gross := divFloor(held.Mul(st.ResolvedPool), st.WinningPool)
	platformFee = bpsOf(gross, e.cfg.PlatformFeeBps)
	payout = gross.Sub(platformFee)

	st.Claimed[user] = true
	return payout, platformFee, nil
}
