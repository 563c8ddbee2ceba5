// Package ledger implements the invariant-preserving accounting engine for
// pooled prediction markets: per-option pools split by participant role,
// LP share accounting, fee accrual, resolution, and claim computation.
//
// The engine is stateless with respect to storage: operations take a
// *model.Market, validate everything up front, compute results into locals,
// and commit in one step. Total value in a market never changes except
// through an explicit deposit or withdrawal operation.
//
// All monetary values use shopspring/decimal — never float64 for money.
package ledger

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/overunder/market-core/internal/model"
)

// AmountScale is the number of decimal places amounts are truncated to.
// Matches wei precision so value splits always round toward the pool.
const AmountScale int32 = 18

// BpsDenominator converts basis points to a fraction.
var BpsDenominator = decimal.NewFromInt(10000)

// Validation errors.
var (
	ErrInvalidOptionCount    = errors.New("ledger: option count must be between 2 and 10")
	ErrInvalidOptionLabel    = errors.New("ledger: option labels must be non-empty and unique")
	ErrBelowMinimumLiquidity = errors.New("ledger: amount below minimum liquidity")
	ErrBelowMinimumWager     = errors.New("ledger: amount below minimum wager")
	ErrInvalidOption         = errors.New("ledger: option index out of range")
	ErrInvalidShareAmount    = errors.New("ledger: share amount must be positive")
	ErrInsufficientLPShares  = errors.New("ledger: insufficient LP shares")
)

// State errors. Each lifecycle violation gets its own error so callers can
// present an accurate message.
var (
	ErrDeadlinePassed     = errors.New("ledger: market deadline has passed")
	ErrMarketClosed       = errors.New("ledger: market is closed")
	ErrMarketResolved     = errors.New("ledger: market already resolved")
	ErrMarketNotResolved  = errors.New("ledger: market not resolved yet")
	ErrDeadlineNotReached = errors.New("ledger: deadline not reached")
	ErrNoActualBets       = errors.New("ledger: no bets placed, use no-contest resolution")
	ErrHasActualBets      = errors.New("ledger: bets exist, no-contest resolution not allowed")
	ErrAlreadyClaimed     = errors.New("ledger: winnings already claimed")
	ErrNothingToClaim     = errors.New("ledger: no winning position to claim")
	ErrLPMustWithdraw     = errors.New("ledger: liquidity providers must remove liquidity instead of claiming")
)

// Config holds the economic parameters of the engine.
type Config struct {
	MinLiquidity   decimal.Decimal
	MinWager       decimal.Decimal
	LPFeeBps       int64 // deducted from each wager, accrued to LPs
	PlatformFeeBps int64 // deducted from each winning claim
}

// Engine applies accounting operations to market state. It holds no market
// state itself; serialization per market is the caller's responsibility.
type Engine struct {
	cfg Config
}

// NewEngine creates an accounting engine with the given parameters.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// divFloor returns x / y truncated at AmountScale decimal places. Plain Div
// rounds half-up at the package default DivisionPrecision (16 digits), which
// is coarser than AmountScale and rounds instead of truncating; QuoRem
// truncates exactly at the requested precision.
func divFloor(x, y decimal.Decimal) decimal.Decimal {
	q, _ := x.QuoRem(y, AmountScale)
	return q
}

// bpsOf returns amount * bps / 10000, truncated to AmountScale.
func bpsOf(amount decimal.Decimal, bps int64) decimal.Decimal {
	return divFloor(amount.Mul(decimal.NewFromInt(bps)), BpsDenominator)
}

// splitEvenly divides total across n buckets. Each bucket gets the truncated
// even share; the last bucket absorbs the rounding remainder so the parts
// always sum exactly to total.
func splitEvenly(total decimal.Decimal, n int) []decimal.Decimal {
	per := divFloor(total, decimal.NewFromInt(int64(n)))
	parts := make([]decimal.Decimal, n)
	running := decimal.Zero
	for i := 0; i < n-1; i++ {
		parts[i] = per
		running = running.Add(per)
	}
	parts[n-1] = total.Sub(running)
	return parts
}

// ValidateOptions checks option count, labels, and duplicates.
func ValidateOptions(options []string) error {
	if len(options) < 2 || len(options) > model.MaxOptions {
		return ErrInvalidOptionCount
	}
	seen := make(map[string]bool, len(options))
	for _, opt := range options {
		label := strings.TrimSpace(opt)
		if label == "" || seen[label] {
			return ErrInvalidOptionLabel
		}
		seen[label] = true
	}
	return nil
}

// Seed initializes a pooled market's accounting state with balanced initial
// liquidity from the seeder. The seed is itself an LP deposit: it is split
// evenly across options as LP contribution, and LP shares are minted to the
// seeder 1:1 with the deposited value.
func (e *Engine) Seed(m *model.Market, seeder string, total decimal.Decimal) error {
	if err := ValidateOptions(m.Options); err != nil {
		return err
	}
	if total.LessThan(e.cfg.MinLiquidity) {
		return ErrBelowMinimumLiquidity
	}

	n := len(m.Options)
	parts := splitEvenly(total, n)

	st := &m.State
	st.Pools = make([]model.OptionPool, n)
	liq := make([]decimal.Decimal, n)
	for i, part := range parts {
		st.Pools[i] = model.OptionPool{LP: part, Bettor: decimal.Zero}
		liq[i] = part
	}
	st.TotalLPShares = total
	st.LPShares = map[string]decimal.Decimal{seeder: total}
	st.LPLiquidity = map[string][]decimal.Decimal{seeder: liq}
	st.BettorStakes = make(map[string][]decimal.Decimal)
	st.AccruedFees = decimal.Zero
	st.Claimed = make(map[string]bool)
	return nil
}

// Wager records a gross wager on an option. The LP fee is deducted up front
// and accrued to the LP fee pool; the net amount is credited to the option's
// bettor contribution and the caller's position. If the market currently has
// zero LP shares the fee is skipped entirely: no LPs exist to earn it.
// Returns the net amount credited and the fee deducted.
func (e *Engine) Wager(m *model.Market, user string, option int, gross decimal.Decimal, now time.Time) (net, fee decimal.Decimal, err error) {
	if m.Resolved() {
		return decimal.Zero, decimal.Zero, ErrMarketResolved
	}
	if !now.Before(m.Deadline) {
		return decimal.Zero, decimal.Zero, ErrDeadlinePassed
	}
	if option < 0 || option >= len(m.Options) {
		return decimal.Zero, decimal.Zero, ErrInvalidOption
	}
	if gross.LessThan(e.cfg.MinWager) {
		return decimal.Zero, decimal.Zero, ErrBelowMinimumWager
	}

	fee = decimal.Zero
	if m.State.TotalLPShares.IsPositive() {
		fee = bpsOf(gross, e.cfg.LPFeeBps)
	}
	net = gross.Sub(fee)

	st := &m.State
	if st.BettorStakes == nil {
		st.BettorStakes = make(map[string][]decimal.Decimal)
	}
	st.Pools[option].Bettor = st.Pools[option].Bettor.Add(net)
	st.AccruedFees = st.AccruedFees.Add(fee)
	stakes, ok := st.BettorStakes[user]
	if !ok {
		stakes = make([]decimal.Decimal, len(m.Options))
	}
	stakes[option] = stakes[option].Add(net)
	st.BettorStakes[user] = stakes
	return net, fee, nil
}

// ProvideLiquidity deposits amount as balanced liquidity across all options
// and mints LP shares. When totalLPShares is zero (a fresh market, or one
// whose LPs have all withdrawn) shares are minted 1:1 with the deposit: the
// usual share formula divides by the current liquidity value, which is zero
// in that state.
func (e *Engine) ProvideLiquidity(m *model.Market, user string, amount decimal.Decimal, now time.Time) (shares decimal.Decimal, err error) {
	if m.Resolved() || !now.Before(m.Deadline) {
		return decimal.Zero, ErrMarketClosed
	}
	if amount.LessThan(e.cfg.MinLiquidity) {
		return decimal.Zero, ErrBelowMinimumLiquidity
	}

	st := &m.State
	if st.LPShares == nil {
		st.LPShares = make(map[string]decimal.Decimal)
	}
	if st.LPLiquidity == nil {
		st.LPLiquidity = make(map[string][]decimal.Decimal)
	}
	totalLiquidity := decimal.Zero
	for _, p := range st.Pools {
		totalLiquidity = totalLiquidity.Add(p.LP)
	}

	if st.TotalLPShares.IsZero() || totalLiquidity.IsZero() {
		shares = amount
	} else {
		shares = divFloor(amount.Mul(st.TotalLPShares), totalLiquidity)
	}

	parts := splitEvenly(amount, len(m.Options))
	liq, ok := st.LPLiquidity[user]
	if !ok {
		liq = make([]decimal.Decimal, len(m.Options))
	}
	for i, part := range parts {
		st.Pools[i].LP = st.Pools[i].LP.Add(part)
		liq[i] = liq[i].Add(part)
	}
	st.LPLiquidity[user] = liq
	st.LPShares[user] = st.LPShares[user].Add(shares)
	st.TotalLPShares = st.TotalLPShares.Add(shares)
	return shares, nil
}

// RemoveLiquidity burns shares and pays out the corresponding fraction of
// LP-owned liquidity plus a pro-rata share of accrued fees.
//
// Before resolution the redeemed value is taken proportionally from each
// option's LP contribution. After resolution it is taken from the residual
// LP value frozen at resolution time, so winner claims are unaffected.
func (e *Engine) RemoveLiquidity(m *model.Market, user string, shares decimal.Decimal) (payout decimal.Decimal, err error) {
	if !shares.IsPositive() {
		return decimal.Zero, ErrInvalidShareAmount
	}
	st := &m.State
	owned := st.LPShares[user]
	if shares.GreaterThan(owned) {
		return decimal.Zero, ErrInsufficientLPShares
	}

	full := shares.Equal(st.TotalLPShares)
	feePart := st.AccruedFees
	if !full {
		feePart = divFloor(st.AccruedFees.Mul(shares), st.TotalLPShares)
	}

	if m.Resolved() {
		lpPart := st.LPResidual
		if !full {
			lpPart = divFloor(st.LPResidual.Mul(shares), st.TotalLPShares)
		}
		st.LPResidual = st.LPResidual.Sub(lpPart)
		st.AccruedFees = st.AccruedFees.Sub(feePart)
		e.burn(m, user, shares, owned)
		return lpPart.Add(feePart), nil
	}

	// Open market: redeem proportionally from each option's LP side.
	deltas := make([]decimal.Decimal, len(st.Pools))
	lpPart := decimal.Zero
	for i, p := range st.Pools {
		d := p.LP
		if !full {
			d = divFloor(p.LP.Mul(shares), st.TotalLPShares)
		}
		deltas[i] = d
		lpPart = lpPart.Add(d)
	}

	for i, d := range deltas {
		st.Pools[i].LP = st.Pools[i].LP.Sub(d)
	}
	if liq, ok := st.LPLiquidity[user]; ok {
		for i := range liq {
			rm := liq[i]
			if !shares.Equal(owned) {
				rm = divFloor(liq[i].Mul(shares), owned)
			}
			liq[i] = liq[i].Sub(rm)
		}
		st.LPLiquidity[user] = liq
	}
	st.AccruedFees = st.AccruedFees.Sub(feePart)
	e.burn(m, user, shares, owned)
	return lpPart.Add(feePart), nil
}

func (e *Engine) burn(m *model.Market, user string, shares, owned decimal.Decimal) {
	st := &m.State
	remaining := owned.Sub(shares)
	if remaining.IsZero() {
		delete(st.LPShares, user)
	} else {
		st.LPShares[user] = remaining
	}
	st.TotalLPShares = st.TotalLPShares.Sub(shares)
}

// HasActualBets reports whether any genuine wager backs the market. A market
// holding only LP liquidity has nothing to resolve: picking a winner would
// arbitrarily shift value between LPs.
func (e *Engine) HasActualBets(m *model.Market) bool {
	for _, p := range m.State.Pools {
		if p.Bettor.IsPositive() {
			return true
		}
	}
	return false
}

// Resolve freezes the market at an outcome. Outcome is a valid option index
// or model.OutcomeNoContest. Markets without genuine bets must resolve
// no-contest; markets with bets must not, so bettors holding legitimate
// wagers cannot be griefed into a refund.
//
// force bypasses the deadline gate (owner override); authorization is the
// caller's responsibility.
func (e *Engine) Resolve(m *model.Market, outcome int, force bool, now time.Time) error {
	if m.Resolved() {
		return ErrMarketResolved
	}
	if !force && now.Before(m.Deadline) {
		return ErrDeadlineNotReached
	}
	if outcome != model.OutcomeNoContest && (outcome < 0 || outcome >= len(m.Options)) {
		return ErrInvalidOption
	}

	hasBets := e.HasActualBets(m)
	if !hasBets && outcome != model.OutcomeNoContest {
		return ErrNoActualBets
	}
	if hasBets && outcome == model.OutcomeNoContest {
		return ErrHasActualBets
	}

	st := &m.State
	resolvedPool := m.TotalPool()
	var winningPool, lpResidual decimal.Decimal

	if outcome == model.OutcomeNoContest {
		// Unwind: bettors reclaim net stakes, LPs reclaim contributions.
		winningPool = decimal.Zero
		lpResidual = decimal.Zero
		for _, p := range st.Pools {
			lpResidual = lpResidual.Add(p.LP)
		}
	} else {
		winningPool = st.Pools[outcome].Total()
		lpResidual = resolvedPool
		if winningPool.IsPositive() {
			// Truncated the same way individual claims are, so claims
			// plus residual never exceed the resolved pool.
			claimable := divFloor(st.Pools[outcome].Bettor.Mul(resolvedPool), winningPool)
			lpResidual = resolvedPool.Sub(claimable)
			if lpResidual.IsNegative() {
				lpResidual = decimal.Zero
			}
		}
	}

	m.Status = model.StatusResolved
	m.Outcome = outcome
	st.ResolvedPool = resolvedPool
	st.WinningPool = winningPool
	st.LPResidual = lpResidual
	return nil
}

// Claim computes and records a bettor's payout. For a normal resolution the
// winning stake is scaled by the resolution-time pool ratio and the platform
// fee is deducted; for no-contest every bettor receives their net stakes
// back, unscaled and fee-free. The claimed flag is set before the caller
// performs any external transfer, so a re-entrant claim fails first.
// Returns the net payout and the platform fee withheld.
func (e *Engine) Claim(m *model.Market, user string) (payout, platformFee decimal.Decimal, err error) {
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

	stakes := st.BettorStakes[user]
	totalStake := decimal.Zero
	for _, s := range stakes {
		totalStake = totalStake.Add(s)
	}

	if m.Outcome == model.OutcomeNoContest {
		if totalStake.IsZero() {
			if st.LPShares[user].IsPositive() {
				return decimal.Zero, decimal.Zero, ErrLPMustWithdraw
			}
			return decimal.Zero, decimal.Zero, ErrNothingToClaim
		}
		st.Claimed[user] = true
		return totalStake, decimal.Zero, nil
	}

	stake := decimal.Zero
	if m.Outcome < len(stakes) {
		stake = stakes[m.Outcome]
	}
	if stake.IsZero() {
		if totalStake.IsZero() && st.LPShares[user].IsPositive() {
			return decimal.Zero, decimal.Zero, ErrLPMustWithdraw
		}
		return decimal.Zero, decimal.Zero, ErrNothingToClaim
	}

	gross := divFloor(stake.Mul(st.ResolvedPool), st.WinningPool)
	platformFee = bpsOf(gross, e.cfg.PlatformFeeBps)
	payout = gross.Sub(platformFee)

	st.Claimed[user] = true
	return payout, platformFee, nil
}

// ClaimableValue reports what a user could claim right now without mutating
// state. Used by read-only views.
func (e *Engine) ClaimableValue(m *model.Market, user string) decimal.Decimal {
	if !m.Resolved() || m.State.Claimed[user] {
		return decimal.Zero
	}
	stakes := m.State.BettorStakes[user]
	if m.Outcome == model.OutcomeNoContest {
		total := decimal.Zero
		for _, s := range stakes {
			total = total.Add(s)
		}
		return total
	}
	if m.Outcome >= len(stakes) {
		return decimal.Zero
	}
	stake := stakes[m.Outcome]
	if stake.IsZero() {
		return decimal.Zero
	}
	gross := divFloor(stake.Mul(m.State.ResolvedPool), m.State.WinningPool)
	return gross.Sub(bpsOf(gross, e.cfg.PlatformFeeBps))
}

// Odds returns the implied probability of each option in basis points,
// derived from pool ratios. A market with an empty total pool reports zeros.
func Odds(m *model.Market) []decimal.Decimal {
	total := m.TotalPool()
	odds := make([]decimal.Decimal, len(m.State.Pools))
	for i, p := range m.State.Pools {
		if total.IsPositive() {
			odds[i] = p.Total().Mul(BpsDenominator).Div(total).Round(0)
		} else {
			odds[i] = decimal.Zero
		}
	}
	return odds
}
