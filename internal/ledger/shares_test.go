package ledger_test

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/overunder/market-core/internal/amm"
	"github.com/overunder/market-core/internal/ledger"
	"github.com/overunder/market-core/internal/model"
)

// newShareMarket seeds a binary AMM market.
func newShareMarket(t *testing.T, e *ledger.Engine, seed decimal.Decimal) (*model.Market, *amm.Curve) {
	t.Helper()
	m := &model.Market{
		ID:       "amm1",
		Creator:  "alice",
		Options:  []string{"Yes", "No"},
		Pricing:  model.PricingAMM,
		Deadline: deadline,
		Status:   model.StatusOpen,
	}
	if err := e.SeedShares(m, seed); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	return m, amm.NewCurve(seed)
}

func TestSeedShares_EqualPools(t *testing.T) {
	e := newEngine()
	m, _ := newShareMarket(t, e, d(100))

	if !m.State.YesPool.Equal(d(100)) || !m.State.NoPool.Equal(d(100)) {
		t.Errorf("expected equal 100-share pools, got %s/%s", m.State.YesPool, m.State.NoPool)
	}
	if !m.State.Collected.Equal(d(100)) {
		t.Errorf("seed should be collected, got %s", m.State.Collected)
	}
	if !m.State.SeedPool.Equal(d(100)) {
		t.Errorf("seed pool size should be recorded, got %s", m.State.SeedPool)
	}
}

func TestBuyShares_ChargesCostAndRefundsExcess(t *testing.T) {
	e := newEngine()
	m, curve := newShareMarket(t, e, d(100))

	cost, refund, err := e.BuyShares(m, curve, "bob", true, d(10), d(50), open)
	if err != nil {
		t.Fatalf("buy failed: %v", err)
	}
	if !cost.IsPositive() {
		t.Errorf("cost should be positive, got %s", cost)
	}
	if !refund.Equal(d(50).Sub(cost)) {
		t.Errorf("refund should be payment minus cost, got %s", refund)
	}
	if !m.State.YesPool.Equal(d(90)) {
		t.Errorf("YES pool should shrink by shares bought, got %s", m.State.YesPool)
	}
	if !m.State.YesHoldings["bob"].Equal(d(10)) {
		t.Errorf("bob should hold 10 YES, got %s", m.State.YesHoldings["bob"])
	}
	if !m.State.Collected.Equal(d(100).Add(cost)) {
		t.Errorf("collected should grow by cost, got %s", m.State.Collected)
	}
}

func TestBuyShares_InsufficientPayment(t *testing.T) {
	e := newEngine()
	m, curve := newShareMarket(t, e, d(100))

	if _, _, err := e.BuyShares(m, curve, "bob", true, d(10), d(0.01), open); !errors.Is(err, ledger.ErrInsufficientPayment) {
		t.Errorf("expected ErrInsufficientPayment, got %v", err)
	}
	// A failed purchase leaves the pools untouched.
	if !m.State.YesPool.Equal(d(100)) {
		t.Errorf("pool should be untouched after failed buy, got %s", m.State.YesPool)
	}
}

func TestBuyShares_Gates(t *testing.T) {
	e := newEngine()
	m, curve := newShareMarket(t, e, d(100))

	if _, _, err := e.BuyShares(m, curve, "bob", true, d(10), d(50), expired); !errors.Is(err, ledger.ErrMarketClosed) {
		t.Errorf("after deadline: got %v", err)
	}
	m.Status = model.StatusResolved
	if _, _, err := e.BuyShares(m, curve, "bob", true, d(10), d(50), open); !errors.Is(err, ledger.ErrMarketResolved) {
		t.Errorf("resolved market: got %v", err)
	}
}

func TestResolveShares_NoContestGating(t *testing.T) {
	e := newEngine()
	m, curve := newShareMarket(t, e, d(100))

	// No shares sold: normal resolution refused.
	if err := e.ResolveShares(m, ledger.OptionYes, false, expired); !errors.Is(err, ledger.ErrNoActualBets) {
		t.Errorf("no buyers: got %v", err)
	}

	if _, _, err := e.BuyShares(m, curve, "bob", true, d(10), d(50), open); err != nil {
		t.Fatalf("buy failed: %v", err)
	}
	// Shares sold: no-contest refused.
	if err := e.ResolveShares(m, model.OutcomeNoContest, false, expired); !errors.Is(err, ledger.ErrHasActualBets) {
		t.Errorf("no-contest with buyers: got %v", err)
	}
	if err := e.ResolveShares(m, ledger.OptionYes, false, expired); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
}

func TestClaimShares_SoleWinnerTakesCollectedMinusFee(t *testing.T) {
	e := newEngine()
	m, curve := newShareMarket(t, e, d(100))

	cost, _, err := e.BuyShares(m, curve, "bob", true, d(10), d(50), open)
	if err != nil {
		t.Fatalf("buy failed: %v", err)
	}
	if err := e.ResolveShares(m, ledger.OptionYes, false, expired); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	payout, fee, err := e.ClaimShares(m, "bob")
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	// Bob holds the entire winning side, so his gross claim is the full
	// collected pool.
	collected := d(100).Add(cost)
	wantFee := collected.Mul(d(0.02)).RoundFloor(ledger.AmountScale)
	if !fee.Equal(wantFee) {
		t.Errorf("expected fee %s, got %s", wantFee, fee)
	}
	if !payout.Equal(collected.Sub(wantFee)) {
		t.Errorf("expected payout %s, got %s", collected.Sub(wantFee), payout)
	}
}

func TestClaimShares_ProRataAmongWinners(t *testing.T) {
	e := newEngine()
	m, curve := newShareMarket(t, e, d(100))

	if _, _, err := e.BuyShares(m, curve, "bob", true, d(30), d(50), open); err != nil {
		t.Fatalf("buy failed: %v", err)
	}
	if _, _, err := e.BuyShares(m, curve, "carol", true, d(10), d(50), open); err != nil {
		t.Fatalf("buy failed: %v", err)
	}
	if err := e.ResolveShares(m, ledger.OptionYes, false, expired); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	bobPayout, _, err := e.ClaimShares(m, "bob")
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	carolPayout, _, err := e.ClaimShares(m, "carol")
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}

	// Bob holds 3x carol's shares, so his payout is 3x hers.
	ratio := bobPayout.Div(carolPayout)
	if ratio.Sub(decimal.NewFromInt(3)).Abs().GreaterThan(d(0.000001)) {
		t.Errorf("expected 3:1 payout split, got ratio %s", ratio)
	}
}

func TestClaimShares_LoserAndDoubleClaim(t *testing.T) {
	e := newEngine()
	m, curve := newShareMarket(t, e, d(100))

	if _, _, err := e.BuyShares(m, curve, "bob", true, d(10), d(50), open); err != nil {
		t.Fatalf("buy failed: %v", err)
	}
	if _, _, err := e.BuyShares(m, curve, "carol", false, d(10), d(50), open); err != nil {
		t.Fatalf("buy failed: %v", err)
	}
	if err := e.ResolveShares(m, ledger.OptionYes, false, expired); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	if _, _, err := e.ClaimShares(m, "carol"); !errors.Is(err, ledger.ErrNoWinningShares) {
		t.Errorf("loser claim: got %v", err)
	}
	if _, _, err := e.ClaimShares(m, "bob"); err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if _, _, err := e.ClaimShares(m, "bob"); !errors.Is(err, ledger.ErrAlreadyClaimed) {
		t.Errorf("double claim: got %v", err)
	}
}

func TestClaimShares_NoContestRefundsCostBasis(t *testing.T) {
	e := newEngine()
	m, curve := newShareMarket(t, e, d(100))

	cost, _, err := e.BuyShares(m, curve, "bob", true, d(10), d(50), open)
	if err != nil {
		t.Fatalf("buy failed: %v", err)
	}

	// Force the no-contest terminal state directly; the claim path must
	// refund what was paid in, fee-free.
	m.Status = model.StatusResolved
	m.Outcome = model.OutcomeNoContest

	payout, fee, err := e.ClaimShares(m, "bob")
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if !fee.IsZero() {
		t.Errorf("no-contest refund must be fee-free, got %s", fee)
	}
	if !payout.Equal(cost) {
		t.Errorf("expected cost-basis refund %s, got %s", cost, payout)
	}
}
