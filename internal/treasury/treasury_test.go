package treasury_test

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/overunder/market-core/internal/treasury"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestDeposit_RequiresAuthorization(t *testing.T) {
	tr := treasury.New("owner")

	if err := tr.Deposit("engine", d(1)); !errors.Is(err, treasury.ErrUnauthorized) {
		t.Errorf("unauthorized deposit: got %v", err)
	}

	if err := tr.SetAuthorization("owner", "engine", true); err != nil {
		t.Fatalf("authorize failed: %v", err)
	}
	if err := tr.Deposit("engine", d(1)); err != nil {
		t.Fatalf("authorized deposit failed: %v", err)
	}

	// Revocation closes the door again.
	if err := tr.SetAuthorization("owner", "engine", false); err != nil {
		t.Fatalf("revoke failed: %v", err)
	}
	if err := tr.Deposit("engine", d(1)); !errors.Is(err, treasury.ErrUnauthorized) {
		t.Errorf("revoked deposit: got %v", err)
	}
}

func TestSetAuthorization_OwnerOnly(t *testing.T) {
	tr := treasury.New("owner")
	if err := tr.SetAuthorization("mallory", "engine", true); !errors.Is(err, treasury.ErrOnlyOwner) {
		t.Errorf("expected ErrOnlyOwner, got %v", err)
	}
}

func TestWithdraw(t *testing.T) {
	tr := treasury.New("owner")
	tr.SetAuthorization("owner", "engine", true)
	tr.Deposit("engine", d(10))

	if err := tr.Withdraw("mallory", d(1)); !errors.Is(err, treasury.ErrOnlyOwner) {
		t.Errorf("non-owner withdraw: got %v", err)
	}
	if err := tr.Withdraw("owner", d(11)); !errors.Is(err, treasury.ErrInsufficientBalance) {
		t.Errorf("overdraw: got %v", err)
	}
	if err := tr.Withdraw("owner", decimal.Zero); !errors.Is(err, treasury.ErrInvalidAmount) {
		t.Errorf("zero withdraw: got %v", err)
	}
	if err := tr.Withdraw("owner", d(4)); err != nil {
		t.Fatalf("withdraw failed: %v", err)
	}
	if !tr.Balance().Equal(d(6)) {
		t.Errorf("expected balance 6, got %s", tr.Balance())
	}
}

func TestAccounting_TracksSourcesAndTotal(t *testing.T) {
	tr := treasury.New("owner")
	tr.SetAuthorization("owner", "engine", true)
	tr.SetAuthorization("owner", "other", true)

	tr.Deposit("engine", d(3))
	tr.Deposit("engine", d(2))
	tr.Deposit("other", d(1))
	tr.Withdraw("owner", d(4))

	if !tr.FromSource("engine").Equal(d(5)) {
		t.Errorf("expected 5 from engine, got %s", tr.FromSource("engine"))
	}
	if !tr.FromSource("other").Equal(d(1)) {
		t.Errorf("expected 1 from other, got %s", tr.FromSource("other"))
	}
	// Withdrawals reduce the balance but never the collected totals.
	if !tr.TotalCollected().Equal(d(6)) {
		t.Errorf("expected total 6, got %s", tr.TotalCollected())
	}
	if !tr.Balance().Equal(d(2)) {
		t.Errorf("expected balance 2, got %s", tr.Balance())
	}
}

func TestDeposit_RejectsNonPositive(t *testing.T) {
	tr := treasury.New("owner")
	tr.SetAuthorization("owner", "engine", true)
	if err := tr.Deposit("engine", decimal.Zero); !errors.Is(err, treasury.ErrInvalidAmount) {
		t.Errorf("zero deposit: got %v", err)
	}
	if err := tr.Deposit("engine", d(-1)); !errors.Is(err, treasury.ErrInvalidAmount) {
		t.Errorf("negative deposit: got %v", err)
	}
}
