// Package treasury holds platform fee revenue. Deposits are restricted to
// authorized sources, withdrawals to the owner.
package treasury

import (
	"errors"
	"sync"

	"github.com/shopspring/decimal"
)

var (
	// ErrUnauthorized is returned when a deposit comes from a source the
	// owner has not authorized.
	ErrUnauthorized = errors.New("treasury: source not authorized to deposit fees")

	// ErrOnlyOwner is returned when a non-owner attempts an owner-gated
	// operation.
	ErrOnlyOwner = errors.New("treasury: only owner")

	// ErrInvalidAmount is returned for non-positive amounts.
	ErrInvalidAmount = errors.New("treasury: amount must be positive")

	// ErrInsufficientBalance is returned when a withdrawal exceeds the
	// current balance.
	ErrInsufficientBalance = errors.New("treasury: insufficient balance")
)

// Treasury tracks collected platform fees per source and the withdrawable
// balance. Safe for concurrent use.
type Treasury struct {
	mu         sync.RWMutex
	owner      string
	authorized map[string]bool
	bySource   map[string]decimal.Decimal
	total      decimal.Decimal
	balance    decimal.Decimal
}

// New creates a treasury owned by the given identity.
func New(owner string) *Treasury {
	return &Treasury{
		owner:      owner,
		authorized: make(map[string]bool),
		bySource:   make(map[string]decimal.Decimal),
	}
}

// SetAuthorization grants or revokes a source's right to deposit fees.
// Owner only.
func (t *Treasury) SetAuthorization(caller, source string, allowed bool) error {
	if caller != t.owner {
		return ErrOnlyOwner
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.authorized[source] = allowed
	return nil
}

// Deposit records a fee payment from an authorized source.
func (t *Treasury) Deposit(source string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.authorized[source] {
		return ErrUnauthorized
	}
	t.bySource[source] = t.bySource[source].Add(amount)
	t.total = t.total.Add(amount)
	t.balance = t.balance.Add(amount)
	return nil
}

// Withdraw removes amount from the balance. Owner only.
func (t *Treasury) Withdraw(caller string, amount decimal.Decimal) error {
	if caller != t.owner {
		return ErrOnlyOwner
	}
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if amount.GreaterThan(t.balance) {
		return ErrInsufficientBalance
	}
	t.balance = t.balance.Sub(amount)
	return nil
}

// Balance returns the currently withdrawable amount.
func (t *Treasury) Balance() decimal.Decimal {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.balance
}

// TotalCollected returns the cumulative fees ever deposited.
func (t *Treasury) TotalCollected() decimal.Decimal {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.total
}

// FromSource returns the cumulative fees deposited by one source.
func (t *Treasury) FromSource(source string) decimal.Decimal {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.bySource[source]
}
