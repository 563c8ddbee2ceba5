// Package store defines the persistence interface for the market core.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/overunder/market-core/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface. Markets are persisted whole, including
// their accounting state: each market is only ever written by one operation
// at a time, so a full-document save is race-free by construction.
type Store interface {
	// --- Market operations ---

	// CreateMarket persists a new market.
	CreateMarket(ctx context.Context, market *model.Market) error

	// GetMarket retrieves a market by its ID.
	GetMarket(ctx context.Context, id string) (*model.Market, error)

	// ListMarkets returns all markets, newest first.
	ListMarkets(ctx context.Context) ([]model.Market, error)

	// SaveMarket persists the full state of an existing market.
	SaveMarket(ctx context.Context, market *model.Market) error

	// --- Immutable records ---

	// InsertWagerRecord appends an immutable record of a value-moving
	// operation.
	InsertWagerRecord(ctx context.Context, rec *model.WagerRecord) error

	// GetWagerRecordsByMarket returns a market's records in time order.
	GetWagerRecordsByMarket(ctx context.Context, marketID string) ([]model.WagerRecord, error)

	// GetWagerRecordsByUser returns a user's records in time order.
	GetWagerRecordsByUser(ctx context.Context, userID string) ([]model.WagerRecord, error)

	// --- Profiles ---

	// UpsertProfile creates or replaces a user profile.
	UpsertProfile(ctx context.Context, p *model.Profile) error

	// GetProfile retrieves a user profile.
	GetProfile(ctx context.Context, userID string) (*model.Profile, error)
}
