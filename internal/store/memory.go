package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/overunder/market-core/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu       sync.RWMutex
	markets  map[string]*model.Market
	records  []model.WagerRecord
	profiles map[string]model.Profile
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		markets:  make(map[string]*model.Market),
		profiles: make(map[string]model.Profile),
	}
}

// cloneMarket deep-copies a market. The accounting state holds maps and
// slices, so a struct copy is not enough to isolate callers.
func cloneMarket(m *model.Market) *model.Market {
	data, err := json.Marshal(m)
	if err != nil {
		panic(fmt.Sprintf("market not serializable: %v", err))
	}
	var out model.Market
	if err := json.Unmarshal(data, &out); err != nil {
		panic(fmt.Sprintf("market not deserializable: %v", err))
	}
	return &out
}

func (s *MemoryStore) CreateMarket(_ context.Context, m *model.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.markets[m.ID]; exists {
		return fmt.Errorf("market %s already exists", m.ID)
	}
	s.markets[m.ID] = cloneMarket(m)
	return nil
}

func (s *MemoryStore) GetMarket(_ context.Context, id string) (*model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markets[id]
	if !ok {
		return nil, fmt.Errorf("market %s: %w", id, ErrNotFound)
	}
	return cloneMarket(m), nil
}

func (s *MemoryStore) ListMarkets(_ context.Context) ([]model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	markets := make([]model.Market, 0, len(s.markets))
	for _, m := range s.markets {
		markets = append(markets, *cloneMarket(m))
	}
	sort.Slice(markets, func(i, j int) bool {
		return markets[i].CreatedAt.After(markets[j].CreatedAt)
	})
	return markets, nil
}

func (s *MemoryStore) SaveMarket(_ context.Context, m *model.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.markets[m.ID]; !ok {
		return fmt.Errorf("market %s: %w", m.ID, ErrNotFound)
	}
	s.markets[m.ID] = cloneMarket(m)
	return nil
}

func (s *MemoryStore) InsertWagerRecord(_ context.Context, rec *model.WagerRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = append(s.records, *rec)
	return nil
}

func (s *MemoryStore) GetWagerRecordsByMarket(_ context.Context, marketID string) ([]model.WagerRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.WagerRecord
	for _, r := range s.records {
		if r.MarketID == marketID {
			result = append(result, r)
		}
	}
	return result, nil
}

func (s *MemoryStore) GetWagerRecordsByUser(_ context.Context, userID string) ([]model.WagerRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.WagerRecord
	for _, r := range s.records {
		if r.UserID == userID {
			result = append(result, r)
		}
	}
	return result, nil
}

func (s *MemoryStore) UpsertProfile(_ context.Context, p *model.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.profiles[p.UserID] = *p
	return nil
}

func (s *MemoryStore) GetProfile(_ context.Context, userID string) (*model.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[userID]
	if !ok {
		return nil, fmt.Errorf("profile %s: %w", userID, ErrNotFound)
	}
	out := p
	return &out, nil
}
