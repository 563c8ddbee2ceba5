package market

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/overunder/market-core/internal/ledger"
	"github.com/overunder/market-core/internal/model"
)

// GetMarket handles GET /api/v1/markets/{marketID}
func (s *Service) GetMarket(w http.ResponseWriter, r *http.Request) {
	m, err := s.store.GetMarket(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}
	writeJSON(w, m)
}

// ListMarkets handles GET /api/v1/markets
func (s *Service) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := s.store.ListMarkets(r.Context())
	if err != nil {
		writeError(w, "failed to list markets", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"markets": markets, "count": len(markets)})
}

// OddsResponse reports the current market prices. For pooled markets Odds
// holds per-option implied probability in basis points; for AMM markets the
// YES/NO prices and the YES implied probability are reported instead.
type OddsResponse struct {
	MarketID           string            `json:"market_id"`
	Pricing            string            `json:"pricing"`
	Odds               []decimal.Decimal `json:"odds,omitempty"`
	PriceYes           decimal.Decimal   `json:"price_yes,omitempty"`
	PriceNo            decimal.Decimal   `json:"price_no,omitempty"`
	ImpliedProbability decimal.Decimal   `json:"implied_probability_bps,omitempty"`
	TotalPool          decimal.Decimal   `json:"total_pool"`
}

// Odds handles GET /api/v1/markets/{marketID}/odds
func (s *Service) Odds(w http.ResponseWriter, r *http.Request) {
	m, err := s.store.GetMarket(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}

	resp := OddsResponse{
		MarketID:  m.ID,
		Pricing:   string(m.Pricing),
		TotalPool: m.TotalPool(),
	}
	if m.Pricing == model.PricingAMM {
		curve := curveFor(m)
		resp.PriceYes, resp.PriceNo = curve.Odds(m.State.YesPool, m.State.NoPool)
		resp.ImpliedProbability = curve.ImpliedProbability(m.State.YesPool, m.State.NoPool)
	} else {
		resp.Odds = ledger.Odds(m)
	}
	writeJSON(w, resp)
}

// Position handles GET /api/v1/markets/{marketID}/positions/{userID}
func (s *Service) Position(w http.ResponseWriter, r *http.Request) {
	m, err := s.store.GetMarket(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}
	userID := chi.URLParam(r, "userID")

	st := m.State
	pos := model.Position{
		UserID:       userID,
		MarketID:     m.ID,
		LPShares:     st.LPShares[userID],
		LPLiquidity:  st.LPLiquidity[userID],
		BettorStakes: st.BettorStakes[userID],
		YesShares:    st.YesHoldings[userID],
		NoShares:     st.NoHoldings[userID],
		Claimed:      st.Claimed[userID],
	}
	claimable := decimal.Zero
	if m.Pricing == model.PricingPooled {
		claimable = s.engine.ClaimableValue(m, userID)
	}
	writeJSON(w, map[string]any{"position": pos, "claimable": claimable})
}

// MarketRecords handles GET /api/v1/markets/{marketID}/records
func (s *Service) MarketRecords(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")
	records, err := s.store.GetWagerRecordsByMarket(r.Context(), marketID)
	if err != nil {
		writeError(w, "failed to load records", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"market_id": marketID, "records": records, "count": len(records)})
}

// UserRecords handles GET /api/v1/users/{userID}/records
func (s *Service) UserRecords(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	records, err := s.store.GetWagerRecordsByUser(r.Context(), userID)
	if err != nil {
		writeError(w, "failed to load records", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"user_id": userID, "records": records, "count": len(records)})
}
