package market

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/overunder/market-core/internal/metrics"
	"github.com/overunder/market-core/internal/model"
)

// Resolve handles POST /api/v1/markets/{marketID}/resolve
//
// Only the market creator may resolve. The treasury owner may additionally
// resolve any market, including before its deadline (the force path); the
// no-contest gates still apply to the owner.
func (s *Service) Resolve(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}
	if err := s.guard(req.UserID); err != nil {
		writeServiceError(w, err)
		return
	}

	unlock := s.lockMarket(marketID)
	defer unlock()

	ctx := r.Context()
	m, err := s.store.GetMarket(ctx, marketID)
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}

	force := s.isOwner(req.UserID)
	if req.UserID != m.Creator && !force {
		writeServiceError(w, ErrOnlyCreatorCanResolve)
		return
	}

	if m.Pricing == model.PricingAMM {
		err = s.engine.ResolveShares(m, req.Outcome, force, s.now())
	} else {
		err = s.engine.Resolve(m, req.Outcome, force, s.now())
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if err := s.store.SaveMarket(ctx, m); err != nil {
		writeError(w, "failed to persist market state", http.StatusInternalServerError)
		return
	}

	kind := "normal"
	if req.Outcome == model.OutcomeNoContest {
		kind = "no_contest"
	}
	metrics.MarketsResolved.WithLabelValues(kind).Inc()
	slog.Info("market resolved",
		"market", m.ID,
		"resolver", req.UserID,
		"outcome", req.Outcome,
		"forced", force && req.UserID != m.Creator,
	)
	outcome := req.Outcome
	s.broadcast(WSMessage{Type: "market_resolved", MarketID: m.ID, Outcome: &outcome})

	writeJSON(w, m)
}

// Claim handles POST /api/v1/markets/{marketID}/claims
//
// Pays the caller their winnings (or no-contest refund) exactly once. The
// platform fee on winnings is deposited into the treasury after the claim is
// committed.
func (s *Service) Claim(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	var req ClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}
	if err := s.guard(req.UserID); err != nil {
		writeServiceError(w, err)
		return
	}

	unlock := s.lockMarket(marketID)
	defer unlock()

	ctx := r.Context()
	m, err := s.store.GetMarket(ctx, marketID)
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}

	var payout, fee decimal.Decimal
	if m.Pricing == model.PricingAMM {
		payout, fee, err = s.engine.ClaimShares(m, req.UserID)
	} else {
		payout, fee, err = s.engine.Claim(m, req.UserID)
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if err := s.store.SaveMarket(ctx, m); err != nil {
		writeError(w, "failed to persist market state", http.StatusInternalServerError)
		return
	}
	s.insertRecord(ctx, m.ID, req.UserID, "claim", m.Outcome, payout.Add(fee), payout, fee)
	s.collectPlatformFee(fee)

	metrics.ClaimsTotal.Inc()
	slog.Info("claim paid",
		"market", m.ID,
		"user", req.UserID,
		"payout", payout.String(),
		"fee", fee.String(),
	)

	writeJSON(w, PayoutResponse{
		MarketID: m.ID,
		UserID:   req.UserID,
		Payout:   payout,
		Fee:      fee,
	})
}

// ResolutionStatus handles GET /api/v1/markets/{marketID}/resolution-status
//
// Reports whether the market can be resolved right now and which resolution
// path applies.
func (s *Service) ResolutionStatus(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	m, err := s.store.GetMarket(r.Context(), marketID)
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}
	writeJSON(w, s.resolutionStatus(m, s.now()))
}

func (s *Service) resolutionStatus(m *model.Market, now time.Time) model.ResolutionStatus {
	hasBets := s.hasActualBets(m)
	switch {
	case m.Resolved():
		return model.ResolutionStatus{
			HasActualBetting: hasBets,
			Message:          "Already resolved",
		}
	case now.Before(m.Deadline):
		return model.ResolutionStatus{
			HasActualBetting: hasBets,
			Message:          "Market still active",
		}
	case !hasBets:
		return model.ResolutionStatus{
			CanResolve:        true,
			RequiresNoContest: true,
			Message:           "No bets placed - use no contest resolution",
		}
	default:
		return model.ResolutionStatus{
			CanResolve:       true,
			HasActualBetting: true,
			Message:          "Ready for normal resolution",
		}
	}
}

func (s *Service) hasActualBets(m *model.Market) bool {
	if m.Pricing == model.PricingAMM {
		return s.engine.HasOutstandingShares(m)
	}
	return s.engine.HasActualBets(m)
}
