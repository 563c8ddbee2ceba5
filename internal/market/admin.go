package market

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/overunder/market-core/internal/metrics"
	"github.com/overunder/market-core/internal/model"
)

// Admin and treasury handlers. Every mutating endpoint here requires the
// caller to be the treasury owner.

// AdminRequest carries the caller identity for owner-only operations.
type AdminRequest struct {
	UserID string `json:"user_id"`
}

// BlacklistRequest names the target of a blacklist change.
type BlacklistRequest struct {
	UserID string `json:"user_id"`
	Target string `json:"target"`
}

// WithdrawRequest is the JSON body for a treasury withdrawal.
type WithdrawRequest struct {
	UserID string          `json:"user_id"`
	Amount decimal.Decimal `json:"amount"`
}

// AuthorizeRequest grants or revokes a fee source's deposit permission.
type AuthorizeRequest struct {
	UserID  string `json:"user_id"`
	Source  string `json:"source"`
	Allowed bool   `json:"allowed"`
}

func (s *Service) requireOwner(w http.ResponseWriter, r *http.Request, userID string) bool {
	if !s.isOwner(userID) {
		writeServiceError(w, ErrOnlyOwner)
		return false
	}
	return true
}

// SetPaused handles POST /api/v1/admin/pause and POST /api/v1/admin/unpause.
// A paused platform rejects every value-moving operation; reads stay open.
func (s *Service) SetPaused(paused bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AdminRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if !s.requireOwner(w, r, req.UserID) {
			return
		}
		s.adminMu.Lock()
		s.paused = paused
		s.adminMu.Unlock()
		slog.Info("platform pause state changed", "paused", paused, "by", req.UserID)
		writeJSON(w, map[string]bool{"paused": paused})
	}
}

// SetBlacklisted handles POST /api/v1/admin/blacklist and its removal twin.
func (s *Service) SetBlacklisted(blocked bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BlacklistRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if req.Target == "" {
			writeError(w, "target is required", http.StatusBadRequest)
			return
		}
		if !s.requireOwner(w, r, req.UserID) {
			return
		}
		s.adminMu.Lock()
		if blocked {
			s.blacklist[req.Target] = true
		} else {
			delete(s.blacklist, req.Target)
		}
		s.adminMu.Unlock()
		slog.Info("blacklist changed", "target", req.Target, "blocked", blocked, "by", req.UserID)
		writeJSON(w, map[string]any{"target": req.Target, "blacklisted": blocked})
	}
}

// TreasuryBalance handles GET /api/v1/treasury
func (s *Service) TreasuryBalance(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"balance":         s.treasury.Balance(),
		"total_collected": s.treasury.TotalCollected(),
	})
}

// TreasuryFromSource handles GET /api/v1/treasury/sources/{source}
func (s *Service) TreasuryFromSource(w http.ResponseWriter, r *http.Request) {
	source := chi.URLParam(r, "source")
	writeJSON(w, map[string]any{
		"source":    source,
		"collected": s.treasury.FromSource(source),
	})
}

// DepositRequest is the JSON body for an external fee deposit.
type DepositRequest struct {
	Source string          `json:"source"`
	Amount decimal.Decimal `json:"amount"`
}

// TreasuryDeposit handles POST /api/v1/treasury/deposits
//
// Deposits are restricted to sources the owner has authorized.
func (s *Service) TreasuryDeposit(w http.ResponseWriter, r *http.Request) {
	var req DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Source == "" {
		writeError(w, "source is required", http.StatusBadRequest)
		return
	}
	if err := s.treasury.Deposit(req.Source, req.Amount); err != nil {
		writeServiceError(w, err)
		return
	}
	bal, _ := s.treasury.Balance().Float64()
	metrics.TreasuryBalance.Set(bal)
	slog.Info("treasury deposit", "source", req.Source, "amount", req.Amount.String())
	writeJSON(w, map[string]any{"source": req.Source, "balance": s.treasury.Balance()})
}

// TreasuryWithdraw handles POST /api/v1/treasury/withdrawals
func (s *Service) TreasuryWithdraw(w http.ResponseWriter, r *http.Request) {
	var req WithdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.treasury.Withdraw(req.UserID, req.Amount); err != nil {
		writeServiceError(w, err)
		return
	}
	slog.Info("treasury withdrawal", "by", req.UserID, "amount", req.Amount.String())
	writeJSON(w, map[string]any{"withdrawn": req.Amount, "balance": s.treasury.Balance()})
}

// TreasuryAuthorize handles POST /api/v1/treasury/authorizations
func (s *Service) TreasuryAuthorize(w http.ResponseWriter, r *http.Request) {
	var req AuthorizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Source == "" {
		writeError(w, "source is required", http.StatusBadRequest)
		return
	}
	if err := s.treasury.SetAuthorization(req.UserID, req.Source, req.Allowed); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, map[string]any{"source": req.Source, "allowed": req.Allowed})
}

// UpdateProfile handles PUT /api/v1/profiles/{userID}
func (s *Service) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var body struct {
		Username string `json:"username"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(body.Username) == "" {
		writeError(w, "username is required", http.StatusBadRequest)
		return
	}
	if err := s.guard(userID); err != nil {
		writeServiceError(w, err)
		return
	}

	p := &model.Profile{
		UserID:    userID,
		Username:  strings.TrimSpace(body.Username),
		UpdatedAt: s.now().UTC(),
	}
	if err := s.store.UpsertProfile(r.Context(), p); err != nil {
		writeError(w, "failed to save profile", http.StatusInternalServerError)
		return
	}
	writeJSON(w, p)
}

// GetProfile handles GET /api/v1/profiles/{userID}
func (s *Service) GetProfile(w http.ResponseWriter, r *http.Request) {
	p, err := s.store.GetProfile(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, "profile not found", http.StatusNotFound)
		return
	}
	writeJSON(w, p)
}
