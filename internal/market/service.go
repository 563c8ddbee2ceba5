// Package market provides the HTTP handlers and lifecycle orchestration for
// creating markets, wagering, providing liquidity, resolving, and claiming.
// It enforces time and role gates and delegates all accounting to the ledger
// engine and pricing to the amm curve.
//
// All monetary values use shopspring/decimal — never float64 for money.
package market

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/overunder/market-core/internal/amm"
	"github.com/overunder/market-core/internal/config"
	"github.com/overunder/market-core/internal/ledger"
	"github.com/overunder/market-core/internal/metrics"
	"github.com/overunder/market-core/internal/model"
	"github.com/overunder/market-core/internal/store"
	"github.com/overunder/market-core/internal/treasury"
)

// FeeSource is the identity under which the service deposits platform fees
// into the treasury. It must be authorized by the treasury owner at startup.
const FeeSource = "market-core"

// Authorization and lifecycle errors raised by the controller itself.
var (
	ErrPaused                  = errors.New("market: platform is paused")
	ErrBlacklisted             = errors.New("market: user is blacklisted")
	ErrOnlyOwner               = errors.New("market: only owner")
	ErrOnlyCreatorCanResolve   = errors.New("market: only the creator or owner can resolve")
	ErrInvalidDuration         = errors.New("market: deadline outside allowed duration range")
	ErrInsufficientCreationFee = errors.New("market: payment below creation fee")
)

// Service handles market operations. Operations on the same market are
// strictly serialized by a per-market mutex; operations on different markets
// proceed independently.
type Service struct {
	store    store.Store
	engine   *ledger.Engine
	treasury *treasury.Treasury
	cfg      *config.Config
	wsHub    *WSHub // optional, nil disables broadcasts
	now      func() time.Time

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	adminMu   sync.RWMutex
	paused    bool
	blacklist map[string]bool
}

// NewService creates a market service. Pass nil for hub if WebSocket
// broadcasting is not needed.
func NewService(st store.Store, tr *treasury.Treasury, cfg *config.Config, hub *WSHub) *Service {
	return &Service{
		store: st,
		engine: ledger.NewEngine(ledger.Config{
			MinLiquidity:   cfg.MinLiquidity(),
			MinWager:       cfg.MinWager(),
			LPFeeBps:       cfg.Market.LPFeeBps,
			PlatformFeeBps: cfg.Market.PlatformFeeBps,
		}),
		treasury:  tr,
		cfg:       cfg,
		wsHub:     hub,
		now:       time.Now,
		locks:     make(map[string]*sync.Mutex),
		blacklist: make(map[string]bool),
	}
}

// SetClock overrides the service clock. Test hook.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// lockMarket acquires the market's mutex, creating it on first use.
// Returns the unlock function.
func (s *Service) lockMarket(id string) func() {
	s.locksMu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	s.locksMu.Unlock()
	l.Lock()
	return l.Unlock
}

// guard runs the pause and blacklist checks shared by every value-moving
// operation. Authorization failures never touch ledger state.
func (s *Service) guard(userID string) error {
	s.adminMu.RLock()
	defer s.adminMu.RUnlock()
	if s.paused {
		return ErrPaused
	}
	if s.blacklist[userID] {
		return ErrBlacklisted
	}
	return nil
}

func (s *Service) isOwner(userID string) bool {
	return userID == s.cfg.Treasury.Owner
}

// collectPlatformFee pushes a platform fee into the treasury. Called after
// ledger state is committed; a treasury failure is logged, not propagated,
// because the ledger commit is the source of truth.
func (s *Service) collectPlatformFee(amount decimal.Decimal) {
	if !amount.IsPositive() {
		return
	}
	if err := s.treasury.Deposit(FeeSource, amount); err != nil {
		slog.Error("treasury deposit failed", "err", err, "amount", amount.String())
		return
	}
	bal, _ := s.treasury.Balance().Float64()
	metrics.TreasuryBalance.Set(bal)
}

// --- Request/Response types ---

// CreateMarketRequest is the JSON body for market creation. Payment is the
// value the caller attaches; it must cover the creation fee and becomes the
// market's initial liquidity.
type CreateMarketRequest struct {
	UserID      string          `json:"user_id"`
	Question    string          `json:"question"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Options     []string        `json:"options"`
	Pricing     string          `json:"pricing"` // "pooled" (default) or "amm"
	Deadline    time.Time       `json:"deadline"`
	Payment     decimal.Decimal `json:"payment"`
}

// WagerRequest is the JSON body for placing a pooled-market wager.
type WagerRequest struct {
	UserID  string          `json:"user_id"`
	Option  int             `json:"option"`
	Payment decimal.Decimal `json:"payment"`
}

// WagerResponse reports the accepted wager.
type WagerResponse struct {
	MarketID string            `json:"market_id"`
	UserID   string            `json:"user_id"`
	Option   int               `json:"option"`
	Net      decimal.Decimal   `json:"net"`
	Fee      decimal.Decimal   `json:"fee"`
	Pools    []decimal.Decimal `json:"pools"`
}

// BuySharesRequest is the JSON body for an AMM share purchase.
type BuySharesRequest struct {
	UserID  string          `json:"user_id"`
	Side    string          `json:"side"` // "YES" or "NO"
	Shares  decimal.Decimal `json:"shares"`
	Payment decimal.Decimal `json:"payment"`
}

// BuySharesResponse reports the executed purchase. Refund is the excess
// payment returned to the caller.
type BuySharesResponse struct {
	MarketID           string          `json:"market_id"`
	UserID             string          `json:"user_id"`
	Side               string          `json:"side"`
	Shares             decimal.Decimal `json:"shares"`
	Cost               decimal.Decimal `json:"cost"`
	Refund             decimal.Decimal `json:"refund"`
	PriceYes           decimal.Decimal `json:"price_yes"`
	PriceNo            decimal.Decimal `json:"price_no"`
	ImpliedProbability decimal.Decimal `json:"implied_probability_bps"`
}

// LiquidityRequest is the JSON body for providing liquidity.
type LiquidityRequest struct {
	UserID  string          `json:"user_id"`
	Payment decimal.Decimal `json:"payment"`
}

// RemoveLiquidityRequest is the JSON body for removing liquidity by shares.
type RemoveLiquidityRequest struct {
	UserID string          `json:"user_id"`
	Shares decimal.Decimal `json:"shares"`
}

// ResolveRequest is the JSON body for resolution. Outcome is a valid option
// index, or -1 for no-contest.
type ResolveRequest struct {
	UserID  string `json:"user_id"`
	Outcome int    `json:"outcome"`
}

// ClaimRequest is the JSON body for claiming winnings.
type ClaimRequest struct {
	UserID string `json:"user_id"`
}

// PayoutResponse reports value paid out to the caller.
type PayoutResponse struct {
	MarketID string          `json:"market_id"`
	UserID   string          `json:"user_id"`
	Payout   decimal.Decimal `json:"payout"`
	Fee      decimal.Decimal `json:"fee"`
}

// --- HTTP handlers: creation and wagering ---

// CreateMarket handles POST /api/v1/markets
func (s *Service) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req CreateMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" || strings.TrimSpace(req.Question) == "" {
		writeError(w, "user_id and question are required", http.StatusBadRequest)
		return
	}
	if err := s.guard(req.UserID); err != nil {
		writeServiceError(w, err)
		return
	}

	now := s.now()
	duration := req.Deadline.Sub(now)
	if duration < s.cfg.Market.MinDuration || duration > s.cfg.Market.MaxDuration {
		writeServiceError(w, ErrInvalidDuration)
		return
	}
	if req.Payment.LessThan(s.cfg.CreationFee()) {
		writeServiceError(w, ErrInsufficientCreationFee)
		return
	}

	pricing := model.PricingModel(req.Pricing)
	if pricing == "" {
		pricing = model.PricingPooled
	}
	if pricing != model.PricingPooled && pricing != model.PricingAMM {
		writeError(w, "pricing must be pooled or amm", http.StatusBadRequest)
		return
	}

	m := &model.Market{
		ID:          uuid.New().String(),
		Creator:     req.UserID,
		Question:    req.Question,
		Description: req.Description,
		Category:    req.Category,
		Options:     req.Options,
		Pricing:     pricing,
		Deadline:    req.Deadline.UTC(),
		CreatedAt:   now.UTC(),
		Status:      model.StatusOpen,
	}

	var err error
	if pricing == model.PricingAMM {
		// AMM markets are always binary.
		m.Options = []string{"Yes", "No"}
		err = s.engine.SeedShares(m, req.Payment)
	} else {
		err = s.engine.Seed(m, req.UserID, req.Payment)
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}

	ctx := r.Context()
	if err := s.store.CreateMarket(ctx, m); err != nil {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}
	s.insertRecord(ctx, m.ID, req.UserID, "liquidity", -1, req.Payment, req.Payment, decimal.Zero)

	metrics.MarketsCreated.WithLabelValues(string(pricing)).Inc()
	slog.Info("market created",
		"id", m.ID,
		"creator", req.UserID,
		"pricing", string(pricing),
		"options", len(m.Options),
		"liquidity", req.Payment.String(),
	)
	s.broadcast(WSMessage{Type: "market_created", MarketID: m.ID, UserID: req.UserID, Amount: req.Payment.String()})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(m)
}

// PlaceWager handles POST /api/v1/markets/{marketID}/wagers
func (s *Service) PlaceWager(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	var req WagerRequest
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
	if m.Pricing != model.PricingPooled {
		writeError(w, "market does not accept pooled wagers", http.StatusConflict)
		return
	}

	net, fee, err := s.engine.Wager(m, req.UserID, req.Option, req.Payment, s.now())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if err := s.store.SaveMarket(ctx, m); err != nil {
		writeError(w, "failed to persist market state", http.StatusInternalServerError)
		return
	}
	s.insertRecord(ctx, m.ID, req.UserID, "wager", req.Option, req.Payment, net, fee)

	metrics.WagersTotal.WithLabelValues(string(model.PricingPooled)).Inc()
	slog.Info("wager placed",
		"market", m.ID,
		"user", req.UserID,
		"option", req.Option,
		"net", net.String(),
		"fee", fee.String(),
	)
	opt := req.Option
	s.broadcast(WSMessage{Type: "wager_placed", MarketID: m.ID, UserID: req.UserID, Option: &opt, Amount: net.String()})

	pools := make([]decimal.Decimal, len(m.State.Pools))
	for i, p := range m.State.Pools {
		pools[i] = p.Total()
	}
	writeJSON(w, WagerResponse{
		MarketID: m.ID,
		UserID:   req.UserID,
		Option:   req.Option,
		Net:      net,
		Fee:      fee,
		Pools:    pools,
	})
}

// BuyShares handles POST /api/v1/markets/{marketID}/shares
func (s *Service) BuyShares(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	var req BuySharesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}
	if req.Side != "YES" && req.Side != "NO" {
		writeError(w, "side must be YES or NO", http.StatusBadRequest)
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
	if m.Pricing != model.PricingAMM {
		writeError(w, "market does not sell shares", http.StatusConflict)
		return
	}

	curve := curveFor(m)
	cost, refund, err := s.engine.BuyShares(m, curve, req.UserID, req.Side == "YES", req.Shares, req.Payment, s.now())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if err := s.store.SaveMarket(ctx, m); err != nil {
		writeError(w, "failed to persist market state", http.StatusInternalServerError)
		return
	}
	side := ledger.OptionNo
	if req.Side == "YES" {
		side = ledger.OptionYes
	}
	s.insertRecord(ctx, m.ID, req.UserID, "shares", side, req.Payment, cost, decimal.Zero)

	priceYes, priceNo := curve.Odds(m.State.YesPool, m.State.NoPool)
	prob := curve.ImpliedProbability(m.State.YesPool, m.State.NoPool)

	metrics.WagersTotal.WithLabelValues(string(model.PricingAMM)).Inc()
	slog.Info("shares purchased",
		"market", m.ID,
		"user", req.UserID,
		"side", req.Side,
		"shares", req.Shares.String(),
		"cost", cost.String(),
		"price_yes", priceYes.String(),
	)
	s.broadcast(WSMessage{Type: "shares_purchased", MarketID: m.ID, UserID: req.UserID, Option: &side, Amount: cost.String(), Odds: priceYes.String()})

	writeJSON(w, BuySharesResponse{
		MarketID:           m.ID,
		UserID:             req.UserID,
		Side:               req.Side,
		Shares:             req.Shares,
		Cost:               cost,
		Refund:             refund,
		PriceYes:           priceYes,
		PriceNo:            priceNo,
		ImpliedProbability: prob,
	})
}

// ProvideLiquidity handles POST /api/v1/markets/{marketID}/liquidity
func (s *Service) ProvideLiquidity(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	var req LiquidityRequest
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
	if m.Pricing != model.PricingPooled {
		writeError(w, "market does not accept LP deposits", http.StatusConflict)
		return
	}

	shares, err := s.engine.ProvideLiquidity(m, req.UserID, req.Payment, s.now())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if err := s.store.SaveMarket(ctx, m); err != nil {
		writeError(w, "failed to persist market state", http.StatusInternalServerError)
		return
	}
	s.insertRecord(ctx, m.ID, req.UserID, "liquidity", -1, req.Payment, req.Payment, decimal.Zero)

	slog.Info("liquidity provided",
		"market", m.ID,
		"user", req.UserID,
		"amount", req.Payment.String(),
		"shares", shares.String(),
	)
	s.broadcast(WSMessage{Type: "liquidity_added", MarketID: m.ID, UserID: req.UserID, Amount: req.Payment.String()})

	writeJSON(w, map[string]any{
		"market_id": m.ID,
		"user_id":   req.UserID,
		"shares":    shares,
	})
}

// RemoveLiquidity handles DELETE /api/v1/markets/{marketID}/liquidity
func (s *Service) RemoveLiquidity(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	var req RemoveLiquidityRequest
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
	if m.Pricing != model.PricingPooled {
		writeError(w, "market has no LP shares", http.StatusConflict)
		return
	}

	payout, err := s.engine.RemoveLiquidity(m, req.UserID, req.Shares)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if err := s.store.SaveMarket(ctx, m); err != nil {
		writeError(w, "failed to persist market state", http.StatusInternalServerError)
		return
	}
	s.insertRecord(ctx, m.ID, req.UserID, "withdrawal", -1, payout, payout, decimal.Zero)

	slog.Info("liquidity removed",
		"market", m.ID,
		"user", req.UserID,
		"shares", req.Shares.String(),
		"payout", payout.String(),
	)
	s.broadcast(WSMessage{Type: "liquidity_removed", MarketID: m.ID, UserID: req.UserID, Amount: payout.String()})

	writeJSON(w, PayoutResponse{
		MarketID: m.ID,
		UserID:   req.UserID,
		Payout:   payout,
		Fee:      decimal.Zero,
	})
}

// --- shared plumbing ---

// curveFor rebuilds the pricing curve for an AMM market from its recorded
// seed size.
func curveFor(m *model.Market) *amm.Curve {
	return amm.NewCurve(m.State.SeedPool)
}

func (s *Service) insertRecord(ctx context.Context, marketID, userID, kind string, option int, gross, net, fee decimal.Decimal) {
	rec := &model.WagerRecord{
		ID:        uuid.New().String(),
		MarketID:  marketID,
		UserID:    userID,
		Kind:      kind,
		Option:    option,
		Gross:     gross,
		Net:       net,
		Fee:       fee,
		Timestamp: s.now().UTC(),
	}
	if err := s.store.InsertWagerRecord(ctx, rec); err != nil {
		slog.Error("failed to insert wager record", "err", err, "market", marketID)
	}
}

func (s *Service) broadcast(msg WSMessage) {
	if s.wsHub != nil {
		s.wsHub.Broadcast(msg)
	}
}

// writeJSON writes a 200 JSON response.
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeServiceError maps a domain error to an HTTP status. Validation errors
// map to 400, lifecycle conflicts to 409, authorization failures to 403.
func writeServiceError(w http.ResponseWriter, err error) {
	status := http.StatusConflict
	switch {
	case errors.Is(err, ledger.ErrInvalidOptionCount),
		errors.Is(err, ledger.ErrInvalidOptionLabel),
		errors.Is(err, ledger.ErrBelowMinimumLiquidity),
		errors.Is(err, ledger.ErrBelowMinimumWager),
		errors.Is(err, ledger.ErrInvalidOption),
		errors.Is(err, ledger.ErrInvalidShareAmount),
		errors.Is(err, ledger.ErrInsufficientPayment),
		errors.Is(err, amm.ErrInvalidShareAmount),
		errors.Is(err, ErrInvalidDuration),
		errors.Is(err, ErrInsufficientCreationFee),
		errors.Is(err, treasury.ErrInvalidAmount):
		status = http.StatusBadRequest
	case errors.Is(err, ErrPaused),
		errors.Is(err, ErrBlacklisted),
		errors.Is(err, ErrOnlyOwner),
		errors.Is(err, ErrOnlyCreatorCanResolve),
		errors.Is(err, treasury.ErrOnlyOwner),
		errors.Is(err, treasury.ErrUnauthorized):
		status = http.StatusForbidden
	}
	writeError(w, err.Error(), status)
}
