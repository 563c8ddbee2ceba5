package market_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/overunder/market-core/internal/config"
	"github.com/overunder/market-core/internal/market"
	"github.com/overunder/market-core/internal/model"
	"github.com/overunder/market-core/internal/store"
	"github.com/overunder/market-core/internal/treasury"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	svc      *market.Service
	store    *store.MemoryStore
	treasury *treasury.Treasury
	router   chi.Router
	clock    *time.Time
}

// newTestEnv creates a test Service with in-memory store, a controllable
// clock, and a chi router.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}
	cfg.Treasury.Owner = "owner"

	ms := store.NewMemoryStore()
	tr := treasury.New("owner")
	if err := tr.SetAuthorization("owner", market.FeeSource, true); err != nil {
		t.Fatalf("authorize failed: %v", err)
	}

	svc := market.NewService(ms, tr, cfg, nil)
	now := baseTime
	clock := &now
	svc.SetClock(func() time.Time { return *clock })

	r := chi.NewRouter()
	r.Post("/api/v1/markets", svc.CreateMarket)
	r.Get("/api/v1/markets/{marketID}", svc.GetMarket)
	r.Get("/api/v1/markets/{marketID}/odds", svc.Odds)
	r.Get("/api/v1/markets/{marketID}/resolution-status", svc.ResolutionStatus)
	r.Get("/api/v1/markets/{marketID}/positions/{userID}", svc.Position)
	r.Post("/api/v1/markets/{marketID}/wagers", svc.PlaceWager)
	r.Post("/api/v1/markets/{marketID}/shares", svc.BuyShares)
	r.Post("/api/v1/markets/{marketID}/liquidity", svc.ProvideLiquidity)
	r.Delete("/api/v1/markets/{marketID}/liquidity", svc.RemoveLiquidity)
	r.Post("/api/v1/markets/{marketID}/resolve", svc.Resolve)
	r.Post("/api/v1/markets/{marketID}/claims", svc.Claim)
	r.Get("/api/v1/users/{userID}/records", svc.UserRecords)
	r.Put("/api/v1/profiles/{userID}", svc.UpdateProfile)
	r.Get("/api/v1/profiles/{userID}", svc.GetProfile)
	r.Get("/api/v1/treasury", svc.TreasuryBalance)
	r.Post("/api/v1/admin/pause", svc.SetPaused(true))
	r.Post("/api/v1/admin/unpause", svc.SetPaused(false))
	r.Post("/api/v1/admin/blacklist", svc.SetBlacklisted(true))

	return &testEnv{svc: svc, store: ms, treasury: tr, router: r, clock: clock}
}

func (env *testEnv) advance(dur time.Duration) {
	*env.clock = env.clock.Add(dur)
}

func (env *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

// createMarket creates a pooled market expiring 24h out and returns its ID.
func (env *testEnv) createMarket(t *testing.T, creator string) string {
	t.Helper()
	w := env.do(t, "POST", "/api/v1/markets", market.CreateMarketRequest{
		UserID:   creator,
		Question: "Will it rain tomorrow?",
		Options:  []string{"Yes", "No"},
		Deadline: baseTime.Add(24 * time.Hour),
		Payment:  d(0.01),
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create market failed: %d %s", w.Code, w.Body.String())
	}
	var m model.Market
	json.Unmarshal(w.Body.Bytes(), &m)
	return m.ID
}

// --- Market creation ---

func TestCreateMarket_Valid(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "POST", "/api/v1/markets", market.CreateMarketRequest{
		UserID:   "alice",
		Question: "Will it rain tomorrow?",
		Options:  []string{"Yes", "No"},
		Deadline: baseTime.Add(24 * time.Hour),
		Payment:  d(0.5),
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var m model.Market
	json.Unmarshal(w.Body.Bytes(), &m)
	if m.ID == "" {
		t.Error("expected non-empty market id")
	}
	if m.Creator != "alice" {
		t.Errorf("expected creator=alice, got %s", m.Creator)
	}
	if !m.State.TotalLPShares.Equal(d(0.5)) {
		t.Errorf("payment should seed liquidity 1:1, got %s", m.State.TotalLPShares)
	}
}

func TestCreateMarket_BelowCreationFee(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "POST", "/api/v1/markets", market.CreateMarketRequest{
		UserID:   "alice",
		Question: "Q?",
		Options:  []string{"Yes", "No"},
		Deadline: baseTime.Add(24 * time.Hour),
		Payment:  d(0.005),
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for underpaid creation, got %d", w.Code)
	}
}

func TestCreateMarket_DurationBounds(t *testing.T) {
	env := newTestEnv(t)

	tooSoon := env.do(t, "POST", "/api/v1/markets", market.CreateMarketRequest{
		UserID: "alice", Question: "Q?", Options: []string{"Yes", "No"},
		Deadline: baseTime.Add(30 * time.Minute), Payment: d(0.01),
	})
	if tooSoon.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for sub-minimum duration, got %d", tooSoon.Code)
	}

	tooFar := env.do(t, "POST", "/api/v1/markets", market.CreateMarketRequest{
		UserID: "alice", Question: "Q?", Options: []string{"Yes", "No"},
		Deadline: baseTime.Add(366 * 24 * time.Hour), Payment: d(0.01),
	})
	if tooFar.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for over-maximum duration, got %d", tooFar.Code)
	}
}

func TestCreateMarket_AMMForcesBinaryOptions(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "POST", "/api/v1/markets", market.CreateMarketRequest{
		UserID:   "alice",
		Question: "Q?",
		Options:  []string{"A", "B", "C"},
		Pricing:  "amm",
		Deadline: baseTime.Add(24 * time.Hour),
		Payment:  d(100),
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var m model.Market
	json.Unmarshal(w.Body.Bytes(), &m)
	if len(m.Options) != 2 || m.Options[0] != "Yes" || m.Options[1] != "No" {
		t.Errorf("AMM markets must be Yes/No, got %v", m.Options)
	}
	if !m.State.YesPool.Equal(d(100)) {
		t.Errorf("expected seeded YES pool, got %s", m.State.YesPool)
	}
}

// --- Wagering over HTTP ---

func TestPlaceWager_Flow(t *testing.T) {
	env := newTestEnv(t)
	id := env.createMarket(t, "alice")

	w := env.do(t, "POST", "/api/v1/markets/"+id+"/wagers", market.WagerRequest{
		UserID: "bob", Option: 0, Payment: d(0.1),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp market.WagerResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if !resp.Fee.Equal(d(0.0005)) {
		t.Errorf("expected fee=0.0005, got %s", resp.Fee)
	}
	if !resp.Net.Equal(d(0.0995)) {
		t.Errorf("expected net=0.0995, got %s", resp.Net)
	}
}

func TestPlaceWager_AfterDeadline(t *testing.T) {
	env := newTestEnv(t)
	id := env.createMarket(t, "alice")
	env.advance(25 * time.Hour)

	w := env.do(t, "POST", "/api/v1/markets/"+id+"/wagers", market.WagerRequest{
		UserID: "bob", Option: 0, Payment: d(0.1),
	})
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 after deadline, got %d", w.Code)
	}
}

func TestPlaceWager_MarketNotFound(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, "POST", "/api/v1/markets/nope/wagers", market.WagerRequest{
		UserID: "bob", Option: 0, Payment: d(0.1),
	})
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestBuyShares_FlowAndInsufficientPayment(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "POST", "/api/v1/markets", market.CreateMarketRequest{
		UserID: "alice", Question: "Q?", Pricing: "amm",
		Deadline: baseTime.Add(24 * time.Hour), Payment: d(100),
	})
	var m model.Market
	json.Unmarshal(w.Body.Bytes(), &m)

	buy := env.do(t, "POST", "/api/v1/markets/"+m.ID+"/shares", market.BuySharesRequest{
		UserID: "bob", Side: "YES", Shares: d(10), Payment: d(50),
	})
	if buy.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", buy.Code, buy.Body.String())
	}
	var resp market.BuySharesResponse
	json.Unmarshal(buy.Body.Bytes(), &resp)
	if !resp.Cost.IsPositive() {
		t.Errorf("cost should be positive, got %s", resp.Cost)
	}
	if !resp.Refund.Equal(d(50).Sub(resp.Cost)) {
		t.Errorf("refund mismatch: %s", resp.Refund)
	}
	if resp.PriceYes.LessThanOrEqual(d(0.5)) {
		t.Errorf("YES price should rise after YES buy, got %s", resp.PriceYes)
	}

	underpaid := env.do(t, "POST", "/api/v1/markets/"+m.ID+"/shares", market.BuySharesRequest{
		UserID: "bob", Side: "YES", Shares: d(10), Payment: d(0.001),
	})
	if underpaid.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for underpayment, got %d", underpaid.Code)
	}
}

// --- Resolution and claims over HTTP ---

func TestResolve_OnlyCreatorOrOwner(t *testing.T) {
	env := newTestEnv(t)
	id := env.createMarket(t, "alice")
	env.do(t, "POST", "/api/v1/markets/"+id+"/wagers", market.WagerRequest{
		UserID: "bob", Option: 0, Payment: d(0.1),
	})
	env.advance(25 * time.Hour)

	w := env.do(t, "POST", "/api/v1/markets/"+id+"/resolve", market.ResolveRequest{
		UserID: "mallory", Outcome: 0,
	})
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403 for stranger, got %d", w.Code)
	}

	w = env.do(t, "POST", "/api/v1/markets/"+id+"/resolve", market.ResolveRequest{
		UserID: "alice", Outcome: 0,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("creator resolve failed: %d %s", w.Code, w.Body.String())
	}
}

func TestResolve_OwnerMayResolveEarly(t *testing.T) {
	env := newTestEnv(t)
	id := env.createMarket(t, "alice")
	env.do(t, "POST", "/api/v1/markets/"+id+"/wagers", market.WagerRequest{
		UserID: "bob", Option: 0, Payment: d(0.1),
	})

	// Creator cannot resolve before the deadline.
	w := env.do(t, "POST", "/api/v1/markets/"+id+"/resolve", market.ResolveRequest{
		UserID: "alice", Outcome: 0,
	})
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 before deadline, got %d", w.Code)
	}

	// The platform owner can.
	w = env.do(t, "POST", "/api/v1/markets/"+id+"/resolve", market.ResolveRequest{
		UserID: "owner", Outcome: 0,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("owner early resolve failed: %d %s", w.Code, w.Body.String())
	}
}

func TestClaim_FlowAndTreasuryFee(t *testing.T) {
	env := newTestEnv(t)
	id := env.createMarket(t, "alice")
	env.do(t, "POST", "/api/v1/markets/"+id+"/wagers", market.WagerRequest{
		UserID: "bob", Option: 0, Payment: d(0.1),
	})
	env.advance(25 * time.Hour)
	env.do(t, "POST", "/api/v1/markets/"+id+"/resolve", market.ResolveRequest{
		UserID: "alice", Outcome: 0,
	})

	w := env.do(t, "POST", "/api/v1/markets/"+id+"/claims", market.ClaimRequest{UserID: "bob"})
	if w.Code != http.StatusOK {
		t.Fatalf("claim failed: %d %s", w.Code, w.Body.String())
	}
	var resp market.PayoutResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if !resp.Payout.IsPositive() {
		t.Errorf("expected positive payout, got %s", resp.Payout)
	}
	if !resp.Fee.IsPositive() {
		t.Errorf("expected positive platform fee, got %s", resp.Fee)
	}

	// The platform fee lands in the treasury.
	if !env.treasury.Balance().Equal(resp.Fee) {
		t.Errorf("treasury should hold the fee %s, got %s", resp.Fee, env.treasury.Balance())
	}

	// Second claim is refused.
	w = env.do(t, "POST", "/api/v1/markets/"+id+"/claims", market.ClaimRequest{UserID: "bob"})
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 for double claim, got %d", w.Code)
	}
}

// --- Resolution status ---

func TestResolutionStatus_Messages(t *testing.T) {
	env := newTestEnv(t)
	id := env.createMarket(t, "alice")

	status := func() model.ResolutionStatus {
		w := env.do(t, "GET", "/api/v1/markets/"+id+"/resolution-status", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("status failed: %d", w.Code)
		}
		var rs model.ResolutionStatus
		json.Unmarshal(w.Body.Bytes(), &rs)
		return rs
	}

	if got := status(); got.Message != "Market still active" || got.CanResolve {
		t.Errorf("active market: got %+v", got)
	}

	env.advance(25 * time.Hour)
	if got := status(); got.Message != "No bets placed - use no contest resolution" || !got.RequiresNoContest {
		t.Errorf("LP-only expired market: got %+v", got)
	}

	env.do(t, "POST", "/api/v1/markets/"+id+"/resolve", market.ResolveRequest{
		UserID: "alice", Outcome: model.OutcomeNoContest,
	})
	if got := status(); got.Message != "Already resolved" {
		t.Errorf("resolved market: got %+v", got)
	}
}

func TestResolutionStatus_ReadyWithBets(t *testing.T) {
	env := newTestEnv(t)
	id := env.createMarket(t, "alice")
	env.do(t, "POST", "/api/v1/markets/"+id+"/wagers", market.WagerRequest{
		UserID: "bob", Option: 0, Payment: d(0.1),
	})
	env.advance(25 * time.Hour)

	w := env.do(t, "GET", "/api/v1/markets/"+id+"/resolution-status", nil)
	var rs model.ResolutionStatus
	json.Unmarshal(w.Body.Bytes(), &rs)
	if rs.Message != "Ready for normal resolution" || !rs.CanResolve || !rs.HasActualBetting {
		t.Errorf("expired market with bets: got %+v", rs)
	}
}

// --- Admin gates ---

func TestPause_BlocksValueMovingOperations(t *testing.T) {
	env := newTestEnv(t)
	id := env.createMarket(t, "alice")

	if w := env.do(t, "POST", "/api/v1/admin/pause", market.AdminRequest{UserID: "mallory"}); w.Code != http.StatusForbidden {
		t.Errorf("non-owner pause: expected 403, got %d", w.Code)
	}
	if w := env.do(t, "POST", "/api/v1/admin/pause", market.AdminRequest{UserID: "owner"}); w.Code != http.StatusOK {
		t.Fatalf("pause failed: %d", w.Code)
	}

	w := env.do(t, "POST", "/api/v1/markets/"+id+"/wagers", market.WagerRequest{
		UserID: "bob", Option: 0, Payment: d(0.1),
	})
	if w.Code != http.StatusForbidden {
		t.Errorf("paused wager: expected 403, got %d", w.Code)
	}
	// Reads stay open.
	if w := env.do(t, "GET", "/api/v1/markets/"+id, nil); w.Code != http.StatusOK {
		t.Errorf("paused read: expected 200, got %d", w.Code)
	}

	env.do(t, "POST", "/api/v1/admin/unpause", market.AdminRequest{UserID: "owner"})
	w = env.do(t, "POST", "/api/v1/markets/"+id+"/wagers", market.WagerRequest{
		UserID: "bob", Option: 0, Payment: d(0.1),
	})
	if w.Code != http.StatusOK {
		t.Errorf("after unpause: expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestBlacklist_BlocksTarget(t *testing.T) {
	env := newTestEnv(t)
	id := env.createMarket(t, "alice")

	env.do(t, "POST", "/api/v1/admin/blacklist", market.BlacklistRequest{
		UserID: "owner", Target: "bob",
	})

	w := env.do(t, "POST", "/api/v1/markets/"+id+"/wagers", market.WagerRequest{
		UserID: "bob", Option: 0, Payment: d(0.1),
	})
	if w.Code != http.StatusForbidden {
		t.Errorf("blacklisted wager: expected 403, got %d", w.Code)
	}

	// Other users are unaffected.
	w = env.do(t, "POST", "/api/v1/markets/"+id+"/wagers", market.WagerRequest{
		UserID: "carol", Option: 0, Payment: d(0.1),
	})
	if w.Code != http.StatusOK {
		t.Errorf("non-blacklisted wager: expected 200, got %d", w.Code)
	}
}

// --- Profiles and records ---

func TestProfiles_UpsertAndGet(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "PUT", "/api/v1/profiles/bob", map[string]string{"username": "bob_the_bettor"})
	if w.Code != http.StatusOK {
		t.Fatalf("upsert failed: %d %s", w.Code, w.Body.String())
	}

	w = env.do(t, "GET", "/api/v1/profiles/bob", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get failed: %d", w.Code)
	}
	var p model.Profile
	json.Unmarshal(w.Body.Bytes(), &p)
	if p.Username != "bob_the_bettor" {
		t.Errorf("expected username bob_the_bettor, got %s", p.Username)
	}

	if w := env.do(t, "GET", "/api/v1/profiles/nobody", nil); w.Code != http.StatusNotFound {
		t.Errorf("missing profile: expected 404, got %d", w.Code)
	}
}

func TestUserRecords_TrackWagers(t *testing.T) {
	env := newTestEnv(t)
	id := env.createMarket(t, "alice")
	env.do(t, "POST", "/api/v1/markets/"+id+"/wagers", market.WagerRequest{
		UserID: "bob", Option: 0, Payment: d(0.1),
	})

	w := env.do(t, "GET", "/api/v1/users/bob/records", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("records failed: %d", w.Code)
	}
	var resp struct {
		Records []model.WagerRecord `json:"records"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(resp.Records))
	}
	if resp.Records[0].Kind != "wager" {
		t.Errorf("expected kind=wager, got %s", resp.Records[0].Kind)
	}
}
