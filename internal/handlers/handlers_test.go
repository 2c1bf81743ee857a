package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/AkibHossainOmi/TutorMove-sub000/internal/boost"
	"github.com/AkibHossainOmi/TutorMove-sub000/internal/clock"
	"github.com/AkibHossainOmi/TutorMove-sub000/internal/credits"
	"github.com/AkibHossainOmi/TutorMove-sub000/internal/ledger"
	"github.com/AkibHossainOmi/TutorMove-sub000/internal/memstore"
	"github.com/AkibHossainOmi/TutorMove-sub000/internal/middleware"
	"github.com/AkibHossainOmi/TutorMove-sub000/internal/models"
	"github.com/AkibHossainOmi/TutorMove-sub000/internal/prediction"
	"github.com/AkibHossainOmi/TutorMove-sub000/internal/ranking"
	"github.com/AkibHossainOmi/TutorMove-sub000/internal/validate"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

var (
	t0          = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	mathSubject = uuid.MustParse("5a000000-0000-0000-0000-000000000001")
)

type testEnv struct {
	store  *memstore.Store
	ledger ledger.Service
	index  *ranking.Index
	mux    *http.ServeMux
}

// newTestEnv wires the handlers over an in-memory store. Authenticated
// routes take the account id from the X-Test-Account header.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clk := clock.NewFake(t0)
	store := memstore.New(clk)
	l := ledger.NewService(store, nil)
	index := ranking.NewIndex(ranking.NewModel(ranking.DefaultHalfLife), clk)
	v, err := validate.New()
	if err != nil {
		t.Fatalf("validate.New: %v", err)
	}

	gh := &GigHandler{
		Ranks:     index,
		Gigs:      store,
		Predictor: prediction.NewService(index, store, clk),
		Boosts:    boost.NewCoordinator(l, store, index, nil, clk, nil, boost.Config{}),
		Validator: v,
		Logger:    slog.Default(),
	}
	ch := &CreditsHandler{
		Ledger:    l,
		Credits:   credits.NewService(l, nil),
		Validator: v,
		Logger:    slog.Default(),
	}

	authed := func(h http.HandlerFunc) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if id, err := uuid.Parse(r.Header.Get("X-Test-Account")); err == nil {
				r = r.WithContext(middleware.WithAccountID(r.Context(), id))
			}
			h(w, r)
		})
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /gigs/{id}/rank", gh.GetRank)
	mux.HandleFunc("GET /gigs/{id}/predicted-rank", gh.PredictedRank)
	mux.Handle("POST /gigs/{id}/boost", authed(gh.Boost))
	mux.Handle("GET /credits/balance", authed(ch.Balance))
	mux.Handle("GET /credits/ledger", authed(ch.History))
	mux.Handle("POST /credits/purchase", authed(ch.Purchase))
	mux.Handle("POST /credits/transfer", authed(ch.Transfer))
	mux.HandleFunc("GET /healthz", Health(nil))

	return &testEnv{store: store, ledger: l, index: index, mux: mux}
}

func (e *testEnv) gigs(scores ...float64) []uuid.UUID {
	ids := make([]uuid.UUID, len(scores))
	for i, s := range scores {
		ids[i] = uuid.New()
		g := models.Gig{ID: ids[i], SubjectID: mathSubject, Active: true, CumulativeBoostScore: s, LastBoostAt: t0, Version: 1}
		e.store.PutGig(g)
		e.index.Apply(g)
	}
	return ids
}

func (e *testEnv) account(t *testing.T, balance int64) uuid.UUID {
	t.Helper()
	id := uuid.New()
	e.store.CreateAccount(id)
	if balance > 0 {
		if _, err := e.ledger.Credit(context.Background(), id, balance, models.ReasonPurchase, "seed"); err != nil {
			t.Fatal(err)
		}
	}
	return id
}

func (e *testEnv) do(method, path, body string, headers ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode %T: %v (body %q)", v, err, rec.Body.String())
	}
	return v
}

// =====================================================================
// GET /gigs/{id}/rank
// =====================================================================

func TestGetRank(t *testing.T) {
	e := newTestEnv(t)
	gigs := e.gigs(50, 30, 10)

	rec := e.do(http.MethodGet, "/gigs/"+gigs[1].String()+"/rank", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	got := decode[map[string]any](t, rec)
	if got["rank"] != float64(2) || got["total"] != float64(3) || got["subject"] != mathSubject.String() {
		t.Errorf("unexpected body %v", got)
	}
}

func TestGetRank_Errors(t *testing.T) {
	e := newTestEnv(t)
	inactive := uuid.New()
	e.store.PutGig(models.Gig{ID: inactive, SubjectID: mathSubject, Active: false, LastBoostAt: t0, Version: 1})

	cases := []struct {
		name string
		path string
		want int
		code string
	}{
		{"bad id", "/gigs/xyz/rank", http.StatusBadRequest, "invalid_request"},
		{"unknown", "/gigs/" + uuid.NewString() + "/rank", http.StatusNotFound, "not_found"},
		{"inactive", "/gigs/" + inactive.String() + "/rank", http.StatusConflict, "gig_not_active"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := e.do(http.MethodGet, tc.path, "")
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, rec.Code, rec.Body.String())
			}
			if body := decode[errorResponse](t, rec); body.Error != tc.code {
				t.Errorf("error code = %q, want %q", body.Error, tc.code)
			}
		})
	}
}

// =====================================================================
// GET /gigs/{id}/predicted-rank
// =====================================================================

func TestPredictedRank(t *testing.T) {
	e := newTestEnv(t)
	gigs := e.gigs(50, 30, 10)

	rec := e.do(http.MethodGet, "/gigs/"+gigs[2].String()+"/predicted-rank?points=45", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	p := decode[prediction.Prediction](t, rec)
	if p.PredictedRank != 1 || p.CurrentRank != 3 || p.Total != 3 {
		t.Errorf("prediction = %+v", p)
	}

	for _, q := range []string{"", "?points=abc", "?points=-1"} {
		rec := e.do(http.MethodGet, "/gigs/"+gigs[2].String()+"/predicted-rank"+q, "")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%q: expected 400, got %d", q, rec.Code)
		}
	}
}

// =====================================================================
// POST /gigs/{id}/boost
// =====================================================================

func TestBoost_Success(t *testing.T) {
	e := newTestEnv(t)
	gigs := e.gigs(50, 30, 10)
	acct := e.account(t, 100)

	rec := e.do(http.MethodPost, "/gigs/"+gigs[2].String()+"/boost", `{"points":45}`,
		"X-Test-Account", acct.String(), "Idempotency-Key", "key-1")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	res := decode[models.BoostResult](t, rec)
	if res.NewRank != 1 || res.NewTotal != 3 || res.NewBalance != 55 {
		t.Errorf("result = %+v", res)
	}

	// same key again: no second debit
	rec = e.do(http.MethodPost, "/gigs/"+gigs[2].String()+"/boost", `{"points":45,"reference_id":"key-1"}`,
		"X-Test-Account", acct.String())
	if rec.Code != http.StatusOK {
		t.Fatalf("replay: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if res := decode[models.BoostResult](t, rec); res.NewBalance != 55 {
		t.Errorf("replay balance = %d, want 55", res.NewBalance)
	}
}

func TestBoost_InsufficientFundsCarriesBalanceAndRank(t *testing.T) {
	e := newTestEnv(t)
	gigs := e.gigs(50, 30, 10)
	acct := e.account(t, 10)

	rec := e.do(http.MethodPost, "/gigs/"+gigs[2].String()+"/boost", `{"points":15,"reference_id":"r-1"}`,
		"X-Test-Account", acct.String())
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decode[errorResponse](t, rec)
	if body.Error != "insufficient_funds" {
		t.Errorf("error = %q", body.Error)
	}
	if body.Balance == nil || *body.Balance != 10 {
		t.Errorf("balance = %v, want 10", body.Balance)
	}
	if body.Rank == nil || *body.Rank != 3 || body.Total == nil || *body.Total != 3 {
		t.Errorf("rank = %v/%v, want 3/3", body.Rank, body.Total)
	}
}

func TestBoost_RequestErrors(t *testing.T) {
	e := newTestEnv(t)
	gigs := e.gigs(50)
	acct := e.account(t, 100)
	path := "/gigs/" + gigs[0].String() + "/boost"

	cases := []struct {
		name    string
		body    string
		headers []string
		want    int
	}{
		{"no account", `{"points":5,"reference_id":"a"}`, nil, http.StatusUnauthorized},
		{"no reference", `{"points":5}`, []string{"X-Test-Account", acct.String()}, http.StatusBadRequest},
		{"conflicting references", `{"points":5,"reference_id":"a"}`, []string{"X-Test-Account", acct.String(), "Idempotency-Key", "b"}, http.StatusBadRequest},
		{"schema violation", `{"points":"5","reference_id":"a"}`, []string{"X-Test-Account", acct.String()}, http.StatusUnprocessableEntity},
		{"zero points", `{"points":0,"reference_id":"z"}`, []string{"X-Test-Account", acct.String()}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := e.do(http.MethodPost, path, tc.body, tc.headers...)
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, rec.Code, rec.Body.String())
			}
		})
	}
}

// =====================================================================
// /credits
// =====================================================================

func TestCredits_PurchaseBalanceHistory(t *testing.T) {
	e := newTestEnv(t)
	acct := e.account(t, 0)
	hdr := []string{"X-Test-Account", acct.String()}

	rec := e.do(http.MethodPost, "/credits/purchase", `{"points":70,"payment_reference":"pay_9"}`, hdr...)
	if rec.Code != http.StatusOK {
		t.Fatalf("purchase: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := decode[balanceResponse](t, rec); got.Balance != 70 {
		t.Errorf("balance = %d, want 70", got.Balance)
	}

	rec = e.do(http.MethodGet, "/credits/balance", "", hdr...)
	if got := decode[balanceResponse](t, rec); got.Balance != 70 {
		t.Errorf("GET balance = %d, want 70", got.Balance)
	}

	rec = e.do(http.MethodGet, "/credits/ledger?limit=10", "", hdr...)
	if rec.Code != http.StatusOK {
		t.Fatalf("ledger: expected 200, got %d", rec.Code)
	}
	entries := decode[[]models.LedgerEntry](t, rec)
	if len(entries) != 1 || entries[0].Delta != 70 || entries[0].Reason != models.ReasonPurchase {
		t.Errorf("entries = %+v", entries)
	}
}

func TestCredits_Transfer(t *testing.T) {
	e := newTestEnv(t)
	from := e.account(t, 30)
	to := e.account(t, 0)

	body := `{"to_account_id":"` + to.String() + `","points":12,"reference_id":"gift-1"}`
	rec := e.do(http.MethodPost, "/credits/transfer", body, "X-Test-Account", from.String())
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := decode[balanceResponse](t, rec); got.Balance != 18 {
		t.Errorf("sender balance = %d, want 18", got.Balance)
	}

	body = `{"to_account_id":"` + to.String() + `","points":100,"reference_id":"gift-2"}`
	rec = e.do(http.MethodPost, "/credits/transfer", body, "X-Test-Account", from.String())
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("overdraw: expected 402, got %d", rec.Code)
	}
	if got := decode[errorResponse](t, rec); got.Balance == nil || *got.Balance != 18 {
		t.Errorf("overdraw balance = %v, want 18", got.Balance)
	}
}

func TestCredits_Unauthorized(t *testing.T) {
	e := newTestEnv(t)
	for _, path := range []string{"/credits/balance", "/credits/ledger"} {
		if rec := e.do(http.MethodGet, path, ""); rec.Code != http.StatusUnauthorized {
			t.Errorf("%s: expected 401, got %d", path, rec.Code)
		}
	}
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t)
	if rec := e.do(http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	failing := Health(func(context.Context) error { return context.DeadlineExceeded })
	rec := httptest.NewRecorder()
	failing(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}
