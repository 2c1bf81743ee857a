package router

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/AkibHossainOmi/TutorMove-sub000/internal/auth"
	"github.com/AkibHossainOmi/TutorMove-sub000/internal/boost"
	"github.com/AkibHossainOmi/TutorMove-sub000/internal/clock"
	"github.com/AkibHossainOmi/TutorMove-sub000/internal/credits"
	"github.com/AkibHossainOmi/TutorMove-sub000/internal/handlers"
	"github.com/AkibHossainOmi/TutorMove-sub000/internal/ledger"
	"github.com/AkibHossainOmi/TutorMove-sub000/internal/memstore"
	"github.com/AkibHossainOmi/TutorMove-sub000/internal/middleware"
	"github.com/AkibHossainOmi/TutorMove-sub000/internal/models"
	"github.com/AkibHossainOmi/TutorMove-sub000/internal/prediction"
	"github.com/AkibHossainOmi/TutorMove-sub000/internal/ranking"
	"github.com/AkibHossainOmi/TutorMove-sub000/internal/registry"
	"github.com/AkibHossainOmi/TutorMove-sub000/internal/validate"
)

const internalKey = "svc_gigcrud_test_key"

type server struct {
	h       http.Handler
	store   *memstore.Store
	index   *ranking.Index
	ledger  ledger.Service
	account uuid.UUID
	token   string
}

func newServer(t *testing.T, limits middleware.BoostLimits) *server {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	store := memstore.New(clk)
	index := ranking.NewIndex(ranking.NewModel(ranking.DefaultHalfLife), clk)
	l := ledger.NewService(store, nil)
	v, err := validate.New()
	if err != nil {
		t.Fatal(err)
	}
	tokens := auth.NewService("router-test-secret")

	acct := uuid.New()
	store.CreateAccount(acct)
	token, err := tokens.IssueToken(acct, "tutor", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	store.AddAPIKey(models.APIKey{ID: uuid.New(), ServiceName: "gig-crud", KeyHash: middleware.HashKey(internalKey), IsActive: true})

	h := New(Deps{
		Gigs: &handlers.GigHandler{
			Ranks:     index,
			Gigs:      store,
			Predictor: prediction.NewService(index, store, clk),
			Boosts:    boost.NewCoordinator(l, store, index, nil, clk, nil, boost.Config{}),
			Validator: v,
		},
		Credits: &handlers.CreditsHandler{
			Ledger:    l,
			Credits:   credits.NewService(l, nil),
			Validator: v,
		},
		Registry: registry.NewHandler(registry.NewService(store, index, clk, nil), v, nil),
		Tokens:   tokens,
		APIKeys:  store,
		Spend:    l,
		Limits:   limits,
		Clock:    clk,
	})
	return &server{h: h, store: store, index: index, ledger: l, account: acct, token: token}
}

func (s *server) gig(subject uuid.UUID, score float64) uuid.UUID {
	id := uuid.New()
	g := models.Gig{ID: id, SubjectID: subject, Active: true, CumulativeBoostScore: score, LastBoostAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC), Version: 1}
	s.store.PutGig(g)
	s.index.Apply(g)
	return id
}

func (s *server) do(method, path, body string, headers ...string) *httptest.ResponseRecorder {
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
	s.h.ServeHTTP(rec, req)
	return rec
}

// ---------------------------------------------------------------------------
// Routing and auth
// ---------------------------------------------------------------------------

func TestRoutes_Auth(t *testing.T) {
	s := newServer(t, middleware.BoostLimits{})
	subject := uuid.New()
	gig := s.gig(subject, 10)
	bearer := "Bearer " + s.token

	cases := []struct {
		name    string
		method  string
		path    string
		body    string
		headers []string
		want    int
	}{
		{"rank is public", http.MethodGet, "/gigs/" + gig.String() + "/rank", "", nil, http.StatusOK},
		{"prediction is public", http.MethodGet, "/gigs/" + gig.String() + "/predicted-rank?points=5", "", nil, http.StatusOK},
		{"subject ranking is public", http.MethodGet, "/subjects/" + subject.String() + "/ranking", "", nil, http.StatusOK},
		{"health", http.MethodGet, "/healthz", "", nil, http.StatusOK},
		{"boost needs token", http.MethodPost, "/gigs/" + gig.String() + "/boost", `{"points":1,"reference_id":"x"}`, nil, http.StatusUnauthorized},
		{"balance needs token", http.MethodGet, "/credits/balance", "", nil, http.StatusUnauthorized},
		{"balance with token", http.MethodGet, "/credits/balance", "", []string{"Authorization", bearer}, http.StatusOK},
		{"bad token", http.MethodGet, "/credits/balance", "", []string{"Authorization", "Bearer nope"}, http.StatusUnauthorized},
		{"activation needs key", http.MethodPut, "/internal/gigs/" + gig.String() + "/activation", `{"active":false}`, nil, http.StatusUnauthorized},
		{"activation rejects account token", http.MethodPut, "/internal/gigs/" + gig.String() + "/activation", `{"active":false}`, []string{"Authorization", bearer}, http.StatusUnauthorized},
		{"wrong method", http.MethodDelete, "/gigs/" + gig.String() + "/rank", "", nil, http.StatusMethodNotAllowed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := s.do(tc.method, tc.path, tc.body, tc.headers...)
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestRoutes_BoostEndToEnd(t *testing.T) {
	s := newServer(t, middleware.BoostLimits{MaxPoints: 100, DailyCap: 60})
	subject := uuid.New()
	s.gig(subject, 50)
	s.gig(subject, 30)
	target := s.gig(subject, 10)
	if _, err := s.ledger.Credit(context.Background(), s.account, 100, models.ReasonPurchase, "seed"); err != nil {
		t.Fatal(err)
	}
	bearer := "Bearer " + s.token
	path := "/gigs/" + target.String() + "/boost"

	rec := s.do(http.MethodPost, path, `{"points":45,"reference_id":"b-1"}`, "Authorization", bearer)
	if rec.Code != http.StatusOK {
		t.Fatalf("boost: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"new_rank":1`) || !strings.Contains(rec.Body.String(), `"new_balance":55`) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}

	// Replay passes the daily cap because the reference already spent.
	rec = s.do(http.MethodPost, path, `{"points":45,"reference_id":"b-1"}`, "Authorization", bearer)
	if rec.Code != http.StatusOK {
		t.Fatalf("replay: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = s.do(http.MethodPost, path, `{"points":20,"reference_id":"b-2"}`, "Authorization", bearer)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("daily cap: expected 403, got %d: %s", rec.Code, rec.Body.String())
	}

	bal, _ := s.ledger.GetBalance(context.Background(), s.account)
	if bal != 55 {
		t.Errorf("balance = %d, want 55", bal)
	}
}

func TestRoutes_ConcurrentBoostsStayUnderDailyCap(t *testing.T) {
	s := newServer(t, middleware.BoostLimits{DailyCap: 100})
	target := s.gig(uuid.New(), 10)
	if _, err := s.ledger.Credit(context.Background(), s.account, 1000, models.ReasonPurchase, "seed"); err != nil {
		t.Fatal(err)
	}
	bearer := "Bearer " + s.token
	path := "/gigs/" + target.String() + "/boost"

	codes := make([]int, 8)
	var g errgroup.Group
	for i := range codes {
		g.Go(func() error {
			rec := s.do(http.MethodPost, path, fmt.Sprintf(`{"points":60,"reference_id":"day-%d"}`, i), "Authorization", bearer)
			codes[i] = rec.Code
			if rec.Code == http.StatusForbidden && !strings.Contains(rec.Body.String(), "boost_limit") {
				return fmt.Errorf("403 without boost_limit: %s", rec.Body.String())
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	var ok int
	for _, c := range codes {
		switch c {
		case http.StatusOK:
			ok++
		case http.StatusForbidden:
		default:
			t.Errorf("unexpected status %d", c)
		}
	}
	if ok != 1 {
		t.Errorf("%d boosts succeeded, want 1", ok)
	}
	spent, err := s.ledger.SpentSince(context.Background(), s.account, models.ReasonBoostSpend, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	if spent > 100 {
		t.Fatalf("daily spend %d exceeds cap 100", spent)
	}
	if bal, _ := s.ledger.GetBalance(context.Background(), s.account); bal != 940 {
		t.Errorf("balance = %d, want 940", bal)
	}
}

func TestRoutes_ActivationWithKey(t *testing.T) {
	s := newServer(t, middleware.BoostLimits{})
	subject := uuid.New()
	gig := s.gig(subject, 10)

	rec := s.do(http.MethodPut, "/internal/gigs/"+gig.String()+"/activation", `{"active":false}`, "X-API-Key", internalKey)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	rec = s.do(http.MethodGet, "/gigs/"+gig.String()+"/rank", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("rank of inactive gig: expected 409, got %d", rec.Code)
	}
}
