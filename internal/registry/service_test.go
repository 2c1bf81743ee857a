package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/AkibHossainOmi/TutorMove-sub000/internal/apperr"
	"github.com/AkibHossainOmi/TutorMove-sub000/internal/clock"
	"github.com/AkibHossainOmi/TutorMove-sub000/internal/memstore"
	"github.com/AkibHossainOmi/TutorMove-sub000/internal/models"
	"github.com/AkibHossainOmi/TutorMove-sub000/internal/ranking"
	"github.com/AkibHossainOmi/TutorMove-sub000/internal/validate"
)

var (
	t0      = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	physics = uuid.MustParse("5a000000-0000-0000-0000-000000000002")
)

type fixture struct {
	clock *clock.Fake
	store *memstore.Store
	index *ranking.Index
	svc   *service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clock.NewFake(t0)
	store := memstore.New(clk)
	index := ranking.NewIndex(ranking.NewModel(24*time.Hour), clk)
	return &fixture{clock: clk, store: store, index: index, svc: NewService(store, index, clk, nil)}
}

func (f *fixture) gig(score float64, active bool) uuid.UUID {
	id := uuid.New()
	g := models.Gig{ID: id, SubjectID: physics, Active: active, CumulativeBoostScore: score, LastBoostAt: t0, Version: 1}
	f.store.PutGig(g)
	f.index.Apply(g)
	return id
}

// ---------------------------------------------------------------------------
// Service
// ---------------------------------------------------------------------------

func TestSetActive_DeactivateRemovesFromRanking(t *testing.T) {
	f := newFixture(t)
	a := f.gig(40, true)
	b := f.gig(20, true)

	if _, err := f.svc.SetActive(context.Background(), a, false); err != nil {
		t.Fatal(err)
	}
	if _, err := f.index.GetRank(a); !errors.Is(err, apperr.ErrGigNotActive) {
		t.Fatalf("GetRank(a) err = %v, want ErrGigNotActive", err)
	}
	st, err := f.index.GetRank(b)
	if err != nil || st.Rank != 1 || st.Total != 1 {
		t.Fatalf("GetRank(b) = %+v, %v; want 1 of 1", st, err)
	}
}

func TestSetActive_ReactivationStartsFromZero(t *testing.T) {
	f := newFixture(t)
	a := f.gig(40, true)
	f.gig(5, true)
	ctx := context.Background()

	if _, err := f.svc.SetActive(ctx, a, false); err != nil {
		t.Fatal(err)
	}
	f.clock.Advance(time.Hour)
	g, err := f.svc.SetActive(ctx, a, true)
	if err != nil {
		t.Fatal(err)
	}
	if g.CumulativeBoostScore != 0 || !g.LastBoostAt.Equal(f.clock.Now()) {
		t.Errorf("reactivated gig = %+v, want zero score at now", g)
	}
	st, err := f.index.GetRank(a)
	if err != nil {
		t.Fatal(err)
	}
	if st.Rank != 2 {
		t.Errorf("rank = %d, want 2", st.Rank)
	}
}

func TestSetActive_UnknownGig(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.SetActive(context.Background(), uuid.New(), true); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSubjectRanking_EvaluatesScoresNow(t *testing.T) {
	f := newFixture(t)
	f.gig(40, true)
	f.gig(20, true)
	f.clock.Advance(24 * time.Hour)

	view, err := f.svc.SubjectRanking(context.Background(), physics)
	if err != nil {
		t.Fatal(err)
	}
	if len(view.Entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(view.Entries))
	}
	if view.Entries[0].Score != 20 || view.Entries[1].Score != 10 {
		t.Errorf("scores = %v, %v; want 20, 10", view.Entries[0].Score, view.Entries[1].Score)
	}
	if !view.ComputedAt.Equal(f.clock.Now()) {
		t.Errorf("computed at = %v", view.ComputedAt)
	}
}

func TestSubjectRanking_EmptySubject(t *testing.T) {
	f := newFixture(t)
	view, err := f.svc.SubjectRanking(context.Background(), uuid.New())
	if err != nil {
		t.Fatal(err)
	}
	if view.Entries == nil || len(view.Entries) != 0 {
		t.Errorf("entries = %v, want empty slice", view.Entries)
	}
}

// ---------------------------------------------------------------------------
// Handler
// ---------------------------------------------------------------------------

func newTestMux(t *testing.T, f *fixture) *http.ServeMux {
	t.Helper()
	v, err := validate.New()
	if err != nil {
		t.Fatal(err)
	}
	h := NewHandler(f.svc, v, nil)
	mux := http.NewServeMux()
	mux.HandleFunc("PUT /internal/gigs/{id}/activation", h.SetActivation)
	mux.HandleFunc("GET /subjects/{id}/ranking", h.SubjectRanking)
	return mux
}

func TestHandler_SetActivation(t *testing.T) {
	f := newFixture(t)
	a := f.gig(40, true)
	mux := newTestMux(t, f)

	req := httptest.NewRequest(http.MethodPut, "/internal/gigs/"+a.String()+"/activation", bytes.NewBufferString(`{"active":false}`))
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var resp GigResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Active || resp.ID != a.String() {
		t.Errorf("response = %+v", resp)
	}
}

func TestHandler_SetActivationErrors(t *testing.T) {
	f := newFixture(t)
	a := f.gig(40, true)
	mux := newTestMux(t, f)

	cases := []struct {
		name string
		path string
		body string
		want int
	}{
		{"bad id", "/internal/gigs/nope/activation", `{"active":true}`, http.StatusBadRequest},
		{"schema violation", "/internal/gigs/" + a.String() + "/activation", `{"active":"yes"}`, http.StatusUnprocessableEntity},
		{"unknown gig", "/internal/gigs/" + uuid.NewString() + "/activation", `{"active":true}`, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPut, tc.path, bytes.NewBufferString(tc.body)))
			if rr.Code != tc.want {
				t.Fatalf("status = %d, want %d, body = %s", rr.Code, tc.want, rr.Body.String())
			}
		})
	}
}

func TestHandler_SubjectRanking(t *testing.T) {
	f := newFixture(t)
	top := f.gig(40, true)
	f.gig(20, true)
	mux := newTestMux(t, f)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/subjects/"+physics.String()+"/ranking", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var view models.RankView
	if err := json.NewDecoder(rr.Body).Decode(&view); err != nil {
		t.Fatal(err)
	}
	if len(view.Entries) != 2 || view.Entries[0].GigID != top || view.Entries[0].Position != 1 {
		t.Errorf("view = %+v", view)
	}
}
