package prediction

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/AkibHossainOmi/TutorMove-sub000/internal/apperr"
	"github.com/AkibHossainOmi/TutorMove-sub000/internal/clock"
	"github.com/AkibHossainOmi/TutorMove-sub000/internal/memstore"
	"github.com/AkibHossainOmi/TutorMove-sub000/internal/models"
	"github.com/AkibHossainOmi/TutorMove-sub000/internal/ranking"
)

var t0 = time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)

type fixture struct {
	svc   *Service
	index *ranking.Index
	store *memstore.Store
	clk   *clock.Fake
	gigs  []uuid.UUID
}

// newFixture builds one subject whose gigs carry the given scores, all last
// boosted at t0.
func newFixture(t *testing.T, scores ...float64) *fixture {
	t.Helper()
	clk := clock.NewFake(t0)
	store := memstore.New(clk)
	index := ranking.NewIndex(ranking.NewModel(24*time.Hour), clk)
	subject := uuid.New()
	f := &fixture{store: store, index: index, clk: clk}
	for i, sc := range scores {
		var id uuid.UUID
		id[15] = byte(i + 1)
		g := models.Gig{ID: id, SubjectID: subject, Active: true, CumulativeBoostScore: sc, LastBoostAt: t0, Version: 1}
		store.PutGig(g)
		index.Apply(g)
		f.gigs = append(f.gigs, id)
	}
	f.svc = NewService(index, store, clk)
	return f
}

func TestPredictRank_Scenario(t *testing.T) {
	f := newFixture(t, 50, 30, 10)

	p, err := f.svc.PredictRank(context.Background(), f.gigs[2], 45)
	if err != nil {
		t.Fatal(err)
	}
	if p.PredictedRank != 1 || p.CurrentRank != 3 || p.Total != 3 {
		t.Errorf("prediction = %+v, want rank 1 (from 3) of 3", p)
	}
}

func TestPredictRank_Table(t *testing.T) {
	f := newFixture(t, 50, 30, 10)

	tests := []struct {
		name   string
		points int64
		want   int
	}{
		{name: "zero points keeps rank", points: 0, want: 3},
		{name: "not enough to pass", points: 19, want: 3},
		{name: "tie loses on gig id", points: 20, want: 3},
		{name: "passes second", points: 21, want: 2},
		{name: "tie with leader stays second", points: 40, want: 2},
		{name: "takes the lead", points: 41, want: 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p, err := f.svc.PredictRank(context.Background(), f.gigs[2], tc.points)
			if err != nil {
				t.Fatal(err)
			}
			if p.PredictedRank != tc.want {
				t.Errorf("predicted %d, want %d", p.PredictedRank, tc.want)
			}
		})
	}
}

func TestPredictRank_UsesDecayedScores(t *testing.T) {
	f := newFixture(t, 40, 8)
	f.clk.Advance(24 * time.Hour) // leader decays to 20, runner-up to 4

	p, err := f.svc.PredictRank(context.Background(), f.gigs[1], 17)
	if err != nil {
		t.Fatal(err)
	}
	if p.PredictedRank != 1 {
		t.Errorf("4 + 17 should beat a decayed 20, got rank %d", p.PredictedRank)
	}
}

func TestPredictRank_IsPure(t *testing.T) {
	f := newFixture(t, 50, 30, 10)
	ctx := context.Background()
	before, _ := f.index.View(f.mustSubject(t))

	var first *Prediction
	for i := 0; i < 25; i++ {
		p, err := f.svc.PredictRank(ctx, f.gigs[i%3], int64(i*3))
		if err != nil {
			t.Fatal(err)
		}
		if i == 0 {
			first = p
		}
	}
	again, _ := f.svc.PredictRank(ctx, f.gigs[0], 0)
	if *again != *first {
		t.Errorf("repeated prediction differs: %+v vs %+v", again, first)
	}

	after, _ := f.index.View(f.mustSubject(t))
	if after != before {
		t.Error("prediction replaced the ranking snapshot")
	}
	g, _ := f.store.GetGig(ctx, f.gigs[2])
	if g.CumulativeBoostScore != 10 || g.Version != 1 {
		t.Errorf("prediction touched the gig: %+v", g)
	}
}

func (f *fixture) mustSubject(t *testing.T) uuid.UUID {
	t.Helper()
	st, err := f.index.GetRank(f.gigs[0])
	if err != nil {
		t.Fatal(err)
	}
	return st.SubjectID
}

func TestPredictRank_Errors(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	inactive := models.Gig{ID: uuid.New(), SubjectID: uuid.New(), Active: false}
	f.store.PutGig(inactive)

	if _, err := f.svc.PredictRank(ctx, inactive.ID, 5); !errors.Is(err, apperr.ErrGigNotActive) {
		t.Errorf("inactive gig: expected ErrGigNotActive, got %v", err)
	}
	if _, err := f.svc.PredictRank(ctx, uuid.New(), 5); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("unknown gig: expected ErrNotFound, got %v", err)
	}
	if _, err := f.svc.PredictRank(ctx, f.gigs[0], -1); !errors.Is(err, apperr.ErrInvalidBoost) {
		t.Errorf("negative points: expected ErrInvalidBoost, got %v", err)
	}
}
