// Package registry is the hook gig-CRUD calls when a gig is published or
// withdrawn, and the read side listing pages use to order a subject's gigs.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/AkibHossainOmi/TutorMove-sub000/internal/clock"
	"github.com/AkibHossainOmi/TutorMove-sub000/internal/models"
	"github.com/AkibHossainOmi/TutorMove-sub000/internal/ranking"
)

type GigStore interface {
	GetGig(ctx context.Context, id uuid.UUID) (*models.Gig, error)
	SetGigActive(ctx context.Context, id uuid.UUID, active bool, at time.Time) (*models.Gig, error)
}

type Index interface {
	Apply(g models.Gig)
	View(subjectID uuid.UUID) (*models.RankView, bool)
	Model() ranking.Model
}

type Service interface {
	SetActive(ctx context.Context, gigID uuid.UUID, active bool) (*models.Gig, error)
	SubjectRanking(ctx context.Context, subjectID uuid.UUID) (*models.RankView, error)
}

type service struct {
	gigs   GigStore
	index  Index
	clock  clock.Clock
	logger *slog.Logger
}

func NewService(gigs GigStore, index Index, clk clock.Clock, logger *slog.Logger) *service {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &service{gigs: gigs, index: index, clock: clk, logger: logger.With("component", "Registry")}
}

var _ Service = (*service)(nil)

// SetActive flips a gig's active flag. A gig coming back starts from a zero
// score as of now; a withdrawn gig leaves its subject's ranking immediately.
func (s *service) SetActive(ctx context.Context, gigID uuid.UUID, active bool) (*models.Gig, error) {
	g, err := s.gigs.SetGigActive(ctx, gigID, active, s.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("set gig %s active=%t: %w", gigID, active, err)
	}
	s.index.Apply(*g)
	s.logger.Info("gig activation changed", "gig_id", gigID, "subject_id", g.SubjectID, "active", active, "version", g.Version)
	return g, nil
}

// SubjectRanking returns the subject's ranking with scores evaluated now.
// Decay scales every score by the same factor, so the snapshot's order holds.
// A subject with no active gigs yields an empty ranking.
func (s *service) SubjectRanking(_ context.Context, subjectID uuid.UUID) (*models.RankView, error) {
	now := s.clock.Now()
	view, ok := s.index.View(subjectID)
	if !ok {
		return &models.RankView{SubjectID: subjectID, Entries: []models.RankEntry{}, ComputedAt: now}, nil
	}
	model := s.index.Model()
	out := *view
	out.Entries = make([]models.RankEntry, len(view.Entries))
	for i, e := range view.Entries {
		e.Score = model.ScoreAt(e.CumulativeBoostScore, e.LastBoostAt, now)
		out.Entries[i] = e
	}
	out.ComputedAt = now
	return &out, nil
}
