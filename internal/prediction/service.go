// Package prediction answers "what rank would this gig hold after spending N
// points" against the current ranking snapshot, without writing anything.
package prediction

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AkibHossainOmi/TutorMove-sub000/internal/apperr"
	"github.com/AkibHossainOmi/TutorMove-sub000/internal/clock"
	"github.com/AkibHossainOmi/TutorMove-sub000/internal/models"
	"github.com/AkibHossainOmi/TutorMove-sub000/internal/ranking"
)

// GigReader tells an unknown gig apart from an inactive one.
type GigReader interface {
	GetGig(ctx context.Context, id uuid.UUID) (*models.Gig, error)
}

// Snapshotter exposes the immutable per-subject views of the ranking index.
type Snapshotter interface {
	ViewOf(gigID uuid.UUID) (*models.RankView, bool)
	Model() ranking.Model
}

type Prediction struct {
	PredictedRank int `json:"predicted_rank"`
	CurrentRank   int `json:"current_rank"`
	Total         int `json:"total"`
}

type Service struct {
	index Snapshotter
	gigs  GigReader
	clock clock.Clock
}

func NewService(index Snapshotter, gigs GigReader, clk clock.Clock) *Service {
	if clk == nil {
		clk = clock.Real()
	}
	return &Service{index: index, gigs: gigs, clock: clk}
}

// PredictRank evaluates the gig's decayed score plus points against every
// other gig's score at the same instant. The target is placed as if boosted
// now, so it loses ties on last boost time exactly as a commit would.
// Predictions are advisory: concurrent boosts may change the committed rank.
func (s *Service) PredictRank(ctx context.Context, gigID uuid.UUID, points int64) (*Prediction, error) {
	_, span := otel.Tracer("prediction").Start(ctx, "prediction.PredictRank")
	defer span.End()
	span.SetAttributes(attribute.String("gig_id", gigID.String()), attribute.Int64("points", points))

	if points < 0 {
		return nil, fmt.Errorf("%w: points must be >= 0", apperr.ErrInvalidBoost)
	}
	view, ok := s.index.ViewOf(gigID)
	if !ok {
		return nil, s.notRanked(ctx, gigID)
	}
	var target *models.RankEntry
	for i := range view.Entries {
		if view.Entries[i].GigID == gigID {
			target = &view.Entries[i]
			break
		}
	}
	if target == nil {
		return nil, s.notRanked(ctx, gigID)
	}

	model := s.index.Model()
	now := s.clock.Now()
	score := model.ScoreAt(target.CumulativeBoostScore, target.LastBoostAt, now)
	lastBoostAt := target.LastBoostAt
	if points > 0 {
		score += float64(points)
		lastBoostAt = now
	}
	rank, total := ranking.PositionWith(model, view, gigID, score, lastBoostAt, now)
	span.SetAttributes(attribute.Int("predicted_rank", rank))
	return &Prediction{PredictedRank: rank, CurrentRank: target.Position, Total: total}, nil
}

func (s *Service) notRanked(ctx context.Context, gigID uuid.UUID) error {
	if _, err := s.gigs.GetGig(ctx, gigID); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return err
		}
		return fmt.Errorf("load gig %s: %w", gigID, err)
	}
	return apperr.ErrGigNotActive
}
