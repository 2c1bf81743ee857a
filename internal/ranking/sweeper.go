package ranking

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/AkibHossainOmi/TutorMove-sub000/internal/models"
)

// GigSource is the read side of the gig store the sweep reloads from.
type GigSource interface {
	ListActiveSubjects(ctx context.Context) ([]uuid.UUID, error)
	ListActiveBySubject(ctx context.Context, subjectID uuid.UUID) ([]models.Gig, error)
}

// Sweeper periodically rebuilds every subject from the store so scores are
// re-evaluated at the current time and activation changes made outside this
// process are picked up. It never writes gig rows.
type Sweeper struct {
	index       *Index
	source      GigSource
	logger      *slog.Logger
	parallelism int
}

func NewSweeper(index *Index, source GigSource, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{index: index, source: source, logger: logger, parallelism: 4}
}

// Sweep rebuilds each subject that has active gigs or an existing board and
// returns how many subjects it rebuilt.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	ctx, span := otel.Tracer("ranking").Start(ctx, "ranking.Sweep")
	defer span.End()

	active, err := s.source.ListActiveSubjects(ctx)
	if err != nil {
		return 0, err
	}
	seen := make(map[uuid.UUID]struct{}, len(active))
	subjects := make([]uuid.UUID, 0, len(active))
	for _, id := range append(active, s.index.Subjects()...) {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		subjects = append(subjects, id)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)
	for _, subjectID := range subjects {
		g.Go(func() error {
			return s.index.Rebuild(gctx, subjectID, func(ctx context.Context) ([]models.Gig, error) {
				return s.source.ListActiveBySubject(ctx, subjectID)
			})
		})
	}
	if err := g.Wait(); err != nil {
		s.logger.Warn("sweep aborted", "subjects", len(subjects), "error", err)
		return 0, err
	}
	span.SetAttributes(attribute.Int("subjects", len(subjects)))
	return len(subjects), nil
}
