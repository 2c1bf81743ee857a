package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/AkibHossainOmi/TutorMove-sub000/internal/apperr"
	"github.com/AkibHossainOmi/TutorMove-sub000/internal/models"
)

// GigRepo reads gig rows owned by gig-CRUD and writes the score columns.
type GigRepo struct {
	pool *pgxpool.Pool
}

func NewGigRepo(pool *pgxpool.Pool) *GigRepo {
	return &GigRepo{pool: pool}
}

const gigColumns = `id, subject_id, owner_account_id, active, cumulative_boost_score, last_boost_at, version, updated_at`

func scanGig(row pgx.Row) (*models.Gig, error) {
	var g models.Gig
	err := row.Scan(&g.ID, &g.SubjectID, &g.OwnerAccountID, &g.Active, &g.CumulativeBoostScore, &g.LastBoostAt, &g.Version, &g.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// Create inserts a gig. Production rows come from gig-CRUD; this backs seeding.
func (r *GigRepo) Create(ctx context.Context, g *models.Gig) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO gigs (id, subject_id, owner_account_id, active, cumulative_boost_score, last_boost_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING version, updated_at
	`, g.ID, g.SubjectID, g.OwnerAccountID, g.Active, g.CumulativeBoostScore, g.LastBoostAt).Scan(&g.Version, &g.UpdatedAt)
}

func (r *GigRepo) GetGig(ctx context.Context, id uuid.UUID) (*models.Gig, error) {
	return scanGig(r.pool.QueryRow(ctx, `SELECT `+gigColumns+` FROM gigs WHERE id = $1`, id))
}

// ListActiveSubjects returns the subjects that have at least one active gig.
func (r *GigRepo) ListActiveSubjects(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT subject_id FROM gigs WHERE active`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

func (r *GigRepo) ListActiveBySubject(ctx context.Context, subjectID uuid.UUID) ([]models.Gig, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+gigColumns+` FROM gigs WHERE subject_id = $1 AND active`, subjectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []models.Gig{}
	for rows.Next() {
		g, err := scanGig(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *g)
	}
	return list, rows.Err()
}

// SetGigActive flips the active flag. An inactive to active transition resets
// the score fields to the baseline (zero score, re-based at at).
func (r *GigRepo) SetGigActive(ctx context.Context, id uuid.UUID, active bool, at time.Time) (*models.Gig, error) {
	return scanGig(r.pool.QueryRow(ctx, `
		UPDATE gigs SET
			cumulative_boost_score = CASE WHEN NOT active AND $2::boolean THEN 0 ELSE cumulative_boost_score END,
			last_boost_at = CASE WHEN NOT active AND $2::boolean THEN $3::timestamptz ELSE last_boost_at END,
			version = CASE WHEN active <> $2::boolean THEN version + 1 ELSE version END,
			active = $2::boolean,
			updated_at = now()
		WHERE id = $1
		RETURNING `+gigColumns, id, active, at))
}

// UpdateScoreTx writes new score fields if the row is still active and at
// expectedVersion. A version mismatch is apperr.ErrConcurrentModification.
func (r *GigRepo) UpdateScoreTx(ctx context.Context, tx pgx.Tx, g *models.Gig, expectedVersion int64) (*models.Gig, error) {
	updated, err := scanGig(tx.QueryRow(ctx, `
		UPDATE gigs SET cumulative_boost_score = $2, last_boost_at = $3, version = version + 1, updated_at = now()
		WHERE id = $1 AND version = $4 AND active
		RETURNING `+gigColumns, g.ID, g.CumulativeBoostScore, g.LastBoostAt, expectedVersion))
	if !errors.Is(err, apperr.ErrNotFound) {
		return updated, err
	}
	var active bool
	var version int64
	err = tx.QueryRow(ctx, `SELECT active, version FROM gigs WHERE id = $1`, g.ID).Scan(&active, &version)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, apperr.ErrNotFound
	case err != nil:
		return nil, err
	case !active:
		return nil, apperr.ErrGigNotActive
	default:
		return nil, apperr.ErrConcurrentModification
	}
}

// CreateSubject inserts a subject if its id is new.
func (r *GigRepo) CreateSubject(ctx context.Context, s *models.Subject) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO subjects (id, name) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`, s.ID, s.Name)
	return err
}
