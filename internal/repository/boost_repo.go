package repository

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/AkibHossainOmi/TutorMove-sub000/internal/apperr"
	"github.com/AkibHossainOmi/TutorMove-sub000/internal/models"
)

// BoostRepo persists the boost state machine in gig_boosts and commits score
// updates together with the committed transition.
type BoostRepo struct {
	pool *pgxpool.Pool
	gigs *GigRepo
}

func NewBoostRepo(pool *pgxpool.Pool, gigs *GigRepo) *BoostRepo {
	return &BoostRepo{pool: pool, gigs: gigs}
}

const boostColumns = `reference_id, account_id, gig_id, subject_id, points, state, balance_after, failure_reason, created_at, updated_at`

func scanBoost(row pgx.Row) (*models.Boost, error) {
	var b models.Boost
	err := row.Scan(&b.ReferenceID, &b.AccountID, &b.GigID, &b.SubjectID, &b.Points, &b.State, &b.BalanceAfter, &b.FailureReason, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *BoostRepo) GetGig(ctx context.Context, id uuid.UUID) (*models.Gig, error) {
	return r.gigs.GetGig(ctx, id)
}

func (r *BoostRepo) GetBoost(ctx context.Context, referenceID string) (*models.Boost, error) {
	return scanBoost(r.pool.QueryRow(ctx, `SELECT `+boostColumns+` FROM gig_boosts WHERE reference_id = $1`, referenceID))
}

// CreateBoost inserts b. If the reference id is taken, the existing record is
// returned with created false.
func (r *BoostRepo) CreateBoost(ctx context.Context, b *models.Boost) (*models.Boost, bool, error) {
	created, err := scanBoost(r.pool.QueryRow(ctx, `
		INSERT INTO gig_boosts (reference_id, account_id, gig_id, subject_id, points, state)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (reference_id) DO NOTHING
		RETURNING `+boostColumns, b.ReferenceID, b.AccountID, b.GigID, b.SubjectID, b.Points, b.State))
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return nil, false, err
	}
	existing, err := r.GetBoost(ctx, b.ReferenceID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// TransitionBoost moves a record to state to if its current state is one of
// from. When it is not, the current record is returned unchanged with
// apperr.ErrStateConflict so the caller can decide from what it finds.
func (r *BoostRepo) TransitionBoost(ctx context.Context, referenceID string, to models.BoostState, from []models.BoostState, reason string) (*models.Boost, error) {
	states := make([]string, len(from))
	for i, s := range from {
		states[i] = string(s)
	}
	b, err := scanBoost(r.pool.QueryRow(ctx, `
		UPDATE gig_boosts SET state = $2, failure_reason = CASE WHEN $3::text = '' THEN failure_reason ELSE $3::text END, updated_at = now()
		WHERE reference_id = $1 AND state = ANY($4::text[])
		RETURNING `+boostColumns, referenceID, to, reason, states))
	if !errors.Is(err, apperr.ErrNotFound) {
		return b, err
	}
	cur, err := r.GetBoost(ctx, referenceID)
	if err != nil {
		return nil, err
	}
	return cur, fmt.Errorf("%w: %s is %s", apperr.ErrStateConflict, referenceID, cur.State)
}

// CommitBoost writes the boosted gig and marks the record committed in one
// transaction. The record must still be validated or debited.
func (r *BoostRepo) CommitBoost(ctx context.Context, referenceID string, g *models.Gig, expectedVersion int64, balanceAfter int64) (*models.Gig, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var state models.BoostState
	err = tx.QueryRow(ctx, `SELECT state FROM gig_boosts WHERE reference_id = $1 FOR UPDATE`, referenceID).Scan(&state)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if !slices.Contains([]models.BoostState{models.BoostValidated, models.BoostDebited}, state) {
		return nil, fmt.Errorf("%w: %s is %s", apperr.ErrStateConflict, referenceID, state)
	}

	updated, err := r.gigs.UpdateScoreTx(ctx, tx, g, expectedVersion)
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE gig_boosts SET state = $2, balance_after = $3, updated_at = now() WHERE reference_id = $1
	`, referenceID, models.BoostCommitted, balanceAfter); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return updated, nil
}

// ListStaleBoosts returns unfinished records not touched since before.
func (r *BoostRepo) ListStaleBoosts(ctx context.Context, before time.Time, limit int) ([]*models.Boost, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+boostColumns+` FROM gig_boosts
		WHERE state IN ('validated', 'debited', 'compensating') AND updated_at < $1
		ORDER BY updated_at LIMIT $2
	`, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []*models.Boost{}
	for rows.Next() {
		b, err := scanBoost(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, b)
	}
	return list, rows.Err()
}
