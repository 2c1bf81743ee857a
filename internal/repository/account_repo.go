package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/AkibHossainOmi/TutorMove-sub000/internal/apperr"
	"github.com/AkibHossainOmi/TutorMove-sub000/internal/models"
)

type AccountRepo struct {
	pool *pgxpool.Pool
}

func NewAccountRepo(pool *pgxpool.Pool) *AccountRepo {
	return &AccountRepo{pool: pool}
}

// Create registers an account with a zero balance. Used by seeding and the
// operator CLI; production accounts arrive from the signup flow.
func (r *AccountRepo) Create(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	a := models.Account{ID: id}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO accounts (id) VALUES ($1)
		ON CONFLICT (id) DO UPDATE SET id = EXCLUDED.id
		RETURNING balance, version, created_at, updated_at
	`, id).Scan(&a.Balance, &a.Version, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *AccountRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	var a models.Account
	err := r.pool.QueryRow(ctx, `
		SELECT id, balance, version, created_at, updated_at
		FROM accounts WHERE id = $1
	`, id).Scan(&a.ID, &a.Balance, &a.Version, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// GetByIDForUpdate locks the account row for update. Call within a transaction.
func (r *AccountRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Account, error) {
	var a models.Account
	err := tx.QueryRow(ctx, `
		SELECT id, balance, version, created_at, updated_at
		FROM accounts WHERE id = $1 FOR UPDATE
	`, id).Scan(&a.ID, &a.Balance, &a.Version, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ApplyDelta moves the balance by delta and bumps the version. A debit only
// applies while the balance covers it; otherwise pgx.ErrNoRows is returned.
// Call after GetByIDForUpdate in the same tx.
func (r *AccountRepo) ApplyDelta(ctx context.Context, tx pgx.Tx, id uuid.UUID, delta int64) (newBalance int64, err error) {
	err = tx.QueryRow(ctx, `
		UPDATE accounts SET balance = balance + $1, version = version + 1, updated_at = now()
		WHERE id = $2 AND balance + $1 >= 0
		RETURNING balance
	`, delta, id).Scan(&newBalance)
	return newBalance, err
}

// ListIDs returns every account id, oldest first.
func (r *AccountRepo) ListIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM accounts ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}
