package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/AkibHossainOmi/TutorMove-sub000/internal/apperr"
	"github.com/AkibHossainOmi/TutorMove-sub000/internal/models"
	"github.com/AkibHossainOmi/TutorMove-sub000/internal/repository"
)

// Repository is the Postgres Store. Each Apply runs in its own transaction
// holding the account row lock, so mutations of one account serialize while
// different accounts proceed in parallel.
type Repository struct {
	pool     *pgxpool.Pool
	accounts *repository.AccountRepo
	entries  *repository.LedgerRepo
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{
		pool:     pool,
		accounts: repository.NewAccountRepo(pool),
		entries:  repository.NewLedgerRepo(pool),
	}
}

var _ Store = (*Repository)(nil)

func (r *Repository) Apply(ctx context.Context, e *models.LedgerEntry, limit *models.SpendCap) (*models.LedgerEntry, bool, error) {
	applied, replayed, err := r.apply(ctx, e, limit)
	if err != nil && repository.IsUniqueViolation(err) {
		// Lost an insert race on the idempotency key: the winner's entry is
		// the result.
		prior, lerr := r.entries.FindByReference(ctx, e.AccountID, e.Reason, e.ReferenceID)
		if lerr != nil {
			return nil, false, lerr
		}
		return prior, true, nil
	}
	return applied, replayed, err
}

func (r *Repository) apply(ctx context.Context, e *models.LedgerEntry, limit *models.SpendCap) (*models.LedgerEntry, bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback(ctx)

	acc, err := r.accounts.GetByIDForUpdate(ctx, tx, e.AccountID)
	if err != nil {
		return nil, false, err
	}
	prior, err := r.entries.FindByReferenceTx(ctx, tx, e.AccountID, e.Reason, e.ReferenceID)
	if err == nil {
		return prior, true, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return nil, false, err
	}
	if limit != nil {
		// The account row lock is held, so no other debit can land between
		// this sum and the insert below.
		spent, err := r.entries.SumDebitsSinceTx(ctx, tx, e.AccountID, limit.Reason, limit.Since)
		if err != nil {
			return nil, false, err
		}
		if spent-e.Delta > limit.Limit {
			return nil, false, apperr.WithBalance(
				fmt.Errorf("%w: spent %d of %d", apperr.ErrSpendLimit, spent, limit.Limit), acc.Balance)
		}
	}
	if e.Delta > 0 && acc.Balance > math.MaxInt64-e.Delta {
		return nil, false, fmt.Errorf("%w: credit of %d overflows balance", apperr.ErrInvalidAmount, e.Delta)
	}

	newBalance, err := r.accounts.ApplyDelta(ctx, tx, e.AccountID, e.Delta)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, apperr.InsufficientFunds(acc.Balance, -e.Delta)
	}
	if err != nil {
		return nil, false, err
	}
	e.BalanceAfter = newBalance
	if err := r.entries.CreateTx(ctx, tx, e); err != nil {
		return nil, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}
	return e, false, nil
}

func (r *Repository) Balance(ctx context.Context, accountID uuid.UUID) (int64, error) {
	acc, err := r.accounts.GetByID(ctx, accountID)
	if err != nil {
		return 0, err
	}
	return acc.Balance, nil
}

func (r *Repository) Lookup(ctx context.Context, accountID uuid.UUID, reason models.LedgerReason, referenceID string) (*models.LedgerEntry, error) {
	return r.entries.FindByReference(ctx, accountID, reason, referenceID)
}

func (r *Repository) History(ctx context.Context, accountID uuid.UUID, limit int) ([]*models.LedgerEntry, error) {
	if _, err := r.accounts.GetByID(ctx, accountID); err != nil {
		return nil, err
	}
	return r.entries.ListByAccountID(ctx, accountID, limit)
}

func (r *Repository) SpentSince(ctx context.Context, accountID uuid.UUID, reason models.LedgerReason, since time.Time) (int64, error) {
	return r.entries.SumDebitsSince(ctx, accountID, reason, since)
}

func (r *Repository) Reconcile(ctx context.Context) ([]models.Discrepancy, error) {
	return r.entries.Discrepancies(ctx)
}
