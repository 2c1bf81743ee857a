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

// LedgerRepo reads and appends ledger_entries. Rows are never updated or
// deleted.
type LedgerRepo struct {
	pool *pgxpool.Pool
}

func NewLedgerRepo(pool *pgxpool.Pool) *LedgerRepo {
	return &LedgerRepo{pool: pool}
}

const ledgerColumns = `id, account_id, delta, reason, reference_id, balance_after, created_at`

func scanEntry(row pgx.Row) (*models.LedgerEntry, error) {
	var e models.LedgerEntry
	if err := row.Scan(&e.ID, &e.AccountID, &e.Delta, &e.Reason, &e.ReferenceID, &e.BalanceAfter, &e.CreatedAt); err != nil {
		return nil, err
	}
	return &e, nil
}

// CreateTx inserts a ledger entry inside the given transaction.
func (r *LedgerRepo) CreateTx(ctx context.Context, tx pgx.Tx, e *models.LedgerEntry) error {
	return tx.QueryRow(ctx, `
		INSERT INTO ledger_entries (id, account_id, delta, reason, reference_id, balance_after)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, e.ID, e.AccountID, e.Delta, e.Reason, e.ReferenceID, e.BalanceAfter).Scan(&e.CreatedAt)
}

// FindByReferenceTx looks up the entry holding an idempotency key inside tx.
func (r *LedgerRepo) FindByReferenceTx(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, reason models.LedgerReason, referenceID string) (*models.LedgerEntry, error) {
	e, err := scanEntry(tx.QueryRow(ctx, `
		SELECT `+ledgerColumns+` FROM ledger_entries
		WHERE account_id = $1 AND reason = $2 AND reference_id = $3
	`, accountID, reason, referenceID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	return e, err
}

func (r *LedgerRepo) FindByReference(ctx context.Context, accountID uuid.UUID, reason models.LedgerReason, referenceID string) (*models.LedgerEntry, error) {
	e, err := scanEntry(r.pool.QueryRow(ctx, `
		SELECT `+ledgerColumns+` FROM ledger_entries
		WHERE account_id = $1 AND reason = $2 AND reference_id = $3
	`, accountID, reason, referenceID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	return e, err
}

// ListByAccountID returns the newest limit entries for an account.
func (r *LedgerRepo) ListByAccountID(ctx context.Context, accountID uuid.UUID, limit int) ([]*models.LedgerEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+ledgerColumns+` FROM ledger_entries
		WHERE account_id = $1 ORDER BY created_at DESC, id LIMIT $2
	`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []*models.LedgerEntry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, e)
	}
	return list, rows.Err()
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// SumDebitsSince totals the points an account spent for reason since t.
func (r *LedgerRepo) SumDebitsSince(ctx context.Context, accountID uuid.UUID, reason models.LedgerReason, since time.Time) (int64, error) {
	return sumDebitsSince(ctx, r.pool, accountID, reason, since)
}

// SumDebitsSinceTx is SumDebitsSince inside tx.
func (r *LedgerRepo) SumDebitsSinceTx(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, reason models.LedgerReason, since time.Time) (int64, error) {
	return sumDebitsSince(ctx, tx, accountID, reason, since)
}

func sumDebitsSince(ctx context.Context, q queryRower, accountID uuid.UUID, reason models.LedgerReason, since time.Time) (int64, error) {
	var total int64
	err := q.QueryRow(ctx, `
		SELECT COALESCE(SUM(-delta), 0)
		FROM ledger_entries
		WHERE account_id = $1 AND reason = $2 AND delta < 0 AND created_at >= $3
	`, accountID, reason, since).Scan(&total)
	return total, err
}

// Discrepancies lists accounts whose balance differs from the sum of their
// entries.
func (r *LedgerRepo) Discrepancies(ctx context.Context) ([]models.Discrepancy, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT a.id, a.balance, COALESCE(SUM(e.delta), 0) AS entries_sum
		FROM accounts a
		LEFT JOIN ledger_entries e ON e.account_id = a.id
		GROUP BY a.id, a.balance
		HAVING a.balance <> COALESCE(SUM(e.delta), 0)
		ORDER BY a.id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []models.Discrepancy{}
	for rows.Next() {
		var d models.Discrepancy
		if err := rows.Scan(&d.AccountID, &d.Balance, &d.EntriesSum); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
