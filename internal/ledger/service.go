// Package ledger keeps per-account points balances. Every mutation appends
// one immutable entry and moves exactly one balance in the same transaction,
// idempotently per (account, reason, reference id).
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AkibHossainOmi/TutorMove-sub000/internal/apperr"
	"github.com/AkibHossainOmi/TutorMove-sub000/internal/models"
)

const maxReferenceLen = 128

// Store is the persistence contract behind the ledger.
//
// Apply appends e and moves its account's balance by e.Delta atomically. If an
// entry with the same account, reason and reference id already exists, it is
// returned with replayed true and nothing changes. A debit the balance cannot
// cover fails with an apperr.BalanceError wrapping ErrInsufficientFunds; an
// unknown account fails with apperr.ErrNotFound. A non-nil limit caps the
// account's debits for limit.Reason since limit.Since, counting e; exceeding it
// fails with an apperr.BalanceError wrapping ErrSpendLimit. Replays bypass it.
type Store interface {
	Apply(ctx context.Context, e *models.LedgerEntry, limit *models.SpendCap) (applied *models.LedgerEntry, replayed bool, err error)
	Balance(ctx context.Context, accountID uuid.UUID) (int64, error)
	Lookup(ctx context.Context, accountID uuid.UUID, reason models.LedgerReason, referenceID string) (*models.LedgerEntry, error)
	History(ctx context.Context, accountID uuid.UUID, limit int) ([]*models.LedgerEntry, error)
	SpentSince(ctx context.Context, accountID uuid.UUID, reason models.LedgerReason, since time.Time) (int64, error)
	Reconcile(ctx context.Context) ([]models.Discrepancy, error)
}

type Service interface {
	Debit(ctx context.Context, accountID uuid.UUID, amount int64, reason models.LedgerReason, referenceID string) (int64, error)
	Credit(ctx context.Context, accountID uuid.UUID, amount int64, reason models.LedgerReason, referenceID string) (int64, error)
	GetBalance(ctx context.Context, accountID uuid.UUID) (int64, error)
	Lookup(ctx context.Context, accountID uuid.UUID, reason models.LedgerReason, referenceID string) (*models.LedgerEntry, error)
	History(ctx context.Context, accountID uuid.UUID, limit int) ([]*models.LedgerEntry, error)
	SpentSince(ctx context.Context, accountID uuid.UUID, reason models.LedgerReason, since time.Time) (int64, error)
	Reconcile(ctx context.Context) ([]models.Discrepancy, error)
}

type service struct {
	store  Store
	logger *slog.Logger
}

func NewService(store Store, logger *slog.Logger) Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &service{store: store, logger: logger}
}

var _ Service = (*service)(nil)

type spendCapKey struct{}

// WithSpendCap returns a context whose debits for c.Reason are held to
// c.Limit since c.Since. A non-positive limit disables the cap.
func WithSpendCap(ctx context.Context, c models.SpendCap) context.Context {
	return context.WithValue(ctx, spendCapKey{}, c)
}

func spendCapFor(ctx context.Context, delta int64, reason models.LedgerReason) *models.SpendCap {
	c, ok := ctx.Value(spendCapKey{}).(models.SpendCap)
	if !ok || delta >= 0 || c.Limit <= 0 || c.Reason != reason {
		return nil
	}
	return &c
}

func (s *service) Debit(ctx context.Context, accountID uuid.UUID, amount int64, reason models.LedgerReason, referenceID string) (int64, error) {
	return s.apply(ctx, "ledger.Debit", accountID, -amount, amount, reason, referenceID)
}

func (s *service) Credit(ctx context.Context, accountID uuid.UUID, amount int64, reason models.LedgerReason, referenceID string) (int64, error) {
	return s.apply(ctx, "ledger.Credit", accountID, amount, amount, reason, referenceID)
}

func (s *service) apply(ctx context.Context, op string, accountID uuid.UUID, delta, amount int64, reason models.LedgerReason, referenceID string) (int64, error) {
	ctx, span := otel.Tracer("ledger").Start(ctx, op)
	defer span.End()
	span.SetAttributes(
		attribute.String("account_id", accountID.String()),
		attribute.String("reason", string(reason)),
		attribute.Int64("amount", amount),
	)

	if amount <= 0 {
		return 0, fmt.Errorf("%w: amount must be > 0", apperr.ErrInvalidAmount)
	}
	if !reason.Valid() {
		return 0, fmt.Errorf("%w: unknown reason %q", apperr.ErrInvalidAmount, reason)
	}
	if referenceID == "" || len(referenceID) > maxReferenceLen {
		return 0, fmt.Errorf("%w: reference id must be 1-%d bytes", apperr.ErrInvalidAmount, maxReferenceLen)
	}

	entry := &models.LedgerEntry{
		ID:          uuid.New(),
		AccountID:   accountID,
		Delta:       delta,
		Reason:      reason,
		ReferenceID: referenceID,
	}
	applied, replayed, err := s.store.Apply(ctx, entry, spendCapFor(ctx, delta, reason))
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	if replayed {
		span.SetAttributes(attribute.Bool("replayed", true))
		if applied.Delta != delta {
			return 0, apperr.WithBalance(
				fmt.Errorf("%w: %s %s already recorded with delta %d", apperr.ErrReferenceConflict, reason, referenceID, applied.Delta),
				applied.BalanceAfter)
		}
		s.logger.Debug("ledger replay", "account_id", accountID, "reason", reason, "reference_id", referenceID)
		return applied.BalanceAfter, nil
	}
	s.logger.Debug("ledger entry applied",
		"account_id", accountID, "reason", reason, "reference_id", referenceID,
		"delta", delta, "balance_after", applied.BalanceAfter)
	return applied.BalanceAfter, nil
}

func (s *service) GetBalance(ctx context.Context, accountID uuid.UUID) (int64, error) {
	return s.store.Balance(ctx, accountID)
}

func (s *service) Lookup(ctx context.Context, accountID uuid.UUID, reason models.LedgerReason, referenceID string) (*models.LedgerEntry, error) {
	return s.store.Lookup(ctx, accountID, reason, referenceID)
}

// History returns the newest entries first. limit <= 0 means 100.
func (s *service) History(ctx context.Context, accountID uuid.UUID, limit int) ([]*models.LedgerEntry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	return s.store.History(ctx, accountID, limit)
}

func (s *service) SpentSince(ctx context.Context, accountID uuid.UUID, reason models.LedgerReason, since time.Time) (int64, error) {
	return s.store.SpentSince(ctx, accountID, reason, since)
}

// Reconcile lists accounts whose balance no longer equals the sum of their
// entries. An empty result means the ledger is consistent.
func (s *service) Reconcile(ctx context.Context) ([]models.Discrepancy, error) {
	out, err := s.store.Reconcile(ctx)
	if err != nil {
		return nil, err
	}
	for _, d := range out {
		s.logger.Error("ledger discrepancy", "account_id", d.AccountID, "balance", d.Balance, "entries_sum", d.EntriesSum)
	}
	return out, nil
}
