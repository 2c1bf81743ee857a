// Package credits composes purchases and account-to-account transfers from
// single-account ledger entries.
package credits

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/AkibHossainOmi/TutorMove-sub000/internal/apperr"
	"github.com/AkibHossainOmi/TutorMove-sub000/internal/models"
)

type Ledger interface {
	Debit(ctx context.Context, accountID uuid.UUID, amount int64, reason models.LedgerReason, referenceID string) (int64, error)
	Credit(ctx context.Context, accountID uuid.UUID, amount int64, reason models.LedgerReason, referenceID string) (int64, error)
	GetBalance(ctx context.Context, accountID uuid.UUID) (int64, error)
}

type Service struct {
	ledger Ledger
	logger *slog.Logger
}

func NewService(ledger Ledger, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{ledger: ledger, logger: logger.With("component", "CreditsService")}
}

// Purchase credits points bought through the payment provider. The payment
// reference makes repeated webhook deliveries harmless.
func (s *Service) Purchase(ctx context.Context, accountID uuid.UUID, points int64, paymentReference string) (int64, error) {
	bal, err := s.ledger.Credit(ctx, accountID, points, models.ReasonPurchase, paymentReference)
	if err != nil {
		return 0, err
	}
	s.logger.Info("points purchased", "account_id", accountID, "points", points, "reference_id", paymentReference)
	return bal, nil
}

// Transfer gifts points from one account to another and returns the sender's
// new balance. If the recipient cannot be credited the sender is refunded.
func (s *Service) Transfer(ctx context.Context, from, to uuid.UUID, points int64, referenceID string) (int64, error) {
	if from == to {
		return 0, fmt.Errorf("%w: cannot transfer to the same account", apperr.ErrInvalidAmount)
	}
	bal, err := s.ledger.Debit(ctx, from, points, models.ReasonGift, referenceID)
	if err != nil {
		return 0, err
	}

	ctx = context.WithoutCancel(ctx)
	if _, err := s.ledger.Credit(ctx, to, points, models.ReasonGift, referenceID); err != nil {
		refunded, rerr := s.ledger.Credit(ctx, from, points, models.ReasonRefund, transferRefundRef(referenceID))
		if rerr != nil {
			s.logger.Error("transfer refund failed", "from", from, "to", to, "reference_id", referenceID, "error", rerr)
			return 0, errors.Join(err, rerr)
		}
		s.logger.Warn("transfer refunded", "from", from, "to", to, "reference_id", referenceID, "error", err)
		return 0, apperr.WithBalance(err, refunded)
	}
	s.logger.Info("points transferred", "from", from, "to", to, "points", points, "reference_id", referenceID)
	return bal, nil
}

// transferRefundRef keeps transfer refunds apart from boost refunds, which
// reuse the boost's reference id under the same reason.
func transferRefundRef(referenceID string) string {
	return "transfer:" + referenceID
}
