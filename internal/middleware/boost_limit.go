package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/AkibHossainOmi/TutorMove-sub000/internal/clock"
	"github.com/AkibHossainOmi/TutorMove-sub000/internal/ledger"
	"github.com/AkibHossainOmi/TutorMove-sub000/internal/models"
)

const maxBoostBody = 1 << 16

// SpendCounter reports what an account has already spent.
type SpendCounter interface {
	SpentSince(ctx context.Context, accountID uuid.UUID, reason models.LedgerReason, since time.Time) (int64, error)
	Lookup(ctx context.Context, accountID uuid.UUID, reason models.LedgerReason, referenceID string) (*models.LedgerEntry, error)
}

// BoostLimits caps single boosts and daily boost spend. Zero disables a cap.
type BoostLimits struct {
	MaxPoints int64
	DailyCap  int64
}

type boostPeek struct {
	Points      int64  `json:"points"`
	ReferenceID string `json:"reference_id"`
}

// PointsFromCtx returns the points parsed by BoostLimit, or 0 if not set.
func PointsFromCtx(ctx context.Context) int64 {
	p, _ := ctx.Value(ctxPointsKey).(int64)
	return p
}

// BoostLimit enforces BoostLimits for the account set by RequireAccount.
// It reads the body to extract "points", then replaces r.Body so the
// handler can read it again. A replay of a boost that already spent is not
// counted against the daily cap a second time. The check here rejects early;
// the cap is also attached to the request context so the ledger enforces it
// atomically with the debit.
func BoostLimit(limits BoostLimits, counter SpendCounter, clk clock.Clock) func(http.Handler) http.Handler {
	if clk == nil {
		clk = clock.Real()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			accountID, ok := AccountIDFromCtx(r.Context())
			if !ok {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}

			bodyBytes, err := io.ReadAll(io.LimitReader(r.Body, maxBoostBody))
			r.Body.Close()
			if err != nil {
				http.Error(w, `{"error":"failed to read body"}`, http.StatusBadRequest)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(bodyBytes))

			var peek boostPeek
			if err := json.Unmarshal(bodyBytes, &peek); err != nil {
				http.Error(w, `{"error":"invalid JSON body"}`, http.StatusBadRequest)
				return
			}
			// Non-positive points are the handler's to reject.
			if peek.Points <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			if limits.MaxPoints > 0 && peek.Points > limits.MaxPoints {
				http.Error(w, fmt.Sprintf(`{"error":"boost_limit","message":"points %d exceed per-boost limit %d"}`, peek.Points, limits.MaxPoints), http.StatusForbidden)
				return
			}

			ctx := r.Context()
			if limits.DailyCap > 0 {
				now := clk.Now().UTC()
				midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
				ctx = ledger.WithSpendCap(ctx, models.SpendCap{
					Reason: models.ReasonBoostSpend,
					Since:  midnight,
					Limit:  limits.DailyCap,
				})
				if !alreadySpent(r, counter, accountID, peek.ReferenceID) {
					spent, err := counter.SpentSince(ctx, accountID, models.ReasonBoostSpend, midnight)
					if err != nil {
						http.Error(w, `{"error":"internal_error","message":"failed to check daily spend"}`, http.StatusInternalServerError)
						return
					}
					if spent+peek.Points > limits.DailyCap {
						http.Error(w, fmt.Sprintf(`{"error":"boost_limit","message":"daily spend %d + points %d exceeds daily limit %d"}`, spent, peek.Points, limits.DailyCap), http.StatusForbidden)
						return
					}
				}
			}

			ctx = context.WithValue(ctx, ctxPointsKey, peek.Points)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func alreadySpent(r *http.Request, counter SpendCounter, accountID uuid.UUID, bodyRef string) bool {
	ref := strings.TrimSpace(bodyRef)
	if ref == "" {
		ref = strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	}
	if ref == "" {
		return false
	}
	_, err := counter.Lookup(r.Context(), accountID, models.ReasonBoostSpend, ref)
	return err == nil
}
