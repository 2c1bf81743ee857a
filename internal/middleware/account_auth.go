package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (uuid.UUID, string, error)
}

// RequireAccount rejects requests without a valid bearer token and puts the
// token's account id into the request context.
func RequireAccount(v TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := extractBearer(r)
			if raw == "" {
				http.Error(w, `{"error":"missing or malformed Authorization header"}`, http.StatusUnauthorized)
				return
			}
			id, _, err := v.ValidateToken(r.Context(), raw)
			if err != nil || id == uuid.Nil {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithAccountID(r.Context(), id)))
		})
	}
}

// AccountIDFromCtx returns the authenticated account id.
func AccountIDFromCtx(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(ctxAccountKey).(uuid.UUID)
	return id, ok && id != uuid.Nil
}

func WithAccountID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, ctxAccountKey, id)
}
