package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/AkibHossainOmi/TutorMove-sub000/internal/models"
)

type contextKey string

const (
	ctxAccountKey contextKey = "account_id"
	ctxServiceKey contextKey = "service"
	ctxPointsKey  contextKey = "boost_points"
)

// APIKeyRepo is the interface used by API key auth middleware.
type APIKeyRepo interface {
	FindByKeyHash(ctx context.Context, keyHash string) (*models.APIKey, error)
}

// APIKeyAuth authenticates internal service calls, such as gig-CRUD's
// activation hook. The key comes from X-API-Key or a Bearer header; its
// SHA-256 hash must match an active row in api_keys.
func APIKeyAuth(repo APIKeyRepo) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get("X-API-Key"))
			if raw == "" {
				raw = extractBearer(r)
			}
			if raw == "" {
				http.Error(w, `{"error":"missing api key"}`, http.StatusUnauthorized)
				return
			}

			key, err := repo.FindByKeyHash(r.Context(), HashKey(raw))
			if err != nil || !key.IsActive {
				http.Error(w, `{"error":"invalid api key"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithService(r.Context(), key)))
		})
	}
}

// ServiceFromCtx returns the authenticated service key or nil.
func ServiceFromCtx(ctx context.Context) *models.APIKey {
	k, _ := ctx.Value(ctxServiceKey).(*models.APIKey)
	return k
}

// WithService returns a context carrying the given service key.
func WithService(ctx context.Context, k *models.APIKey) context.Context {
	return context.WithValue(ctx, ctxServiceKey, k)
}

func extractBearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// HashKey is how raw API keys are stored.
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
