package handlers

import (
	"context"
	"net/http"
	"time"
)

// Pinger checks a backing store.
type Pinger func(ctx context.Context) error

// Health handles GET /healthz. Ping, when set, checks the backing store.
func Health(ping Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ping != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := ping(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
