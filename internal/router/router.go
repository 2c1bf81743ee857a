package router

import (
	"log/slog"
	"net/http"

	"github.com/AkibHossainOmi/TutorMove-sub000/internal/clock"
	"github.com/AkibHossainOmi/TutorMove-sub000/internal/handlers"
	"github.com/AkibHossainOmi/TutorMove-sub000/internal/middleware"
	"github.com/AkibHossainOmi/TutorMove-sub000/internal/registry"
)

// Deps is everything the HTTP surface needs. Ping and Clock may be nil.
type Deps struct {
	Gigs     *handlers.GigHandler
	Credits  *handlers.CreditsHandler
	Registry *registry.Handler

	Tokens  middleware.TokenValidator
	APIKeys middleware.APIKeyRepo
	Spend   middleware.SpendCounter
	Limits  middleware.BoostLimits
	Ping    handlers.Pinger
	Clock   clock.Clock
	Logger  *slog.Logger
}

// New returns the service's http.Handler.
//
// Public reads need no auth. Boosts run RequireAccount -> BoostLimit -> Boost;
// /credits needs a bearer token; /internal needs a service API key.
func New(d Deps) http.Handler {
	account := middleware.RequireAccount(d.Tokens)
	limit := middleware.BoostLimit(d.Limits, d.Spend, d.Clock)
	service := middleware.APIKeyAuth(d.APIKeys)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /gigs/{id}/rank", d.Gigs.GetRank)
	mux.HandleFunc("GET /gigs/{id}/predicted-rank", d.Gigs.PredictedRank)
	mux.Handle("POST /gigs/{id}/boost", account(limit(http.HandlerFunc(d.Gigs.Boost))))
	mux.HandleFunc("GET /subjects/{id}/ranking", d.Registry.SubjectRanking)

	mux.Handle("GET /credits/balance", account(http.HandlerFunc(d.Credits.Balance)))
	mux.Handle("GET /credits/ledger", account(http.HandlerFunc(d.Credits.History)))
	mux.Handle("POST /credits/purchase", account(http.HandlerFunc(d.Credits.Purchase)))
	mux.Handle("POST /credits/transfer", account(http.HandlerFunc(d.Credits.Transfer)))

	mux.Handle("PUT /internal/gigs/{id}/activation", service(http.HandlerFunc(d.Registry.SetActivation)))

	mux.HandleFunc("GET /healthz", handlers.Health(d.Ping))

	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return middleware.RequestLogger(logger)(mux)
}
