package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/AkibHossainOmi/TutorMove-sub000/internal/apperr"
	"github.com/AkibHossainOmi/TutorMove-sub000/internal/boost"
	"github.com/AkibHossainOmi/TutorMove-sub000/internal/middleware"
	"github.com/AkibHossainOmi/TutorMove-sub000/internal/models"
	"github.com/AkibHossainOmi/TutorMove-sub000/internal/prediction"
	"github.com/AkibHossainOmi/TutorMove-sub000/internal/validate"
)

const maxBodyBytes = 1 << 16

// RankReader serves current standings from the ranking index.
type RankReader interface {
	GetRank(gigID uuid.UUID) (models.Standing, error)
}

// GigReader tells an unknown gig apart from an inactive one.
type GigReader interface {
	GetGig(ctx context.Context, id uuid.UUID) (*models.Gig, error)
}

type Predictor interface {
	PredictRank(ctx context.Context, gigID uuid.UUID, points int64) (*prediction.Prediction, error)
}

type Booster interface {
	BoostGig(ctx context.Context, req boost.Request) (*models.BoostResult, error)
}

// GigHandler serves /gigs/{id}/... endpoints.
type GigHandler struct {
	Ranks     RankReader
	Gigs      GigReader
	Predictor Predictor
	Boosts    Booster
	Validator *validate.Validator
	Logger    *slog.Logger
}

// --- GET /gigs/{id}/rank ---

// GetRank handles GET /gigs/{id}/rank.
func (h *GigHandler) GetRank(w http.ResponseWriter, r *http.Request) {
	gigID, ok := pathID(w, r, "gig")
	if !ok {
		return
	}
	st, err := h.Ranks.GetRank(gigID)
	if errors.Is(err, apperr.ErrGigNotActive) {
		if _, gerr := h.Gigs.GetGig(r.Context(), gigID); gerr != nil {
			err = gerr
		}
	}
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// --- GET /gigs/{id}/predicted-rank?points=N ---

// PredictedRank handles GET /gigs/{id}/predicted-rank. It never writes.
func (h *GigHandler) PredictedRank(w http.ResponseWriter, r *http.Request) {
	gigID, ok := pathID(w, r, "gig")
	if !ok {
		return
	}
	points, err := strconv.ParseInt(r.URL.Query().Get("points"), 10, 64)
	if err != nil {
		badRequest(w, "invalid_boost", "points must be an integer")
		return
	}
	p, err := h.Predictor.PredictRank(r.Context(), gigID, points)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// --- POST /gigs/{id}/boost ---

type boostRequest struct {
	Points      int64  `json:"points"`
	ReferenceID string `json:"reference_id"`
}

// Boost handles POST /gigs/{id}/boost.
// Auth -> BoostLimit (via middleware) -> Validate -> BoostGig.
// The reference id comes from the body or the Idempotency-Key header.
func (h *GigHandler) Boost(w http.ResponseWriter, r *http.Request) {
	accountID, ok := middleware.AccountIDFromCtx(r.Context())
	if !ok {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	gigID, ok := pathID(w, r, "gig")
	if !ok {
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		badRequest(w, "invalid_request", "failed to read body")
		return
	}
	if err := h.Validator.Validate(validate.Boost, body); err != nil {
		writeError(w, h.Logger, err)
		return
	}
	var req boostRequest
	if err := json.Unmarshal(body, &req); err != nil {
		badRequest(w, "invalid_request", "invalid JSON")
		return
	}

	ref := strings.TrimSpace(req.ReferenceID)
	header := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	switch {
	case ref == "":
		ref = header
	case header != "" && header != ref:
		badRequest(w, "invalid_boost", "reference_id and Idempotency-Key differ")
		return
	}
	if ref == "" {
		badRequest(w, "invalid_boost", "reference_id or Idempotency-Key is required")
		return
	}

	res, err := h.Boosts.BoostGig(r.Context(), boost.Request{
		AccountID:   accountID,
		GigID:       gigID,
		Points:      req.Points,
		ReferenceID: ref,
	})
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// --- helpers ---

func pathID(w http.ResponseWriter, r *http.Request, kind string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		badRequest(w, "invalid_request", "invalid "+kind+" id")
		return uuid.Nil, false
	}
	return id, true
}
