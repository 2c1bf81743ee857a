package registry

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/AkibHossainOmi/TutorMove-sub000/internal/apperr"
	"github.com/AkibHossainOmi/TutorMove-sub000/internal/validate"
)

type ActivationRequest struct {
	Active bool `json:"active"`
}

type GigResponse struct {
	ID                   string  `json:"id"`
	SubjectID            string  `json:"subject_id"`
	Active               bool    `json:"active"`
	CumulativeBoostScore float64 `json:"cumulative_boost_score"`
	LastBoostAt          string  `json:"last_boost_at"`
	Version              int64   `json:"version"`
}

type Handler struct {
	svc       Service
	validator *validate.Validator
	log       *slog.Logger
}

func NewHandler(svc Service, validator *validate.Validator, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, validator: validator, log: log}
}

// SetActivation handles PUT /internal/gigs/{id}/activation.
func (h *Handler) SetActivation(w http.ResponseWriter, r *http.Request) {
	gigID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, `{"error":"invalid gig id"}`, http.StatusBadRequest)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	if err != nil {
		http.Error(w, `{"error":"failed to read body"}`, http.StatusBadRequest)
		return
	}
	if err := h.validator.Validate(validate.Activation, body); err != nil {
		h.writeError(w, err)
		return
	}
	var req ActivationRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	g, err := h.svc.SetActive(r.Context(), gigID, req.Active)
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(GigResponse{
		ID:                   g.ID.String(),
		SubjectID:            g.SubjectID.String(),
		Active:               g.Active,
		CumulativeBoostScore: g.CumulativeBoostScore,
		LastBoostAt:          g.LastBoostAt.UTC().Format("2006-01-02T15:04:05.000000Z07:00"),
		Version:              g.Version,
	})
}

// SubjectRanking handles GET /subjects/{id}/ranking.
func (h *Handler) SubjectRanking(w http.ResponseWriter, r *http.Request) {
	subjectID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, `{"error":"invalid subject id"}`, http.StatusBadRequest)
		return
	}
	view, err := h.svc.SubjectRanking(r.Context(), subjectID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(view)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := apperr.Status(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.log.Error("registry request failed", "error", err)
		msg = "internal error"
	} else if errors.Is(err, apperr.ErrNotFound) {
		msg = "gig not found"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": apperr.Code(err), "message": msg})
}
