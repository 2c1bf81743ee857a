package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/AkibHossainOmi/TutorMove-sub000/internal/middleware"
	"github.com/AkibHossainOmi/TutorMove-sub000/internal/models"
	"github.com/AkibHossainOmi/TutorMove-sub000/internal/validate"
)

type LedgerReader interface {
	GetBalance(ctx context.Context, accountID uuid.UUID) (int64, error)
	History(ctx context.Context, accountID uuid.UUID, limit int) ([]*models.LedgerEntry, error)
}

type Credits interface {
	Purchase(ctx context.Context, accountID uuid.UUID, points int64, paymentReference string) (int64, error)
	Transfer(ctx context.Context, from, to uuid.UUID, points int64, referenceID string) (int64, error)
}

// CreditsHandler serves /credits/... for the authenticated account.
type CreditsHandler struct {
	Ledger    LedgerReader
	Credits   Credits
	Validator *validate.Validator
	Logger    *slog.Logger
}

type balanceResponse struct {
	Balance int64 `json:"balance"`
}

// Balance handles GET /credits/balance.
func (h *CreditsHandler) Balance(w http.ResponseWriter, r *http.Request) {
	accountID, ok := middleware.AccountIDFromCtx(r.Context())
	if !ok {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	bal, err := h.Ledger.GetBalance(r.Context(), accountID)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Balance: bal})
}

// History handles GET /credits/ledger, newest entry first.
func (h *CreditsHandler) History(w http.ResponseWriter, r *http.Request) {
	accountID, ok := middleware.AccountIDFromCtx(r.Context())
	if !ok {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			badRequest(w, "invalid_request", "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	entries, err := h.Ledger.History(r.Context(), accountID, limit)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

type purchaseRequest struct {
	Points           int64  `json:"points"`
	PaymentReference string `json:"payment_reference"`
}

// Purchase handles POST /credits/purchase.
func (h *CreditsHandler) Purchase(w http.ResponseWriter, r *http.Request) {
	accountID, ok := middleware.AccountIDFromCtx(r.Context())
	if !ok {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	var req purchaseRequest
	if !h.decode(w, r, validate.Purchase, &req) {
		return
	}
	bal, err := h.Credits.Purchase(r.Context(), accountID, req.Points, req.PaymentReference)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Balance: bal})
}

type transferRequest struct {
	ToAccountID string `json:"to_account_id"`
	Points      int64  `json:"points"`
	ReferenceID string `json:"reference_id"`
}

// Transfer handles POST /credits/transfer.
func (h *CreditsHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	accountID, ok := middleware.AccountIDFromCtx(r.Context())
	if !ok {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	var req transferRequest
	if !h.decode(w, r, validate.Transfer, &req) {
		return
	}
	to, err := uuid.Parse(req.ToAccountID)
	if err != nil {
		badRequest(w, "invalid_request", "invalid to_account_id")
		return
	}
	bal, err := h.Credits.Transfer(r.Context(), accountID, to, req.Points, req.ReferenceID)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Balance: bal})
}

// decode reads, validates and unmarshals the body, writing the error
// response itself when it returns false.
func (h *CreditsHandler) decode(w http.ResponseWriter, r *http.Request, schema string, dst any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		badRequest(w, "invalid_request", "failed to read body")
		return false
	}
	if err := h.Validator.Validate(schema, body); err != nil {
		writeError(w, h.Logger, err)
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		badRequest(w, "invalid_request", "invalid JSON")
		return false
	}
	return true
}
