package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/AkibHossainOmi/TutorMove-sub000/internal/apperr"
)

// errorResponse is the body of every non-2xx response. Balance and rank are
// present when known so clients can reconcile without another request.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Balance *int64 `json:"balance,omitempty"`
	Rank    *int   `json:"rank,omitempty"`
	Total   *int   `json:"total,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := apperr.Status(err)
	resp := errorResponse{Error: apperr.Code(err), Message: err.Error()}
	if status == http.StatusInternalServerError {
		if logger == nil {
			logger = slog.Default()
		}
		logger.Error("request failed", "error", err)
		resp.Message = "internal error"
	}
	if bal, ok := apperr.BalanceOf(err); ok {
		resp.Balance = &bal
	}
	if rank, total, ok := apperr.RankOf(err); ok {
		resp.Rank, resp.Total = &rank, &total
	}
	writeJSON(w, status, resp)
}

func badRequest(w http.ResponseWriter, code, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: code, Message: msg})
}
