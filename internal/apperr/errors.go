// Package apperr holds the error taxonomy shared by the ledger, ranking and
// boost packages, and its mapping onto HTTP responses.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrGigNotActive           = errors.New("gig not active")
	ErrInvalidBoost           = errors.New("invalid boost")
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrNotFound               = errors.New("not found")
	ErrReferenceConflict      = errors.New("reference id reused with different parameters")
	ErrBoostRolledBack        = errors.New("boost rolled back")
	ErrValidation             = errors.New("validation failed")
	ErrUnavailable            = errors.New("temporarily unavailable")
	ErrSpendLimit             = errors.New("daily spend limit reached")

	// ErrStateConflict reports a boost record that is not in the state a
	// transition expected. It never reaches clients.
	ErrStateConflict = errors.New("boost state conflict")
)

// BalanceError carries the account's authoritative balance alongside the
// underlying failure so callers can render it without a second read.
type BalanceError struct {
	Balance  int64
	Required int64
	Err      error
}

func (e *BalanceError) Error() string {
	if e.Required > 0 {
		return fmt.Sprintf("%v: balance %d, required %d", e.Err, e.Balance, e.Required)
	}
	return fmt.Sprintf("%v: balance %d", e.Err, e.Balance)
}

func (e *BalanceError) Unwrap() error { return e.Err }

// InsufficientFunds builds the error returned when a debit would drive the
// balance negative.
func InsufficientFunds(balance, required int64) error {
	return &BalanceError{Balance: balance, Required: required, Err: ErrInsufficientFunds}
}

// WithBalance attaches a balance to err. A nil err stays nil.
func WithBalance(err error, balance int64) error {
	if err == nil {
		return nil
	}
	var be *BalanceError
	if errors.As(err, &be) {
		return err
	}
	return &BalanceError{Balance: balance, Err: err}
}

// RankError carries the gig's current rank.
type RankError struct {
	Rank  int
	Total int
	Err   error
}

func (e *RankError) Error() string {
	return fmt.Sprintf("%v: rank %d of %d", e.Err, e.Rank, e.Total)
}

func (e *RankError) Unwrap() error { return e.Err }

// WithRank attaches a rank to err. A nil err stays nil.
func WithRank(err error, rank, total int) error {
	if err == nil {
		return nil
	}
	return &RankError{Rank: rank, Total: total, Err: err}
}

// BalanceOf returns the balance carried by err, if any.
func BalanceOf(err error) (int64, bool) {
	var be *BalanceError
	if errors.As(err, &be) {
		return be.Balance, true
	}
	return 0, false
}

// RankOf returns the rank and total carried by err, if any.
func RankOf(err error) (rank, total int, ok bool) {
	var re *RankError
	if errors.As(err, &re) {
		return re.Rank, re.Total, true
	}
	return 0, 0, false
}

type mapping struct {
	target error
	status int
	code   string
}

var mappings = []mapping{
	{ErrInsufficientFunds, http.StatusPaymentRequired, "insufficient_funds"},
	{ErrGigNotActive, http.StatusConflict, "gig_not_active"},
	{ErrInvalidBoost, http.StatusBadRequest, "invalid_boost"},
	{ErrSpendLimit, http.StatusForbidden, "boost_limit"},
	{ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
	{ErrReferenceConflict, http.StatusConflict, "reference_conflict"},
	{ErrBoostRolledBack, http.StatusConflict, "boost_rolled_back"},
	{ErrNotFound, http.StatusNotFound, "not_found"},
	{ErrValidation, http.StatusUnprocessableEntity, "validation_failed"},
	{ErrConcurrentModification, http.StatusServiceUnavailable, "concurrent_modification"},
	{ErrUnavailable, http.StatusServiceUnavailable, "unavailable"},
}

// Status maps err to an HTTP status code.
func Status(err error) int {
	for _, m := range mappings {
		if errors.Is(err, m.target) {
			return m.status
		}
	}
	return http.StatusInternalServerError
}

// Code maps err to a stable machine-readable code.
func Code(err error) string {
	for _, m := range mappings {
		if errors.Is(err, m.target) {
			return m.code
		}
	}
	return "internal_error"
}
