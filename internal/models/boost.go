package models

import (
	"time"

	"github.com/google/uuid"
)

// BoostState is the lifecycle of a boost request.
type BoostState string

// Requested and ScoreUpdated are in-process stages; the others are persisted
// on the boost record. Compensating is the durable marker between Debited and
// RolledBack while the refund is in flight.
const (
	BoostRequested    BoostState = "requested"
	BoostValidated    BoostState = "validated"
	BoostDebited      BoostState = "debited"
	BoostScoreUpdated BoostState = "score_updated"
	BoostCommitted    BoostState = "committed"
	BoostAborted      BoostState = "aborted"
	BoostCompensating BoostState = "compensating"
	BoostRolledBack   BoostState = "rolled_back"
)

// Terminal reports whether no further transition is possible.
func (s BoostState) Terminal() bool {
	return s == BoostCommitted || s == BoostRolledBack
}

// Boost is the durable record of one boost request, keyed by reference id.
type Boost struct {
	ReferenceID   string     `json:"reference_id"`
	AccountID     uuid.UUID  `json:"account_id"`
	GigID         uuid.UUID  `json:"gig_id"`
	SubjectID     uuid.UUID  `json:"subject_id"`
	Points        int64      `json:"points"`
	State         BoostState `json:"state"`
	BalanceAfter  *int64     `json:"balance_after,omitempty"`
	FailureReason string     `json:"failure_reason,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// SameRequest reports whether other asks for the same boost as b.
func (b *Boost) SameRequest(other *Boost) bool {
	return b.AccountID == other.AccountID && b.GigID == other.GigID && b.Points == other.Points
}

// BoostResult is returned to the caller of a committed boost.
type BoostResult struct {
	NewRank    int   `json:"new_rank"`
	NewTotal   int   `json:"new_total"`
	NewBalance int64 `json:"new_balance"`
}
