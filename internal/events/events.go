// Package events publishes boost outcomes for listing pages and
// notification workers that live outside this service.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	TypeBoostCommitted  = "boost.committed"
	TypeBoostRolledBack = "boost.rolled_back"
)

type Event struct {
	Type        string    `json:"type"`
	ReferenceID string    `json:"reference_id"`
	AccountID   uuid.UUID `json:"account_id"`
	GigID       uuid.UUID `json:"gig_id"`
	SubjectID   uuid.UUID `json:"subject_id"`
	Points      int64     `json:"points"`
	NewRank     int       `json:"new_rank,omitempty"`
	NewTotal    int       `json:"new_total,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	At          time.Time `json:"at"`
}

// Publisher delivers events. Delivery is at-most-once; callers treat a
// failure as loggable, never as a reason to undo a committed boost.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Nop drops every event. Used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
