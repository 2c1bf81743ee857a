package models

import (
	"time"

	"github.com/google/uuid"
)

// Gig is a tutor's listing. Metadata and the active flag belong to gig-CRUD;
// the score fields are written only by boosts and activation resets.
// Version increments on every score or activation change.
type Gig struct {
	ID                   uuid.UUID `json:"id"`
	SubjectID            uuid.UUID `json:"subject_id"`
	OwnerAccountID       uuid.UUID `json:"owner_account_id"`
	Active               bool      `json:"active"`
	CumulativeBoostScore float64   `json:"cumulative_boost_score"`
	LastBoostAt          time.Time `json:"last_boost_at"`
	Version              int64     `json:"version"`
	UpdatedAt            time.Time `json:"updated_at"`
}

type Subject struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}
