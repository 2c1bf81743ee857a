package models

import (
	"time"

	"github.com/google/uuid"
)

// RankEntry is one gig's place in a subject ordering. The cumulative score and
// last boost time are kept so the score can be re-evaluated at any instant.
type RankEntry struct {
	GigID                uuid.UUID `json:"gig_id"`
	Score                float64   `json:"score"`
	Position             int       `json:"rank_position"`
	CumulativeBoostScore float64   `json:"-"`
	LastBoostAt          time.Time `json:"last_boost_at"`
}

// RankView is an immutable ordering of a subject's active gigs, rank 1 first.
type RankView struct {
	SubjectID  uuid.UUID   `json:"subject_id"`
	Entries    []RankEntry `json:"entries"`
	ComputedAt time.Time   `json:"computed_at"`
	Version    uint64      `json:"version"`
}

// Standing is a gig's rank lookup result.
type Standing struct {
	GigID     uuid.UUID `json:"-"`
	SubjectID uuid.UUID `json:"subject"`
	Rank      int       `json:"rank"`
	Total     int       `json:"total"`
	Score     float64   `json:"score"`
}
