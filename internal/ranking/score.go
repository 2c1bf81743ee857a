// Package ranking orders the active gigs of each subject by decayed boost
// score and serves rank lookups from immutable per-subject snapshots.
package ranking

import (
	"math"
	"time"

	"github.com/AkibHossainOmi/TutorMove-sub000/internal/models"
)

// DefaultHalfLife is the time it takes a boost to lose half its weight.
const DefaultHalfLife = 7 * 24 * time.Hour

// Model is the score function. It is a value type with no state beyond its
// half-life, so it is safe to share.
type Model struct {
	HalfLife time.Duration
}

func NewModel(halfLife time.Duration) Model {
	if halfLife <= 0 {
		halfLife = DefaultHalfLife
	}
	return Model{HalfLife: halfLife}
}

// Decay returns the weight left after elapsed time, in (0, 1].
func (m Model) Decay(elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 1
	}
	hl := m.HalfLife
	if hl <= 0 {
		hl = DefaultHalfLife
	}
	d := math.Exp2(-elapsed.Seconds() / hl.Seconds())
	if d <= 0 {
		return math.SmallestNonzeroFloat64
	}
	return d
}

// ScoreAt evaluates a cumulative score last re-based at lastBoostAt.
func (m Model) ScoreAt(cumulative float64, lastBoostAt, now time.Time) float64 {
	return cumulative * m.Decay(now.Sub(lastBoostAt))
}

func (m Model) Score(g *models.Gig, now time.Time) float64 {
	return m.ScoreAt(g.CumulativeBoostScore, g.LastBoostAt, now)
}

// Boosted returns g after a boost of points committed at at: the decayed
// score plus points becomes the new cumulative total, re-based at at.
func (m Model) Boosted(g models.Gig, points int64, at time.Time) models.Gig {
	g.CumulativeBoostScore = m.Score(&g, at) + float64(points)
	g.LastBoostAt = at
	return g
}

// Baseline resets g's score fields for a fresh activation at at.
func Baseline(g models.Gig, at time.Time) models.Gig {
	g.CumulativeBoostScore = 0
	g.LastBoostAt = at
	return g
}
