package ranking

import (
	"bytes"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/AkibHossainOmi/TutorMove-sub000/internal/models"
)

// contender is the minimum needed to place a gig in an ordering.
type contender struct {
	id          uuid.UUID
	score       float64
	lastBoostAt time.Time
	cumulative  float64
}

// ahead reports whether a ranks strictly before b: higher score first, then
// the earlier last boost, then the lower gig id.
func ahead(a, b contender) bool {
	if a.score != b.score {
		return a.score > b.score
	}
	if !a.lastBoostAt.Equal(b.lastBoostAt) {
		return a.lastBoostAt.Before(b.lastBoostAt)
	}
	return bytes.Compare(a.id[:], b.id[:]) < 0
}

func sortContenders(cs []contender) {
	sort.Slice(cs, func(i, j int) bool { return ahead(cs[i], cs[j]) })
}

// buildView scores gigs at now and returns them as a ranked view.
func buildView(m Model, subjectID uuid.UUID, gigs []models.Gig, now time.Time, version uint64) *models.RankView {
	cs := make([]contender, 0, len(gigs))
	for i := range gigs {
		g := &gigs[i]
		cs = append(cs, contender{
			id:          g.ID,
			score:       m.Score(g, now),
			lastBoostAt: g.LastBoostAt,
			cumulative:  g.CumulativeBoostScore,
		})
	}
	sortContenders(cs)
	entries := make([]models.RankEntry, len(cs))
	for i, c := range cs {
		entries[i] = models.RankEntry{
			GigID:                c.id,
			Score:                c.score,
			Position:             i + 1,
			CumulativeBoostScore: c.cumulative,
			LastBoostAt:          c.lastBoostAt,
		}
	}
	return &models.RankView{
		SubjectID:  subjectID,
		Entries:    entries,
		ComputedAt: now,
		Version:    version,
	}
}

// PositionWith returns the 1-based rank target would hold among the entries of
// view, all re-scored at now, with target replacing any entry that has its id.
// The view is not modified.
func PositionWith(m Model, view *models.RankView, targetID uuid.UUID, targetScore float64, targetLastBoostAt, now time.Time) (rank, total int) {
	target := contender{id: targetID, score: targetScore, lastBoostAt: targetLastBoostAt}
	rank = 1
	total = 1
	for _, e := range view.Entries {
		if e.GigID == targetID {
			continue
		}
		total++
		other := contender{
			id:          e.GigID,
			score:       m.ScoreAt(e.CumulativeBoostScore, e.LastBoostAt, now),
			lastBoostAt: e.LastBoostAt,
		}
		if ahead(other, target) {
			rank++
		}
	}
	return rank, total
}
