package ranking

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/AkibHossainOmi/TutorMove-sub000/internal/apperr"
	"github.com/AkibHossainOmi/TutorMove-sub000/internal/clock"
	"github.com/AkibHossainOmi/TutorMove-sub000/internal/models"
)

// Loader returns the active gigs of one subject from the authoritative store.
type Loader func(ctx context.Context) ([]models.Gig, error)

// snapshot is what readers see: an immutable view plus a position lookup.
type snapshot struct {
	view *models.RankView
	pos  map[uuid.UUID]int
}

// board owns one subject. Writers serialize on mu; readers load snap.
// removed keeps the last version seen for gigs taken off the board, so a
// stale active state cannot put them back.
type board struct {
	mu      sync.Mutex
	version uint64
	gigs    map[uuid.UUID]models.Gig
	removed map[uuid.UUID]int64
	snap    atomic.Pointer[snapshot]
}

// stale reports whether g is older than what the board already knows.
func (b *board) stale(g models.Gig) bool {
	if cur, ok := b.gigs[g.ID]; ok {
		return cur.Version > g.Version
	}
	if v, ok := b.removed[g.ID]; ok {
		return g.Active && v >= g.Version
	}
	return false
}

// drop takes a gig off the board, remembering the newest version known for it.
func (b *board) drop(id uuid.UUID, version int64) {
	if cur, ok := b.gigs[id]; ok && cur.Version > version {
		version = cur.Version
	}
	if v, ok := b.removed[id]; ok && v > version {
		version = v
	}
	delete(b.gigs, id)
	b.removed[id] = version
}

// Index keeps a ranked view per subject. Lookups are lock-free reads of the
// latest published snapshot; every write re-sorts the whole subject.
type Index struct {
	model Model
	clock clock.Clock

	mu     sync.RWMutex
	boards map[uuid.UUID]*board
	where  map[uuid.UUID]uuid.UUID // gig -> subject
}

func NewIndex(model Model, clk clock.Clock) *Index {
	if clk == nil {
		clk = clock.Real()
	}
	return &Index{
		model:  model,
		clock:  clk,
		boards: make(map[uuid.UUID]*board),
		where:  make(map[uuid.UUID]uuid.UUID),
	}
}

func (x *Index) Model() Model { return x.model }

func (x *Index) board(subjectID uuid.UUID, create bool) *board {
	x.mu.RLock()
	b := x.boards[subjectID]
	x.mu.RUnlock()
	if b != nil || !create {
		return b
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if b = x.boards[subjectID]; b == nil {
		b = &board{gigs: make(map[uuid.UUID]models.Gig), removed: make(map[uuid.UUID]int64)}
		b.snap.Store(&snapshot{
			view: &models.RankView{SubjectID: subjectID, Entries: []models.RankEntry{}, ComputedAt: x.clock.Now()},
			pos:  map[uuid.UUID]int{},
		})
		x.boards[subjectID] = b
	}
	return b
}

// publish re-sorts the board and swaps in a new snapshot. Caller holds b.mu.
func (x *Index) publish(subjectID uuid.UUID, b *board) {
	b.version++
	gigs := make([]models.Gig, 0, len(b.gigs))
	for _, g := range b.gigs {
		gigs = append(gigs, g)
	}
	view := buildView(x.model, subjectID, gigs, x.clock.Now(), b.version)
	pos := make(map[uuid.UUID]int, len(view.Entries))
	for _, e := range view.Entries {
		pos[e.GigID] = e.Position
	}
	b.snap.Store(&snapshot{view: view, pos: pos})
}

// Apply folds a gig's persisted state into its subject. States older than
// what the index already holds are ignored, so updates arriving out of order
// never undo a later commit. Inactive gigs are removed, and an active state
// no newer than the removal cannot bring them back.
func (x *Index) Apply(g models.Gig) {
	x.mu.RLock()
	prev, known := x.where[g.ID]
	x.mu.RUnlock()
	if known && prev != g.SubjectID {
		x.remove(prev, g.ID)
	}

	b := x.board(g.SubjectID, true)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stale(g) {
		return
	}
	if g.Active {
		b.gigs[g.ID] = g
		delete(b.removed, g.ID)
	} else {
		b.drop(g.ID, g.Version)
	}
	x.publish(g.SubjectID, b)

	x.mu.Lock()
	if g.Active {
		x.where[g.ID] = g.SubjectID
	} else if x.where[g.ID] == g.SubjectID {
		delete(x.where, g.ID)
	}
	x.mu.Unlock()
}

func (x *Index) remove(subjectID, gigID uuid.UUID) {
	b := x.board(subjectID, false)
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.gigs[gigID]; !ok {
		return
	}
	b.drop(gigID, 0)
	x.publish(subjectID, b)
}

// Rebuild replaces a subject's contents with what load returns. The load runs
// under the subject's writer lock, so any Apply for a store write that load
// did not observe lands afterwards.
func (x *Index) Rebuild(ctx context.Context, subjectID uuid.UUID, load Loader) error {
	b := x.board(subjectID, true)
	b.mu.Lock()
	defer b.mu.Unlock()

	gigs, err := load(ctx)
	if err != nil {
		return fmt.Errorf("load subject %s: %w", subjectID, err)
	}
	next := make(map[uuid.UUID]models.Gig, len(gigs))
	for _, g := range gigs {
		if !g.Active || g.SubjectID != subjectID {
			continue
		}
		next[g.ID] = g
	}
	dropped := make([]uuid.UUID, 0)
	for id := range b.gigs {
		if _, ok := next[id]; !ok {
			dropped = append(dropped, id)
		}
	}
	for _, id := range dropped {
		b.drop(id, 0)
	}
	for id := range next {
		delete(b.removed, id)
	}
	b.gigs = next
	x.publish(subjectID, b)

	x.mu.Lock()
	for _, id := range dropped {
		if x.where[id] == subjectID {
			delete(x.where, id)
		}
	}
	for id := range next {
		x.where[id] = subjectID
	}
	x.mu.Unlock()
	return nil
}

// GetRank returns the gig's standing with its score evaluated now.
// Gigs the index does not hold are reported as not active.
func (x *Index) GetRank(gigID uuid.UUID) (models.Standing, error) {
	x.mu.RLock()
	subjectID, ok := x.where[gigID]
	b := x.boards[subjectID]
	x.mu.RUnlock()
	if !ok || b == nil {
		return models.Standing{}, apperr.ErrGigNotActive
	}
	snap := b.snap.Load()
	pos, ok := snap.pos[gigID]
	if !ok {
		return models.Standing{}, apperr.ErrGigNotActive
	}
	e := snap.view.Entries[pos-1]
	return models.Standing{
		GigID:     gigID,
		SubjectID: subjectID,
		Rank:      pos,
		Total:     len(snap.view.Entries),
		Score:     x.model.ScoreAt(e.CumulativeBoostScore, e.LastBoostAt, x.clock.Now()),
	}, nil
}

// View returns the latest ranked view of a subject. Callers must not modify it.
func (x *Index) View(subjectID uuid.UUID) (*models.RankView, bool) {
	b := x.board(subjectID, false)
	if b == nil {
		return nil, false
	}
	return b.snap.Load().view, true
}

// ViewOf returns the view of the subject holding gigID.
func (x *Index) ViewOf(gigID uuid.UUID) (*models.RankView, bool) {
	x.mu.RLock()
	subjectID, ok := x.where[gigID]
	x.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return x.View(subjectID)
}

// Subjects lists every subject that has a board.
func (x *Index) Subjects() []uuid.UUID {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]uuid.UUID, 0, len(x.boards))
	for id := range x.boards {
		out = append(out, id)
	}
	return out
}
