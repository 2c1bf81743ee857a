// Package memstore is an in-process implementation of the ledger, gig, boost
// and API key stores. It backs STORE_DRIVER=memory and tests that need real
// concurrent semantics without Postgres. A single mutex serializes all
// writes, which preserves every per-account and per-gig guarantee.
package memstore

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AkibHossainOmi/TutorMove-sub000/internal/apperr"
	"github.com/AkibHossainOmi/TutorMove-sub000/internal/clock"
	"github.com/AkibHossainOmi/TutorMove-sub000/internal/models"
)

type refKey struct {
	account   uuid.UUID
	reason    models.LedgerReason
	reference string
}

type Store struct {
	clock clock.Clock

	mu       sync.Mutex
	accounts map[uuid.UUID]*models.Account
	entries  map[uuid.UUID][]*models.LedgerEntry
	byRef    map[refKey]*models.LedgerEntry
	subjects map[uuid.UUID]models.Subject
	gigs     map[uuid.UUID]*models.Gig
	boosts   map[string]*models.Boost
	keys     map[string]*models.APIKey
}

func New(clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.Real()
	}
	return &Store{
		clock:    clk,
		accounts: make(map[uuid.UUID]*models.Account),
		entries:  make(map[uuid.UUID][]*models.LedgerEntry),
		byRef:    make(map[refKey]*models.LedgerEntry),
		subjects: make(map[uuid.UUID]models.Subject),
		gigs:     make(map[uuid.UUID]*models.Gig),
		boosts:   make(map[string]*models.Boost),
		keys:     make(map[string]*models.APIKey),
	}
}

// ---------------------------------------------------------------------------
// Seeding
// ---------------------------------------------------------------------------

// CreateAccount registers an account with a zero balance. Existing accounts
// are left untouched.
func (s *Store) CreateAccount(id uuid.UUID) *models.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.accounts[id]; ok {
		cp := *a
		return &cp
	}
	now := s.clock.Now()
	a := &models.Account{ID: id, CreatedAt: now, UpdatedAt: now}
	s.accounts[id] = a
	cp := *a
	return &cp
}

func (s *Store) PutSubject(sub models.Subject) {
	s.mu.Lock()
	s.subjects[sub.ID] = sub
	s.mu.Unlock()
}

// PutGig inserts or replaces a gig row as gig-CRUD would.
func (s *Store) PutGig(g models.Gig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g.UpdatedAt.IsZero() {
		g.UpdatedAt = s.clock.Now()
	}
	s.gigs[g.ID] = &g
}

func (s *Store) AddAPIKey(k models.APIKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k.CreatedAt.IsZero() {
		k.CreatedAt = s.clock.Now()
	}
	s.keys[k.KeyHash] = &k
}

// ---------------------------------------------------------------------------
// Ledger
// ---------------------------------------------------------------------------

func (s *Store) Apply(_ context.Context, e *models.LedgerEntry, limit *models.SpendCap) (*models.LedgerEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[e.AccountID]
	if !ok {
		return nil, false, fmt.Errorf("account %s: %w", e.AccountID, apperr.ErrNotFound)
	}
	key := refKey{e.AccountID, e.Reason, e.ReferenceID}
	if prior, ok := s.byRef[key]; ok {
		cp := *prior
		return &cp, true, nil
	}
	if limit != nil {
		if spent := s.spentSince(e.AccountID, limit.Reason, limit.Since); spent-e.Delta > limit.Limit {
			return nil, false, apperr.WithBalance(
				fmt.Errorf("%w: spent %d of %d", apperr.ErrSpendLimit, spent, limit.Limit), acc.Balance)
		}
	}
	if e.Delta > 0 && acc.Balance > math.MaxInt64-e.Delta {
		return nil, false, fmt.Errorf("%w: credit of %d overflows balance", apperr.ErrInvalidAmount, e.Delta)
	}
	if acc.Balance+e.Delta < 0 {
		return nil, false, apperr.InsufficientFunds(acc.Balance, -e.Delta)
	}

	now := s.clock.Now()
	acc.Balance += e.Delta
	acc.Version++
	acc.UpdatedAt = now

	stored := *e
	stored.BalanceAfter = acc.Balance
	stored.CreatedAt = now
	s.entries[e.AccountID] = append(s.entries[e.AccountID], &stored)
	s.byRef[key] = &stored

	out := stored
	return &out, false, nil
}

func (s *Store) Balance(_ context.Context, accountID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[accountID]
	if !ok {
		return 0, fmt.Errorf("account %s: %w", accountID, apperr.ErrNotFound)
	}
	return acc.Balance, nil
}

func (s *Store) Lookup(_ context.Context, accountID uuid.UUID, reason models.LedgerReason, referenceID string) (*models.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byRef[refKey{accountID, reason, referenceID}]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (s *Store) History(_ context.Context, accountID uuid.UUID, limit int) ([]*models.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[accountID]; !ok {
		return nil, fmt.Errorf("account %s: %w", accountID, apperr.ErrNotFound)
	}
	all := s.entries[accountID]
	out := make([]*models.LedgerEntry, 0, min(limit, len(all)))
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		cp := *all[i]
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Store) SpentSince(_ context.Context, accountID uuid.UUID, reason models.LedgerReason, since time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spentSince(accountID, reason, since), nil
}

// spentSince requires s.mu.
func (s *Store) spentSince(accountID uuid.UUID, reason models.LedgerReason, since time.Time) int64 {
	var total int64
	for _, e := range s.entries[accountID] {
		if e.Reason == reason && e.Delta < 0 && !e.CreatedAt.Before(since) {
			total -= e.Delta
		}
	}
	return total
}

func (s *Store) Reconcile(context.Context) ([]models.Discrepancy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Discrepancy{}
	for id, acc := range s.accounts {
		var sum int64
		for _, e := range s.entries[id] {
			sum += e.Delta
		}
		if sum != acc.Balance {
			out = append(out, models.Discrepancy{AccountID: id, Balance: acc.Balance, EntriesSum: sum})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID.String() < out[j].AccountID.String() })
	return out, nil
}

// ---------------------------------------------------------------------------
// Gigs
// ---------------------------------------------------------------------------

func (s *Store) GetGig(_ context.Context, id uuid.UUID) (*models.Gig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.gigs[id]
	if !ok {
		return nil, fmt.Errorf("gig %s: %w", id, apperr.ErrNotFound)
	}
	cp := *g
	return &cp, nil
}

func (s *Store) ListActiveSubjects(context.Context) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[uuid.UUID]struct{})
	out := []uuid.UUID{}
	for _, g := range s.gigs {
		if !g.Active {
			continue
		}
		if _, ok := seen[g.SubjectID]; !ok {
			seen[g.SubjectID] = struct{}{}
			out = append(out, g.SubjectID)
		}
	}
	return out, nil
}

func (s *Store) ListActiveBySubject(_ context.Context, subjectID uuid.UUID) ([]models.Gig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Gig{}
	for _, g := range s.gigs {
		if g.Active && g.SubjectID == subjectID {
			out = append(out, *g)
		}
	}
	return out, nil
}

// SetGigActive mirrors GigRepo.SetGigActive: reactivation resets the score.
func (s *Store) SetGigActive(_ context.Context, id uuid.UUID, active bool, at time.Time) (*models.Gig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.gigs[id]
	if !ok {
		return nil, fmt.Errorf("gig %s: %w", id, apperr.ErrNotFound)
	}
	if g.Active != active {
		if active {
			g.CumulativeBoostScore = 0
			g.LastBoostAt = at
		}
		g.Active = active
		g.Version++
		g.UpdatedAt = s.clock.Now()
	}
	cp := *g
	return &cp, nil
}

// ---------------------------------------------------------------------------
// Boost records
// ---------------------------------------------------------------------------

func (s *Store) CreateBoost(_ context.Context, b *models.Boost) (*models.Boost, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.boosts[b.ReferenceID]; ok {
		cp := *existing
		return &cp, false, nil
	}
	now := s.clock.Now()
	stored := *b
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.boosts[b.ReferenceID] = &stored
	cp := stored
	return &cp, true, nil
}

func (s *Store) GetBoost(_ context.Context, referenceID string) (*models.Boost, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.boosts[referenceID]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (s *Store) TransitionBoost(_ context.Context, referenceID string, to models.BoostState, from []models.BoostState, reason string) (*models.Boost, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.boosts[referenceID]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	if !slices.Contains(from, b.State) {
		cp := *b
		return &cp, fmt.Errorf("%w: %s is %s", apperr.ErrStateConflict, referenceID, b.State)
	}
	b.State = to
	if reason != "" {
		b.FailureReason = reason
	}
	b.UpdatedAt = s.clock.Now()
	cp := *b
	return &cp, nil
}

func (s *Store) CommitBoost(_ context.Context, referenceID string, g *models.Gig, expectedVersion int64, balanceAfter int64) (*models.Gig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.boosts[referenceID]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	if b.State != models.BoostValidated && b.State != models.BoostDebited {
		return nil, fmt.Errorf("%w: %s is %s", apperr.ErrStateConflict, referenceID, b.State)
	}
	cur, ok := s.gigs[g.ID]
	switch {
	case !ok:
		return nil, apperr.ErrNotFound
	case !cur.Active:
		return nil, apperr.ErrGigNotActive
	case cur.Version != expectedVersion:
		return nil, apperr.ErrConcurrentModification
	}
	now := s.clock.Now()
	cur.CumulativeBoostScore = g.CumulativeBoostScore
	cur.LastBoostAt = g.LastBoostAt
	cur.Version++
	cur.UpdatedAt = now

	b.State = models.BoostCommitted
	bal := balanceAfter
	b.BalanceAfter = &bal
	b.UpdatedAt = now

	cp := *cur
	return &cp, nil
}

func (s *Store) ListStaleBoosts(_ context.Context, before time.Time, limit int) ([]*models.Boost, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*models.Boost{}
	for _, b := range s.boosts {
		switch b.State {
		case models.BoostValidated, models.BoostDebited, models.BoostCompensating:
		default:
			continue
		}
		if b.UpdatedAt.Before(before) {
			cp := *b
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// API keys
// ---------------------------------------------------------------------------

func (s *Store) FindByKeyHash(_ context.Context, keyHash string) (*models.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[keyHash]
	if !ok || !k.IsActive {
		return nil, apperr.ErrNotFound
	}
	cp := *k
	return &cp, nil
}
