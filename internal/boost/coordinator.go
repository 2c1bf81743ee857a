// Package boost spends an account's points on a gig's visibility. A boost is
// a durable record that moves through validated, debited and committed; a
// failure after the debit refunds the points under the same reference id and
// ends in rolled_back.
package boost

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AkibHossainOmi/TutorMove-sub000/internal/apperr"
	"github.com/AkibHossainOmi/TutorMove-sub000/internal/clock"
	"github.com/AkibHossainOmi/TutorMove-sub000/internal/events"
	"github.com/AkibHossainOmi/TutorMove-sub000/internal/models"
	"github.com/AkibHossainOmi/TutorMove-sub000/internal/ranking"
)

const (
	maxReferenceLen = 128
	recoverBatch    = 100
)

// Ledger is the subset of the ledger service the coordinator spends through.
type Ledger interface {
	Debit(ctx context.Context, accountID uuid.UUID, amount int64, reason models.LedgerReason, referenceID string) (int64, error)
	Credit(ctx context.Context, accountID uuid.UUID, amount int64, reason models.LedgerReason, referenceID string) (int64, error)
	GetBalance(ctx context.Context, accountID uuid.UUID) (int64, error)
	Lookup(ctx context.Context, accountID uuid.UUID, reason models.LedgerReason, referenceID string) (*models.LedgerEntry, error)
}

// Store persists boost records and applies committed scores.
//
// TransitionBoost moves a record to `to` only if its state is one of `from`;
// otherwise it returns the current record with apperr.ErrStateConflict.
// CommitBoost writes the gig's new score and marks the boost committed in one
// transaction, failing with ErrConcurrentModification when the gig's version
// moved and ErrStateConflict when the boost is no longer committable.
type Store interface {
	GetGig(ctx context.Context, id uuid.UUID) (*models.Gig, error)
	CreateBoost(ctx context.Context, b *models.Boost) (stored *models.Boost, created bool, err error)
	GetBoost(ctx context.Context, referenceID string) (*models.Boost, error)
	TransitionBoost(ctx context.Context, referenceID string, to models.BoostState, from []models.BoostState, reason string) (*models.Boost, error)
	CommitBoost(ctx context.Context, referenceID string, g *models.Gig, expectedVersion int64, balanceAfter int64) (*models.Gig, error)
	ListStaleBoosts(ctx context.Context, before time.Time, limit int) ([]*models.Boost, error)
}

// Ranker is the ranking index as the coordinator sees it.
type Ranker interface {
	Apply(g models.Gig)
	GetRank(gigID uuid.UUID) (models.Standing, error)
	Model() ranking.Model
}

type Config struct {
	// MaxRetries bounds score commits lost to concurrent writers.
	MaxRetries      int
	InitialInterval time.Duration
	// RecoveryGrace is how long a record may sit in flight before Recover
	// treats it as abandoned.
	RecoveryGrace time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = 10 * time.Millisecond
	}
	if c.RecoveryGrace <= 0 {
		c.RecoveryGrace = time.Minute
	}
	return c
}

type Request struct {
	AccountID   uuid.UUID
	GigID       uuid.UUID
	Points      int64
	ReferenceID string
}

type Coordinator struct {
	ledger    Ledger
	store     Store
	ranker    Ranker
	publisher events.Publisher
	clock     clock.Clock
	logger    *slog.Logger
	cfg       Config
}

func NewCoordinator(ledger Ledger, store Store, ranker Ranker, publisher events.Publisher, clk clock.Clock, logger *slog.Logger, cfg Config) *Coordinator {
	if publisher == nil {
		publisher = events.Nop{}
	}
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		ledger:    ledger,
		store:     store,
		ranker:    ranker,
		publisher: publisher,
		clock:     clk,
		logger:    logger.With("component", "BoostCoordinator"),
		cfg:       cfg.withDefaults(),
	}
}

// BoostGig debits req.Points from the account and adds them to the gig's
// score. Calls are idempotent per reference id: a replay of a committed boost
// returns its original balance, a replay of a rolled-back boost returns
// ErrBoostRolledBack, and an in-flight one is driven to completion.
func (c *Coordinator) BoostGig(ctx context.Context, req Request) (*models.BoostResult, error) {
	ctx, span := otel.Tracer("boost").Start(ctx, "boost.BoostGig")
	defer span.End()
	span.SetAttributes(
		attribute.String("account_id", req.AccountID.String()),
		attribute.String("gig_id", req.GigID.String()),
		attribute.Int64("points", req.Points),
		attribute.String("reference_id", req.ReferenceID),
	)

	res, err := c.boost(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, apperr.Code(err))
		return nil, err
	}
	span.SetAttributes(attribute.Int("new_rank", res.NewRank))
	return res, nil
}

func (c *Coordinator) boost(ctx context.Context, req Request) (*models.BoostResult, error) {
	if req.Points <= 0 {
		return nil, c.decorate(ctx, req.AccountID, req.GigID,
			fmt.Errorf("%w: points must be > 0", apperr.ErrInvalidBoost))
	}
	req.ReferenceID = strings.TrimSpace(req.ReferenceID)
	if req.ReferenceID == "" || len(req.ReferenceID) > maxReferenceLen {
		return nil, c.decorate(ctx, req.AccountID, req.GigID,
			fmt.Errorf("%w: reference id must be 1-%d bytes", apperr.ErrInvalidBoost, maxReferenceLen))
	}

	existing, err := c.store.GetBoost(ctx, req.ReferenceID)
	switch {
	case err == nil:
		return c.replay(ctx, existing, req)
	case !errors.Is(err, apperr.ErrNotFound):
		return nil, fmt.Errorf("load boost %s: %w", req.ReferenceID, err)
	}

	gig, err := c.admit(ctx, req)
	if err != nil {
		return nil, err
	}
	rec, created, err := c.store.CreateBoost(ctx, &models.Boost{
		ReferenceID: req.ReferenceID,
		AccountID:   req.AccountID,
		GigID:       req.GigID,
		SubjectID:   gig.SubjectID,
		Points:      req.Points,
		State:       models.BoostValidated,
	})
	if err != nil {
		return nil, fmt.Errorf("create boost %s: %w", req.ReferenceID, err)
	}
	if !created {
		return c.replay(ctx, rec, req)
	}
	return c.drive(ctx, rec)
}

// admit checks the target gig exists and is active.
func (c *Coordinator) admit(ctx context.Context, req Request) (*models.Gig, error) {
	gig, err := c.store.GetGig(ctx, req.GigID)
	if err != nil {
		return nil, c.decorate(ctx, req.AccountID, uuid.Nil, err)
	}
	if !gig.Active {
		return nil, c.decorate(ctx, req.AccountID, uuid.Nil, apperr.ErrGigNotActive)
	}
	return gig, nil
}

func (c *Coordinator) replay(ctx context.Context, rec *models.Boost, req Request) (*models.BoostResult, error) {
	if !rec.SameRequest(&models.Boost{AccountID: req.AccountID, GigID: req.GigID, Points: req.Points}) {
		return nil, c.decorate(ctx, req.AccountID, req.GigID,
			fmt.Errorf("%w: %s", apperr.ErrReferenceConflict, req.ReferenceID))
	}
	c.logger.Info("boost replay", "reference_id", rec.ReferenceID, "state", rec.State)

	switch rec.State {
	case models.BoostCommitted:
		return c.result(ctx, rec)
	case models.BoostRolledBack:
		return nil, c.decorate(ctx, rec.AccountID, rec.GigID, rolledBack(rec.FailureReason))
	case models.BoostCompensating:
		return c.compensate(ctx, rec, errors.New(rec.FailureReason))
	case models.BoostAborted:
		if _, err := c.admit(ctx, req); err != nil {
			return nil, err
		}
		next, err := c.store.TransitionBoost(ctx, rec.ReferenceID, models.BoostValidated, []models.BoostState{models.BoostAborted}, "")
		if errors.Is(err, apperr.ErrStateConflict) && next.State != models.BoostAborted {
			return c.replay(ctx, next, req)
		}
		if err != nil {
			return nil, fmt.Errorf("reopen boost %s: %w", rec.ReferenceID, err)
		}
		return c.drive(ctx, next)
	default:
		return c.drive(ctx, rec)
	}
}

// drive takes a validated or debited record to a terminal state.
func (c *Coordinator) drive(ctx context.Context, rec *models.Boost) (*models.BoostResult, error) {
	balance, err := c.ledger.Debit(ctx, rec.AccountID, rec.Points, models.ReasonBoostSpend, rec.ReferenceID)
	if err != nil {
		if rec.State == models.BoostValidated && definitive(err) {
			return nil, c.abort(ctx, rec, err)
		}
		return nil, c.decorate(ctx, rec.AccountID, rec.GigID, err)
	}

	// The debit is durable. From here on the caller going away must not
	// strand the points, so the remaining steps ignore cancellation.
	ctx = context.WithoutCancel(ctx)

	if rec.State == models.BoostValidated {
		next, err := c.store.TransitionBoost(ctx, rec.ReferenceID, models.BoostDebited, sourcesOf(models.BoostDebited), "")
		switch {
		case errors.Is(err, apperr.ErrStateConflict):
			return c.afterConflict(ctx, next)
		case err != nil:
			return c.compensate(ctx, rec, fmt.Errorf("mark debited: %w", err))
		}
		rec = next
	}

	gig, err := c.commitScore(ctx, rec, balance)
	if err != nil {
		if errors.Is(err, apperr.ErrStateConflict) {
			cur, gerr := c.store.GetBoost(ctx, rec.ReferenceID)
			if gerr != nil {
				return nil, fmt.Errorf("reload boost %s: %w", rec.ReferenceID, gerr)
			}
			return c.afterConflict(ctx, cur)
		}
		return c.compensate(ctx, rec, err)
	}

	c.ranker.Apply(*gig)
	standing, err := c.ranker.GetRank(gig.ID)
	if err != nil {
		return nil, fmt.Errorf("rank gig %s: %w", gig.ID, err)
	}
	c.logger.Info("boost committed",
		"reference_id", rec.ReferenceID, "account_id", rec.AccountID, "gig_id", rec.GigID,
		"points", rec.Points, "new_rank", standing.Rank, "new_total", standing.Total, "new_balance", balance)
	c.publish(ctx, events.Event{
		Type:        events.TypeBoostCommitted,
		ReferenceID: rec.ReferenceID,
		AccountID:   rec.AccountID,
		GigID:       rec.GigID,
		SubjectID:   gig.SubjectID,
		Points:      rec.Points,
		NewRank:     standing.Rank,
		NewTotal:    standing.Total,
	})
	return &models.BoostResult{NewRank: standing.Rank, NewTotal: standing.Total, NewBalance: balance}, nil
}

// commitScore re-reads the gig and commits the boosted score against the
// version it read. Losing to a concurrent writer re-reads and retries with
// backoff; every other failure ends the attempt.
func (c *Coordinator) commitScore(ctx context.Context, rec *models.Boost, balance int64) (*models.Gig, error) {
	model := c.ranker.Model()
	op := func() (*models.Gig, error) {
		gig, err := c.store.GetGig(ctx, rec.GigID)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		if !gig.Active {
			return nil, backoff.Permanent(apperr.ErrGigNotActive)
		}
		boosted := model.Boosted(*gig, rec.Points, c.clock.Now())
		out, err := c.store.CommitBoost(ctx, rec.ReferenceID, &boosted, gig.Version, balance)
		if errors.Is(err, apperr.ErrConcurrentModification) {
			c.logger.Debug("score commit lost race, retrying", "reference_id", rec.ReferenceID, "gig_id", rec.GigID)
			return nil, err
		}
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		return out, nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.InitialInterval
	b.MaxInterval = 50 * c.cfg.InitialInterval
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(c.cfg.MaxRetries)),
	)
}

// afterConflict resolves a record some other caller moved first.
func (c *Coordinator) afterConflict(ctx context.Context, rec *models.Boost) (*models.BoostResult, error) {
	switch rec.State {
	case models.BoostCommitted:
		return c.result(ctx, rec)
	case models.BoostDebited:
		return c.drive(ctx, rec)
	case models.BoostCompensating:
		return c.compensate(ctx, rec, errors.New(rec.FailureReason))
	default:
		// aborted after our debit landed, or already rolled back.
		return c.compensate(ctx, rec, rolledBack(rec.FailureReason))
	}
}

// abort records a failure that happened before any points moved.
func (c *Coordinator) abort(ctx context.Context, rec *models.Boost, cause error) error {
	if _, err := c.store.TransitionBoost(ctx, rec.ReferenceID, models.BoostAborted, sourcesOf(models.BoostAborted), cause.Error()); err != nil &&
		!errors.Is(err, apperr.ErrStateConflict) {
		c.logger.Error("abort boost", "reference_id", rec.ReferenceID, "error", err)
	}
	c.logger.Info("boost aborted", "reference_id", rec.ReferenceID, "account_id", rec.AccountID, "reason", cause.Error())
	return c.decorate(ctx, rec.AccountID, rec.GigID, cause)
}

// compensate refunds a debited boost under its own reference id and marks it
// rolled back. The returned error is what the caller sees. If the record turns
// out to be committed, its result is returned instead.
func (c *Coordinator) compensate(ctx context.Context, rec *models.Boost, cause error) (*models.BoostResult, error) {
	ctx = context.WithoutCancel(ctx)
	reason := "rolled back"
	if cause != nil && cause.Error() != "" {
		reason = cause.Error()
	}

	finished := false
	cur, err := c.store.TransitionBoost(ctx, rec.ReferenceID, models.BoostCompensating, sourcesOf(models.BoostCompensating), reason)
	if errors.Is(err, apperr.ErrStateConflict) {
		switch cur.State {
		case models.BoostCommitted:
			// The score landed after all; the debit stands.
			return c.result(ctx, cur)
		case models.BoostRolledBack:
			finished = true
			fallthrough
		case models.BoostCompensating:
			if cur.FailureReason != "" {
				reason = cur.FailureReason
			}
		default:
			return nil, fmt.Errorf("compensate boost %s from %s: %w", rec.ReferenceID, cur.State, err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("mark compensating %s: %w", rec.ReferenceID, err)
	}

	// A refund is only owed if the debit exists.
	if _, err := c.ledger.Lookup(ctx, rec.AccountID, models.ReasonBoostSpend, rec.ReferenceID); err == nil {
		if _, err := c.ledger.Credit(ctx, rec.AccountID, rec.Points, models.ReasonRefund, rec.ReferenceID); err != nil {
			c.logger.Error("refund failed; boost left compensating", "reference_id", rec.ReferenceID, "error", err)
			return nil, fmt.Errorf("refund boost %s: %w", rec.ReferenceID, err)
		}
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return nil, fmt.Errorf("lookup debit %s: %w", rec.ReferenceID, err)
	}

	if finished {
		return nil, c.decorate(ctx, rec.AccountID, rec.GigID, rolledBack(reason))
	}
	if _, err := c.store.TransitionBoost(ctx, rec.ReferenceID, models.BoostRolledBack, sourcesOf(models.BoostRolledBack), ""); err != nil &&
		!errors.Is(err, apperr.ErrStateConflict) {
		return nil, fmt.Errorf("mark rolled back %s: %w", rec.ReferenceID, err)
	}

	c.logger.Warn("boost rolled back", "reference_id", rec.ReferenceID, "account_id", rec.AccountID,
		"gig_id", rec.GigID, "points", rec.Points, "reason", reason)
	c.publish(ctx, events.Event{
		Type:        events.TypeBoostRolledBack,
		ReferenceID: rec.ReferenceID,
		AccountID:   rec.AccountID,
		GigID:       rec.GigID,
		SubjectID:   rec.SubjectID,
		Points:      rec.Points,
		Reason:      reason,
	})

	// Typed causes such as an inactive gig reach the caller as themselves.
	if cause == nil || apperr.Code(cause) == "internal_error" {
		cause = rolledBack(reason)
	}
	return nil, c.decorate(ctx, rec.AccountID, rec.GigID, cause)
}

// result rebuilds the response for a committed record.
func (c *Coordinator) result(ctx context.Context, rec *models.Boost) (*models.BoostResult, error) {
	out := &models.BoostResult{}
	if rec.BalanceAfter != nil {
		out.NewBalance = *rec.BalanceAfter
	} else {
		bal, err := c.ledger.GetBalance(ctx, rec.AccountID)
		if err != nil {
			return nil, err
		}
		out.NewBalance = bal
	}
	if st, err := c.ranker.GetRank(rec.GigID); err == nil {
		out.NewRank, out.NewTotal = st.Rank, st.Total
	}
	return out, nil
}

// decorate attaches the account's balance and the gig's rank to err so the
// client can reconcile without another round trip. Lookups that fail are
// skipped.
func (c *Coordinator) decorate(ctx context.Context, accountID, gigID uuid.UUID, err error) error {
	if err == nil {
		return nil
	}
	if gigID != uuid.Nil {
		if st, rerr := c.ranker.GetRank(gigID); rerr == nil {
			err = apperr.WithRank(err, st.Rank, st.Total)
		}
	}
	if accountID != uuid.Nil {
		if bal, berr := c.ledger.GetBalance(ctx, accountID); berr == nil {
			err = apperr.WithBalance(err, bal)
		}
	}
	return err
}

func (c *Coordinator) publish(ctx context.Context, e events.Event) {
	e.At = c.clock.Now()
	if err := c.publisher.Publish(ctx, e); err != nil {
		c.logger.Warn("publish event", "type", e.Type, "reference_id", e.ReferenceID, "error", err)
	}
}

// Recover drives boosts that have been in flight for longer than the grace
// period, typically because the process handling them died. A validated
// record whose debit never happened is aborted; anything else is finished or
// compensated. It returns the number of records resolved.
func (c *Coordinator) Recover(ctx context.Context) (int, error) {
	before := c.clock.Now().Add(-c.cfg.RecoveryGrace)
	stale, err := c.store.ListStaleBoosts(ctx, before, recoverBatch)
	if err != nil {
		return 0, fmt.Errorf("list stale boosts: %w", err)
	}
	resolved := 0
	for _, rec := range stale {
		if err := ctx.Err(); err != nil {
			return resolved, err
		}
		if err := c.recoverOne(ctx, rec); err != nil {
			c.logger.Error("recover boost", "reference_id", rec.ReferenceID, "state", rec.State, "error", err)
			continue
		}
		resolved++
	}
	if resolved > 0 {
		c.logger.Info("recovered stale boosts", "count", resolved, "found", len(stale))
	}
	return resolved, nil
}

func (c *Coordinator) recoverOne(ctx context.Context, rec *models.Boost) error {
	switch rec.State {
	case models.BoostValidated:
		_, err := c.ledger.Lookup(ctx, rec.AccountID, models.ReasonBoostSpend, rec.ReferenceID)
		if errors.Is(err, apperr.ErrNotFound) {
			_, terr := c.store.TransitionBoost(ctx, rec.ReferenceID, models.BoostAborted,
				[]models.BoostState{models.BoostValidated}, "abandoned before debit")
			if errors.Is(terr, apperr.ErrStateConflict) {
				return nil
			}
			return terr
		}
		if err != nil {
			return err
		}
	case models.BoostCompensating:
		_, err := c.compensate(ctx, rec, errors.New(rec.FailureReason))
		return ignoreOutcome(err)
	}
	_, err := c.drive(ctx, rec)
	return ignoreOutcome(err)
}

// ignoreOutcome drops the errors that describe a resolved boost rather than a
// failure to resolve it.
func ignoreOutcome(err error) error {
	if err == nil || errors.Is(err, apperr.ErrBoostRolledBack) {
		return nil
	}
	for _, target := range []error{apperr.ErrGigNotActive, apperr.ErrInsufficientFunds, apperr.ErrSpendLimit, apperr.ErrNotFound, apperr.ErrConcurrentModification} {
		if errors.Is(err, target) {
			return nil
		}
	}
	return err
}

// definitive reports whether a debit failure means no points moved and no
// retry of the same request can succeed as-is.
func definitive(err error) bool {
	return errors.Is(err, apperr.ErrInsufficientFunds) ||
		errors.Is(err, apperr.ErrSpendLimit) ||
		errors.Is(err, apperr.ErrNotFound) ||
		errors.Is(err, apperr.ErrReferenceConflict) ||
		errors.Is(err, apperr.ErrInvalidAmount)
}

func rolledBack(reason string) error {
	if reason == "" {
		return apperr.ErrBoostRolledBack
	}
	return fmt.Errorf("%w: %s", apperr.ErrBoostRolledBack, reason)
}
