// Package jobs runs the engine's background maintenance as River workers:
// the decay sweep, boost recovery and ledger reconciliation.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/riverqueue/river"

	"github.com/AkibHossainOmi/TutorMove-sub000/internal/models"
)

type DecaySweepArgs struct{}

func (DecaySweepArgs) Kind() string { return "decay_sweep" }

type BoostRecoveryArgs struct{}

func (BoostRecoveryArgs) Kind() string { return "boost_recovery" }

type ReconcileArgs struct{}

func (ReconcileArgs) Kind() string { return "ledger_reconcile" }

// Sweeper rebuilds every subject's ranking from the store.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// Recoverer drives stale non-terminal boosts to a terminal state.
type Recoverer interface {
	Recover(ctx context.Context) (int, error)
}

type Reconciler interface {
	Reconcile(ctx context.Context) ([]models.Discrepancy, error)
}

// DecaySweepWorker re-evaluates decayed scores and picks up activation
// changes made by other processes.
type DecaySweepWorker struct {
	river.WorkerDefaults[DecaySweepArgs]
	sweeper Sweeper
	logger  *slog.Logger
}

func NewDecaySweepWorker(s Sweeper, logger *slog.Logger) *DecaySweepWorker {
	return &DecaySweepWorker{sweeper: s, logger: orDefault(logger)}
}

func (w *DecaySweepWorker) Work(ctx context.Context, _ *river.Job[DecaySweepArgs]) error {
	n, err := w.sweeper.Sweep(ctx)
	if err != nil {
		return fmt.Errorf("decay sweep: %w", err)
	}
	w.logger.Debug("decay sweep complete", "subjects", n)
	return nil
}

func (w *DecaySweepWorker) Timeout(*river.Job[DecaySweepArgs]) time.Duration { return time.Minute }

type BoostRecoveryWorker struct {
	river.WorkerDefaults[BoostRecoveryArgs]
	recoverer Recoverer
	logger    *slog.Logger
}

func NewBoostRecoveryWorker(r Recoverer, logger *slog.Logger) *BoostRecoveryWorker {
	return &BoostRecoveryWorker{recoverer: r, logger: orDefault(logger)}
}

// Work fails only when the stale boosts cannot be listed. A boost that fails
// to resolve is logged by the coordinator and picked up by the next run.
func (w *BoostRecoveryWorker) Work(ctx context.Context, _ *river.Job[BoostRecoveryArgs]) error {
	n, err := w.recoverer.Recover(ctx)
	if n > 0 {
		w.logger.Info("recovered stale boosts", "count", n)
	}
	if err != nil {
		return fmt.Errorf("boost recovery: %w", err)
	}
	return nil
}

// ReconcileWorker checks every balance against the sum of its entries. A
// discrepancy is logged at error level; it never fails the job.
type ReconcileWorker struct {
	river.WorkerDefaults[ReconcileArgs]
	reconciler Reconciler
	logger     *slog.Logger
}

func NewReconcileWorker(r Reconciler, logger *slog.Logger) *ReconcileWorker {
	return &ReconcileWorker{reconciler: r, logger: orDefault(logger)}
}

func (w *ReconcileWorker) Work(ctx context.Context, _ *river.Job[ReconcileArgs]) error {
	found, err := w.reconciler.Reconcile(ctx)
	if err != nil {
		return fmt.Errorf("ledger reconcile: %w", err)
	}
	for _, d := range found {
		w.logger.Error("ledger discrepancy",
			"account_id", d.AccountID, "balance", d.Balance, "entries_sum", d.EntriesSum)
	}
	return nil
}

// Intervals configures the periodic schedule. Zero disables a job.
type Intervals struct {
	DecaySweep    time.Duration
	BoostRecovery time.Duration
	Reconcile     time.Duration
}

// Register adds the three workers to workers.
func Register(workers *river.Workers, s Sweeper, r Recoverer, c Reconciler, logger *slog.Logger) {
	river.AddWorker(workers, NewDecaySweepWorker(s, logger))
	river.AddWorker(workers, NewBoostRecoveryWorker(r, logger))
	river.AddWorker(workers, NewReconcileWorker(c, logger))
}

// PeriodicJobs returns the River schedule for the configured intervals.
func PeriodicJobs(iv Intervals) []*river.PeriodicJob {
	var out []*river.PeriodicJob
	add := func(every time.Duration, args river.JobArgs) {
		if every <= 0 {
			return
		}
		out = append(out, river.NewPeriodicJob(
			river.PeriodicInterval(every),
			func() (river.JobArgs, *river.InsertOpts) {
				return args, &river.InsertOpts{MaxAttempts: 3}
			},
			&river.PeriodicJobOpts{RunOnStart: true},
		))
	}
	add(iv.DecaySweep, DecaySweepArgs{})
	add(iv.BoostRecovery, BoostRecoveryArgs{})
	add(iv.Reconcile, ReconcileArgs{})
	return out
}

func orDefault(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}
