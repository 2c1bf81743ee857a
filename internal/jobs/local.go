package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/riverqueue/river"
	"golang.org/x/sync/errgroup"
)

// RunLocal runs the periodic workers on in-process tickers until ctx is done.
// It stands in for River when the engine runs without Postgres.
func RunLocal(ctx context.Context, iv Intervals, s Sweeper, r Recoverer, c Reconciler, logger *slog.Logger) error {
	logger = orDefault(logger)
	sweep := NewDecaySweepWorker(s, logger)
	recovery := NewBoostRecoveryWorker(r, logger)
	reconcile := NewReconcileWorker(c, logger)

	g, ctx := errgroup.WithContext(ctx)
	every(ctx, g, iv.DecaySweep, logger, "decay_sweep", func(ctx context.Context) error {
		return sweep.Work(ctx, &river.Job[DecaySweepArgs]{})
	})
	every(ctx, g, iv.BoostRecovery, logger, "boost_recovery", func(ctx context.Context) error {
		return recovery.Work(ctx, &river.Job[BoostRecoveryArgs]{})
	})
	every(ctx, g, iv.Reconcile, logger, "ledger_reconcile", func(ctx context.Context) error {
		return reconcile.Work(ctx, &river.Job[ReconcileArgs]{})
	})
	return g.Wait()
}

func every(ctx context.Context, g *errgroup.Group, interval time.Duration, logger *slog.Logger, kind string, run func(context.Context) error) {
	if interval <= 0 {
		return
	}
	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			if err := run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("periodic job failed", "kind", kind, "error", err)
			}
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	})
}
