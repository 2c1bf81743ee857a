// pointsctl is the operator CLI for the points ledger and gig visibility
// engine. It talks to Postgres directly.
//
// Usage:
//
//	pointsctl <command> [flags]
//
// Commands: reconcile, grant, balance, history, accounts, apikey, gig.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/AkibHossainOmi/TutorMove-sub000/internal/config"
	"github.com/AkibHossainOmi/TutorMove-sub000/internal/ledger"
	"github.com/AkibHossainOmi/TutorMove-sub000/internal/repository"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, errDiscrepancies) {
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}
}

func run(args []string, out io.Writer) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printUsage(out)
		return nil
	}
	cmd, ok := commands[args[0]]
	if !ok {
		printUsage(out)
		return fmt.Errorf("unknown command %q", args[0])
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := repository.Migrate(ctx, pool); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	e := &env{
		ledger:   ledger.NewService(ledger.NewRepository(pool), logger),
		accounts: repository.NewAccountRepo(pool),
		keys:     repository.NewAPIKeyRepo(pool),
		gigs:     repository.NewGigRepo(pool),
		out:      out,
	}
	return cmd(ctx, e, args[1:])
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `pointsctl: operate the points ledger.

Commands:
  reconcile                     list accounts whose balance disagrees with their entries (exit 1 if any)
  grant     --account --points  credit points (--reason, --reference, --create)
  balance   --account           print an account's balance
  history   --account           print an account's ledger entries, newest first (--limit)
  accounts                      list account ids
  apikey    --service           mint an internal API key and store its hash
  gig       --subject --owner   register a gig for local testing (--subject-name)
`)
}
