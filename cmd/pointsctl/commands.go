package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/AkibHossainOmi/TutorMove-sub000/internal/ledger"
	"github.com/AkibHossainOmi/TutorMove-sub000/internal/middleware"
	"github.com/AkibHossainOmi/TutorMove-sub000/internal/models"
)

var errDiscrepancies = errors.New("ledger discrepancies found")

type accountStore interface {
	Create(ctx context.Context, id uuid.UUID) (*models.Account, error)
	ListIDs(ctx context.Context) ([]uuid.UUID, error)
}

type keyStore interface {
	Create(ctx context.Context, k *models.APIKey) error
}

type gigStore interface {
	CreateSubject(ctx context.Context, s *models.Subject) error
	Create(ctx context.Context, g *models.Gig) error
}

type env struct {
	ledger   ledger.Service
	accounts accountStore
	keys     keyStore
	gigs     gigStore
	out      io.Writer
}

type command func(ctx context.Context, e *env, args []string) error

var commands = map[string]command{
	"reconcile": cmdReconcile,
	"grant":     cmdGrant,
	"balance":   cmdBalance,
	"history":   cmdHistory,
	"accounts":  cmdAccounts,
	"apikey":    cmdAPIKey,
	"gig":       cmdGig,
}

func parseID(fs *pflag.FlagSet, flag string) (uuid.UUID, error) {
	raw, _ := fs.GetString(flag)
	if raw == "" {
		return uuid.Nil, fmt.Errorf("%s: --%s is required", fs.Name(), flag)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%s: --%s: %w", fs.Name(), flag, err)
	}
	return id, nil
}

func cmdReconcile(ctx context.Context, e *env, args []string) error {
	fs := pflag.NewFlagSet("reconcile", pflag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	found, err := e.ledger.Reconcile(ctx)
	if err != nil {
		return err
	}
	if len(found) == 0 {
		fmt.Fprintln(e.out, "ok: every balance matches its entries")
		return nil
	}
	tw := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ACCOUNT\tBALANCE\tENTRIES SUM")
	for _, d := range found {
		fmt.Fprintf(tw, "%s\t%d\t%d\n", d.AccountID, d.Balance, d.EntriesSum)
	}
	tw.Flush()
	return errDiscrepancies
}

func cmdGrant(ctx context.Context, e *env, args []string) error {
	fs := pflag.NewFlagSet("grant", pflag.ContinueOnError)
	fs.String("account", "", "account id")
	points := fs.Int64("points", 0, "points to credit")
	reason := fs.String("reason", string(models.ReasonPurchase), "ledger reason: purchase, gift, refund or referral")
	reference := fs.String("reference", "", "idempotency reference (default: a fresh uuid)")
	create := fs.Bool("create", false, "create the account if it does not exist")
	if err := fs.Parse(args); err != nil {
		return err
	}
	id, err := parseID(fs, "account")
	if err != nil {
		return err
	}
	r := models.LedgerReason(*reason)
	if !r.Valid() || r == models.ReasonBoostSpend {
		return fmt.Errorf("grant: invalid --reason %q", *reason)
	}
	ref := *reference
	if ref == "" {
		ref = "grant:" + uuid.NewString()
	}
	if *create {
		if _, err := e.accounts.Create(ctx, id); err != nil {
			return fmt.Errorf("grant: create account: %w", err)
		}
	}
	bal, err := e.ledger.Credit(ctx, id, *points, r, ref)
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "credited %d to %s (reference %s), balance %d\n", *points, id, ref, bal)
	return nil
}

func cmdBalance(ctx context.Context, e *env, args []string) error {
	fs := pflag.NewFlagSet("balance", pflag.ContinueOnError)
	fs.String("account", "", "account id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	id, err := parseID(fs, "account")
	if err != nil {
		return err
	}
	bal, err := e.ledger.GetBalance(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintln(e.out, bal)
	return nil
}

func cmdHistory(ctx context.Context, e *env, args []string) error {
	fs := pflag.NewFlagSet("history", pflag.ContinueOnError)
	fs.String("account", "", "account id")
	limit := fs.Int("limit", 50, "maximum entries to print (0 for all)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	id, err := parseID(fs, "account")
	if err != nil {
		return err
	}
	entries, err := e.ledger.History(ctx, id, *limit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CREATED\tREASON\tDELTA\tBALANCE\tREFERENCE")
	for _, en := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%+d\t%d\t%s\n",
			en.CreatedAt.UTC().Format(time.RFC3339), en.Reason, en.Delta, en.BalanceAfter, en.ReferenceID)
	}
	return tw.Flush()
}

func cmdAccounts(ctx context.Context, e *env, args []string) error {
	fs := pflag.NewFlagSet("accounts", pflag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	ids, err := e.accounts.ListIDs(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		fmt.Fprintln(e.out, id)
	}
	return nil
}

func cmdAPIKey(ctx context.Context, e *env, args []string) error {
	fs := pflag.NewFlagSet("apikey", pflag.ContinueOnError)
	service := fs.String("service", "", "name of the calling service, e.g. gig-crud")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *service == "" {
		return errors.New("apikey: --service is required")
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return err
	}
	raw := "tm_" + hex.EncodeToString(buf)
	k := &models.APIKey{
		ID:          uuid.New(),
		ServiceName: *service,
		KeyHash:     middleware.HashKey(raw),
		KeyPrefix:   raw[:10],
		IsActive:    true,
	}
	if err := e.keys.Create(ctx, k); err != nil {
		return err
	}
	fmt.Fprintf(e.out, "%s\n", raw)
	return nil
}

func cmdGig(ctx context.Context, e *env, args []string) error {
	fs := pflag.NewFlagSet("gig", pflag.ContinueOnError)
	fs.String("subject", "", "subject id")
	subjectName := fs.String("subject-name", "", "subject name, creates the subject when set")
	fs.String("owner", "", "owning account id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	subjectID, err := parseID(fs, "subject")
	if err != nil {
		return err
	}
	ownerID, err := parseID(fs, "owner")
	if err != nil {
		return err
	}
	if *subjectName != "" {
		if err := e.gigs.CreateSubject(ctx, &models.Subject{ID: subjectID, Name: *subjectName}); err != nil {
			return err
		}
	}
	g := &models.Gig{
		ID:             uuid.New(),
		SubjectID:      subjectID,
		OwnerAccountID: ownerID,
		Active:         true,
		LastBoostAt:    time.Now().UTC(),
	}
	if err := e.gigs.Create(ctx, g); err != nil {
		return err
	}
	fmt.Fprintln(e.out, g.ID)
	return nil
}
