package cli

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"libris/internal/app"
	"libris/internal/clients"
	"libris/internal/consistency"
)

type verifyOptions struct {
	bookID      string
	concurrency int
	email       string
	remote      string
	username    string
	password    string
	jsonOut     bool
}

type verifyOutput struct {
	Report *consistency.Report     `json:"report"`
	Race   *consistency.RaceResult `json:"race,omitempty"`
}

func newVerifyCmd(rt *state) *cobra.Command {
	var opts verifyOptions

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check stock and ledger consistency",
		Long: `Run the consistency checks against the database: no negative stock, no
shelf holding more than its copies, copies out matching outstanding borrows,
and the event journal agreeing with the borrow table.

With --book, first fire --concurrency simultaneous borrows at that book and
return every copy obtained. By default the borrows go through the in-process
ledger; with --remote they go through a running server's HTTP API, which must
use the same database.

Examples:
  libris verify
  libris verify --book 7f7c... --concurrency 50 --email user1@example.com
  libris verify --book 7f7c... --remote http://localhost:8080 \
      --email user1@example.com --username user1_nasri --password password`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return verify(cmd, rt, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.bookID, "book", "", "Book ID to run the concurrent borrow experiment against")
	f.IntVar(&opts.concurrency, "concurrency", 10, "Simultaneous borrows in the experiment")
	f.StringVar(&opts.email, "email", "", "Borrower email for the experiment")
	f.StringVar(&opts.remote, "remote", "", "Base URL of a running server to drive the experiment through")
	f.StringVar(&opts.username, "username", "", "Username for --remote login")
	f.StringVar(&opts.password, "password", "", "Password for --remote login")
	f.BoolVar(&opts.jsonOut, "json", false, "Output as JSON")
	return cmd
}

func verify(cmd *cobra.Command, rt *state, opts verifyOptions) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	a, err := app.New(ctx, rt.cfg, rt.logger)
	if err != nil {
		return err
	}
	defer a.Close()

	var result verifyOutput
	if opts.bookID != "" {
		bookID, err := uuid.Parse(opts.bookID)
		if err != nil {
			return fmt.Errorf("invalid --book: %w", err)
		}
		if opts.email == "" {
			return errors.New("--email is required with --book")
		}
		book, err := a.Catalog.GetBook(ctx, bookID)
		if err != nil {
			return err
		}

		var ledger consistency.Ledger = a.Ledger
		if opts.remote != "" {
			client := clients.New(opts.remote)
			if err := client.Login(ctx, opts.email, opts.username, opts.password); err != nil {
				return err
			}
			ledger = client
		}

		result.Race, err = a.Checker.RaceExperiment(ctx, ledger, opts.email, bookID, book.Stock, opts.concurrency)
		if err != nil && result.Race == nil {
			return err
		}
		if err != nil {
			rt.logger.Error().Err(err).Msg("race experiment cleanup failed")
		}
		result.Report = result.Race.Report
	} else {
		result.Report = a.Checker.Run(ctx)
	}

	if opts.jsonOut {
		enc := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return err
		}
	} else {
		printVerify(out, result)
	}

	if !result.Report.Healthy || (result.Race != nil && !result.Race.HypothesisHeld) {
		return ErrUnhealthy
	}
	return nil
}

func printVerify(out io.Writer, result verifyOutput) {
	if race := result.Race; race != nil {
		fmt.Fprintf(out, "%s %d borrows against stock %d in %s\n",
			color.CyanString("Race:"), race.Concurrency, race.StockBefore, race.Duration.Round(time.Millisecond))
		fmt.Fprintf(out, "  succeeded %d, out of stock %d, failed %d\n", race.Succeeded, race.OutOfStock, race.Failed)
		if race.HypothesisHeld {
			ok(out, "Exactly %d borrows succeeded", min(race.StockBefore, race.Concurrency))
		} else {
			fail(out, "Expected %d successful borrows and no failures", min(race.StockBefore, race.Concurrency))
		}
		fmt.Fprintln(out)
	}

	for _, res := range result.Report.Results {
		switch {
		case res.Error != "":
			fail(out, "%s: %s", res.Name, res.Error)
		case res.Passed:
			ok(out, "%s", res.Name)
		default:
			fail(out, "%s: got %g, want %s %g", res.Name, res.Actual, res.Expected.Operator, res.Expected.Value)
		}
	}

	fmt.Fprintln(out)
	if violations := result.Report.Violations(); len(violations) > 0 {
		warn(out, "%d of %d checks failed", len(violations), len(result.Report.Results))
		return
	}
	ok(out, "Store is consistent")
}
