// Package cli implements the libris command line.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"libris/internal/config"
	"libris/internal/logging"
)

// ErrUnhealthy is returned by verify when a check or experiment fails.
var ErrUnhealthy = errors.New("consistency verification failed")

// state is what every subcommand gets after the root pre-run.
type state struct {
	configPath string
	noColor    bool

	cfg        *config.Config
	logger     zerolog.Logger
	closeLogs  func() error
	logsTarget io.Writer
}

// newRootCmd builds the command tree. Logs go to logs; command output goes to
// the command's out writer. The caller closes the state when done.
func newRootCmd(logs io.Writer) (*cobra.Command, *state) {
	rt := &state{logsTarget: logs}

	root := &cobra.Command{
		Use:   "libris",
		Short: "Library lending service",
		Long: `libris serves the catalog, member accounts and the borrow ledger over HTTP.

Configuration comes from defaults, an optional config file, .env and
LIBRIS_* environment variables, in increasing order of precedence.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if rt.noColor {
				color.NoColor = true
			}
			cfg, err := config.Load(rt.configPath)
			if err != nil {
				return err
			}
			rt.cfg = cfg
			rt.logger, rt.closeLogs, err = logging.New(cfg.Logging(), rt.logsTarget)
			return err
		},
	}

	root.PersistentFlags().StringVar(&rt.configPath, "config", "", "Config file path (default: $LIBRIS_CONFIG)")
	root.PersistentFlags().BoolVar(&rt.noColor, "no-color", false, "Disable colored output")

	root.AddCommand(
		newServeCmd(rt),
		newMigrateCmd(rt),
		newSeedCmd(rt),
		newVerifyCmd(rt),
	)
	return root, rt
}

func (rt *state) close() error {
	if rt.closeLogs == nil {
		return nil
	}
	err := rt.closeLogs()
	rt.closeLogs = nil
	return err
}

// Execute runs the command line and exits non-zero on failure.
func Execute() {
	root, rt := newRootCmd(os.Stderr)
	err := root.Execute()
	if cerr := rt.close(); err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error:"), err)
		os.Exit(1)
	}
}

func ok(out io.Writer, format string, args ...any) {
	fmt.Fprintln(out, color.GreenString("✓ "+format, args...))
}

func warn(out io.Writer, format string, args ...any) {
	fmt.Fprintln(out, color.YellowString("! "+format, args...))
}

func fail(out io.Writer, format string, args ...any) {
	fmt.Fprintln(out, color.RedString("✗ "+format, args...))
}
