package cli

import (
	"github.com/spf13/cobra"

	"libris/internal/app"
)

func newSeedCmd(rt *state) *cobra.Command {
	var (
		file  string
		reset bool
	)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load demo authors, books and users",
		Long: `Load fixtures into the database. Existing authors, books and users
are skipped, so seeding twice is harmless.

Examples:
  libris seed                  Built-in fixtures
  libris seed --file demo.yml  Fixtures from a YAML file
  libris seed --reset          Delete every row first`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			a, err := app.New(ctx, rt.cfg, rt.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			if reset {
				if err := a.DB.Truncate(ctx); err != nil {
					return err
				}
				warn(out, "All rows deleted")
			}

			if file == "" {
				file = rt.cfg.Seed.File
			}
			summary, err := a.Seed(ctx, file)
			if err != nil {
				return err
			}
			ok(out, "Seeded %d authors, %d books, %d users (%d already present)",
				summary.Authors, summary.Books, summary.Users, summary.Skipped)
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "Fixtures YAML file (default: built-in set)")
	cmd.Flags().BoolVar(&reset, "reset", false, "Delete all rows before seeding")
	return cmd
}
