package cli

import (
	"github.com/spf13/cobra"

	"libris/internal/storage"
)

func newMigrateCmd(rt *state) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			db, err := storage.Open(ctx, rt.cfg.Storage(), rt.logger)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.Migrate(ctx); err != nil {
				return err
			}
			ok(cmd.OutOrStdout(), "Schema is up to date (%s)", db.Driver())
			return nil
		},
	}
}
