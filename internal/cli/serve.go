package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"libris/internal/app"
	"libris/internal/telemetry"
)

func newServeCmd(rt *state) *cobra.Command {
	var seedFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Run the HTTP API until interrupted. The schema is migrated on start.

The default SQLite store runs on a single connection, so every request waits
for the one before it, including requests for different books. Use PostgreSQL
(db.driver postgres or pgx) when borrows of different books must not block
each other; there only writers of the same book wait on its row lock.

Examples:
  libris serve
  LIBRIS_AUTH_SECRET=... LIBRIS_DB_DRIVER=pgx LIBRIS_DB_DSN=postgres://... libris serve
  libris serve --seed fixtures.yml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, rt, seedFile)
		},
	}

	cmd.Flags().StringVar(&seedFile, "seed", "", "Apply fixtures from this file before serving (default: seed.file)")
	return cmd
}

func serve(ctx context.Context, rt *state, seedFile string) error {
	cfg, logger := rt.cfg, rt.logger

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry())
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("tracer shutdown failed")
		}
	}()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	handler, err := a.Handler()
	if err != nil {
		return err
	}

	if seedFile == "" {
		seedFile = cfg.Seed.File
	}
	if seedFile != "" {
		summary, err := a.Seed(ctx, seedFile)
		if err != nil {
			return err
		}
		logger.Info().Interface("summary", summary).Msg("fixtures applied")
	}

	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
