// Package app wires the services together from configuration. The CLI and
// the end-to-end tests build the process through it.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"libris/internal/auth"
	"libris/internal/catalog"
	"libris/internal/circulation"
	"libris/internal/config"
	"libris/internal/consistency"
	"libris/internal/httpapi"
	"libris/internal/journal"
	"libris/internal/membership"
	"libris/internal/notify"
	"libris/internal/seed"
	"libris/internal/storage"
)

var errNoSecret = errors.New("auth.secret is required to serve HTTP")

// App holds one instance of every service.
type App struct {
	Config     *config.Config
	DB         *storage.DB
	Catalog    catalog.Service
	Membership membership.Service
	Ledger     circulation.Service
	Journal    *journal.Journal
	Checker    *consistency.Checker

	gate      *auth.Gate
	publisher notify.Publisher
	logger    zerolog.Logger
}

// offline issues no tokens. Commands that never log anyone in run without a
// signing secret.
type offline struct{}

func (offline) Issue(string) (string, error) { return "", errNoSecret }

// New opens and migrates the store and builds the services. When no broker URL
// is configured, or the broker is unreachable, notifications are disabled.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*App, error) {
	db, err := storage.Open(ctx, cfg.Storage(), logger)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	a := &App{Config: cfg, DB: db, logger: logger, publisher: notify.Noop{}}

	var tokens membership.TokenIssuer = offline{}
	if cfg.Auth.Secret != "" {
		a.gate, err = auth.NewGate(cfg.Auth.Secret, cfg.Auth.TokenTTL)
		if err != nil {
			db.Close()
			return nil, err
		}
		tokens = a.gate
	}

	if cfg.AMQP.URL != "" {
		publisher, err := notify.Dial(cfg.Notify(), logger)
		if err != nil {
			logger.Warn().Err(err).Msg("broker unavailable, notifications disabled")
		} else {
			a.publisher = publisher
		}
	}

	a.Journal = journal.New(db)
	a.Catalog = catalog.NewService(db, logger)
	a.Membership = membership.NewService(db, tokens, logger)
	a.Ledger, err = circulation.NewService(db, a.Membership, a.Catalog, a.Journal, a.publisher, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Checker = consistency.NewChecker(db, a.Journal)
	return a, nil
}

// Handler returns the HTTP surface. It needs a signing secret.
func (a *App) Handler() (http.Handler, error) {
	if a.gate == nil {
		return nil, errNoSecret
	}
	h := a.Config.HTTP
	return httpapi.NewRouter(httpapi.Config{
		RequestTimeout: h.RequestTimeout,
		CORSOrigins:    h.CORSOrigins,
		RateLimit:      h.RateLimit,
		RateBurst:      h.RateBurst,
		LogFile:        a.Config.Log.File,
	}, httpapi.Deps{
		Catalog:    a.Catalog,
		Membership: a.Membership,
		Ledger:     a.Ledger,
		Gate:       a.gate,
		Store:      a.DB,
		Logger:     a.logger,
	}), nil
}

// Seed applies fixtures from path, or the built-in set when path is empty.
func (a *App) Seed(ctx context.Context, path string) (seed.Summary, error) {
	fixtures, err := seed.Default()
	if path != "" {
		fixtures, err = seed.Load(path)
	}
	if err != nil {
		return seed.Summary{}, err
	}
	return seed.NewSeeder(a.Catalog, a.Membership).Apply(ctx, fixtures)
}

// Close drains pending notifications and closes the store.
func (a *App) Close() error {
	var errs []error
	if err := a.publisher.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close publisher: %w", err))
	}
	if err := a.DB.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close storage: %w", err))
	}
	return errors.Join(errs...)
}
