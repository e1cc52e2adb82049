// Package httpapi assembles the HTTP surface: routing, middleware and the
// operational endpoints. Domain endpoints live in each domain's handler.go.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"libris/internal/auth"
	"libris/internal/catalog"
	"libris/internal/circulation"
	"libris/internal/fault"
	"libris/internal/logging"
	"libris/internal/membership"
	"libris/internal/render"
)

const defaultLogLines = 100

// Config tunes the middleware stack.
type Config struct {
	RequestTimeout time.Duration
	CORSOrigins    []string
	RateLimit      float64
	RateBurst      int
	LogFile        string
}

// Pinger reports whether the store of record is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the services behind the routes.
type Deps struct {
	Catalog    catalog.Service
	Membership membership.Service
	Ledger     circulation.Service
	Gate       *auth.Gate
	Store      Pinger
	Logger     zerolog.Logger
}

// NewRouter returns the complete HTTP handler.
func NewRouter(cfg Config, deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(deps.Logger))
	r.Use(middleware.Recoverer)
	if cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
	}
	r.Use(corsHandler(cfg.CORSOrigins))
	if cfg.RateLimit > 0 {
		r.Use(newClientLimiter(cfg.RateLimit, cfg.RateBurst, clientTableSize).middleware)
	}

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		render.JSON(w, http.StatusNotFound, render.Message{Message: "resource not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		render.JSON(w, http.StatusMethodNotAllowed, render.Message{Message: "method not allowed"})
	})

	protect := deps.Gate.Require
	membership.NewHandler(deps.Membership).Routes(r)
	catalog.NewHandler(deps.Catalog).Routes(r, protect)
	circulation.NewHandler(deps.Ledger).Routes(r, protect)

	r.Get("/healthz", healthz(deps.Store))
	r.Get("/dashboard/logs", dashboardLogs(cfg.LogFile))

	return r
}

func corsHandler(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         300,
	}).Handler
}

func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				event := logger.Info()
				if status >= http.StatusInternalServerError {
					event = logger.Error()
				}
				event.
					Str("request_id", middleware.GetReqID(r.Context())).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", status).
					Int("bytes", ww.BytesWritten()).
					Dur("duration", time.Since(start)).
					Msg("request")
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

func healthz(store Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := store.Ping(r.Context()); err != nil {
			render.JSON(w, http.StatusServiceUnavailable, render.Message{Message: fault.MessageOf(err)})
			return
		}
		render.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func dashboardLogs(path string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n := defaultLogLines
		if raw := r.URL.Query().Get("lines"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 {
				render.Error(w, fault.New(fault.Validation, "lines must be a positive integer"))
				return
			}
			n = parsed
		}

		lines, err := logging.Tail(path, n)
		if errors.Is(err, logging.ErrNoLogFile) || errors.Is(err, os.ErrNotExist) {
			render.JSON(w, http.StatusNotFound, render.Message{Message: "log file not found"})
			return
		}
		if err != nil {
			render.Error(w, err)
			return
		}
		render.JSON(w, http.StatusOK, map[string][]string{"logs": lines})
	}
}
