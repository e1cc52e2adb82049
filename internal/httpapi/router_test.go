package httpapi

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libris/internal/auth"
	"libris/internal/catalog"
	"libris/internal/circulation"
	"libris/internal/journal"
	"libris/internal/membership"
	"libris/internal/storage/storagetest"
)

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func newTestRouter(t *testing.T, cfg Config, store Pinger, out *bytes.Buffer) http.Handler {
	t.Helper()
	db := storagetest.NewSQLite(t)
	gate, err := auth.NewGate("httpapi-test-secret-0123456789", time.Hour)
	require.NoError(t, err)

	logger := zerolog.Nop()
	if out != nil {
		logger = zerolog.New(out)
	}
	members := membership.NewService(db, gate, logger)
	books := catalog.NewService(db, logger)
	ledger, err := circulation.NewService(db, members, books, journal.New(db), nil, logger)
	require.NoError(t, err)

	if store == nil {
		store = db
	}
	return NewRouter(cfg, Deps{
		Catalog:    books,
		Membership: members,
		Ledger:     ledger,
		Gate:       gate,
		Store:      store,
		Logger:     logger,
	})
}

func get(h http.Handler, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	h := newTestRouter(t, Config{}, nil, nil)

	rec := get(h, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestHealthz_StoreDown(t *testing.T) {
	h := newTestRouter(t, Config{}, pinger{err: errors.New("connection refused")}, nil)

	rec := get(h, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection refused")
}

func TestUnknownRoute(t *testing.T) {
	h := newTestRouter(t, Config{}, nil, nil)

	rec := get(h, "/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"message":"resource not found"}`, rec.Body.String())
}

func TestDashboardLogs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "libris.log")
	var content strings.Builder
	for _, line := range []string{"one", "two", "three"} {
		content.WriteString(`{"message":"` + line + `"}` + "\n")
	}
	require.NoError(t, os.WriteFile(path, []byte(content.String()), 0o644))

	h := newTestRouter(t, Config{LogFile: path}, nil, nil)

	rec := get(h, "/dashboard/logs?lines=2")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"logs":["{\"message\":\"two\"}","{\"message\":\"three\"}"]}`, rec.Body.String())

	rec = get(h, "/dashboard/logs?lines=zero")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDashboardLogs_NoFile(t *testing.T) {
	h := newTestRouter(t, Config{}, nil, nil)
	rec := get(h, "/dashboard/logs")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	h = newTestRouter(t, Config{LogFile: filepath.Join(t.TempDir(), "missing.log")}, nil, nil)
	rec = get(h, "/dashboard/logs")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"message":"log file not found"}`, rec.Body.String())
}

func TestRateLimit(t *testing.T) {
	h := newTestRouter(t, Config{RateLimit: 0.001, RateBurst: 2}, nil, nil)

	assert.Equal(t, http.StatusOK, get(h, "/healthz").Code)
	assert.Equal(t, http.StatusOK, get(h, "/healthz").Code)

	rec := get(h, "/healthz")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.JSONEq(t, `{"message":"rate limit exceeded"}`, rec.Body.String())
}

func TestRateLimit_PerClient(t *testing.T) {
	l := newClientLimiter(0.001, 1, 2)

	assert.True(t, l.allow("10.0.0.1"))
	assert.False(t, l.allow("10.0.0.1"))
	assert.True(t, l.allow("10.0.0.2"))

	// A third client evicts the first, which starts over with a full bucket.
	assert.True(t, l.allow("10.0.0.3"))
	assert.True(t, l.allow("10.0.0.1"))
}

func TestRequestLogger(t *testing.T) {
	var out bytes.Buffer
	h := newTestRouter(t, Config{}, nil, &out)

	get(h, "/books")

	assert.Contains(t, out.String(), `"path":"/books"`)
	assert.Contains(t, out.String(), `"status":200`)
	assert.Contains(t, out.String(), `"request_id":`)
}

func TestCORS(t *testing.T) {
	h := newTestRouter(t, Config{CORSOrigins: []string{"https://libris.example"}}, nil, nil)

	req := httptest.NewRequest(http.MethodOptions, "/books", nil)
	req.Header.Set("Origin", "https://libris.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "https://libris.example", rec.Header().Get("Access-Control-Allow-Origin"))
}
