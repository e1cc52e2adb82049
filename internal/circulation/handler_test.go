package circulation_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libris/internal/auth"
	"libris/internal/circulation"
	"libris/internal/storage/storagetest"
)

func newRouter(t *testing.T) (http.Handler, *fixture, string) {
	t.Helper()
	f := newFixture(t, storagetest.NewSQLite(t))
	gate, err := auth.NewGate("circulation-test-secret-0123456789", time.Hour)
	require.NoError(t, err)
	token, err := gate.Issue("tester")
	require.NoError(t, err)

	r := chi.NewRouter()
	circulation.NewHandler(f.ledger).Routes(r, gate.Require)
	return r, f, token
}

func send(h http.Handler, method, target, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandler_BorrowRequiresCredential(t *testing.T) {
	h, f, _ := newRouter(t)
	f.user(t, "user1@example.com")
	book := f.book(t, 1)

	rec := send(h, http.MethodPost, "/borrow", "", `{"email":"user1@example.com","book_id":"`+book.ID.String()+`"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 1, f.stock(t, book.ID))
	assert.Equal(t, 0, f.outstanding(t, book.ID))

	rec = send(h, http.MethodDelete, "/borrow/"+book.ID.String(), "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandler_BorrowLifecycle(t *testing.T) {
	h, f, token := newRouter(t)
	f.user(t, "user1@example.com")
	book := f.book(t, 1)
	body := `{"email":"user1@example.com","book_id":"` + book.ID.String() + `"}`

	rec := send(h, http.MethodPost, "/borrow", token, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"borrow_id":"`)

	rec = send(h, http.MethodPost, "/borrow", token, body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"message":"book out of stock"}`, rec.Body.String())

	rec = send(h, http.MethodGet, "/borrow", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"book_id":"`+book.ID.String()+`"`)
	assert.Contains(t, rec.Body.String(), `"returned_at":null`)

	borrows, err := f.ledger.ListBorrows(t.Context())
	require.NoError(t, err)
	require.Len(t, borrows, 1)
	id := borrows[0].ID.String()

	rec = send(h, http.MethodDelete, "/borrow/"+id, token, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"message":"Book returned"}`, rec.Body.String())

	rec = send(h, http.MethodDelete, "/borrow/"+id, token, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = send(h, http.MethodGet, "/borrow/"+id+"/history", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"event_type":"BorrowCreated"`)
	assert.Contains(t, rec.Body.String(), `"event_type":"BorrowReturned"`)
}

func TestHandler_BorrowErrors(t *testing.T) {
	h, f, token := newRouter(t)
	book := f.book(t, 1)

	rec := send(h, http.MethodPost, "/borrow", token, `{"email":"nobody@example.com","book_id":"`+book.ID.String()+`"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"message":"user not found"}`, rec.Body.String())

	rec = send(h, http.MethodPost, "/borrow", token, `{"email":"bad","book_id":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{
		"message":"validation failed",
		"errors":{"email":"must be a valid email address","book_id":"must be a valid id"}
	}`, rec.Body.String())

	rec = send(h, http.MethodGet, "/borrow/5b6a0c1e-2d3f-4a5b-8c7d-9e0f1a2b3c4d", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
