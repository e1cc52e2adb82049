package membership_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libris/internal/membership"
)

func post(h http.Handler, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandler_RegisterLogin(t *testing.T) {
	svc, _ := newService(t)
	r := chi.NewRouter()
	membership.NewHandler(svc).Routes(r)

	rec := post(r, "/register", `{"username":"admin_nasri","password":"admin123","email":"admin@example.com"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"message":"Registration successful"`)
	assert.NotContains(t, rec.Body.String(), "password")

	rec = post(r, "/register", `{"username":"admin_nasri","password":"x","email":"admin@example.com"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = post(r, "/login", `{"email":"admin@example.com","username":"admin_nasri","password":"admin123"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"access_token":"`)

	rec = post(r, "/login", `{"email":"admin@example.com","username":"admin_nasri","password":"nope"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"message":"invalid credentials"}`, rec.Body.String())
}

func TestHandler_RegisterValidation(t *testing.T) {
	svc, _ := newService(t)
	r := chi.NewRouter()
	membership.NewHandler(svc).Routes(r)

	rec := post(r, "/register", `{"username":"","password":"","email":"not-an-email"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{
		"message":"validation failed",
		"errors":{"username":"is required","password":"is required","email":"must be a valid email address"}
	}`, rec.Body.String())
}
