package render

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libris/internal/fault"
	"libris/internal/validate"
)

func TestError_MapsKindToStatus(t *testing.T) {
	rec := httptest.NewRecorder()

	Error(rec, fmt.Errorf("lookup: %w", fault.New(fault.NotFound, "book not found")))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"message":"book not found"}`, rec.Body.String())
}

func TestError_IncludesValidationFields(t *testing.T) {
	rec := httptest.NewRecorder()
	v := validate.Errors{}
	v.Required("email", "")

	Error(rec, v.Err())

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"message":"validation failed","errors":{"email":"is required"}}`, rec.Body.String())
}

func TestError_HidesUnclassified(t *testing.T) {
	rec := httptest.NewRecorder()

	Error(rec, errors.New("pq: password authentication failed"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "pq:")
}

func TestDecode(t *testing.T) {
	var dst struct {
		Email string `json:"email"`
	}

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":"a@b.c"}`))
	require.NoError(t, Decode(req, &dst))
	assert.Equal(t, "a@b.c", dst.Email)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":`))
	assert.True(t, fault.Is(Decode(req, &dst), fault.Validation))

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(``))
	assert.True(t, fault.Is(Decode(req, &dst), fault.Validation))
}
