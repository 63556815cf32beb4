package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vidtube-backend/internal/observability"
)

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestRespondEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	require.NoError(t, Respond(rec, http.StatusCreated, "User registered successfully", map[string]string{"username": "alice"}))

	body := decodeBody(t, rec)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, float64(201), body["statusCode"])
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "User registered successfully", body["message"])
	assert.Equal(t, "alice", body["data"].(map[string]any)["username"])
}

func TestBoundaryWritesStructuredError(t *testing.T) {
	boundary := NewBoundary(observability.New(io.Discard, "error"))
	handler := boundary.Handle(func(http.ResponseWriter, *http.Request) error {
		return Conflict("User with username already exists")
	})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/register", nil))

	body := decodeBody(t, rec)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "User with username already exists", body["message"])
	assert.Equal(t, []any{}, body["errors"])
	assert.Contains(t, body, "data")
	assert.Nil(t, body["data"])
}

func TestBoundaryHidesUnexpectedErrors(t *testing.T) {
	var logs strings.Builder
	boundary := NewBoundary(observability.New(&logs, "info"))
	handler := boundary.Handle(func(http.ResponseWriter, *http.Request) error {
		return errors.New("pq: connection refused")
	})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/getUser", nil))

	body := decodeBody(t, rec)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Internal server error", body["message"])
	assert.NotContains(t, rec.Body.String(), "connection refused")
	assert.Contains(t, logs.String(), "connection refused")
}

func TestDecodeJSON(t *testing.T) {
	var dst struct {
		Email string `json:"email"`
	}

	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"email":"a@b.c"}`))
	require.NoError(t, DecodeJSON(httptest.NewRecorder(), req, &dst))
	assert.Equal(t, "a@b.c", dst.Email)

	req = httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(""))
	require.NoError(t, DecodeJSON(httptest.NewRecorder(), req, &dst))

	req = httptest.NewRequest(http.MethodPost, "/login", strings.NewReader("{"))
	err := DecodeJSON(httptest.NewRecorder(), req, &dst)
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
}
