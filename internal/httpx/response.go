package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"vidtube-backend/internal/observability"
)

const maxJSONBodyBytes = 1 << 20

// Response is the success envelope.
type Response struct {
	StatusCode int    `json:"statusCode"`
	Data       any    `json:"data"`
	Message    string `json:"message"`
	Success    bool   `json:"success"`
}

type errorResponse struct {
	StatusCode int      `json:"statusCode"`
	Success    bool     `json:"success"`
	Message    string   `json:"message"`
	Errors     []string `json:"errors"`
	Data       any      `json:"data"`
}

// HandlerFunc is an HTTP handler that reports failures by returning them.
type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

// Boundary converts handler errors into the error envelope.
type Boundary struct {
	logger *observability.Logger
}

func NewBoundary(logger *observability.Logger) *Boundary {
	return &Boundary{logger: logger}
}

func (b *Boundary) Handle(fn HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := fn(w, r); err != nil {
			b.WriteError(w, r, err)
		}
	})
}

func (b *Boundary) WriteError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		apiErr = Internal("Internal server error", err)
	}

	if apiErr.StatusCode >= http.StatusInternalServerError {
		fields := map[string]any{
			"method": r.Method,
			"path":   r.URL.Path,
			"status": apiErr.StatusCode,
		}
		if apiErr.Cause != nil {
			fields["error"] = apiErr.Cause.Error()
		}
		b.logger.Error("request_failed", fields)
		observability.CaptureError(err, map[string]string{"path": r.URL.Path})
	}

	WriteError(w, apiErr)
}

func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// Respond writes the success envelope and always returns nil so handlers can
// end with `return httpx.Respond(...)`.
func Respond(w http.ResponseWriter, status int, message string, data any) error {
	WriteJSON(w, status, Response{
		StatusCode: status,
		Data:       data,
		Message:    message,
		Success:    status < http.StatusBadRequest,
	})
	return nil
}

func WriteError(w http.ResponseWriter, err *Error) {
	details := err.Errors
	if details == nil {
		details = []string{}
	}
	WriteJSON(w, err.StatusCode, errorResponse{
		StatusCode: err.StatusCode,
		Success:    false,
		Message:    err.Message,
		Errors:     details,
		Data:       nil,
	})
}

// DecodeJSON reads a bounded JSON body into dst. An empty body leaves dst
// untouched so field validation reports what is missing.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return BadRequest("invalid json body")
	}
	return nil
}
