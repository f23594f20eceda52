package server

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/backlogic/storysearch/internal/errors"
	"github.com/backlogic/storysearch/internal/logging"
)

// ============================================================================
// Request ID Middleware
// ============================================================================

func TestRequestIDMiddleware_TrimsProvidedHeader(t *testing.T) {
	// Given: a probe that reads the id from its context
	var seen string
	probe := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = logging.RequestID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	handler := requestIDMiddleware(probe)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-Id", "  req-55  ")
	rec := httptest.NewRecorder()

	// When
	handler.ServeHTTP(rec, req)

	// Then
	assert.Equal(t, "req-55", seen)
	assert.Equal(t, "req-55", rec.Header().Get("X-Request-Id"))
}

func TestRequestIDMiddleware_GeneratesWhenMissing(t *testing.T) {
	var seen string
	probe := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = logging.RequestID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	handler := requestIDMiddleware(probe)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get("X-Request-Id"))
}

// ============================================================================
// Access Log Middleware
// ============================================================================

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})
}

func TestAccessLog_WritesStructuredLine(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	handler := requestIDMiddleware(accessLogMiddleware(logger, okHandler()))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/hybrid_search", nil))

	out := buf.String()
	assert.Contains(t, out, "http_request")
	assert.Contains(t, out, "method=POST")
	assert.Contains(t, out, "path=/hybrid_search")
	assert.Contains(t, out, "status=200")
	assert.Contains(t, out, "request_id=")
}

func TestAccessLog_ElevatesSeverityForServerErrors(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	failing := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	handler := accessLogMiddleware(logger, failing)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Contains(t, buf.String(), "level=ERROR")
}

func TestAccessLog_RedactsQueryParams(t *testing.T) {
	// Given: a query string carrying an email address
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	handler := accessLogMiddleware(logger, okHandler())

	req := httptest.NewRequest(http.MethodGet, "/embedding_test?text=reset+for+user%40example.com", nil)
	rec := httptest.NewRecorder()

	// When
	handler.ServeHTTP(rec, req)

	// Then: the address never reaches the log
	out := buf.String()
	assert.Contains(t, out, "[email]")
	assert.NotContains(t, out, "user@example.com")
}

// ============================================================================
// Recovery Middleware
// ============================================================================

func TestRecovery_TurnsPanicInto500(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	panicking := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("mmap torn away")
	})
	handler := recoveryMiddleware(logger, panicking)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/hybrid_search", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), apperrors.ErrCodeInternal)
	assert.Contains(t, buf.String(), "handler panic")
	assert.Contains(t, buf.String(), "mmap torn away")
}
