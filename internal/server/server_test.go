package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/namelens/domaincheck/internal/core"
	"github.com/namelens/domaincheck/internal/core/engine"
	apperrors "github.com/namelens/domaincheck/internal/errors"
	"github.com/namelens/domaincheck/internal/server/handlers"
	servermw "github.com/namelens/domaincheck/internal/server/middleware"
)

func TestServerUsesStandardErrorHandlers(t *testing.T) {
	srv := New("127.0.0.1", 0)

	req := httptest.NewRequest(http.MethodGet, "/does-not-exist", nil)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}

	var body apperrors.HTTPErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}

	if body.Error.Code != "NOT_FOUND" {
		t.Fatalf("expected error code NOT_FOUND, got %s", body.Error.Code)
	}
}

func TestServerMountsCheckAPI(t *testing.T) {
	srv := New("127.0.0.1", 0, WithAPI(&handlers.API{}))

	req := httptest.NewRequest(http.MethodGet, "/v1/tlds", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
}

func TestServerWithoutAPIHasNoCheckRoutes(t *testing.T) {
	srv := New("127.0.0.1", 0)

	req := httptest.NewRequest(http.MethodGet, "/v1/tlds", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}
}

type panickingChecker struct{}

func (panickingChecker) CheckDomain(context.Context, string) core.OrchestratorResult {
	panic("registry table corrupted")
}

type echoChecker struct{}

func (echoChecker) CheckDomain(ctx context.Context, raw string) core.OrchestratorResult {
	return core.OrchestratorResult{Result: core.CheckResult{
		Domain:   raw,
		Metadata: core.CheckMetadata{CheckID: engine.CheckIDFromContext(ctx)},
	}}
}

func TestServerRecoversCheckPanicWithRequestID(t *testing.T) {
	srv := New("127.0.0.1", 0, WithAPI(&handlers.API{Checker: panickingChecker{}}))

	req := httptest.NewRequest(http.MethodGet, "/v1/check/example.com", nil)
	req.Header.Set(servermw.RequestIDHeader, "req-panic-1")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", rec.Code)
	}
	var body servermw.ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	if body.Error.Code != "INTERNAL_ERROR" || body.Error.RequestID != "req-panic-1" {
		t.Fatalf("unexpected error body: %+v", body.Error)
	}
	if _, leaked := body.Error.Details["stack_trace"]; leaked {
		t.Fatalf("stack trace must stay in server logs")
	}
}

func TestServerCheckResultCarriesRequestID(t *testing.T) {
	srv := New("127.0.0.1", 0, WithAPI(&handlers.API{Checker: echoChecker{}}))

	req := httptest.NewRequest(http.MethodGet, "/v1/check/example.com", nil)
	req.Header.Set(servermw.RequestIDHeader, "req-77")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var out core.OrchestratorResult
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("failed to decode check result: %v", err)
	}
	if out.Result.Metadata.CheckID != "req-77" {
		t.Fatalf("expected check ID req-77, got %q", out.Result.Metadata.CheckID)
	}
	if got := rec.Header().Get(servermw.RequestIDHeader); got != "req-77" {
		t.Fatalf("expected X-Request-ID req-77, got %q", got)
	}
}
