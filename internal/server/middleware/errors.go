package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/fulmenhq/gofulmen/errors"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/namelens/domaincheck/internal/metrics"
	"github.com/namelens/domaincheck/internal/observability"
)

// Recovery turns a handler panic into a 500 envelope. The stack trace goes to
// the server log only; the response carries the request ID so the two can be
// matched.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			recovered := recover()
			if recovered == nil {
				return
			}
			if recovered == http.ErrAbortHandler {
				panic(recovered)
			}

			requestID := GetRequestID(r.Context())
			metrics.RecordPanic()
			if logger := observability.ServerLogger; logger != nil {
				fields := []zap.Field{
					zap.String("request_id", requestID),
					zap.String("endpoint", EndpointPattern(r)),
					zap.String("panic", fmt.Sprint(recovered)),
					zap.String("stack_trace", string(debug.Stack())),
				}
				if domain := chi.URLParam(r, "domain"); domain != "" {
					fields = append(fields, zap.String("domain", domain))
				}
				logger.Error("Handler panicked", fields...)
			}

			envelope := errors.NewErrorEnvelope("INTERNAL_ERROR", "internal error while handling request").
				WithCorrelationID(requestID)
			envelope, _ = envelope.WithSeverity(errors.SeverityCritical)
			writeErrorResponse(w, envelope, http.StatusInternalServerError)
		}()

		next.ServeHTTP(w, r)
	})
}

// ErrorResponse is the JSON error body.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

// writeErrorResponse writes the envelope directly; internal/errors imports
// this package.
func writeErrorResponse(w http.ResponseWriter, envelope *errors.ErrorEnvelope, statusCode int) {
	response := ErrorResponse{
		Error: ErrorDetail{
			Code:      envelope.Code,
			Message:   envelope.Message,
			Details:   envelope.Context,
			RequestID: envelope.CorrelationID,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(response)
}
