package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/namelens/domaincheck/internal/observability"
)

// responseWriter captures the status code and body size.
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}

// EndpointPattern returns a low-cardinality label for r. Domain names never
// appear in it: /v1/check/example.com becomes /v1/check/{domain}.
func EndpointPattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}

	path := r.URL.Path
	switch {
	case path == "/health" || strings.HasPrefix(path, "/health/"):
		return "/health/*"
	case path == "/version", path == "/metrics", path == "/v1/tlds", path == "/":
		return path
	case strings.HasPrefix(path, "/v1/check/"):
		return "/v1/check/{domain}"
	case strings.HasPrefix(path, "/v1/state/"):
		return "/v1/state/{domain}"
	default:
		return "/unknown"
	}
}

func isHealthEndpoint(endpoint string) bool {
	return strings.HasPrefix(endpoint, "/health")
}

// RequestMetrics emits the http_* request metrics and one completion log line
// per request. Health polling logs at debug so it does not drown out checks.
func RequestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		requestSize := int64(0)
		if contentLength := r.Header.Get("Content-Length"); contentLength != "" {
			if size, err := strconv.ParseInt(contentLength, 10, 64); err == nil {
				requestSize = size
			}
		}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		endpoint := EndpointPattern(r)
		status := strconv.Itoa(wrapped.statusCode)

		if sys := observability.TelemetrySystem; sys != nil {
			labels := map[string]string{
				"method":   r.Method,
				"endpoint": endpoint,
				"status":   status,
			}
			_ = sys.Counter("http_requests_total", 1, labels)
			_ = sys.Histogram("http_request_duration_ms", duration, labels)

			sizeLabels := map[string]string{"method": r.Method, "endpoint": endpoint}
			_ = sys.Gauge("http_request_size_bytes", float64(requestSize), sizeLabels)
			_ = sys.Gauge("http_response_size_bytes", float64(wrapped.bytesWritten), sizeLabels)

			if wrapped.statusCode >= 400 {
				errorType := "client_error"
				if wrapped.statusCode >= 500 {
					errorType = "server_error"
				}
				_ = sys.Counter("http_errors_total", 1, map[string]string{
					"method":     r.Method,
					"endpoint":   endpoint,
					"status":     status,
					"error_type": errorType,
				})
			}
		}

		logger := observability.ServerLogger
		if logger == nil {
			return
		}
		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("endpoint", endpoint),
			zap.Int("status", wrapped.statusCode),
			zap.Duration("duration", duration),
			zap.Int64("request_size", requestSize),
			zap.Int64("response_size", wrapped.bytesWritten),
			zap.String("request_id", GetRequestID(r.Context())),
		}
		if domain := chi.URLParam(r, "domain"); domain != "" {
			fields = append(fields, zap.String("domain", domain))
		}
		switch {
		case wrapped.statusCode >= 500:
			logger.Warn("HTTP request failed", fields...)
		case isHealthEndpoint(endpoint):
			logger.Debug("HTTP request completed", fields...)
		default:
			logger.Info("HTTP request completed", fields...)
		}
	})
}
