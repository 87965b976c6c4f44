package metrics

import (
	"strconv"

	"github.com/namelens/domaincheck/internal/observability"
)

// API error metric names.
const (
	APIErrorsTotal      = "domaincheck_api_errors_total"
	APIPanicsTotal      = "domaincheck_api_panics_total"
	APIErrorsByEndpoint = "domaincheck_api_errors_by_endpoint_total"
)

// RecordError counts one error envelope returned to an API caller.
func RecordError(errorCode string, httpStatus int) {
	if sys := observability.TelemetrySystem; sys != nil {
		_ = sys.Counter(APIErrorsTotal, 1, map[string]string{
			"error_code":  errorCode,
			"http_status": strconv.Itoa(httpStatus),
		})
	}
}

// RecordPanic counts a recovered handler panic.
func RecordPanic() {
	if sys := observability.TelemetrySystem; sys != nil {
		_ = sys.Counter(APIPanicsTotal, 1, nil)
	}
}

// RecordErrorByEndpoint counts an error against a route pattern such as
// /v1/check/{domain}. Never pass a raw path: domains would explode the label
// set.
func RecordErrorByEndpoint(endpoint string, errorCode string) {
	if sys := observability.TelemetrySystem; sys != nil {
		_ = sys.Counter(APIErrorsByEndpoint, 1, map[string]string{
			"endpoint":   endpoint,
			"error_code": errorCode,
		})
	}
}
