package server

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/errors"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	apperrors "github.com/namelens/domaincheck/internal/errors"
	"github.com/namelens/domaincheck/internal/observability"
)

const defaultMetricsPort = 9090

var metricsProxyClient = &http.Client{
	Timeout: 5 * time.Second,
}

// hopHeaders are not copied from the exporter response.
var hopHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
}

// metricsPort is the port the exporter actually bound, then metrics.port,
// then the Prometheus default.
func metricsPort() int {
	if port := observability.GetMetricsPort(); port > 0 {
		return port
	}
	if port := viper.GetInt("metrics.port"); port > 0 {
		return port
	}
	return defaultMetricsPort
}

// MetricsHandler serves GET /metrics by proxying the Prometheus exporter, so
// check pipeline metrics can be scraped from the API port.
func MetricsHandler(w http.ResponseWriter, r *http.Request) {
	if observability.PrometheusExporter == nil {
		apperrors.RespondWithError(w, r, errors.NewErrorEnvelope("SERVICE_UNAVAILABLE", "Metrics exporter not initialized"))
		return
	}

	metricsURL := fmt.Sprintf("http://127.0.0.1:%d/metrics", metricsPort())
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, metricsURL, nil)
	if err != nil {
		apperrors.RespondWithError(w, r, apperrors.WrapInternal(r.Context(), err, "Unable to construct metrics request"))
		return
	}
	if accept := r.Header.Get("Accept"); accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := metricsProxyClient.Do(req)
	if err != nil {
		envelope := apperrors.WrapExternalService(r.Context(), err, "Prometheus exporter unavailable")
		envelope, _ = envelope.WithContext(map[string]interface{}{
			"metrics_url":   metricsURL,
			"wrapped_error": err.Error(),
		})
		apperrors.RespondWithError(w, r, envelope)
		return
	}
	defer resp.Body.Close() // nolint:errcheck // read-only proxy body

	for key, values := range resp.Header {
		if _, hop := hopHeaders[http.CanonicalHeaderKey(key)]; hop {
			continue
		}
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	if resp.Header.Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	}

	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil && observability.ServerLogger != nil {
		observability.ServerLogger.Warn("Failed to write metrics response", zap.Error(err))
	}
}
