package observability

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/fulmenhq/gofulmen/telemetry"
	"github.com/fulmenhq/gofulmen/telemetry/exporters"
)

var (
	// TelemetrySystem receives pipeline, HTTP and health metrics. Nil means
	// telemetry is disabled and every recorder is a no-op.
	TelemetrySystem *telemetry.System

	// PrometheusExporter serves TelemetrySystem in Prometheus format.
	PrometheusExporter *exporters.PrometheusExporter

	metricsPort int
)

// InitMetrics starts the Prometheus exporter on port (0 picks a free one)
// and points TelemetrySystem at it. Metric names are prefixed with
// namespace.
func InitMetrics(namespace string, port int) error {
	if namespace == "" {
		return errors.New("metrics namespace is required")
	}
	if port < 0 {
		port = 0
	}
	metricsPort = port

	exporter := exporters.NewPrometheusExporter(namespace, fmt.Sprintf(":%d", port))
	if err := exporter.Start(); err != nil {
		return fmt.Errorf("start prometheus exporter on port %d: %w", port, err)
	}
	if bound, err := resolvePort(exporter.GetAddr()); err == nil {
		metricsPort = bound
	}

	sys, err := telemetry.NewSystem(&telemetry.Config{Enabled: true, Emitter: exporter})
	if err != nil {
		_ = exporter.Stop()
		return err
	}

	PrometheusExporter = exporter
	TelemetrySystem = sys
	return nil
}

// ShutdownMetrics stops the exporter and disables telemetry.
func ShutdownMetrics() error {
	TelemetrySystem = nil
	exporter := PrometheusExporter
	PrometheusExporter = nil
	metricsPort = 0
	if exporter == nil {
		return nil
	}
	return exporter.Stop()
}

// GetMetricsPort returns the port the exporter bound, or 0 before InitMetrics.
func GetMetricsPort() int {
	return metricsPort
}

func resolvePort(addr string) (int, error) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0, err
	}
	if port == 0 {
		return 0, errors.New("exporter reported port 0")
	}
	return port, nil
}
