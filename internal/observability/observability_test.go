package observability

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	gferrors "github.com/fulmenhq/gofulmen/errors"
)

func TestServerLoggerConfigTagsMode(t *testing.T) {
	cfg := ServerLoggerConfig("domaincheck", "debug", "watch")

	assert.Equal(t, logging.ProfileStructured, cfg.Profile)
	assert.Equal(t, "DEBUG", cfg.DefaultLevel)
	assert.Equal(t, "domaincheck", cfg.Service)
	assert.Equal(t, "domaincheck", cfg.StaticFields["namespace"])
	assert.Equal(t, "watch", cfg.StaticFields["mode"])
	require.Len(t, cfg.Sinks, 1)
	assert.Equal(t, "json", cfg.Sinks[0].Format)

	logger, err := logging.New(cfg)
	require.NoError(t, err)
	logger.Info("Domain check completed", zap.String("domain", "example.com"), zap.String("status", "taken"))
}

func TestParseLogLevel(t *testing.T) {
	for in, want := range map[string]string{
		"trace":   "TRACE",
		"DEBUG":   "DEBUG",
		" info ":  "INFO",
		"warning": "WARN",
		"error":   "ERROR",
		"verbose": "INFO",
		"":        "INFO",
	} {
		assert.Equal(t, want, parseLogLevel(in), in)
	}
}

func TestInitCLILogger(t *testing.T) {
	InitCLILogger("domaincheck", true)
	require.NotNil(t, CLILogger)
	CLILogger.Debug("Rate limit wait", zap.String("registry", "tld:de"))
}

func TestWriteExitReportIncludesEnvelopeDetail(t *testing.T) {
	envelope := gferrors.NewErrorEnvelope("STATE_TAMPERED", "stored state failed integrity verification").
		WithCorrelationID("req-9").
		WithOriginal(errors.New("state hmac mismatch"))

	var out bytes.Buffer
	WriteExitReport(&out, foundry.ExitDataCorrupt, "State backend unavailable", fmt.Errorf("open state: %w", envelope))

	report := out.String()
	assert.Contains(t, report, "FATAL: State backend unavailable [STATE_TAMPERED]")
	assert.Contains(t, report, "Cause: state hmac mismatch")
	assert.Contains(t, report, "Correlation: req-9")
	assert.Contains(t, report, "Exit Code:")
}

func TestWriteExitReportPlainError(t *testing.T) {
	var out bytes.Buffer
	WriteExitReport(&out, foundry.ExitFailure, "domaincheck failed", errors.New("boom"))
	assert.Contains(t, out.String(), "FATAL: domaincheck failed: boom")

	out.Reset()
	WriteExitReport(&out, foundry.ExitFailure, "domaincheck failed", nil)
	assert.Contains(t, out.String(), "FATAL: domaincheck failed\n")
}

func TestInitMetricsBindsAndShutsDown(t *testing.T) {
	if err := InitMetrics("domaincheck_test", 0); err != nil {
		t.Skipf("cannot bind exporter in this environment: %v", err)
	}
	t.Cleanup(func() { _ = ShutdownMetrics() })

	require.NotNil(t, TelemetrySystem)
	require.NotNil(t, PrometheusExporter)
	port := GetMetricsPort()
	require.Greater(t, port, 0)

	require.NoError(t, TelemetrySystem.Counter("checks_total", 1, map[string]string{"status": "available"}))
	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/metrics", port))
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, ShutdownMetrics())
	assert.Nil(t, TelemetrySystem)
	assert.Nil(t, PrometheusExporter)
	assert.Zero(t, GetMetricsPort())
}

func TestInitMetricsRequiresNamespace(t *testing.T) {
	require.Error(t, InitMetrics("", 0))
	assert.Nil(t, PrometheusExporter)
}

func TestResolvePort(t *testing.T) {
	port, err := resolvePort("[::]:9464")
	require.NoError(t, err)
	assert.Equal(t, 9464, port)

	_, err = resolvePort(":0")
	require.Error(t, err)
	_, err = resolvePort("localhost")
	require.Error(t, err)
}
