package metrics

import (
	"time"

	"github.com/namelens/domaincheck/internal/core"
	"github.com/namelens/domaincheck/internal/observability"
)

// Pipeline metrics following Prometheus conventions
var (
	// Check metrics
	ChecksTotal       = "domaincheck_checks_total"
	CheckDuration     = "domaincheck_check_duration_ms"
	SourceQueries     = "domaincheck_source_queries_total"
	SourceDuration    = "domaincheck_source_duration_ms"
	SourceRetries     = "domaincheck_source_retries_total"
	RateLimitDelays   = "domaincheck_rate_limit_delays_total"
	RateLimitWaitMS   = "domaincheck_rate_limit_wait_ms"
	Notifications     = "domaincheck_notifications_total"
	ScheduledRuns     = "domaincheck_scheduled_runs_total"
	SelfTestEndpoints = "domaincheck_selftest_endpoint_checks_total"
	SelfTestDuration  = "domaincheck_selftest_endpoint_duration_ms"

	// Health check metrics
	HealthCheckTotal    = "domaincheck_health_checks_total"
	HealthCheckDuration = "domaincheck_health_check_duration_ms"

	// Server lifecycle metrics
	ServerStartTime = "domaincheck_server_start_time_seconds"
)

// Pipeline records orchestrator events into the global telemetry system.
// The zero value is ready to use; recording is a no-op while telemetry is
// disabled.
type Pipeline struct{}

// CheckCompleted records one finished domain check.
func (Pipeline) CheckCompleted(result core.CheckResult, elapsed time.Duration) {
	sys := observability.TelemetrySystem
	if sys == nil {
		return
	}
	tags := map[string]string{
		"status":     result.Status.String(),
		"confidence": result.Confidence.String(),
	}
	_ = sys.Counter(ChecksTotal, 1, tags)
	_ = sys.Histogram(CheckDuration, elapsed, tags)
}

// SourceQueried records the final result of one retried source query.
func (Pipeline) SourceQueried(result core.SourceResult, attempts int) {
	sys := observability.TelemetrySystem
	if sys == nil {
		return
	}
	outcome := result.Status.String()
	if result.Error != nil {
		outcome = string(result.Error.Code)
	}
	tags := map[string]string{
		"source":  result.Source.String(),
		"outcome": outcome,
	}
	_ = sys.Counter(SourceQueries, 1, tags)
	_ = sys.Histogram(SourceDuration, time.Duration(result.ResponseTimeMS*float64(time.Millisecond)), map[string]string{
		"source": result.Source.String(),
	})
	if attempts > 1 {
		_ = sys.Counter(SourceRetries, float64(attempts-1), map[string]string{
			"source": result.Source.String(),
		})
	}
}

// RateLimitDelayed records a limiter-imposed wait.
func (Pipeline) RateLimitDelayed(key core.RegistryKey, wait time.Duration) {
	sys := observability.TelemetrySystem
	if sys == nil {
		return
	}
	tags := map[string]string{"tld": key.TLD}
	_ = sys.Counter(RateLimitDelays, 1, tags)
	_ = sys.Histogram(RateLimitWaitMS, wait, tags)
}

// RecordNotification records one channel delivery outcome.
func RecordNotification(channel string, success bool) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			Notifications,
			1,
			map[string]string{
				"channel": channel,
				"status":  outcomeLabel(success),
			},
		)
	}
}

// RecordScheduledRun records one scheduler task execution.
func RecordScheduledRun(task string, success bool) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			ScheduledRuns,
			1,
			map[string]string{
				"task":   task,
				"status": outcomeLabel(success),
			},
		)
	}
}

// RecordSelfTestEndpoint records one self-test endpoint check.
func RecordSelfTestEndpoint(kind string, reachable bool, duration time.Duration) {
	if observability.TelemetrySystem != nil {
		tags := map[string]string{"kind": kind, "status": outcomeLabel(reachable)}
		_ = observability.TelemetrySystem.Counter(SelfTestEndpoints, 1, tags)
		_ = observability.TelemetrySystem.Histogram(SelfTestDuration, duration, map[string]string{"kind": kind})
	}
}

// RecordHealthCheck records one dependency check behind /health; status is
// healthy, degraded, unhealthy or timeout.
func RecordHealthCheck(checkName, status string, duration time.Duration) {
	sys := observability.TelemetrySystem
	if sys == nil {
		return
	}
	_ = sys.Counter(HealthCheckTotal, 1, map[string]string{"check": checkName, "status": status})
	_ = sys.Histogram(HealthCheckDuration, duration, map[string]string{"check": checkName})
}

// SetServerStartTime records the server start time (Unix timestamp)
func SetServerStartTime(timestamp int64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(
			ServerStartTime,
			float64(timestamp),
			nil,
		)
	}
}

func outcomeLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
