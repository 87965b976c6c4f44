package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	gferrors "github.com/fulmenhq/gofulmen/errors"
	"golang.org/x/sync/errgroup"

	"github.com/namelens/domaincheck/internal/core"
	"github.com/namelens/domaincheck/internal/core/state"
	"github.com/namelens/domaincheck/internal/metrics"
)

// Check states reported per dependency.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
	StatusTimeout   = "timeout"
)

// ErrDegraded marks a dependency that still serves checks with reduced
// capacity. Wrap it to add detail.
var ErrDegraded = errors.New("degraded")

// HealthChecker is implemented by every dependency the check pipeline needs.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// CheckerFunc adapts a function to HealthChecker.
type CheckerFunc func(ctx context.Context) error

func (f CheckerFunc) CheckHealth(ctx context.Context) error { return f(ctx) }

// CheckStatus is the outcome of one dependency check.
type CheckStatus struct {
	Status    string `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// HealthResponse is the aggregate /health body.
type HealthResponse struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	Timestamp string                 `json:"timestamp"`
	Checks    map[string]CheckStatus `json:"checks,omitempty"`
}

// EndpointResponse is the body of the live, ready and startup endpoints.
type EndpointResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthManager runs the registered dependency checks behind /health.
// Liveness never touches dependencies; startup stays unavailable until
// MarkStarted is called after the startup self-test.
type HealthManager struct {
	version string
	timeout time.Duration

	mu       sync.RWMutex
	checkers map[string]HealthChecker
	started  atomic.Bool
}

// NewHealthManager creates a manager reporting version.
func NewHealthManager(version string) *HealthManager {
	return &HealthManager{
		version:  version,
		timeout:  5 * time.Second,
		checkers: make(map[string]HealthChecker),
	}
}

// RegisterChecker adds or replaces a named dependency check.
func (hm *HealthManager) RegisterChecker(name string, checker HealthChecker) {
	if checker == nil {
		return
	}
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.checkers[name] = checker
}

// Names lists the registered checks in order.
func (hm *HealthManager) Names() []string {
	hm.mu.RLock()
	defer hm.mu.RUnlock()
	names := make([]string, 0, len(hm.checkers))
	for name := range hm.checkers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MarkStarted flips /health/startup to healthy.
func (hm *HealthManager) MarkStarted() {
	hm.started.Store(true)
}

// Run executes every check concurrently, each bounded by ctx.
func (hm *HealthManager) Run(ctx context.Context) map[string]CheckStatus {
	hm.mu.RLock()
	checkers := make(map[string]HealthChecker, len(hm.checkers))
	for name, c := range hm.checkers {
		checkers[name] = c
	}
	hm.mu.RUnlock()

	var mu sync.Mutex
	results := make(map[string]CheckStatus, len(checkers))
	var g errgroup.Group
	for name, checker := range checkers {
		g.Go(func() error {
			status := runCheck(ctx, checker)
			metrics.RecordHealthCheck(name, status.Status, time.Duration(status.LatencyMS)*time.Millisecond)
			mu.Lock()
			results[name] = status
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func runCheck(ctx context.Context, checker HealthChecker) CheckStatus {
	started := time.Now()
	err := checker.CheckHealth(ctx)
	status := CheckStatus{LatencyMS: time.Since(started).Milliseconds()}
	switch {
	case err == nil:
		status.Status = StatusHealthy
	case errors.Is(err, ErrDegraded):
		status.Status = StatusDegraded
		status.Error = err.Error()
	case ctx.Err() != nil:
		status.Status = StatusTimeout
		status.Error = ctx.Err().Error()
	default:
		status.Status = StatusUnhealthy
		status.Error = err.Error()
	}
	return status
}

// Overall folds per-check states: any unhealthy check wins, then degraded
// or timed-out ones.
func Overall(checks map[string]CheckStatus) string {
	overall := StatusHealthy
	for _, check := range checks {
		switch check.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded, StatusTimeout:
			overall = StatusDegraded
		}
	}
	return overall
}

// HealthHandler serves GET /health with every check's detail.
func (hm *HealthManager) HealthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), hm.timeout)
	defer cancel()

	checks := hm.Run(ctx)
	status := Overall(checks)
	if status == StatusUnhealthy {
		respondWithError(w, r, healthEnvelope("aggregate health check failed", "", status, checks))
		return
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    status,
		Version:   hm.version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	})
}

// LivenessHandler serves GET /health/live; the process answering is enough.
func (hm *HealthManager) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, EndpointResponse{Status: StatusHealthy, Timestamp: time.Now().UTC()})
}

// ReadinessHandler serves GET /health/ready. A degraded dependency (e.g. a
// registry in adaptive backoff) still accepts checks.
func (hm *HealthManager) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), hm.timeout)
	defer cancel()

	checks := hm.Run(ctx)
	status := Overall(checks)
	if status == StatusUnhealthy {
		respondWithError(w, r, healthEnvelope("readiness check failed", "ready", status, checks))
		return
	}
	writeJSON(w, http.StatusOK, EndpointResponse{Status: status, Timestamp: time.Now().UTC()})
}

// StartupHandler serves GET /health/startup.
func (hm *HealthManager) StartupHandler(w http.ResponseWriter, r *http.Request) {
	if !hm.started.Load() {
		respondWithError(w, r, healthEnvelope("check pipeline is still starting", "startup", "starting", nil))
		return
	}
	writeJSON(w, http.StatusOK, EndpointResponse{Status: StatusHealthy, Timestamp: time.Now().UTC()})
}

func healthEnvelope(message, endpoint, status string, checks map[string]CheckStatus) *gferrors.ErrorEnvelope {
	envelope := gferrors.NewErrorEnvelope("SERVICE_UNAVAILABLE", message)

	details := map[string]interface{}{"status": status}
	if len(checks) > 0 {
		details["checks"] = checks
	}
	if endpoint != "" {
		details["endpoint"] = endpoint
	}
	envelope = envelope.WithDetails(details)

	contextData := map[string]interface{}{"status": status}
	if endpoint != "" {
		contextData["endpoint"] = endpoint
	}
	var failing []string
	for name, check := range checks {
		if check.Status != StatusHealthy {
			failing = append(failing, name)
		}
	}
	if len(failing) > 0 {
		sort.Strings(failing)
		contextData["unhealthy_checks"] = failing
	}
	envelope, _ = envelope.WithContext(contextData)
	return envelope
}

// healthCheckDomain is never registered; reading it exercises the state
// backend's read and integrity path without touching real entries.
const healthCheckDomain = "health-check.invalid"

// StateChecker reports whether the state backend answers reads.
func StateChecker(store StateReader) HealthChecker {
	return CheckerFunc(func(ctx context.Context) error {
		if store == nil {
			return errors.New("state store is not configured")
		}
		if _, err := store.Get(ctx, healthCheckDomain); err != nil && !errors.Is(err, state.ErrNotFound) {
			return err
		}
		return nil
	})
}

// BackoffLister reports registries in adaptive backoff.
type BackoffLister interface {
	BackedOff() []core.RegistryKey
}

// LimiterChecker reports degraded while any registry is in adaptive backoff.
func LimiterChecker(limiter BackoffLister) HealthChecker {
	return CheckerFunc(func(ctx context.Context) error {
		if limiter == nil {
			return nil
		}
		keys := limiter.BackedOff()
		if len(keys) == 0 {
			return nil
		}
		names := make([]string, len(keys))
		for i, key := range keys {
			names[i] = key.String()
		}
		return fmt.Errorf("%w: registries in backoff: %s", ErrDegraded, strings.Join(names, ", "))
	})
}
