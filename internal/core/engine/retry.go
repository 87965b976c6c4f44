package engine

import (
	"context"
	"errors"
	"time"

	"github.com/namelens/domaincheck/internal/core"
)

// AttemptKind tags the outcome of one attempt.
type AttemptKind int

const (
	AttemptSuccess AttemptKind = iota
	AttemptRetryable
	AttemptFatal
)

// Attempt is what an operation reports for a single try.
type Attempt[T any] struct {
	Kind  AttemptKind
	Value T
	Err   error
}

// Succeeded wraps a successful value.
func Succeeded[T any](value T) Attempt[T] {
	return Attempt[T]{Kind: AttemptSuccess, Value: value}
}

// Retryable marks a transient failure.
func Retryable[T any](err error) Attempt[T] {
	return Attempt[T]{Kind: AttemptRetryable, Err: err}
}

// Fatal marks a failure that must not be retried.
func Fatal[T any](err error) Attempt[T] {
	return Attempt[T]{Kind: AttemptFatal, Err: err}
}

// Outcome summarizes a retried operation.
type Outcome[T any] struct {
	Success   bool
	Result    T
	Attempts  int
	LastError error
}

// QueryOutcome is the final response of a retried source query.
type QueryOutcome struct {
	Result   core.SourceResult
	Attempts int
}

// ErrRetriesExhausted is reported when no attempt could be made or completed.
var ErrRetriesExhausted = errors.New("max retries exhausted")

// RetryManager applies bounded exponential backoff. It holds no mutable state
// and may be shared.
type RetryManager struct {
	Config core.RetryConfig
	// Sleep waits between attempts; defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry is called before each backoff sleep.
	OnRetry func(attempt int, delay time.Duration)
}

// NewRetryManager creates a manager for cfg.
func NewRetryManager(cfg core.RetryConfig) *RetryManager {
	return &RetryManager{Config: cfg}
}

// Delay returns min(base * 2^n, max) for the zero-indexed attempt n.
func (m *RetryManager) Delay(n int) time.Duration {
	cfg := m.config()
	if n < 0 {
		n = 0
	}
	delay := cfg.BaseDelay
	for i := 0; i < n && delay < cfg.MaxDelay; i++ {
		delay *= 2
	}
	if delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	return delay
}

// MaxAttempts is max_retries + 1.
func (m *RetryManager) MaxAttempts() int {
	retries := m.config().MaxRetries
	if retries < 0 {
		retries = 0
	}
	return retries + 1
}

// ShouldRetry reports whether a source response warrants another attempt.
func (m *RetryManager) ShouldRetry(result core.SourceResult) bool {
	if result.Status == core.StatusFound || result.Error == nil {
		return false
	}
	return m.config().IsRetryable(result.Error.Code)
}

// ExecuteWithRetry runs op until it succeeds, fails fatally, or the attempt
// budget is spent. It never panics for expected conditions.
func ExecuteWithRetry[T any](ctx context.Context, m *RetryManager, op func(ctx context.Context) Attempt[T]) Outcome[T] {
	if ctx == nil {
		ctx = context.Background()
	}
	if m == nil {
		m = &RetryManager{}
	}

	var outcome Outcome[T]
	maxAttempts := m.MaxAttempts()
	for outcome.Attempts < maxAttempts {
		if err := ctx.Err(); err != nil {
			outcome.LastError = err
			return outcome
		}

		attempt := op(ctx)
		outcome.Attempts++
		switch attempt.Kind {
		case AttemptSuccess:
			outcome.Success = true
			outcome.Result = attempt.Value
			outcome.LastError = nil
			return outcome
		case AttemptFatal:
			outcome.LastError = attempt.Err
			return outcome
		default:
			outcome.LastError = attempt.Err
		}

		if outcome.Attempts >= maxAttempts {
			break
		}
		if err := m.backoff(ctx, outcome.Attempts-1); err != nil {
			outcome.LastError = err
			return outcome
		}
	}

	if outcome.LastError == nil {
		outcome.LastError = ErrRetriesExhausted
	}
	return outcome
}

// ExecuteQuery runs a source query with protocol-aware stop conditions: FOUND
// and clean NOT_FOUND stop immediately, retryable errors are retried until the
// budget is spent, and anything else is returned as-is.
func (m *RetryManager) ExecuteQuery(ctx context.Context, source core.Source, op func(ctx context.Context) core.SourceResult) QueryOutcome {
	if ctx == nil {
		ctx = context.Background()
	}
	if m == nil {
		m = &RetryManager{}
	}

	var last *core.SourceResult
	attempts := 0
	maxAttempts := m.MaxAttempts()
	for attempts < maxAttempts {
		if ctx.Err() != nil {
			break
		}

		result := op(ctx)
		attempts++
		last = &result

		if !m.ShouldRetry(result) || attempts >= maxAttempts {
			break
		}
		if err := m.backoff(ctx, attempts-1); err != nil {
			break
		}
	}

	if last == nil {
		return QueryOutcome{Result: exhaustedResult(source), Attempts: attempts}
	}
	return QueryOutcome{Result: *last, Attempts: attempts}
}

func (m *RetryManager) backoff(ctx context.Context, n int) error {
	delay := m.Delay(n)
	if m.OnRetry != nil {
		m.OnRetry(n+1, delay)
	}
	sleep := m.Sleep
	if sleep == nil {
		sleep = SleepContext
	}
	return sleep(ctx, delay)
}

func (m *RetryManager) config() core.RetryConfig {
	if m == nil {
		return core.RetryConfig{}
	}
	return m.Config
}

func exhaustedResult(source core.Source) core.SourceResult {
	return core.SourceResult{
		Source: source,
		Status: core.StatusError,
		Error: &core.SourceError{
			Code:    core.ErrorNetwork,
			Message: "Max retries exhausted",
		},
	}
}

// SleepContext waits for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
