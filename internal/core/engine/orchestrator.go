package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/namelens/domaincheck/internal/core"
)

// DefaultMaxRateLimitWaits bounds how often one phase re-checks the limiter
// after sleeping.
const DefaultMaxRateLimitWaits = 5

// Validator normalizes raw domain input.
type Validator interface {
	Validate(raw string) core.ValidationResult
}

// TLDResolver maps a TLD to its registry configuration.
type TLDResolver interface {
	Lookup(tld string) (core.TLDConfig, bool)
}

// RDAPQuerier performs one RDAP lookup against endpoint.
type RDAPQuerier interface {
	Query(ctx context.Context, domain, endpoint string, source core.Source) core.SourceResult
}

// WhoisQuerier performs one WHOIS lookup. An empty server selects the default
// server for the domain's TLD.
type WhoisQuerier interface {
	Query(ctx context.Context, domain, server string) core.SourceResult
}

// StateStore persists per-domain state across checks.
type StateStore interface {
	Get(ctx context.Context, domain string) (*core.DomainState, error)
	Record(ctx context.Context, result core.CheckResult) (core.DomainState, error)
	MarkNotified(ctx context.Context, domain string, at time.Time) error
}

// Notifier delivers availability changes. sent is true when any channel
// delivered the message.
type Notifier interface {
	Notify(ctx context.Context, result core.CheckResult, previous *core.DomainState) (sent bool, err error)
}

// Auditor receives structured audit events.
type Auditor interface {
	Info(component, message string, data map[string]any)
	Error(component, message string, data map[string]any)
}

// Recorder receives pipeline metrics.
type Recorder interface {
	CheckCompleted(result core.CheckResult, elapsed time.Duration)
	SourceQueried(result core.SourceResult, attempts int)
	RateLimitDelayed(key core.RegistryKey, wait time.Duration)
}

// Orchestrator sequences one domain check across validation, rate limiting,
// retries, source queries, the decision policy and side effects.
type Orchestrator struct {
	Validator   Validator
	TLDs        TLDResolver
	RDAP        RDAPQuerier
	Whois       WhoisQuerier
	RateLimiter *RateLimiter
	Retry       *RetryManager
	State       StateStore
	Notifier    Notifier
	Audit       Auditor
	Metrics     Recorder
	Logger      *logging.Logger

	Clock func() time.Time
	// Sleep waits out rate limit advice; defaults to SleepContext.
	Sleep             func(ctx context.Context, d time.Duration) error
	MaxRateLimitWaits int
}

type checkIDKey struct{}

// WithCheckID makes CheckDomain use id as the check ID instead of minting
// one, so callers can correlate a result with their own request.
func WithCheckID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, checkIDKey{}, id)
}

// CheckIDFromContext returns the ID set by WithCheckID.
func CheckIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(checkIDKey{}).(string)
	return id
}

type phaseResult struct {
	result  *core.SourceResult
	retries int
	delays  int
}

// CheckDomain runs the full pipeline for raw. It always returns a result;
// any failure degrades to TAKEN with a descriptive error.
func (o *Orchestrator) CheckDomain(ctx context.Context, raw string) (out core.OrchestratorResult) {
	if ctx == nil {
		ctx = context.Background()
	}
	started := time.Now()
	checkID := CheckIDFromContext(ctx)
	if checkID == "" {
		checkID = uuid.NewString()
	}

	defer func() {
		if recovered := recover(); recovered != nil {
			message := fmt.Sprintf("Internal error: %v", recovered)
			o.logError("Check aborted", zap.String("domain", raw), zap.String("error", message))
			out = o.failure(raw, checkID, started, message)
		}
	}()

	if o.Validator == nil {
		return o.failure(raw, checkID, started, "Validation error: no validator configured")
	}
	validation := o.Validator.Validate(raw)
	if !validation.Valid {
		message := "invalid domain"
		data := map[string]any{"domain": raw}
		if validation.Error != nil {
			message = validation.Error.Message
			data["code"] = string(validation.Error.Code)
		}
		o.auditError("DomainValidator", "Domain validation failed: "+message, data)
		return o.failure(raw, checkID, started, "Validation error: "+message)
	}

	domain := validation.Domain
	tld := validation.TLD
	if tld == "" {
		tld = domain[strings.LastIndex(domain, ".")+1:]
	}
	tld = strings.ToLower(tld)

	o.logDebug("Starting domain check",
		zap.String("domain", domain),
		zap.String("raw", raw),
		zap.String("tld", tld),
		zap.String("check_id", checkID))
	o.auditInfo("CheckOrchestrator", "Starting check for domain: "+domain, map[string]any{
		"raw_domain": raw,
		"canonical":  domain,
		"tld":        tld,
	})

	var cfg core.TLDConfig
	found := false
	if o.TLDs != nil {
		cfg, found = o.TLDs.Lookup(tld)
	}
	if !found {
		return o.failure(domain, checkID, started, "No configuration for TLD: "+tld)
	}
	if err := cfg.Validate(); err != nil {
		return o.failure(domain, checkID, started, fmt.Sprintf("Invalid configuration for TLD %s: %v", tld, err))
	}

	var errs []string
	metadata := core.CheckMetadata{CheckID: checkID}

	primaryPhase := o.queryRDAP(ctx, domain, tld, cfg.RDAPEndpoint, core.SourcePrimaryRDAP)
	metadata.RetryCount += primaryPhase.retries
	metadata.RateLimitDelays += primaryPhase.delays
	primary := primaryPhase.result
	if primary.Error != nil {
		errs = append(errs, "Primary RDAP error: "+primary.Error.Message)
	}

	var secondary, whois *core.SourceResult
	if primary.Status == core.StatusNotFound {
		if strings.TrimSpace(cfg.SecondaryRDAPEndpoint) != "" {
			secondaryPhase := o.queryRDAP(ctx, domain, tld, cfg.SecondaryRDAPEndpoint, core.SourceSecondaryRDAP)
			metadata.RetryCount += secondaryPhase.retries
			metadata.RateLimitDelays += secondaryPhase.delays
			secondary = secondaryPhase.result
			if secondary.Error != nil {
				errs = append(errs, "Secondary RDAP error: "+secondary.Error.Message)
			}
		}

		if (secondary == nil || secondary.Status == core.StatusError) && cfg.WhoisEnabled && o.Whois != nil {
			result := o.Whois.Query(ctx, domain, cfg.WhoisServer)
			result.Source = core.SourceWhois
			o.observeSource(result, 1)
			whois = &result
			if whois.Error != nil {
				errs = append(errs, "WHOIS error: "+whois.Error.Message)
			}
		}
	}

	metadata.TotalDurationMS = elapsedMS(started)
	result := BuildCheckResult(domain, primary, secondary, whois, metadata, o.now())

	if SourcesDisagree(primary, secondary) {
		o.logWarn("Primary and secondary RDAP disagree",
			zap.String("domain", domain),
			zap.String("primary", primary.Status.String()),
			zap.String("secondary", secondary.Status.String()))
	}

	o.logInfo("Domain check completed",
		zap.String("domain", domain),
		zap.String("status", result.Status.String()),
		zap.String("confidence", result.Confidence.String()),
		zap.Float64("duration_ms", result.Metadata.TotalDurationMS),
		zap.Int("retries", result.Metadata.RetryCount),
		zap.Int("rate_limit_delays", result.Metadata.RateLimitDelays))
	o.auditInfo("CheckOrchestrator", fmt.Sprintf("Check completed for %s: %s", domain, result.Status), map[string]any{
		"domain":      domain,
		"status":      result.Status.String(),
		"confidence":  result.Confidence.String(),
		"duration_ms": result.Metadata.TotalDurationMS,
	})
	if o.Metrics != nil {
		o.Metrics.CheckCompleted(result, time.Since(started))
	}

	sent, sideEffectErrs := o.persistAndNotify(ctx, result)
	errs = append(errs, sideEffectErrs...)

	return core.OrchestratorResult{
		Result:           result,
		NotificationSent: sent,
		Errors:           errs,
	}
}

// CheckDomains checks domains concurrently with at most concurrency checks in
// flight. Results keep the input order.
func (o *Orchestrator) CheckDomains(ctx context.Context, domains []string, concurrency int) []core.OrchestratorResult {
	if ctx == nil {
		ctx = context.Background()
	}
	if concurrency < 1 {
		concurrency = 1
	}

	results := make([]core.OrchestratorResult, len(domains))
	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, domain := range domains {
		g.Go(func() error {
			results[i] = o.CheckDomain(ctx, domain)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// queryRDAP runs one acquire, retry and record cycle against endpoint while
// holding the registry lease.
func (o *Orchestrator) queryRDAP(ctx context.Context, domain, tld, endpoint string, source core.Source) phaseResult {
	key := core.NewRegistryKey(tld, endpoint)
	phase := phaseResult{}

	lease, err := o.RateLimiter.Acquire(ctx, key)
	if err != nil {
		result := core.SourceResult{
			Source: source,
			Status: core.StatusError,
			Error: &core.SourceError{
				Code:    core.ErrorTimeout,
				Message: "Rate limiter wait aborted: " + err.Error(),
			},
		}
		phase.result = &result
		return phase
	}
	defer lease.Release()

	maxWaits := o.MaxRateLimitWaits
	if maxWaits <= 0 {
		maxWaits = DefaultMaxRateLimitWaits
	}
	for i := 0; i < maxWaits && !lease.Decision.Allowed; i++ {
		phase.delays++
		o.logInfo("Rate limit delay",
			zap.String("tld", tld),
			zap.String("endpoint", endpoint),
			zap.Duration("wait", lease.Decision.Wait),
			zap.String("reason", lease.Decision.Reason))
		o.auditInfo("RateLimiter", fmt.Sprintf("Rate limit delay: %s", lease.Decision.Wait), map[string]any{
			"tld":      tld,
			"endpoint": endpoint,
			"reason":   lease.Decision.Reason,
		})
		if o.Metrics != nil {
			o.Metrics.RateLimitDelayed(key, lease.Decision.Wait)
		}
		if err := o.sleep(ctx, lease.Decision.Wait); err != nil {
			break
		}
		lease.Recheck()
	}

	if o.RDAP == nil {
		result := core.SourceResult{
			Source: source,
			Status: core.StatusError,
			Error:  &core.SourceError{Code: core.ErrorNetwork, Message: "RDAP client not configured"},
		}
		phase.result = &result
		return phase
	}

	// Retries stay inside this lease and are paced by the retry backoff only.
	outcome := o.Retry.ExecuteQuery(ctx, source, func(ctx context.Context) core.SourceResult {
		result := o.RDAP.Query(ctx, domain, endpoint, source)
		result.Source = source
		return result
	})
	result := outcome.Result
	if outcome.Attempts > 1 {
		phase.retries = outcome.Attempts - 1
	}
	o.observeSource(result, outcome.Attempts)

	if result.Error == nil {
		o.RateLimiter.Record(key)
	}
	if result.HTTPStatusCode == 429 || result.HTTPStatusCode == 503 {
		delay := o.RateLimiter.ApplyAdaptiveDelay(key, result.HTTPStatusCode)
		if retryAfter := retryAfterFromDetails(result.Details); retryAfter > 0 {
			o.RateLimiter.Backoff(key, retryAfter)
		}
		o.logWarn("Adaptive delay applied",
			zap.String("tld", tld),
			zap.String("endpoint", endpoint),
			zap.Int("http_status", result.HTTPStatusCode),
			zap.Duration("delay", delay))
		o.auditInfo("RateLimiter", fmt.Sprintf("Adaptive delay applied: %s", delay), map[string]any{
			"tld":         tld,
			"http_status": result.HTTPStatusCode,
		})
	}

	phase.result = &result
	return phase
}

func (o *Orchestrator) persistAndNotify(ctx context.Context, result core.CheckResult) (bool, []string) {
	var errs []string
	var previous *core.DomainState

	if o.State != nil {
		state, err := o.State.Get(ctx, result.Domain)
		if err != nil {
			errs = append(errs, "State read error: "+err.Error())
			o.auditError("StateStore", "Failed to read state: "+err.Error(), map[string]any{"domain": result.Domain})
		} else {
			previous = state
		}
		if _, err := o.State.Record(ctx, result); err != nil {
			errs = append(errs, "State save error: "+err.Error())
			o.logError("Failed to save state", zap.String("domain", result.Domain), zap.Error(err))
			o.auditError("StateStore", "Failed to save state: "+err.Error(), map[string]any{"domain": result.Domain})
		}
	}

	if o.Notifier == nil {
		return false, errs
	}

	sent, err := o.Notifier.Notify(ctx, result, previous)
	if err != nil {
		errs = append(errs, "Notification error: "+err.Error())
		o.logWarn("Notification delivery failed", zap.String("domain", result.Domain), zap.Error(err))
	}
	if sent && o.State != nil {
		if err := o.State.MarkNotified(ctx, result.Domain, o.now()); err != nil {
			errs = append(errs, "State mark error: "+err.Error())
		}
	}
	return sent, errs
}

func (o *Orchestrator) failure(domain, checkID string, started time.Time, message string) core.OrchestratorResult {
	metadata := core.CheckMetadata{CheckID: checkID, TotalDurationMS: elapsedMS(started)}
	result := TakenResult(domain, metadata, o.now())
	o.logWarn("Domain check degraded to taken", zap.String("domain", domain), zap.String("reason", message))
	if o.Metrics != nil {
		o.Metrics.CheckCompleted(result, time.Since(started))
	}
	return core.OrchestratorResult{
		Result: result,
		Errors: []string{message},
	}
}

func (o *Orchestrator) observeSource(result core.SourceResult, attempts int) {
	if o.Metrics != nil {
		o.Metrics.SourceQueried(result, attempts)
	}
}

func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) error {
	if o.Sleep != nil {
		return o.Sleep(ctx, d)
	}
	return SleepContext(ctx, d)
}

func (o *Orchestrator) now() time.Time {
	if o != nil && o.Clock != nil {
		return o.Clock()
	}
	return time.Now().UTC()
}

func (o *Orchestrator) logInfo(msg string, fields ...zap.Field) {
	if o.Logger != nil {
		o.Logger.Info(msg, fields...)
	}
}

func (o *Orchestrator) logDebug(msg string, fields ...zap.Field) {
	if o.Logger != nil {
		o.Logger.Debug(msg, fields...)
	}
}

func (o *Orchestrator) logWarn(msg string, fields ...zap.Field) {
	if o.Logger != nil {
		o.Logger.Warn(msg, fields...)
	}
}

func (o *Orchestrator) logError(msg string, fields ...zap.Field) {
	if o.Logger != nil {
		o.Logger.Error(msg, fields...)
	}
}

func (o *Orchestrator) auditInfo(component, message string, data map[string]any) {
	if o.Audit != nil {
		o.Audit.Info(component, message, data)
	}
}

func (o *Orchestrator) auditError(component, message string, data map[string]any) {
	if o.Audit != nil {
		o.Audit.Error(component, message, data)
	}
}

func elapsedMS(started time.Time) float64 {
	return float64(time.Since(started).Microseconds()) / 1000
}

// retryAfterFromDetails reads the Retry-After hint recorded by the RDAP client.
func retryAfterFromDetails(details map[string]any) time.Duration {
	if details == nil {
		return 0
	}
	switch value := details["retry_after_seconds"].(type) {
	case int:
		return time.Duration(value) * time.Second
	case int64:
		return time.Duration(value) * time.Second
	case float64:
		return time.Duration(value * float64(time.Second))
	case string:
		seconds, err := strconv.Atoi(strings.TrimSpace(value))
		if err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return 0
}
