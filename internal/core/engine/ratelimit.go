package engine

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/namelens/domaincheck/internal/core"
)

const (
	// DefaultAdaptiveBaseDelay is the smallest base for adaptive backoff.
	DefaultAdaptiveBaseDelay = 5 * time.Second
	// MaxAdaptiveDelay caps adaptive backoff.
	MaxAdaptiveDelay = 300 * time.Second
)

// DefaultRateLimits provides conservative defaults when no rules are configured.
var DefaultRateLimits = core.RateLimitConfig{
	PerTLD: map[string]core.RateLimitRule{
		"de": {MaxRequests: 1, Window: 5 * time.Second, MinDelay: 5 * time.Second},
	},
	PerEndpoint: map[string]core.RateLimitRule{
		"rdap.verisign.com": {MaxRequests: 30, Window: time.Minute, MinDelay: time.Second},
		"rdap.nic.google":   {MaxRequests: 30, Window: time.Minute, MinDelay: time.Second},
		"rdap.nic.io":       {MaxRequests: 10, Window: 10 * time.Second},
	},
	Global: &core.RateLimitRule{MaxRequests: 60, Window: time.Minute},
}

// RateLimiter serializes access per registry and enforces windowed quotas
// across TLD, endpoint, global and caller-identity scopes. The zero value
// allows everything and still serializes registries.
type RateLimiter struct {
	Rules    core.RateLimitConfig
	Identity string
	Clock    func() time.Time
	Margin   float64

	mu          sync.Mutex
	locks       map[core.RegistryKey]chan struct{}
	windows     map[string][]time.Time
	errorCounts map[core.RegistryKey]int
	backoff     map[core.RegistryKey]time.Time
}

// NewRateLimiter creates a limiter for the given rules.
func NewRateLimiter(rules core.RateLimitConfig) *RateLimiter {
	return &RateLimiter{Rules: rules}
}

// Lease is exclusive access to one registry. Release must be called on every
// path; it is safe to call more than once.
type Lease struct {
	Decision core.RateDecision

	key     core.RegistryKey
	limiter *RateLimiter
	once    sync.Once
	release func()
}

// Key returns the registry this lease guards.
func (l *Lease) Key() core.RegistryKey {
	if l == nil {
		return core.RegistryKey{}
	}
	return l.key
}

// Recheck re-evaluates the quota while still holding the lease.
func (l *Lease) Recheck() core.RateDecision {
	if l == nil || l.limiter == nil {
		return core.RateDecision{Allowed: true}
	}
	l.Decision = l.limiter.Check(l.key)
	return l.Decision
}

// Release gives up exclusive access.
func (l *Lease) Release() {
	if l == nil {
		return
	}
	l.once.Do(func() {
		if l.release != nil {
			l.release()
		}
	})
}

// Acquire blocks until the registry is free (or ctx is done) and returns a
// lease carrying the quota decision. The wait is advisory.
func (r *RateLimiter) Acquire(ctx context.Context, key core.RegistryKey) (*Lease, error) {
	if r == nil {
		return &Lease{key: key, Decision: core.RateDecision{Allowed: true}}, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	lock := r.registryLock(key)
	select {
	case lock <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	lease := &Lease{
		key:     key,
		limiter: r,
		release: func() { <-lock },
	}
	defer func() {
		if p := recover(); p != nil {
			lease.Release()
			panic(p)
		}
	}()
	lease.Decision = r.Check(key)
	return lease, nil
}

// Check evaluates every applicable scope and returns the largest wait. An
// active adaptive backoff is added on top of the quota wait.
func (r *RateLimiter) Check(key core.RegistryKey) core.RateDecision {
	if r == nil {
		return core.RateDecision{Allowed: true}
	}

	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()

	decision := core.RateDecision{}
	for _, scope := range r.scopes(key) {
		wait, reason := r.scopeWait(scope, now)
		if wait > decision.Wait {
			decision.Wait = wait
			decision.Reason = reason
		}
	}

	if until, ok := r.backoff[key]; ok {
		if remaining := until.Sub(now); remaining > 0 {
			decision.Wait += remaining
			reason := fmt.Sprintf("Adaptive backoff for %s", key)
			if decision.Reason == "" {
				decision.Reason = reason
			} else {
				decision.Reason += "; " + reason
			}
		} else {
			delete(r.backoff, key)
		}
	}

	decision.Allowed = decision.Wait <= 0
	if decision.Wait < 0 {
		decision.Wait = 0
	}
	return decision
}

// Record logs a successful request against every applicable scope and resets
// the registry's consecutive error counter.
func (r *RateLimiter) Record(key core.RegistryKey) {
	if r == nil {
		return
	}

	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.windows == nil {
		r.windows = make(map[string][]time.Time)
	}
	for _, scope := range r.scopes(key) {
		timestamps := prune(r.windows[scope.name], now.Add(-scope.rule.Window))
		r.windows[scope.name] = append(timestamps, now)
	}
	if r.errorCounts != nil {
		r.errorCounts[key] = 0
	}
}

// ApplyAdaptiveDelay reacts to registry overload (HTTP 429/503). It returns
// the backoff now in force for the registry, or zero for other statuses.
func (r *RateLimiter) ApplyAdaptiveDelay(key core.RegistryKey, httpStatus int) time.Duration {
	if r == nil || (httpStatus != 429 && httpStatus != 503) {
		return 0
	}

	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.errorCounts == nil {
		r.errorCounts = make(map[core.RegistryKey]int)
	}
	r.errorCounts[key]++
	count := r.errorCounts[key]

	base := DefaultAdaptiveBaseDelay
	if rule, ok := r.tldRule(key.TLD); ok && rule.MinDelay > base {
		base = rule.MinDelay
	}
	if rule, ok := r.endpointRule(key.Endpoint); ok && rule.MinDelay > base {
		base = rule.MinDelay
	}

	delay := base
	for i := 1; i < count && delay < MaxAdaptiveDelay; i++ {
		delay *= 2
	}
	if delay > MaxAdaptiveDelay {
		delay = MaxAdaptiveDelay
	}

	r.extendBackoffLocked(key, now.Add(delay))
	return delay
}

// Backoff extends the registry's backoff window, e.g. from a Retry-After
// header. Shorter windows never shrink an existing one.
func (r *RateLimiter) Backoff(key core.RegistryKey, wait time.Duration) {
	if r == nil || wait <= 0 {
		return
	}
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extendBackoffLocked(key, now.Add(wait))
}

// ConsecutiveErrors returns the registry's current overload count.
func (r *RateLimiter) ConsecutiveErrors(key core.RegistryKey) int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errorCounts[key]
}

// BackedOff lists registries whose adaptive backoff window is still open,
// ordered by key.
func (r *RateLimiter) BackedOff() []core.RegistryKey {
	if r == nil {
		return nil
	}
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()

	var keys []core.RegistryKey
	for key, until := range r.backoff {
		if until.After(now) {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

// ApplySafetyMargin scales every max_requests by a ratio (0-1].
func (r *RateLimiter) ApplySafetyMargin(margin float64) {
	if r == nil {
		return
	}
	if margin <= 0 || margin > 1 {
		return
	}
	r.Margin = margin
}

type rateScope struct {
	name string
	rule core.RateLimitRule
}

// scopes lists the rules applying to key. Callers hold r.mu.
func (r *RateLimiter) scopes(key core.RegistryKey) []rateScope {
	scopes := make([]rateScope, 0, 4)
	if rule, ok := r.tldRule(key.TLD); ok {
		scopes = append(scopes, rateScope{name: "tld:" + key.TLD, rule: r.applyMargin(rule)})
	}
	if rule, ok := r.endpointRule(key.Endpoint); ok {
		scopes = append(scopes, rateScope{name: "endpoint:" + key.Endpoint, rule: r.applyMargin(rule)})
	}
	if r.Rules.Global != nil {
		scopes = append(scopes, rateScope{name: "global", rule: r.applyMargin(*r.Rules.Global)})
	}
	if r.Rules.PerIdentity != nil {
		identity := strings.TrimSpace(r.Identity)
		if identity == "" {
			identity = "local"
		}
		scopes = append(scopes, rateScope{name: "identity:" + identity, rule: r.applyMargin(*r.Rules.PerIdentity)})
	}
	return scopes
}

func (r *RateLimiter) scopeWait(scope rateScope, now time.Time) (time.Duration, string) {
	if r.windows == nil {
		r.windows = make(map[string][]time.Time)
	}
	timestamps := prune(r.windows[scope.name], now.Add(-scope.rule.Window))
	r.windows[scope.name] = timestamps

	maxRequests := max(scope.rule.MaxRequests, 1)
	if len(timestamps) >= maxRequests {
		wait := timestamps[0].Add(scope.rule.Window).Sub(now)
		return wait, fmt.Sprintf("Rate limit reached for %s: %d/%d", scope.name, len(timestamps), maxRequests)
	}

	if scope.rule.MinDelay > 0 && len(timestamps) > 0 {
		elapsed := now.Sub(timestamps[len(timestamps)-1])
		if wait := scope.rule.MinDelay - elapsed; wait > 0 {
			return wait, fmt.Sprintf("Minimum delay for %s", scope.name)
		}
	}

	return 0, ""
}

func (r *RateLimiter) tldRule(tld string) (core.RateLimitRule, bool) {
	rule, ok := r.Rules.PerTLD[tld]
	return rule, ok
}

// endpointRule matches the full endpoint first, then its hostname.
func (r *RateLimiter) endpointRule(endpoint string) (core.RateLimitRule, bool) {
	if len(r.Rules.PerEndpoint) == 0 {
		return core.RateLimitRule{}, false
	}
	if rule, ok := r.Rules.PerEndpoint[endpoint]; ok {
		return rule, true
	}
	if parsed, err := url.Parse(endpoint); err == nil && parsed.Hostname() != "" {
		if rule, ok := r.Rules.PerEndpoint[parsed.Hostname()]; ok {
			return rule, true
		}
	}
	return core.RateLimitRule{}, false
}

func (r *RateLimiter) extendBackoffLocked(key core.RegistryKey, until time.Time) {
	if r.backoff == nil {
		r.backoff = make(map[core.RegistryKey]time.Time)
	}
	if current, ok := r.backoff[key]; ok && current.After(until) {
		return
	}
	r.backoff[key] = until
}

func (r *RateLimiter) registryLock(key core.RegistryKey) chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.locks == nil {
		r.locks = make(map[core.RegistryKey]chan struct{})
	}
	lock, ok := r.locks[key]
	if !ok {
		lock = make(chan struct{}, 1)
		r.locks[key] = lock
	}
	return lock
}

func (r *RateLimiter) now() time.Time {
	if r != nil && r.Clock != nil {
		return r.Clock()
	}
	return time.Now().UTC()
}

// Effective returns rule as enforced after the safety margin.
func (r *RateLimiter) Effective(rule core.RateLimitRule) core.RateLimitRule {
	return r.applyMargin(rule)
}

func (r *RateLimiter) applyMargin(rule core.RateLimitRule) core.RateLimitRule {
	if r == nil || r.Margin <= 0 || r.Margin > 1 {
		return rule
	}
	adjusted := int(math.Floor(float64(rule.MaxRequests) * r.Margin))
	if adjusted < 1 {
		adjusted = 1
	}
	rule.MaxRequests = adjusted
	return rule
}

// prune drops timestamps at or before cutoff. timestamps are ascending.
func prune(timestamps []time.Time, cutoff time.Time) []time.Time {
	idx := 0
	for idx < len(timestamps) && !timestamps[idx].After(cutoff) {
		idx++
	}
	if idx == 0 {
		return timestamps
	}
	return append(timestamps[:0], timestamps[idx:]...)
}
