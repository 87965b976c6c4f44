package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/namelens/domaincheck/internal/core"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestRateLimiterWindow(t *testing.T) {
	clock := newFakeClock()
	limiter := &RateLimiter{
		Rules: core.RateLimitConfig{
			PerTLD: map[string]core.RateLimitRule{
				"de": {MaxRequests: 2, Window: time.Minute},
			},
		},
		Clock: clock.Now,
	}
	key := core.NewRegistryKey("de", "https://rdap.denic.de")

	require.True(t, limiter.Check(key).Allowed)
	limiter.Record(key)
	clock.Advance(10 * time.Second)
	limiter.Record(key)

	decision := limiter.Check(key)
	require.False(t, decision.Allowed)
	require.Equal(t, 50*time.Second, decision.Wait)
	require.Equal(t, "Rate limit reached for tld:de: 2/2", decision.Reason)

	clock.Advance(50 * time.Second)
	require.True(t, limiter.Check(key).Allowed)
}

func TestRateLimiterMinDelay(t *testing.T) {
	clock := newFakeClock()
	limiter := &RateLimiter{
		Rules: core.RateLimitConfig{
			PerEndpoint: map[string]core.RateLimitRule{
				"rdap.example": {MaxRequests: 100, Window: time.Minute, MinDelay: 3 * time.Second},
			},
		},
		Clock: clock.Now,
	}
	key := core.NewRegistryKey("com", "https://rdap.example/v1")

	limiter.Record(key)
	clock.Advance(time.Second)

	decision := limiter.Check(key)
	require.False(t, decision.Allowed)
	require.Equal(t, 2*time.Second, decision.Wait)
	require.Equal(t, "Minimum delay for endpoint:https://rdap.example/v1", decision.Reason)
}

func TestRateLimiterReturnsLargestScopeWait(t *testing.T) {
	clock := newFakeClock()
	limiter := &RateLimiter{
		Rules: core.RateLimitConfig{
			PerTLD: map[string]core.RateLimitRule{
				"com": {MaxRequests: 10, Window: time.Minute, MinDelay: time.Second},
			},
			Global: &core.RateLimitRule{MaxRequests: 1, Window: 30 * time.Second},
		},
		Clock: clock.Now,
	}
	key := core.NewRegistryKey("com", "https://rdap.verisign.com/com/v1")

	limiter.Record(key)
	decision := limiter.Check(key)
	require.False(t, decision.Allowed)
	require.Equal(t, 30*time.Second, decision.Wait)
	require.Equal(t, "Rate limit reached for global: 1/1", decision.Reason)
}

func TestRateLimiterAdaptiveDelay(t *testing.T) {
	clock := newFakeClock()
	limiter := &RateLimiter{Clock: clock.Now}
	key := core.NewRegistryKey("com", "https://rdap.example")

	require.Zero(t, limiter.ApplyAdaptiveDelay(key, 500))
	require.Equal(t, 5*time.Second, limiter.ApplyAdaptiveDelay(key, 429))
	require.Equal(t, 10*time.Second, limiter.ApplyAdaptiveDelay(key, 503))
	require.Equal(t, 20*time.Second, limiter.ApplyAdaptiveDelay(key, 429))
	require.Equal(t, 3, limiter.ConsecutiveErrors(key))

	for i := 0; i < 10; i++ {
		limiter.ApplyAdaptiveDelay(key, 429)
	}
	require.Equal(t, MaxAdaptiveDelay, limiter.ApplyAdaptiveDelay(key, 429))

	limiter.Record(key)
	require.Zero(t, limiter.ConsecutiveErrors(key))
	require.Equal(t, 5*time.Second, limiter.ApplyAdaptiveDelay(key, 429))
}

func TestRateLimiterAdaptiveBaseUsesConfiguredMinDelay(t *testing.T) {
	limiter := &RateLimiter{
		Rules: core.RateLimitConfig{
			PerTLD: map[string]core.RateLimitRule{
				"de": {MaxRequests: 1, Window: time.Minute, MinDelay: 8 * time.Second},
			},
		},
		Clock: newFakeClock().Now,
	}
	key := core.NewRegistryKey("de", "https://rdap.denic.de")

	require.Equal(t, 8*time.Second, limiter.ApplyAdaptiveDelay(key, 429))
	require.Equal(t, 16*time.Second, limiter.ApplyAdaptiveDelay(key, 429))
}

func TestRateLimiterAdaptiveBackoffAddsToQuotaWait(t *testing.T) {
	clock := newFakeClock()
	limiter := &RateLimiter{
		Rules: core.RateLimitConfig{
			Global: &core.RateLimitRule{MaxRequests: 1, Window: 10 * time.Second},
		},
		Clock: clock.Now,
	}
	key := core.NewRegistryKey("com", "https://rdap.example")

	limiter.Record(key)
	limiter.ApplyAdaptiveDelay(key, 429)

	decision := limiter.Check(key)
	require.False(t, decision.Allowed)
	require.Equal(t, 15*time.Second, decision.Wait)
	require.Contains(t, decision.Reason, "Adaptive backoff for com:https://rdap.example")
}

func TestRateLimiterBackoffFromRetryAfter(t *testing.T) {
	clock := newFakeClock()
	limiter := &RateLimiter{Clock: clock.Now}
	key := core.NewRegistryKey("io", "https://rdap.nic.io")

	limiter.Backoff(key, 30*time.Second)
	limiter.Backoff(key, 5*time.Second)

	decision := limiter.Check(key)
	require.False(t, decision.Allowed)
	require.Equal(t, 30*time.Second, decision.Wait)

	clock.Advance(31 * time.Second)
	require.True(t, limiter.Check(key).Allowed)
}

func TestRateLimiterMargin(t *testing.T) {
	clock := newFakeClock()
	limiter := &RateLimiter{
		Rules: core.RateLimitConfig{
			PerTLD: map[string]core.RateLimitRule{
				"com": {MaxRequests: 10, Window: time.Minute},
			},
		},
		Clock: clock.Now,
	}
	limiter.ApplySafetyMargin(0.5)
	key := core.NewRegistryKey("com", "https://rdap.example")

	for i := 0; i < 5; i++ {
		require.True(t, limiter.Check(key).Allowed)
		limiter.Record(key)
	}
	require.False(t, limiter.Check(key).Allowed)
}

func TestRateLimiterSerializesSameRegistry(t *testing.T) {
	limiter := &RateLimiter{}
	key := core.NewRegistryKey("de", "https://rdap.denic.de")

	var inFlight, maxInFlight int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lease, err := limiter.Acquire(context.Background(), key)
			require.NoError(t, err)
			defer lease.Release()

			current := atomic.AddInt32(&inFlight, 1)
			for {
				observed := atomic.LoadInt32(&maxInFlight)
				if current <= observed || atomic.CompareAndSwapInt32(&maxInFlight, observed, current) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), maxInFlight)
}

func TestRateLimiterDifferentRegistriesRunConcurrently(t *testing.T) {
	limiter := &RateLimiter{}
	first := core.NewRegistryKey("de", "https://rdap.denic.de")
	second := core.NewRegistryKey("com", "https://rdap.verisign.com/com/v1")

	leaseA, err := limiter.Acquire(context.Background(), first)
	require.NoError(t, err)
	defer leaseA.Release()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	leaseB, err := limiter.Acquire(ctx, second)
	require.NoError(t, err)
	leaseB.Release()
}

func TestRateLimiterAcquireHonorsContext(t *testing.T) {
	limiter := &RateLimiter{}
	key := core.NewRegistryKey("de", "https://rdap.denic.de")

	lease, err := limiter.Acquire(context.Background(), key)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = limiter.Acquire(ctx, key)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	lease.Release()
	lease.Release()

	again, err := limiter.Acquire(context.Background(), key)
	require.NoError(t, err)
	again.Release()
}

func TestRateLimiterZeroMaxRequestsAllowsOne(t *testing.T) {
	clock := newFakeClock()
	limiter := &RateLimiter{
		Rules: core.RateLimitConfig{
			PerTLD: map[string]core.RateLimitRule{
				"de": {MaxRequests: 0, Window: time.Second},
			},
		},
		Clock: clock.Now,
	}
	key := core.NewRegistryKey("de", "https://rdap.denic.de")

	lease, err := limiter.Acquire(context.Background(), key)
	require.NoError(t, err)
	require.True(t, lease.Decision.Allowed)
	limiter.Record(key)
	lease.Release()

	decision := limiter.Check(key)
	require.False(t, decision.Allowed)
	require.Equal(t, time.Second, decision.Wait)
	require.Equal(t, "Rate limit reached for tld:de: 1/1", decision.Reason)
}

func TestRateLimiterAcquireReleasesLockOnPanic(t *testing.T) {
	limiter := &RateLimiter{
		Clock: func() time.Time { panic("clock failure") },
	}
	key := core.NewRegistryKey("de", "https://rdap.denic.de")

	require.PanicsWithValue(t, "clock failure", func() {
		_, _ = limiter.Acquire(context.Background(), key)
	})

	limiter.Clock = newFakeClock().Now
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	lease, err := limiter.Acquire(ctx, key)
	require.NoError(t, err)
	lease.Release()
}

func TestRateLimiterBackedOff(t *testing.T) {
	clock := newFakeClock()
	limiter := &RateLimiter{Clock: clock.Now}
	de := core.NewRegistryKey("de", "https://rdap.denic.de")
	com := core.NewRegistryKey("com", "https://rdap.verisign.com/com/v1")

	require.Empty(t, limiter.BackedOff())
	limiter.Backoff(de, time.Minute)
	limiter.Backoff(com, 10*time.Second)
	require.Equal(t, []core.RegistryKey{com, de}, limiter.BackedOff())

	clock.Advance(30 * time.Second)
	require.Equal(t, []core.RegistryKey{de}, limiter.BackedOff())
}

func TestRateLimiterNilIsPermissive(t *testing.T) {
	var limiter *RateLimiter
	key := core.NewRegistryKey("com", "https://rdap.example")

	lease, err := limiter.Acquire(context.Background(), key)
	require.NoError(t, err)
	require.True(t, lease.Decision.Allowed)
	lease.Release()
	limiter.Record(key)
	require.Zero(t, limiter.ApplyAdaptiveDelay(key, 429))
}
