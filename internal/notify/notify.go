// Package notify delivers domain availability changes to chat, mail and
// webhook channels.
package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/namelens/domaincheck/internal/config"
	"github.com/namelens/domaincheck/internal/core"
	"github.com/namelens/domaincheck/internal/core/engine"
	"github.com/namelens/domaincheck/internal/i18n"
	"github.com/namelens/domaincheck/internal/metrics"
)

const auditComponent = "notify"

// Message is the payload handed to every channel.
type Message struct {
	Domain    string
	Status    core.Availability
	Timestamp time.Time
}

// Channel delivers one message to one destination.
type Channel interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// DeliveryError is returned when a channel answers with a non-success status.
type DeliveryError struct {
	Channel    string
	StatusCode int
	Message    string
}

func (e *DeliveryError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: http %d", e.Channel, e.StatusCode)
	}
	return fmt.Sprintf("%s: http %d: %s", e.Channel, e.StatusCode, e.Message)
}

// Retryable reports whether another attempt could succeed.
func (e *DeliveryError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// Result is the delivery outcome for one channel.
type Result struct {
	Channel  string `json:"channel"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
	Attempts int    `json:"attempts"`
}

// ShouldNotify reports whether a verdict warrants a notification: only a
// transition into AVAILABLE is announced.
func ShouldNotify(status core.Availability, previous *core.DomainState) bool {
	if status != core.AvailabilityAvailable {
		return false
	}
	return previous == nil || previous.LastStatus != core.AvailabilityAvailable
}

// Router fans a message out to every channel with pacing and retries.
type Router struct {
	Channels []Channel
	Retry    *engine.RetryManager
	// RatePerMinute paces each channel independently; zero disables pacing.
	RatePerMinute float64
	// Simulation logs deliveries instead of sending them.
	Simulation bool
	Logger     *logging.Logger
	Audit      engine.Auditor

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	last     []Result
}

// FromConfig builds a router with every configured channel.
func FromConfig(cfg config.NotificationsConfig, lang string, simulation bool, client *http.Client) *Router {
	tr := i18n.New(lang)
	var channels []Channel
	if cfg.Telegram.Configured() {
		channels = append(channels, &Telegram{
			BotToken:   cfg.Telegram.BotToken,
			ChatID:     cfg.Telegram.ChatID,
			APIURL:     cfg.Telegram.APIURL,
			HTTPClient: client,
			Translator: tr,
		})
	}
	if cfg.Discord.Configured() {
		channels = append(channels, &Discord{
			WebhookURL: cfg.Discord.WebhookURL,
			HTTPClient: client,
			Translator: tr,
		})
	}
	if cfg.Email.Configured() {
		channels = append(channels, &Email{
			Host:       cfg.Email.SMTPHost,
			Port:       cfg.Email.SMTPPort,
			Username:   cfg.Email.Username,
			Password:   cfg.Email.Password,
			From:       cfg.Email.From,
			To:         append([]string(nil), cfg.Email.To...),
			Translator: tr,
		})
	}
	if cfg.Webhook.Configured() {
		channels = append(channels, &Webhook{
			URL:        cfg.Webhook.URL,
			Headers:    cfg.Webhook.Headers,
			Secret:     cfg.Webhook.Secret,
			HTTPClient: client,
			Translator: tr,
		})
	}

	return &Router{
		Channels:      channels,
		Retry:         engine.NewRetryManager(cfg.Retry),
		RatePerMinute: cfg.RatePerMinute,
		Simulation:    simulation,
	}
}

// Names lists the active channel names.
func (r *Router) Names() []string {
	names := make([]string, 0, len(r.Channels))
	for _, ch := range r.Channels {
		names = append(names, ch.Name())
	}
	return names
}

// LastResults returns the per-channel results of the most recent dispatch.
func (r *Router) LastResults() []Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Result(nil), r.last...)
}

// Notify delivers result when it is a transition into AVAILABLE. sent is true
// when at least one channel delivered the message.
func (r *Router) Notify(ctx context.Context, result core.CheckResult, previous *core.DomainState) (bool, error) {
	if !ShouldNotify(result.Status, previous) {
		return false, nil
	}
	if len(r.Channels) == 0 {
		return false, nil
	}

	results := r.Dispatch(ctx, Message{Domain: result.Domain, Status: result.Status, Timestamp: result.Timestamp})
	var failures []string
	for _, res := range results {
		if res.Success {
			return true, nil
		}
		failures = append(failures, res.Channel+": "+res.Error)
	}
	return false, fmt.Errorf("all channels failed: %s", strings.Join(failures, "; "))
}

// Dispatch sends msg to every channel and returns one result per channel.
// Channels are tried sequentially in configuration order.
func (r *Router) Dispatch(ctx context.Context, msg Message) []Result {
	results := make([]Result, 0, len(r.Channels))
	for _, ch := range r.Channels {
		results = append(results, r.deliver(ctx, ch, msg))
	}

	r.mu.Lock()
	r.last = results
	r.mu.Unlock()
	return results
}

func (r *Router) deliver(ctx context.Context, ch Channel, msg Message) Result {
	name := ch.Name()
	if r.Simulation {
		r.logInfo("Simulated notification", zap.String("channel", name), zap.String("domain", msg.Domain))
		metrics.RecordNotification(name, true)
		return Result{Channel: name, Success: true, Attempts: 1}
	}

	limiter := r.limiter(name)
	var attemptErrors []string
	outcome := engine.ExecuteWithRetry(ctx, r.Retry, func(ctx context.Context) engine.Attempt[struct{}] {
		if err := limiter.Wait(ctx); err != nil {
			attemptErrors = append(attemptErrors, err.Error())
			return engine.Fatal[struct{}](err)
		}
		err := ch.Send(ctx, msg)
		if err == nil {
			return engine.Succeeded(struct{}{})
		}
		attemptErrors = append(attemptErrors, err.Error())
		r.logWarn("Notification attempt failed",
			zap.String("channel", name),
			zap.String("domain", msg.Domain),
			zap.Int("attempt", len(attemptErrors)),
			zap.Error(err))
		if retryable(err) {
			return engine.Retryable[struct{}](err)
		}
		return engine.Fatal[struct{}](err)
	})

	metrics.RecordNotification(name, outcome.Success)
	res := Result{Channel: name, Success: outcome.Success, Attempts: outcome.Attempts}
	if outcome.Success {
		r.audit(false, "Notification delivered", map[string]any{
			"channel": name, "domain": msg.Domain, "attempts": outcome.Attempts,
		})
		return res
	}

	if outcome.LastError != nil {
		res.Error = outcome.LastError.Error()
	}
	r.logError("All notification attempts failed",
		zap.String("channel", name),
		zap.String("domain", msg.Domain),
		zap.Strings("attempt_errors", attemptErrors))
	r.audit(true, "Notification delivery failed", map[string]any{
		"channel": name, "domain": msg.Domain, "attempts": outcome.Attempts, "errors": attemptErrors,
	})
	return res
}

func (r *Router) limiter(channel string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.limiters == nil {
		r.limiters = make(map[string]*rate.Limiter)
	}
	if l, ok := r.limiters[channel]; ok {
		return l
	}
	limit := rate.Inf
	if r.RatePerMinute > 0 {
		limit = rate.Limit(r.RatePerMinute / 60)
	}
	l := rate.NewLimiter(limit, 1)
	r.limiters[channel] = l
	return l
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Retryable()
	}
	var pe *PermanentError
	return !errors.As(err, &pe)
}

// PermanentError marks a failure that retrying cannot fix, such as a
// malformed request.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

func (r *Router) audit(failed bool, message string, data map[string]any) {
	if r.Audit == nil {
		return
	}
	if failed {
		r.Audit.Error(auditComponent, message, data)
		return
	}
	r.Audit.Info(auditComponent, message, data)
}

func (r *Router) logInfo(msg string, fields ...zap.Field) {
	if r.Logger != nil {
		r.Logger.Info(msg, fields...)
	}
}

func (r *Router) logWarn(msg string, fields ...zap.Field) {
	if r.Logger != nil {
		r.Logger.Warn(msg, fields...)
	}
}

func (r *Router) logError(msg string, fields ...zap.Field) {
	if r.Logger != nil {
		r.Logger.Error(msg, fields...)
	}
}
