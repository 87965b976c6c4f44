package config

import (
	"errors"
	"fmt"
	"maps"
	"strings"

	"github.com/namelens/domaincheck/internal/core"
	"github.com/namelens/domaincheck/internal/core/engine"
)

var supportedLanguages = map[string]bool{"de": true, "en": true}

// RateLimitConfig converts the configured rules into the limiter's shape.
// With no rules configured it returns the engine's conservative defaults.
func (c *Config) RateLimitConfig() core.RateLimitConfig {
	rl := c.RateLimits
	if len(rl.PerTLD) == 0 && len(rl.PerEndpoint) == 0 && rl.Global == nil && rl.PerIdentity == nil {
		return cloneRateLimits(engine.DefaultRateLimits)
	}

	out := core.RateLimitConfig{
		PerTLD:      make(map[string]core.RateLimitRule, len(rl.PerTLD)),
		PerEndpoint: make(map[string]core.RateLimitRule, len(rl.PerEndpoint)),
		Global:      rl.Global,
		PerIdentity: rl.PerIdentity,
	}
	for tld, rule := range rl.PerTLD {
		out.PerTLD[strings.ToLower(strings.TrimPrefix(strings.TrimSpace(tld), "."))] = rule
	}
	for _, rule := range rl.PerEndpoint {
		out.PerEndpoint[strings.TrimSpace(rule.Endpoint)] = rule.RateLimitRule
	}
	return out
}

func cloneRateLimits(in core.RateLimitConfig) core.RateLimitConfig {
	out := core.RateLimitConfig{
		PerTLD:      maps.Clone(in.PerTLD),
		PerEndpoint: maps.Clone(in.PerEndpoint),
	}
	if in.Global != nil {
		rule := *in.Global
		out.Global = &rule
	}
	if in.PerIdentity != nil {
		rule := *in.PerIdentity
		out.PerIdentity = &rule
	}
	return out
}

// Validate reports every structural problem in the configuration.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if !supportedLanguages[c.System.Language] {
		add("system.language: unsupported language %q", c.System.Language)
	}

	if err := c.RateLimitConfig().Validate(); err != nil {
		add("rate_limits: %w", err)
	}
	for i, rule := range c.RateLimits.PerEndpoint {
		if strings.TrimSpace(rule.Endpoint) == "" {
			add("rate_limits.per_endpoint[%d]: endpoint is required", i)
		}
	}
	if c.RateLimitMargin <= 0 || c.RateLimitMargin > 1 {
		add("rate_limit_margin: must be in (0, 1], got %v", c.RateLimitMargin)
	}
	if err := c.Retry.Validate(); err != nil {
		add("retry: %w", err)
	}

	for i, override := range c.TLDs.Overrides {
		if err := override.Validate(); err != nil {
			add("tlds.overrides[%d]: %w", i, err)
		}
	}

	if c.RDAP.Timeout <= 0 {
		add("rdap.timeout: must be > 0")
	}
	if c.Whois.Timeout <= 0 {
		add("whois.timeout: must be > 0")
	}
	if url := strings.TrimSpace(c.RDAP.BootstrapURL); url != "" {
		if err := core.RequireHTTPS(url); err != nil {
			add("rdap.bootstrap_url: %w", err)
		}
	}

	switch c.Persistence.Backend {
	case BackendFile:
		if strings.TrimSpace(c.Persistence.StateFile) == "" {
			add("persistence.state_file: required for the file backend")
		}
	case BackendLibSQL:
		if strings.TrimSpace(c.Store.Path) == "" && strings.TrimSpace(c.Store.URL) == "" {
			add("store: path or url required for the libsql backend")
		}
	case BackendRedis:
		if strings.TrimSpace(c.Redis.URL) == "" {
			add("redis.url: required for the redis backend")
		}
	default:
		add("persistence.backend: unknown backend %q", c.Persistence.Backend)
	}
	if strings.TrimSpace(c.Persistence.HMACSecret) == "" {
		add("persistence.hmac_secret: required to sign domain state")
	}

	n := c.Notifications
	if n.RatePerMinute <= 0 {
		add("notifications.rate_per_minute: must be > 0")
	}
	if err := n.Retry.Validate(); err != nil {
		add("notifications.retry: %w", err)
	}
	if n.Discord.Configured() {
		if err := core.RequireHTTPS(n.Discord.WebhookURL); err != nil {
			add("notifications.discord.webhook_url: %w", err)
		}
	}
	if n.Webhook.Configured() {
		if err := core.RequireHTTPS(n.Webhook.URL); err != nil {
			add("notifications.webhook.url: %w", err)
		}
	}
	if n.Email.SMTPHost != "" && (n.Email.SMTPPort <= 0 || n.Email.SMTPPort > 65535) {
		add("notifications.email.smtp_port: invalid port %d", n.Email.SMTPPort)
	}

	if c.Schedule.Concurrency < 1 {
		add("schedule.concurrency: must be >= 1")
	}
	if strings.TrimSpace(c.Schedule.Cron) == "" {
		add("schedule.cron: required")
	}

	switch c.Audit.Format {
	case "json", "text":
	default:
		add("audit.format: must be json or text, got %q", c.Audit.Format)
	}

	if c.Workers < 1 {
		add("workers: must be >= 1")
	}

	return errors.Join(errs...)
}

// Redacted returns a copy with secrets masked, for display.
func (c *Config) Redacted() *Config {
	out := *c
	mask := func(value string) string {
		if value == "" {
			return ""
		}
		return "********"
	}
	out.Persistence.HMACSecret = mask(c.Persistence.HMACSecret)
	out.Store.AuthToken = mask(c.Store.AuthToken)
	out.Audit.SigningKey = mask(c.Audit.SigningKey)
	out.Notifications.Telegram.BotToken = mask(c.Notifications.Telegram.BotToken)
	out.Notifications.Email.Password = mask(c.Notifications.Email.Password)
	out.Notifications.Webhook.Secret = mask(c.Notifications.Webhook.Secret)
	if c.Notifications.Discord.WebhookURL != "" {
		out.Notifications.Discord.WebhookURL = mask(c.Notifications.Discord.WebhookURL)
	}
	if c.Redis.URL != "" && strings.Contains(c.Redis.URL, "@") {
		out.Redis.URL = mask(c.Redis.URL)
	}
	return &out
}
