package config

import (
	"time"

	"github.com/namelens/domaincheck/internal/core"
)

// Config represents the complete application configuration.
// Values are layered: built-in defaults, the YAML config file, then
// DOMAINCHECK_* environment variables and runtime overrides.
type Config struct {
	System          SystemConfig        `mapstructure:"system" yaml:"system"`
	TLDs            TLDsConfig          `mapstructure:"tlds" yaml:"tlds"`
	RateLimits      RateLimitsConfig    `mapstructure:"rate_limits" yaml:"rate_limits"`
	RateLimitMargin float64             `mapstructure:"rate_limit_margin" yaml:"rate_limit_margin"`
	Retry           core.RetryConfig    `mapstructure:"retry" yaml:"retry"`
	RDAP            RDAPConfig          `mapstructure:"rdap" yaml:"rdap"`
	Whois           WhoisConfig         `mapstructure:"whois" yaml:"whois"`
	Persistence     PersistenceConfig   `mapstructure:"persistence" yaml:"persistence"`
	Store           StoreConfig         `mapstructure:"store" yaml:"store"`
	Redis           RedisConfig         `mapstructure:"redis" yaml:"redis"`
	Notifications   NotificationsConfig `mapstructure:"notifications" yaml:"notifications"`
	Schedule        ScheduleConfig      `mapstructure:"schedule" yaml:"schedule"`
	Audit           AuditConfig         `mapstructure:"audit" yaml:"audit"`
	Server          ServerConfig        `mapstructure:"server" yaml:"server"`
	Logging         LoggingConfig       `mapstructure:"logging" yaml:"logging"`
	Metrics         MetricsConfig       `mapstructure:"metrics" yaml:"metrics"`
	Health          HealthConfig        `mapstructure:"health" yaml:"health"`
	Workers         int                 `mapstructure:"workers" yaml:"workers"`
}

// SystemConfig holds process-wide switches.
type SystemConfig struct {
	// Language selects notification and message language (de, en).
	Language string `mapstructure:"language" yaml:"language"`
	// SimulationMode answers every query locally and never sends notifications.
	SimulationMode  bool `mapstructure:"simulation_mode" yaml:"simulation_mode"`
	StartupSelfTest bool `mapstructure:"startup_self_test" yaml:"startup_self_test"`
	// Identity keys the per-identity rate limit scope.
	Identity string `mapstructure:"identity" yaml:"identity"`
}

// TLDsConfig selects the TLDs the checker accepts and where their
// registries live.
type TLDsConfig struct {
	// Allowed restricts accepted TLDs; empty accepts every registry TLD.
	Allowed []string `mapstructure:"allowed" yaml:"allowed"`
	// RegistryFile is an optional YAML file whose entries replace built-ins.
	RegistryFile string           `mapstructure:"registry_file" yaml:"registry_file"`
	Overrides    []core.TLDConfig `mapstructure:"overrides" yaml:"overrides"`
	// BootstrapFallback resolves unknown TLDs from the cached IANA bootstrap.
	BootstrapFallback bool `mapstructure:"bootstrap_fallback" yaml:"bootstrap_fallback"`
}

// RateLimitsConfig mirrors core.RateLimitConfig in a file-friendly shape.
// Endpoint rules are a list because endpoint hosts contain dots.
type RateLimitsConfig struct {
	PerTLD      map[string]core.RateLimitRule `mapstructure:"per_tld" yaml:"per_tld"`
	PerEndpoint []EndpointRule                `mapstructure:"per_endpoint" yaml:"per_endpoint"`
	Global      *core.RateLimitRule           `mapstructure:"global" yaml:"global"`
	PerIdentity *core.RateLimitRule           `mapstructure:"per_identity" yaml:"per_identity"`
}

// EndpointRule binds a rate limit rule to an endpoint host or URL.
type EndpointRule struct {
	Endpoint           string `mapstructure:"endpoint" yaml:"endpoint"`
	core.RateLimitRule `mapstructure:",squash" yaml:",inline"`
}

// RDAPConfig configures the RDAP client.
type RDAPConfig struct {
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
	UserAgent    string        `mapstructure:"user_agent" yaml:"user_agent"`
	BootstrapURL string        `mapstructure:"bootstrap_url" yaml:"bootstrap_url"`
}

// WhoisConfig configures the WHOIS client.
type WhoisConfig struct {
	Timeout time.Duration     `mapstructure:"timeout" yaml:"timeout"`
	Servers map[string]string `mapstructure:"servers" yaml:"servers"`
	// Signals adds exact "no match" strings per TLD.
	Signals      map[string][]string `mapstructure:"signals" yaml:"signals"`
	ReferViaIANA bool                `mapstructure:"refer_via_iana" yaml:"refer_via_iana"`
}

// Persistence backends.
const (
	BackendFile   = "file"
	BackendLibSQL = "libsql"
	BackendRedis  = "redis"
)

// PersistenceConfig selects where domain state lives.
type PersistenceConfig struct {
	Backend    string `mapstructure:"backend" yaml:"backend"`
	StateFile  string `mapstructure:"state_file" yaml:"state_file"`
	HMACSecret string `mapstructure:"hmac_secret" yaml:"hmac_secret"`
}

// StoreConfig contains database configuration for libsql/Turso
type StoreConfig struct {
	Driver    string `mapstructure:"driver" yaml:"driver"`
	Path      string `mapstructure:"path" yaml:"path"`
	URL       string `mapstructure:"url" yaml:"url"`
	AuthToken string `mapstructure:"auth_token" yaml:"auth_token"`
}

// RedisConfig configures the Redis state backend.
type RedisConfig struct {
	URL         string        `mapstructure:"url" yaml:"url"`
	KeyPrefix   string        `mapstructure:"key_prefix" yaml:"key_prefix"`
	PoolSize    int           `mapstructure:"pool_size" yaml:"pool_size"`
	DialTimeout time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
}

// NotificationsConfig configures delivery channels. A channel is active when
// its required fields are set.
type NotificationsConfig struct {
	Telegram      TelegramConfig   `mapstructure:"telegram" yaml:"telegram"`
	Discord       DiscordConfig    `mapstructure:"discord" yaml:"discord"`
	Email         EmailConfig      `mapstructure:"email" yaml:"email"`
	Webhook       WebhookConfig    `mapstructure:"webhook" yaml:"webhook"`
	Retry         core.RetryConfig `mapstructure:"retry" yaml:"retry"`
	RatePerMinute float64          `mapstructure:"rate_per_minute" yaml:"rate_per_minute"`
}

// TelegramConfig configures the Telegram Bot API channel.
type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token" yaml:"bot_token"`
	ChatID   string `mapstructure:"chat_id" yaml:"chat_id"`
	// APIURL overrides https://api.telegram.org.
	APIURL string `mapstructure:"api_url" yaml:"api_url,omitempty"`
}

// Configured reports whether the channel has credentials.
func (c TelegramConfig) Configured() bool {
	return c.BotToken != "" && c.ChatID != ""
}

// DiscordConfig configures the Discord webhook channel.
type DiscordConfig struct {
	WebhookURL string `mapstructure:"webhook_url" yaml:"webhook_url"`
}

// Configured reports whether the channel has a webhook.
func (c DiscordConfig) Configured() bool {
	return c.WebhookURL != ""
}

// EmailConfig configures SMTP delivery.
type EmailConfig struct {
	SMTPHost string   `mapstructure:"smtp_host" yaml:"smtp_host"`
	SMTPPort int      `mapstructure:"smtp_port" yaml:"smtp_port"`
	Username string   `mapstructure:"username" yaml:"username"`
	Password string   `mapstructure:"password" yaml:"password"`
	From     string   `mapstructure:"from" yaml:"from"`
	To       []string `mapstructure:"to" yaml:"to"`
}

// Configured reports whether the channel has a server and recipients.
func (c EmailConfig) Configured() bool {
	return c.SMTPHost != "" && c.From != "" && len(c.To) > 0
}

// WebhookConfig configures the generic JSON webhook channel.
type WebhookConfig struct {
	URL     string            `mapstructure:"url" yaml:"url"`
	Headers map[string]string `mapstructure:"headers" yaml:"headers"`
	// Secret signs the body into the X-Domaincheck-Signature header.
	Secret string `mapstructure:"secret" yaml:"secret"`
}

// Configured reports whether the channel has a target.
func (c WebhookConfig) Configured() bool {
	return c.URL != ""
}

// ScheduleConfig drives the watch command.
type ScheduleConfig struct {
	Cron        string `mapstructure:"cron" yaml:"cron"`
	DomainsFile string `mapstructure:"domains_file" yaml:"domains_file"`
	Concurrency int    `mapstructure:"concurrency" yaml:"concurrency"`
	RunOnStart  bool   `mapstructure:"run_on_start" yaml:"run_on_start"`
}

// AuditConfig configures the audit trail.
type AuditConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// SigningKey enables HMAC-signed entries.
	SigningKey string `mapstructure:"signing_key" yaml:"signing_key"`
	// Format is json or text.
	Format string `mapstructure:"format" yaml:"format"`
	// Persist writes entries to the libsql audit_log table.
	Persist bool `mapstructure:"persist" yaml:"persist"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// LoggingConfig contains logging configuration
// Supports progressive logging profiles:
// - SIMPLE: Console output only, minimal configuration (CLI tools)
// - STRUCTURED: Structured sinks, correlation IDs (API services)
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level" yaml:"level"`

	// Profile selects the logging complexity level
	Profile string `mapstructure:"profile" yaml:"profile"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	// Enabled controls whether metrics are exposed
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the dedicated metrics endpoint port (Prometheus format)
	Port int `mapstructure:"port" yaml:"port"`
}

// HealthConfig contains health check configuration
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}
