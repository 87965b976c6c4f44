// Package config provides centralized configuration management for
// domaincheck. Configuration is layered with viper:
// Layer 1: built-in defaults
// Layer 2: the YAML config file (--config, XDG config dir, ./config)
// Layer 3: environment variables and runtime overrides
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	// AppName names the XDG config and data directories.
	AppName = "domaincheck"
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "DOMAINCHECK_"
)

var (
	// appConfig holds the current application configuration
	appConfig      *Config
	configFileUsed string
	configMu       sync.RWMutex
)

// EnvVarSpec defines environment variable mappings for config fields
// following the pattern: {PREFIX}{NAME} maps to config path
type EnvVarSpec = gfconfig.EnvVarSpec

// Environment variable types
const (
	EnvString = gfconfig.EnvString
	EnvInt    = gfconfig.EnvInt
	EnvBool   = gfconfig.EnvBool
)

// Load loads configuration from defaults, the discovered config file,
// the environment and runtime overrides (highest precedence last).
//
// This function is safe to call multiple times (e.g., for config reload)
func Load(ctx context.Context, runtimeOverrides ...map[string]any) (*Config, error) {
	return LoadFile(ctx, "", runtimeOverrides...)
}

// LoadFile is Load with an explicit config file. An empty path searches the
// XDG config directory and ./config; a missing file there is not an error.
func LoadFile(ctx context.Context, path string, runtimeOverrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v := viper.New()
	SetDefaults(v)

	used, err := readConfigFile(v, path)
	if err != nil {
		return nil, err
	}

	// Load environment variable overrides
	envOverrides, err := gfconfig.LoadEnvOverrides(getEnvSpecs())
	if err != nil {
		return nil, fmt.Errorf("failed to load environment overrides: %w", err)
	}
	if envOverrides == nil {
		envOverrides = map[string]any{}
	}
	if value := strings.TrimSpace(os.Getenv(EnvPrefix + "RATE_LIMIT_MARGIN")); value != "" {
		margin, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid rate limit margin: %w", err)
		}
		envOverrides["rate_limit_margin"] = margin
	}

	// Combine environment overrides with runtime overrides
	layers := []map[string]any{envOverrides}
	layers = append(layers, runtimeOverrides...)
	for _, layer := range layers {
		if len(layer) == 0 {
			continue
		}
		if err := v.MergeConfigMap(layer); err != nil {
			return nil, fmt.Errorf("failed to merge overrides: %w", err)
		}
	}

	cfg, err := decode(v.AllSettings())
	if err != nil {
		return nil, err
	}
	applyDerivedDefaults(cfg)

	configMu.Lock()
	appConfig = cfg
	configFileUsed = used
	configMu.Unlock()

	return cfg, nil
}

// Defaults returns the configuration produced by built-in defaults alone.
func Defaults() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg, err := decode(v.AllSettings())
	if err != nil {
		// Built-in defaults always decode.
		panic(err)
	}
	applyDerivedDefaults(cfg)
	return cfg
}

// SetDefaults registers default configuration values on v.
func SetDefaults(v *viper.Viper) {
	// System defaults
	v.SetDefault("system.language", "de")
	v.SetDefault("system.simulation_mode", false)
	v.SetDefault("system.startup_self_test", false)
	v.SetDefault("system.identity", "")

	// TLD defaults
	v.SetDefault("tlds.allowed", []string{"de", "com", "net", "org", "io", "eu"})
	v.SetDefault("tlds.registry_file", "")
	v.SetDefault("tlds.bootstrap_fallback", true)

	// Rate limit margin; rules default to the engine's built-in set
	v.SetDefault("rate_limit_margin", 1.0)

	// Retry defaults
	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.base_delay", "1s")
	v.SetDefault("retry.max_delay", "60s")

	// Source clients
	v.SetDefault("rdap.timeout", "10s")
	v.SetDefault("rdap.user_agent", "domaincheck/1.0 (+https://github.com/namelens/domaincheck)")
	v.SetDefault("rdap.bootstrap_url", "https://data.iana.org/rdap/dns.json")
	v.SetDefault("whois.timeout", "10s")
	v.SetDefault("whois.refer_via_iana", false)

	// Persistence defaults
	v.SetDefault("persistence.backend", BackendFile)
	v.SetDefault("persistence.state_file", "")
	v.SetDefault("persistence.hmac_secret", "")

	// Store defaults
	v.SetDefault("store.driver", "libsql")
	v.SetDefault("store.path", "")
	v.SetDefault("store.url", "")
	v.SetDefault("store.auth_token", "")

	// Redis defaults
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.key_prefix", "domaincheck:state:")
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.dial_timeout", "5s")

	// Notification defaults
	v.SetDefault("notifications.rate_per_minute", 20.0)
	v.SetDefault("notifications.retry.max_retries", 3)
	v.SetDefault("notifications.retry.base_delay", "2s")
	v.SetDefault("notifications.retry.max_delay", "30s")
	v.SetDefault("notifications.email.smtp_port", 587)

	// Schedule defaults
	v.SetDefault("schedule.cron", "*/15 * * * *")
	v.SetDefault("schedule.domains_file", "")
	v.SetDefault("schedule.concurrency", 2)
	v.SetDefault("schedule.run_on_start", true)

	// Audit defaults
	v.SetDefault("audit.enabled", false)
	v.SetDefault("audit.signing_key", "")
	v.SetDefault("audit.format", "json")
	v.SetDefault("audit.persist", false)

	// Server defaults
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "SIMPLE")

	// Metrics defaults
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.port", 9090)

	// Health check defaults
	v.SetDefault("health.enabled", true)

	// Worker defaults
	v.SetDefault("workers", 4)
}

func readConfigFile(v *viper.Viper, path string) (string, error) {
	if strings.TrimSpace(path) != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return "", fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		return v.ConfigFileUsed(), nil
	}

	if dir := gfconfig.GetAppConfigDir(AppName); strings.TrimSpace(dir) != "" {
		v.AddConfigPath(dir)
	}
	v.AddConfigPath("./config")
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read config file: %w", err)
	}
	return v.ConfigFileUsed(), nil
}

func decode(settings map[string]any) (*Config, error) {
	cfg := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			mapstructure.StringToFloat64HookFunc(),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

func applyDerivedDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Store.URL) == "" && strings.TrimSpace(cfg.Store.Path) == "" {
		cfg.Store.Path = DefaultStorePath()
	}
	if strings.TrimSpace(cfg.Persistence.StateFile) == "" {
		cfg.Persistence.StateFile = DefaultStateFile()
	}
	cfg.Persistence.Backend = strings.ToLower(strings.TrimSpace(cfg.Persistence.Backend))
	cfg.System.Language = strings.ToLower(strings.TrimSpace(cfg.System.Language))
	for i, tld := range cfg.TLDs.Allowed {
		cfg.TLDs.Allowed[i] = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(tld), "."))
	}
}

// GetConfig returns the current application configuration (thread-safe)
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// ConfigFileUsed returns the config file read by the last Load, if any.
func ConfigFileUsed() string {
	configMu.RLock()
	defer configMu.RUnlock()
	return configFileUsed
}

// getEnvSpecs returns environment variable specifications for config mapping
// Maps {PREFIX}{NAME} environment variables to config paths
func getEnvSpecs() []EnvVarSpec {
	prefix := EnvPrefix

	return []EnvVarSpec{
		// System config
		{Name: prefix + "LANGUAGE", Path: []string{"system", "language"}, Type: EnvString},
		{Name: prefix + "SIMULATION_MODE", Path: []string{"system", "simulation_mode"}, Type: EnvBool},
		{Name: prefix + "STARTUP_SELF_TEST", Path: []string{"system", "startup_self_test"}, Type: EnvBool},
		{Name: prefix + "IDENTITY", Path: []string{"system", "identity"}, Type: EnvString},

		// TLDs
		{Name: prefix + "ALLOWED_TLDS", Path: []string{"tlds", "allowed"}, Type: EnvString},
		{Name: prefix + "TLD_REGISTRY_FILE", Path: []string{"tlds", "registry_file"}, Type: EnvString},

		// Retry config
		{Name: prefix + "RETRY_MAX_RETRIES", Path: []string{"retry", "max_retries"}, Type: EnvInt},
		{Name: prefix + "RETRY_BASE_DELAY", Path: []string{"retry", "base_delay"}, Type: EnvString},
		{Name: prefix + "RETRY_MAX_DELAY", Path: []string{"retry", "max_delay"}, Type: EnvString},

		// Source clients
		{Name: prefix + "RDAP_TIMEOUT", Path: []string{"rdap", "timeout"}, Type: EnvString},
		{Name: prefix + "RDAP_USER_AGENT", Path: []string{"rdap", "user_agent"}, Type: EnvString},
		{Name: prefix + "WHOIS_TIMEOUT", Path: []string{"whois", "timeout"}, Type: EnvString},

		// Persistence
		{Name: prefix + "PERSISTENCE_BACKEND", Path: []string{"persistence", "backend"}, Type: EnvString},
		{Name: prefix + "STATE_FILE", Path: []string{"persistence", "state_file"}, Type: EnvString},
		{Name: prefix + "HMAC_SECRET", Path: []string{"persistence", "hmac_secret"}, Type: EnvString},

		// Store config
		{Name: prefix + "DB_DRIVER", Path: []string{"store", "driver"}, Type: EnvString},
		{Name: prefix + "DB_PATH", Path: []string{"store", "path"}, Type: EnvString},
		{Name: prefix + "DB_URL", Path: []string{"store", "url"}, Type: EnvString},
		{Name: prefix + "DB_AUTH_TOKEN", Path: []string{"store", "auth_token"}, Type: EnvString},

		// Redis
		{Name: prefix + "REDIS_URL", Path: []string{"redis", "url"}, Type: EnvString},

		// Notifications
		{Name: prefix + "TELEGRAM_BOT_TOKEN", Path: []string{"notifications", "telegram", "bot_token"}, Type: EnvString},
		{Name: prefix + "TELEGRAM_CHAT_ID", Path: []string{"notifications", "telegram", "chat_id"}, Type: EnvString},
		{Name: prefix + "DISCORD_WEBHOOK_URL", Path: []string{"notifications", "discord", "webhook_url"}, Type: EnvString},
		{Name: prefix + "SMTP_HOST", Path: []string{"notifications", "email", "smtp_host"}, Type: EnvString},
		{Name: prefix + "SMTP_PORT", Path: []string{"notifications", "email", "smtp_port"}, Type: EnvInt},
		{Name: prefix + "SMTP_USERNAME", Path: []string{"notifications", "email", "username"}, Type: EnvString},
		{Name: prefix + "SMTP_PASSWORD", Path: []string{"notifications", "email", "password"}, Type: EnvString},
		{Name: prefix + "EMAIL_FROM", Path: []string{"notifications", "email", "from"}, Type: EnvString},
		{Name: prefix + "EMAIL_TO", Path: []string{"notifications", "email", "to"}, Type: EnvString},
		{Name: prefix + "WEBHOOK_URL", Path: []string{"notifications", "webhook", "url"}, Type: EnvString},
		{Name: prefix + "WEBHOOK_SECRET", Path: []string{"notifications", "webhook", "secret"}, Type: EnvString},

		// Schedule
		{Name: prefix + "SCHEDULE_CRON", Path: []string{"schedule", "cron"}, Type: EnvString},
		{Name: prefix + "DOMAINS_FILE", Path: []string{"schedule", "domains_file"}, Type: EnvString},

		// Audit
		{Name: prefix + "AUDIT_ENABLED", Path: []string{"audit", "enabled"}, Type: EnvBool},
		{Name: prefix + "AUDIT_SIGNING_KEY", Path: []string{"audit", "signing_key"}, Type: EnvString},

		// Server config
		{Name: prefix + "HOST", Path: []string{"server", "host"}, Type: EnvString},
		{Name: prefix + "PORT", Path: []string{"server", "port"}, Type: EnvInt},
		// Duration fields are parsed as strings and converted by mapstructure decode hook
		{Name: prefix + "READ_TIMEOUT", Path: []string{"server", "read_timeout"}, Type: EnvString},
		{Name: prefix + "WRITE_TIMEOUT", Path: []string{"server", "write_timeout"}, Type: EnvString},
		{Name: prefix + "SHUTDOWN_TIMEOUT", Path: []string{"server", "shutdown_timeout"}, Type: EnvString},

		// Logging config
		{Name: prefix + "LOG_LEVEL", Path: []string{"logging", "level"}, Type: EnvString},
		{Name: prefix + "LOG_PROFILE", Path: []string{"logging", "profile"}, Type: EnvString},

		// Metrics config
		{Name: prefix + "METRICS_ENABLED", Path: []string{"metrics", "enabled"}, Type: EnvBool},
		{Name: prefix + "METRICS_PORT", Path: []string{"metrics", "port"}, Type: EnvInt},

		// Health config
		{Name: prefix + "HEALTH_ENABLED", Path: []string{"health", "enabled"}, Type: EnvBool},

		// Workers
		{Name: prefix + "WORKERS", Path: []string{"workers"}, Type: EnvInt},
	}
}

// DefaultConfigPath returns the XDG-compliant path to the user config file.
func DefaultConfigPath() string {
	configDir := gfconfig.GetAppConfigDir(AppName)
	if strings.TrimSpace(configDir) == "" {
		return ""
	}
	return filepath.Join(configDir, "config.yaml")
}

// DefaultDataDir returns the XDG-compliant data directory for the app.
func DefaultDataDir() string {
	return gfconfig.GetAppDataDir(AppName)
}

// DefaultStorePath returns the XDG-compliant path to the database file.
func DefaultStorePath() string {
	dataDir := DefaultDataDir()
	if strings.TrimSpace(dataDir) == "" {
		return "./" + AppName + ".db"
	}
	return filepath.Join(dataDir, AppName+".db")
}

// DefaultStateFile returns the XDG-compliant path to the JSON state file.
func DefaultStateFile() string {
	dataDir := DefaultDataDir()
	if strings.TrimSpace(dataDir) == "" {
		return "./domain_states.json"
	}
	return filepath.Join(dataDir, "domain_states.json")
}
