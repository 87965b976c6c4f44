package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fulmenhq/gofulmen/logging"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/namelens/domaincheck/internal/audit"
	"github.com/namelens/domaincheck/internal/config"
	"github.com/namelens/domaincheck/internal/core"
	"github.com/namelens/domaincheck/internal/core/checker"
	"github.com/namelens/domaincheck/internal/core/engine"
	"github.com/namelens/domaincheck/internal/core/state"
	"github.com/namelens/domaincheck/internal/core/store"
	"github.com/namelens/domaincheck/internal/core/tld"
	"github.com/namelens/domaincheck/internal/core/validator"
	"github.com/namelens/domaincheck/internal/i18n"
	"github.com/namelens/domaincheck/internal/metrics"
	"github.com/namelens/domaincheck/internal/notify"
	"github.com/namelens/domaincheck/internal/selftest"
)

// app holds the wired check pipeline and everything that must be closed
// with it.
type app struct {
	cfg          *config.Config
	log          *logging.Logger
	tr           *i18n.Translator
	validator    *validator.Validator
	registry     *tld.Registry
	db           *store.Store
	redis        *redis.Client
	state        state.Store
	audit        *audit.Logger
	notifier     *notify.Router
	limiter      *engine.RateLimiter
	orchestrator *engine.Orchestrator
}

// appOptions tweak buildApp for commands that need less than the full
// pipeline.
type appOptions struct {
	// auditOutput receives rendered audit entries when auditing is enabled.
	auditOutput io.Writer
}

func buildApp(ctx context.Context, cfg *config.Config, log *logging.Logger, opts appOptions) (a *app, err error) {
	if strings.TrimSpace(cfg.Persistence.HMACSecret) == "" {
		return nil, fmt.Errorf("%w: set persistence.hmac_secret or run '%s config init'", state.ErrSecretRequired, config.AppName)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	a = &app{
		cfg:       cfg,
		log:       log,
		tr:        i18n.New(cfg.System.Language),
		validator: validator.New(cfg.TLDs.Allowed),
	}
	defer func() {
		if err != nil {
			_ = a.Close()
			a = nil
		}
	}()

	if needsStore(cfg) {
		a.db, err = openStore(ctx, cfg)
		if err != nil {
			return a, err
		}
	}

	a.registry, err = buildRegistry(cfg, a.db)
	if err != nil {
		return a, err
	}

	st, err := openState(ctx, cfg, a)
	if err != nil {
		return a, err
	}
	a.state = st

	output := opts.auditOutput
	if output == nil && cfg.Audit.Enabled {
		output = os.Stderr
	}
	var sink audit.Sink
	if a.db != nil {
		sink = a.db
	}
	a.audit = audit.New(cfg.Audit, log, output, sink)

	a.notifier = notify.FromConfig(cfg.Notifications, cfg.System.Language, cfg.System.SimulationMode, nil)
	a.notifier.Logger = log
	a.notifier.Audit = a.audit

	a.limiter = engine.NewRateLimiter(cfg.RateLimitConfig())
	a.limiter.Identity = cfg.System.Identity
	a.limiter.ApplySafetyMargin(cfg.RateLimitMargin)

	a.orchestrator = &engine.Orchestrator{
		Validator: a.validator,
		TLDs:      a.registry,
		RDAP: &checker.RDAPClient{
			Timeout:    cfg.RDAP.Timeout,
			UserAgent:  cfg.RDAP.UserAgent,
			Simulation: cfg.System.SimulationMode,
		},
		Whois: &checker.WhoisClient{
			Servers:      cfg.Whois.Servers,
			Signals:      cfg.Whois.Signals,
			Timeout:      cfg.Whois.Timeout,
			Simulation:   cfg.System.SimulationMode,
			ReferViaIANA: cfg.Whois.ReferViaIANA,
		},
		RateLimiter: a.limiter,
		Retry:       engine.NewRetryManager(cfg.Retry),
		State:       a.state,
		Notifier:    a.notifier,
		Audit:       a.audit,
		Metrics:     metrics.Pipeline{},
		Logger:      log,
	}

	log.Debug("Check pipeline ready",
		zap.String("persistence", cfg.Persistence.Backend),
		zap.Strings("channels", a.notifier.Names()),
		zap.Bool("simulation", cfg.System.SimulationMode),
		zap.Int("tlds", len(a.registry.TLDs())))
	return a, nil
}

func needsStore(cfg *config.Config) bool {
	return cfg.Persistence.Backend == config.BackendLibSQL || cfg.TLDs.BootstrapFallback || cfg.Audit.Persist
}

func buildRegistry(cfg *config.Config, db *store.Store) (*tld.Registry, error) {
	registry, err := tld.New()
	if err != nil {
		return nil, fmt.Errorf("load tld registry: %w", err)
	}
	if cfg.TLDs.RegistryFile != "" {
		if err := registry.LoadOverrideFile(cfg.TLDs.RegistryFile); err != nil {
			return nil, err
		}
	}
	if err := registry.Override(cfg.TLDs.Overrides...); err != nil {
		return nil, err
	}
	if cfg.TLDs.BootstrapFallback && db != nil {
		registry.SetFallback(newBootstrapService(cfg, db, nil))
	}
	return registry, nil
}

func openState(ctx context.Context, cfg *config.Config, a *app) (state.Store, error) {
	secret := cfg.Persistence.HMACSecret
	switch cfg.Persistence.Backend {
	case config.BackendLibSQL:
		return state.NewSQLStore(a.db, secret)
	case config.BackendRedis:
		client, err := openRedis(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		a.redis = client
		return state.NewRedisStore(client, secret, state.WithKeyPrefix(cfg.Redis.KeyPrefix))
	default:
		fs, err := state.NewFileStore(cfg.Persistence.StateFile, secret)
		if err != nil {
			return nil, err
		}
		if err := fs.Load(ctx); err != nil {
			return nil, err
		}
		return fs, nil
	}
}

func openRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return client, nil
}

// allowedEntries returns the registry entries the checker accepts.
func (a *app) allowedEntries() []tld.Entry {
	return a.registry.Entries(a.cfg.TLDs.Allowed...)
}

// selfTest runs the configuration and connectivity self-test.
func (a *app) selfTest(ctx context.Context, skipConnectivity bool) selftest.Report {
	entries := a.allowedEntries()
	configs := make([]core.TLDConfig, 0, len(entries))
	for _, e := range entries {
		configs = append(configs, e.TLDConfig)
	}
	runner := &selftest.Runner{
		Config:           a.cfg,
		TLDs:             configs,
		Timeout:          a.cfg.RDAP.Timeout,
		Logger:           a.log,
		SkipConnectivity: skipConnectivity || a.cfg.System.SimulationMode,
	}
	return runner.Run(ctx)
}

// startupSelfTest aborts when system.startup_self_test is on and fails.
func (a *app) startupSelfTest(ctx context.Context) error {
	if !a.cfg.System.StartupSelfTest {
		return nil
	}
	report := a.selfTest(ctx, false)
	if !report.Success {
		selftest.Print(os.Stderr, report, a.tr)
		return errors.New("startup self-test failed")
	}
	return nil
}

// Close releases every backend the app opened.
func (a *app) Close() error {
	var errs []error
	if a.state != nil {
		errs = append(errs, a.state.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	return errors.Join(errs...)
}

func openStore(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	db, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
