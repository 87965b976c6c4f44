package cmd

import (
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	errwrap "github.com/namelens/domaincheck/internal/errors"
	"github.com/namelens/domaincheck/internal/i18n"
	"github.com/namelens/domaincheck/internal/observability"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Run self-health check",
	Long: `Run a self-health check to verify the application can start successfully:
version info, logger, configuration, message catalog and state backend.

Use self-test to check registry endpoint connectivity.`,
	Run: func(cmd *cobra.Command, args []string) {
		// Can't log if logger is nil, so use stderr
		if observability.CLILogger == nil {
			ExitWithCodeStderr(foundry.ExitConfigInvalid, "Logger not initialized", errwrap.NewConfigInvalidError("Logger not initialized"))
			return
		}
		log := observability.CLILogger
		log.Info("Running health check...")

		if versionInfo.Version == "" {
			log.Error("❌ FAIL: Version information missing")
			ExitWithCode(log, foundry.ExitConfigInvalid, "Version information missing", errwrap.NewConfigInvalidError("Version information missing"))
			return
		}
		log.Debug("Version check passed", zap.String("version", versionInfo.Version))
		log.Info("✅ Version information available")

		cfg, err := loadedConfig()
		if err != nil {
			ExitWithCode(log, foundry.ExitConfigInvalid, "Configuration could not be loaded", err)
			return
		}
		if err := cfg.Validate(); err != nil {
			log.Error("❌ FAIL: Configuration invalid")
			ExitWithCode(log, foundry.ExitConfigInvalid, "Configuration invalid", errwrap.WrapConfigInvalid(cmd.Context(), err, "configuration invalid"))
			return
		}
		log.Info("✅ Configuration valid", zap.String("source", configSource()))

		if missing := i18n.Missing(cfg.System.Language); len(missing) > 0 {
			log.Warn("⚠️  Message catalog incomplete", zap.String("language", cfg.System.Language), zap.Strings("missing", missing))
		} else {
			log.Info("✅ Message catalog complete", zap.String("language", cfg.System.Language))
		}

		a, err := buildApp(cmd.Context(), cfg, log, appOptions{})
		if err != nil {
			log.Error("❌ FAIL: State backend unavailable")
			ExitWithCode(log, ExitCodeFor(err, foundry.ExitDatabaseUnavailable), "State backend unavailable", err)
			return
		}
		defer a.Close() // nolint:errcheck // best-effort cleanup
		if a.db != nil {
			if err := a.db.CheckHealth(cmd.Context()); err != nil {
				_ = a.Close()
				ExitWithCode(log, ExitCodeFor(err, foundry.ExitDatabaseUnavailable), "Store unhealthy", err)
				return
			}
		}
		log.Info("✅ State backend ready", zap.String("backend", cfg.Persistence.Backend))

		log.Info("")
		log.Info("✅ All health checks passed")
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
