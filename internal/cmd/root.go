package cmd

import (
	"context"
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/telemetry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/namelens/domaincheck/internal/config"
	"github.com/namelens/domaincheck/internal/i18n"
	"github.com/namelens/domaincheck/internal/observability"
)

var (
	cfgFile    string
	verbose    bool
	language   string
	simulation bool

	// Version info set by main package
	versionInfo struct {
		Version   string
		Commit    string
		BuildDate string
	}
)

// SetVersionInfo is called by main package to set version information
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   config.AppName,
	Short: "Conservative domain availability checker",
	Long: `domaincheck - conservative domain availability checker

A domain is reported AVAILABLE only when independent RDAP sources agree that
it is not registered. Anything uncertain is reported as UNKNOWN.

Use the subcommands to perform specific operations.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Disable global telemetry early to prevent config loading from emitting
	// metrics to stdout. Server mode will initialize proper telemetry later.
	disabledConfig := &telemetry.Config{Enabled: false}
	if sys, err := telemetry.NewSystem(disabledConfig); err == nil {
		telemetry.SetGlobalSystem(sys)
	}

	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", fmt.Sprintf("config file (default is %s)", config.DefaultConfigPath()))
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (sets log level to debug)")
	rootCmd.PersistentFlags().StringVar(&language, "lang", "", "message language (de, en)")
	rootCmd.PersistentFlags().BoolVar(&simulation, "simulation", false, "simulate registry queries and notifications")
}

// initConfig loads defaults, the config file, DOMAINCHECK_* variables and
// flag overrides.
func initConfig() {
	observability.InitCLILogger(config.AppName, verbose)

	cfg, err := config.LoadFile(context.Background(), cfgFile, flagOverrides())
	if err != nil {
		ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "Failed to load configuration", err)
	}

	if used := config.ConfigFileUsed(); used != "" {
		observability.CLILogger.Debug("Using config file", zap.String("path", used))
	} else {
		observability.CLILogger.Debug("No config file found, using defaults and environment variables")
	}

	if cfg.System.SimulationMode {
		tr := i18n.New(cfg.System.Language)
		observability.CLILogger.Warn(tr.T("simulation.enabled", nil))
	}
}

func flagOverrides() map[string]any {
	system := map[string]any{}
	if language != "" {
		system["language"] = language
	}
	if simulation {
		system["simulation_mode"] = true
	}
	if len(system) == 0 {
		return nil
	}
	return map[string]any{"system": system}
}

// loadedConfig returns the configuration loaded during initialization.
func loadedConfig() (*config.Config, error) {
	if cfg := config.GetConfig(); cfg != nil {
		return cfg, nil
	}
	return config.LoadFile(context.Background(), cfgFile, flagOverrides())
}
