package cmd

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/namelens/domaincheck/internal/audit"
	"github.com/namelens/domaincheck/internal/config"
	"github.com/namelens/domaincheck/internal/core/checker"
	"github.com/namelens/domaincheck/internal/core/store"
	"github.com/namelens/domaincheck/internal/observability"
)

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Manage the IANA RDAP bootstrap cache",
	Long: `Manage the cached IANA RDAP bootstrap file. When tlds.bootstrap_fallback
is enabled, TLDs missing from the built-in registry resolve their RDAP
endpoint from this cache.`,
}

var bootstrapUpdateCmd = &cobra.Command{
	Use:   "update",
	Short: "Refresh RDAP bootstrap cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadedConfig()
		if err != nil {
			return err
		}
		db, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup; errors logged internally

		auditor := audit.New(cfg.Audit, observability.CLILogger, nil, db)
		summary, err := newBootstrapService(cfg, db, auditor).Update(cmd.Context())
		if err != nil {
			return err
		}

		dbPath := getDBPath(cfg)
		observability.CLILogger.Info("Bootstrap cache updated",
			zap.Int("tld_count", summary.TLDCount),
			zap.Int("skipped", summary.Skipped),
			zap.Int("removed", summary.Removed),
			zap.String("version", summary.Version),
			zap.String("publication", formatTime(summary.Publication)),
			zap.String("fetched_at", formatTime(summary.FetchedAt)),
			zap.String("database", dbPath),
		)

		fmt.Printf("Fetched %d TLDs from IANA\n", summary.TLDCount)
		if summary.Skipped > 0 {
			fmt.Printf("Skipped %d TLDs without an HTTPS endpoint\n", summary.Skipped)
		}
		if summary.Removed > 0 {
			fmt.Printf("Removed %d TLDs no longer in the bootstrap file\n", summary.Removed)
		}
		fmt.Printf("Database: %s\n", dbPath)
		return nil
	},
}

var bootstrapStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show bootstrap cache status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadedConfig()
		if err != nil {
			return err
		}
		db, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup; errors logged internally

		status, err := newBootstrapService(cfg, db, nil).Status(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("Bootstrap cache: %d TLDs\n", status.TLDCount)
		fmt.Printf("Last updated: %s\n", formatTime(status.FetchedAt))
		if status.Publication.IsZero() {
			fmt.Printf("Publication: unknown\n")
		} else {
			fmt.Printf("Publication: %s\n", formatTime(status.Publication))
		}
		if status.Source != "" {
			fmt.Printf("Source: %s\n", status.Source)
		}
		if status.Version != "" {
			fmt.Printf("Version: %s\n", status.Version)
		}
		fmt.Printf("Fallback: %s\n", enabledLabel(cfg.TLDs.BootstrapFallback))
		fmt.Printf("Database: %s\n", getDBPath(cfg))
		return nil
	},
}

// newBootstrapService builds the bootstrap service; auditor may be nil.
func newBootstrapService(cfg *config.Config, db *store.Store, auditor *audit.Logger) *checker.BootstrapService {
	service := &checker.BootstrapService{Store: db, BaseURL: cfg.RDAP.BootstrapURL}
	if auditor != nil {
		service.Audit = auditor
	}
	return service
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return t.UTC().Format(time.RFC3339)
}

func enabledLabel(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}

// getDBPath returns the resolved database path from config
func getDBPath(cfg *config.Config) string {
	if cfg.Store.URL != "" {
		return cfg.Store.URL
	}
	dbPath := cfg.Store.Path
	if dbPath == "" {
		dbPath = config.DefaultStorePath()
	}
	if absPath, err := filepath.Abs(dbPath); err == nil {
		return absPath
	}
	return dbPath
}

func init() {
	bootstrapCmd.AddCommand(bootstrapUpdateCmd)
	bootstrapCmd.AddCommand(bootstrapStatusCmd)
	rootCmd.AddCommand(bootstrapCmd)
}
