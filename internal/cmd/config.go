package cmd

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/namelens/domaincheck/internal/config"
	"github.com/namelens/domaincheck/internal/observability"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Create, show and validate configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter config file with a fresh HMAC secret",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("path")
		force, _ := cmd.Flags().GetBool("force")
		if strings.TrimSpace(path) == "" {
			path = config.DefaultConfigPath()
		}
		if path == "" {
			return errors.New("could not resolve config directory; pass --path")
		}
		if _, err := os.Stat(path); err == nil && !force {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}

		data, err := starterConfig()
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
		if err := os.WriteFile(path, data, 0o600); err != nil {
			return err
		}
		observability.CLILogger.Info("Config file written", zap.String("path", path))
		fmt.Println(path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration with secrets masked",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		cfg, err := loadedConfig()
		if err != nil {
			return err
		}
		redacted := cfg.Redacted()

		if used := config.ConfigFileUsed(); used != "" {
			fmt.Fprintf(os.Stderr, "# config file: %s\n", used)
		}
		switch strings.ToLower(format) {
		case "json":
			payload, err := json.MarshalIndent(redacted, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(payload))
		case "", "yaml":
			payload, err := yaml.Marshal(redacted)
			if err != nil {
				return err
			}
			fmt.Print(string(payload))
		default:
			return fmt.Errorf("unsupported format: %s", format)
		}
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadedConfig()
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			fmt.Println("Configuration is invalid:")
			for _, line := range strings.Split(err.Error(), "\n") {
				if strings.TrimSpace(line) != "" {
					fmt.Printf("  - %s\n", line)
				}
			}
			return errors.New("configuration validation failed")
		}
		if used := config.ConfigFileUsed(); used != "" {
			fmt.Printf("Configuration is valid (%s)\n", used)
		} else {
			fmt.Println("Configuration is valid (defaults and environment only)")
		}
		return nil
	},
}

// starterConfig renders built-in defaults with a random HMAC secret. Paths
// derived from XDG directories are left empty so they resolve at load time.
func starterConfig() ([]byte, error) {
	cfg := config.Defaults()
	cfg.Store.Path = ""
	cfg.Persistence.StateFile = ""

	secret, err := randomSecret(32)
	if err != nil {
		return nil, err
	}
	cfg.Persistence.HMACSecret = secret

	body, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	header := fmt.Sprintf("# %s configuration\n# Environment variables with the %s prefix override these values.\n\n", config.AppName, config.EnvPrefix)
	return append([]byte(header), body...), nil
}

func randomSecret(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(configCmd)

	configInitCmd.Flags().String("path", "", "config file to write (default: XDG config path)")
	configInitCmd.Flags().Bool("force", false, "overwrite an existing file")
	configShowCmd.Flags().String("format", "yaml", "output format: yaml, json")
}
