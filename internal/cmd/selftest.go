package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/namelens/domaincheck/internal/observability"
	"github.com/namelens/domaincheck/internal/selftest"
)

var selfTestCmd = &cobra.Command{
	Use:   "self-test",
	Short: "Validate configuration and check registry endpoint connectivity",
	Long: `Validate the configuration and every allowed TLD, then check each
configured RDAP endpoint over HTTPS and each WHOIS server over TCP.

Exits non-zero when any check fails.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOutput, _ := cmd.Flags().GetBool("json")
		configOnly, _ := cmd.Flags().GetBool("config-only")

		cfg, err := loadedConfig()
		if err != nil {
			return err
		}
		a, err := buildApp(cmd.Context(), cfg, observability.CLILogger, appOptions{})
		if err != nil {
			return err
		}
		defer a.Close() // nolint:errcheck // best-effort cleanup

		report := a.selfTest(cmd.Context(), configOnly)
		if jsonOutput {
			payload, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(payload))
		} else {
			selftest.Print(os.Stdout, report, a.tr)
		}

		if !report.Success {
			_ = a.Close()
			ExitWithCode(observability.CLILogger, foundry.ExitFailure, "Self-test failed", errors.New(a.tr.T("selftest.failed", nil)))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(selfTestCmd)

	selfTestCmd.Flags().Bool("json", false, "print the report as JSON")
	selfTestCmd.Flags().Bool("config-only", false, "validate configuration without probing endpoints")
}
