package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"runtime"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"

	"github.com/namelens/domaincheck/internal/config"
	"github.com/namelens/domaincheck/internal/core/tld"
)

var (
	versionExtended bool
	versionJSON     bool
)

// versionDetails is the extended version report.
type versionDetails struct {
	Version     string `json:"version"`
	Commit      string `json:"git_commit"`
	BuildDate   string `json:"build_date"`
	GoVersion   string `json:"go_version"`
	Gofulmen    string `json:"gofulmen"`
	Crucible    string `json:"crucible"`
	BuiltinTLDs int    `json:"builtin_tlds"`
	Config      string `json:"config,omitempty"`
	Language    string `json:"language,omitempty"`
	Persistence string `json:"persistence,omitempty"`
	Simulation  bool   `json:"simulation"`
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long: `Print version information. --extended adds build, dependency and
registry details plus the active configuration; --json prints the extended
report as JSON.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		if !versionExtended && !versionJSON {
			_, err := fmt.Fprintf(out, "%s %s\n", config.AppName, versionInfo.Version)
			return err
		}

		details := collectVersionDetails(config.GetConfig())
		if versionJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(details)
		}
		printVersionDetails(out, details)
		return nil
	},
}

func collectVersionDetails(cfg *config.Config) versionDetails {
	deps := crucible.GetVersion()
	details := versionDetails{
		Version:   versionInfo.Version,
		Commit:    versionInfo.Commit,
		BuildDate: versionInfo.BuildDate,
		GoVersion: runtime.Version(),
		Gofulmen:  deps.Gofulmen,
		Crucible:  deps.Crucible,
	}
	if registry, err := tld.New(); err == nil {
		details.BuiltinTLDs = len(registry.TLDs())
	}
	if cfg != nil {
		details.Config = configSource()
		details.Language = cfg.System.Language
		details.Persistence = cfg.Persistence.Backend
		details.Simulation = cfg.System.SimulationMode
	}
	return details
}

func printVersionDetails(w io.Writer, d versionDetails) {
	fmt.Fprintf(w, "%s %s\n", config.AppName, d.Version)
	fmt.Fprintf(w, "Commit: %s\n", d.Commit)
	fmt.Fprintf(w, "Built: %s\n", d.BuildDate)
	fmt.Fprintf(w, "Go: %s\n\n", d.GoVersion)
	fmt.Fprintf(w, "Gofulmen: %s\n", d.Gofulmen)
	fmt.Fprintf(w, "Crucible: %s\n", d.Crucible)
	fmt.Fprintf(w, "Built-in TLDs: %d\n", d.BuiltinTLDs)
	if d.Config == "" {
		return
	}
	fmt.Fprintf(w, "\nConfig: %s\n", d.Config)
	fmt.Fprintf(w, "Language: %s\n", d.Language)
	fmt.Fprintf(w, "Persistence: %s\n", d.Persistence)
	fmt.Fprintf(w, "Simulation: %s\n", enabledLabel(d.Simulation))
}

func configSource() string {
	if used := config.ConfigFileUsed(); used != "" {
		return used
	}
	return "(defaults and environment)"
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVarP(&versionExtended, "extended", "e", false, "show build, dependency and configuration details")
	versionCmd.Flags().BoolVar(&versionJSON, "json", false, "print the extended report as JSON")
}
