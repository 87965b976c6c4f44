package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/namelens/domaincheck/internal/core/tld"
)

var tldsCmd = &cobra.Command{
	Use:   "tlds",
	Short: "Inspect the TLD registry",
}

var tldsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List TLD registry entries",
	Long: `List the RDAP and WHOIS configuration for each TLD. By default only the
TLDs allowed by tlds.allowed are shown.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		jsonOutput, _ := cmd.Flags().GetBool("json")

		cfg, err := loadedConfig()
		if err != nil {
			return err
		}
		registry, err := buildRegistry(cfg, nil)
		if err != nil {
			return err
		}

		var entries []tld.Entry
		if all {
			entries = registry.Entries()
		} else {
			entries = registry.Entries(cfg.TLDs.Allowed...)
		}

		if jsonOutput {
			payload, err := json.MarshalIndent(entries, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(payload))
			return nil
		}

		t := table.NewWriter()
		t.SetStyle(table.StyleRounded)
		t.AppendHeader(table.Row{"TLD", "Group", "Primary RDAP", "Secondary RDAP", "WHOIS", "Valid"})
		for _, e := range entries {
			whois := "-"
			if e.WhoisEnabled {
				whois = e.WhoisServer
				if whois == "" {
					whois = "(default)"
				}
			}
			valid := "yes"
			if err := e.Validate(); err != nil {
				valid = "no: " + err.Error()
			}
			t.AppendRow(table.Row{e.TLD, e.Group, e.RDAPEndpoint, dash(e.SecondaryRDAPEndpoint), whois, valid})
		}
		t.AppendFooter(table.Row{fmt.Sprintf("%d TLDs", len(entries)), "", "", "", "", ""})
		fmt.Println(t.Render())
		return nil
	},
}

func dash(value string) string {
	if value == "" {
		return "-"
	}
	return value
}

func init() {
	tldsCmd.AddCommand(tldsListCmd)
	rootCmd.AddCommand(tldsCmd)

	tldsListCmd.Flags().Bool("all", false, "list every registry entry, not only allowed TLDs")
	tldsListCmd.Flags().Bool("json", false, "print entries as JSON")
}
