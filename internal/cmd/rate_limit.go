package cmd

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/fulmenhq/gofulmen/ascii"
	"github.com/spf13/cobra"

	"github.com/namelens/domaincheck/internal/core"
	"github.com/namelens/domaincheck/internal/core/engine"
	"github.com/namelens/domaincheck/internal/output"
)

var rateLimitCmd = &cobra.Command{
	Use:   "rate-limit",
	Short: "Inspect rate limit rules",
}

var (
	rateLimitShowOutput string
	rateLimitShowOut    string
)

var rateLimitShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective rate limit rules",
	Long: `Show the rate limit rules the checker applies, after defaults and the
rate_limit_margin are taken into account.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(rateLimitShowOutput)
		if err != nil {
			return err
		}
		if format != output.FormatJSON && format != output.FormatTable {
			return fmt.Errorf("unsupported output format: %s", format)
		}

		cfg, err := loadedConfig()
		if err != nil {
			return err
		}
		rules := cfg.RateLimitConfig()
		limiter := engine.NewRateLimiter(rules)
		limiter.ApplySafetyMargin(cfg.RateLimitMargin)

		if format == output.FormatJSON {
			payload, err := json.MarshalIndent(struct {
				Rules  core.RateLimitConfig `json:"rules"`
				Margin float64              `json:"margin"`
			}{rules, cfg.RateLimitMargin}, "", "  ")
			if err != nil {
				return err
			}
			_, err = writeReport(cmd.OutOrStdout(), rateLimitShowOut, string(payload))
			return err
		}

		lines := []string{"Rate Limits", fmt.Sprintf("margin: %.2f", cfg.RateLimitMargin), ""}
		if rules.Global != nil {
			lines = append(lines, "global: "+describeRule(limiter, *rules.Global))
		}
		if rules.PerIdentity != nil {
			identity := cfg.System.Identity
			if identity == "" {
				identity = "(unset)"
			}
			lines = append(lines, fmt.Sprintf("identity %s: %s", identity, describeRule(limiter, *rules.PerIdentity)))
		}
		for _, key := range sortedKeys(rules.PerTLD) {
			lines = append(lines, fmt.Sprintf("tld %s: %s", key, describeRule(limiter, rules.PerTLD[key])))
		}
		for _, key := range sortedKeys(rules.PerEndpoint) {
			lines = append(lines, fmt.Sprintf("endpoint %s: %s", key, describeRule(limiter, rules.PerEndpoint[key])))
		}
		if len(lines) == 3 {
			lines = append(lines, "(no rate limit rules)")
		}

		_, err = writeReport(cmd.OutOrStdout(), rateLimitShowOut, ascii.DrawBox(strings.Join(lines, "\n"), 0))
		return err
	},
}

func describeRule(limiter *engine.RateLimiter, rule core.RateLimitRule) string {
	effective := limiter.Effective(rule)
	desc := fmt.Sprintf("%d requests / %s", effective.MaxRequests, rule.Window)
	if effective.MaxRequests != rule.MaxRequests {
		desc += fmt.Sprintf(" (configured %d)", rule.MaxRequests)
	}
	if rule.MinDelay > 0 {
		desc += fmt.Sprintf(", min delay %s", rule.MinDelay)
	}
	return desc
}

func sortedKeys(m map[string]core.RateLimitRule) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func init() {
	rateLimitShowCmd.Flags().StringVar(&rateLimitShowOutput, "output", string(output.FormatTable), "Output format: table|json")
	rateLimitShowCmd.Flags().StringVar(&rateLimitShowOut, "out", "", "Write output to a file (default stdout)")

	rateLimitCmd.AddCommand(rateLimitShowCmd)
	rootCmd.AddCommand(rateLimitCmd)
}
