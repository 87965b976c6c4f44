package cmd

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/namelens/domaincheck/internal/core"
	"github.com/namelens/domaincheck/internal/observability"
	"github.com/namelens/domaincheck/internal/output"
)

var checkCmd = &cobra.Command{
	Use:   "check <domain>...",
	Short: "Check domain availability",
	Long: `Check whether one or more domains are available.

A domain is AVAILABLE only when the primary RDAP source returns 404 and an
independent secondary source (RDAP or WHOIS) agrees. Every other outcome is
TAKEN or UNKNOWN.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChecks(cmd, args, "check")
	},
}

var checkListCmd = &cobra.Command{
	Use:   "check-list <file>",
	Short: "Check every domain listed in a file",
	Long: `Read domains from a file (one per line, "-" for stdin) and check them
with a bounded worker pool. Blank lines and lines starting with # are ignored.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		domains, err := readDomainsFile(args[0])
		if err != nil {
			return err
		}
		return runChecks(cmd, domains, "check-list")
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(checkListCmd)

	for _, c := range []*cobra.Command{checkCmd, checkListCmd} {
		c.Flags().String("output", "table", "Output format: table, json, markdown")
		c.Flags().String("out", "", "Write output to a file (default stdout)")
		c.Flags().String("out-dir", "", "Write output to a directory")
		c.Flags().Int("concurrency", 0, "Concurrent checks (default: workers from config)")
		c.Flags().Bool("available-only", false, "Only show available domains")
	}
}

func runChecks(cmd *cobra.Command, domains []string, label string) error {
	format, err := resolveOutputFormat(cmd)
	if err != nil {
		return err
	}
	outPath, err := reportPath(cmd, format, domains, label)
	if err != nil {
		return err
	}
	concurrency, err := cmd.Flags().GetInt("concurrency")
	if err != nil {
		return err
	}
	if concurrency < 0 {
		return errors.New("concurrency must be at least 1")
	}
	availableOnly, err := cmd.Flags().GetBool("available-only")
	if err != nil {
		return err
	}

	cfg, err := loadedConfig()
	if err != nil {
		return err
	}
	if concurrency == 0 {
		concurrency = cfg.Workers
	}

	ctx := cmd.Context()
	a, err := buildApp(ctx, cfg, observability.CLILogger, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close() // nolint:errcheck // best-effort cleanup

	if err := a.startupSelfTest(ctx); err != nil {
		return err
	}

	startedAt := time.Now()
	if len(domains) == 1 {
		observability.CLILogger.Debug(a.tr.T("cli.checking_domain", map[string]string{"domain": domains[0]}))
	}
	results := a.orchestrator.CheckDomains(ctx, domains, concurrency)
	logThroughput(len(results), startedAt)

	if availableOnly {
		results = filterAvailable(results)
	}

	rendered, err := output.NewFormatter(format, a.tr).FormatResults(results)
	if err != nil {
		return err
	}
	written, err := writeReport(cmd.OutOrStdout(), outPath, strings.TrimSpace(rendered))
	if err != nil {
		return err
	}
	if written != "-" {
		observability.CLILogger.Info("Results written", zap.String("path", written), zap.Int("results", len(results)))
	}
	return nil
}

func filterAvailable(results []core.OrchestratorResult) []core.OrchestratorResult {
	filtered := make([]core.OrchestratorResult, 0, len(results))
	for _, r := range results {
		if r.Result.Status == core.AvailabilityAvailable {
			filtered = append(filtered, r)
		}
	}
	return filtered
}

func logThroughput(count int, startedAt time.Time) {
	if count <= 0 {
		return
	}
	elapsed := time.Since(startedAt)
	if elapsed <= 0 {
		return
	}
	rate := float64(count) / elapsed.Seconds()
	observability.CLILogger.Info(
		"Check throughput",
		zap.Int("checks", count),
		zap.Duration("elapsed", elapsed),
		zap.Float64("rate_per_sec", rate),
	)
}
