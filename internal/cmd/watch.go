package cmd

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/namelens/domaincheck/internal/config"
	"github.com/namelens/domaincheck/internal/core"
	"github.com/namelens/domaincheck/internal/observability"
	"github.com/namelens/domaincheck/internal/schedule"
)

const (
	watchTaskCheck     = "check-domains"
	watchTaskBootstrap = "bootstrap-refresh"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Check the domains file on a cron schedule",
	Long: `Run checks of the configured domains file on a cron schedule and notify
when a domain becomes available.

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: stop after the running check completes
  • Ctrl+C twice within 2s: Force quit`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().String("file", "", "domains file (default: schedule.domains_file)")
	watchCmd.Flags().String("cron", "", "cron expression (default: schedule.cron)")
	watchCmd.Flags().Bool("once", false, "run one check cycle and exit")
	watchCmd.Flags().String("bootstrap-cron", "@daily", "refresh the RDAP bootstrap cache on this schedule (empty disables)")
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadedConfig()
	if err != nil {
		return err
	}
	file, _ := cmd.Flags().GetString("file")
	spec, _ := cmd.Flags().GetString("cron")
	once, _ := cmd.Flags().GetBool("once")
	bootstrapSpec, _ := cmd.Flags().GetString("bootstrap-cron")
	if strings.TrimSpace(file) == "" {
		file = cfg.Schedule.DomainsFile
	}
	if strings.TrimSpace(spec) == "" {
		spec = cfg.Schedule.Cron
	}
	if strings.TrimSpace(file) == "" {
		return errors.New("no domains file: set schedule.domains_file or --file")
	}
	if _, err := schedule.ParseSpec(spec); err != nil {
		return err
	}

	observability.InitServerLogger(config.AppName, cfg.Logging.Level, "watch")
	log := observability.ServerLogger

	if cfg.Metrics.Enabled && !once {
		if err := observability.InitMetrics(config.AppName, cfg.Metrics.Port); err != nil {
			log.Warn("Failed to initialize metrics", zap.Error(err))
		} else {
			defer observability.ShutdownMetrics() // nolint:errcheck // exporter teardown on exit
		}
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	a, err := buildApp(ctx, cfg, log, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close() // nolint:errcheck // best-effort cleanup

	if err := a.startupSelfTest(ctx); err != nil {
		return err
	}

	concurrency := cfg.Schedule.Concurrency
	if concurrency < 1 {
		concurrency = cfg.Workers
	}
	check := func(ctx context.Context) error {
		return watchCycle(ctx, a, file, concurrency)
	}

	if once {
		return check(ctx)
	}

	sched := schedule.New(log)
	if err := sched.Add(watchTaskCheck, spec, check); err != nil {
		return err
	}
	if strings.TrimSpace(bootstrapSpec) != "" && a.db != nil && cfg.TLDs.BootstrapFallback {
		if err := sched.Add(watchTaskBootstrap, bootstrapSpec, func(ctx context.Context) error {
			_, err := newBootstrapService(cfg, a.db, a.audit).Update(ctx)
			return err
		}); err != nil {
			return err
		}
	}

	done := make(chan struct{})
	signals.OnShutdown(func(sctx context.Context) error {
		log.Info(a.tr.T("scheduler.stopped", nil))
		cancel()
		select {
		case <-done:
		case <-sctx.Done():
		}
		_ = log.Sync()
		return nil
	})
	if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
		Window:  2 * time.Second,
		Message: "Press Ctrl+C again within 2 seconds to force quit",
	}); err != nil {
		log.Warn("Failed to enable double-tap force quit", zap.Error(err))
	}
	go func() {
		if err := signals.Listen(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("Signal handler error", zap.Error(err))
		}
	}()

	if cfg.Schedule.RunOnStart {
		_ = sched.RunNow(ctx, watchTaskCheck)
	}

	for _, t := range sched.List() {
		log.Info(a.tr.T("scheduler.next_run", map[string]string{"time": a.tr.FormatTime(t.NextRun)}),
			zap.String("task", t.Name),
			zap.String("spec", t.Spec))
	}
	log.Info(a.tr.T("scheduler.started", nil), zap.String("file", file))

	err = sched.Run(ctx)
	close(done)
	return err
}

// watchCycle re-reads the domains file so edits apply without a restart.
func watchCycle(ctx context.Context, a *app, file string, concurrency int) error {
	domains, err := readDomainsFile(file)
	if err != nil {
		return err
	}
	started := time.Now()
	results := a.orchestrator.CheckDomains(ctx, domains, concurrency)

	var available, notified int
	for _, r := range results {
		if r.Result.Status == core.AvailabilityAvailable {
			available++
		}
		if r.NotificationSent {
			notified++
		}
		a.log.Info(a.tr.T("cli.result", map[string]string{"status": a.tr.Status(r.Result.Status)}),
			zap.String("domain", r.Result.Domain),
			zap.String("confidence", r.Result.Confidence.String()))
	}
	a.log.Info("Check cycle finished",
		zap.Int("domains", len(results)),
		zap.Int("available", available),
		zap.Int("notified", notified),
		zap.Duration("elapsed", time.Since(started)))
	return ctx.Err()
}
