package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/TobiSchelling/socialshares/internal/config"
	"github.com/TobiSchelling/socialshares/internal/logging"
	"github.com/TobiSchelling/socialshares/internal/pipeline"
	"github.com/TobiSchelling/socialshares/internal/report"
	"github.com/TobiSchelling/socialshares/internal/scheduler"
	"github.com/TobiSchelling/socialshares/internal/server"
	"github.com/TobiSchelling/socialshares/internal/telemetry"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
	logger     logging.Logger
)

var errInterrupted = errors.New("interrupted")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "socialshares",
	Short:        "Social engagement snapshots for published content",
	Long:         "socialshares fetches share and engagement counts for published URLs from SharedCount and X search, and keeps one snapshot per content record.",
	Version:      version,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger = logging.New(os.Stderr, "info", "text")

		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		loaded, err := config.LoadEnv()
		if err != nil {
			return err
		}
		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		level := cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		logger = logging.New(os.Stderr, level, cfg.Logging.Format)
		logger.WithFields(logging.Fields{"config": path, "env_files": loaded}).Debug("configuration loaded")

		return cfg.Validate()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(backfillCmd)
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(topCmd)
	rootCmd.AddCommand(trendingCmd)
	rootCmd.AddCommand(scheduleCmd)
	rootCmd.AddCommand(serveCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("socialshares", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/socialshares/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Set DATABASE_URL, SHAREDCOUNT_API_KEY and TWITTER_API_KEY in the environment or a .env file.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show snapshot coverage and provider configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.Stats(cmd.Context())
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}

		fmt.Printf("Store: %s\n\n", db.Dialect())
		if err := report.Status(os.Stdout, stats); err != nil {
			return err
		}

		fmt.Println("\nProviders:")
		for _, p := range newAggregator().Providers() {
			state := "configured"
			if !p.IsConfigured() {
				state = "no API key (contributes zeros)"
			}
			fmt.Printf("  %s: %s\n", p.Name(), state)
		}
		return nil
	},
}

// --- backfill command ---

var (
	backfillIDs     []int64
	backfillLimit   int
	backfillClient  int64
	backfillDryRun  bool
	backfillShowTop int
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Create snapshots for content without one, or for explicit ids",
	Long: `Fetch engagement for content records that have no snapshot yet (newest
first, up to --limit), or for the records named by --ids. Every fetched
record is written, even when its total did not change.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var sel pipeline.Selection
		if len(backfillIDs) > 0 {
			if cmd.Flags().Changed("client") {
				logger.Warn("--client is ignored when --ids is given")
			}
			if cmd.Flags().Changed("limit") {
				logger.Warn("--limit is ignored when --ids is given")
			}
			sel = pipeline.Selection{Mode: pipeline.ModeIDs, IDs: backfillIDs}
		} else {
			sel = pipeline.Selection{Mode: pipeline.ModeMissing, Limit: backfillLimit}
			if sel.Limit == 0 {
				sel.Limit = cfg.Pipeline.Limit
			}
			if cmd.Flags().Changed("client") {
				sel.ClientID = &backfillClient
			}
		}

		if err := runOnce(cmd.Context(), sel, backfillDryRun); err != nil {
			return err
		}
		if backfillShowTop > 0 && !backfillDryRun {
			return printTop(cmd.Context(), backfillShowTop, report.FormatText)
		}
		return nil
	},
}

func init() {
	backfillCmd.Flags().Int64SliceVar(&backfillIDs, "ids", nil, "Content ids to process (comma separated)")
	backfillCmd.Flags().IntVarP(&backfillLimit, "limit", "l", 0, "Maximum records without a snapshot to process (default from config)")
	backfillCmd.Flags().Int64Var(&backfillClient, "client", 0, "Only process content of this client id")
	backfillCmd.Flags().BoolVar(&backfillDryRun, "dry-run", false, "List candidates without fetching or writing")
	backfillCmd.Flags().IntVar(&backfillShowTop, "show-top", 0, "Print the top N records by engagement afterwards")
}

// --- refresh command ---

var (
	refreshDays         int
	refreshDryRun       bool
	refreshShowTrending int
)

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Refresh engagement for recently published content",
	Long: `Fetch engagement for every record published within --days and update
its snapshot. Records whose total did not change are left untouched.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		days := refreshDays
		if days == 0 {
			days = cfg.Pipeline.DaysBack
		}
		sel := pipeline.Selection{Mode: pipeline.ModeRecent, DaysBack: days}

		if err := runOnce(cmd.Context(), sel, refreshDryRun); err != nil {
			return err
		}
		if refreshShowTrending > 0 && !refreshDryRun {
			return printTrending(cmd.Context(), days, refreshShowTrending, report.FormatText)
		}
		return nil
	},
}

func init() {
	refreshCmd.Flags().IntVarP(&refreshDays, "days", "d", 0, "Lookback window in days (default from config)")
	refreshCmd.Flags().BoolVar(&refreshDryRun, "dry-run", false, "List candidates without fetching or writing")
	refreshCmd.Flags().IntVar(&refreshShowTrending, "show-trending", 0, "Print the top N trending records afterwards")
}

// --- report commands ---

var (
	reportLimit  int
	reportDays   int
	reportFormat string
)

var topCmd = &cobra.Command{
	Use:   "top",
	Short: "Show content with the highest engagement",
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := report.ParseFormat(reportFormat)
		if err != nil {
			return err
		}
		return printTop(cmd.Context(), reportLimit, f)
	},
}

var trendingCmd = &cobra.Command{
	Use:   "trending",
	Short: "Show recently published content by engagement",
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := report.ParseFormat(reportFormat)
		if err != nil {
			return err
		}
		days := reportDays
		if days == 0 {
			days = cfg.Pipeline.DaysBack
		}
		return printTrending(cmd.Context(), days, reportLimit, f)
	},
}

func init() {
	for _, c := range []*cobra.Command{topCmd, trendingCmd} {
		c.Flags().IntVarP(&reportLimit, "limit", "l", 10, "Number of rows")
		c.Flags().StringVarP(&reportFormat, "format", "f", "text", "Output format: text, markdown, html or json")
	}
	trendingCmd.Flags().IntVarP(&reportDays, "days", "d", 0, "Lookback window in days (default from config)")
}

// --- schedule command ---

var schedulePort int

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the configured jobs on their cron schedules",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if len(cfg.Schedule.Jobs) == 0 {
			return fmt.Errorf("no jobs configured under schedule.jobs")
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		metrics := telemetry.New()
		metrics.RegisterRuntime()
		metrics.RegisterStore(db)
		pipe := newPipeline(db, nil)

		sched, err := scheduler.New(cfg.Schedule.Timezone, logger)
		if err != nil {
			return err
		}
		for _, job := range cfg.Schedule.Jobs {
			sel, err := scheduler.JobSelection(job, cfg.Pipeline)
			if err != nil {
				return err
			}
			err = sched.AddJob(job.Name, job.Cron, func(ctx context.Context) error {
				result := pipe.Run(ctx, sel)
				metrics.ObserveRun(result)
				logRunSummary(job.Name, result)
				return result.SelectionErr
			})
			if err != nil {
				return err
			}
		}

		sched.Start(ctx)
		for _, j := range sched.ListJobs() {
			fmt.Printf("  %s (%s): next run %s\n", j.Name, j.Schedule, j.NextRun.Format("2006-01-02 15:04 MST"))
		}

		if schedulePort > 0 {
			srv, err := server.New(db, server.Options{DaysBack: cfg.Pipeline.DaysBack, Metrics: metrics.Handler()}, logger)
			if err != nil {
				return err
			}
			fmt.Printf("Dashboard at http://localhost:%d\n", schedulePort)
			if err := server.Serve(ctx, srv.Handler(), schedulePort, logger); err != nil {
				logger.WithError(err).Error("server stopped")
			}
		}

		<-ctx.Done()
		fmt.Println("Stopping scheduler, waiting for running jobs...")
		<-sched.Stop().Done()
		return nil
	},
}

func init() {
	scheduleCmd.Flags().IntVarP(&schedulePort, "port", "p", 0, "Also serve the dashboard and /metrics on this port")
}

// --- serve command ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the local dashboard",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		metrics := telemetry.New()
		metrics.RegisterRuntime()
		metrics.RegisterStore(db)

		srv, err := server.New(db, server.Options{DaysBack: cfg.Pipeline.DaysBack, Metrics: metrics.Handler()}, logger)
		if err != nil {
			return err
		}

		fmt.Printf("Starting server at http://localhost:%d\n", port)
		fmt.Println("Press Ctrl+C to stop")
		return server.Serve(cmd.Context(), srv.Handler(), port, logger)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to run server on (default from config)")
}
