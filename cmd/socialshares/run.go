package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/TobiSchelling/socialshares/internal/database"
	"github.com/TobiSchelling/socialshares/internal/logging"
	"github.com/TobiSchelling/socialshares/internal/pipeline"
	"github.com/TobiSchelling/socialshares/internal/reconcile"
	"github.com/TobiSchelling/socialshares/internal/report"
	"github.com/TobiSchelling/socialshares/internal/social"
	"github.com/TobiSchelling/socialshares/internal/telemetry"
)

func openDB() (*database.DB, error) {
	db, err := database.Open(cfg.DatabaseURL(), database.Options{
		ContentTable:  cfg.Database.ContentTable,
		SnapshotTable: cfg.Database.SnapshotTable,
		MaxOpenConns:  cfg.Database.MaxOpenConns,
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	return db, nil
}

func newAggregator() *social.Aggregator {
	return social.NewFromConfig(cfg.Social, logger)
}

// newPipeline wires selector, aggregator and reconciler over db.
func newPipeline(db *database.DB, progress func(done, total int, rec pipeline.RecordResult)) *pipeline.Pipeline {
	agg := newAggregator()
	for _, p := range agg.Providers() {
		if !p.IsConfigured() {
			logger.WithField("provider", p.Name()).Warn("API key not set, provider contributes zeros")
		}
	}

	return pipeline.New(db, agg, reconcile.NewReconciler(db, logger), pipeline.Options{
		Delay:    cfg.Pipeline.Delay,
		Progress: progress,
	}, logger)
}

// runOnce executes one selection, prints its summary and pushes metrics
// when a Pushgateway is configured.
func runOnce(ctx context.Context, sel pipeline.Selection, dryRun bool) error {
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	fmt.Printf("Processing %s\n", sel)
	pipe := newPipeline(db, printProgress)

	var result *pipeline.Result
	if dryRun {
		result = pipe.DryRun(ctx, sel)
		if len(result.Records) > 0 {
			fmt.Println()
			if err := report.Candidates(os.Stdout, result); err != nil {
				return err
			}
		}
	} else {
		result = pipe.Run(ctx, sel)
	}

	if err := report.RunSummary(os.Stdout, result); err != nil {
		return err
	}

	if !dryRun && cfg.Metrics.PushgatewayURL != "" {
		metrics := telemetry.New()
		metrics.ObserveRun(result)
		pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := metrics.Push(pushCtx, cfg.Metrics.PushgatewayURL, cfg.Metrics.Job); err != nil {
			logger.WithError(err).Warn("metrics push failed")
		}
	}

	// A failed selection is reported in the summary and ends the run cleanly.
	if result.Interrupted {
		return errInterrupted
	}
	return nil
}

func printProgress(done, total int, rec pipeline.RecordResult) {
	if rec.Outcome == reconcile.Skipped {
		return
	}
	line := fmt.Sprintf("  [%d/%d] %d %s total=%d", done, total, rec.Candidate.ID, rec.Outcome, rec.Total)
	if prior := rec.Candidate.PriorTotal(); prior != nil {
		line += fmt.Sprintf(" prior=%d", *prior)
	}
	if rec.Err != nil {
		line += fmt.Sprintf(" error=%v", rec.Err)
	}
	fmt.Println(line)
}

func logRunSummary(job string, r *pipeline.Result) {
	entry := logger.WithFields(logging.Fields{
		"job":          job,
		"selection":    r.Selection.String(),
		"selected":     r.Selected,
		"processed":    r.Processed,
		"new":          r.New,
		"updated":      r.Updated,
		"unchanged":    r.Unchanged,
		"failed":       r.Failed,
		"degraded":     r.Degraded,
		"success_rate": fmt.Sprintf("%.1f", r.SuccessRate()),
		"duration":     r.Duration().Round(time.Second).String(),
	})
	if r.SelectionErr != nil {
		entry.WithError(r.SelectionErr).Error("run failed")
		return
	}
	entry.Info("run finished")
}

func printTop(ctx context.Context, limit int, f report.Format) error {
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	rows, err := db.TopEngagement(ctx, limit)
	if err != nil {
		return fmt.Errorf("loading top engagement: %w", err)
	}
	if f == report.FormatText {
		fmt.Printf("\nTop %d by total engagement:\n", limit)
	}
	return report.Top(os.Stdout, rows, f)
}

func printTrending(ctx context.Context, days, limit int, f report.Format) error {
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	rows, err := db.Trending(ctx, days, limit)
	if err != nil {
		return fmt.Errorf("loading trending: %w", err)
	}
	if f == report.FormatText {
		fmt.Printf("\nTrending in the last %d days:\n", days)
	}
	return report.Trending(os.Stdout, rows, days, f)
}
