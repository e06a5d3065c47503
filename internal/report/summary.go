package report

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/TobiSchelling/socialshares/internal/pipeline"
)

// RunSummary writes the end-of-run tally.
func RunSummary(w io.Writer, r *pipeline.Result) error {
	title := "Engagement run summary"
	switch {
	case r.DryRun:
		title += " (dry run)"
	case r.Interrupted:
		title += " (interrupted)"
	}
	fmt.Fprintf(w, "\n%s\n%s\n", title, strings.Repeat("=", len(title)))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Selection:\t%s\n", r.Selection)
	fmt.Fprintf(tw, "Started:\t%s\n", r.StartedAt.Format(time.DateTime))
	fmt.Fprintf(tw, "Finished:\t%s\n", r.FinishedAt.Format(time.DateTime))
	fmt.Fprintf(tw, "Duration:\t%s\n", r.Duration().Round(time.Second))

	if r.SelectionErr != nil {
		fmt.Fprintf(tw, "Selection error:\t%v\n", r.SelectionErr)
		return tw.Flush()
	}

	fmt.Fprintf(tw, "Candidates:\t%d\n", r.Selected)
	fmt.Fprintf(tw, "Processed:\t%d\n", r.Processed)
	if r.DryRun {
		fmt.Fprintf(tw, "Skipped:\t%d\n", r.Skipped)
	} else {
		fmt.Fprintf(tw, "New:\t%d\n", r.New)
		fmt.Fprintf(tw, "Updated:\t%d\n", r.Updated)
		fmt.Fprintf(tw, "Unchanged:\t%d\n", r.Unchanged)
		fmt.Fprintf(tw, "Failed:\t%d\n", r.Failed)
		if r.Degraded > 0 {
			fmt.Fprintf(tw, "Degraded fetches:\t%d (%s)\n", r.Degraded, degradedBreakdown(r.DegradedBy))
		}
		if r.Processed > 0 {
			fmt.Fprintf(tw, "Success rate:\t%.1f%%\n", r.SuccessRate())
		}
	}
	if len(r.Missing) > 0 {
		ids := make([]string, len(r.Missing))
		for i, id := range r.Missing {
			ids[i] = fmt.Sprint(id)
		}
		fmt.Fprintf(tw, "Not found:\t%s\n", strings.Join(ids, ", "))
	}
	if r.Interrupted {
		fmt.Fprintf(tw, "Not processed:\t%d\n", r.Selected-r.Processed)
	}
	return tw.Flush()
}

// Candidates lists the records a dry run would have processed.
func Candidates(w io.Writer, r *pipeline.Result) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPublished\tPrior total\tURL")
	for _, rec := range r.Records {
		c := rec.Candidate
		prior := "-"
		if p := c.PriorTotal(); p != nil {
			prior = fmt.Sprint(*p)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", c.ID, date(c.Published), prior, c.URL)
	}
	return tw.Flush()
}

func degradedBreakdown(by map[string]int) string {
	names := make([]string, 0, len(by))
	for name := range by {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s: %d", name, by[name])
	}
	return strings.Join(parts, ", ")
}
