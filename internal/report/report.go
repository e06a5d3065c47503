// Package report renders engagement reports and run summaries as text
// tables, Markdown, HTML or JSON.
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/TobiSchelling/socialshares/internal/database"
)

// Format selects the output encoding of a report.
type Format string

const (
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
	FormatJSON     Format = "json"
)

// ParseFormat maps a flag value to a Format.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatText, FormatMarkdown, FormatHTML, FormatJSON:
		return f, nil
	case "md":
		return FormatMarkdown, nil
	case "":
		return FormatText, nil
	default:
		return "", fmt.Errorf("unknown format %q (want text, markdown, html or json)", s)
	}
}

const titleWidth = 50

var md = goldmark.New(goldmark.WithExtensions(extension.Table))

// MarkdownToHTML renders GitHub-flavoured Markdown tables and text to HTML.
func MarkdownToHTML(src string) (string, error) {
	var buf bytes.Buffer
	if err := md.Convert([]byte(src), &buf); err != nil {
		return "", fmt.Errorf("rendering markdown: %w", err)
	}
	return buf.String(), nil
}

// Top writes the top-engagement report.
func Top(w io.Writer, rows []database.TopRow, f Format) error {
	switch f {
	case FormatJSON:
		return writeJSON(w, rows)
	case FormatMarkdown:
		_, err := io.WriteString(w, TopMarkdown(rows))
		return err
	case FormatHTML:
		return writeHTML(w, TopMarkdown(rows))
	}

	if len(rows) == 0 {
		_, err := fmt.Fprintln(w, "No engagement data found.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "ID\tTitle\tTweets\tFB shares\tReddit\tTotal\t")
	for _, r := range rows {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t\n",
			r.ContentID,
			truncate(r.Title, titleWidth),
			humanize.Comma(r.Breakdown.XTweets),
			humanize.Comma(r.Breakdown.FacebookShares),
			humanize.Comma(r.Breakdown.Reddit),
			humanize.Comma(r.Total))
	}
	return tw.Flush()
}

// TopMarkdown renders the top report as a Markdown table.
func TopMarkdown(rows []database.TopRow) string {
	var b strings.Builder
	b.WriteString("## Top engagement\n\n")
	if len(rows) == 0 {
		b.WriteString("No engagement data found.\n")
		return b.String()
	}
	b.WriteString("| ID | Title | Client | Tweets | FB shares | Reddit | Total |\n")
	b.WriteString("|---:|---|---|---:|---:|---:|---:|\n")
	for _, r := range rows {
		fmt.Fprintf(&b, "| %d | %s | %s | %d | %d | %d | %d |\n",
			r.ContentID, link(r.Title, r.URL), cell(r.Client),
			r.Breakdown.XTweets, r.Breakdown.FacebookShares, r.Breakdown.Reddit, r.Total)
	}
	return b.String()
}

// Trending writes the trending report for a lookback window.
func Trending(w io.Writer, rows []database.TrendingRow, daysBack int, f Format) error {
	switch f {
	case FormatJSON:
		return writeJSON(w, rows)
	case FormatMarkdown:
		_, err := io.WriteString(w, TrendingMarkdown(rows, daysBack))
		return err
	case FormatHTML:
		return writeHTML(w, TrendingMarkdown(rows, daysBack))
	}

	if len(rows) == 0 {
		_, err := fmt.Fprintf(w, "No trending content in the last %d days.\n", daysBack)
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "ID\tTitle\tPublished\tTotal\tIncrease\t")
	for _, r := range rows {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t\n",
			r.ContentID,
			truncate(r.Title, titleWidth),
			date(r.Published),
			humanize.Comma(r.Total),
			humanize.Comma(r.Increase))
	}
	return tw.Flush()
}

// TrendingMarkdown renders the trending report as a Markdown table.
func TrendingMarkdown(rows []database.TrendingRow, daysBack int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Trending (last %d days)\n\n", daysBack)
	if len(rows) == 0 {
		b.WriteString("No trending content.\n")
		return b.String()
	}
	b.WriteString("| ID | Title | Published | Total | Increase |\n")
	b.WriteString("|---:|---|---|---:|---:|\n")
	for _, r := range rows {
		fmt.Fprintf(&b, "| %d | %s | %s | %d | %d |\n",
			r.ContentID, link(r.Title, r.URL), date(r.Published), r.Total, r.Increase)
	}
	return b.String()
}

// Status writes snapshot coverage counts.
func Status(w io.Writer, st *database.Stats) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Eligible content:\t%s\n", humanize.Comma(st.Eligible))
	fmt.Fprintf(tw, "With snapshot:\t%s\n", humanize.Comma(st.WithSnapshot))
	fmt.Fprintf(tw, "Missing snapshot:\t%s\n", humanize.Comma(st.MissingSnapshot))
	fmt.Fprintf(tw, "Total engagement:\t%s\n", humanize.Comma(st.TotalEngagement))
	last := "never"
	if st.LastUpdated != nil {
		last = st.LastUpdated.UTC().Format(time.RFC3339)
	}
	fmt.Fprintf(tw, "Last updated:\t%s\n", last)
	return tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeHTML(w io.Writer, src string) error {
	html, err := MarkdownToHTML(src)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, html)
	return err
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-3]) + "..."
}

func date(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format("2006-01-02")
}

// cell escapes a value for a Markdown table cell.
func cell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.Join(strings.Fields(s), " ")
}

func link(title, url string) string {
	title = cell(title)
	if title == "" {
		title = url
	}
	if url == "" {
		return title
	}
	title = strings.NewReplacer("[", `\[`, "]", `\]`).Replace(title)
	return fmt.Sprintf("[%s](<%s>)", title, url)
}
