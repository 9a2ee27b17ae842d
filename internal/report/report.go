// Package report renders a run's outcome as markdown and HTML.
package report

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/yuin/goldmark"

	"github.com/TobiSchelling/docpipe/internal/model"
	"github.com/TobiSchelling/docpipe/internal/pipeline"
)

// Markdown builds the run report: totals, per-provider and per-backend
// usage, and every item with its summary or failure.
func Markdown(s *pipeline.Summary, results []model.ItemResult) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Run %s\n\n", s.RunID)
	if s.Query != "" {
		fmt.Fprintf(&b, "Query: %s\n\n", s.Query)
	}

	fmt.Fprintf(&b, "## Totals\n\n")
	fmt.Fprintf(&b, "- Items discovered: %d\n", s.Total)
	fmt.Fprintf(&b, "- Skipped (duplicate): %d\n", s.SkippedDuplicate)
	fmt.Fprintf(&b, "- Skipped (filtered): %d\n", s.SkippedFiltered)
	fmt.Fprintf(&b, "- Skipped (already done): %d\n", s.SkippedDone)
	fmt.Fprintf(&b, "- Attempted: %d\n", s.Attempted)
	fmt.Fprintf(&b, "- Completed: %d\n", s.Completed)
	fmt.Fprintf(&b, "- Failed: %d\n", s.Failed)
	fmt.Fprintf(&b, "- Degraded: %d\n", s.Degraded)
	fmt.Fprintf(&b, "- Status: %s\n", s.Status)
	fmt.Fprintf(&b, "- Elapsed: %s\n\n", s.Elapsed.Round(1e7))

	if len(s.Providers) > 0 {
		fmt.Fprintf(&b, "## Providers\n\n")
		fmt.Fprintf(&b, "| Provider | Calls | OK | Failed | Retries | Fallbacks | Tokens | Cost |\n")
		fmt.Fprintf(&b, "|---|---|---|---|---|---|---|---|\n")
		for _, name := range sortedKeys(s.Providers) {
			st := s.Providers[name]
			fmt.Fprintf(&b, "| %s | %d | %d | %d | %d | %d | %d | $%.4f |\n",
				name, st.Calls, st.Successes, st.Failures, st.Retries, st.Fallbacks,
				st.Usage.InputTokens+st.Usage.OutputTokens, st.Usage.Cost)
		}
		b.WriteString("\n")
	}

	if len(s.BackendWins) > 0 {
		fmt.Fprintf(&b, "## Conversion backends\n\n")
		for _, name := range sortedKeys(s.BackendWins) {
			fmt.Fprintf(&b, "- %s: %d items\n", name, s.BackendWins[name])
		}
		b.WriteString("\n")
	}

	var failures []model.ItemResult
	fmt.Fprintf(&b, "## Items\n\n")
	for _, r := range results {
		if r.Err != nil {
			failures = append(failures, r)
			continue
		}
		writeItem(&b, r)
	}

	if len(failures) > 0 {
		fmt.Fprintf(&b, "## Failures\n\n")
		for _, r := range failures {
			fmt.Fprintf(&b, "- **%s** (%s): %v\n", r.Item.Title, r.Item.ID, r.Err)
		}
		b.WriteString("\n")
	}

	return b.String()
}

func writeItem(b *strings.Builder, r model.ItemResult) {
	fmt.Fprintf(b, "### %s\n\n", r.Item.Title)
	fmt.Fprintf(b, "Source: %s | Backend: %s | Provider: %s | Quality: %.2f",
		r.Item.Source, r.Backend, r.Provider, r.Quality)
	if r.Degraded {
		b.WriteString(" | degraded")
	}
	if r.Cached {
		b.WriteString(" | cached")
	}
	b.WriteString("\n\n")

	if r.Summary != nil {
		fmt.Fprintf(b, "%s\n\n", r.Summary.Summary)
		for _, finding := range r.Summary.KeyFindings {
			fmt.Fprintf(b, "- %s\n", finding)
		}
		if len(r.Summary.KeyFindings) > 0 {
			b.WriteString("\n")
		}
		if len(r.Summary.Topics) > 0 {
			fmt.Fprintf(b, "Topics: %s\n\n", strings.Join(r.Summary.Topics, ", "))
		}
	}
}

// HTML renders the markdown report as HTML.
func HTML(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.New().Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("rendering markdown: %w", err)
	}
	return buf.String(), nil
}

// Write stores the markdown report under dir and returns the file path.
func Write(dir, runID, markdown string) (string, error) {
	return writeFile(dir, runID+".md", markdown)
}

// WriteHTML stores the HTML rendering under dir and returns the file path.
func WriteHTML(dir, runID, html string) (string, error) {
	return writeFile(dir, runID+".html", html)
}

func writeFile(dir, name, content string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating report dir: %w", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("writing report: %w", err)
	}
	return path, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
