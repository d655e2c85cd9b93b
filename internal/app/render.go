package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/deusflow/newsroom/internal/logger"
	"github.com/deusflow/newsroom/internal/news"
)

const snippetChars = 600

// renderStage writes one Markdown page per report plus an index into the
// output directory. It reads the AI stage only to list the items each
// report was built from.
func (o *Orchestrator) renderStage(ctx context.Context, rc *RunContext) (bool, error) {
	reports, err := o.Store.LoadReports(ctx)
	if err != nil {
		return false, err
	}
	if !reports.Written() {
		return upstreamMissing("render", "reports")
	}
	processed, err := o.Store.LoadAIProcessed(ctx)
	if err != nil {
		return false, err
	}
	byID := make(map[string]news.AIProcessedItem, len(processed.Items))
	for _, it := range processed.Items {
		byID[it.ID] = it
	}
	names := make(map[string]string, len(rc.Sources))
	for _, s := range rc.Sources {
		names[s.ID] = s.Name
	}

	if err := os.MkdirAll(o.opts.OutputDir, 0o755); err != nil {
		return false, fmt.Errorf("create output dir: %w", err)
	}

	for _, r := range reports.Items {
		var used []news.AIProcessedItem
		for _, id := range r.UsedItemIDs {
			if it, ok := byID[id]; ok {
				used = append(used, it)
			}
		}
		page := formatReport(r, used, names)
		if err := writePage(filepath.Join(o.opts.OutputDir, slug(r.Category)+".md"), page); err != nil {
			return false, err
		}
	}
	if err := writePage(filepath.Join(o.opts.OutputDir, "index.md"), formatIndex(reports.Items, reports.UpdatedAt())); err != nil {
		return false, err
	}

	logger.Info("render complete", "pages", len(reports.Items)+1, "dir", o.opts.OutputDir)
	return true, nil
}

func formatReport(r news.CategoryReport, items []news.AIProcessedItem, sourceNames map[string]string) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("# %s\n\n", title(r.Category)))
	b.WriteString(fmt.Sprintf("_Generated %s_\n\n", r.GeneratedAt.UTC().Format("2006-01-02 15:04 MST")))
	b.WriteString(strings.TrimSpace(r.ReportBody))
	b.WriteString("\n")

	if len(items) > 0 {
		b.WriteString("\n## Sources\n\n")
		for i, it := range items {
			b.WriteString(formatItem(it, i+1, sourceNames[it.SourceID]))
		}
	}
	return b.String()
}

func formatItem(it news.AIProcessedItem, number int, sourceName string) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("%d. [%s](%s)", number, escape(it.Title), it.Link))
	if sourceName != "" {
		b.WriteString(fmt.Sprintf(" (%s)", sourceName))
	}
	if it.PublishedAt != nil {
		b.WriteString(fmt.Sprintf(", %s", it.PublishedAt.UTC().Format("2006-01-02")))
	}
	b.WriteString("\n")

	if it.HasSummary {
		b.WriteString(fmt.Sprintf("   > %s\n", snippet(it.Summary)))
	}
	return b.String()
}

func formatIndex(reports []news.CategoryReport, updated time.Time) string {
	var b strings.Builder

	b.WriteString("# News briefing\n\n")
	if !updated.IsZero() {
		b.WriteString(fmt.Sprintf("_Updated %s_\n\n", updated.UTC().Format("2006-01-02 15:04 MST")))
	}
	if len(reports) == 0 {
		b.WriteString("No reports yet.\n")
		return b.String()
	}
	for _, r := range reports {
		b.WriteString(fmt.Sprintf("- [%s](%s.md) (%d items)\n", title(r.Category), slug(r.Category), len(r.UsedItemIDs)))
	}
	return b.String()
}

// snippet flattens text to one line and cuts it at the last full sentence
// that fits.
func snippet(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if len(text) <= snippetChars {
		return text
	}
	sentences := strings.Split(text[:snippetChars], ".")
	if len(sentences) > 1 {
		return strings.Join(sentences[:len(sentences)-1], ".") + "."
	}
	return strings.ToValidUTF8(text[:snippetChars], "") + "..."
}

func escape(s string) string {
	return strings.NewReplacer("[", `\[`, "]", `\]`).Replace(s)
}

func title(category string) string {
	if category == "" {
		return "General"
	}
	r := []rune(category)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

func slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	out := strings.TrimSuffix(b.String(), "-")
	if out == "" {
		return "general"
	}
	return out
}

func writePage(path, content string) error {
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
