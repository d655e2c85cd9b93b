// Package ai implements the summary, sentiment and report collaborators on
// top of a completion provider. Every operation fails soft.
package ai

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/deusflow/newsroom/internal/logger"
	"github.com/deusflow/newsroom/internal/news"
	"github.com/deusflow/newsroom/internal/ratelimit"
	"github.com/deusflow/newsroom/internal/retry"
)

// Completer is one LLM provider.
type Completer interface {
	Name() string
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// Sentinels returned by Summarize instead of a summary.
const (
	SummaryNotAvailable = "Summary not available."
	SummaryFailed       = "Error generating summary."
)

const (
	maxInputChars   = 6000
	reportItemChars = 600
	defaultTimeout  = 3 * time.Minute
)

type Options struct {
	Budget         *ratelimit.Budget
	Retry          retry.RetryConfig
	Timeout        time.Duration
	ReportMaxItems int
}

type Service struct {
	completer Completer
	opts      Options
	now       func() time.Time
}

// NewService accepts a nil completer; every call then returns its default.
func NewService(c Completer, opts Options) *Service {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.ReportMaxItems <= 0 {
		opts.ReportMaxItems = 15
	}
	return &Service{completer: c, opts: opts, now: time.Now}
}

func (s *Service) Available() bool { return s.completer != nil }

// IsSummary reports whether text is a real summary and not a sentinel.
func IsSummary(text string) bool {
	text = strings.TrimSpace(text)
	return text != "" && text != SummaryNotAvailable && text != SummaryFailed
}

const summarySystem = "You are a news editor. Write neutral, factual summaries in English. Never add commentary or disclaimers."

func (s *Service) Summarize(ctx context.Context, text string) string {
	text = truncate(text, maxInputChars)
	if s.completer == nil || text == "" {
		return SummaryNotAvailable
	}

	prompt := "Summarize the following news article in at most three sentences.\n\nARTICLE:\n" + text
	out, err := s.call(ctx, summarySystem, prompt)
	if errors.Is(err, ratelimit.ErrExhausted) {
		return SummaryNotAvailable
	}
	if err != nil {
		logger.Warn("summary failed", "provider", s.completer.Name(), "error", err)
		return SummaryFailed
	}
	if out = sanitize(out); out == "" {
		return SummaryFailed
	}
	return out
}

const sentimentSystem = "You classify the tone of news. Answer with exactly one word: true or false."

// AnalyzeSentiment reports whether the text reads as positive news. Any
// failure counts as not positive.
func (s *Service) AnalyzeSentiment(ctx context.Context, text string) bool {
	text = truncate(text, maxInputChars)
	if s.completer == nil || text == "" {
		return false
	}

	prompt := "Is the overall sentiment of this news positive? Answer true or false.\n\n" + text
	out, err := s.call(ctx, sentimentSystem, prompt)
	if err != nil {
		if !errors.Is(err, ratelimit.ErrExhausted) {
			logger.Warn("sentiment failed", "provider", s.completer.Name(), "error", err)
		}
		return false
	}
	return parseSentiment(out)
}

func parseSentiment(out string) bool {
	s := strings.ToLower(strings.TrimSpace(out))
	s = strings.Trim(s, "\"'`.!*")
	switch s {
	case "true":
		return true
	case "false":
		return false
	}
	return strings.Contains(s, "positive") || strings.Contains(s, "true")
}

const reportSystem = "You are a news editor writing a short briefing for one category. Use only the items given. Write plain text paragraphs without headings."

// GenerateReport writes a briefing from at most ReportMaxItems items. It
// returns nil when no provider is configured or generation fails, so the
// caller can keep its previous report.
func (s *Service) GenerateReport(ctx context.Context, category string, items []news.RankedItem, instructions string) *news.CategoryReport {
	if s.completer == nil || len(items) == 0 {
		return nil
	}
	if len(items) > s.opts.ReportMaxItems {
		items = items[:s.opts.ReportMaxItems]
	}

	out, err := s.call(ctx, reportSystem, reportPrompt(category, items, instructions))
	if err != nil {
		logger.Warn("report generation failed", "category", category, "error", err)
		return nil
	}
	body := sanitize(out)
	if body == "" {
		logger.Warn("report generation returned nothing", "category", category)
		return nil
	}

	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ID)
	}
	return &news.CategoryReport{
		Category:    category,
		ReportBody:  body,
		GeneratedAt: s.now(),
		UsedItemIDs: ids,
	}
}

func reportPrompt(category string, items []news.RankedItem, instructions string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Category: %s\n", category)
	if instructions = strings.TrimSpace(instructions); instructions != "" {
		fmt.Fprintf(&b, "Reader interests: %s\n", instructions)
	}
	b.WriteString("\nITEMS:\n")
	for i, it := range items {
		fmt.Fprintf(&b, "%d. %s\n", i+1, it.Title)
		if it.PublishedAt != nil {
			fmt.Fprintf(&b, "   Published: %s\n", it.PublishedAt.UTC().Format(time.RFC3339))
		}
		body := it.Summary
		if !it.HasSummary {
			body = it.Content
			if body == "" {
				body = it.RawContent
			}
		}
		if body = truncate(body, reportItemChars); body != "" {
			fmt.Fprintf(&b, "   %s\n", body)
		}
		fmt.Fprintf(&b, "   Link: %s\n", it.Link)
	}
	return b.String()
}

func (s *Service) call(ctx context.Context, system, prompt string) (string, error) {
	if err := s.opts.Budget.Take(s.completer.Name()); err != nil {
		return "", err
	}

	var out string
	err := retry.WithRetry(ctx, s.opts.Retry, func() error {
		callCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()

		var err error
		out, err = s.completer.Complete(callCtx, system, prompt)
		return err
	})
	return out, err
}

// truncate collapses whitespace and cuts to max runes, preferring to end on
// a sentence.
func truncate(content string, max int) string {
	content = strings.ReplaceAll(content, "\r", "")
	content = strings.Join(strings.Fields(content), " ")
	if utf8.RuneCountInString(content) <= max {
		return content
	}

	runes := []rune(content)
	trimmed := string(runes[:max])
	if idx := strings.LastIndex(trimmed, ". "); idx > max/5 {
		trimmed = trimmed[:idx+1]
	}
	return trimmed + "\n[TRUNCATED]"
}

var (
	inlineNoteRe = regexp.MustCompile(`(?i)[(\[]\s*note\s*:[^)\]]*[)\]]`)
	labelRe      = regexp.MustCompile(`(?i)^(summary|report|briefing)\s*:\s*`)
)

// sanitize drops model chatter: code fences, "Note:" disclaimers and a
// leading label.
func sanitize(out string) string {
	out = inlineNoteRe.ReplaceAllString(out, "")

	var lines []string
	for _, line := range strings.Split(out, "\n") {
		trimmed := strings.TrimSpace(line)
		lower := strings.ToLower(trimmed)
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(lower, "note:") {
			continue
		}
		lines = append(lines, strings.TrimRight(line, " \t"))
	}

	cleaned := strings.TrimSpace(strings.Join(lines, "\n"))
	return strings.TrimSpace(labelRe.ReplaceAllString(cleaned, ""))
}
