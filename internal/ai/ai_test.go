package ai

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/deusflow/newsroom/internal/news"
	"github.com/deusflow/newsroom/internal/ratelimit"
	"github.com/deusflow/newsroom/internal/retry"
)

type fakeCompleter struct {
	calls      int32
	lastPrompt string
	reply      string
	err        error
}

func (f *fakeCompleter) Name() string { return "fake" }

func (f *fakeCompleter) Complete(ctx context.Context, system, prompt string) (string, error) {
	atomic.AddInt32(&f.calls, 1)
	f.lastPrompt = prompt
	return f.reply, f.err
}

func newTestService(c Completer, budget *ratelimit.Budget) *Service {
	return NewService(c, Options{
		Budget:         budget,
		Retry:          retry.RetryConfig{MaxAttempts: 2, Delay: time.Millisecond},
		Timeout:        time.Second,
		ReportMaxItems: 3,
	})
}

func TestSummarizeWithoutProvider(t *testing.T) {
	s := newTestService(nil, nil)
	if got := s.Summarize(context.Background(), "some text"); got != SummaryNotAvailable {
		t.Errorf("Summarize = %q", got)
	}
	if s.AnalyzeSentiment(context.Background(), "great news") {
		t.Error("sentiment without provider must be false")
	}
	if s.GenerateReport(context.Background(), "tech", []news.RankedItem{{}}, "") != nil {
		t.Error("report without provider must be nil")
	}
}

func TestSummarizeTruncatesInput(t *testing.T) {
	f := &fakeCompleter{reply: "Summary: Parliament passed the bill."}
	s := newTestService(f, nil)

	long := strings.Repeat("Parliament debated the housing bill. ", 400)
	got := s.Summarize(context.Background(), long)
	if got != "Parliament passed the bill." {
		t.Errorf("summary = %q", got)
	}
	if !strings.Contains(f.lastPrompt, "[TRUNCATED]") {
		t.Error("long input was not truncated")
	}
	if n := utf8.RuneCountInString(f.lastPrompt); n > maxInputChars+200 {
		t.Errorf("prompt has %d runes", n)
	}
}

func TestSummarizeFailureRetriesThenSentinel(t *testing.T) {
	f := &fakeCompleter{err: errors.New("503")}
	s := newTestService(f, nil)
	if got := s.Summarize(context.Background(), "text"); got != SummaryFailed {
		t.Errorf("summary = %q", got)
	}
	if f.calls != 2 {
		t.Errorf("calls = %d, want 2 attempts", f.calls)
	}
	if IsSummary(SummaryFailed) || IsSummary(SummaryNotAvailable) || !IsSummary("Real summary.") {
		t.Error("IsSummary misclassifies sentinels")
	}
}

func TestBudgetExhaustedSkipsProvider(t *testing.T) {
	f := &fakeCompleter{reply: "true"}
	budget := ratelimit.NewBudget(1)
	s := newTestService(f, budget)

	if !s.AnalyzeSentiment(context.Background(), "good") {
		t.Fatal("first call should reach the provider")
	}
	if got := s.Summarize(context.Background(), "text"); got != SummaryNotAvailable {
		t.Errorf("summary after budget = %q", got)
	}
	if f.calls != 1 {
		t.Errorf("provider called %d times", f.calls)
	}
}

func TestParseSentiment(t *testing.T) {
	cases := map[string]bool{
		"true":                      true,
		"True.":                     true,
		`"true"`:                    true,
		"false":                     false,
		"'false'":                   false,
		"The sentiment is positive": true,
		"negative":                  false,
		"I think it's true overall": true,
		"":                          false,
	}
	for in, want := range cases {
		if got := parseSentiment(in); got != want {
			t.Errorf("parseSentiment(%q) = %v, want %v", in, got, want)
		}
	}
}

func rankedItem(id, title string) news.RankedItem {
	var it news.RankedItem
	it.ID = id
	it.Title = title
	it.Link = "https://example.com/" + id
	return it
}

func TestGenerateReport(t *testing.T) {
	f := &fakeCompleter{reply: "```\nRates stayed flat across Europe.\n```"}
	s := newTestService(f, nil)
	now := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	items := []news.RankedItem{rankedItem("a", "A"), rankedItem("b", "B"), rankedItem("c", "C"), rankedItem("d", "D")}
	items[0].Summary, items[0].HasSummary = "ECB holds rates.", true

	r := s.GenerateReport(context.Background(), "economy", items, "central banks")
	if r == nil {
		t.Fatal("report is nil")
	}
	if r.ReportBody != "Rates stayed flat across Europe." || !r.GeneratedAt.Equal(now) {
		t.Errorf("report = %+v", r)
	}
	if strings.Join(r.UsedItemIDs, ",") != "a,b,c" {
		t.Errorf("used ids = %v, want first 3", r.UsedItemIDs)
	}
	if !strings.Contains(f.lastPrompt, "ECB holds rates.") || strings.Contains(f.lastPrompt, "4. D") {
		t.Errorf("prompt = %q", f.lastPrompt)
	}
}

func TestGenerateReportFailureIsNil(t *testing.T) {
	s := newTestService(&fakeCompleter{err: errors.New("timeout")}, nil)
	if r := s.GenerateReport(context.Background(), "tech", []news.RankedItem{rankedItem("a", "A")}, ""); r != nil {
		t.Errorf("report = %+v, want nil", r)
	}
}

func TestSanitize(t *testing.T) {
	cases := map[string]string{
		"Summary: The bill passed.":                                         "The bill passed.",
		"The bill passed.\nNote: This summary was generated automatically.": "The bill passed.",
		"(Note: machine generated) The bill passed.":                        "The bill passed.",
		"[Note: draft] The bill passed.":                                    "The bill passed.",
		"```text\nThe bill passed.\n```":                                    "The bill passed.",
	}
	for in, want := range cases {
		if got := sanitize(in); got != want {
			t.Errorf("sanitize(%q) = %q, want %q", in, got, want)
		}
	}
}
