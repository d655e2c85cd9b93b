package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/deusflow/newsroom/internal/metrics"
	"github.com/deusflow/newsroom/internal/news"
	"github.com/deusflow/newsroom/internal/scraper"
	"github.com/deusflow/newsroom/internal/sources"
	"github.com/deusflow/newsroom/internal/storage"
)

var testNow = time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)

type fakeFeeds map[string][]news.RawItem

func (f fakeFeeds) Parse(ctx context.Context, feedURL, displayName string) []news.RawItem {
	return f[feedURL]
}

type fakeSearch struct {
	mu      sync.Mutex
	queries []string
	items   []news.RawItem
}

func (f *fakeSearch) Search(ctx context.Context, query string, num int, dateRestrict string) []news.RawItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	return f.items
}

type fakeExtractor struct {
	mu      sync.Mutex
	calls   int
	results map[string]scraper.Result
}

func (f *fakeExtractor) Extract(ctx context.Context, pageURL string) scraper.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if res, ok := f.results[pageURL]; ok {
		return res
	}
	return scraper.Result{Kind: scraper.Failed, Err: errors.New("connection refused")}
}

type fakeAnalyst struct {
	mu         sync.Mutex
	summarized []string
	reported   []string
	noReport   map[string]bool
}

func (f *fakeAnalyst) Summarize(ctx context.Context, text string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	first := strings.SplitN(text, "\n", 2)[0]
	f.summarized = append(f.summarized, first)
	return "Summary of " + first
}

func (f *fakeAnalyst) AnalyzeSentiment(ctx context.Context, text string) bool {
	return !strings.Contains(text, "crisis")
}

func (f *fakeAnalyst) GenerateReport(ctx context.Context, category string, items []news.RankedItem, instructions string) *news.CategoryReport {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reported = append(f.reported, category)
	if f.noReport[category] {
		return nil
	}
	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ID)
	}
	return &news.CategoryReport{
		Category:    category,
		ReportBody:  "Report for " + category,
		GeneratedAt: testNow,
		UsedItemIDs: ids,
	}
}

func newTestOrchestrator(t *testing.T, deps Deps) *Orchestrator {
	t.Helper()
	if deps.Store == nil {
		fs, err := storage.NewFileStore(t.TempDir(), "")
		if err != nil {
			t.Fatal(err)
		}
		deps.Store = fs
	}
	if deps.Sources == nil {
		deps.Sources = sources.Static{}
	}
	if deps.Extractor == nil {
		deps.Extractor = &fakeExtractor{}
	}
	if deps.AI == nil {
		deps.AI = &fakeAnalyst{}
	}
	deps.Metrics = &metrics.Metrics{IsHealthy: true}
	o := New(deps, Options{OutputDir: filepath.Join(t.TempDir(), "public")})
	o.now = func() time.Time { return testNow }
	return o
}

func ptr(t time.Time) *time.Time { return &t }

func pipelineFixture() (sources.Static, fakeFeeds, *fakeSearch, *fakeExtractor) {
	src := sources.Static{
		SourceList: []news.SourceConfig{
			{ID: "dr", Type: news.SourceRSS, Name: "DR", URL: "https://dr.example/rss", Categories: []string{"denmark"}, IsActive: true},
			{ID: "tv2", Type: news.SourceRSS, Name: "TV2", URL: "https://tv2.example/rss", Categories: []string{"denmark", "world"}, IsActive: true},
			{ID: "ecb", Type: news.SourceSearch, Name: "ECB", Query: "ecb rates", Categories: []string{"economy"}, IsActive: true},
		},
		TopicList: []sources.Topic{
			{Label: "denmark", Category: "denmark", Instructions: "Danish parliament and housing", TopKPerSource: 2},
			{Label: "economy", Category: "economy", Instructions: "interest rates", TopKPerSource: 1},
		},
	}
	feeds := fakeFeeds{
		"https://dr.example/rss": {
			{Title: "Parliament passes housing bill", Link: "https://dr.example/1", PublishedAt: ptr(testNow.Add(-time.Hour))},
			{Title: "Watch the debate", Link: "https://youtube.com/watch?v=abc", PublishedAt: ptr(testNow.Add(-2 * time.Hour))},
		},
		"https://tv2.example/rss": {
			{Title: "Parliament passes housing bill", Link: "https://dr.example/1"},
			{Title: "Housing crisis in Aarhus", Link: "https://tv2.example/2", PublishedAt: ptr(testNow.Add(-3 * time.Hour))},
		},
	}
	search := &fakeSearch{items: []news.RawItem{{Title: "ECB holds interest rates", Link: "https://ecb.example/1"}}}
	extractor := &fakeExtractor{results: map[string]scraper.Result{
		"https://dr.example/1":            {Kind: scraper.OK, Content: "The Danish parliament passed the housing bill on Tuesday."},
		"https://tv2.example/2":           {Kind: scraper.OK, Content: "Rents in Aarhus rose again, deepening the housing crisis."},
		"https://youtube.com/watch?v=abc": {Kind: scraper.Skipped, MediaType: news.MediaVideo, MediaURL: "https://youtube.com/watch?v=abc"},
	}}
	return src, feeds, search, extractor
}

func TestRunFullPipeline(t *testing.T) {
	src, feeds, search, extractor := pipelineFixture()
	analyst := &fakeAnalyst{}
	o := newTestOrchestrator(t, Deps{Sources: src, Feeds: feeds, Search: search, Extractor: extractor, AI: analyst})
	ctx := context.Background()

	if err := o.Run(ctx, AllSteps); err != nil {
		t.Fatalf("Run: %v", err)
	}

	raw, _ := o.Store.LoadRawFeeds(ctx)
	if len(raw.Items) != 4 {
		t.Fatalf("raw items = %d, want 4 after cross-source dedupe", len(raw.Items))
	}
	if raw.Metadata["tv2"].ItemCount != 1 || raw.Metadata["dr"].ItemCount != 2 {
		t.Errorf("metadata = %+v", raw.Metadata)
	}
	if len(search.queries) != 1 || search.queries[0] != "ecb rates" {
		t.Errorf("search queries = %v", search.queries)
	}
	if o.Metrics.DuplicatesFiltered != 1 {
		t.Errorf("duplicates = %d, want 1", o.Metrics.DuplicatesFiltered)
	}

	processed, _ := o.Store.LoadProcessed(ctx)
	byLink := map[string]news.ProcessedItem{}
	for _, it := range processed.Items {
		byLink[it.Link] = it
	}
	if it := byLink["https://youtube.com/watch?v=abc"]; it.MediaType != news.MediaVideo || !it.ShouldSkipAI {
		t.Errorf("video item = %+v", it)
	}
	if it := byLink["https://ecb.example/1"]; it.MediaType != news.MediaUnknown || !it.ShouldSkipAI {
		t.Errorf("failed extraction = %+v", it)
	}
	if it := byLink["https://dr.example/1"]; it.MediaType != news.MediaText || it.ShouldSkipAI {
		t.Errorf("text item = %+v", it)
	}

	if len(analyst.summarized) != 2 {
		t.Errorf("summarized %v, want the two text items only", analyst.summarized)
	}
	enriched, _ := o.Store.LoadAIProcessed(ctx)
	for _, it := range enriched.Items {
		switch it.Link {
		case "https://dr.example/1":
			if !it.HasSummary || it.Sentiment != news.SentimentPositive {
				t.Errorf("dr item = %+v", it)
			}
		case "https://tv2.example/2":
			if it.Sentiment != news.SentimentNegative {
				t.Errorf("crisis item sentiment = %q", it.Sentiment)
			}
		default:
			if it.HasSummary || it.Sentiment != news.SentimentUnset {
				t.Errorf("skipped item enriched: %+v", it)
			}
		}
	}

	audits, _ := o.Store.LoadScoringAudits(ctx)
	if len(audits.Items) != 2 {
		t.Fatalf("audits = %d, want one per topic", len(audits.Items))
	}
	for _, rec := range audits.Items {
		if rec.Label == "economy" && (len(rec.ScoredItems) != 1 || rec.ScoredItems[0].SourceID != "ecb") {
			t.Errorf("economy audit scored %+v", rec.ScoredItems)
		}
		if rec.Label == "denmark" && len(rec.ScoredItems) != 3 {
			t.Errorf("denmark audit scored %d items, want 3", len(rec.ScoredItems))
		}
	}

	reports, _ := o.Store.LoadReports(ctx)
	if len(reports.Items) != 2 {
		t.Fatalf("reports = %+v", reports.Items)
	}

	page, err := os.ReadFile(filepath.Join(o.opts.OutputDir, "denmark.md"))
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"# Denmark", "Report for denmark", "[Parliament passes housing bill](https://dr.example/1) (DR)", "> Summary of Parliament"} {
		if !strings.Contains(string(page), want) {
			t.Errorf("denmark.md missing %q:\n%s", want, page)
		}
	}
	index, err := os.ReadFile(filepath.Join(o.opts.OutputDir, "index.md"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(index), "[Economy](economy.md)") {
		t.Errorf("index.md:\n%s", index)
	}
}

func TestRunWithSQLiteStore(t *testing.T) {
	ctx := context.Background()
	dsn := "sqlite://" + filepath.Join(t.TempDir(), "pipeline.db")
	store, err := storage.OpenSQL(ctx, dsn, "acme", "")
	if err != nil {
		t.Fatal(err)
	}
	runID := store.PipelineRunID()

	src, feeds, search, extractor := pipelineFixture()
	o := newTestOrchestrator(t, Deps{Store: store, Sources: src, Feeds: feeds, Search: search, Extractor: extractor})
	if err := o.Run(ctx, AllSteps); err != nil {
		t.Fatalf("Run: %v", err)
	}

	check, err := storage.OpenSQL(ctx, dsn, "acme", "")
	if err != nil {
		t.Fatal(err)
	}
	defer check.Close()
	run, ok, err := check.LoadRun(ctx, runID)
	if err != nil || !ok {
		t.Fatalf("LoadRun: ok=%v err=%v", ok, err)
	}
	if run.Status != news.RunSucceeded || run.StepCompleted != int(storage.StepRender) {
		t.Errorf("run = %+v", run)
	}

	reports, err := check.LoadReports(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(reports.Items) != 2 {
		t.Errorf("reports from latest run = %d, want 2", len(reports.Items))
	}
}

func TestStageSkippedWhenUpstreamMissing(t *testing.T) {
	dir := t.TempDir()
	fs, err := storage.NewFileStore(dir, "")
	if err != nil {
		t.Fatal(err)
	}
	extractor := &fakeExtractor{}
	o := newTestOrchestrator(t, Deps{Store: fs, Extractor: extractor})

	if err := o.Run(context.Background(), []storage.Step{storage.StepClassify, storage.StepExtract}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if extractor.calls != 0 {
		t.Errorf("extractor called %d times", extractor.calls)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("stage wrote documents without upstream input: %v", entries)
	}
}

func TestReportFreshnessAndFallback(t *testing.T) {
	ctx := context.Background()
	analyst := &fakeAnalyst{noReport: map[string]bool{"sport": true}}
	o := newTestOrchestrator(t, Deps{AI: analyst})

	var item news.RankedItem
	item.ID = "x1"
	item.Title = "Something happened"
	for _, label := range []string{"world", "tech", "sport"} {
		rec := news.ScoringAuditRecord{Label: label, SelectedItems: []news.RankedItem{item}, ScoredAt: testNow.Add(-time.Minute)}
		if err := o.Store.SaveScoringAudit(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}
	previous := []news.CategoryReport{
		{Category: "world", ReportBody: "fresh world", GeneratedAt: testNow.Add(-30 * time.Minute)},
		{Category: "tech", ReportBody: "stale tech", GeneratedAt: testNow.Add(-2 * time.Hour)},
		{Category: "sport", ReportBody: "stale sport", GeneratedAt: testNow.Add(-3 * time.Hour)},
	}
	if err := o.Store.SaveReports(ctx, storage.NewCache(previous, nil, testNow.Add(-30*time.Minute))); err != nil {
		t.Fatal(err)
	}

	if err := o.Run(ctx, []storage.Step{storage.StepReport}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if strings.Join(analyst.reported, ",") != "sport,tech" {
		t.Errorf("generated for %v, want sport and tech only", analyst.reported)
	}
	reports, _ := o.Store.LoadReports(ctx)
	bodies := map[string]string{}
	for _, r := range reports.Items {
		bodies[r.Category] = r.ReportBody
	}
	want := map[string]string{"world": "fresh world", "tech": "Report for tech", "sport": "stale sport"}
	for cat, body := range want {
		if bodies[cat] != body {
			t.Errorf("%s report = %q, want %q", cat, bodies[cat], body)
		}
	}
	if o.Metrics.ReportsReused != 1 || o.Metrics.ReportsGenerated != 1 {
		t.Errorf("reused=%d generated=%d", o.Metrics.ReportsReused, o.Metrics.ReportsGenerated)
	}
}

func TestLatestAuditPerLabel(t *testing.T) {
	records := []news.ScoringAuditRecord{
		{Label: "a", CustomInstructions: "old", ScoredAt: testNow.Add(-time.Hour)},
		{Label: "a", CustomInstructions: "new", ScoredAt: testNow},
		{Label: "b", CustomInstructions: "first", ScoredAt: testNow},
		{Label: "b", CustomInstructions: "second", ScoredAt: testNow},
	}
	latest := latestAudits(records)
	if latest["a"].CustomInstructions != "new" || latest["b"].CustomInstructions != "second" {
		t.Errorf("latest = %+v", latest)
	}
}

type recordingStore struct {
	*storage.FileStore
	failProcessed error
	steps         []storage.Step
	status        news.RunStatus
	runErr        error
}

func (s *recordingStore) SaveProcessed(ctx context.Context, c storage.Cache[news.ProcessedItem]) error {
	if s.failProcessed != nil {
		return s.failProcessed
	}
	return s.FileStore.SaveProcessed(ctx, c)
}

func (s *recordingStore) MarkStepCompleted(ctx context.Context, step storage.Step) error {
	s.steps = append(s.steps, step)
	return s.FileStore.MarkStepCompleted(ctx, step)
}

func (s *recordingStore) FinalizeRun(ctx context.Context, status news.RunStatus, runErr error) error {
	s.status, s.runErr = status, runErr
	return nil
}

func TestRunFinalizesFailedRun(t *testing.T) {
	fs, err := storage.NewFileStore(t.TempDir(), "")
	if err != nil {
		t.Fatal(err)
	}
	boom := errors.New("disk full")
	store := &recordingStore{FileStore: fs, failProcessed: boom}
	src, feeds, search, extractor := pipelineFixture()
	analyst := &fakeAnalyst{}
	o := newTestOrchestrator(t, Deps{Store: store, Sources: src, Feeds: feeds, Search: search, Extractor: extractor, AI: analyst})

	err = o.Run(context.Background(), AllSteps)
	if !errors.Is(err, boom) {
		t.Fatalf("Run error = %v, want %v", err, boom)
	}
	if store.status != news.RunFailed || !errors.Is(store.runErr, boom) {
		t.Errorf("finalized with %q, %v", store.status, store.runErr)
	}
	if len(store.steps) != 2 || store.steps[1] != storage.StepExtract {
		t.Errorf("completed steps = %v", store.steps)
	}
	if len(analyst.summarized) != 0 {
		t.Error("stages after the failure must not run")
	}
	if o.Metrics.Healthy() {
		t.Error("metrics still healthy after failed run")
	}
}

func TestRunFinalizesSucceededRun(t *testing.T) {
	fs, err := storage.NewFileStore(t.TempDir(), "")
	if err != nil {
		t.Fatal(err)
	}
	store := &recordingStore{FileStore: fs}
	o := newTestOrchestrator(t, Deps{Store: store})

	if err := o.Run(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	if store.status != news.RunSucceeded || store.runErr != nil {
		t.Errorf("finalized with %q, %v", store.status, store.runErr)
	}
}

func TestRunRejectsUnknownStep(t *testing.T) {
	fs, err := storage.NewFileStore(t.TempDir(), "")
	if err != nil {
		t.Fatal(err)
	}
	store := &recordingStore{FileStore: fs}
	o := newTestOrchestrator(t, Deps{Store: store})

	err = o.Run(context.Background(), []storage.Step{storage.Step(42)})
	if !errors.Is(err, storage.ErrUnknownStep) {
		t.Fatalf("err = %v", err)
	}
	if store.status != news.RunFailed {
		t.Errorf("status = %q", store.status)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name      string
		in        news.ExtractedItem
		mediaType string
		skip      bool
	}{
		{"text", extracted("https://a/1", "Body text", ""), news.MediaText, false},
		{"video", extracted("https://a/2", "", news.MediaVideo), news.MediaVideo, true},
		{"failed pdf", extracted("https://a/report.pdf", "", ""), news.MediaDocument, true},
		{"failed page", extracted("https://a/3", "", ""), news.MediaUnknown, true},
		{"text without content", extracted("https://a/4", "  ", news.MediaText), news.MediaText, true},
	}
	for _, tc := range cases {
		got := classify(tc.in)
		if got.MediaType != tc.mediaType || got.ShouldSkipAI != tc.skip {
			t.Errorf("%s: type=%q skip=%v, want %q %v", tc.name, got.MediaType, got.ShouldSkipAI, tc.mediaType, tc.skip)
		}
	}
}

func extracted(link, content, mediaType string) news.ExtractedItem {
	var it news.ExtractedItem
	it.Link = link
	it.Content = content
	it.MediaType = mediaType
	return it
}

func TestRenderHelpers(t *testing.T) {
	if got := slug("World News / EU"); got != "world-news-eu" {
		t.Errorf("slug = %q", got)
	}
	if got := slug("!!!"); got != "general" {
		t.Errorf("slug = %q", got)
	}
	long := strings.Repeat("A sentence here. ", 60)
	s := snippet(long)
	if len(s) > snippetChars || !strings.HasSuffix(s, ".") {
		t.Errorf("snippet = %q", s)
	}
	if got := snippet("short\n\ntext"); got != "short text" {
		t.Errorf("snippet = %q", got)
	}
}
