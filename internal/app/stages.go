package app

import (
	"context"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/deusflow/newsroom/internal/ai"
	"github.com/deusflow/newsroom/internal/logger"
	"github.com/deusflow/newsroom/internal/news"
	"github.com/deusflow/newsroom/internal/scoring"
	"github.com/deusflow/newsroom/internal/scraper"
	"github.com/deusflow/newsroom/internal/storage"
)

// fetchStage reads every active source concurrently, then merges the results
// in configuration order so cross-source deduplication is deterministic.
func (o *Orchestrator) fetchStage(ctx context.Context, rc *RunContext) (bool, error) {
	if len(rc.Sources) == 0 {
		logger.Warn("no active sources configured")
	}

	results := make([][]news.RawItem, len(rc.Sources))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.FetchConcurrency)
	for i, src := range rc.Sources {
		i, src := i, src
		g.Go(func() error {
			switch src.Type {
			case news.SourceRSS:
				results[i] = o.Feeds.Parse(gctx, src.URL, src.Name)
			case news.SourceSearch:
				if o.Search != nil {
					results[i] = o.Search.Search(gctx, src.Query, o.opts.SearchResults, o.opts.SearchDateRestrict)
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return false, err
	}

	now := o.now()
	seen := make(map[string]bool)
	ids := make(map[string]bool)
	var items []news.FeedItem
	meta := make(map[string]storage.SourceMeta, len(rc.Sources))
	for i, src := range rc.Sources {
		fetched := results[i]
		m := storage.SourceMeta{Name: src.Name, FetchedAt: now}
		if len(fetched) == 0 {
			m.Error = "no items"
			o.Metrics.IncrementFeedsFailed()
		} else {
			o.Metrics.IncrementFeedsFetched()
		}

		kept, dropped := news.DedupeByLink(fetched, seen)
		for _, raw := range kept {
			id := news.ItemID(raw.Link, raw.Title)
			if ids[id] {
				dropped++
				continue
			}
			ids[id] = true
			items = append(items, news.FeedItem{RawItem: raw, ID: id, SourceID: src.ID})
			m.ItemCount++
		}
		o.Metrics.AddItemsFetched(len(fetched))
		o.Metrics.AddDuplicatesFiltered(dropped)
		meta[src.ID] = m
		logger.Debug("source fetched", "source", src.ID, "items", m.ItemCount, "duplicates", dropped)
	}

	logger.Info("fetch complete", "sources", len(rc.Sources), "items", len(items))
	return true, o.Store.SaveRawFeeds(ctx, storage.NewCache(items, meta, now))
}

func (o *Orchestrator) extractStage(ctx context.Context, rc *RunContext) (bool, error) {
	raw, err := o.Store.LoadRawFeeds(ctx)
	if err != nil {
		return false, err
	}
	if !raw.Written() {
		return upstreamMissing("extract", "raw_feeds")
	}

	out := make([]news.ExtractedItem, len(raw.Items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.ExtractConcurrency)
	for i, it := range raw.Items {
		i, it := i, it
		g.Go(func() error {
			out[i] = o.extractOne(gctx, it)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return false, err
	}

	logger.Info("extract complete", "items", len(out))
	return true, o.Store.SaveExtracted(ctx, storage.NewCache(out, raw.Metadata, o.now()))
}

func (o *Orchestrator) extractOne(ctx context.Context, it news.FeedItem) news.ExtractedItem {
	ex := news.ExtractedItem{FeedItem: it}
	if it.Link == "" {
		o.Metrics.IncrementExtractFailures()
		return ex
	}

	res := o.Extractor.Extract(ctx, it.Link)
	switch res.Kind {
	case scraper.OK:
		ex.Content = res.Content
		ex.MediaType = news.MediaText
		o.Metrics.IncrementItemsExtracted()
	case scraper.Skipped:
		ex.MediaType = res.MediaType
		ex.MediaURL = res.MediaURL
		o.Metrics.IncrementItemsSkipped()
		logger.Debug("extraction skipped", "id", it.ID, "reason", res.SkipReason)
	default:
		o.Metrics.IncrementExtractFailures()
	}
	return ex
}

func (o *Orchestrator) classifyStage(ctx context.Context, rc *RunContext) (bool, error) {
	extracted, err := o.Store.LoadExtracted(ctx)
	if err != nil {
		return false, err
	}
	if !extracted.Written() {
		return upstreamMissing("classify", "extracted")
	}

	out := make([]news.ProcessedItem, 0, len(extracted.Items))
	skipped := 0
	for _, it := range extracted.Items {
		p := classify(it)
		if p.ShouldSkipAI {
			skipped++
		}
		out = append(out, p)
	}

	logger.Info("classify complete", "items", len(out), "skip_ai", skipped)
	return true, o.Store.SaveProcessed(ctx, storage.NewCache(out, extracted.Metadata, o.now()))
}

// classify resolves the media type. Items whose extraction failed get a
// second look at their URL before falling back to unknown.
func classify(it news.ExtractedItem) news.ProcessedItem {
	p := news.ProcessedItem{ExtractedItem: it}
	hasContent := strings.TrimSpace(p.Content) != ""
	if p.MediaType == "" {
		switch c := scraper.IsNonTextContent(p.Link); {
		case c.Skip:
			p.MediaType = c.MediaType
			p.MediaURL = p.Link
		case hasContent:
			p.MediaType = news.MediaText
		default:
			p.MediaType = news.MediaUnknown
		}
	}
	p.ShouldSkipAI = p.MediaType != news.MediaText || !hasContent
	return p
}

// summarizeStage runs sequentially; the AI budget is per run and the
// provider is the bottleneck anyway.
func (o *Orchestrator) summarizeStage(ctx context.Context, rc *RunContext) (bool, error) {
	processed, err := o.Store.LoadProcessed(ctx)
	if err != nil {
		return false, err
	}
	if !processed.Written() {
		return upstreamMissing("summarize", "processed")
	}

	out := make([]news.AIProcessedItem, 0, len(processed.Items))
	for _, p := range processed.Items {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		item := news.AIProcessedItem{ProcessedItem: p}
		if !p.ShouldSkipAI {
			summary := o.AI.Summarize(ctx, p.Title+"\n\n"+p.Content)
			if ai.IsSummary(summary) {
				item.Summary = summary
				item.HasSummary = true
				o.Metrics.IncrementSummariesOK()
				if o.AI.AnalyzeSentiment(ctx, summary) {
					item.Sentiment = news.SentimentPositive
				} else {
					item.Sentiment = news.SentimentNegative
				}
			} else {
				o.Metrics.IncrementSummariesFailed()
			}
		}
		out = append(out, item)
	}

	logger.Info("summarize complete", "items", len(out))
	return true, o.Store.SaveAIProcessed(ctx, storage.NewCache(out, processed.Metadata, o.now()))
}

// scoreStage writes one audit record per topic. Items are matched to a topic
// through the categories of the source they came from.
func (o *Orchestrator) scoreStage(ctx context.Context, rc *RunContext) (bool, error) {
	processed, err := o.Store.LoadAIProcessed(ctx)
	if err != nil {
		return false, err
	}
	if !processed.Written() {
		return upstreamMissing("score", "ai_processed")
	}
	if len(rc.Topics) == 0 {
		logger.Warn("no topics configured, nothing to score")
	}

	fetchedAt := make(map[string]time.Time, len(processed.Metadata))
	for id, m := range processed.Metadata {
		fetchedAt[id] = m.FetchedAt
	}

	now := o.now()
	for _, topic := range rc.Topics {
		candidates := rc.itemsForCategory(processed.Items, topic.Category)
		ranked := scoring.ScoreItems(candidates, topic.Instructions, now, fetchedAt)
		selected := scoring.SelectTopRankedItems(ranked, topic.TopKPerSource)
		if topic.MaxItems > 0 && len(selected) > topic.MaxItems {
			selected = selected[:topic.MaxItems]
		}

		rec := scoring.NewAuditRecord(topic.Label, topic.Instructions, ranked, selected, topic.TopKPerSource, now)
		if err := o.Store.SaveScoringAudit(ctx, rec); err != nil {
			return false, err
		}
		logger.Info("topic scored", "topic", topic.Label, "candidates", len(candidates), "selected", len(selected))
	}
	return true, nil
}

func (rc *RunContext) itemsForCategory(items []news.AIProcessedItem, category string) []news.AIProcessedItem {
	if category == "" {
		return items
	}
	var out []news.AIProcessedItem
	for _, it := range items {
		if src, ok := rc.sourceByID[it.SourceID]; ok && src.HasCategory(category) {
			out = append(out, it)
		}
	}
	return out
}

// reportStage builds one report per audited topic from its latest audit.
// A report younger than the freshness window is reused verbatim, and a
// failed generation keeps the previous report if there is one.
func (o *Orchestrator) reportStage(ctx context.Context, rc *RunContext) (bool, error) {
	audits, err := o.Store.LoadScoringAudits(ctx)
	if err != nil {
		return false, err
	}
	if !audits.Written() {
		return upstreamMissing("report", "scoring_audit")
	}
	previous, err := o.Store.LoadReports(ctx)
	if err != nil {
		return false, err
	}
	prevByCategory := make(map[string]news.CategoryReport, len(previous.Items))
	for _, r := range previous.Items {
		prevByCategory[r.Category] = r
	}

	maxItems := make(map[string]int, len(rc.Topics))
	for _, t := range rc.Topics {
		maxItems[t.Label] = t.MaxItems
	}

	latest := latestAudits(audits.Items)
	labels := make([]string, 0, len(latest))
	for label := range latest {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	now := o.now()
	var reports []news.CategoryReport
	for _, label := range labels {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		prev, hasPrev := prevByCategory[label]
		if hasPrev && prev.FreshAt(now, o.opts.ReportFreshness) {
			logger.Info("reusing fresh report", "category", label, "generated_at", prev.GeneratedAt)
			o.Metrics.IncrementReportsReused()
			reports = append(reports, prev)
			continue
		}

		rec := latest[label]
		items := rec.SelectedItems
		limit := o.opts.ReportMaxItems
		if m := maxItems[label]; m > 0 && m < limit {
			limit = m
		}
		if len(items) > limit {
			items = items[:limit]
		}

		var report *news.CategoryReport
		if len(items) > 0 {
			report = o.AI.GenerateReport(ctx, label, items, rec.CustomInstructions)
		}
		switch {
		case report != nil:
			o.Metrics.IncrementReportsGenerated()
			reports = append(reports, *report)
		case hasPrev:
			logger.Warn("report generation failed, keeping previous report", "category", label)
			reports = append(reports, prev)
		default:
			logger.Warn("no report for category", "category", label, "items", len(items))
		}
	}

	logger.Info("report complete", "reports", len(reports))
	return true, o.Store.SaveReports(ctx, storage.NewCache(reports, nil, now))
}

// latestAudits keeps the newest record per label; later records win ties.
func latestAudits(records []news.ScoringAuditRecord) map[string]news.ScoringAuditRecord {
	out := make(map[string]news.ScoringAuditRecord)
	for _, rec := range records {
		if cur, ok := out[rec.Label]; ok && cur.ScoredAt.After(rec.ScoredAt) {
			continue
		}
		out[rec.Label] = rec
	}
	return out
}
