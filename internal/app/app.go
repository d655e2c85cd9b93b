// Package app drives the pipeline stages in order, each one reading the
// previous stage's checkpoint from the PipelineStore and writing its own.
package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/deusflow/newsroom/internal/logger"
	"github.com/deusflow/newsroom/internal/metrics"
	"github.com/deusflow/newsroom/internal/news"
	"github.com/deusflow/newsroom/internal/scraper"
	"github.com/deusflow/newsroom/internal/sources"
	"github.com/deusflow/newsroom/internal/storage"
)

// FeedParser turns one feed URL into raw items; it never fails.
type FeedParser interface {
	Parse(ctx context.Context, feedURL, displayName string) []news.RawItem
}

type Searcher interface {
	Search(ctx context.Context, query string, num int, dateRestrict string) []news.RawItem
}

type Extractor interface {
	Extract(ctx context.Context, pageURL string) scraper.Result
}

// Analyst is the external summary, sentiment and report collaborator.
type Analyst interface {
	Summarize(ctx context.Context, text string) string
	AnalyzeSentiment(ctx context.Context, text string) bool
	GenerateReport(ctx context.Context, category string, items []news.RankedItem, instructions string) *news.CategoryReport
}

type Deps struct {
	Store     storage.PipelineStore
	Sources   sources.Provider
	Feeds     FeedParser
	Search    Searcher
	Extractor Extractor
	AI        Analyst
	Metrics   *metrics.Metrics
}

type Options struct {
	FetchConcurrency   int
	ExtractConcurrency int
	SearchResults      int
	SearchDateRestrict string
	ReportFreshness    time.Duration
	ReportMaxItems     int
	OutputDir          string
}

type Orchestrator struct {
	Deps
	opts Options
	now  func() time.Time
}

func New(deps Deps, opts Options) *Orchestrator {
	if deps.Metrics == nil {
		deps.Metrics = metrics.Global
	}
	if opts.FetchConcurrency <= 0 {
		opts.FetchConcurrency = 4
	}
	if opts.ExtractConcurrency <= 0 {
		opts.ExtractConcurrency = 8
	}
	if opts.SearchResults <= 0 {
		opts.SearchResults = 10
	}
	if opts.ReportFreshness <= 0 {
		opts.ReportFreshness = time.Hour
	}
	if opts.ReportMaxItems <= 0 {
		opts.ReportMaxItems = 15
	}
	if opts.OutputDir == "" {
		opts.OutputDir = "public"
	}
	return &Orchestrator{Deps: deps, opts: opts, now: time.Now}
}

// RunContext is the state of one run, passed to every stage and dropped
// when the run ends.
type RunContext struct {
	RunID     string
	StartedAt time.Time
	Sources   []news.SourceConfig
	Topics    []sources.Topic
	Completed []storage.Step

	sourceByID map[string]news.SourceConfig
}

func (o *Orchestrator) newRunContext() (*RunContext, error) {
	srcs, err := o.Sources.Sources()
	if err != nil {
		return nil, fmt.Errorf("load sources: %w", err)
	}
	topics, err := o.Sources.Topics()
	if err != nil {
		return nil, fmt.Errorf("load topics: %w", err)
	}

	rc := &RunContext{
		RunID:      o.Store.PipelineRunID(),
		StartedAt:  o.now(),
		Sources:    srcs,
		Topics:     topics,
		sourceByID: make(map[string]news.SourceConfig, len(srcs)),
	}
	for _, s := range srcs {
		rc.sourceByID[s.ID] = s
	}
	return rc, nil
}

// AllSteps is the full pipeline.
var AllSteps = []storage.Step{
	storage.StepFetch,
	storage.StepExtract,
	storage.StepClassify,
	storage.StepSummarize,
	storage.StepScore,
	storage.StepReport,
	storage.StepRender,
}

// Run executes steps in pipeline order and finalizes the run on every exit
// path. A stage whose upstream checkpoint was never written is skipped.
func (o *Orchestrator) Run(ctx context.Context, steps []storage.Step) (err error) {
	steps = normalizeSteps(steps)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		o.finalize(err)
	}()

	for _, s := range steps {
		if !s.Valid() {
			return fmt.Errorf("%w: %d", storage.ErrUnknownStep, int(s))
		}
	}

	rc, err := o.newRunContext()
	if err != nil {
		return err
	}
	logger.Info("pipeline run", "run", rc.RunID, "steps", len(steps), "sources", len(rc.Sources), "topics", len(rc.Topics))

	for _, step := range steps {
		start := time.Now()
		ran, err := o.runStep(ctx, rc, step)
		if err != nil {
			return fmt.Errorf("%s stage: %w", step, err)
		}
		o.Metrics.RecordStage(step.String(), time.Since(start))
		if !ran {
			continue
		}
		if err := o.Store.MarkStepCompleted(ctx, step); err != nil {
			return fmt.Errorf("mark %s completed: %w", step, err)
		}
		rc.Completed = append(rc.Completed, step)
	}

	o.Metrics.SetLastRun()
	logger.Info("pipeline run finished", "run", rc.RunID, "completed", len(rc.Completed), "duration", time.Since(rc.StartedAt))
	return nil
}

func (o *Orchestrator) finalize(runErr error) {
	status := news.RunSucceeded
	if runErr != nil {
		status = news.RunFailed
		o.Metrics.SetError(runErr.Error())
		logger.Error("pipeline run failed", "run", o.Store.PipelineRunID(), "error", runErr)
	}
	// The run context may already be cancelled; finalizing must still happen.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := o.Store.FinalizeRun(ctx, status, runErr); err != nil && !errors.Is(err, storage.ErrRunFinalized) {
		logger.Error("failed to finalize run", "run", o.Store.PipelineRunID(), "error", err)
	}
}

func (o *Orchestrator) runStep(ctx context.Context, rc *RunContext, step storage.Step) (bool, error) {
	logger.Info("stage started", "stage", step.String())
	switch step {
	case storage.StepFetch:
		return o.fetchStage(ctx, rc)
	case storage.StepExtract:
		return o.extractStage(ctx, rc)
	case storage.StepClassify:
		return o.classifyStage(ctx, rc)
	case storage.StepSummarize:
		return o.summarizeStage(ctx, rc)
	case storage.StepScore:
		return o.scoreStage(ctx, rc)
	case storage.StepReport:
		return o.reportStage(ctx, rc)
	case storage.StepRender:
		return o.renderStage(ctx, rc)
	}
	return false, storage.ErrUnknownStep
}

// normalizeSteps sorts and dedupes; stages always run in pipeline order.
func normalizeSteps(steps []storage.Step) []storage.Step {
	seen := map[storage.Step]bool{}
	out := make([]storage.Step, 0, len(steps))
	for _, s := range steps {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func upstreamMissing(stage, upstream string) (bool, error) {
	logger.Info("upstream cache never written, skipping stage", "stage", stage, "upstream", upstream)
	return false, nil
}
