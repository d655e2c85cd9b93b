// Package storage persists the output of every pipeline stage so each stage
// can resume from the previous one. Two backends share one contract: JSON
// documents in a local directory and relational rows with run lineage.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/deusflow/newsroom/internal/logger"
	"github.com/deusflow/newsroom/internal/news"
)

// Step numbers the pipeline stages in execution order.
type Step int

const (
	StepFetch Step = iota + 1
	StepExtract
	StepClassify
	StepSummarize
	StepScore
	StepReport
	StepRender
)

var stepNames = map[Step]string{
	StepFetch:     "fetch",
	StepExtract:   "extract",
	StepClassify:  "classify",
	StepSummarize: "summarize",
	StepScore:     "score",
	StepReport:    "report",
	StepRender:    "render",
}

func (s Step) String() string {
	if name, ok := stepNames[s]; ok {
		return name
	}
	return fmt.Sprintf("step(%d)", int(s))
}

func (s Step) Valid() bool {
	return s >= StepFetch && s <= StepRender
}

// Names of the stage documents, shared by both backends.
const (
	stageRawFeeds     = "raw_feeds"
	stageExtracted    = "extracted"
	stageProcessed    = "processed"
	stageAIProcessed  = "ai_processed"
	stageReports      = "reports"
	stageScoringAudit = "scoring_audit"
)

var (
	ErrRunFinalized = errors.New("pipeline run already finalized")
	ErrUnknownStep  = errors.New("unknown pipeline step")
)

// SourceMeta describes what one source contributed to a stage.
type SourceMeta struct {
	Name      string    `json:"name"`
	ItemCount int       `json:"itemCount"`
	FetchedAt time.Time `json:"fetchedAt"`
	Error     string    `json:"error,omitempty"`
}

// Cache is one stage document. LastUpdated is epoch milliseconds and stays 0
// until the stage has been written.
type Cache[T any] struct {
	Items       []T                   `json:"items"`
	Metadata    map[string]SourceMeta `json:"metadata"`
	LastUpdated int64                 `json:"lastUpdated"`
}

func EmptyCache[T any]() Cache[T] {
	return Cache[T]{Items: []T{}, Metadata: map[string]SourceMeta{}}
}

func NewCache[T any](items []T, meta map[string]SourceMeta, at time.Time) Cache[T] {
	c := Cache[T]{Items: items, Metadata: meta, LastUpdated: at.UnixMilli()}
	c.normalize()
	return c
}

// Written reports whether the stage has ever been saved.
func (c Cache[T]) Written() bool {
	return c.LastUpdated > 0
}

func (c Cache[T]) UpdatedAt() time.Time {
	if c.LastUpdated == 0 {
		return time.Time{}
	}
	return time.UnixMilli(c.LastUpdated)
}

func (c *Cache[T]) normalize() {
	if c.Items == nil {
		c.Items = []T{}
	}
	if c.Metadata == nil {
		c.Metadata = map[string]SourceMeta{}
	}
}

func (c *Cache[T]) stamp(now time.Time) {
	c.normalize()
	if c.LastUpdated == 0 {
		c.LastUpdated = now.UnixMilli()
	}
}

// PipelineStore is the checkpoint boundary between stages.
type PipelineStore interface {
	LoadRawFeeds(ctx context.Context) (Cache[news.FeedItem], error)
	SaveRawFeeds(ctx context.Context, c Cache[news.FeedItem]) error
	LoadExtracted(ctx context.Context) (Cache[news.ExtractedItem], error)
	SaveExtracted(ctx context.Context, c Cache[news.ExtractedItem]) error
	LoadProcessed(ctx context.Context) (Cache[news.ProcessedItem], error)
	SaveProcessed(ctx context.Context, c Cache[news.ProcessedItem]) error
	LoadAIProcessed(ctx context.Context) (Cache[news.AIProcessedItem], error)
	SaveAIProcessed(ctx context.Context, c Cache[news.AIProcessedItem]) error
	LoadReports(ctx context.Context) (Cache[news.CategoryReport], error)
	SaveReports(ctx context.Context, c Cache[news.CategoryReport]) error
	LoadScoringAudits(ctx context.Context) (Cache[news.ScoringAuditRecord], error)
	// SaveScoringAudit appends one record; existing records are never changed.
	SaveScoringAudit(ctx context.Context, rec news.ScoringAuditRecord) error

	MarkStepCompleted(ctx context.Context, step Step) error
	// FinalizeRun sets the terminal status once and releases the backend.
	FinalizeRun(ctx context.Context, status news.RunStatus, runErr error) error
	PipelineRunID() string
	Close() error
}

// Options selects and configures a backend. An empty DatabaseURL selects the
// file backend, which has no run lineage and ignores RunID.
type Options struct {
	DatabaseURL string
	AccountID   string
	RunID       string
	CacheDir    string
	AuditPath   string
}

func Open(ctx context.Context, opts Options) (PipelineStore, error) {
	if opts.DatabaseURL == "" {
		if opts.RunID != "" {
			logger.Warn("run id ignored by file storage", "run", opts.RunID)
		}
		fs, err := NewFileStore(opts.CacheDir, opts.AuditPath)
		if err != nil {
			return nil, err
		}
		return fs, nil
	}
	s, err := OpenSQL(ctx, opts.DatabaseURL, opts.AccountID, opts.RunID)
	if err != nil {
		return nil, err
	}
	return s, nil
}
