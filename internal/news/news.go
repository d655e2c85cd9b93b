// Package news holds the data model shared by every pipeline stage.
package news

import (
	"fmt"
	"sort"
	"time"
)

type SourceType string

const (
	SourceRSS    SourceType = "rss"
	SourceSearch SourceType = "search"
)

// SourceConfig is a configured origin of raw items. RSS sources carry a URL,
// search sources carry a query, never both.
type SourceConfig struct {
	ID         string     `yaml:"id" json:"id"`
	Type       SourceType `yaml:"type" json:"type"`
	Name       string     `yaml:"name" json:"name"`
	URL        string     `yaml:"url,omitempty" json:"url,omitempty"`
	Query      string     `yaml:"query,omitempty" json:"query,omitempty"`
	Categories []string   `yaml:"categories" json:"categories"`
	Language   string     `yaml:"language,omitempty" json:"language,omitempty"`
	IsActive   bool       `yaml:"active" json:"isActive"`
}

func (s SourceConfig) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("source %q: id is required", s.Name)
	}
	switch s.Type {
	case SourceRSS:
		if s.URL == "" || s.Query != "" {
			return fmt.Errorf("source %s: rss source needs url and no query", s.ID)
		}
	case SourceSearch:
		if s.Query == "" || s.URL != "" {
			return fmt.Errorf("source %s: search source needs query and no url", s.ID)
		}
	default:
		return fmt.Errorf("source %s: unknown type %q", s.ID, s.Type)
	}
	return nil
}

func (s SourceConfig) HasCategory(category string) bool {
	if category == "" {
		return true
	}
	for _, c := range s.Categories {
		if c == category {
			return true
		}
	}
	return false
}

// RawItem is what a feed or a search query yields before any enrichment.
type RawItem struct {
	Title       string     `json:"title"`
	Link        string     `json:"link"`
	PublishedAt *time.Time `json:"publishedAt,omitempty"`
	RawContent  string     `json:"rawContent,omitempty"`
	CommentsURL string     `json:"commentsUrl,omitempty"`
}

// FeedItem is a RawItem attributed to its source, as stored by the fetch stage.
type FeedItem struct {
	RawItem
	ID       string `json:"id"`
	SourceID string `json:"sourceId"`
}

type ExtractedItem struct {
	FeedItem
	Content   string `json:"content,omitempty"`
	MediaType string `json:"mediaType,omitempty"`
	MediaURL  string `json:"mediaUrl,omitempty"`
}

// Media types recognised by the classifier. MediaText marks a readable article.
const (
	MediaText     = "text"
	MediaImage    = "image"
	MediaVideo    = "video"
	MediaAudio    = "audio"
	MediaDocument = "document"
	MediaArchive  = "archive"
	MediaUnknown  = "unknown"
)

// ProcessedItem has its media type resolved. ShouldSkipAI is set for every
// non-text item and every item whose extraction produced no content.
type ProcessedItem struct {
	ExtractedItem
	ShouldSkipAI bool `json:"shouldSkipAI"`
}

type Sentiment string

const (
	SentimentUnset    Sentiment = ""
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentMixed    Sentiment = "mixed"
)

type AIProcessedItem struct {
	ProcessedItem
	Summary    string    `json:"summary,omitempty"`
	HasSummary bool      `json:"hasSummary"`
	Sentiment  Sentiment `json:"sentiment,omitempty"`
}

type RankedItem struct {
	AIProcessedItem
	RankingScore   float64 `json:"rankingScore"`
	RecencyScore   float64 `json:"recencyScore"`
	RelevanceScore float64 `json:"relevanceScore"`
}

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

func (s RunStatus) Terminal() bool {
	return s == RunSucceeded || s == RunFailed
}

type PipelineRun struct {
	ID            string     `json:"id"`
	AccountID     string     `json:"accountId"`
	StartedAt     time.Time  `json:"startedAt"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
	Status        RunStatus  `json:"status"`
	StepCompleted int        `json:"stepCompleted,omitempty"`
	Error         string     `json:"error,omitempty"`
}

// ScoringAuditRecord is written once per scoring pass and never updated.
type ScoringAuditRecord struct {
	Label              string       `json:"label"`
	CustomInstructions string       `json:"customInstructions"`
	ScoredItems        []RankedItem `json:"scoredItems"`
	SelectedItems      []RankedItem `json:"selectedItems"`
	TopKPerSource      int          `json:"topKPerSource"`
	ScoredAt           time.Time    `json:"scoredAt"`
}

type CategoryReport struct {
	Category    string    `json:"category"`
	ReportBody  string    `json:"reportBody"`
	GeneratedAt time.Time `json:"generatedAt"`
	UsedItemIDs []string  `json:"usedItemIds"`
}

// FreshAt reports whether the report may be reused at now.
func (r CategoryReport) FreshAt(now time.Time, window time.Duration) bool {
	return !r.GeneratedAt.IsZero() && now.Sub(r.GeneratedAt) < window
}

// SortRawByRecency orders items newest first; items without a date go last.
func SortRawByRecency(items []RawItem) {
	sort.SliceStable(items, func(i, j int) bool {
		return NewerThan(items[i].PublishedAt, items[j].PublishedAt)
	})
}

// NewerThan orders optional timestamps: a later time wins and nil loses.
func NewerThan(a, b *time.Time) bool {
	switch {
	case a == nil:
		return false
	case b == nil:
		return true
	default:
		return a.After(*b)
	}
}
