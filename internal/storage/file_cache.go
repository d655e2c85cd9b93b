package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/deusflow/newsroom/internal/logger"
	"github.com/deusflow/newsroom/internal/news"
)

const (
	localRunID      = "local"
	maxAuditRecords = 200
)

// FileStore keeps every stage document as a JSON file in one directory.
// It has a single implicit run, so the lifecycle calls do nothing.
type FileStore struct {
	dir       string
	auditPath string
	now       func() time.Time
	mu        sync.Mutex
}

// NewFileStore creates dir if needed. auditPath overrides the location of
// the scoring audit document.
func NewFileStore(dir, auditPath string) (*FileStore, error) {
	if dir == "" {
		dir = ".newsroom-cache"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache dir: %w", err)
	}
	if auditPath == "" {
		auditPath = filepath.Join(dir, stageScoringAudit+".json")
	} else if err := os.MkdirAll(filepath.Dir(auditPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit dir: %w", err)
	}
	return &FileStore{dir: dir, auditPath: auditPath, now: time.Now}, nil
}

func (fs *FileStore) path(stage string) string {
	return filepath.Join(fs.dir, stage+".json")
}

// readDocument never fails: a missing or corrupt document is the empty
// default.
func readDocument[T any](path string) Cache[T] {
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Warn("cache document unreadable, using empty default", "path", path, "error", err)
		}
		return EmptyCache[T]()
	}
	if len(data) == 0 {
		return EmptyCache[T]()
	}

	var c Cache[T]
	if err := json.Unmarshal(data, &c); err != nil {
		logger.Warn("cache document corrupt, using empty default", "path", path, "error", err)
		return EmptyCache[T]()
	}
	c.normalize()
	return c
}

// writeDocument replaces path atomically through a temp file in the same dir.
func writeDocument[T any](path string, c Cache[T]) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal cache: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace cache file: %w", err)
	}
	return nil
}

func loadFile[T any](fs *FileStore, stage string) (Cache[T], error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return readDocument[T](fs.path(stage)), nil
}

// saveFile logs write failures instead of returning them; the next stage
// then sees the previous document or the empty default.
func saveFile[T any](fs *FileStore, stage string, c Cache[T]) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	c.stamp(fs.now())
	if err := writeDocument(fs.path(stage), c); err != nil {
		logger.Error("failed to save cache document", "stage", stage, "error", err)
		return nil
	}
	logger.Debug("cache document saved", "stage", stage, "items", len(c.Items))
	return nil
}

func (fs *FileStore) LoadRawFeeds(ctx context.Context) (Cache[news.FeedItem], error) {
	return loadFile[news.FeedItem](fs, stageRawFeeds)
}

func (fs *FileStore) SaveRawFeeds(ctx context.Context, c Cache[news.FeedItem]) error {
	return saveFile(fs, stageRawFeeds, c)
}

func (fs *FileStore) LoadExtracted(ctx context.Context) (Cache[news.ExtractedItem], error) {
	return loadFile[news.ExtractedItem](fs, stageExtracted)
}

func (fs *FileStore) SaveExtracted(ctx context.Context, c Cache[news.ExtractedItem]) error {
	return saveFile(fs, stageExtracted, c)
}

func (fs *FileStore) LoadProcessed(ctx context.Context) (Cache[news.ProcessedItem], error) {
	return loadFile[news.ProcessedItem](fs, stageProcessed)
}

func (fs *FileStore) SaveProcessed(ctx context.Context, c Cache[news.ProcessedItem]) error {
	return saveFile(fs, stageProcessed, c)
}

func (fs *FileStore) LoadAIProcessed(ctx context.Context) (Cache[news.AIProcessedItem], error) {
	return loadFile[news.AIProcessedItem](fs, stageAIProcessed)
}

func (fs *FileStore) SaveAIProcessed(ctx context.Context, c Cache[news.AIProcessedItem]) error {
	return saveFile(fs, stageAIProcessed, c)
}

func (fs *FileStore) LoadReports(ctx context.Context) (Cache[news.CategoryReport], error) {
	return loadFile[news.CategoryReport](fs, stageReports)
}

func (fs *FileStore) SaveReports(ctx context.Context, c Cache[news.CategoryReport]) error {
	return saveFile(fs, stageReports, c)
}

func (fs *FileStore) LoadScoringAudits(ctx context.Context) (Cache[news.ScoringAuditRecord], error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return readDocument[news.ScoringAuditRecord](fs.auditPath), nil
}

// SaveScoringAudit appends rec and drops the oldest records beyond 200.
func (fs *FileStore) SaveScoringAudit(ctx context.Context, rec news.ScoringAuditRecord) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	c := readDocument[news.ScoringAuditRecord](fs.auditPath)
	c.Items = append(c.Items, rec)
	if extra := len(c.Items) - maxAuditRecords; extra > 0 {
		c.Items = c.Items[extra:]
	}
	c.LastUpdated = fs.now().UnixMilli()
	if err := writeDocument(fs.auditPath, c); err != nil {
		logger.Error("failed to save scoring audit", "label", rec.Label, "error", err)
	}
	return nil
}

func (fs *FileStore) MarkStepCompleted(ctx context.Context, step Step) error {
	if !step.Valid() {
		return ErrUnknownStep
	}
	return nil
}

func (fs *FileStore) FinalizeRun(ctx context.Context, status news.RunStatus, runErr error) error {
	return nil
}

func (fs *FileStore) PipelineRunID() string { return localRunID }

func (fs *FileStore) Close() error { return nil }
