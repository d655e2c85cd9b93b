package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/deusflow/newsroom/internal/logger"
	"github.com/deusflow/newsroom/internal/news"
)

const insertBatch = 200

// SQLStore keeps stage output as rows scoped by account and pipeline run.
// The run row is created on the first write.
type SQLStore struct {
	db        *sql.DB
	sb        sq.StatementBuilderType
	driver    string
	accountID string
	runID     string
	pinned    bool
	now       func() time.Time

	mu               sync.Mutex
	created          bool
	status           news.RunStatus
	closed           bool
	fallbackRun      string
	fallbackResolved bool
}

// OpenSQL connects to a postgres:// URL through pgx or to a sqlite:// or
// file: DSN. An empty runID starts a new run; a given one resumes that run
// and pins every load to it.
func OpenSQL(ctx context.Context, dsn, accountID, runID string) (*SQLStore, error) {
	driver, source, placeholder, err := parseDSN(dsn)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, source)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if driver == "sqlite" {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if accountID == "" {
		accountID = "default"
	}
	s := &SQLStore{
		db:        db,
		sb:        sq.StatementBuilder.PlaceholderFormat(placeholder),
		driver:    driver,
		accountID: accountID,
		runID:     runID,
		pinned:    runID != "",
		now:       time.Now,
	}
	if !s.pinned {
		s.runID = uuid.NewString()
	}

	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if s.pinned {
		if err := s.resume(ctx); err != nil {
			db.Close()
			return nil, err
		}
	}

	logger.Info("pipeline store connected", "driver", driver, "account", accountID, "run", s.runID, "resumed", s.created)
	return s, nil
}

func parseDSN(dsn string) (driver, source string, placeholder sq.PlaceholderFormat, err error) {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return "pgx", dsn, sq.Dollar, nil
	case strings.HasPrefix(dsn, "sqlite://"):
		return "sqlite", strings.TrimPrefix(dsn, "sqlite://"), sq.Question, nil
	case strings.HasPrefix(dsn, "file:"):
		return "sqlite", dsn, sq.Question, nil
	default:
		return "", "", nil, fmt.Errorf("unsupported database url scheme in %q", schemeOf(dsn))
	}
}

func schemeOf(dsn string) string {
	if i := strings.Index(dsn, "://"); i > 0 {
		return dsn[:i]
	}
	return "<none>"
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS pipeline_runs (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		started_at BIGINT NOT NULL,
		completed_at BIGINT,
		status TEXT NOT NULL,
		step_completed INTEGER NOT NULL DEFAULT 0,
		error_message TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_pipeline_runs_account ON pipeline_runs(account_id, started_at)`,
	`CREATE TABLE IF NOT EXISTS pipeline_items (
		run_id TEXT NOT NULL,
		account_id TEXT NOT NULL,
		stage TEXT NOT NULL,
		seq INTEGER NOT NULL,
		item_id TEXT NOT NULL,
		source_id TEXT NOT NULL,
		payload TEXT NOT NULL,
		PRIMARY KEY (run_id, stage, seq)
	)`,
	`CREATE TABLE IF NOT EXISTS pipeline_stage_meta (
		run_id TEXT NOT NULL,
		account_id TEXT NOT NULL,
		stage TEXT NOT NULL,
		last_updated BIGINT NOT NULL,
		metadata TEXT NOT NULL,
		PRIMARY KEY (run_id, stage)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_pipeline_stage_meta_account ON pipeline_stage_meta(account_id, stage)`,
	`CREATE TABLE IF NOT EXISTS scoring_audits (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		account_id TEXT NOT NULL,
		label TEXT NOT NULL,
		custom_instructions TEXT NOT NULL,
		top_k_per_source INTEGER NOT NULL,
		scored_at BIGINT NOT NULL,
		scored_items TEXT NOT NULL,
		selected_items TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS category_reports (
		run_id TEXT NOT NULL,
		account_id TEXT NOT NULL,
		category TEXT NOT NULL,
		report_body TEXT NOT NULL,
		generated_at BIGINT NOT NULL,
		used_item_ids TEXT NOT NULL,
		PRIMARY KEY (run_id, category)
	)`,
}

func (s *SQLStore) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// resume loads the state of a pinned run if it already exists.
func (s *SQLStore) resume(ctx context.Context) error {
	run, found, err := s.LoadRun(ctx, s.runID)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	if run.AccountID != s.accountID {
		return fmt.Errorf("run %s belongs to account %s", s.runID, run.AccountID)
	}
	s.created = true
	s.status = run.Status
	return nil
}

// LoadRun reads one run row.
func (s *SQLStore) LoadRun(ctx context.Context, runID string) (news.PipelineRun, bool, error) {
	q, args, err := s.sb.
		Select("id", "account_id", "started_at", "completed_at", "status", "step_completed", "error_message").
		From("pipeline_runs").
		Where(sq.Eq{"id": runID}).
		ToSql()
	if err != nil {
		return news.PipelineRun{}, false, err
	}

	var (
		run       news.PipelineRun
		started   int64
		completed sql.NullInt64
		status    string
		errMsg    sql.NullString
	)
	err = s.db.QueryRowContext(ctx, q, args...).Scan(&run.ID, &run.AccountID, &started, &completed, &status, &run.StepCompleted, &errMsg)
	if errors.Is(err, sql.ErrNoRows) {
		return news.PipelineRun{}, false, nil
	}
	if err != nil {
		return news.PipelineRun{}, false, fmt.Errorf("failed to load run %s: %w", runID, err)
	}

	run.StartedAt = time.UnixMilli(started)
	if completed.Valid {
		t := time.UnixMilli(completed.Int64)
		run.CompletedAt = &t
	}
	run.Status = news.RunStatus(status)
	run.Error = errMsg.String
	return run, true, nil
}

func (s *SQLStore) PipelineRunID() string { return s.runID }

// ensureRun creates the run row on first write. Callers hold s.mu.
func (s *SQLStore) ensureRun(ctx context.Context) error {
	if s.status.Terminal() {
		return ErrRunFinalized
	}
	if s.created {
		return nil
	}

	q, args, err := s.sb.Insert("pipeline_runs").
		Columns("id", "account_id", "started_at", "status", "step_completed").
		Values(s.runID, s.accountID, s.now().UnixMilli(), string(news.RunRunning), 0).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("failed to create run %s: %w", s.runID, err)
	}
	s.created = true
	s.status = news.RunRunning
	logger.Info("pipeline run started", "run", s.runID, "account", s.accountID)
	return nil
}

// write runs fn in a transaction on the current run.
func (s *SQLStore) write(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureRun(ctx); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

func execTx(ctx context.Context, tx *sql.Tx, b sq.Sqlizer) error {
	q, args, err := b.ToSql()
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, q, args...)
	return err
}

func (s *SQLStore) putStageMeta(ctx context.Context, tx *sql.Tx, stage string, lastUpdated int64, meta map[string]SourceMeta) error {
	encoded, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	err = execTx(ctx, tx, s.sb.Insert("pipeline_stage_meta").
		Columns("run_id", "account_id", "stage", "last_updated", "metadata").
		Values(s.runID, s.accountID, stage, lastUpdated, string(encoded)).
		Suffix("ON CONFLICT (run_id, stage) DO UPDATE SET last_updated = excluded.last_updated, metadata = excluded.metadata"))
	if err != nil {
		return fmt.Errorf("failed to save %s metadata: %w", stage, err)
	}
	return nil
}

// resolveStage finds the run whose copy of stage should be loaded: the
// current run if it has one, otherwise the most recently started earlier run
// of the account, and only that run. A pinned store only ever looks at its
// own run.
func (s *SQLStore) resolveStage(ctx context.Context, stage string) (runID string, lastUpdated int64, meta map[string]SourceMeta, ok bool, err error) {
	lastUpdated, meta, ok, err = s.stageMeta(ctx, s.runID, stage)
	if err != nil || ok || s.pinned {
		return s.runID, lastUpdated, meta, ok, err
	}

	prev, found, err := s.previousRun(ctx)
	if err != nil || !found {
		return "", 0, nil, false, err
	}
	lastUpdated, meta, ok, err = s.stageMeta(ctx, prev, stage)
	return prev, lastUpdated, meta, ok, err
}

// previousRun is resolved once per store so every stage of a run falls back
// to the same earlier run.
func (s *SQLStore) previousRun(ctx context.Context) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fallbackResolved {
		return s.fallbackRun, s.fallbackRun != "", nil
	}

	q, args, err := s.sb.Select("id").
		From("pipeline_runs").
		Where(sq.Eq{"account_id": s.accountID}).
		Where(sq.NotEq{"id": s.runID}).
		OrderBy("started_at DESC", "id DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return "", false, err
	}
	var id string
	err = s.db.QueryRowContext(ctx, q, args...).Scan(&id)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", false, fmt.Errorf("failed to find previous run: %w", err)
	}

	s.fallbackRun, s.fallbackResolved = id, true
	if id != "" {
		logger.Debug("loads fall back to previous run", "run", s.runID, "previous", id)
	}
	return id, id != "", nil
}

func (s *SQLStore) stageMeta(ctx context.Context, runID, stage string) (int64, map[string]SourceMeta, bool, error) {
	q, args, err := s.sb.Select("last_updated", "metadata").
		From("pipeline_stage_meta").
		Where(sq.Eq{"run_id": runID, "stage": stage, "account_id": s.accountID}).
		ToSql()
	if err != nil {
		return 0, nil, false, err
	}

	var (
		lastUpdated int64
		encoded     string
	)
	err = s.db.QueryRowContext(ctx, q, args...).Scan(&lastUpdated, &encoded)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil, false, nil
	}
	if err != nil {
		return 0, nil, false, fmt.Errorf("failed to resolve %s: %w", stage, err)
	}
	meta := map[string]SourceMeta{}
	if err := json.Unmarshal([]byte(encoded), &meta); err != nil {
		return 0, nil, false, fmt.Errorf("failed to decode %s metadata: %w", stage, err)
	}
	return lastUpdated, meta, true, nil
}

// saveItems deletes the stage rows of the current run and inserts c.
// Rows of other stages are untouched.
func saveItems[T any](ctx context.Context, s *SQLStore, stage string, c Cache[T], key func(T) (id, sourceID string)) error {
	c.stamp(s.now())
	err := s.write(ctx, func(tx *sql.Tx) error {
		if err := execTx(ctx, tx, s.sb.Delete("pipeline_items").Where(sq.Eq{"run_id": s.runID, "stage": stage})); err != nil {
			return fmt.Errorf("failed to clear %s: %w", stage, err)
		}
		for start := 0; start < len(c.Items); start += insertBatch {
			end := min(start+insertBatch, len(c.Items))
			ins := s.sb.Insert("pipeline_items").
				Columns("run_id", "account_id", "stage", "seq", "item_id", "source_id", "payload")
			for i := start; i < end; i++ {
				payload, err := json.Marshal(c.Items[i])
				if err != nil {
					return fmt.Errorf("failed to marshal %s item %d: %w", stage, i, err)
				}
				id, sourceID := key(c.Items[i])
				ins = ins.Values(s.runID, s.accountID, stage, i, id, sourceID, string(payload))
			}
			if err := execTx(ctx, tx, ins); err != nil {
				return fmt.Errorf("failed to insert %s: %w", stage, err)
			}
		}
		return s.putStageMeta(ctx, tx, stage, c.LastUpdated, c.Metadata)
	})
	if err != nil {
		return err
	}
	logger.Debug("stage saved", "stage", stage, "run", s.runID, "items", len(c.Items))
	return nil
}

func loadItems[T any](ctx context.Context, s *SQLStore, stage string) (Cache[T], error) {
	out := EmptyCache[T]()
	runID, lastUpdated, meta, ok, err := s.resolveStage(ctx, stage)
	if err != nil || !ok {
		return out, err
	}

	q, args, err := s.sb.Select("payload").
		From("pipeline_items").
		Where(sq.Eq{"run_id": runID, "stage": stage}).
		OrderBy("seq").
		ToSql()
	if err != nil {
		return out, err
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return out, fmt.Errorf("failed to load %s: %w", stage, err)
	}
	defer rows.Close()

	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return out, fmt.Errorf("failed to scan %s row: %w", stage, err)
		}
		var item T
		if err := json.Unmarshal([]byte(payload), &item); err != nil {
			return out, fmt.Errorf("failed to decode %s row: %w", stage, err)
		}
		out.Items = append(out.Items, item)
	}
	if err := rows.Err(); err != nil {
		return out, fmt.Errorf("failed to load %s: %w", stage, err)
	}

	out.Metadata = meta
	out.LastUpdated = lastUpdated
	if runID != s.runID {
		logger.Debug("stage loaded from earlier run", "stage", stage, "run", runID)
	}
	return out, nil
}

func feedKey(it news.FeedItem) (string, string) { return it.ID, it.SourceID }
func extractedKey(it news.ExtractedItem) (string, string) { return it.ID, it.SourceID }
func processedKey(it news.ProcessedItem) (string, string) { return it.ID, it.SourceID }
func aiProcessedKey(it news.AIProcessedItem) (string, string) { return it.ID, it.SourceID }

func (s *SQLStore) LoadRawFeeds(ctx context.Context) (Cache[news.FeedItem], error) {
	return loadItems[news.FeedItem](ctx, s, stageRawFeeds)
}

func (s *SQLStore) SaveRawFeeds(ctx context.Context, c Cache[news.FeedItem]) error {
	return saveItems(ctx, s, stageRawFeeds, c, feedKey)
}

func (s *SQLStore) LoadExtracted(ctx context.Context) (Cache[news.ExtractedItem], error) {
	return loadItems[news.ExtractedItem](ctx, s, stageExtracted)
}

func (s *SQLStore) SaveExtracted(ctx context.Context, c Cache[news.ExtractedItem]) error {
	return saveItems(ctx, s, stageExtracted, c, extractedKey)
}

func (s *SQLStore) LoadProcessed(ctx context.Context) (Cache[news.ProcessedItem], error) {
	return loadItems[news.ProcessedItem](ctx, s, stageProcessed)
}

func (s *SQLStore) SaveProcessed(ctx context.Context, c Cache[news.ProcessedItem]) error {
	return saveItems(ctx, s, stageProcessed, c, processedKey)
}

func (s *SQLStore) LoadAIProcessed(ctx context.Context) (Cache[news.AIProcessedItem], error) {
	return loadItems[news.AIProcessedItem](ctx, s, stageAIProcessed)
}

func (s *SQLStore) SaveAIProcessed(ctx context.Context, c Cache[news.AIProcessedItem]) error {
	return saveItems(ctx, s, stageAIProcessed, c, aiProcessedKey)
}

func (s *SQLStore) SaveReports(ctx context.Context, c Cache[news.CategoryReport]) error {
	c.stamp(s.now())
	return s.write(ctx, func(tx *sql.Tx) error {
		if err := execTx(ctx, tx, s.sb.Delete("category_reports").Where(sq.Eq{"run_id": s.runID})); err != nil {
			return fmt.Errorf("failed to clear reports: %w", err)
		}
		for _, r := range c.Items {
			used, err := json.Marshal(nonNil(r.UsedItemIDs))
			if err != nil {
				return err
			}
			err = execTx(ctx, tx, s.sb.Insert("category_reports").
				Columns("run_id", "account_id", "category", "report_body", "generated_at", "used_item_ids").
				Values(s.runID, s.accountID, r.Category, r.ReportBody, r.GeneratedAt.UnixMilli(), string(used)))
			if err != nil {
				return fmt.Errorf("failed to insert report %s: %w", r.Category, err)
			}
		}
		return s.putStageMeta(ctx, tx, stageReports, c.LastUpdated, c.Metadata)
	})
}

func (s *SQLStore) LoadReports(ctx context.Context) (Cache[news.CategoryReport], error) {
	out := EmptyCache[news.CategoryReport]()
	runID, lastUpdated, meta, ok, err := s.resolveStage(ctx, stageReports)
	if err != nil || !ok {
		return out, err
	}

	q, args, err := s.sb.Select("category", "report_body", "generated_at", "used_item_ids").
		From("category_reports").
		Where(sq.Eq{"run_id": runID}).
		OrderBy("category").
		ToSql()
	if err != nil {
		return out, err
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return out, fmt.Errorf("failed to load reports: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			r         news.CategoryReport
			generated int64
			used      string
		)
		if err := rows.Scan(&r.Category, &r.ReportBody, &generated, &used); err != nil {
			return out, fmt.Errorf("failed to scan report: %w", err)
		}
		r.GeneratedAt = time.UnixMilli(generated)
		if err := json.Unmarshal([]byte(used), &r.UsedItemIDs); err != nil {
			return out, fmt.Errorf("failed to decode report %s: %w", r.Category, err)
		}
		out.Items = append(out.Items, r)
	}
	if err := rows.Err(); err != nil {
		return out, err
	}
	out.Metadata = meta
	out.LastUpdated = lastUpdated
	return out, nil
}

func (s *SQLStore) SaveScoringAudit(ctx context.Context, rec news.ScoringAuditRecord) error {
	scored, err := json.Marshal(nonNil(rec.ScoredItems))
	if err != nil {
		return err
	}
	selected, err := json.Marshal(nonNil(rec.SelectedItems))
	if err != nil {
		return err
	}
	at := s.now().UnixMilli()
	return s.write(ctx, func(tx *sql.Tx) error {
		err := execTx(ctx, tx, s.sb.Insert("scoring_audits").
			Columns("id", "run_id", "account_id", "label", "custom_instructions", "top_k_per_source", "scored_at", "scored_items", "selected_items").
			Values(uuid.NewString(), s.runID, s.accountID, rec.Label, rec.CustomInstructions, rec.TopKPerSource, rec.ScoredAt.UnixMilli(), string(scored), string(selected)))
		if err != nil {
			return fmt.Errorf("failed to insert scoring audit %s: %w", rec.Label, err)
		}
		return s.putStageMeta(ctx, tx, stageScoringAudit, at, map[string]SourceMeta{})
	})
}

func (s *SQLStore) LoadScoringAudits(ctx context.Context) (Cache[news.ScoringAuditRecord], error) {
	out := EmptyCache[news.ScoringAuditRecord]()
	runID, lastUpdated, _, ok, err := s.resolveStage(ctx, stageScoringAudit)
	if err != nil || !ok {
		return out, err
	}

	q, args, err := s.sb.Select("label", "custom_instructions", "top_k_per_source", "scored_at", "scored_items", "selected_items").
		From("scoring_audits").
		Where(sq.Eq{"run_id": runID}).
		OrderBy("scored_at").
		ToSql()
	if err != nil {
		return out, err
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return out, fmt.Errorf("failed to load scoring audits: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			rec              news.ScoringAuditRecord
			scoredAt         int64
			scored, selected string
		)
		if err := rows.Scan(&rec.Label, &rec.CustomInstructions, &rec.TopKPerSource, &scoredAt, &scored, &selected); err != nil {
			return out, fmt.Errorf("failed to scan scoring audit: %w", err)
		}
		rec.ScoredAt = time.UnixMilli(scoredAt)
		if err := json.Unmarshal([]byte(scored), &rec.ScoredItems); err != nil {
			return out, err
		}
		if err := json.Unmarshal([]byte(selected), &rec.SelectedItems); err != nil {
			return out, err
		}
		out.Items = append(out.Items, rec)
	}
	if err := rows.Err(); err != nil {
		return out, err
	}
	out.LastUpdated = lastUpdated
	return out, nil
}

// MarkStepCompleted advances step_completed; a lower step never lowers it.
func (s *SQLStore) MarkStepCompleted(ctx context.Context, step Step) error {
	if !step.Valid() {
		return ErrUnknownStep
	}
	return s.write(ctx, func(tx *sql.Tx) error {
		err := execTx(ctx, tx, s.sb.Update("pipeline_runs").
			Set("step_completed", int(step)).
			Where(sq.Eq{"id": s.runID}).
			Where(sq.Lt{"step_completed": int(step)}))
		if err != nil {
			return fmt.Errorf("failed to mark step %s: %w", step, err)
		}
		return nil
	})
}

// FinalizeRun records the terminal status and closes the database, on
// every path. A failed run that never wrote anything is still recorded.
func (s *SQLStore) FinalizeRun(ctx context.Context, status news.RunStatus, runErr error) error {
	if !status.Terminal() {
		return fmt.Errorf("finalize run: status %q is not terminal", status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.closeLocked()

	if s.status.Terminal() {
		return ErrRunFinalized
	}
	if !s.created && status != news.RunFailed {
		return nil
	}
	if err := s.ensureRun(ctx); err != nil {
		return err
	}

	var msg any
	if runErr != nil {
		msg = runErr.Error()
	}
	q, args, err := s.sb.Update("pipeline_runs").
		Set("status", string(status)).
		Set("completed_at", s.now().UnixMilli()).
		Set("error_message", msg).
		Where(sq.Eq{"id": s.runID, "status": string(news.RunRunning)}).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("failed to finalize run %s: %w", s.runID, err)
	}
	s.status = status
	logger.Info("pipeline run finalized", "run", s.runID, "status", status)
	return nil
}

func (s *SQLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

func (s *SQLStore) closeLocked() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
