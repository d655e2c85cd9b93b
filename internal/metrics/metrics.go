package metrics

import (
	"sync"
	"time"
)

type Metrics struct {
	mu sync.RWMutex

	// Counters
	FeedsFetched       int64
	FeedsFailed        int64
	ItemsFetched       int64
	DuplicatesFiltered int64
	ItemsExtracted     int64
	ItemsSkipped       int64
	ExtractFailures    int64
	SummariesOK        int64
	SummariesFailed    int64
	ReportsGenerated   int64
	ReportsReused      int64

	// Timings
	LastProcessingTime    time.Duration
	AverageProcessingTime time.Duration
	TotalProcessingTime   time.Duration
	ProcessingCount       int64

	// Status
	LastStage     string
	LastRunTime   time.Time
	LastErrorTime time.Time
	LastError     string
	IsHealthy     bool
}

var Global = &Metrics{IsHealthy: true}

func (m *Metrics) add(field *int64, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	*field += int64(n)
}

func (m *Metrics) IncrementFeedsFetched() { m.add(&m.FeedsFetched, 1) }
func (m *Metrics) IncrementFeedsFailed() { m.add(&m.FeedsFailed, 1) }
func (m *Metrics) AddItemsFetched(n int) { m.add(&m.ItemsFetched, n) }
func (m *Metrics) AddDuplicatesFiltered(n int) { m.add(&m.DuplicatesFiltered, n) }
func (m *Metrics) IncrementItemsExtracted() { m.add(&m.ItemsExtracted, 1) }
func (m *Metrics) IncrementItemsSkipped() { m.add(&m.ItemsSkipped, 1) }
func (m *Metrics) IncrementExtractFailures() { m.add(&m.ExtractFailures, 1) }
func (m *Metrics) IncrementSummariesOK() { m.add(&m.SummariesOK, 1) }
func (m *Metrics) IncrementSummariesFailed() { m.add(&m.SummariesFailed, 1) }
func (m *Metrics) IncrementReportsGenerated() { m.add(&m.ReportsGenerated, 1) }
func (m *Metrics) IncrementReportsReused() { m.add(&m.ReportsReused, 1) }

func (m *Metrics) RecordStage(stage string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.LastStage = stage
	m.LastProcessingTime = duration
	m.TotalProcessingTime += duration
	m.ProcessingCount++

	if m.ProcessingCount > 0 {
		m.AverageProcessingTime = m.TotalProcessingTime / time.Duration(m.ProcessingCount)
	}
}

func (m *Metrics) SetLastRun() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LastRunTime = time.Now()
	m.IsHealthy = true
}

func (m *Metrics) SetError(err string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LastError = err
	m.LastErrorTime = time.Now()
	m.IsHealthy = false
}

func (m *Metrics) Healthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.IsHealthy
}

func (m *Metrics) GetStats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]interface{}{
		"feeds_fetched":              m.FeedsFetched,
		"feeds_failed":               m.FeedsFailed,
		"items_fetched":              m.ItemsFetched,
		"duplicates_filtered":        m.DuplicatesFiltered,
		"items_extracted":            m.ItemsExtracted,
		"items_skipped":              m.ItemsSkipped,
		"extract_failures":           m.ExtractFailures,
		"summaries_ok":               m.SummariesOK,
		"summaries_failed":           m.SummariesFailed,
		"reports_generated":          m.ReportsGenerated,
		"reports_reused":             m.ReportsReused,
		"last_stage":                 m.LastStage,
		"last_processing_time_ms":    m.LastProcessingTime.Milliseconds(),
		"average_processing_time_ms": m.AverageProcessingTime.Milliseconds(),
		"last_run_time":              m.LastRunTime.Format(time.RFC3339),
		"last_error_time":            m.LastErrorTime.Format(time.RFC3339),
		"last_error":                 m.LastError,
		"is_healthy":                 m.IsHealthy,
	}
}
