package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/deusflow/newsroom/internal/ai"
	"github.com/deusflow/newsroom/internal/cache"
	"github.com/deusflow/newsroom/internal/config"
	"github.com/deusflow/newsroom/internal/fetch"
	"github.com/deusflow/newsroom/internal/gemini"
	"github.com/deusflow/newsroom/internal/logger"
	"github.com/deusflow/newsroom/internal/metrics"
	"github.com/deusflow/newsroom/internal/openai"
	"github.com/deusflow/newsroom/internal/ratelimit"
	"github.com/deusflow/newsroom/internal/retry"
	"github.com/deusflow/newsroom/internal/rss"
	"github.com/deusflow/newsroom/internal/scraper"
	"github.com/deusflow/newsroom/internal/search"
	"github.com/deusflow/newsroom/internal/sources"
	"github.com/deusflow/newsroom/internal/storage"
)

// OpenStore is the only place a storage backend is chosen: DATABASE_URL
// selects the relational store, otherwise documents go to CACHE_DIR.
func OpenStore(ctx context.Context, cfg *config.Config, runID string) (storage.PipelineStore, error) {
	return storage.Open(ctx, storage.Options{
		DatabaseURL: cfg.DatabaseURL,
		AccountID:   cfg.AccountID,
		RunID:       runID,
		CacheDir:    cfg.CacheDir,
		AuditPath:   cfg.ScoringAuditPath,
	})
}

type completer interface {
	ai.Completer
	Close() error
}

// newCompleter returns nil when no key is configured; AI stages then fall
// back to their defaults.
func newCompleter(ctx context.Context, cfg *config.Config) (completer, error) {
	if cfg.LLMAPIKey == "" {
		logger.Warn("no LLM API key configured, AI features disabled", "provider", cfg.LLMProvider)
		return nil, nil
	}
	switch cfg.LLMProvider {
	case "openai":
		return openai.NewClient(cfg.LLMAPIKey, cfg.LLMBaseURL, cfg.LLMModel, &http.Client{Timeout: cfg.LLMTimeout}), nil
	case "gemini", "":
		c, err := gemini.NewClient(ctx, cfg.LLMAPIKey, cfg.LLMModel)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.LLMProvider)
	}
}

// Build wires an Orchestrator from configuration. The returned cleanup
// releases every resource Build opened, the store included.
func Build(ctx context.Context, cfg *config.Config, runID string) (*Orchestrator, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	store, err := OpenStore(ctx, cfg, runID)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	closers = append(closers, func() { _ = store.Close() })

	llm, err := newCompleter(ctx, cfg)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("create LLM client: %w", err)
	}
	budget := ratelimit.NewBudget(cfg.MaxAIRequests)
	closers = append(closers, budget.LogStats)

	aiOpts := ai.Options{
		Budget:         budget,
		Retry:          retry.RetryConfig{MaxAttempts: cfg.RetryAttempts, Delay: cfg.RetryDelay, Backoff: true},
		Timeout:        cfg.LLMTimeout,
		ReportMaxItems: cfg.ReportMaxItems,
	}
	if llm != nil {
		closers = append(closers, func() { _ = llm.Close() })
	}
	analyst := ai.NewService(llm, aiOpts)

	searcher, err := search.New(ctx, cfg.SearchAPIKey, cfg.SearchEngineID)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("create search client: %w", err)
	}

	var searchDep Searcher
	if searcher != nil {
		searchDep = searcher
	}

	client := fetch.New(cfg.PageTimeout)
	pages := cache.New(10 * time.Minute)
	closers = append(closers, func() {
		hits, misses := pages.Stats()
		logger.Debug("page cache stats", "hits", hits, "misses", misses)
		pages.Close()
	})

	o := New(Deps{
		Store:     store,
		Sources:   sources.NewYAMLProvider(cfg.SourcesConfigPath),
		Feeds:     rss.NewParser(client, cfg.MaxItemsPerFeed),
		Search:    searchDep,
		Extractor: scraper.NewExtractor(client, pages, cfg.ItemCacheTTL),
		AI:        analyst,
		Metrics:   metrics.Global,
	}, Options{
		FetchConcurrency:   cfg.FetchConcurrency,
		ExtractConcurrency: cfg.ExtractConcurrency,
		SearchDateRestrict: cfg.SearchDateRestrict,
		ReportFreshness:    cfg.ReportFreshness,
		ReportMaxItems:     cfg.ReportMaxItems,
		OutputDir:          cfg.OutputDir,
	})
	return o, cleanup, nil
}
