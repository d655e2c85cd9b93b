// Package config loads runtime settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Persistence
	DatabaseURL      string // empty selects the local file backend
	AccountID        string
	CacheDir         string
	ScoringAuditPath string // overrides the audit document location of the file backend

	// Sources
	SourcesConfigPath string
	MaxItemsPerFeed   int

	// LLM settings
	LLMProvider   string // "gemini" or "openai"
	LLMAPIKey     string
	LLMBaseURL    string
	LLMModel      string
	LLMTimeout    time.Duration
	MaxAIRequests int // maximum AI requests per run (0 = unlimited)

	// Search settings
	SearchAPIKey       string
	SearchEngineID     string
	SearchDateRestrict string

	// Workers
	FetchConcurrency   int
	ExtractConcurrency int
	PageTimeout        time.Duration
	ItemCacheTTL       time.Duration

	// Reports
	ReportFreshness time.Duration
	ReportMaxItems  int
	OutputDir       string

	// App settings
	Debug                bool
	RetryAttempts        int
	RetryDelay           time.Duration
	EnableHTTPMonitoring bool
	MonitoringPort       string
}

func Load() (*Config, error) {
	cfg := &Config{
		AccountID:          "default",
		CacheDir:           ".newsroom-cache",
		SourcesConfigPath:  "configs/sources.yaml",
		MaxItemsPerFeed:    20,
		LLMProvider:        "gemini",
		LLMTimeout:         3 * time.Minute,
		SearchDateRestrict: "d1",
		FetchConcurrency:   4,
		ExtractConcurrency: 8,
		PageTimeout:        10 * time.Second,
		ItemCacheTTL:       6 * time.Hour,
		ReportFreshness:    time.Hour,
		ReportMaxItems:     15,
		OutputDir:          "public",
		RetryAttempts:      2,
		RetryDelay:         2 * time.Second,
		MonitoringPort:     "8080",
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.AccountID = getEnvOrDefault("ACCOUNT_ID", cfg.AccountID)
	cfg.CacheDir = getEnvOrDefault("CACHE_DIR", cfg.CacheDir)
	cfg.ScoringAuditPath = os.Getenv("SCORING_AUDIT_PATH")
	cfg.SourcesConfigPath = getEnvOrDefault("SOURCES_CONFIG_PATH", cfg.SourcesConfigPath)

	if v := os.Getenv("MAX_ITEMS_PER_FEED"); v != "" {
		if val, err := strconv.Atoi(v); err == nil && val > 0 {
			cfg.MaxItemsPerFeed = val
		}
	}

	cfg.LLMProvider = strings.ToLower(getEnvOrDefault("LLM_PROVIDER", cfg.LLMProvider))
	cfg.LLMAPIKey = os.Getenv("LLM_API_KEY")
	if cfg.LLMAPIKey == "" {
		switch cfg.LLMProvider {
		case "openai":
			cfg.LLMAPIKey = os.Getenv("OPENAI_API_KEY")
		default:
			cfg.LLMAPIKey = os.Getenv("GEMINI_API_KEY")
		}
	}
	cfg.LLMBaseURL = os.Getenv("LLM_BASE_URL")
	cfg.LLMModel = os.Getenv("LLM_MODEL")
	if cfg.LLMModel == "" {
		cfg.LLMModel = defaultModel(cfg.LLMProvider)
	}
	cfg.LLMTimeout = getEnvDurationOrDefault("LLM_TIMEOUT", cfg.LLMTimeout)

	if v := os.Getenv("MAX_AI_REQUESTS"); v != "" {
		if val, err := strconv.Atoi(v); err == nil && val >= 0 {
			cfg.MaxAIRequests = val
		}
	}

	cfg.SearchAPIKey = os.Getenv("SEARCH_API_KEY")
	cfg.SearchEngineID = os.Getenv("SEARCH_ENGINE_ID")
	cfg.SearchDateRestrict = getEnvOrDefault("SEARCH_DATE_RESTRICT", cfg.SearchDateRestrict)

	cfg.FetchConcurrency = getEnvIntOrDefault("FETCH_CONCURRENCY", cfg.FetchConcurrency)
	cfg.ExtractConcurrency = getEnvIntOrDefault("EXTRACT_CONCURRENCY", cfg.ExtractConcurrency)
	cfg.PageTimeout = getEnvDurationOrDefault("PAGE_TIMEOUT", cfg.PageTimeout)
	cfg.ItemCacheTTL = getEnvDurationOrDefault("ITEM_CACHE_TTL", cfg.ItemCacheTTL)

	cfg.ReportFreshness = getEnvDurationOrDefault("REPORT_FRESHNESS", cfg.ReportFreshness)
	cfg.ReportMaxItems = getEnvIntOrDefault("REPORT_MAX_ITEMS", cfg.ReportMaxItems)
	cfg.OutputDir = getEnvOrDefault("OUTPUT_DIR", cfg.OutputDir)

	if debug := os.Getenv("DEBUG"); debug == "true" {
		cfg.Debug = true
	}
	cfg.RetryAttempts = getEnvIntOrDefault("RETRY_ATTEMPTS", cfg.RetryAttempts)
	cfg.RetryDelay = getEnvDurationOrDefault("RETRY_DELAY", cfg.RetryDelay)
	cfg.EnableHTTPMonitoring = os.Getenv("ENABLE_HTTP_MONITORING") == "true"
	cfg.MonitoringPort = getEnvOrDefault("MONITORING_PORT", cfg.MonitoringPort)

	return cfg, cfg.Validate()
}

func defaultModel(provider string) string {
	if provider == "openai" {
		return "gpt-4o-mini"
	}
	return "gemini-1.5-flash"
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// Validate checks ranges only. A missing LLM or search key is allowed:
// the collaborators fall back to their soft defaults.
func (c *Config) Validate() error {
	if c.LLMProvider != "gemini" && c.LLMProvider != "openai" {
		return fmt.Errorf("LLM_PROVIDER must be 'gemini' or 'openai'")
	}
	if c.FetchConcurrency <= 0 {
		return fmt.Errorf("FETCH_CONCURRENCY must be positive")
	}
	if c.ExtractConcurrency <= 0 {
		return fmt.Errorf("EXTRACT_CONCURRENCY must be positive")
	}
	if c.PageTimeout <= 0 {
		return fmt.Errorf("PAGE_TIMEOUT must be positive")
	}
	if c.ReportMaxItems <= 0 {
		return fmt.Errorf("REPORT_MAX_ITEMS must be positive")
	}
	if c.RetryAttempts <= 0 {
		return fmt.Errorf("RETRY_ATTEMPTS must be positive")
	}
	if c.AccountID == "" {
		return fmt.Errorf("ACCOUNT_ID must not be empty")
	}
	return nil
}
