package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"DATABASE_URL", "LLM_PROVIDER", "LLM_API_KEY", "GEMINI_API_KEY", "LLM_MODEL", "MAX_ITEMS_PER_FEED", "PAGE_TIMEOUT"} {
		t.Setenv(k, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DatabaseURL != "" {
		t.Errorf("DatabaseURL = %q, want empty", cfg.DatabaseURL)
	}
	if cfg.MaxItemsPerFeed != 20 {
		t.Errorf("MaxItemsPerFeed = %d, want 20", cfg.MaxItemsPerFeed)
	}
	if cfg.PageTimeout != 10*time.Second {
		t.Errorf("PageTimeout = %v, want 10s", cfg.PageTimeout)
	}
	if cfg.LLMModel != "gemini-1.5-flash" {
		t.Errorf("LLMModel = %q", cfg.LLMModel)
	}
	if cfg.ReportFreshness != time.Hour {
		t.Errorf("ReportFreshness = %v, want 1h", cfg.ReportFreshness)
	}
}

func TestLoadOpenAIOverrides(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "OpenAI")
	t.Setenv("LLM_API_KEY", "")
	t.Setenv("LLM_MODEL", "")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("LLM_BASE_URL", "http://localhost:1234/v1")
	t.Setenv("MAX_ITEMS_PER_FEED", "5")
	t.Setenv("SCORING_AUDIT_PATH", "/tmp/audit.json")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLMProvider != "openai" || cfg.LLMAPIKey != "sk-test" {
		t.Errorf("provider/key = %q/%q", cfg.LLMProvider, cfg.LLMAPIKey)
	}
	if cfg.LLMModel != "gpt-4o-mini" {
		t.Errorf("LLMModel = %q", cfg.LLMModel)
	}
	if cfg.MaxItemsPerFeed != 5 {
		t.Errorf("MaxItemsPerFeed = %d, want 5", cfg.MaxItemsPerFeed)
	}
	if cfg.ScoringAuditPath != "/tmp/audit.json" {
		t.Errorf("ScoringAuditPath = %q", cfg.ScoringAuditPath)
	}
}

func TestValidateRejectsUnknownProvider(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "cohere")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}
