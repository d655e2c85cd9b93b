// Package ratelimit caps how many AI requests one pipeline run may make.
package ratelimit

import (
	"errors"
	"sync"

	"github.com/deusflow/newsroom/internal/logger"
)

var ErrExhausted = errors.New("ai request budget exhausted")

// Budget counts AI requests per provider against one shared limit.
// A max of 0 means unlimited. A nil *Budget is unlimited too.
type Budget struct {
	mu         sync.Mutex
	max        int
	used       int
	denied     int
	byProvider map[string]int
}

func NewBudget(max int) *Budget {
	return &Budget{max: max, byProvider: make(map[string]int)}
}

// Take reserves one request for provider.
func (b *Budget) Take(provider string) error {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.max > 0 && b.used >= b.max {
		b.denied++
		if b.denied == 1 {
			logger.Warn("AI request budget reached", "used", b.used, "limit", b.max)
		}
		return ErrExhausted
	}
	b.used++
	b.byProvider[provider]++
	logger.Debug("AI request", "provider", provider, "used", b.used, "limit", b.max)
	return nil
}

// Remaining returns -1 when the budget is unlimited.
func (b *Budget) Remaining() int {
	if b == nil {
		return -1
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.max <= 0 {
		return -1
	}
	return b.max - b.used
}

func (b *Budget) GetStats() map[string]interface{} {
	if b == nil {
		return map[string]interface{}{"limit": 0}
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	providers := make(map[string]int, len(b.byProvider))
	for k, v := range b.byProvider {
		providers[k] = v
	}
	return map[string]interface{}{
		"used":      b.used,
		"limit":     b.max,
		"denied":    b.denied,
		"providers": providers,
	}
}

// LogStats writes the usage summary at the end of a run.
func (b *Budget) LogStats() {
	stats := b.GetStats()
	logger.Info("AI budget usage", "used", stats["used"], "limit", stats["limit"], "denied", stats["denied"])
}
