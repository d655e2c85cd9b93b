// Package search maps free-text queries to raw items through the Google
// Programmable Search (Custom Search JSON) API.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"google.golang.org/api/customsearch/v1"
	"google.golang.org/api/option"

	"github.com/deusflow/newsroom/internal/logger"
	"github.com/deusflow/newsroom/internal/news"
)

type Client struct {
	svc      *customsearch.Service
	engineID string
	timeout  time.Duration
}

// New returns nil when credentials are missing; a nil *Client is usable and
// always returns no results.
func New(ctx context.Context, apiKey, engineID string, opts ...option.ClientOption) (*Client, error) {
	if apiKey == "" || engineID == "" {
		return nil, nil
	}
	opts = append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	svc, err := customsearch.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create search service: %w", err)
	}
	return &Client{svc: svc, engineID: engineID, timeout: 30 * time.Second}, nil
}

// Search never fails; num is clamped to [1,10] as the API requires.
func (c *Client) Search(ctx context.Context, query string, num int, dateRestrict string) []news.RawItem {
	if c == nil || strings.TrimSpace(query) == "" {
		return []news.RawItem{}
	}
	if num < 1 {
		num = 1
	}
	if num > 10 {
		num = 10
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	call := c.svc.Cse.List().Cx(c.engineID).Q(query).Num(int64(num))
	if dateRestrict != "" {
		call = call.DateRestrict(dateRestrict)
	}
	res, err := call.Context(ctx).Do()
	if err != nil {
		logger.Warn("search failed", "query", query, "error", err)
		return []news.RawItem{}
	}

	items := make([]news.RawItem, 0, len(res.Items))
	for _, r := range res.Items {
		if r == nil || r.Link == "" {
			continue
		}
		items = append(items, news.RawItem{
			Title:       strings.TrimSpace(r.Title),
			Link:        r.Link,
			PublishedAt: publishedAt(r.Pagemap),
			RawContent:  strings.TrimSpace(r.Snippet),
		})
	}
	logger.Debug("search done", "query", query, "results", len(items))
	return items
}

var publishedKeys = []string{"article:published_time", "og:updated_time", "datepublished", "date"}

// publishedAt reads the publication time from the page's meta tags if the
// engine captured them.
func publishedAt(pagemap []byte) *time.Time {
	if len(pagemap) == 0 {
		return nil
	}
	var pm struct {
		Metatags []map[string]any `json:"metatags"`
	}
	if err := json.Unmarshal(pagemap, &pm); err != nil {
		return nil
	}
	for _, tags := range pm.Metatags {
		for _, key := range publishedKeys {
			if s, ok := tags[key].(string); ok {
				if t, ok := news.TryParseDate(s); ok {
					return &t
				}
			}
		}
	}
	return nil
}
