// Package rss turns a feed URL into normalized raw items. Parsing walks an
// ordered chain: a conformant RSS/Atom parser over charset-decoded bytes, a
// tag-soup reading of the same document, and finally feed discovery on an
// HTML page followed by one structured parse of the discovered feed.
package rss

import (
	"context"
	"fmt"
	"html"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	gorss "github.com/mmcdole/gofeed/rss"

	"github.com/deusflow/newsroom/internal/fetch"
	"github.com/deusflow/newsroom/internal/logger"
	"github.com/deusflow/newsroom/internal/news"
)

type Parser struct {
	client   *fetch.Client
	maxItems int
	now      func() time.Time
}

// NewParser returns a parser that keeps at most maxItems per feed (0 keeps all).
func NewParser(client *fetch.Client, maxItems int) *Parser {
	return &Parser{client: client, maxItems: maxItems, now: time.Now}
}

// Parse never fails. An empty result means every strategy came up empty.
func (p *Parser) Parse(ctx context.Context, feedURL, displayName string) []news.RawItem {
	items, err := p.structured(ctx, feedURL)
	if err == nil && len(items) > 0 {
		return p.finish(items, feedURL, displayName, "structured")
	}
	if err != nil {
		logger.Warn("structured feed parse failed", "source", displayName, "url", feedURL, "error", err)
	}

	items, page, err := p.tagSoup(ctx, feedURL)
	if err == nil && len(items) > 0 {
		return p.finish(items, feedURL, displayName, "tag-soup")
	}
	if err != nil {
		logger.Warn("tag-soup feed parse failed", "source", displayName, "url", feedURL, "error", err)
	}
	if page == nil {
		return []news.RawItem{}
	}

	discovered := DiscoverFeedURL(page.Text(), page.URL)
	if discovered == "" {
		logger.Warn("no feed found", "source", displayName, "url", feedURL)
		return []news.RawItem{}
	}
	items, err = p.structured(ctx, discovered)
	if err != nil || len(items) == 0 {
		logger.Warn("discovered feed unusable", "source", displayName, "url", discovered, "error", err)
		return []news.RawItem{}
	}
	return p.finish(items, discovered, displayName, "discovery")
}

func (p *Parser) finish(items []news.RawItem, feedURL, displayName, strategy string) []news.RawItem {
	news.SortRawByRecency(items)
	if p.maxItems > 0 && len(items) > p.maxItems {
		items = items[:p.maxItems]
	}
	logger.Info("feed parsed", "source", displayName, "url", feedURL, "strategy", strategy, "items", len(items))
	return items
}

// structured decodes the body with the detected charset and hands it to gofeed.
func (p *Parser) structured(ctx context.Context, feedURL string) ([]news.RawItem, error) {
	resp, err := p.client.Get(ctx, feedURL)
	if err != nil {
		return nil, err
	}
	text, _ := fetch.DecodeBody(resp.Body, resp.ContentType)

	fp := gofeed.NewParser()
	fp.RSSTranslator = &commentsTranslator{}
	feed, err := fp.ParseString(text)
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	items := make([]news.RawItem, 0, len(feed.Items))
	for _, it := range feed.Items {
		raw := news.RawItem{
			Title:       strings.TrimSpace(it.Title),
			Link:        itemLink(it),
			PublishedAt: itemDate(it),
			RawContent:  firstNonEmpty(it.Content, it.Description),
		}
		if it.Custom != nil {
			raw.CommentsURL = it.Custom["comments"]
		}
		if raw.Link == "" {
			continue
		}
		items = append(items, raw)
	}
	return items, nil
}

// commentsTranslator keeps the RSS <comments> link that the default
// translator drops.
type commentsTranslator struct {
	gofeed.DefaultRSSTranslator
}

func (t *commentsTranslator) Translate(feed interface{}) (*gofeed.Feed, error) {
	out, err := t.DefaultRSSTranslator.Translate(feed)
	if err != nil {
		return nil, err
	}
	src, ok := feed.(*gorss.Feed)
	if !ok {
		return out, nil
	}
	for i, it := range src.Items {
		if i >= len(out.Items) || it.Comments == "" {
			continue
		}
		if out.Items[i].Custom == nil {
			out.Items[i].Custom = map[string]string{}
		}
		out.Items[i].Custom["comments"] = it.Comments
	}
	return out, nil
}

func itemLink(it *gofeed.Item) string {
	if link := strings.TrimSpace(it.Link); link != "" {
		return link
	}
	for _, l := range it.Links {
		if l = strings.TrimSpace(l); l != "" {
			return l
		}
	}
	if strings.HasPrefix(it.GUID, "http://") || strings.HasPrefix(it.GUID, "https://") {
		return it.GUID
	}
	return ""
}

func itemDate(it *gofeed.Item) *time.Time {
	switch {
	case it.PublishedParsed != nil:
		t := *it.PublishedParsed
		return &t
	case it.UpdatedParsed != nil:
		t := *it.UpdatedParsed
		return &t
	}
	for _, s := range []string{it.Published, it.Updated} {
		if t, ok := news.TryParseDate(s); ok {
			return &t
		}
	}
	return nil
}

var (
	cdataRe       = regexp.MustCompile(`(?s)<!\[CDATA\[(.*?)\]\]>`)
	selfLinkRe    = regexp.MustCompile(`(?i)<link(\s[^>]*?)?\s*/>`)
	openLinkRe    = regexp.MustCompile(`(?i)<link(\s|>)`)
	closeLinkRe   = regexp.MustCompile(`(?i)</link\s*>`)
	tagRe         = regexp.MustCompile(`<[^>]*>`)
	whitespaceRe  = regexp.MustCompile(`\s+`)
	dateSelectors = []string{"pubdate", "published", "updated"}
)

// PrepareTagSoup rewrites a feed so an HTML parser keeps its structure:
// CDATA sections become escaped text and <link> (a void element in HTML)
// becomes <feedlink>.
func PrepareTagSoup(doc string) string {
	doc = cdataRe.ReplaceAllStringFunc(doc, func(m string) string {
		inner := cdataRe.FindStringSubmatch(m)[1]
		return html.EscapeString(inner)
	})
	doc = selfLinkRe.ReplaceAllString(doc, "<feedlink$1></feedlink>")
	doc = openLinkRe.ReplaceAllString(doc, "<feedlink$1")
	doc = closeLinkRe.ReplaceAllString(doc, "</feedlink>")
	return doc
}

// tagSoup re-fetches the feed and reads <item> or <entry> elements leniently.
// The fetched page is returned even when no items were found.
func (p *Parser) tagSoup(ctx context.Context, feedURL string) ([]news.RawItem, *fetch.Response, error) {
	resp, err := p.client.Get(ctx, feedURL)
	if err != nil {
		return nil, nil, err
	}
	items, err := p.ParseTagSoup(resp.Text())
	return items, resp, err
}

// ParseTagSoup extracts items from a malformed RSS or Atom document.
func (p *Parser) ParseTagSoup(text string) ([]news.RawItem, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(PrepareTagSoup(text)))
	if err != nil {
		return nil, fmt.Errorf("parse markup: %w", err)
	}

	nodes := doc.Find("item")
	if nodes.Length() == 0 {
		nodes = doc.Find("entry")
	}

	var items []news.RawItem
	nodes.Each(func(_ int, s *goquery.Selection) {
		raw := news.RawItem{
			Title:       cleanText(s.Find("title").First().Text()),
			Link:        soupLink(s),
			PublishedAt: p.soupDate(s),
			RawContent:  strings.TrimSpace(firstNonEmpty(s.Find("content\\:encoded").First().Text(), s.Find("content").First().Text(), s.Find("description").First().Text(), s.Find("summary").First().Text())),
			CommentsURL: strings.TrimSpace(s.Find("comments").First().Text()),
		}
		if raw.Link == "" {
			return
		}
		items = append(items, raw)
	})
	return items, nil
}

// soupLink prefers an href attribute (Atom) over element text (RSS).
func soupLink(s *goquery.Selection) string {
	links := s.Find("feedlink")
	var href, text string
	links.EachWithBreak(func(_ int, l *goquery.Selection) bool {
		if h, ok := l.Attr("href"); ok && strings.TrimSpace(h) != "" {
			rel, _ := l.Attr("rel")
			if rel == "" || rel == "alternate" {
				href = strings.TrimSpace(h)
				return false
			}
			if href == "" {
				href = strings.TrimSpace(h)
			}
			return true
		}
		if text == "" {
			text = strings.TrimSpace(l.Text())
		}
		return true
	})
	if href != "" {
		return href
	}
	if text != "" {
		return text
	}
	guid := strings.TrimSpace(s.Find("guid").First().Text())
	if strings.HasPrefix(guid, "http://") || strings.HasPrefix(guid, "https://") {
		return guid
	}
	return ""
}

// soupDate uses the first present date field. The current time is used only
// when the element carries none of them.
func (p *Parser) soupDate(s *goquery.Selection) *time.Time {
	for _, sel := range dateSelectors {
		field := s.Find(sel).First()
		if field.Length() == 0 {
			continue
		}
		value := strings.TrimSpace(field.Text())
		if value == "" {
			continue
		}
		t := news.ParseDate(value)
		return &t
	}
	now := p.now()
	return &now
}

// DiscoverFeedURL looks for an advertised feed in an HTML page and resolves
// it against base.
func DiscoverFeedURL(page, base string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return ""
	}
	var href string
	for _, sel := range []string{`link[type="application/rss+xml"]`, `link[type="application/atom+xml"]`} {
		if h, ok := doc.Find(sel).First().Attr("href"); ok && strings.TrimSpace(h) != "" {
			href = strings.TrimSpace(h)
			break
		}
	}
	if href == "" {
		return ""
	}

	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return ref.String()
	}
	return baseURL.ResolveReference(ref).String()
}

func cleanText(s string) string {
	s = tagRe.ReplaceAllString(html.UnescapeString(s), " ")
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
