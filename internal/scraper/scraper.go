// Package scraper fetches article pages and decides whether they carry
// readable text or are media pages that should not be summarized.
package scraper

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"

	"github.com/deusflow/newsroom/internal/cache"
	"github.com/deusflow/newsroom/internal/fetch"
	"github.com/deusflow/newsroom/internal/logger"
	"github.com/deusflow/newsroom/internal/news"
)

type Kind int

const (
	OK Kind = iota
	Skipped
	Failed
)

func (k Kind) String() string {
	switch k {
	case OK:
		return "ok"
	case Skipped:
		return "skipped"
	default:
		return "failed"
	}
}

// Result is the outcome of one extraction. Content is set only for OK,
// SkipReason and MediaType only for Skipped, Err only for Failed.
type Result struct {
	Kind       Kind
	Content    string
	SkipReason string
	MediaType  string
	MediaURL   string
	Err        error
}

const minContentChars = 50

type Extractor struct {
	client *fetch.Client
	cache  *cache.Cache
	ttl    time.Duration
}

// NewExtractor wires a page client and an optional in-run cache.
func NewExtractor(client *fetch.Client, c *cache.Cache, ttl time.Duration) *Extractor {
	return &Extractor{client: client, cache: c, ttl: ttl}
}

// Extract never panics or returns an error; failures are reported in Result.
func (e *Extractor) Extract(ctx context.Context, pageURL string) Result {
	if c := IsNonTextContent(pageURL); c.Skip {
		return Result{Kind: Skipped, SkipReason: "media url", MediaType: c.MediaType, MediaURL: pageURL}
	}

	key := cache.Key("extract", news.CanonicalLink(pageURL))
	if e.cache != nil {
		if v, ok := e.cache.Get(key); ok {
			return v.(Result)
		}
	}

	res := e.extract(ctx, pageURL)
	if e.cache != nil && res.Kind != Failed {
		e.cache.Set(key, res, e.ttl)
	}
	return res
}

func (e *Extractor) extract(ctx context.Context, pageURL string) Result {
	target := RewriteURL(pageURL)
	resp, err := e.client.Get(ctx, target)
	if err != nil {
		logger.Warn("page fetch failed", "url", target, "error", err)
		return Result{Kind: Failed, Err: err}
	}

	if family, ok := ClassifyMIME(resp.ContentType); ok {
		return Result{Kind: Skipped, SkipReason: "binary content type " + resp.ContentType, MediaType: family, MediaURL: pageURL}
	}

	res, err := Analyze(resp.Text(), resp.URL, pageURL)
	if err != nil {
		logger.Warn("page parse failed", "url", target, "error", err)
		return Result{Kind: Skipped, SkipReason: "unparseable page", MediaType: news.MediaUnknown, MediaURL: pageURL}
	}
	return res
}

// Analyze applies the density heuristics and, when the page looks textual,
// extracts its main text. base resolves relative media URLs; original is
// reported as the media URL when nothing better is available.
func Analyze(page, base, original string) (Result, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return Result{}, fmt.Errorf("parse html: %w", err)
	}
	baseURL, _ := url.Parse(base)

	visible := doc.Find("body").Clone()
	visible.Find("script, style, noscript, template").Remove()
	textLen := utf8.RuneCountInString(collapse(visible.Text()))

	if res, ok := classifyDensity(doc, baseURL, original, textLen); ok {
		return res, nil
	}

	content := mainText(doc, page)
	return validate(content, original), nil
}

func classifyDensity(doc *goquery.Document, base *url.URL, original string, textLen int) (Result, bool) {
	players := doc.Find(`iframe[src*="youtube.com"], iframe[src*="youtube-nocookie.com"], iframe[src*="youtu.be"], iframe[src*="vimeo.com"]`)
	if players.Length() > 0 && textLen < 1000 {
		mediaURL := original
		if src, ok := players.First().Attr("src"); ok {
			if abs := resolve(base, src); abs != "" {
				mediaURL = abs
			}
		}
		return Result{Kind: Skipped, SkipReason: "video embed page", MediaType: news.MediaVideo, MediaURL: mediaURL}, true
	}

	embeds := doc.Find("iframe").Length() + doc.Find("video").Length()
	if embeds > 0 {
		threshold := 500
		if embeds*200 > threshold {
			threshold = embeds * 200
		}
		if textLen < threshold {
			mediaURL := original
			if src := firstSrc(doc.Find("video, video source, iframe"), base); src != "" {
				mediaURL = src
			}
			return Result{Kind: Skipped, SkipReason: "embed-heavy page", MediaType: news.MediaVideo, MediaURL: mediaURL}, true
		}
	}

	images := doc.Find("img")
	if images.Length() > 5 && textLen < 1000 {
		mediaURL := firstSrc(images, base)
		if mediaURL == "" {
			mediaURL = original
		}
		return Result{Kind: Skipped, SkipReason: "image gallery", MediaType: news.MediaImage, MediaURL: mediaURL}, true
	}

	audio := doc.Find("audio")
	if audio.Length() > 0 && textLen < 800 {
		mediaURL := firstSrc(doc.Find("audio, audio source"), base)
		if mediaURL == "" {
			mediaURL = original
		}
		return Result{Kind: Skipped, SkipReason: "audio embed page", MediaType: news.MediaAudio, MediaURL: mediaURL}, true
	}

	return Result{}, false
}

// Containers tried in order; the first one with text wins.
var containerSelectors = []string{
	"article",
	"[role=main]",
	".article-body",
	".article-content",
	".post-content",
	".entry-content",
	".story-body",
	".dre-article-body",
	"#content",
	".content",
	"main",
}

func mainText(doc *goquery.Document, page string) string {
	doc.Find("script, style, noscript, nav, header, footer, aside, iframe, form").Remove()

	for _, sel := range containerSelectors {
		node := doc.Find(sel).First()
		if node.Length() == 0 {
			continue
		}
		if text := blockText(node); text != "" {
			return text
		}
	}

	if article, err := readability.FromReader(strings.NewReader(page), nil); err == nil {
		if text := strings.TrimSpace(article.TextContent); text != "" {
			return cleanContent(text)
		}
	}

	return blockText(doc.Find("body"))
}

// blockText joins paragraph-level blocks, falling back to the node's text.
func blockText(node *goquery.Selection) string {
	var paragraphs []string
	node.Find("p, h2, h3, li, blockquote, pre").Each(func(_ int, s *goquery.Selection) {
		if s.ParentsFiltered("p, li, blockquote").Length() > 0 {
			return
		}
		text := collapse(s.Text())
		if len(text) > 10 {
			paragraphs = append(paragraphs, text)
		}
	})
	joined := strings.Join(paragraphs, "\n\n")
	if utf8.RuneCountInString(joined) >= minContentChars {
		return joined
	}
	return cleanContent(node.Text())
}

// validate turns thin content into a skip.
func validate(content, original string) Result {
	content = strings.TrimSpace(content)
	if utf8.RuneCountInString(content) < minContentChars {
		return Result{Kind: Skipped, SkipReason: "insufficient content", MediaType: news.MediaUnknown, MediaURL: original}
	}
	meaningful := 0
	for _, r := range content {
		if !unicode.IsSpace(r) && !unicode.IsPunct(r) && !unicode.IsSymbol(r) {
			meaningful++
		}
	}
	if meaningful < minContentChars {
		return Result{Kind: Skipped, SkipReason: "insufficient content", MediaType: news.MediaUnknown, MediaURL: original}
	}
	return Result{Kind: OK, Content: content}
}

func firstSrc(sel *goquery.Selection, base *url.URL) string {
	var out string
	sel.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		for _, attr := range []string{"src", "data-src"} {
			if v, ok := s.Attr(attr); ok && strings.TrimSpace(v) != "" {
				if abs := resolve(base, v); abs != "" {
					out = abs
					return false
				}
			}
		}
		return true
	})
	return out
}

func resolve(base *url.URL, ref string) string {
	r, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return ""
	}
	if base == nil {
		if r.IsAbs() {
			return r.String()
		}
		return ""
	}
	return base.ResolveReference(r).String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// cleanContent normalizes whitespace while keeping paragraph breaks.
func cleanContent(content string) string {
	if content == "" {
		return ""
	}
	lines := strings.Split(content, "\n")
	var paragraphs []string
	for _, line := range lines {
		line = collapse(line)
		if line == "" {
			continue
		}
		paragraphs = append(paragraphs, line)
	}
	return strings.Join(paragraphs, "\n\n")
}
