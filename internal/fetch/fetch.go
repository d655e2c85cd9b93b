// Package fetch retrieves raw bytes over HTTP with a browser-like user agent
// and decodes them to UTF-8 without assuming the source encoding.
package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"regexp"
	"strings"
	"time"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
)

// UserAgent is sent on every request; several publishers reject generic bots.
const UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

const maxBodyBytes = 10 << 20

type Client struct {
	http    *http.Client
	timeout time.Duration
}

// New returns a client whose requests are bounded by timeout.
func New(timeout time.Duration) *Client {
	return &Client{
		http: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
		timeout: timeout,
	}
}

type Response struct {
	URL         string // final URL after redirects
	StatusCode  int
	ContentType string
	Body        []byte
}

// Get fetches url. Non-2xx responses are returned as errors.
func (c *Client) Get(ctx context.Context, url string) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,application/rss+xml,application/atom+xml,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}

	return &Response{
		URL:         resp.Request.URL.String(),
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}

// Text decodes the body using DecodeBody.
func (r *Response) Text() string {
	text, _ := DecodeBody(r.Body, r.ContentType)
	return text
}

var (
	xmlDeclRe     = regexp.MustCompile(`(?i)^\s*<\?xml[^>]*?encoding\s*=\s*["']([^"']+)["']`)
	xmlDeclEncRe  = regexp.MustCompile(`(?i)(<\?xml[^>]*?encoding\s*=\s*["'])[^"']+(["'])`)
	metaCharsetRe = regexp.MustCompile(`(?i)<meta[^>]+charset\s*=\s*["']?([a-z0-9_\-:.]+)`)
)

// DetectCharset picks the charset label for body: a byte order mark, then the
// XML declaration, then the Content-Type charset, then an HTML meta tag,
// then utf-8.
func DetectCharset(body []byte, contentType string) string {
	switch {
	case bytes.HasPrefix(body, []byte{0xEF, 0xBB, 0xBF}):
		return "utf-8"
	case bytes.HasPrefix(body, []byte{0xFF, 0xFE}):
		return "utf-16le"
	case bytes.HasPrefix(body, []byte{0xFE, 0xFF}):
		return "utf-16be"
	}

	head := body
	if len(head) > 1024 {
		head = head[:1024]
	}
	if m := xmlDeclRe.FindSubmatch(head); m != nil {
		return strings.ToLower(strings.TrimSpace(string(m[1])))
	}

	if contentType != "" {
		if _, params, err := mime.ParseMediaType(contentType); err == nil {
			if cs := params["charset"]; cs != "" {
				return strings.ToLower(strings.TrimSpace(cs))
			}
		}
	}

	if m := metaCharsetRe.FindSubmatch(head); m != nil {
		return strings.ToLower(string(m[1]))
	}
	return "utf-8"
}

// Lookup maps a charset label to a decoder. A nil encoding means the bytes
// are already UTF-8 compatible.
func Lookup(label string) (encoding.Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "", "utf-8", "utf8", "ascii", "us-ascii":
		return nil, nil
	case "latin1", "latin-1", "iso-8859-1", "iso8859-1", "l1":
		return charmap.ISO8859_1, nil
	case "windows-1252", "cp1252":
		return charmap.Windows1252, nil
	case "ucs2", "ucs-2", "utf-16le", "utf16le", "utf-16":
		return unicode.UTF16(unicode.LittleEndian, unicode.UseBOM), nil
	case "utf-16be", "utf16be":
		return unicode.UTF16(unicode.BigEndian, unicode.UseBOM), nil
	}
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, fmt.Errorf("unknown charset %q: %w", label, err)
	}
	return enc, nil
}

// DecodeBody converts body to UTF-8 and reports the charset it used. Any
// decoding problem degrades to a lossy UTF-8 reading instead of an error.
// An XML declaration in the result is rewritten to announce utf-8 so that
// downstream parsers do not decode a second time.
func DecodeBody(body []byte, contentType string) (string, string) {
	label := DetectCharset(body, contentType)

	text, ok := decodeWith(body, label)
	if !ok {
		label = "utf-8"
		text = strings.ToValidUTF8(string(bytes.TrimPrefix(body, []byte{0xEF, 0xBB, 0xBF})), "�")
	}

	if label != "utf-8" {
		text = xmlDeclEncRe.ReplaceAllString(text, "${1}utf-8${2}")
	}
	return text, label
}

func decodeWith(body []byte, label string) (string, bool) {
	enc, err := Lookup(label)
	if err != nil {
		return "", false
	}
	if enc == nil {
		return strings.ToValidUTF8(string(bytes.TrimPrefix(body, []byte{0xEF, 0xBB, 0xBF})), "�"), true
	}
	out, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		return "", false
	}
	return string(out), true
}
