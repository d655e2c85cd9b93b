package news

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
)

// CanonicalLink normalizes a link for deduplication: lower-case host without
// "www.", no fragment, no trailing slash, common tracking parameters removed.
func CanonicalLink(link string) string {
	link = strings.TrimSpace(link)
	u, err := url.Parse(link)
	if err != nil || u.Host == "" {
		return strings.ToLower(link)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme == "http" {
		u.Scheme = "https"
	}
	u.Host = strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	u.Fragment = ""

	q := u.Query()
	for key := range q {
		lk := strings.ToLower(key)
		if strings.HasPrefix(lk, "utm_") || lk == "fbclid" || lk == "gclid" {
			q.Del(key)
		}
	}
	u.RawQuery = q.Encode()
	u.Path = strings.TrimSuffix(u.Path, "/")

	return u.String()
}

// ItemID is a stable 16 hex character identifier derived from the canonical
// link, or from the normalized title when the link is missing.
func ItemID(link, title string) string {
	key := CanonicalLink(link)
	if key == "" {
		key = "title:" + strings.ToLower(strings.Join(strings.Fields(title), " "))
	}
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])[:16]
}

// DedupeByLink keeps the first occurrence of every canonical link and
// returns the number of dropped duplicates.
func DedupeByLink(items []RawItem, seen map[string]bool) ([]RawItem, int) {
	if seen == nil {
		seen = make(map[string]bool)
	}
	out := make([]RawItem, 0, len(items))
	dropped := 0
	for _, it := range items {
		key := CanonicalLink(it.Link)
		if key == "" {
			out = append(out, it)
			continue
		}
		if seen[key] {
			dropped++
			continue
		}
		seen[key] = true
		out = append(out, it)
	}
	return out, dropped
}

// Domain returns the host of link without "www.", or "unknown".
func Domain(link string) string {
	u, err := url.Parse(strings.TrimSpace(link))
	if err != nil || u.Host == "" {
		return "unknown"
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}
