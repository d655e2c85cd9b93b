package scraper

import (
	"mime"
	"net/url"
	"path"
	"strings"

	"github.com/deusflow/newsroom/internal/news"
)

// Classification is the verdict of the URL heuristics.
type Classification struct {
	Skip      bool
	MediaType string
}

// Hosts that only serve media, keyed by the family they belong to.
var mediaDomains = map[string]string{
	"youtu.be":           news.MediaVideo,
	"vimeo.com":          news.MediaVideo,
	"dailymotion.com":    news.MediaVideo,
	"twitch.tv":          news.MediaVideo,
	"tiktok.com":         news.MediaVideo,
	"streamable.com":     news.MediaVideo,
	"v.redd.it":          news.MediaVideo,
	"soundcloud.com":     news.MediaAudio,
	"open.spotify.com":   news.MediaAudio,
	"music.apple.com":    news.MediaAudio,
	"podcasts.apple.com": news.MediaAudio,
	"anchor.fm":          news.MediaAudio,
	"deezer.com":         news.MediaAudio,
	"imgur.com":          news.MediaImage,
	"i.redd.it":          news.MediaImage,
	"flickr.com":         news.MediaImage,
	"giphy.com":          news.MediaImage,
	"instagram.com":      news.MediaImage,
	"pinterest.com":      news.MediaImage,
	"docs.google.com":    news.MediaDocument,
	"drive.google.com":   news.MediaDocument,
	"scribd.com":         news.MediaDocument,
	"slideshare.net":     news.MediaDocument,
}

// Hosts that serve both pages and players; only watch URLs are video.
var videoHosts = []string{"youtube.com", "youtube-nocookie.com", "music.youtube.com"}

var mediaExtensions = map[string]string{
	".jpg": news.MediaImage, ".jpeg": news.MediaImage, ".png": news.MediaImage, ".gif": news.MediaImage,
	".webp": news.MediaImage, ".svg": news.MediaImage, ".bmp": news.MediaImage, ".tiff": news.MediaImage,
	".avif": news.MediaImage, ".heic": news.MediaImage,
	".mp4": news.MediaVideo, ".avi": news.MediaVideo, ".mkv": news.MediaVideo, ".mov": news.MediaVideo,
	".wmv": news.MediaVideo, ".flv": news.MediaVideo, ".webm": news.MediaVideo, ".m4v": news.MediaVideo,
	".mpeg": news.MediaVideo, ".mpg": news.MediaVideo, ".m3u8": news.MediaVideo,
	".mp3": news.MediaAudio, ".wav": news.MediaAudio, ".ogg": news.MediaAudio, ".flac": news.MediaAudio,
	".aac": news.MediaAudio, ".m4a": news.MediaAudio, ".wma": news.MediaAudio, ".opus": news.MediaAudio,
	".aiff": news.MediaAudio,
	".pdf": news.MediaDocument, ".doc": news.MediaDocument, ".docx": news.MediaDocument, ".ppt": news.MediaDocument,
	".pptx": news.MediaDocument, ".xls": news.MediaDocument, ".xlsx": news.MediaDocument, ".epub": news.MediaDocument,
	".zip": news.MediaArchive, ".rar": news.MediaArchive, ".7z": news.MediaArchive, ".tar": news.MediaArchive,
	".gz": news.MediaArchive, ".tgz": news.MediaArchive,
}

// IsNonTextContent classifies a URL without touching the network. Checks run
// in order: media host, file extension, watch parameter on a video host.
func IsNonTextContent(rawURL string) Classification {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return Classification{}
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	host = strings.TrimPrefix(host, "m.")

	for domain, family := range mediaDomains {
		if hostMatches(host, domain) {
			return Classification{Skip: true, MediaType: family}
		}
	}

	if family, ok := mediaExtensions[strings.ToLower(path.Ext(u.Path))]; ok {
		return Classification{Skip: true, MediaType: family}
	}

	for _, vh := range videoHosts {
		if !hostMatches(host, vh) {
			continue
		}
		if u.Query().Get("v") != "" || strings.HasPrefix(u.Path, "/shorts/") || strings.HasPrefix(u.Path, "/embed/") {
			return Classification{Skip: true, MediaType: news.MediaVideo}
		}
	}

	return Classification{}
}

// ClassifyMIME maps binary content types to a media family.
func ClassifyMIME(contentType string) (string, bool) {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	}
	switch {
	case strings.HasPrefix(mt, "image/"):
		return news.MediaImage, true
	case strings.HasPrefix(mt, "video/"):
		return news.MediaVideo, true
	case strings.HasPrefix(mt, "audio/"):
		return news.MediaAudio, true
	case mt == "application/pdf":
		return news.MediaDocument, true
	case archiveMIME[mt]:
		return news.MediaArchive, true
	}
	return "", false
}

var archiveMIME = map[string]bool{
	"application/zip":              true,
	"application/x-zip-compressed": true,
	"application/vnd.rar":          true,
	"application/x-rar":            true,
	"application/x-rar-compressed": true,
	"application/x-7z-compressed":  true,
	"application/gzip":             true,
}

func hostMatches(host, domain string) bool {
	return host == domain || strings.HasSuffix(host, "."+domain)
}

// RewriteURL points the one known aggregator at its lightweight mirror,
// which serves the post body without client-side rendering.
func RewriteURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	switch strings.ToLower(u.Hostname()) {
	case "reddit.com", "www.reddit.com", "new.reddit.com":
		u.Host = "old.reddit.com"
		return u.String()
	}
	return rawURL
}
