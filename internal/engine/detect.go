package engine

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// videoHosts are hosts whose URLs are treated as videos.
var videoHosts = map[string]bool{
	"youtube.com":              true,
	"www.youtube.com":          true,
	"m.youtube.com":            true,
	"music.youtube.com":        true,
	"youtu.be":                 true,
	"www.youtu.be":             true,
	"youtube-nocookie.com":     true,
	"www.youtube-nocookie.com": true,
}

// videoIDPatterns are tried in order; the first capture wins.
var videoIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`youtube(?:-nocookie)?\.com/watch\?(?:[^#]*&)?v=([\w-]+)`),
	regexp.MustCompile(`youtu\.be/([\w-]+)`),
	regexp.MustCompile(`youtube(?:-nocookie)?\.com/embed/([\w-]+)`),
	regexp.MustCompile(`youtube\.com/v/([\w-]+)`),
	regexp.MustCompile(`youtube\.com/shorts/([\w-]+)`),
	regexp.MustCompile(`youtube\.com/live/([\w-]+)`),
}

// ValidateURL requires an absolute http(s) URL with a host.
func ValidateURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, NewError(KindInvalidConfiguration, "url is required", nil)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, NewError(KindInvalidConfiguration, fmt.Sprintf("invalid url %q", raw), err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, NewError(KindInvalidConfiguration, fmt.Sprintf("url %q must use http or https", raw), nil)
	}
	if u.Host == "" {
		return nil, NewError(KindInvalidConfiguration, fmt.Sprintf("url %q has no host", raw), nil)
	}
	return u, nil
}

// ClassifyURL reports whether raw points at a video host or an ordinary page.
// Unparseable input is classified as a page; ValidateURL catches it first.
func ClassifyURL(raw string) SourceKind {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return SourcePage
	}
	if videoHosts[strings.ToLower(u.Hostname())] {
		return SourceVideo
	}
	return SourcePage
}

// ExtractVideoID returns the video ID in raw, or "" when no pattern matches.
func ExtractVideoID(raw string) string {
	for _, re := range videoIDPatterns {
		if m := re.FindStringSubmatch(raw); len(m) > 1 {
			return m[1]
		}
	}
	return ""
}
