package engine

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"
)

// LoadOptions are per-request fetch settings.
type LoadOptions struct {
	SSLVerify bool
	Headers   map[string]string
}

// Loader turns a webpage URL into documents.
type Loader interface {
	Load(ctx context.Context, rawURL string, opts LoadOptions) ([]Document, error)
}

// WebLoader fetches a page over HTTP (or the stealth browser client when
// configured) and extracts its readable text.
type WebLoader struct {
	timeout   time.Duration
	maxChars  int
	userAgent string
	browser   *BrowserClient
}

func NewWebLoader(cfg Config) *WebLoader {
	timeout := cfg.FetchTimeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = RandomUserAgent()
	}
	return &WebLoader{timeout: timeout, maxChars: cfg.MaxContentChars, userAgent: ua, browser: cfg.BrowserClient}
}

// DefaultLoadOptions returns options derived from cfg.
func DefaultLoadOptions(cfg Config) LoadOptions {
	return LoadOptions{SSLVerify: cfg.SSLVerify, Headers: map[string]string{"User-Agent": cfg.UserAgent}}
}

// Load returns a single Document holding the page's readable text, or no
// documents when the page has none. Fetch failures are DocumentLoadFailed.
func (l *WebLoader) Load(ctx context.Context, rawURL string, opts LoadOptions) (docs []Document, err error) {
	metrics.FetchRequests.Add(1)
	defer func() {
		if err != nil {
			metrics.FetchErrors.Add(1)
		}
	}()

	pageURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, NewError(KindDocumentLoadFailed, "invalid url", err)
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	page, err := l.fetch(ctx, rawURL, opts)
	if err != nil {
		return nil, NewError(KindDocumentLoadFailed, fmt.Sprintf("fetch %s", rawURL), err)
	}

	mediaType, _, _ := mime.ParseMediaType(page.contentType)
	var title, text string
	switch {
	case isPlainText(mediaType):
		text = strings.TrimSpace(string(page.body))
	default:
		if !utf8.Valid(page.body) {
			page.body = []byte(strings.ToValidUTF8(string(page.body), ""))
		}
		title, text = extractHTML(page.body, pageURL)
	}
	if text == "" {
		return nil, nil
	}
	if l.maxChars > 0 {
		text = TruncateRunes(text, l.maxChars, "")
	}

	meta := map[string]string{"source": rawURL}
	if title != "" {
		meta["title"] = title
	}
	if mediaType != "" {
		meta["content_type"] = mediaType
	}
	return []Document{{Content: text, Source: rawURL, Metadata: meta}}, nil
}

// useBrowser reports whether a load goes through the stealth client first.
// That client keeps its own TLS settings and timeout, so loads that disable
// certificate checks go straight to plain HTTP.
func (l *WebLoader) useBrowser(opts LoadOptions) bool {
	return l.browser != nil && opts.SSLVerify
}

// fetch prefers the stealth client and falls back to plain HTTP with retries.
func (l *WebLoader) fetch(ctx context.Context, rawURL string, opts LoadOptions) (*fetchedPage, error) {
	headers := map[string]string{"User-Agent": l.userAgent}
	maps.Copy(headers, opts.Headers)
	if headers["User-Agent"] == "" {
		headers["User-Agent"] = l.userAgent
	}

	if l.useBrowser(opts) {
		bh := ChromeHeaders()
		maps.Copy(bh, opts.Headers)
		data, _, status, err := l.browser.Do(http.MethodGet, rawURL, bh, nil)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err == nil && status == http.StatusOK && len(data) > 0 {
			return &fetchedPage{body: data, contentType: http.DetectContentType(data)}, nil
		}
		slog.Debug("loader: browser client failed, using plain HTTP",
			slog.String("url", rawURL), slog.Int("status", status), slog.Any("error", err))
	}

	return fetchWithRetry(ctx, newFetchClient(l.timeout, opts.SSLVerify), rawURL, headers)
}

func isPlainText(mediaType string) bool {
	switch mediaType {
	case "text/plain", "text/markdown", "text/x-markdown":
		return true
	}
	return false
}
