package sources

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/anatolykoptev/go_tldr/internal/engine"
	"golang.org/x/net/publicsuffix"
)

// YouTube is the CaptionProvider backed by youtube.com.
// Track listing: watch page ytInitialPlayerResponse first, ANDROID /player second.
type YouTube struct {
	client  *http.Client
	baseURL string
	retry   engine.RetryConfig
}

// YouTubeOption configures a YouTube provider.
type YouTubeOption func(*YouTube)

// WithHTTPClient replaces the default cookie-jar client.
func WithHTTPClient(c *http.Client) YouTubeOption {
	return func(y *YouTube) { y.client = c }
}

// WithBaseURL points the provider at another host (tests, mirrors).
func WithBaseURL(base string) YouTubeOption {
	return func(y *YouTube) { y.baseURL = strings.TrimRight(base, "/") }
}

// WithRetryConfig overrides the HTTP retry policy.
func WithRetryConfig(rc engine.RetryConfig) YouTubeOption {
	return func(y *YouTube) { y.retry = rc }
}

// NewYouTube builds a provider whose client keeps cookies per registrable domain,
// so the consent cookie set on the watch page is reused for timedtext calls.
func NewYouTube(opts ...YouTubeOption) *YouTube {
	jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	y := &YouTube{
		client:  &http.Client{Timeout: 20 * time.Second, Jar: jar},
		baseURL: ytBaseURL,
		retry:   engine.DefaultRetryConfig,
	}
	for _, o := range opts {
		o(y)
	}
	return y
}

// ListTracks returns every caption track of the video in YouTube's order.
func (y *YouTube) ListTracks(ctx context.Context, videoID string) ([]CaptionTrack, error) {
	engine.IncrYouTubeTranscript()

	tracks, pageErr := y.listFromWatchPage(ctx, videoID)
	if pageErr == nil {
		return tracks, nil
	}
	if errors.Is(pageErr, engine.ErrProviderBlocked) {
		return nil, pageErr
	}
	slog.Warn("youtube: watch page listing failed, trying player",
		slog.String("id", videoID), slog.Any("error", pageErr))

	tracks, playerErr := y.listFromPlayer(ctx, videoID)
	if playerErr == nil {
		return tracks, nil
	}
	if errors.Is(playerErr, engine.ErrProviderBlocked) {
		return nil, playerErr
	}
	// Prefer a classified verdict over transport noise.
	for _, err := range []error{pageErr, playerErr} {
		if engine.KindOf(err) != engine.KindUnknown {
			return nil, err
		}
	}
	return nil, engine.NewError(engine.KindTranscriptNotFound, "could not list caption tracks for "+videoID,
		errors.Join(pageErr, playerErr))
}

func (y *YouTube) listFromWatchPage(ctx context.Context, videoID string) ([]CaptionTrack, error) {
	watchURL := y.baseURL + "/watch?v=" + url.QueryEscape(videoID)

	resp, err := engine.RetryHTTP(ctx, y.retry, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, watchURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", engine.RandomUserAgent())
		req.Header.Set("Accept-Language", "en-US,en;q=0.9")
		req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		req.Header.Set("Cookie", ytConsentCookie)
		return y.client.Do(req)
	})
	if err != nil {
		return nil, classifyTransportErr(videoID, "watch page", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, blocked(videoID, "watch page returned 429")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("watch page: HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 6*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("read watch page: %w", err)
	}
	if strings.Contains(string(body), ytRecaptchaMarker) {
		return nil, blocked(videoID, "watch page served a captcha")
	}

	idx := strings.Index(string(body), ytInitialPlayerResponseMarker)
	if idx < 0 {
		return nil, errors.New("ytInitialPlayerResponse not found in watch page")
	}
	jsonData := extractJSON(body[idx+len(ytInitialPlayerResponseMarker):])
	if jsonData == nil {
		return nil, errors.New("failed to extract ytInitialPlayerResponse JSON")
	}

	var pr playerResp
	if err := json.Unmarshal(jsonData, &pr); err != nil {
		return nil, fmt.Errorf("decode ytInitialPlayerResponse: %w", err)
	}
	return tracksFromPlayer(videoID, pr)
}

func (y *YouTube) listFromPlayer(ctx context.Context, videoID string) ([]CaptionTrack, error) {
	body, status, err := y.postPlayer(ctx, videoID)
	if err != nil {
		return nil, classifyTransportErr(videoID, "player", err)
	}
	if status == http.StatusTooManyRequests {
		return nil, blocked(videoID, "player returned 429")
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("player: HTTP %d", status)
	}
	var pr playerResp
	if err := json.Unmarshal(body, &pr); err != nil {
		return nil, fmt.Errorf("decode player: %w", err)
	}
	return tracksFromPlayer(videoID, pr)
}

// tracksFromPlayer turns a player response into tracks or a classified error.
func tracksFromPlayer(videoID string, pr playerResp) ([]CaptionTrack, error) {
	if ps := pr.PlayabilityStatus; ps != nil && ps.Status != "" && ps.Status != "OK" {
		reason := ps.Reason
		switch {
		case ps.Status == "LOGIN_REQUIRED" && strings.Contains(strings.ToLower(reason), ytBotCheckFragment):
			return nil, blocked(videoID, reason)
		case ps.Status == "ERROR", ps.Status == "UNPLAYABLE", ps.Status == "LOGIN_REQUIRED":
			return nil, engine.NewError(engine.KindTranscriptNotFound,
				fmt.Sprintf("video %s unavailable: %s", videoID, reason), nil)
		}
	}
	if pr.Captions == nil {
		return nil, engine.NewError(engine.KindTranscriptDisabled, "no captions for video "+videoID, nil)
	}
	raw := pr.Captions.PlayerCaptionsTracklistRenderer.CaptionTracks
	if len(raw) == 0 {
		return nil, engine.NewError(engine.KindTranscriptNotFound, "no caption tracks for video "+videoID, nil)
	}
	tracks := make([]CaptionTrack, 0, len(raw))
	for _, t := range raw {
		tracks = append(tracks, CaptionTrack{
			VideoID:        videoID,
			BaseURL:        fmtParamRE.ReplaceAllString(t.BaseURL, ""),
			LanguageCode:   t.LanguageCode,
			LanguageName:   t.Name.String(),
			Kind:           t.Kind,
			IsTranslatable: t.IsTranslatable,
		})
	}
	return tracks, nil
}

// fmtParamRE strips a format override so timedtext answers in its default XML.
var fmtParamRE = regexp.MustCompile(`&fmt=[^&]*`)

// needsPoToken reports whether a caption track URL requires a PoToken (browser-only).
// Tracks with &exp=xpe cannot be fetched server-side.
func needsPoToken(baseURL string) bool {
	return strings.Contains(baseURL, "&exp=xpe")
}

// Fetch downloads and parses a track's timedtext XML.
func (y *YouTube) Fetch(ctx context.Context, track CaptionTrack) ([]Segment, error) {
	if needsPoToken(track.BaseURL) {
		return nil, fmt.Errorf("track %s requires a PoToken", track.LanguageCode)
	}
	resp, err := engine.RetryHTTP(ctx, y.retry, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, track.BaseURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", engine.UserAgentChrome)
		req.Header.Set("Accept-Language", "en-US,en;q=0.9")
		return y.client.Do(req)
	})
	if err != nil {
		return nil, classifyTransportErr(track.VideoID, "timedtext", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, blocked(track.VideoID, "timedtext returned 429")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("timedtext %s: HTTP %d", track.LanguageCode, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4*1024*1024))
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, fmt.Errorf("timedtext %s: empty response", track.LanguageCode)
	}
	return parseTimedText(body)
}

// parseTimedText parses <transcript><text start dur>…</text></transcript>.
// Entities are double-escaped by YouTube, so text is unescaped once more.
func parseTimedText(body []byte) ([]Segment, error) {
	var tt ytTimedText
	if err := xml.Unmarshal(body, &tt); err != nil {
		return nil, fmt.Errorf("parse timedtext XML: %w", err)
	}
	segs := make([]Segment, 0, len(tt.Lines))
	for _, line := range tt.Lines {
		text := engine.CleanHTML(html.UnescapeString(line.Text))
		text = strings.Join(strings.Fields(text), " ")
		if text == "" {
			continue
		}
		start, _ := strconv.ParseFloat(line.Start, 64)
		dur, _ := strconv.ParseFloat(line.Dur, 64)
		segs = append(segs, Segment{Text: text, Start: start, Duration: dur})
	}
	return segs, nil
}

// Translate returns a track that YouTube machine-translates to lang.
func (y *YouTube) Translate(track CaptionTrack, lang string) (CaptionTrack, error) {
	if !track.IsTranslatable {
		return CaptionTrack{}, fmt.Errorf("track %s is not translatable", track.LanguageCode)
	}
	if needsPoToken(track.BaseURL) {
		return CaptionTrack{}, fmt.Errorf("track %s requires a PoToken", track.LanguageCode)
	}
	out := track
	out.BaseURL = track.BaseURL + "&tlang=" + url.QueryEscape(lang)
	out.LanguageCode = lang
	out.LanguageName = track.LanguageName + " (auto-translated)"
	out.TranslatedFrom = track.LanguageCode
	out.IsTranslatable = false
	return out, nil
}

func blocked(videoID, reason string) error {
	return engine.NewError(engine.KindProviderBlocked,
		fmt.Sprintf("YouTube is blocking requests from your IP (video %s: %s)", videoID, reason), nil)
}

// classifyTransportErr turns an exhausted-retry 429 into ProviderBlocked.
func classifyTransportErr(videoID, step string, err error) error {
	if engine.IsStatus(err, http.StatusTooManyRequests) {
		return blocked(videoID, step+" rate limited")
	}
	return fmt.Errorf("%s: %w", step, err)
}
