package sources

// YouTube transcript support is split across files by responsibility:
//   youtube.go            caption track model and the CaptionProvider contract
//   youtube_innertube.go  Innertube/watch-page types, constants, and HTTP primitives
//   youtube_transcript.go YouTube CaptionProvider (list, fetch, translate)
//   resolver.go           language fallback policy on top of any CaptionProvider

import (
	"context"
	"strings"

	"github.com/anatolykoptev/go_tldr/internal/engine"
)

// CaptionTrack is one caption track of a video, possibly a translation of another.
type CaptionTrack struct {
	VideoID        string `json:"video_id"`
	BaseURL        string `json:"base_url"`
	LanguageCode   string `json:"language_code"`
	LanguageName   string `json:"language_name"`
	Kind           string `json:"kind,omitempty"` // "asr" = auto-generated
	IsTranslatable bool   `json:"is_translatable"`
	TranslatedFrom string `json:"translated_from,omitempty"`
}

// IsGenerated reports whether the track is speech-recognised rather than uploaded.
func (t CaptionTrack) IsGenerated() bool { return t.Kind == "asr" }

// IsEnglish matches "en" and regional variants like "en-GB".
func (t CaptionTrack) IsEnglish() bool { return isLang(t.LanguageCode, "en") }

// Option converts the track to the public language option shape.
func (t CaptionTrack) Option() engine.TranscriptLanguageOption {
	return engine.TranscriptLanguageOption{
		LanguageName:   t.LanguageName,
		LanguageCode:   t.LanguageCode,
		IsGenerated:    t.IsGenerated(),
		IsTranslatable: t.IsTranslatable,
		TranslatedFrom: t.TranslatedFrom,
	}
}

func isLang(code, lang string) bool {
	code = strings.ToLower(code)
	return code == lang || strings.HasPrefix(code, lang+"-")
}

// Segment is one timed caption line. Start and Duration are in seconds.
type Segment struct {
	Text     string  `json:"text"`
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
}

// CaptionProvider lists, fetches and machine-translates caption tracks.
//
// ListTracks returns engine errors of kind TranscriptDisabled,
// TranscriptNotFound or ProviderBlocked when it can tell them apart.
type CaptionProvider interface {
	ListTracks(ctx context.Context, videoID string) ([]CaptionTrack, error)
	Fetch(ctx context.Context, track CaptionTrack) ([]Segment, error)
	Translate(track CaptionTrack, lang string) (CaptionTrack, error)
}
