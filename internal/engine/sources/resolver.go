package sources

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/anatolykoptev/go_tldr/internal/engine"
)

// Transcript is the English text resolved for a video and where it came from.
type Transcript struct {
	VideoID    string                            `json:"video_id"`
	Text       string                            `json:"text"`
	Track      engine.TranscriptLanguageOption   `json:"track"`
	Translated bool                              `json:"translated"`
	Available  []engine.TranscriptLanguageOption `json:"available,omitempty"`
	Attempts   []Attempt                         `json:"attempts,omitempty"`
}

// Attempt records one track that was tried and failed.
type Attempt struct {
	Step     string `json:"step"`
	Language string `json:"language"`
	Error    string `json:"error"`
}

// Resolver picks a usable English transcript: an English track, then a Hindi
// track translated to English, then every track in provider order.
type Resolver struct {
	provider CaptionProvider
	cache    *engine.Cache
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithCache stores resolved transcripts per video ID.
func WithCache(c *engine.Cache) ResolverOption {
	return func(r *Resolver) { r.cache = c }
}

func NewResolver(provider CaptionProvider, opts ...ResolverOption) *Resolver {
	r := &Resolver{provider: provider}
	for _, o := range opts {
		o(r)
	}
	return r
}

type stepOutcome int

const (
	stepSkipped stepOutcome = iota // no candidate track for this step
	stepFailed                     // candidates existed, none produced text
	stepFound
)

// stepResult is the tagged result of one fallback step.
type stepResult struct {
	outcome    stepOutcome
	text       string
	track      CaptionTrack
	translated bool
	err        error // set only for stepFailed; ProviderBlocked aborts resolution
}

type resolveStep struct {
	name string
	run  func(ctx context.Context, rs *resolveState) stepResult
}

// resolveState is shared by the steps of one Resolve call.
type resolveState struct {
	tracks   []CaptionTrack
	tried    map[string]bool
	attempts []Attempt
	progress engine.ProgressFunc
}

// Resolve returns English transcript text for videoID. Per-track failures are
// recorded and skipped; a provider block aborts at once.
func (r *Resolver) Resolve(ctx context.Context, videoID string, progress engine.ProgressFunc) (*Transcript, error) {
	key := engine.CacheKey("transcript", videoID)
	if t, ok := engine.CacheLoadJSON[Transcript](ctx, r.cache, key); ok {
		progress.Emit(engine.StageTranscript, "Using cached transcript", 30)
		return &t, nil
	}

	progress.Emit(engine.StageTranscript, "Listing available transcripts", 15)
	tracks, err := r.provider.ListTracks(ctx, videoID)
	if err != nil {
		return nil, err
	}
	if len(tracks) == 0 {
		return nil, engine.NewError(engine.KindTranscriptNotFound, "no caption tracks for video "+videoID, nil)
	}
	progress.Emit(engine.StageTranscript, fmt.Sprintf("Found %d transcript tracks", len(tracks)), 20)

	rs := &resolveState{tracks: tracks, tried: make(map[string]bool), progress: progress}
	for _, step := range r.steps() {
		res := step.run(ctx, rs)
		switch res.outcome {
		case stepSkipped:
			continue
		case stepFailed:
			if errors.Is(res.err, engine.ErrProviderBlocked) {
				return nil, res.err
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		case stepFound:
			t := &Transcript{
				VideoID:    videoID,
				Text:       res.text,
				Track:      res.track.Option(),
				Translated: res.translated,
				Available:  options(tracks),
				Attempts:   rs.attempts,
			}
			progress.Emit(engine.StageTranscript,
				fmt.Sprintf("Transcript ready (%s via %s step)", res.track.LanguageCode, step.name), 30)
			engine.CacheStoreJSON(ctx, r.cache, key, t)
			return t, nil
		}
	}

	msg := fmt.Sprintf("tried %d tracks for video %s", len(rs.attempts), videoID)
	return nil, engine.NewError(engine.KindNoUsableTranscript, msg, attemptsErr(rs.attempts))
}

// steps is the ordered fallback policy.
func (r *Resolver) steps() []resolveStep {
	return []resolveStep{
		{name: "english", run: r.englishStep},
		{name: "hindi", run: r.hindiStep},
		{name: "any", run: r.anyStep},
	}
}

func (r *Resolver) englishStep(ctx context.Context, rs *resolveState) stepResult {
	t, ok := firstTrack(rs.tracks, "en")
	if !ok {
		return stepResult{outcome: stepSkipped}
	}
	rs.progress.Emit(engine.StageTranscript, "Fetching English transcript", 22)
	return r.try(ctx, rs, "english", t, "")
}

func (r *Resolver) hindiStep(ctx context.Context, rs *resolveState) stepResult {
	t, ok := firstTrack(rs.tracks, "hi")
	if !ok {
		return stepResult{outcome: stepSkipped}
	}
	rs.progress.Emit(engine.StageTranscript, "Translating Hindi transcript to English", 25)
	return r.try(ctx, rs, "hindi", t, "en")
}

func (r *Resolver) anyStep(ctx context.Context, rs *resolveState) stepResult {
	var last stepResult
	last.outcome = stepSkipped
	for _, t := range rs.tracks {
		lang := "en"
		if t.IsEnglish() {
			lang = ""
		}
		if rs.tried[trackKey(t, lang)] {
			continue
		}
		rs.progress.Emit(engine.StageTranscript, fmt.Sprintf("Trying %s transcript", describe(t)), 27)
		res := r.try(ctx, rs, "any", t, lang)
		if res.outcome == stepFound || errors.Is(res.err, engine.ErrProviderBlocked) || ctx.Err() != nil {
			return res
		}
		last = res
	}
	return last
}

// try fetches t, translating to lang first when lang is non-empty.
func (r *Resolver) try(ctx context.Context, rs *resolveState, step string, t CaptionTrack, lang string) stepResult {
	rs.tried[trackKey(t, lang)] = true
	fail := func(err error) stepResult {
		rs.attempts = append(rs.attempts, Attempt{Step: step, Language: t.LanguageCode, Error: err.Error()})
		slog.Warn("transcript: track failed",
			slog.String("video", t.VideoID), slog.String("step", step),
			slog.String("lang", t.LanguageCode), slog.Any("error", err))
		rs.progress.Emit(engine.StageTranscript, fmt.Sprintf("%s transcript unavailable: %v", describe(t), err), 25)
		return stepResult{outcome: stepFailed, err: err}
	}

	target := t
	if lang != "" {
		tr, err := r.provider.Translate(t, lang)
		if err != nil {
			return fail(err)
		}
		target = tr
	}
	segs, err := r.provider.Fetch(ctx, target)
	if err != nil {
		return fail(err)
	}
	text := joinSegments(segs)
	if text == "" {
		return fail(errors.New("transcript is empty"))
	}
	return stepResult{outcome: stepFound, text: text, track: target, translated: lang != ""}
}

// firstTrack returns the first track in lang, preferring uploaded over generated.
func firstTrack(tracks []CaptionTrack, lang string) (CaptionTrack, bool) {
	for _, generated := range []bool{false, true} {
		for _, t := range tracks {
			if isLang(t.LanguageCode, lang) && t.IsGenerated() == generated {
				return t, true
			}
		}
	}
	return CaptionTrack{}, false
}

// joinSegments joins segment texts with single spaces in time order.
func joinSegments(segs []Segment) string {
	sorted := append([]Segment(nil), segs...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })
	parts := make([]string, 0, len(sorted))
	for _, s := range sorted {
		if txt := strings.TrimSpace(s.Text); txt != "" {
			parts = append(parts, txt)
		}
	}
	return strings.Join(parts, " ")
}

func trackKey(t CaptionTrack, lang string) string {
	return t.LanguageCode + "|" + t.Kind + "|" + t.BaseURL + "|" + lang
}

func describe(t CaptionTrack) string {
	if t.LanguageName != "" {
		return fmt.Sprintf("%s (%s)", t.LanguageName, t.LanguageCode)
	}
	return t.LanguageCode
}

func options(tracks []CaptionTrack) []engine.TranscriptLanguageOption {
	out := make([]engine.TranscriptLanguageOption, len(tracks))
	for i, t := range tracks {
		out[i] = t.Option()
	}
	return out
}

func attemptsErr(attempts []Attempt) error {
	if len(attempts) == 0 {
		return errors.New("no track could be fetched")
	}
	errs := make([]error, len(attempts))
	for i, a := range attempts {
		errs[i] = fmt.Errorf("%s/%s: %s", a.Step, a.Language, a.Error)
	}
	return errors.Join(errs...)
}
