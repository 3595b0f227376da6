package sources

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/anatolykoptev/go_tldr/internal/engine"
)

// stubProvider serves canned tracks. fetch is keyed by BaseURL; translated
// tracks get "&tlang=<lang>" appended to the source BaseURL.
type stubProvider struct {
	tracks  []CaptionTrack
	listErr error
	fetch   map[string][]Segment
	fail    map[string]error
	listed  int
	fetched []string
}

func (p *stubProvider) ListTracks(_ context.Context, videoID string) ([]CaptionTrack, error) {
	p.listed++
	if p.listErr != nil {
		return nil, p.listErr
	}
	out := make([]CaptionTrack, len(p.tracks))
	for i, t := range p.tracks {
		t.VideoID = videoID
		out[i] = t
	}
	return out, nil
}

func (p *stubProvider) Fetch(_ context.Context, t CaptionTrack) ([]Segment, error) {
	p.fetched = append(p.fetched, t.BaseURL)
	if err, ok := p.fail[t.BaseURL]; ok {
		return nil, err
	}
	segs, ok := p.fetch[t.BaseURL]
	if !ok {
		return nil, errors.New("no such track")
	}
	return segs, nil
}

func (p *stubProvider) Translate(t CaptionTrack, lang string) (CaptionTrack, error) {
	if !t.IsTranslatable {
		return CaptionTrack{}, fmt.Errorf("track %s is not translatable", t.LanguageCode)
	}
	tr := t
	tr.BaseURL = t.BaseURL + "&tlang=" + lang
	tr.LanguageCode = lang
	tr.TranslatedFrom = t.LanguageCode
	return tr, nil
}

func segs(texts ...string) []Segment {
	out := make([]Segment, len(texts))
	for i, s := range texts {
		out[i] = Segment{Text: s, Start: float64(i), Duration: 1}
	}
	return out
}

func TestResolve_PrefersEnglish(t *testing.T) {
	p := &stubProvider{
		tracks: []CaptionTrack{
			{BaseURL: "hi", LanguageCode: "hi", IsTranslatable: true},
			{BaseURL: "en-asr", LanguageCode: "en", Kind: "asr"},
			{BaseURL: "en", LanguageCode: "en", LanguageName: "English"},
		},
		fetch: map[string][]Segment{
			"en":     segs("hello", "world"),
			"en-asr": segs("auto"),
		},
	}
	tr, err := NewResolver(p).Resolve(context.Background(), "vid", nil)
	if err != nil {
		t.Fatal(err)
	}
	if tr.Text != "hello world" {
		t.Errorf("text = %q", tr.Text)
	}
	if tr.Translated || tr.Track.LanguageCode != "en" || tr.Track.IsGenerated {
		t.Errorf("unexpected track %+v translated=%v", tr.Track, tr.Translated)
	}
	if len(tr.Available) != 3 {
		t.Errorf("available = %d", len(tr.Available))
	}
	if len(p.fetched) != 1 || p.fetched[0] != "en" {
		t.Errorf("fetched = %v", p.fetched)
	}
}

func TestResolve_HindiTranslatedWhenNoEnglish(t *testing.T) {
	p := &stubProvider{
		tracks: []CaptionTrack{
			{BaseURL: "de", LanguageCode: "de", IsTranslatable: true},
			{BaseURL: "hi", LanguageCode: "hi", IsTranslatable: true},
		},
		fetch: map[string][]Segment{
			"hi&tlang=en": segs("namaste", "friends"),
			"de&tlang=en": segs("german"),
		},
	}
	tr, err := NewResolver(p).Resolve(context.Background(), "vid", nil)
	if err != nil {
		t.Fatal(err)
	}
	if tr.Text != "namaste friends" || !tr.Translated {
		t.Errorf("got %+v", tr)
	}
	if len(p.fetched) != 1 || p.fetched[0] != "hi&tlang=en" {
		t.Errorf("hindi should be tried before other languages, fetched %v", p.fetched)
	}
	if tr.Track.LanguageCode != "en" || tr.Track.TranslatedFrom != "hi" {
		t.Errorf("track = %+v", tr.Track)
	}
}

func TestResolve_OnlyHindiTrack(t *testing.T) {
	p := &stubProvider{
		tracks: []CaptionTrack{{BaseURL: "hi", LanguageCode: "hi", LanguageName: "Hindi", IsTranslatable: true}},
		fetch:  map[string][]Segment{"hi&tlang=en": segs("welcome", "back")},
	}
	tr, err := NewResolver(p).Resolve(context.Background(), "vid", nil)
	if err != nil {
		t.Fatal(err)
	}
	if tr.Text != "welcome back" || !tr.Translated || tr.Track.TranslatedFrom != "hi" {
		t.Errorf("got %+v", tr)
	}
	if len(p.fetched) != 1 {
		t.Errorf("fetched = %v, want the translated hindi track only", p.fetched)
	}
	if len(tr.Attempts) != 0 {
		t.Errorf("attempts = %+v", tr.Attempts)
	}
}

func TestResolve_FallsThroughToAnyTrack(t *testing.T) {
	p := &stubProvider{
		tracks: []CaptionTrack{
			{BaseURL: "en", LanguageCode: "en"},
			{BaseURL: "hi", LanguageCode: "hi"}, // not translatable
			{BaseURL: "fr", LanguageCode: "fr", IsTranslatable: true},
			{BaseURL: "es", LanguageCode: "es", IsTranslatable: true},
		},
		fail: map[string]error{"en": errors.New("403")},
		fetch: map[string][]Segment{
			"es&tlang=en": segs("spanish"),
		},
	}
	var events []engine.ProgressEvent
	progress := engine.ProgressFunc(func(e engine.ProgressEvent) { events = append(events, e) })

	tr, err := NewResolver(p).Resolve(context.Background(), "vid", progress)
	if err != nil {
		t.Fatal(err)
	}
	if tr.Text != "spanish" || tr.Track.LanguageCode != "en" {
		t.Errorf("got %+v", tr)
	}
	// en failed, hi untranslatable, fr&tlang=en missing.
	if len(tr.Attempts) != 3 {
		t.Errorf("attempts = %+v", tr.Attempts)
	}
	want := []string{"en", "fr&tlang=en", "es&tlang=en"}
	if strings.Join(p.fetched, ",") != strings.Join(want, ",") {
		t.Errorf("fetched = %v, want %v", p.fetched, want)
	}
	var sawFailure bool
	for _, e := range events {
		if strings.Contains(e.Message, "unavailable") {
			sawFailure = true
		}
	}
	if !sawFailure {
		t.Error("expected a progress event for the failed track")
	}
}

func TestResolve_ProviderBlockedAborts(t *testing.T) {
	blocked := engine.NewError(engine.KindProviderBlocked, "captcha", nil)
	p := &stubProvider{
		tracks: []CaptionTrack{
			{BaseURL: "en", LanguageCode: "en"},
			{BaseURL: "fr", LanguageCode: "fr", IsTranslatable: true},
		},
		fail: map[string]error{"en": blocked},
		fetch: map[string][]Segment{
			"fr&tlang=en": segs("never reached"),
		},
	}
	_, err := NewResolver(p).Resolve(context.Background(), "vid", nil)
	if !errors.Is(err, engine.ErrProviderBlocked) {
		t.Fatalf("err = %v", err)
	}
	if len(p.fetched) != 1 {
		t.Errorf("resolution should stop at the block, fetched %v", p.fetched)
	}
}

func TestResolve_ListErrorsPassThrough(t *testing.T) {
	for _, kind := range []engine.Kind{engine.KindTranscriptDisabled, engine.KindTranscriptNotFound, engine.KindProviderBlocked} {
		t.Run(kind.String(), func(t *testing.T) {
			p := &stubProvider{listErr: engine.NewError(kind, "", nil)}
			_, err := NewResolver(p).Resolve(context.Background(), "vid", nil)
			if engine.KindOf(err) != kind {
				t.Errorf("kind = %v, want %v", engine.KindOf(err), kind)
			}
		})
	}

	_, err := NewResolver(&stubProvider{}).Resolve(context.Background(), "vid", nil)
	if !errors.Is(err, engine.ErrTranscriptNotFound) {
		t.Errorf("empty track list err = %v", err)
	}
}

func TestResolve_NoUsableTranscript(t *testing.T) {
	p := &stubProvider{
		tracks: []CaptionTrack{
			{BaseURL: "en", LanguageCode: "en"},
			{BaseURL: "ja", LanguageCode: "ja"},
		},
		fetch: map[string][]Segment{"en": segs("  ", "")},
	}
	_, err := NewResolver(p).Resolve(context.Background(), "vid", nil)
	if !errors.Is(err, engine.ErrNoUsableTranscript) {
		t.Fatalf("err = %v", err)
	}
	if !strings.Contains(err.Error(), "transcript is empty") || !strings.Contains(err.Error(), "not translatable") {
		t.Errorf("attempt errors missing: %v", err)
	}
}

func TestResolve_UsesCache(t *testing.T) {
	cache := engine.NewCache("", time.Hour, 10, time.Minute)
	defer cache.Close()

	p := &stubProvider{
		tracks: []CaptionTrack{{BaseURL: "en", LanguageCode: "en"}},
		fetch:  map[string][]Segment{"en": segs("cached text")},
	}
	r := NewResolver(p, WithCache(cache))
	for range 2 {
		tr, err := r.Resolve(context.Background(), "vid", nil)
		if err != nil {
			t.Fatal(err)
		}
		if tr.Text != "cached text" {
			t.Errorf("text = %q", tr.Text)
		}
	}
	if p.listed != 1 {
		t.Errorf("provider listed %d times, want 1", p.listed)
	}
}

func TestJoinSegments_SortsByStart(t *testing.T) {
	got := joinSegments([]Segment{
		{Text: "second", Start: 2},
		{Text: " first ", Start: 1},
		{Text: "", Start: 3},
	})
	if got != "first second" {
		t.Errorf("got %q", got)
	}
}

func TestFirstTrack_PrefersManual(t *testing.T) {
	tracks := []CaptionTrack{
		{BaseURL: "asr", LanguageCode: "en", Kind: "asr"},
		{BaseURL: "gb", LanguageCode: "en-GB"},
	}
	got, ok := firstTrack(tracks, "en")
	if !ok || got.BaseURL != "gb" {
		t.Errorf("got %+v ok=%v", got, ok)
	}
	if _, ok := firstTrack(tracks, "hi"); ok {
		t.Error("no hindi track expected")
	}
}
