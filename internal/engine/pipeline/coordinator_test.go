package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anatolykoptev/go_tldr/internal/engine"
	"github.com/anatolykoptev/go_tldr/internal/engine/sources"
)

type fakeResolver struct {
	text  string
	err   error
	calls []string
}

func (f *fakeResolver) Resolve(_ context.Context, videoID string, progress engine.ProgressFunc) (*sources.Transcript, error) {
	f.calls = append(f.calls, videoID)
	progress.Emit(engine.StageTranscript, "Found 1 transcript tracks", 20)
	if f.err != nil {
		return nil, f.err
	}
	return &sources.Transcript{
		VideoID: videoID,
		Text:    f.text,
		Track:   engine.TranscriptLanguageOption{LanguageCode: "en", LanguageName: "English"},
	}, nil
}

type fakeLoader struct {
	docs  []engine.Document
	err   error
	calls int
	opts  engine.LoadOptions
}

func (f *fakeLoader) Load(_ context.Context, _ string, opts engine.LoadOptions) ([]engine.Document, error) {
	f.calls++
	f.opts = opts
	return f.docs, f.err
}

type fakeCompleter struct {
	mu      sync.Mutex
	prompts []string
	models  []string
	tokens  []int
	out     string
	err     error
}

func (f *fakeCompleter) Complete(_ context.Context, prompt, model string, maxTokens int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	f.models = append(f.models, model)
	f.tokens = append(f.tokens, maxTokens)
	if f.err != nil {
		return "", f.err
	}
	return f.out, nil
}

// stepClock advances two seconds per call.
func stepClock() func() time.Time {
	t := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return func() time.Time {
		t = t.Add(2 * time.Second)
		return t
	}
}

func newCoordinator(t *testing.T, r TranscriptResolver, l engine.Loader, llm engine.Completer) *Coordinator {
	t.Helper()
	c, err := New(engine.DefaultConfig(), r, l, llm, WithClock(stepClock()))
	require.NoError(t, err)
	return c
}

func collect() (*[]engine.ProgressEvent, engine.ProgressFunc) {
	var mu sync.Mutex
	events := &[]engine.ProgressEvent{}
	return events, func(e engine.ProgressEvent) {
		mu.Lock()
		*events = append(*events, e)
		mu.Unlock()
	}
}

const article = "Go makes concurrency simple. Goroutines are cheap. Channels connect them."

func TestRun_PageStuff(t *testing.T) {
	loader := &fakeLoader{docs: []engine.Document{{
		Content:  article,
		Source:   "https://go.dev/blog/x",
		Metadata: map[string]string{"title": "Concurrency"},
	}}}
	llm := &fakeCompleter{out: "Go concurrency is simple."}
	c := newCoordinator(t, &fakeResolver{}, loader, llm)
	events, progress := collect()

	res, err := c.Run(context.Background(), engine.SummaryRequest{
		URL:      "https://go.dev/blog/x",
		Strategy: "single-pass",
	}, progress)
	require.NoError(t, err)

	assert.Equal(t, engine.SourcePage, res.SourceKind)
	assert.Equal(t, "Concurrency", res.Title)
	assert.Equal(t, "Go concurrency is simple.", res.OutputText)
	assert.Equal(t, engine.StrategyStuff, res.Strategy)
	assert.Equal(t, "llama3-8b-8192", res.Model)
	assert.Equal(t, 600, res.MaxOutputTokens)
	assert.Equal(t, 1, res.ChunkCount)
	assert.Equal(t, len(article), res.CharacterCount)
	assert.Equal(t, 10, res.WordCount)
	assert.Equal(t, article, res.Preview)
	assert.Equal(t, 4, res.SummaryWordCount)
	assert.Equal(t, 1, res.CompletionCalls)
	assert.Empty(t, res.Warnings)
	assert.InDelta(t, 2.0, res.ElapsedSeconds, 0.001)
	assert.False(t, res.GeneratedAt.IsZero())

	require.Len(t, llm.prompts, 1)
	assert.Contains(t, llm.prompts[0], "BALANCED SUMMARY:")
	assert.Contains(t, llm.prompts[0], article)
	assert.Equal(t, []int{600}, llm.tokens)
	assert.True(t, loader.opts.SSLVerify)

	require.NotEmpty(t, *events)
	last := (*events)[len(*events)-1]
	assert.Equal(t, engine.StageDone, last.Stage)
	assert.Equal(t, 100, last.Percent)
	prev := 0
	for _, e := range *events {
		assert.GreaterOrEqual(t, e.Percent, prev, "percent went backwards at %q", e.Message)
		prev = e.Percent
	}
}

func TestRun_VideoMapReduce(t *testing.T) {
	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 160)
	resolver := &fakeResolver{text: strings.TrimSpace(text)}
	loader := &fakeLoader{}
	llm := &fakeCompleter{out: "partial"}
	c := newCoordinator(t, resolver, loader, llm)

	res, err := c.Run(context.Background(), engine.SummaryRequest{
		URL:             "https://youtu.be/dQw4w9WgXcQ",
		MaxOutputTokens: 300,
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"dQw4w9WgXcQ"}, resolver.calls)
	assert.Zero(t, loader.calls)
	assert.Equal(t, engine.SourceVideo, res.SourceKind)
	assert.Equal(t, engine.StrategyMapReduce, res.Strategy)
	assert.GreaterOrEqual(t, res.ChunkCount, 3)
	assert.Equal(t, res.ChunkCount+1, res.CompletionCalls)

	// Counts run over the chunks, so the overlap is counted twice.
	splitter, err := engine.NewSplitter(engine.DefaultChunkSize, engine.DefaultChunkOverlap)
	require.NoError(t, err)
	chunks, err := splitter.Split([]engine.Document{{Content: resolver.text, Source: "https://youtu.be/dQw4w9WgXcQ"}})
	require.NoError(t, err)
	var chars, words int
	for _, ch := range chunks {
		chars += utf8.RuneCountInString(ch.Content)
		words += engine.WordCount(ch.Content)
	}
	assert.Equal(t, len(chunks), res.ChunkCount)
	assert.Equal(t, chars, res.CharacterCount)
	assert.Equal(t, words, res.WordCount)
	assert.Greater(t, res.CharacterCount, len(resolver.text))
	assert.Greater(t, res.WordCount, 160*9)

	n := utf8.RuneCountInString(res.Preview)
	assert.True(t, n >= engine.PreviewChars-3 && n <= engine.PreviewChars+3, "preview has %d runes", n)
	assert.True(t, strings.HasSuffix(res.Preview, "..."))
	assert.True(t, strings.HasPrefix(res.Preview, "The quick brown fox"))

	combine := llm.prompts[len(llm.prompts)-1]
	assert.Contains(t, combine, "FINAL CONCISE SUMMARY:")
	assert.Contains(t, combine, "partial\n\npartial")
}

func TestRun_Refine(t *testing.T) {
	text := strings.Repeat("Sentence number one is here. ", 250)
	llm := &fakeCompleter{out: "running"}
	c := newCoordinator(t, &fakeResolver{}, &fakeLoader{docs: []engine.Document{{Content: text, Source: "u"}}}, llm)

	res, err := c.Run(context.Background(), engine.SummaryRequest{
		URL:             "https://example.com/a",
		Strategy:        engine.StrategyRefine,
		MaxOutputTokens: 1000,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, res.ChunkCount, res.CompletionCalls)
	assert.Contains(t, llm.prompts[0], "DETAILED SUMMARY:")
	for _, p := range llm.prompts[1:] {
		assert.True(t, strings.Contains(p, "FINAL DETAILED SUMMARY:") && strings.Contains(p, "running\n\n"))
	}
}

func TestRun_InvalidRequests(t *testing.T) {
	tests := []struct {
		name string
		req  engine.SummaryRequest
	}{
		{"empty url", engine.SummaryRequest{}},
		{"relative url", engine.SummaryRequest{URL: "example.com/page"}},
		{"unknown strategy", engine.SummaryRequest{URL: "https://example.com", Strategy: "bullet"}},
		{"model not allowed", engine.SummaryRequest{URL: "https://example.com", Model: "gpt-9"}},
		{"too many tokens", engine.SummaryRequest{URL: "https://example.com", MaxOutputTokens: 5000}},
		{"negative tokens", engine.SummaryRequest{URL: "https://example.com", MaxOutputTokens: -1}},
		{"video without id", engine.SummaryRequest{URL: "https://www.youtube.com/channel/UC123"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolver, loader, llm := &fakeResolver{}, &fakeLoader{}, &fakeCompleter{out: "x"}
			c := newCoordinator(t, resolver, loader, llm)

			_, err := c.Run(context.Background(), tt.req, nil)
			require.ErrorIs(t, err, engine.ErrInvalidConfiguration)
			assert.Empty(t, resolver.calls)
			assert.Zero(t, loader.calls)
			assert.Empty(t, llm.prompts)
		})
	}
}

func TestRun_EmptyPageIsNoContent(t *testing.T) {
	for _, docs := range [][]engine.Document{nil, {{Content: "  \n "}}} {
		llm := &fakeCompleter{out: "x"}
		c := newCoordinator(t, &fakeResolver{}, &fakeLoader{docs: docs}, llm)
		_, err := c.Run(context.Background(), engine.SummaryRequest{URL: "https://example.com"}, nil)
		require.ErrorIs(t, err, engine.ErrNoContent)
		assert.Empty(t, llm.prompts)
	}
}

func TestRun_PropagatesStageErrors(t *testing.T) {
	t.Run("provider blocked", func(t *testing.T) {
		blocked := engine.NewError(engine.KindProviderBlocked, "captcha", nil)
		llm := &fakeCompleter{out: "x"}
		c := newCoordinator(t, &fakeResolver{err: blocked}, &fakeLoader{}, llm)
		_, err := c.Run(context.Background(), engine.SummaryRequest{URL: "https://www.youtube.com/watch?v=dQw4w9WgXcQ"}, nil)
		require.ErrorIs(t, err, engine.ErrProviderBlocked)
		assert.Contains(t, engine.UserMessage(err), "Webpage summaries still work")
		assert.Empty(t, llm.prompts)
	})

	t.Run("load failed", func(t *testing.T) {
		loadErr := engine.NewError(engine.KindDocumentLoadFailed, "fetch", errors.New("status 404"))
		c := newCoordinator(t, &fakeResolver{}, &fakeLoader{err: loadErr}, &fakeCompleter{out: "x"})
		_, err := c.Run(context.Background(), engine.SummaryRequest{URL: "https://example.com"}, nil)
		require.ErrorIs(t, err, engine.ErrDocumentLoadFailed)
	})

	t.Run("completion failed", func(t *testing.T) {
		llm := &fakeCompleter{err: &engine.CompletionError{Kind: engine.CompletionRateLimited, Model: "m", Err: errors.New("429")}}
		c := newCoordinator(t, &fakeResolver{}, &fakeLoader{docs: []engine.Document{{Content: article}}}, llm)
		res, err := c.Run(context.Background(), engine.SummaryRequest{URL: "https://example.com"}, nil)
		require.ErrorIs(t, err, engine.ErrSummarizationFailed)
		assert.Nil(t, res)
		var ce *engine.CompletionError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, engine.CompletionRateLimited, ce.Kind)
	})
}

func TestNormalize_Defaults(t *testing.T) {
	c := newCoordinator(t, &fakeResolver{}, &fakeLoader{}, &fakeCompleter{})
	req, err := c.Normalize(engine.SummaryRequest{URL: "  https://example.com/x  ", Strategy: "Map-Reduce", Model: " mixtral-8x7b-32768 "})
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/x", req.URL)
	assert.Equal(t, engine.StrategyMapReduce, req.Strategy)
	assert.Equal(t, "mixtral-8x7b-32768", req.Model)
	assert.Equal(t, engine.DefaultMaxOutputTokens, req.MaxOutputTokens)
}

func TestNew_RejectsBadConfig(t *testing.T) {
	cfg := engine.DefaultConfig()
	cfg.ChunkOverlap = cfg.ChunkSize
	_, err := New(cfg, &fakeResolver{}, &fakeLoader{}, &fakeCompleter{})
	require.ErrorIs(t, err, engine.ErrInvalidConfiguration)

	_, err = New(engine.DefaultConfig(), nil, &fakeLoader{}, &fakeCompleter{})
	require.ErrorIs(t, err, engine.ErrInvalidConfiguration)
}
