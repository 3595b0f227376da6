// Package pipeline drives one summary request end to end: validate, acquire
// text (transcript or webpage), split, summarize, and report metrics.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/anatolykoptev/go_tldr/internal/engine"
	"github.com/anatolykoptev/go_tldr/internal/engine/sources"
	"golang.org/x/time/rate"
)

// slowRunThreshold is when a finished run is logged as slow.
const slowRunThreshold = 60 * time.Second

// TranscriptResolver returns English transcript text for a video.
type TranscriptResolver interface {
	Resolve(ctx context.Context, videoID string, progress engine.ProgressFunc) (*sources.Transcript, error)
}

// Coordinator runs summary requests. It holds only injected collaborators, so
// concurrent Run calls share nothing mutable except the completion rate limiter.
type Coordinator struct {
	cfg      engine.Config
	resolver TranscriptResolver
	loader   engine.Loader
	llm      engine.Completer
	tokens   engine.TokenEstimator
	limiter  *rate.Limiter
	now      func() time.Time
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithTokenEstimator overrides the estimator built from cfg.TokenEncoding.
func WithTokenEstimator(t engine.TokenEstimator) Option {
	return func(c *Coordinator) { c.tokens = t }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// New validates cfg and wires the collaborators.
func New(cfg engine.Config, resolver TranscriptResolver, loader engine.Loader, llm engine.Completer, opts ...Option) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if resolver == nil || loader == nil || llm == nil {
		return nil, engine.NewError(engine.KindInvalidConfiguration, "resolver, loader and completer are required", nil)
	}
	c := &Coordinator{
		cfg:      cfg,
		resolver: resolver,
		loader:   loader,
		llm:      llm,
		now:      time.Now,
	}
	if cfg.LLMRequestsPerMinute > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.LLMRequestsPerMinute/60), max(1, cfg.MapConcurrency))
	}
	for _, o := range opts {
		o(c)
	}
	if c.tokens == nil {
		c.tokens = engine.NewTokenEstimator(cfg.TokenEncoding, cfg.CharsPerToken)
	}
	return c, nil
}

// Config returns the configuration the coordinator was built with.
func (c *Coordinator) Config() engine.Config { return c.cfg }

// Run summarizes req.URL. Every failure is an *engine.Error whose Kind names
// the failing stage; no partial result is returned.
func (c *Coordinator) Run(ctx context.Context, req engine.SummaryRequest, progress engine.ProgressFunc) (*engine.SummaryResult, error) {
	engine.IncrSummaryRequests()

	var res *engine.SummaryResult
	err := engine.TrackOperation(ctx, "summarize:"+req.URL, slowRunThreshold, func(ctx context.Context) error {
		var runErr error
		res, runErr = c.run(ctx, req, progress)
		return runErr
	})
	if err != nil {
		engine.IncrSummaryErrors()
		slog.Warn("summary failed",
			slog.String("url", req.URL), slog.String("kind", engine.KindOf(err).String()), slog.Any("error", err))
		return nil, err
	}
	slog.Info("summary done",
		slog.String("url", res.URL), slog.String("strategy", string(res.Strategy)),
		slog.Int("chunks", res.ChunkCount), slog.Int("calls", res.CompletionCalls),
		slog.Duration("elapsed", res.Elapsed))
	return res, nil
}

func (c *Coordinator) run(ctx context.Context, req engine.SummaryRequest, progress engine.ProgressFunc) (*engine.SummaryResult, error) {
	start := c.now()

	progress.Emit(engine.StageInit, "Validating request", 5)
	req, err := c.Normalize(req)
	if err != nil {
		return nil, err
	}

	kind := engine.ClassifyURL(req.URL)
	engine.IncrSourceKind(kind)

	var docs []engine.Document
	switch kind {
	case engine.SourceVideo:
		docs, err = c.transcriptDocs(ctx, req.URL, progress)
	default:
		docs, err = c.pageDocs(ctx, req.URL, progress)
	}
	if err != nil {
		return nil, err
	}

	splitter, err := engine.NewSplitter(c.cfg.ChunkSize, c.cfg.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	chunks, err := splitter.Split(docs)
	if err != nil {
		return nil, err
	}
	engine.AddChunksProduced(len(chunks))

	// Counted over chunks, so overlapping text is counted once per chunk.
	var chars, words int
	for _, ch := range chunks {
		chars += utf8.RuneCountInString(ch.Content)
		words += engine.WordCount(ch.Content)
	}
	progress.Emit(engine.StageSplit, fmt.Sprintf("Split %d characters into %d chunks", chars, len(chunks)), 45)

	summarizer, err := engine.NewSummarizer(engine.SummarizerConfig{
		Model:             req.Model,
		MaxOutputTokens:   req.MaxOutputTokens,
		MapConcurrency:    c.cfg.MapConcurrency,
		ContextWindow:     c.cfg.ContextWindow(req.Model),
		StuffThreshold:    c.cfg.StuffThreshold,
		ReduceTokenBudget: c.cfg.ReduceTokenBudget,
		MaxCollapseDepth:  c.cfg.MaxCollapseDepth,
	}, c.llm, c.tokens, c.limiter, progress)
	if err != nil {
		return nil, err
	}

	progress.Emit(engine.StageSummarize,
		fmt.Sprintf("Summarizing with %s (%s, %s)", req.Strategy, req.Model, req.Tier()), 60)
	sum, err := summarizer.Summarize(ctx, chunks, req.Strategy, engine.PromptsForTier(req.Tier()))
	if err != nil {
		return nil, err
	}

	elapsed := c.now().Sub(start)
	res := &engine.SummaryResult{
		URL:              req.URL,
		SourceKind:       kind,
		Title:            docs[0].Metadata["title"],
		Preview:          engine.TruncateRunes(docs[0].Content, engine.PreviewChars, "..."),
		OutputText:       sum.Output,
		Strategy:         req.Strategy,
		Model:            req.Model,
		MaxOutputTokens:  req.MaxOutputTokens,
		ChunkCount:       len(chunks),
		CharacterCount:   chars,
		WordCount:        words,
		SummaryWordCount: engine.WordCount(sum.Output),
		CompletionCalls:  sum.Calls,
		Warnings:         sum.Warnings,
		Elapsed:          elapsed,
		ElapsedSeconds:   elapsed.Seconds(),
		GeneratedAt:      c.now().UTC(),
	}
	progress.Emit(engine.StageDone, fmt.Sprintf("Summary ready in %.1fs", res.ElapsedSeconds), 100)
	return res, nil
}

// Normalize fills request defaults and rejects anything out of range.
func (c *Coordinator) Normalize(req engine.SummaryRequest) (engine.SummaryRequest, error) {
	u, err := engine.ValidateURL(req.URL)
	if err != nil {
		return req, err
	}
	req.URL = u.String()

	if req.Strategy == "" {
		req.Strategy = c.cfg.DefaultStrategy
	}
	if req.Strategy, err = engine.ParseStrategy(string(req.Strategy)); err != nil {
		return req, err
	}

	req.Model = strings.TrimSpace(req.Model)
	if req.Model == "" {
		req.Model = c.cfg.DefaultModel
	}
	if !c.cfg.ModelAllowed(req.Model) {
		return req, engine.NewError(engine.KindInvalidConfiguration,
			fmt.Sprintf("model %q is not available; choose one of %s", req.Model, strings.Join(c.cfg.AllowedModels, ", ")), nil)
	}

	if req.MaxOutputTokens == 0 {
		req.MaxOutputTokens = c.cfg.DefaultMaxTokens
	}
	if req.MaxOutputTokens < 1 || req.MaxOutputTokens > c.cfg.MaxOutputTokensCap {
		return req, engine.NewError(engine.KindInvalidConfiguration,
			fmt.Sprintf("max tokens must be between 1 and %d, got %d", c.cfg.MaxOutputTokensCap, req.MaxOutputTokens), nil)
	}
	return req, nil
}

func (c *Coordinator) transcriptDocs(ctx context.Context, rawURL string, progress engine.ProgressFunc) ([]engine.Document, error) {
	id := engine.ExtractVideoID(rawURL)
	if id == "" {
		return nil, engine.NewError(engine.KindInvalidConfiguration, "could not find a video ID in "+rawURL, nil)
	}
	progress.Emit(engine.StageTranscript, "Fetching YouTube transcript", 15)

	tr, err := c.resolver.Resolve(ctx, id, progress)
	if err != nil {
		return nil, err
	}
	progress.Emit(engine.StageTranscript,
		fmt.Sprintf("Transcript loaded (%d characters)", utf8.RuneCountInString(tr.Text)), 30)

	return []engine.Document{{
		Content: tr.Text,
		Source:  rawURL,
		Metadata: map[string]string{
			"source":     rawURL,
			"video_id":   id,
			"language":   "en",
			"track":      tr.Track.LanguageCode,
			"translated": strconv.FormatBool(tr.Translated),
		},
	}}, nil
}

func (c *Coordinator) pageDocs(ctx context.Context, rawURL string, progress engine.ProgressFunc) ([]engine.Document, error) {
	progress.Emit(engine.StageLoad, "Loading webpage", 15)

	docs, err := c.loader.Load(ctx, rawURL, engine.DefaultLoadOptions(c.cfg))
	if err != nil {
		return nil, err
	}
	var kept []engine.Document
	for _, d := range docs {
		if strings.TrimSpace(d.Content) != "" {
			kept = append(kept, d)
		}
	}
	if len(kept) == 0 {
		return nil, engine.NewError(engine.KindNoContent, "no readable text at "+rawURL, nil)
	}
	progress.Emit(engine.StageLoad, fmt.Sprintf("Loaded %d document(s)", len(kept)), 30)
	return kept, nil
}
