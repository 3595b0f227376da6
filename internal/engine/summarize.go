package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// SummarizerConfig is the per-run tuning of a Summarizer.
type SummarizerConfig struct {
	Model             string
	MaxOutputTokens   int
	MapConcurrency    int
	ContextWindow     int
	StuffThreshold    float64
	ReduceTokenBudget int // 0 = derived from ContextWindow
	MaxCollapseDepth  int
}

// Summary is the output of one strategy run.
type Summary struct {
	Output   string
	Calls    int
	Warnings []string
}

// Summarizer runs the stuff, map-reduce and refine strategies against a Completer.
type Summarizer struct {
	cfg      SummarizerConfig
	llm      Completer
	tokens   TokenEstimator
	limiter  *rate.Limiter // nil = unlimited
	progress ProgressFunc

	calls atomic.Int64
}

// NewSummarizer validates cfg. tokens defaults to a 4 chars/token estimate.
func NewSummarizer(cfg SummarizerConfig, llm Completer, tokens TokenEstimator, limiter *rate.Limiter, progress ProgressFunc) (*Summarizer, error) {
	if llm == nil {
		return nil, NewError(KindInvalidConfiguration, "completion backend is required", nil)
	}
	if cfg.Model == "" {
		return nil, NewError(KindInvalidConfiguration, "model is required", nil)
	}
	if cfg.MaxOutputTokens <= 0 {
		return nil, NewError(KindInvalidConfiguration, fmt.Sprintf("max output tokens must be positive, got %d", cfg.MaxOutputTokens), nil)
	}
	if cfg.MapConcurrency < 1 {
		cfg.MapConcurrency = 1
	}
	if cfg.ContextWindow <= 0 {
		cfg.ContextWindow = DefaultContextWindow
	}
	if cfg.StuffThreshold <= 0 || cfg.StuffThreshold > 1 {
		cfg.StuffThreshold = DefaultStuffThreshold
	}
	if cfg.MaxCollapseDepth <= 0 {
		cfg.MaxCollapseDepth = DefaultMaxCollapseDepth
	}
	if tokens == nil {
		tokens = CharEstimator{CharsPerToken: DefaultCharsPerToken}
	}
	return &Summarizer{cfg: cfg, llm: llm, tokens: tokens, limiter: limiter, progress: progress}, nil
}

// Summarize runs strategy over chunks. Any completion failure aborts the run
// with a SummarizationFailed error; partial output is never returned.
func (s *Summarizer) Summarize(ctx context.Context, chunks []Chunk, strategy Strategy, p Prompts) (*Summary, error) {
	if len(chunks) == 0 {
		return nil, NewError(KindNoContent, "nothing to summarize", nil)
	}
	s.calls.Store(0)

	var (
		out      string
		warnings []string
		err      error
	)
	switch strategy {
	case StrategyStuff:
		out, warnings, err = s.stuff(ctx, chunks, p)
	case StrategyMapReduce:
		out, warnings, err = s.mapReduce(ctx, chunks, p)
	case StrategyRefine:
		out, err = s.refine(ctx, chunks, p)
	default:
		return nil, NewError(KindInvalidConfiguration, fmt.Sprintf("unknown strategy %q", strategy), nil)
	}
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(out) == "" {
		return nil, NewError(KindSummarizationFailed, "model returned an empty summary", nil)
	}
	return &Summary{Output: out, Calls: int(s.calls.Load()), Warnings: warnings}, nil
}

// stuff sends every chunk in one prompt. Oversized input only warns.
func (s *Summarizer) stuff(ctx context.Context, chunks []Chunk, p Prompts) (string, []string, error) {
	text := joinChunks(chunks)
	var warnings []string

	est := s.tokens.EstimateTokens(text)
	limit := int(float64(s.cfg.ContextWindow) * s.cfg.StuffThreshold)
	if est > limit {
		msg := fmt.Sprintf("input is about %d tokens, above %.0f%% of the %d-token context window for %s; consider map_reduce",
			est, s.cfg.StuffThreshold*100, s.cfg.ContextWindow, s.cfg.Model)
		warnings = append(warnings, msg)
		slog.Warn("summarize: stuff input near context limit",
			slog.String("model", s.cfg.Model), slog.Int("estimated_tokens", est), slog.Int("limit", limit))
		s.progress.Emit(StageWarning, msg, 60)
	}

	s.progress.Emit(StageSummarize, "Summarizing in a single pass", 65)
	out, err := s.render(ctx, p.Map, text, "stuff")
	return out, warnings, err
}

// mapReduce summarizes chunks in parallel, then collapses the partial
// summaries until they fit one combine call.
func (s *Summarizer) mapReduce(ctx context.Context, chunks []Chunk, p Prompts) (string, []string, error) {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	var done atomic.Int64
	total := len(texts)
	partials, err := s.fanOut(ctx, texts, p.Map, "map", func() {
		n := done.Add(1)
		s.progress.Emit(StageSummarize, fmt.Sprintf("Summarized chunk %d/%d", n, total), 60+int(20*n)/total)
	})
	if err != nil {
		return "", nil, err
	}

	budget := s.reduceBudget()
	var warnings []string
	for depth := 0; len(partials) > 1 && s.tokens.EstimateTokens(joinTexts(partials)) > budget; depth++ {
		if depth >= s.cfg.MaxCollapseDepth {
			msg := fmt.Sprintf("partial summaries still exceed the reduce budget after %d collapse rounds; combining anyway", depth)
			warnings = append(warnings, msg)
			slog.Warn("summarize: collapse depth exhausted", slog.Int("depth", depth), slog.Int("partials", len(partials)))
			s.progress.Emit(StageWarning, msg, 80)
			break
		}
		groups := groupByBudget(partials, budget, s.tokens)
		s.progress.Emit(StageSummarize, fmt.Sprintf("Collapsing %d partial summaries into %d", len(partials), len(groups)), 80)
		partials, err = s.fanOut(ctx, groups, p.Combine, "collapse", nil)
		if err != nil {
			return "", nil, err
		}
	}

	s.progress.Emit(StageSummarize, "Combining partial summaries", 85)
	out, err := s.render(ctx, p.Combine, joinTexts(partials), "reduce")
	return out, warnings, err
}

// refine folds chunks into a running summary strictly in order.
func (s *Summarizer) refine(ctx context.Context, chunks []Chunk, p Prompts) (string, error) {
	total := len(chunks)
	running, err := s.render(ctx, p.Map, chunks[0].Content, "refine")
	if err != nil {
		return "", err
	}
	s.progress.Emit(StageSummarize, fmt.Sprintf("Refined with chunk 1/%d", total), 60+30/total)

	for i := 1; i < total; i++ {
		running, err = s.render(ctx, p.Combine, running+"\n\n"+chunks[i].Content, "refine")
		if err != nil {
			return "", err
		}
		s.progress.Emit(StageSummarize, fmt.Sprintf("Refined with chunk %d/%d", i+1, total), 60+30*(i+1)/total)
	}
	return running, nil
}

// fanOut renders tmpl over every input with at most MapConcurrency calls in
// flight. Results keep input order.
func (s *Summarizer) fanOut(ctx context.Context, inputs []string, tmpl promptTemplate, phase string, onDone func()) ([]string, error) {
	results := make([]string, len(inputs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MapConcurrency)
	for i, in := range inputs {
		g.Go(func() error {
			out, err := s.render(gctx, tmpl, in, fmt.Sprintf("%s %d/%d", phase, i+1, len(inputs)))
			if err != nil {
				return err
			}
			results[i] = out
			if onDone != nil {
				onDone()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// render formats tmpl with text and performs one completion call.
func (s *Summarizer) render(ctx context.Context, tmpl promptTemplate, text, step string) (string, error) {
	prompt, err := renderPrompt(tmpl, text)
	if err != nil {
		return "", NewError(KindInvalidConfiguration, "render prompt for "+step, err)
	}
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return "", NewError(KindSummarizationFailed, step, err)
		}
	}
	out, err := s.llm.Complete(ctx, prompt, s.cfg.Model, s.cfg.MaxOutputTokens)
	if err != nil {
		return "", NewError(KindSummarizationFailed, step, err)
	}
	s.calls.Add(1)
	return out, nil
}

// reduceBudget is the most input tokens a combine call may carry.
func (s *Summarizer) reduceBudget() int {
	if s.cfg.ReduceTokenBudget > 0 {
		return s.cfg.ReduceTokenBudget
	}
	b := int(float64(s.cfg.ContextWindow)*s.cfg.StuffThreshold) - s.cfg.MaxOutputTokens
	return max(b, s.cfg.ContextWindow/4)
}

// groupByBudget packs consecutive texts into joined groups under budget.
// A text larger than the budget forms its own group.
func groupByBudget(texts []string, budget int, est TokenEstimator) []string {
	var (
		groups []string
		cur    []string
		used   int
	)
	for _, t := range texts {
		n := est.EstimateTokens(t)
		if len(cur) > 0 && used+n > budget {
			groups = append(groups, joinTexts(cur))
			cur, used = nil, 0
		}
		cur = append(cur, t)
		used += n
	}
	if len(cur) > 0 {
		groups = append(groups, joinTexts(cur))
	}
	return groups
}

func joinChunks(chunks []Chunk) string {
	parts := make([]string, len(chunks))
	for i, c := range chunks {
		parts[i] = c.Content
	}
	return joinTexts(parts)
}

func joinTexts(parts []string) string { return strings.Join(parts, "\n\n") }
