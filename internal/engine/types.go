package engine

import (
	"fmt"
	"strings"
	"time"
)

// --- Text units ---

// Document is a unit of source text with provenance.
type Document struct {
	Content  string            `json:"content"`
	Source   string            `json:"source"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Chunk is a bounded piece of a Document. Offset is the byte position of
// Content inside the parent Document's Content.
type Chunk struct {
	Content  string            `json:"content"`
	Source   string            `json:"source"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Offset   int               `json:"offset"`
}

// TranscriptLanguageOption describes one caption track available for a video.
type TranscriptLanguageOption struct {
	LanguageName   string `json:"language_name"`
	LanguageCode   string `json:"language_code"`
	IsGenerated    bool   `json:"is_generated"`
	IsTranslatable bool   `json:"is_translatable"`
	TranslatedFrom string `json:"translated_from,omitempty"` // source language of a machine translation
}

// SourceKind classifies a request URL.
type SourceKind string

const (
	SourceVideo SourceKind = "video"
	SourcePage  SourceKind = "page"
)

// --- Strategy ---

// Strategy selects how chunks are turned into one summary.
type Strategy string

const (
	StrategyStuff     Strategy = "stuff"
	StrategyMapReduce Strategy = "map_reduce"
	StrategyRefine    Strategy = "refine"
)

// Strategies lists every supported strategy in display order.
var Strategies = []Strategy{StrategyStuff, StrategyMapReduce, StrategyRefine}

// ParseStrategy accepts canonical names plus the spellings used by UIs
// ("single-pass", "map-reduce"). Empty input is an error; callers apply defaults.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "stuff", "single-pass", "single_pass", "singlepass":
		return StrategyStuff, nil
	case "map_reduce", "map-reduce", "mapreduce":
		return StrategyMapReduce, nil
	case "refine":
		return StrategyRefine, nil
	}
	return "", NewError(KindInvalidConfiguration, fmt.Sprintf("unknown strategy %q", s), nil)
}

// --- Prompt tier ---

// Tier is the verbosity band derived from the requested output budget.
type Tier string

const (
	TierConcise  Tier = "concise"
	TierBalanced Tier = "balanced"
	TierDetailed Tier = "detailed"
)

// TierFor maps an output token budget to a prompt tier: ≤400 concise, ≤800 balanced.
func TierFor(maxOutputTokens int) Tier {
	switch {
	case maxOutputTokens <= 400:
		return TierConcise
	case maxOutputTokens <= 800:
		return TierBalanced
	default:
		return TierDetailed
	}
}

// --- Request / result ---

type SummaryRequest struct {
	URL             string   `json:"url"`
	Strategy        Strategy `json:"strategy"`
	Model           string   `json:"model"`
	MaxOutputTokens int      `json:"max_output_tokens"`
}

// Tier returns the prompt tier for the request's output budget.
func (r SummaryRequest) Tier() Tier { return TierFor(r.MaxOutputTokens) }

// PreviewChars caps SummaryResult.Preview.
const PreviewChars = 500

// SummaryResult is built only after at least one completion call succeeded.
type SummaryResult struct {
	URL              string        `json:"url"`
	SourceKind       SourceKind    `json:"source_kind"`
	Title            string        `json:"title,omitempty"`
	Preview          string        `json:"preview,omitempty"` // first PreviewChars runes of the source text
	OutputText       string        `json:"output_text"`
	Strategy         Strategy      `json:"strategy"`
	Model            string        `json:"model"`
	MaxOutputTokens  int           `json:"max_output_tokens"`
	ChunkCount       int           `json:"chunk_count"`
	CharacterCount   int           `json:"character_count"`
	WordCount        int           `json:"word_count"`
	SummaryWordCount int           `json:"summary_word_count"`
	CompletionCalls  int           `json:"completion_calls"`
	Warnings         []string      `json:"warnings,omitempty"`
	Elapsed          time.Duration `json:"-"`
	ElapsedSeconds   float64       `json:"elapsed_seconds"`
	GeneratedAt      time.Time     `json:"generated_at"`
}

// --- Progress ---

// Progress stages, in the order a run normally passes through them.
const (
	StageInit       = "init"
	StageTranscript = "transcript"
	StageLoad       = "load"
	StageSplit      = "split"
	StageSummarize  = "summarize"
	StageWarning    = "warning"
	StageDone       = "done"
)

// ProgressEvent is informational only; no control flow depends on it.
type ProgressEvent struct {
	Stage   string `json:"stage"`
	Message string `json:"message"`
	Percent int    `json:"percent"`
}

// ProgressFunc receives progress events. A nil ProgressFunc discards them.
type ProgressFunc func(ProgressEvent)

// Emit sends an event if f is non-nil.
func (f ProgressFunc) Emit(stage, message string, percent int) {
	if f == nil {
		return
	}
	f(ProgressEvent{Stage: stage, Message: message, Percent: percent})
}
