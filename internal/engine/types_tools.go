package engine

import "time"

// --- summarize_url ---

// SummarizeInput is the input for the summarize_url tool.
type SummarizeInput struct {
	URL       string `json:"url" jsonschema:"YouTube video or webpage URL to summarize"`
	Strategy  string `json:"strategy,omitempty" jsonschema:"Summarization strategy: stuff (single pass), map_reduce (default), refine"`
	Model     string `json:"model,omitempty" jsonschema:"LLM model name; see list_models for allowed values"`
	MaxTokens int    `json:"max_tokens,omitempty" jsonschema:"Output token budget (1-1200). Up to 400 gives a concise summary, up to 800 balanced, above that detailed"`
}

// Request converts the tool input into a pipeline request.
func (in SummarizeInput) Request() SummaryRequest {
	return SummaryRequest{
		URL:             in.URL,
		Strategy:        Strategy(in.Strategy),
		Model:           in.Model,
		MaxOutputTokens: in.MaxTokens,
	}
}

// SummarizeOutput is the structured summarize_url result.
type SummarizeOutput struct {
	URL              string   `json:"url"`
	SourceKind       string   `json:"source_kind"`
	Title            string   `json:"title,omitempty"`
	Preview          string   `json:"preview,omitempty" jsonschema:"first 500 characters of the source text"`
	Summary          string   `json:"summary"`
	Strategy         string   `json:"strategy"`
	Model            string   `json:"model"`
	MaxTokens        int      `json:"max_tokens"`
	ChunkCount       int      `json:"chunk_count"`
	CharacterCount   int      `json:"character_count"`
	WordCount        int      `json:"word_count"`
	SummaryWordCount int      `json:"summary_word_count"`
	CompletionCalls  int      `json:"completion_calls"`
	Warnings         []string `json:"warnings,omitempty"`
	ElapsedSeconds   float64  `json:"elapsed_seconds"`
	GeneratedAt      string   `json:"generated_at"`
}

// NewSummarizeOutput flattens a SummaryResult for the tool response.
func NewSummarizeOutput(r *SummaryResult) SummarizeOutput {
	return SummarizeOutput{
		URL:              r.URL,
		SourceKind:       string(r.SourceKind),
		Title:            r.Title,
		Preview:          r.Preview,
		Summary:          r.OutputText,
		Strategy:         string(r.Strategy),
		Model:            r.Model,
		MaxTokens:        r.MaxOutputTokens,
		ChunkCount:       r.ChunkCount,
		CharacterCount:   r.CharacterCount,
		WordCount:        r.WordCount,
		SummaryWordCount: r.SummaryWordCount,
		CompletionCalls:  r.CompletionCalls,
		Warnings:         r.Warnings,
		ElapsedSeconds:   r.ElapsedSeconds,
		GeneratedAt:      r.GeneratedAt.Format(time.RFC3339),
	}
}

// --- youtube_transcript ---

// TranscriptInput is the input for the youtube_transcript tool.
type TranscriptInput struct {
	URL string `json:"url" jsonschema:"YouTube video URL (watch, youtu.be, shorts, embed or live)"`
}

// TranscriptOutput is the structured youtube_transcript result.
type TranscriptOutput struct {
	VideoID    string                     `json:"video_id"`
	Language   string                     `json:"language"`
	Track      string                     `json:"track,omitempty"`
	Translated bool                       `json:"translated"`
	SourceLang string                     `json:"source_language,omitempty"`
	WordCount  int                        `json:"word_count"`
	Text       string                     `json:"text"`
	Available  []TranscriptLanguageOption `json:"available,omitempty"`
}

// --- read_url ---

// ReadURLInput is the input for the read_url tool.
type ReadURLInput struct {
	URL       string `json:"url" jsonschema:"Webpage URL to extract readable text from"`
	MaxChars  int    `json:"max_chars,omitempty" jsonschema:"Truncate the returned text to this many characters (0 = no limit)"`
	SSLVerify *bool  `json:"ssl_verify,omitempty" jsonschema:"Verify TLS certificates (default from server configuration)"`
}

// ReadURLOutput is the structured read_url result.
type ReadURLOutput struct {
	URL            string `json:"url"`
	Title          string `json:"title,omitempty"`
	Content        string `json:"content"`
	CharacterCount int    `json:"character_count"`
	WordCount      int    `json:"word_count"`
	Truncated      bool   `json:"truncated,omitempty"`
}

// --- list_models ---

// ListModelsInput is the (empty) input for the list_models tool.
type ListModelsInput struct{}

// ModelInfo describes one selectable model.
type ModelInfo struct {
	Name          string `json:"name"`
	ContextWindow int    `json:"context_window"`
	Default       bool   `json:"default,omitempty"`
}

// ListModelsOutput is the structured list_models result.
type ListModelsOutput struct {
	Models           []ModelInfo `json:"models"`
	Strategies       []string    `json:"strategies"`
	DefaultStrategy  string      `json:"default_strategy"`
	DefaultMaxTokens int         `json:"default_max_tokens"`
	MaxTokensCap     int         `json:"max_tokens_cap"`
}
