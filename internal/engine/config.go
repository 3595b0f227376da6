package engine

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Defaults used when the environment leaves a value unset.
const (
	DefaultChunkSize          = 3000
	DefaultChunkOverlap       = 200
	DefaultContextWindow      = 8192
	DefaultStuffThreshold     = 0.85
	DefaultCharsPerToken      = 4.0
	DefaultMaxOutputTokens    = 600
	DefaultMaxOutputTokensCap = 1200
	DefaultMapConcurrency     = 4
	DefaultMaxCollapseDepth   = 4
)

// Config holds all engine configuration, injected from main and passed to
// constructors. Nothing in the engine reads process-wide settings.
type Config struct {
	LLMProvider          string // "gokit" (default) or "langchain"
	LLMAPIKey            string
	LLMAPIKeyFallbacks   []string
	LLMAPIBase           string
	LLMTemperature       float64
	LLMRequestsPerMinute float64 // 0 = unlimited
	LLMMaxRetries        int

	DefaultModel       string
	AllowedModels      []string       // empty = any model accepted
	ContextWindows     map[string]int // model → context window in tokens
	DefaultStrategy    Strategy
	DefaultMaxTokens   int
	MaxOutputTokensCap int

	ChunkSize         int
	ChunkOverlap      int
	MapConcurrency    int
	StuffThreshold    float64 // fraction of the context window
	CharsPerToken     float64
	TokenEncoding     string // tiktoken encoding; empty = character estimate
	ReduceTokenBudget int    // 0 = derived from context window
	MaxCollapseDepth  int

	SSLVerify       bool
	UserAgent       string
	FetchTimeout    time.Duration
	MaxContentChars int // 0 = no limit

	TranscriptCacheTTL   time.Duration
	CacheMaxEntries      int
	CacheCleanupInterval time.Duration
	RedisURL             string

	BrowserClient *BrowserClient // nil = plain HTTP for page loads
}

// DefaultConfig returns a Config with every tunable at its default.
func DefaultConfig() Config {
	return Config{
		LLMProvider:          "gokit",
		LLMAPIBase:           "https://api.groq.com/openai/v1",
		LLMTemperature:       0.2,
		LLMMaxRetries:        3,
		DefaultModel:         "llama3-8b-8192",
		AllowedModels:        []string{"gemma-7b-it", "llama3-8b-8192", "mixtral-8x7b-32768"},
		ContextWindows:       map[string]int{"llama3-8b-8192": 8192, "mixtral-8x7b-32768": 32768},
		DefaultStrategy:      StrategyMapReduce,
		DefaultMaxTokens:     DefaultMaxOutputTokens,
		MaxOutputTokensCap:   DefaultMaxOutputTokensCap,
		ChunkSize:            DefaultChunkSize,
		ChunkOverlap:         DefaultChunkOverlap,
		MapConcurrency:       DefaultMapConcurrency,
		StuffThreshold:       DefaultStuffThreshold,
		CharsPerToken:        DefaultCharsPerToken,
		MaxCollapseDepth:     DefaultMaxCollapseDepth,
		SSLVerify:            true,
		UserAgent:            "Mozilla/5.0",
		FetchTimeout:         20 * time.Second,
		TranscriptCacheTTL:   6 * time.Hour,
		CacheMaxEntries:      500,
		CacheCleanupInterval: 5 * time.Minute,
	}
}

// Validate reports the first inconsistent setting as an InvalidConfiguration error.
func (c Config) Validate() error {
	bad := func(format string, args ...any) error {
		return NewError(KindInvalidConfiguration, fmt.Sprintf(format, args...), nil)
	}
	switch {
	case c.ChunkSize <= 0:
		return bad("chunk size must be positive, got %d", c.ChunkSize)
	case c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize:
		return bad("chunk overlap must be in [0, %d), got %d", c.ChunkSize, c.ChunkOverlap)
	case c.MapConcurrency < 1:
		return bad("map concurrency must be at least 1, got %d", c.MapConcurrency)
	case c.StuffThreshold <= 0 || c.StuffThreshold > 1:
		return bad("stuff threshold must be in (0, 1], got %g", c.StuffThreshold)
	case c.CharsPerToken <= 0:
		return bad("chars per token must be positive, got %g", c.CharsPerToken)
	case c.DefaultMaxTokens <= 0 || c.DefaultMaxTokens > c.MaxOutputTokensCap:
		return bad("default max tokens must be in [1, %d], got %d", c.MaxOutputTokensCap, c.DefaultMaxTokens)
	case c.DefaultModel == "":
		return bad("default model is required")
	case !c.ModelAllowed(c.DefaultModel):
		return bad("default model %q is not in the allowed list", c.DefaultModel)
	}
	if _, err := ParseStrategy(string(c.DefaultStrategy)); err != nil {
		return err
	}
	for m, w := range c.ContextWindows {
		if w <= 0 {
			return bad("context window for %q must be positive, got %d", m, w)
		}
	}
	return nil
}

// ModelAllowed reports whether model may be requested.
func (c Config) ModelAllowed(model string) bool {
	return len(c.AllowedModels) == 0 || slices.Contains(c.AllowedModels, model)
}

// ContextWindow returns the configured window for model, or DefaultContextWindow.
func (c Config) ContextWindow(model string) int {
	if w, ok := c.ContextWindows[model]; ok && w > 0 {
		return w
	}
	return DefaultContextWindow
}

// ParseContextWindows parses "model=8192,other=32768" into a map.
// Entries without '=' or with a non-numeric size are rejected.
func ParseContextWindows(entries []string) (map[string]int, error) {
	out := make(map[string]int, len(entries))
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		name, size, ok := strings.Cut(e, "=")
		if !ok {
			return nil, fmt.Errorf("context window entry %q: missing '='", e)
		}
		n, err := strconv.Atoi(strings.TrimSpace(size))
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("context window entry %q: invalid size", e)
		}
		out[strings.TrimSpace(name)] = n
	}
	return out, nil
}
