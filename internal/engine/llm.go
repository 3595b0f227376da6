package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/anatolykoptev/go-kit/llm"
	"github.com/cenkalti/backoff/v5"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// Completer turns one prompt into one completion. Implementations must be
// safe for concurrent use; the map phase calls them in parallel.
type Completer interface {
	Complete(ctx context.Context, prompt, model string, maxTokens int) (string, error)
}

// NewCompleter builds the backend selected by cfg.LLMProvider.
func NewCompleter(cfg Config) (Completer, error) {
	switch strings.ToLower(cfg.LLMProvider) {
	case "", "gokit":
		return NewGoKitCompleter(cfg), nil
	case "langchain", "langchaingo", "openai":
		return NewLangChainCompleter(cfg), nil
	}
	return nil, NewError(KindInvalidConfiguration, fmt.Sprintf("unknown LLM provider %q", cfg.LLMProvider), nil)
}

// --- go-kit backend ---

// GoKitCompleter keeps one go-kit llm client per model, created on first use.
type GoKitCompleter struct {
	base        string
	key         string
	fallbacks   []string
	temperature float64
	maxRetries  int
	httpClient  *http.Client

	mu      sync.Mutex
	clients map[string]*llm.Client
}

func NewGoKitCompleter(cfg Config) *GoKitCompleter {
	return &GoKitCompleter{
		base:        cfg.LLMAPIBase,
		key:         cfg.LLMAPIKey,
		fallbacks:   cfg.LLMAPIKeyFallbacks,
		temperature: cfg.LLMTemperature,
		maxRetries:  cfg.LLMMaxRetries,
		httpClient:  &http.Client{Timeout: 90 * time.Second},
		clients:     make(map[string]*llm.Client),
	}
}

func (c *GoKitCompleter) client(model string) *llm.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cl, ok := c.clients[model]; ok {
		return cl
	}
	cl := llm.NewClient(c.base, c.key, model,
		llm.WithFallbackKeys(c.fallbacks),
		llm.WithTemperature(c.temperature),
		llm.WithHTTPClient(c.httpClient),
	)
	c.clients[model] = cl
	return cl
}

func (c *GoKitCompleter) Complete(ctx context.Context, prompt, model string, maxTokens int) (string, error) {
	cl := c.client(model)
	return completeWithRetry(ctx, model, c.maxRetries, func() (string, error) {
		return cl.Complete(ctx, "", prompt,
			llm.WithChatTemperature(c.temperature),
			llm.WithChatMaxTokens(maxTokens),
		)
	})
}

// --- langchaingo backend ---

// LangChainCompleter talks to any OpenAI-compatible endpoint through langchaingo.
type LangChainCompleter struct {
	base        string
	key         string
	temperature float64
	maxRetries  int

	mu     sync.Mutex
	models map[string]llms.Model
}

func NewLangChainCompleter(cfg Config) *LangChainCompleter {
	return &LangChainCompleter{
		base:        cfg.LLMAPIBase,
		key:         cfg.LLMAPIKey,
		temperature: cfg.LLMTemperature,
		maxRetries:  cfg.LLMMaxRetries,
		models:      make(map[string]llms.Model),
	}
}

func (c *LangChainCompleter) model(name string) (llms.Model, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.models[name]; ok {
		return m, nil
	}
	opts := []openai.Option{openai.WithModel(name)}
	if c.key != "" {
		opts = append(opts, openai.WithToken(c.key))
	}
	if c.base != "" {
		opts = append(opts, openai.WithBaseURL(c.base))
	}
	m, err := openai.New(opts...)
	if err != nil {
		return nil, err
	}
	c.models[name] = m
	return m, nil
}

func (c *LangChainCompleter) Complete(ctx context.Context, prompt, model string, maxTokens int) (string, error) {
	m, err := c.model(model)
	if err != nil {
		return "", &CompletionError{Kind: CompletionInvalidRequest, Model: model, Err: err}
	}
	return completeWithRetry(ctx, model, c.maxRetries, func() (string, error) {
		return llms.GenerateFromSinglePrompt(ctx, m, prompt,
			llms.WithModel(model),
			llms.WithMaxTokens(maxTokens),
			llms.WithTemperature(c.temperature),
		)
	})
}

// --- shared ---

// completeWithRetry runs call, retrying only rate-limited failures with
// exponential backoff. Every returned error is a *CompletionError.
func completeWithRetry(ctx context.Context, model string, maxTries int, call func() (string, error)) (string, error) {
	if maxTries < 1 {
		maxTries = 1
	}
	op := func() (string, error) {
		metrics.LLMCalls.Add(1)
		out, err := call()
		if err != nil {
			metrics.LLMErrors.Add(1)
			ce := classifyCompletionError(model, err)
			if ce.Kind == CompletionRateLimited {
				return "", ce
			}
			return "", backoff.Permanent(ce)
		}
		return cleanCompletion(out), nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 2 * time.Second
	bo.MaxInterval = 20 * time.Second

	out, err := backoff.Retry(ctx, op, backoff.WithBackOff(bo), backoff.WithMaxTries(uint(maxTries)), backoff.WithMaxElapsedTime(2*time.Minute))
	if err != nil {
		var ce *CompletionError
		if errors.As(err, &ce) {
			return "", ce
		}
		return "", classifyCompletionError(model, err)
	}
	return out, nil
}

// classifyCompletionError maps backend errors onto CompletionErrorKind by
// inspecting status codes and provider wording in the error text.
func classifyCompletionError(model string, err error) *CompletionError {
	var ce *CompletionError
	if errors.As(err, &ce) {
		return ce
	}
	msg := strings.ToLower(err.Error())
	kind := CompletionProviderError
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		kind = CompletionProviderError
	case strings.Contains(msg, "429"), strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "rate_limit"), strings.Contains(msg, "too many requests"):
		kind = CompletionRateLimited
	case strings.Contains(msg, "400"), strings.Contains(msg, "404"),
		strings.Contains(msg, "invalid_request"), strings.Contains(msg, "context_length"),
		strings.Contains(msg, "model_not_found"), strings.Contains(msg, "does not exist"):
		kind = CompletionInvalidRequest
	}
	return &CompletionError{Kind: kind, Model: model, Err: err}
}

// cleanCompletion trims whitespace and stray markdown fences around a completion.
func cleanCompletion(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```markdown")
		s = strings.TrimPrefix(s, "```text")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
	}
	return strings.TrimSpace(s)
}
