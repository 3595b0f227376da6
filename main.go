// go_tldr: YouTube & webpage summarizer MCP server.
//
// Exposes four MCP tools: summarize_url, youtube_transcript, read_url, list_models.
// Runs as HTTP MCP server or stdio transport.
package main

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/anatolykoptev/go-kit/env"
	"github.com/anatolykoptev/go-mcpserver"
	"github.com/anatolykoptev/go_tldr/internal/engine"
	"github.com/anatolykoptev/go_tldr/internal/engine/pipeline"
	"github.com/anatolykoptev/go_tldr/internal/engine/sources"
	"github.com/anatolykoptev/go_tldr/internal/summaryserver"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

var (
	version = "dev"
	mcpPort = env.Str("MCP_PORT", "8893")
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	cache := engine.NewCache(cfg.RedisURL, cfg.TranscriptCacheTTL, cfg.CacheMaxEntries, cfg.CacheCleanupInterval)
	defer cache.Close()

	completer, err := engine.NewCompleter(cfg)
	if err != nil {
		slog.Error("llm backend init failed", slog.Any("error", err))
		os.Exit(1)
	}

	youtube := sources.NewYouTube()
	resolver := sources.NewResolver(youtube, sources.WithCache(cache))
	loader := engine.NewWebLoader(cfg)

	coord, err := pipeline.New(cfg, resolver, loader, completer)
	if err != nil {
		slog.Error("pipeline init failed", slog.Any("error", err))
		os.Exit(1)
	}

	slog.Info("starting go_tldr",
		slog.String("port", mcpPort),
		slog.String("llm_provider", cfg.LLMProvider),
		slog.String("default_model", cfg.DefaultModel),
		slog.String("default_strategy", string(cfg.DefaultStrategy)),
	)

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "go_tldr",
		Version: version,
	}, nil)

	summaryserver.RegisterTools(server, summaryserver.Deps{
		Coordinator: coord,
		Resolver:    resolver,
		Loader:      loader,
	})
	slog.Info("tools registered", slog.Int("count", summaryserver.ToolCount))

	if err := mcpserver.Run(server, mcpserver.Config{
		Name:         "go_tldr",
		Version:      version,
		Port:         mcpPort,
		WriteTimeout: 600 * time.Second,
		Metrics:      engine.FormatMetrics,
	}); err != nil {
		slog.Error("server failed", slog.Any("error", err))
	}
}

func loadConfig() (engine.Config, error) {
	def := engine.DefaultConfig()

	windows, err := engine.ParseContextWindows(env.List("MODEL_CONTEXT_WINDOWS", "llama3-8b-8192=8192,mixtral-8x7b-32768=32768"))
	if err != nil {
		return engine.Config{}, err
	}
	strategy, err := engine.ParseStrategy(env.Str("DEFAULT_STRATEGY", string(def.DefaultStrategy)))
	if err != nil {
		return engine.Config{}, err
	}

	c := engine.Config{
		LLMProvider:          env.Str("LLM_PROVIDER", def.LLMProvider),
		LLMAPIKey:            env.Str("LLM_API_KEY", env.Str("GROQ_API_KEY", "")),
		LLMAPIKeyFallbacks:   env.List("LLM_API_KEY_FALLBACKS", ""),
		LLMAPIBase:           env.Str("LLM_API_BASE", def.LLMAPIBase),
		LLMTemperature:       env.Float("LLM_TEMPERATURE", def.LLMTemperature),
		LLMRequestsPerMinute: env.Float("LLM_REQUESTS_PER_MINUTE", 0),
		LLMMaxRetries:        env.Int("LLM_MAX_RETRIES", def.LLMMaxRetries),

		DefaultModel:       env.Str("DEFAULT_MODEL", def.DefaultModel),
		AllowedModels:      env.List("ALLOWED_MODELS", "gemma-7b-it,llama3-8b-8192,mixtral-8x7b-32768"),
		ContextWindows:     windows,
		DefaultStrategy:    strategy,
		DefaultMaxTokens:   env.Int("DEFAULT_MAX_TOKENS", def.DefaultMaxTokens),
		MaxOutputTokensCap: env.Int("MAX_TOKENS_CAP", def.MaxOutputTokensCap),

		ChunkSize:         env.Int("CHUNK_SIZE", def.ChunkSize),
		ChunkOverlap:      env.Int("CHUNK_OVERLAP", def.ChunkOverlap),
		MapConcurrency:    env.Int("MAP_CONCURRENCY", def.MapConcurrency),
		StuffThreshold:    env.Float("STUFF_THRESHOLD", def.StuffThreshold),
		CharsPerToken:     env.Float("CHARS_PER_TOKEN", def.CharsPerToken),
		TokenEncoding:     env.Str("TOKEN_ENCODING", ""),
		ReduceTokenBudget: env.Int("REDUCE_TOKEN_BUDGET", 0),
		MaxCollapseDepth:  env.Int("MAX_COLLAPSE_DEPTH", def.MaxCollapseDepth),

		SSLVerify:       envBool("SSL_VERIFY", def.SSLVerify),
		UserAgent:       env.Str("USER_AGENT", def.UserAgent),
		FetchTimeout:    env.Duration("FETCH_TIMEOUT", def.FetchTimeout),
		MaxContentChars: env.Int("MAX_CONTENT_CHARS", 0),

		TranscriptCacheTTL:   env.Duration("CACHE_TTL", def.TranscriptCacheTTL),
		CacheMaxEntries:      env.Int("CACHE_MAX_ENTRIES", def.CacheMaxEntries),
		CacheCleanupInterval: env.Duration("CACHE_CLEANUP_INTERVAL", def.CacheCleanupInterval),
		RedisURL:             env.Str("REDIS_URL", ""),
	}

	if envBool("BROWSER_FETCH", true) {
		bc, err := engine.NewBrowserClient(int(c.FetchTimeout/time.Second), env.Str("WEBSHARE_API_KEY", ""))
		if err != nil {
			slog.Warn("stealth client init failed, using plain HTTP", slog.Any("error", err))
		} else {
			c.BrowserClient = bc
			slog.Info("stealth browser client initialized")
		}
	}

	if c.LLMAPIKey == "" {
		slog.Warn("LLM_API_KEY is not set; completion calls will fail")
	}
	return c, c.Validate()
}

// envBool reads a boolean env var; unset or unparseable values yield def.
func envBool(key string, def bool) bool {
	v := env.Str(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("ignoring invalid boolean env var", slog.String("key", key), slog.String("value", v))
		return def
	}
	return b
}
