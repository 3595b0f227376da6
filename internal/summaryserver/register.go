package summaryserver

import (
	"context"
	"errors"
	"unicode/utf8"

	"github.com/anatolykoptev/go_tldr/internal/engine"
	"github.com/anatolykoptev/go_tldr/internal/engine/pipeline"
	"github.com/anatolykoptev/go_tldr/internal/toolutil"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ToolCount is the number of tools RegisterTools adds.
const ToolCount = 4

// Deps are the collaborators the tools run against.
type Deps struct {
	Coordinator *pipeline.Coordinator
	Resolver    pipeline.TranscriptResolver
	Loader      engine.Loader
}

// RegisterTools registers the summary tools on the given MCP server:
// summarize_url, youtube_transcript, read_url, list_models.
func RegisterTools(server *mcp.Server, d Deps) {
	registerSummarizeURL(server, d.Coordinator)
	registerYouTubeTranscript(server, d.Resolver)
	registerReadURL(server, d.Coordinator.Config(), d.Loader)
	registerListModels(server, d.Coordinator.Config())
}

func registerSummarizeURL(server *mcp.Server, coord *pipeline.Coordinator) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "summarize_url",
		Description: "Summarize a YouTube video (from its transcript) or a web article. Chooses English captions, else Hindi translated to English, else any translatable track. Strategies: stuff (one call), map_reduce (parallel chunk summaries combined, default), refine (sequential). Returns the summary with chunk, word and timing metrics. Sends progress notifications when a progress token is supplied.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(ctx context.Context, req *mcp.CallToolRequest, input engine.SummarizeInput) (*mcp.CallToolResult, engine.SummarizeOutput, error) {
		if input.URL == "" {
			return nil, engine.SummarizeOutput{}, errors.New("url is required")
		}
		res, err := coord.Run(ctx, input.Request(), toolutil.Progress(ctx, req, "summarize_url"))
		if err != nil {
			return nil, engine.SummarizeOutput{}, toolutil.ToolError("summarize_url", err)
		}
		return nil, engine.NewSummarizeOutput(res), nil
	})
}

func registerYouTubeTranscript(server *mcp.Server, resolver pipeline.TranscriptResolver) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "youtube_transcript",
		Description: "Fetch the English transcript of a YouTube video. Falls back to a Hindi track translated to English, then to any track YouTube can translate. Returns plain text plus the list of available caption tracks.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(ctx context.Context, req *mcp.CallToolRequest, input engine.TranscriptInput) (*mcp.CallToolResult, engine.TranscriptOutput, error) {
		u, err := engine.ValidateURL(input.URL)
		if err != nil {
			return nil, engine.TranscriptOutput{}, toolutil.ToolError("youtube_transcript", err)
		}
		id := engine.ExtractVideoID(u.String())
		if id == "" {
			return nil, engine.TranscriptOutput{}, toolutil.ToolError("youtube_transcript",
				engine.NewError(engine.KindInvalidConfiguration, "not a YouTube video URL", nil))
		}

		tr, err := resolver.Resolve(ctx, id, toolutil.Progress(ctx, req, "youtube_transcript"))
		if err != nil {
			return nil, engine.TranscriptOutput{}, toolutil.ToolError("youtube_transcript", err)
		}
		track := tr.Track.LanguageCode
		switch {
		case tr.Track.TranslatedFrom != "":
			track += " (translated from " + tr.Track.TranslatedFrom + ")"
		case tr.Translated:
			track += " (translated)"
		}
		return nil, engine.TranscriptOutput{
			VideoID:    tr.VideoID,
			Language:   "en",
			Track:      track,
			Translated: tr.Translated,
			SourceLang: tr.Track.TranslatedFrom,
			WordCount:  engine.WordCount(tr.Text),
			Text:       tr.Text,
			Available:  tr.Available,
		}, nil
	})
}

func registerReadURL(server *mcp.Server, cfg engine.Config, loader engine.Loader) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "read_url",
		Description: "Fetch a webpage and return its main readable text as markdown (boilerplate, navigation and scripts removed). Useful to inspect what summarize_url would read.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(ctx context.Context, req *mcp.CallToolRequest, input engine.ReadURLInput) (*mcp.CallToolResult, engine.ReadURLOutput, error) {
		u, err := engine.ValidateURL(input.URL)
		if err != nil {
			return nil, engine.ReadURLOutput{}, toolutil.ToolError("read_url", err)
		}
		opts := engine.DefaultLoadOptions(cfg)
		if input.SSLVerify != nil {
			opts.SSLVerify = *input.SSLVerify
		}

		docs, err := loader.Load(ctx, u.String(), opts)
		if err != nil {
			return nil, engine.ReadURLOutput{}, toolutil.ToolError("read_url", err)
		}
		if len(docs) == 0 {
			return nil, engine.ReadURLOutput{}, toolutil.ToolError("read_url",
				engine.NewError(engine.KindNoContent, "no readable text at "+u.String(), nil))
		}

		doc := docs[0]
		out := engine.ReadURLOutput{
			URL:     u.String(),
			Title:   doc.Metadata["title"],
			Content: doc.Content,
		}
		if input.MaxChars > 0 && utf8.RuneCountInString(out.Content) > input.MaxChars {
			out.Content = engine.TruncateAtWord(out.Content, input.MaxChars)
			out.Truncated = true
		}
		out.CharacterCount = utf8.RuneCountInString(out.Content)
		out.WordCount = engine.WordCount(out.Content)
		return nil, out, nil
	})
}

func registerListModels(server *mcp.Server, cfg engine.Config) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_models",
		Description: "List the LLM models summarize_url accepts, with their context windows, plus the available strategies and output token limits.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(ctx context.Context, req *mcp.CallToolRequest, _ engine.ListModelsInput) (*mcp.CallToolResult, engine.ListModelsOutput, error) {
		return nil, listModels(cfg), nil
	})
}

func listModels(cfg engine.Config) engine.ListModelsOutput {
	names := cfg.AllowedModels
	if len(names) == 0 {
		names = []string{cfg.DefaultModel}
	}
	out := engine.ListModelsOutput{
		Models:           make([]engine.ModelInfo, 0, len(names)),
		DefaultStrategy:  string(cfg.DefaultStrategy),
		DefaultMaxTokens: cfg.DefaultMaxTokens,
		MaxTokensCap:     cfg.MaxOutputTokensCap,
	}
	for _, name := range names {
		out.Models = append(out.Models, engine.ModelInfo{
			Name:          name,
			ContextWindow: cfg.ContextWindow(name),
			Default:       name == cfg.DefaultModel,
		})
	}
	for _, s := range engine.Strategies {
		out.Strategies = append(out.Strategies, string(s))
	}
	return out
}
