package summaryserver

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anatolykoptev/go_tldr/internal/engine"
	"github.com/anatolykoptev/go_tldr/internal/engine/pipeline"
	"github.com/anatolykoptev/go_tldr/internal/engine/sources"
)

const (
	testTimeout = 2 * time.Second
	testTick    = 10 * time.Millisecond
)

type stubResolver struct {
	err error
}

func (s stubResolver) Resolve(_ context.Context, videoID string, progress engine.ProgressFunc) (*sources.Transcript, error) {
	if s.err != nil {
		return nil, s.err
	}
	progress.Emit(engine.StageTranscript, "Found 2 transcript tracks", 20)
	return &sources.Transcript{
		VideoID:    videoID,
		Text:       "namaste and welcome to the channel",
		Track:      engine.TranscriptLanguageOption{LanguageCode: "en", TranslatedFrom: "hi"},
		Translated: true,
		Available:  []engine.TranscriptLanguageOption{{LanguageCode: "hi", IsTranslatable: true}},
	}, nil
}

type stubLoader struct{}

func (stubLoader) Load(_ context.Context, rawURL string, _ engine.LoadOptions) ([]engine.Document, error) {
	if strings.Contains(rawURL, "empty") {
		return nil, nil
	}
	return []engine.Document{{
		Content:  "Alpha beta gamma delta epsilon zeta eta theta.",
		Source:   rawURL,
		Metadata: map[string]string{"title": "Greek"},
	}}, nil
}

type stubCompleter struct{}

func (stubCompleter) Complete(context.Context, string, string, int) (string, error) {
	return "A tidy summary.", nil
}

func connect(t *testing.T, resolver pipeline.TranscriptResolver, opts *mcp.ClientOptions) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()

	coord, err := pipeline.New(engine.DefaultConfig(), resolver, stubLoader{}, stubCompleter{})
	require.NoError(t, err)

	server := mcp.NewServer(&mcp.Implementation{Name: "go_tldr", Version: "test"}, nil)
	RegisterTools(server, Deps{Coordinator: coord, Resolver: resolver, Loader: stubLoader{}})

	serverT, clientT := mcp.NewInMemoryTransports()
	ss, err := server.Connect(ctx, serverT, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ss.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "test"}, opts)
	cs, err := client.Connect(ctx, clientT, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

func call[T any](t *testing.T, cs *mcp.ClientSession, params *mcp.CallToolParams) (T, *mcp.CallToolResult) {
	t.Helper()
	res, err := cs.CallTool(context.Background(), params)
	require.NoError(t, err)
	var out T
	if !res.IsError {
		raw, err := json.Marshal(res.StructuredContent)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return out, res
}

func resultText(res *mcp.CallToolResult) string {
	var sb strings.Builder
	for _, c := range res.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return sb.String()
}

func TestRegisterTools_ListsAllTools(t *testing.T) {
	cs := connect(t, stubResolver{}, nil)
	res, err := cs.ListTools(context.Background(), nil)
	require.NoError(t, err)

	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"summarize_url", "youtube_transcript", "read_url", "list_models"}, names)
	assert.Len(t, names, ToolCount)
}

func TestSummarizeURL(t *testing.T) {
	cs := connect(t, stubResolver{}, nil)
	out, res := call[engine.SummarizeOutput](t, cs, &mcp.CallToolParams{
		Name:      "summarize_url",
		Arguments: map[string]any{"url": "https://example.com/greek", "strategy": "refine", "max_tokens": 300},
	})
	require.False(t, res.IsError, resultText(res))

	assert.Equal(t, "A tidy summary.", out.Summary)
	assert.Equal(t, "page", out.SourceKind)
	assert.Equal(t, "Greek", out.Title)
	assert.Equal(t, "Alpha beta gamma delta epsilon zeta eta theta.", out.Preview)
	assert.Equal(t, "refine", out.Strategy)
	assert.Equal(t, 300, out.MaxTokens)
	assert.Equal(t, 8, out.WordCount)
	assert.Equal(t, 3, out.SummaryWordCount)
	assert.Equal(t, 1, out.CompletionCalls)
	assert.NotEmpty(t, out.GeneratedAt)
}

func TestSummarizeURL_UserFacingErrors(t *testing.T) {
	blocked := engine.NewError(engine.KindProviderBlocked, "captcha", nil)
	cs := connect(t, stubResolver{err: blocked}, nil)

	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{"bad model", map[string]any{"url": "https://example.com", "model": "nope"}, "Invalid request"},
		{"empty page", map[string]any{"url": "https://example.com/empty"}, "No readable content"},
		{"blocked", map[string]any{"url": "https://youtu.be/dQw4w9WgXcQ"}, "Webpage summaries still work"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, res := call[engine.SummarizeOutput](t, cs, &mcp.CallToolParams{Name: "summarize_url", Arguments: tt.args})
			require.True(t, res.IsError)
			assert.Contains(t, resultText(res), tt.want)
		})
	}
}

func TestSummarizeURL_ProgressNotifications(t *testing.T) {
	var (
		mu     sync.Mutex
		values []float64
	)
	cs := connect(t, stubResolver{}, &mcp.ClientOptions{
		ProgressNotificationHandler: func(_ context.Context, req *mcp.ProgressNotificationClientRequest) {
			mu.Lock()
			values = append(values, req.Params.Progress)
			mu.Unlock()
		},
	})

	_, res := call[engine.SummarizeOutput](t, cs, &mcp.CallToolParams{
		Meta:      mcp.Meta{"progressToken": "tok-1"},
		Name:      "summarize_url",
		Arguments: map[string]any{"url": "https://www.youtube.com/watch?v=dQw4w9WgXcQ"},
	})
	require.False(t, res.IsError, resultText(res))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(values) > 0 && values[len(values)-1] == 100
	}, testTimeout, testTick)

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(values); i++ {
		assert.GreaterOrEqual(t, values[i], values[i-1])
	}
}

func TestYouTubeTranscript(t *testing.T) {
	cs := connect(t, stubResolver{}, nil)
	out, res := call[engine.TranscriptOutput](t, cs, &mcp.CallToolParams{
		Name:      "youtube_transcript",
		Arguments: map[string]any{"url": "https://youtu.be/dQw4w9WgXcQ"},
	})
	require.False(t, res.IsError, resultText(res))
	assert.Equal(t, "dQw4w9WgXcQ", out.VideoID)
	assert.Equal(t, "en (translated from hi)", out.Track)
	assert.Equal(t, "hi", out.SourceLang)
	assert.True(t, out.Translated)
	assert.Equal(t, 6, out.WordCount)
	assert.Len(t, out.Available, 1)

	_, res = call[engine.TranscriptOutput](t, cs, &mcp.CallToolParams{
		Name:      "youtube_transcript",
		Arguments: map[string]any{"url": "https://example.com/video"},
	})
	require.True(t, res.IsError)
	assert.Contains(t, resultText(res), "not a YouTube video URL")
}

func TestReadURL(t *testing.T) {
	cs := connect(t, stubResolver{}, nil)
	out, res := call[engine.ReadURLOutput](t, cs, &mcp.CallToolParams{
		Name:      "read_url",
		Arguments: map[string]any{"url": "https://example.com/greek", "max_chars": 20},
	})
	require.False(t, res.IsError, resultText(res))
	assert.Equal(t, "Greek", out.Title)
	assert.True(t, out.Truncated)
	assert.Less(t, out.CharacterCount, len("Alpha beta gamma delta epsilon zeta eta theta."))
	assert.True(t, strings.HasPrefix(out.Content, "Alpha beta"))
}

func TestListModels(t *testing.T) {
	cs := connect(t, stubResolver{}, nil)
	out, res := call[engine.ListModelsOutput](t, cs, &mcp.CallToolParams{Name: "list_models", Arguments: map[string]any{}})
	require.False(t, res.IsError, resultText(res))

	require.Len(t, out.Models, 3)
	windows := map[string]int{}
	var def string
	for _, m := range out.Models {
		windows[m.Name] = m.ContextWindow
		if m.Default {
			def = m.Name
		}
	}
	assert.Equal(t, 32768, windows["mixtral-8x7b-32768"])
	assert.Equal(t, "llama3-8b-8192", def)
	assert.Equal(t, []string{"stuff", "map_reduce", "refine"}, out.Strategies)
	assert.Equal(t, "map_reduce", out.DefaultStrategy)
	assert.Equal(t, 1200, out.MaxTokensCap)
}
