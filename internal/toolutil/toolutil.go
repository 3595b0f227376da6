// Package toolutil provides shared helpers for go_tldr MCP tools.
package toolutil

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/anatolykoptev/go_tldr/internal/engine"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Progress returns a ProgressFunc that logs every event and, when the client
// sent a progress token, forwards it as notifications/progress. Percentages
// never go backwards, even when map workers finish out of order.
func Progress(ctx context.Context, req *mcp.CallToolRequest, tool string) engine.ProgressFunc {
	var token any
	if req != nil && req.Params != nil {
		token = req.Params.GetProgressToken()
	}
	var session *mcp.ServerSession
	if req != nil {
		session = req.Session
	}

	var (
		mu   sync.Mutex
		last int
	)
	return func(e engine.ProgressEvent) {
		mu.Lock()
		defer mu.Unlock()
		pct := max(e.Percent, last)
		last = pct

		slog.Debug("progress", slog.String("tool", tool), slog.String("stage", e.Stage),
			slog.Int("percent", pct), slog.String("message", e.Message))
		if token == nil || session == nil {
			return
		}
		err := session.NotifyProgress(ctx, &mcp.ProgressNotificationParams{
			ProgressToken: token,
			Progress:      float64(pct),
			Total:         100,
			Message:       e.Message,
		})
		if err != nil {
			slog.Debug("progress notification failed", slog.String("tool", tool), slog.Any("error", err))
		}
	}
}

// ToolError turns a pipeline error into the message shown to the user.
// The full error chain is logged.
func ToolError(tool string, err error) error {
	slog.Warn(tool+" failed", slog.String("kind", engine.KindOf(err).String()), slog.Any("error", err))
	return errors.New(engine.UserMessage(err))
}
