package toolutil

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/anatolykoptev/go_tldr/internal/engine"
)

func TestToolError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"no content", engine.NewError(engine.KindNoContent, "empty page", nil), "No readable content was found at this URL."},
		{"blocked", engine.ErrProviderBlocked, "Webpage summaries still work."},
		{"plain", errors.New("boom"), "Something went wrong: boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ToolError("summarize_url", tt.err)
			if got == nil {
				t.Fatal("ToolError returned nil")
			}
			if !strings.HasSuffix(got.Error(), tt.want) {
				t.Errorf("ToolError() = %q, want suffix %q", got, tt.want)
			}
		})
	}
}

// Events without a progress token or session are only logged.
func TestProgress_NoToken(t *testing.T) {
	for _, req := range []*mcp.CallToolRequest{nil, {}} {
		p := Progress(context.Background(), req, "read_url")
		p.Emit(engine.StageLoad, "Fetching page", 15)
		p.Emit(engine.StageInit, "late event", 5)
		p.Emit(engine.StageDone, "Done", 100)
	}
}
