package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
)

// Metrics tracks operational counters across the engine.
var metrics struct {
	SummaryRequests           atomic.Int64
	SummaryErrors             atomic.Int64
	VideoRequests             atomic.Int64
	PageRequests              atomic.Int64
	ChunksProduced            atomic.Int64
	LLMCalls                  atomic.Int64
	LLMErrors                 atomic.Int64
	FetchRequests             atomic.Int64
	FetchErrors               atomic.Int64
	YouTubeTranscriptRequests atomic.Int64
}

var metricKeys = []string{
	"summary_requests", "summary_errors",
	"video_requests", "page_requests", "chunks_produced",
	"llm_calls", "llm_errors",
	"fetch_requests", "fetch_errors",
	"youtube_transcript_requests",
	"cache_hits", "cache_misses",
}

// GetMetrics returns a snapshot of all metrics including cache stats.
func GetMetrics() map[string]int64 {
	hits, misses := CacheStats()
	return map[string]int64{
		"summary_requests":            metrics.SummaryRequests.Load(),
		"summary_errors":              metrics.SummaryErrors.Load(),
		"video_requests":              metrics.VideoRequests.Load(),
		"page_requests":               metrics.PageRequests.Load(),
		"chunks_produced":             metrics.ChunksProduced.Load(),
		"llm_calls":                   metrics.LLMCalls.Load(),
		"llm_errors":                  metrics.LLMErrors.Load(),
		"fetch_requests":              metrics.FetchRequests.Load(),
		"fetch_errors":                metrics.FetchErrors.Load(),
		"youtube_transcript_requests": metrics.YouTubeTranscriptRequests.Load(),
		"cache_hits":                  hits,
		"cache_misses":                misses,
	}
}

// FormatMetrics returns metrics as a simple text format for HTTP endpoint.
func FormatMetrics() string {
	m := GetMetrics()
	var sb strings.Builder
	for _, k := range metricKeys {
		fmt.Fprintf(&sb, "%s %d\n", k, m[k])
	}
	return sb.String()
}

// Incrementors for the pipeline and sources sub-packages.
func IncrSummaryRequests()    { metrics.SummaryRequests.Add(1) }
func IncrSummaryErrors()      { metrics.SummaryErrors.Add(1) }
func IncrYouTubeTranscript()  { metrics.YouTubeTranscriptRequests.Add(1) }
func AddChunksProduced(n int) { metrics.ChunksProduced.Add(int64(n)) }

// IncrSourceKind counts a request by classified source.
func IncrSourceKind(k SourceKind) {
	if k == SourceVideo {
		metrics.VideoRequests.Add(1)
		return
	}
	metrics.PageRequests.Add(1)
}

// TrackOperation logs a warning if an operation takes longer than threshold.
func TrackOperation(ctx context.Context, name string, threshold time.Duration, fn func(context.Context) error) error {
	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)
	if elapsed > threshold {
		slog.Warn("slow operation", slog.String("op", name), slog.Duration("elapsed", elapsed))
	}
	return err
}
