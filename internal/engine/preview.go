package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/aegisstack/aegis-agent/internal/llm"
	"github.com/aegisstack/aegis-agent/internal/metrics"
)

// Previewer condenses raw log text into a summary small enough for the
// analysis pass. Oversized input is chunked and each chunk is summarised
// concurrently.
type Previewer struct {
	logger        *slog.Logger
	systemPrompt  string
	maxTokens     int
	charsPerToken int
}

// NewPreviewer constructs a preview stage with the given per-chunk token
// budget.
func NewPreviewer(logger *slog.Logger, systemPrompt string, maxTokens, charsPerToken int) *Previewer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Previewer{
		logger:        logger,
		systemPrompt:  systemPrompt,
		maxTokens:     maxTokens,
		charsPerToken: charsPerToken,
	}
}

// Preview returns the combined preview for logText. Small input is summarised
// with a single LLM call; chunked input produces one call per chunk, and the
// results are joined in chunk-index order regardless of completion order. Any
// chunk failure fails the whole preview.
func (p *Previewer) Preview(ctx context.Context, provider llm.Provider, logText string) (string, error) {
	chunks, err := ChunkLogs(logText, p.maxTokens, p.charsPerToken)
	if err != nil {
		return "", err
	}

	if len(chunks) == 1 {
		preview, err := provider.Generate(ctx, p.systemPrompt, chunks[0].Content)
		if err != nil {
			return "", fmt.Errorf("preview logs: %w", err)
		}
		return preview, nil
	}

	p.logger.Info("previewing oversized log input",
		slog.Int("chunks", len(chunks)),
		slog.Int("chars", len(logText)))

	results := make([]string, len(chunks))
	errs := make([]error, len(chunks))
	var wg sync.WaitGroup
	for _, chunk := range chunks {
		wg.Add(1)
		go func(c Chunk) {
			defer wg.Done()
			prompt := fmt.Sprintf("--- Chunk %d of %d ---\n%s", c.Index+1, c.Total, c.Content)
			preview, err := provider.Generate(ctx, p.systemPrompt, prompt)
			if err != nil {
				errs[c.Index] = fmt.Errorf("preview chunk %d of %d: %w", c.Index+1, c.Total, err)
				return
			}
			results[c.Index] = preview
		}(chunk)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return "", err
		}
	}

	metrics.AddPreviewChunks(len(chunks))
	return strings.Join(results, "\n\n"), nil
}
