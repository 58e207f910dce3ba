package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aegisstack/aegis-agent/internal/llm"
	"github.com/aegisstack/aegis-agent/internal/models"
	"github.com/aegisstack/aegis-agent/internal/utils"
)

// Retriever fetches reference documents by similarity search.
type Retriever interface {
	Search(ctx context.Context, collection, query string, topK int) ([]models.Document, error)
}

// Analyzer runs the retrieval-augmented analysis pass: preview text in,
// structured multi-finding report out.
type Analyzer struct {
	logger       *slog.Logger
	retriever    Retriever
	systemPrompt string
}

// NewAnalyzer constructs the analysis stage.
func NewAnalyzer(logger *slog.Logger, retriever Retriever, systemPrompt string) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{logger: logger, retriever: retriever, systemPrompt: systemPrompt}
}

// Analyze retrieves topK criteria documents for the preview text and asks the
// provider for a JSON array of findings. Malformed model output is terminal:
// it surfaces as ErrMalformedAnalysis and is never coerced into a partial
// report. An empty context or an empty findings array is valid.
func (a *Analyzer) Analyze(ctx context.Context, provider llm.Provider, preview, collection string, topK int, lang models.LanguageCode) ([]models.Finding, error) {
	docs, err := a.retriever.Search(ctx, collection, preview, topK)
	if err != nil {
		return nil, utils.NewAppError("engine.analyze", "retrieve analysis context", err)
	}
	if len(docs) == 0 {
		a.logger.Warn("no context documents retrieved", slog.String("collection", collection))
	}

	prompt := buildAnalysisPrompt(docs, preview, lang)
	raw, err := provider.Generate(ctx, a.systemPrompt, prompt)
	if err != nil {
		return nil, utils.NewAppError("engine.analyze", "generate analysis", err)
	}

	cleaned := StripCodeFence(raw)
	var findings []models.Finding
	if err := json.Unmarshal([]byte(cleaned), &findings); err != nil {
		return nil, utils.NewAppError("engine.analyze", "parse analysis report",
			fmt.Errorf("%w: %v", utils.ErrMalformedAnalysis, err))
	}
	return findings, nil
}

func buildAnalysisPrompt(docs []models.Document, preview string, lang models.LanguageCode) string {
	var b strings.Builder
	b.WriteString("Reference criteria:\n")
	if len(docs) == 0 {
		b.WriteString("(none)\n")
	}
	for _, doc := range docs {
		b.WriteString(doc.Content)
		b.WriteString("\n\n")
	}
	b.WriteString("\nLog summary:\n")
	b.WriteString(preview)
	b.WriteString("\n\nRespond in language: ")
	b.WriteString(string(lang))
	return b.String()
}

// StripCodeFence removes a surrounding Markdown code fence (``` or ```json)
// from LLM output, leaving the inner payload.
func StripCodeFence(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.IndexByte(trimmed, '\n'); idx >= 0 {
		// Drop the language tag on the opening fence line.
		head := strings.TrimSpace(trimmed[:idx])
		if head == "" || isFenceTag(head) {
			trimmed = trimmed[idx+1:]
		}
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}

func isFenceTag(s string) bool {
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}
