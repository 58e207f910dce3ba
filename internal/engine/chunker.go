package engine

import (
	"fmt"
	"strings"

	"github.com/aegisstack/aegis-agent/internal/utils"
)

// Chunk is a line-aligned slice of log text sized to an estimated token
// budget. Index is 0-based; Total is the chunk count for the whole input.
type Chunk struct {
	Index   int
	Total   int
	Content string
}

// EstimateTokens approximates the token count of text using a fixed
// characters-per-token divisor. This is deliberately a rough estimate, not a
// tokenizer.
func EstimateTokens(text string, charsPerToken int) int {
	if charsPerToken <= 0 {
		return len(text)
	}
	return len(text) / charsPerToken
}

// ChunkLogs splits log text into chunks whose estimated token count stays
// under maxTokens. Splits happen only at line boundaries; joining all chunk
// contents with a newline reproduces the input exactly. A single line larger
// than the budget becomes its own over-budget chunk.
func ChunkLogs(text string, maxTokens, charsPerToken int) ([]Chunk, error) {
	if maxTokens <= 0 {
		return nil, fmt.Errorf("%w: max tokens per chunk must be positive, got %d", utils.ErrConfigurationInvalid, maxTokens)
	}
	if charsPerToken <= 0 {
		return nil, fmt.Errorf("%w: chars per token must be positive, got %d", utils.ErrConfigurationInvalid, charsPerToken)
	}

	// Fast path: the whole input fits in one chunk.
	if EstimateTokens(text, charsPerToken) <= maxTokens {
		return []Chunk{{Index: 0, Total: 1, Content: text}}, nil
	}

	lines := strings.Split(text, "\n")
	var contents []string
	var current strings.Builder

	for _, line := range lines {
		// The joining newline counts toward the estimate.
		added := len(line)
		if current.Len() > 0 {
			added++
		}
		if current.Len() > 0 && (current.Len()+added)/charsPerToken > maxTokens {
			contents = append(contents, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteByte('\n')
		}
		current.WriteString(line)
	}
	contents = append(contents, current.String())

	chunks := make([]Chunk, len(contents))
	for i, content := range contents {
		chunks[i] = Chunk{Index: i, Total: len(contents), Content: content}
	}
	return chunks, nil
}
