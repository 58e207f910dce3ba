package llm

import "context"

// Provider generates text from a system prompt and a human prompt. Every
// backend applies its own request timeout on top of the caller's context.
type Provider interface {
	// Name returns the registry key for this backend.
	Name() string
	// Generate produces a completion. Implementations return the raw model
	// text without post-processing.
	Generate(ctx context.Context, system, prompt string) (string, error)
}
