package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/aegisstack/aegis-agent/internal/utils"
)

// ClaudeProvider generates completions via the Anthropic Messages API.
type ClaudeProvider struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	timeout   time.Duration
}

// NewClaudeProvider initialises the Anthropic client. It fails fast when no
// API key is available.
func NewClaudeProvider(apiKey, model string, maxTokens int, timeout time.Duration) (*ClaudeProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: anthropic api key is required", utils.ErrConfigurationInvalid)
	}
	if maxTokens <= 0 {
		maxTokens = 8192
	}

	client := anthropic.NewClient(
		option.WithAPIKey(apiKey),
	)

	return &ClaudeProvider{
		client:    client,
		model:     model,
		maxTokens: int64(maxTokens),
		timeout:   timeout,
	}, nil
}

// Name implements Provider.
func (p *ClaudeProvider) Name() string { return "claude" }

// Generate sends the prompt as a single user message with the system prompt
// attached as a system block.
func (p *ClaudeProvider) Generate(ctx context.Context, system, prompt string) (string, error) {
	reqCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: p.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: system},
		}
	}

	resp, err := p.client.Messages.New(reqCtx, params)
	if err != nil {
		return "", utils.AsTimeout("llm.claude.generate", fmt.Errorf("claude generation failed: %w", err))
	}

	var out strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	if out.Len() == 0 {
		return "", fmt.Errorf("claude returned empty response")
	}
	return out.String(), nil
}
