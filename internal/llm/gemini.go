package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/aegisstack/aegis-agent/internal/utils"
)

// GeminiProvider generates completions via the Google Gemini API.
type GeminiProvider struct {
	client  *genai.Client
	model   string
	timeout time.Duration
}

// NewGeminiProvider initialises the Gemini client. It fails fast when no API
// key is available.
func NewGeminiProvider(ctx context.Context, apiKey, model string, timeout time.Duration) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: gemini api key is required", utils.ErrConfigurationInvalid)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	return &GeminiProvider{client: client, model: model, timeout: timeout}, nil
}

// Name implements Provider.
func (p *GeminiProvider) Name() string { return "gemini" }

// Client exposes the underlying genai client so the embedding layer can share
// one connection.
func (p *GeminiProvider) Client() *genai.Client { return p.client }

// Generate sends the prompt as a single user turn, carrying the system prompt
// through SystemInstruction.
func (p *GeminiProvider) Generate(ctx context.Context, system, prompt string) (string, error) {
	reqCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(0.2)),
	}
	if system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	contents := []*genai.Content{
		genai.NewContentFromText(prompt, genai.RoleUser),
	}

	resp, err := p.client.Models.GenerateContent(reqCtx, p.model, contents, config)
	if err != nil {
		return "", utils.AsTimeout("llm.gemini.generate", fmt.Errorf("gemini generation failed: %w", err))
	}

	var out strings.Builder
	if resp != nil {
		for _, candidate := range resp.Candidates {
			if candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if part.Text != "" {
					out.WriteString(part.Text)
				}
			}
			if out.Len() > 0 {
				break
			}
		}
	}
	if out.Len() == 0 {
		return "", fmt.Errorf("gemini returned empty response")
	}
	return out.String(), nil
}
