package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aegisstack/aegis-agent/internal/utils"
)

// OllamaProvider generates completions from a local Ollama instance over its
// HTTP API.
type OllamaProvider struct {
	host       string
	model      string
	timeout    time.Duration
	httpClient *http.Client
}

// NewOllamaProvider constructs a provider targeting the configured host.
func NewOllamaProvider(host, model string, timeout time.Duration) *OllamaProvider {
	return &OllamaProvider{
		host:    strings.TrimRight(host, "/"),
		model:   model,
		timeout: timeout,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Name implements Provider.
func (p *OllamaProvider) Name() string { return "ollama" }

// Generate calls /api/generate with streaming disabled and returns the full
// response text.
func (p *OllamaProvider) Generate(ctx context.Context, system, prompt string) (string, error) {
	if p.host == "" {
		return "", fmt.Errorf("%w: ollama host not configured", utils.ErrConfigurationInvalid)
	}

	reqCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	payload := map[string]interface{}{
		"model":  p.model,
		"prompt": prompt,
		"stream": false,
	}
	if system != "" {
		payload["system"] = system
	}

	var response struct {
		Response string `json:"response"`
	}
	if err := p.postJSON(reqCtx, p.host+"/api/generate", payload, &response); err != nil {
		return "", utils.AsTimeout("llm.ollama.generate", fmt.Errorf("ollama generate failed: %w", err))
	}
	if strings.TrimSpace(response.Response) == "" {
		return "", fmt.Errorf("ollama returned empty response")
	}
	return response.Response, nil
}

func (p *OllamaProvider) postJSON(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama returned %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
