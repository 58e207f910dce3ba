package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aegisstack/aegis-agent/internal/cache"
	"github.com/aegisstack/aegis-agent/internal/models"
)

// QdrantRepo retrieves reference documents (security criteria, SOPs) from a
// Qdrant instance via similarity search.
type QdrantRepo struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	embedder   Embedder
	cache      cache.Provider
	cacheTTL   time.Duration
}

// NewQdrantRepo constructs a Qdrant client. A nil cache provider disables
// retrieval caching.
func NewQdrantRepo(endpoint, apiKey string, timeout time.Duration, embedder Embedder, cacheProvider cache.Provider, cacheTTL time.Duration) *QdrantRepo {
	if cacheProvider == nil {
		cacheProvider = cache.NoopProvider{}
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if cacheTTL < 0 {
		cacheTTL = 0
	}
	return &QdrantRepo{
		endpoint:   strings.TrimRight(endpoint, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		embedder:   embedder,
		cache:      cacheProvider,
		cacheTTL:   cacheTTL,
	}
}

// Search embeds the query and returns the topK nearest documents from the
// collection. Results are cached per (collection, query, topK).
func (r *QdrantRepo) Search(ctx context.Context, collection, query string, topK int) ([]models.Document, error) {
	if r == nil {
		return nil, fmt.Errorf("qdrant repo not initialised")
	}
	if r.endpoint == "" {
		return nil, fmt.Errorf("qdrant endpoint not configured")
	}
	if topK <= 0 {
		topK = 5
	}

	cacheKey := ""
	if r.cacheTTL > 0 {
		cacheKey = cache.RetrievalKey(collection, query, topK)
		if data, err := r.cache.Get(ctx, cacheKey); err == nil {
			var cached []models.Document
			if err := json.Unmarshal(data, &cached); err == nil {
				return cached, nil
			}
		}
	}

	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	payload := map[string]interface{}{
		"vector":       vector,
		"limit":        topK,
		"with_payload": true,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal search payload: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s/points/search", r.endpoint, collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("api-key", r.apiKey)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("qdrant search failed: %s: %s", resp.Status, strings.TrimSpace(string(data)))
	}

	var response struct {
		Result []struct {
			Score   float64                `json:"score"`
			Payload map[string]interface{} `json:"payload"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	docs := make([]models.Document, 0, len(response.Result))
	for _, hit := range response.Result {
		docs = append(docs, models.Document{
			Content:  payloadContent(hit.Payload),
			Metadata: payloadMetadata(hit.Payload),
			Score:    hit.Score,
		})
	}

	if r.cacheTTL > 0 && cacheKey != "" && len(docs) > 0 {
		if data, err := json.Marshal(docs); err == nil {
			_ = r.cache.Set(ctx, cacheKey, data, r.cacheTTL)
		}
	}

	return docs, nil
}

// payloadContent pulls the document text from the payload, tolerating the
// field names used by different ingestion tools.
func payloadContent(payload map[string]interface{}) string {
	for _, key := range []string{"page_content", "content", "text"} {
		if v, ok := payload[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func payloadMetadata(payload map[string]interface{}) map[string]interface{} {
	if meta, ok := payload["metadata"].(map[string]interface{}); ok {
		return meta
	}
	meta := make(map[string]interface{})
	for k, v := range payload {
		switch k {
		case "page_content", "content", "text":
			continue
		}
		meta[k] = v
	}
	if len(meta) == 0 {
		return nil
	}
	return meta
}
