package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/aegisstack/aegis-agent/internal/cache"
)

type stubEmbedder struct {
	vector []float32
	calls  int
}

func (s *stubEmbedder) Embed(context.Context, string) ([]float32, error) {
	s.calls++
	return s.vector, nil
}

func TestQdrantSearchParsesPayload(t *testing.T) {
	embedder := &stubEmbedder{vector: []float32{0.1, 0.2}}
	repo := NewQdrantRepo("https://qdrant.test", "secret", time.Second, embedder, cache.NoopProvider{}, 0)
	repo.httpClient = newTestClient(roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != "/collections/SecurityCriteria/points/search" {
			t.Fatalf("unexpected path: %s", req.URL.Path)
		}
		if got := req.Header.Get("api-key"); got != "secret" {
			t.Fatalf("api-key header = %q", got)
		}

		var sent struct {
			Vector      []float32 `json:"vector"`
			Limit       int       `json:"limit"`
			WithPayload bool      `json:"with_payload"`
		}
		if err := json.NewDecoder(req.Body).Decode(&sent); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if sent.Limit != 3 || !sent.WithPayload || len(sent.Vector) != 2 {
			t.Fatalf("unexpected request body: %+v", sent)
		}

		body := []byte(`{"result":[
			{"score":0.91,"payload":{"page_content":"brute force criteria","metadata":{"source":"criteria.md"}}},
			{"score":0.72,"payload":{"content":"port scan criteria"}}
		]}`)
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(bytes.NewReader(body)),
			Header:     make(http.Header),
		}, nil
	}))

	docs, err := repo.Search(context.Background(), "SecurityCriteria", "failed ssh logins", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(docs))
	}
	if docs[0].Content != "brute force criteria" || docs[0].Score != 0.91 {
		t.Fatalf("unexpected first document: %+v", docs[0])
	}
	if docs[0].Metadata["source"] != "criteria.md" {
		t.Fatalf("metadata not extracted: %+v", docs[0].Metadata)
	}
	if docs[1].Content != "port scan criteria" {
		t.Fatalf("content fallback failed: %+v", docs[1])
	}
}

func TestQdrantSearchCachesResults(t *testing.T) {
	var hits int
	embedder := &stubEmbedder{vector: []float32{0.3}}
	cacheStub := newStubCache()
	repo := NewQdrantRepo("https://qdrant.test", "", time.Second, embedder, cacheStub, time.Minute)
	repo.httpClient = newTestClient(roundTripFunc(func(req *http.Request) (*http.Response, error) {
		hits++
		body := []byte(`{"result":[{"score":0.8,"payload":{"page_content":"sop entry"}}]}`)
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(bytes.NewReader(body)),
			Header:     make(http.Header),
		}, nil
	}))

	ctx := context.Background()
	first, err := repo.Search(ctx, "SOP", "lateral movement", 5)
	if err != nil {
		t.Fatalf("unexpected error on first call: %v", err)
	}
	if hits != 1 || embedder.calls != 1 {
		t.Fatalf("expected one upstream call, hits=%d embeds=%d", hits, embedder.calls)
	}

	second, err := repo.Search(ctx, "SOP", "lateral movement", 5)
	if err != nil {
		t.Fatalf("unexpected error on cached call: %v", err)
	}
	if hits != 1 || embedder.calls != 1 {
		t.Fatalf("cache miss triggered upstream call, hits=%d embeds=%d", hits, embedder.calls)
	}
	if len(first) != 1 || len(second) != 1 || second[0].Content != "sop entry" {
		t.Fatalf("unexpected cached payload: %+v", second)
	}
}

func TestQdrantSearchErrorStatus(t *testing.T) {
	embedder := &stubEmbedder{vector: []float32{0.5}}
	repo := NewQdrantRepo("https://qdrant.test", "", time.Second, embedder, cache.NoopProvider{}, 0)
	repo.httpClient = newTestClient(roundTripFunc(func(*http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusNotFound,
			Status:     "404 Not Found",
			Body:       io.NopCloser(bytes.NewReader([]byte(`{"status":{"error":"collection not found"}}`))),
			Header:     make(http.Header),
		}, nil
	}))

	if _, err := repo.Search(context.Background(), "Missing", "query", 5); err == nil {
		t.Fatal("expected error for 404 response")
	}
}

func TestOllamaEmbedderParsesVector(t *testing.T) {
	embedder := NewOllamaEmbedder("http://ollama.test", "nomic-embed-text", time.Second)
	embedder.httpClient = newTestClient(roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != "/api/embeddings" {
			t.Fatalf("unexpected path: %s", req.URL.Path)
		}
		body := []byte(`{"embedding":[0.25,-0.5,1.0]}`)
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(bytes.NewReader(body)),
			Header:     make(http.Header),
		}, nil
	}))

	vector, err := embedder.Embed(context.Background(), "some log line")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vector) != 3 || vector[0] != 0.25 || vector[2] != 1.0 {
		t.Fatalf("unexpected vector: %v", vector)
	}
}
