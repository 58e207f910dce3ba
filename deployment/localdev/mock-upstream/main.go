// Command mock-upstream stands in for every external dependency of the agent
// during local development: the Ollama generation and embedding endpoints, the
// Qdrant search API and the alert webhook.
package main

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"
)

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	System string `json:"system"`
}

type searchResult struct {
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/api/generate", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		writeJSON(w, map[string]any{"response": cannedCompletion(req.Prompt)})
	})

	mux.HandleFunc("/api/embeddings", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		writeJSON(w, map[string]any{
			"embedding": []float64{0.11, -0.42, 0.05, 0.93, -0.27, 0.64, 0.08, -0.19},
		})
	})

	mux.HandleFunc("/collections/", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		if !strings.HasSuffix(r.URL.Path, "/points/search") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeJSON(w, map[string]any{
			"result": []searchResult{
				{
					Score: 0.91,
					Payload: map[string]any{
						"page_content": "Multiple failed logins from a single source within 5 minutes indicate brute force.",
						"metadata":     map[string]any{"source": "criteria.md"},
					},
				},
				{
					Score: 0.84,
					Payload: map[string]any{
						"page_content": "Isolate the affected host and rotate exposed credentials.",
						"metadata":     map[string]any{"source": "sop.md"},
					},
				},
			},
		})
	})

	mux.HandleFunc("/alerts", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		log.Printf("alert received: priority=%v", payload["priority_level"])
		writeJSON(w, map[string]any{
			"results": []map[string]any{
				{"channel": "it-server", "status": "sent"},
				{"channel": "security-team", "status": "sent"},
			},
		})
	})

	logger := log.New(log.Writer(), "mock-upstream ", log.LstdFlags|log.Lmicroseconds)
	srv := &http.Server{
		Addr:    ":11434",
		Handler: logRequests(logger, mux),
	}

	logger.Println("listening on :11434")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

// cannedCompletion picks a response shape matching the stage that asked: the
// analyzer and QRT prompts expect JSON, the previewer expects plain text.
func cannedCompletion(prompt string) string {
	switch {
	case strings.Contains(prompt, "Reported issue:"):
		return `{"priority_level":"P2","short_report":"Brute force attempt detected; isolate the source host."}`
	case strings.Contains(prompt, "Log summary:"):
		return `[{"analysis_report":"Repeated failed SSH logins from 10.0.0.9 targeting root.","priority_level":"P2","src_ip":"10.0.0.9"}]`
	default:
		return "Condensed view: repeated failed SSH logins from a single source address."
	}
}

func enforcePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
