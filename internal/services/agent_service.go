package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/aegisstack/aegis-agent/internal/metrics"
	"github.com/aegisstack/aegis-agent/internal/models"
	"github.com/aegisstack/aegis-agent/internal/repo"
	"github.com/aegisstack/aegis-agent/internal/utils"
)

// AnalysisRunner is the pipeline surface the service drives.
type AnalysisRunner interface {
	Analyze(ctx context.Context, req models.AnalysisRequest) ([]models.Finding, error)
}

// ReportHistory exposes read access to persisted findings.
type ReportHistory interface {
	ListReports(ctx context.Context, limit int) ([]repo.ReportRecord, error)
	LatestReportID(ctx context.Context) (string, error)
}

// ModelRegistry exposes the provider selection operations.
type ModelRegistry interface {
	List() []models.ModelInfo
	Current() string
	Switch(name string) error
}

// HealthStatus is the payload of the health endpoint.
type HealthStatus struct {
	Status       string             `json:"status"`
	CurrentModel string             `json:"current_model"`
	Models       []models.ModelInfo `json:"available_models"`
	AnalysisP95  string             `json:"analysis_p95"`
	LastReportID string             `json:"last_report_id,omitempty"`
}

// AgentService fronts the analysis pipeline and model registry for the HTTP
// layer.
type AgentService struct {
	logger    *slog.Logger
	pipeline  AnalysisRunner
	registry  ModelRegistry
	history   ReportHistory
	latencies *utils.LatencyTracker
}

// NewAgentService constructs the service facade. history may be nil when
// report listing is not wired.
func NewAgentService(logger *slog.Logger, pipeline AnalysisRunner, registry ModelRegistry, history ReportHistory) *AgentService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AgentService{
		logger:    logger,
		pipeline:  pipeline,
		registry:  registry,
		history:   history,
		latencies: utils.NewLatencyTracker(1024),
	}
}

// AnalyzeLogs runs one analysis request through the pipeline and records
// latency and outcome metrics around it.
func (s *AgentService) AnalyzeLogs(ctx context.Context, req models.AnalysisRequest) ([]models.Finding, error) {
	start := time.Now()
	findings, err := s.pipeline.Analyze(ctx, req)
	duration := time.Since(start)
	if err != nil {
		metrics.ObserveAnalysis(duration, metrics.OutcomeError)
		s.logger.Error("log analysis failed",
			slog.String("log_src", req.LogSource),
			slog.Any("error", err))
		return nil, err
	}

	s.latencies.Observe(duration)
	metrics.ObserveAnalysis(duration, metrics.OutcomeSuccess)
	if count := s.latencies.Count(); count >= 20 && count%20 == 0 {
		s.logger.Info("analysis latency",
			slog.Duration("p95", s.latencies.Percentile(95)),
			slog.Int("samples", count))
	}

	s.logger.Info("log analysis complete",
		slog.String("log_src", req.LogSource),
		slog.Int("findings", len(findings)),
		slog.Duration("took", duration))
	return findings, nil
}

// Models lists the registered generation backends.
func (s *AgentService) Models() []models.ModelInfo {
	return s.registry.List()
}

// SwitchModel changes the default generation backend. Unknown names leave the
// selection untouched.
func (s *AgentService) SwitchModel(name string) error {
	if err := s.registry.Switch(name); err != nil {
		s.logger.Warn("model switch rejected", slog.String("model", name), slog.Any("error", err))
		return err
	}
	s.logger.Info("model switched", slog.String("model", name))
	return nil
}

// RecentReports returns the newest persisted findings.
func (s *AgentService) RecentReports(ctx context.Context, limit int) ([]repo.ReportRecord, error) {
	if s.history == nil {
		return nil, errors.New("report history not configured")
	}
	records, err := s.history.ListReports(ctx, limit)
	if err != nil {
		s.logger.Error("list reports failed", slog.Any("error", err))
		return nil, err
	}
	return records, nil
}

// Health reports service status alongside the model inventory, the rolling
// analysis latency and the newest persisted report ID.
func (s *AgentService) Health(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:       "ok",
		CurrentModel: s.registry.Current(),
		Models:       s.registry.List(),
		AnalysisP95:  s.LatencyP95().String(),
	}
	if s.history != nil {
		latest, err := s.history.LatestReportID(ctx)
		if err != nil {
			s.logger.Warn("latest report id lookup failed", slog.Any("error", err))
		} else {
			status.LastReportID = latest
		}
	}
	return status
}

// LatencyP95 returns the current p95 analysis latency.
func (s *AgentService) LatencyP95() time.Duration {
	return s.latencies.Percentile(95)
}
