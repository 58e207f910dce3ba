package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aegisstack/aegis-agent/internal/llm"
	"github.com/aegisstack/aegis-agent/internal/models"
	"github.com/aegisstack/aegis-agent/internal/utils"
)

// ProviderSource supplies the generation backend for one request. The
// registry implements it; the pipeline snapshots the provider once per run so
// a concurrent model switch never splits a request across backends.
type ProviderSource interface {
	Snapshot() llm.Provider
}

// FindingStore persists stamped findings.
type FindingStore interface {
	SaveFinding(ctx context.Context, finding models.Finding) error
}

// AnalysisDefaults carries the configured fallbacks for requests that leave
// the retrieval collection or depth unset. Zero values defer to the built-in
// request defaults.
type AnalysisDefaults struct {
	Collection string
	TopK       int
}

// Pipeline sequences the analysis stages and fans each finding out into its
// own escalation task.
type Pipeline struct {
	logger    *slog.Logger
	providers ProviderSource
	previewer *Previewer
	analyzer  *Analyzer
	allocator *ReportIDAllocator
	escalator *Escalator
	findings  FindingStore
	defaults  AnalysisDefaults

	wg sync.WaitGroup
}

// NewPipeline constructs the pipeline coordinator.
func NewPipeline(
	logger *slog.Logger,
	providers ProviderSource,
	previewer *Previewer,
	analyzer *Analyzer,
	allocator *ReportIDAllocator,
	escalator *Escalator,
	findings FindingStore,
	defaults AnalysisDefaults,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		logger:    logger,
		providers: providers,
		previewer: previewer,
		analyzer:  analyzer,
		allocator: allocator,
		escalator: escalator,
		findings:  findings,
		defaults:  defaults,
	}
}

// Analyze runs preview and analysis synchronously and returns the findings.
// Each finding's downstream work (ID allocation, persistence, escalation)
// runs in its own goroutine; the caller does not wait for it. Analysis-path
// errors abort the whole request; escalation-path errors stay scoped to one
// finding.
func (p *Pipeline) Analyze(ctx context.Context, req models.AnalysisRequest) ([]models.Finding, error) {
	if req.CollectionName == "" {
		req.CollectionName = p.defaults.Collection
	}
	if req.TopK <= 0 {
		req.TopK = p.defaults.TopK
	}
	req.Normalize()
	provider := p.providers.Snapshot()
	if provider == nil {
		return nil, utils.NewAppError("engine.pipeline", "no generation provider configured", utils.ErrConfigurationInvalid)
	}

	preview, err := p.previewer.Preview(ctx, provider, req.Logs)
	if err != nil {
		return nil, err
	}

	findings, err := p.analyzer.Analyze(ctx, provider, preview, req.CollectionName, req.TopK, req.Language)
	if err != nil {
		return nil, err
	}

	if len(findings) == 0 {
		p.logger.Info("analysis produced no findings", slog.String("log_src", req.LogSource))
		return findings, nil
	}

	// Escalation outlives the request; detach from its cancellation.
	bgCtx := context.WithoutCancel(ctx)
	for _, finding := range findings {
		p.wg.Add(1)
		go p.runEscalation(bgCtx, provider, finding, req)
	}

	return findings, nil
}

// runEscalation allocates the report ID, persists the stamped finding and
// runs the QRT pass. Failures are logged here and go no further.
func (p *Pipeline) runEscalation(ctx context.Context, provider llm.Provider, finding models.Finding, req models.AnalysisRequest) {
	defer p.wg.Done()

	reportID, err := p.allocator.Allocate(ctx)
	if err != nil {
		// Degraded allocation still yields a usable fallback identifier.
		p.logger.Warn("continuing with fallback report id",
			slog.String("report_id", reportID),
			slog.Any("error", err))
	}

	finding.Timestamp = time.Now().UTC()
	finding.ReportID = reportID
	finding.LogSource = req.LogSource

	if err := p.findings.SaveFinding(ctx, finding); err != nil {
		p.logger.Error("persist finding failed",
			slog.String("report_id", reportID),
			slog.Any("error", err))
	}

	if err := p.escalator.Escalate(ctx, provider, finding, req.Language); err != nil {
		p.logger.Error("escalation task failed",
			slog.String("report_id", reportID),
			slog.Any("error", err))
	}
}

// Wait blocks until all spawned escalation tasks have finished. Used by
// shutdown and tests; request handling never calls it.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}
