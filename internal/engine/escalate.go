package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aegisstack/aegis-agent/internal/llm"
	"github.com/aegisstack/aegis-agent/internal/metrics"
	"github.com/aegisstack/aegis-agent/internal/models"
	"github.com/aegisstack/aegis-agent/internal/utils"
)

// EscalationStore persists finished escalation results.
type EscalationStore interface {
	SaveEscalation(ctx context.Context, result models.EscalationResult) error
}

// Notifier forwards urgent escalations to external channels.
type Notifier interface {
	Notify(ctx context.Context, result models.EscalationResult) ([]models.DeliveryResult, error)
}

// Escalator runs the quick-response pass for a single finding: retrieve SOP
// context, produce a prioritised escalation, notify on high priority, and
// persist the result.
type Escalator struct {
	logger        *slog.Logger
	retriever     Retriever
	store         EscalationStore
	notifier      Notifier
	systemPrompt  string
	sopCollection string
	sopTopK       int
}

// NewEscalator constructs the escalation stage. A nil notifier disables
// notification delivery but not persistence.
func NewEscalator(logger *slog.Logger, retriever Retriever, store EscalationStore, notifier Notifier, systemPrompt, sopCollection string, sopTopK int) *Escalator {
	if logger == nil {
		logger = slog.Default()
	}
	if sopTopK <= 0 {
		sopTopK = 5
	}
	return &Escalator{
		logger:        logger,
		retriever:     retriever,
		store:         store,
		notifier:      notifier,
		systemPrompt:  systemPrompt,
		sopCollection: sopCollection,
		sopTopK:       sopTopK,
	}
}

// Escalate processes one stamped finding. Failures abort only this finding's
// task; the error is returned for logging and never crosses into sibling
// tasks.
func (e *Escalator) Escalate(ctx context.Context, provider llm.Provider, finding models.Finding, lang models.LanguageCode) error {
	docs, err := e.retriever.Search(ctx, e.sopCollection, finding.AnalysisReport, e.sopTopK)
	if err != nil {
		metrics.ObserveEscalation(metrics.OutcomeError)
		return utils.NewAppError("engine.escalate", "retrieve sop context", err)
	}

	prompt := buildEscalationPrompt(docs, finding.AnalysisReport, lang)
	raw, err := provider.Generate(ctx, e.systemPrompt, prompt)
	if err != nil {
		metrics.ObserveEscalation(metrics.OutcomeError)
		return utils.NewAppError("engine.escalate", "generate escalation", err)
	}

	var result models.EscalationResult
	if err := json.Unmarshal([]byte(StripCodeFence(raw)), &result); err != nil {
		metrics.ObserveEscalation(metrics.OutcomeError)
		return utils.NewAppError("engine.escalate", "parse escalation response",
			fmt.Errorf("%w: %v", utils.ErrMalformedAnalysis, err))
	}

	result.ShortReport += reportAnnotation(lang, finding.ReportID, finding.LogSource)
	result.MDContent = finding.AnalysisReport
	result.Timestamp = finding.Timestamp
	if result.Timestamp.IsZero() {
		result.Timestamp = time.Now().UTC()
	}
	result.ReportID = finding.ReportID
	result.LogSource = finding.LogSource

	if result.PriorityLevel.Urgent() && e.notifier != nil {
		if deliveries, err := e.notifier.Notify(ctx, result); err != nil {
			metrics.ObserveNotification(metrics.OutcomeError)
			e.logger.Error("notification delivery failed",
				slog.String("report_id", result.ReportID),
				slog.Any("error", err))
		} else {
			metrics.ObserveNotification(metrics.OutcomeSuccess)
			e.logger.Info("notification delivered",
				slog.String("report_id", result.ReportID),
				slog.String("priority", string(result.PriorityLevel)),
				slog.Int("channels", len(deliveries)))
		}
	}

	if err := e.store.SaveEscalation(ctx, result); err != nil {
		metrics.ObserveEscalation(metrics.OutcomeError)
		return utils.NewAppError("engine.escalate", "persist escalation", err)
	}

	metrics.ObserveEscalation(metrics.OutcomeSuccess)
	return nil
}

func buildEscalationPrompt(docs []models.Document, findingText string, lang models.LanguageCode) string {
	var b strings.Builder
	b.WriteString("Standard operating procedures:\n")
	if len(docs) == 0 {
		b.WriteString("(none)\n")
	}
	for _, doc := range docs {
		b.WriteString(doc.Content)
		b.WriteString("\n\n")
	}
	b.WriteString("\nReported issue:\n")
	b.WriteString(findingText)
	b.WriteString("\n\nRespond in language: ")
	b.WriteString(string(lang))
	return b.String()
}

// reportAnnotation appends the localized report ID and log source lines to a
// short report.
func reportAnnotation(lang models.LanguageCode, reportID, logSource string) string {
	if lang == models.LangChinese {
		return fmt.Sprintf("\n\n*報告 ID:* %s\n*日誌來源:* %s", reportID, logSource)
	}
	return fmt.Sprintf("\n\n*Report ID:* %s\n*Log Source:* %s", reportID, logSource)
}
