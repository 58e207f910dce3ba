package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aegisstack/aegis-agent/internal/models"
	"github.com/aegisstack/aegis-agent/internal/utils"
)

func stampedFinding(report string) models.Finding {
	return models.Finding{
		AnalysisReport: report,
		PriorityLevel:  models.PriorityP1,
		Timestamp:      time.Date(2026, 8, 23, 10, 0, 0, 0, time.UTC),
		ReportID:       "REP-20260823-0001",
		LogSource:      "auth.log",
	}
}

func TestEscalateUrgentNotifiesAndPersists(t *testing.T) {
	retriever := &fakeRetriever{docs: []models.Document{{Content: "sop: isolate host"}}}
	provider := &fakeProvider{fn: func(_ context.Context, _, prompt string) (string, error) {
		if !strings.Contains(prompt, "sop: isolate host") {
			t.Fatalf("prompt missing SOP context: %q", prompt)
		}
		return "```json\n{\"priority_level\":\"P1\",\"short_report\":\"Isolate 10.0.0.9 now\",\"mitre\":\"T1110\"}\n```", nil
	}}
	store := &memoryEscalationStore{}
	notifier := &fakeNotifier{}

	escalator := NewEscalator(nil, retriever, store, notifier, "qrt prompt", "SOP", 5)
	finding := stampedFinding("ssh brute force from 10.0.0.9")
	if err := escalator.Escalate(context.Background(), provider, finding, models.LangEnglish); err != nil {
		t.Fatalf("Escalate: %v", err)
	}

	saved := store.saved()
	if len(saved) != 1 {
		t.Fatalf("persisted %d results, want 1", len(saved))
	}
	result := saved[0]
	if result.PriorityLevel != models.PriorityP1 {
		t.Fatalf("priority = %v", result.PriorityLevel)
	}
	if !strings.Contains(result.ShortReport, "*Report ID:* REP-20260823-0001") {
		t.Fatalf("short report missing ID annotation: %q", result.ShortReport)
	}
	if !strings.Contains(result.ShortReport, "*Log Source:* auth.log") {
		t.Fatalf("short report missing source annotation: %q", result.ShortReport)
	}
	if result.MDContent != finding.AnalysisReport {
		t.Fatalf("md content = %q", result.MDContent)
	}
	if result.Extra["mitre"] != "T1110" {
		t.Fatalf("provider-specific field lost: %+v", result.Extra)
	}

	if calls := notifier.notified(); len(calls) != 1 {
		t.Fatalf("notifications = %d, want 1", len(calls))
	}
}

func TestEscalateChineseAnnotation(t *testing.T) {
	retriever := &fakeRetriever{}
	provider := &fakeProvider{fn: func(context.Context, string, string) (string, error) {
		return `{"priority_level":"P3","short_report":"低風險事件"}`, nil
	}}
	store := &memoryEscalationStore{}

	escalator := NewEscalator(nil, retriever, store, nil, "qrt prompt", "SOP", 5)
	if err := escalator.Escalate(context.Background(), provider, stampedFinding("掃描活動"), models.LangChinese); err != nil {
		t.Fatalf("Escalate: %v", err)
	}
	saved := store.saved()
	if len(saved) != 1 {
		t.Fatalf("persisted %d results, want 1", len(saved))
	}
	if !strings.Contains(saved[0].ShortReport, "*報告 ID:* REP-20260823-0001") {
		t.Fatalf("missing localized annotation: %q", saved[0].ShortReport)
	}
}

func TestEscalateNonUrgentSkipsNotification(t *testing.T) {
	retriever := &fakeRetriever{}
	provider := &fakeProvider{fn: func(context.Context, string, string) (string, error) {
		return `{"priority_level":"P4","short_report":"routine scan noise"}`, nil
	}}
	store := &memoryEscalationStore{}
	notifier := &fakeNotifier{}

	escalator := NewEscalator(nil, retriever, store, notifier, "qrt prompt", "SOP", 5)
	if err := escalator.Escalate(context.Background(), provider, stampedFinding("port scan"), models.LangEnglish); err != nil {
		t.Fatalf("Escalate: %v", err)
	}
	if len(notifier.notified()) != 0 {
		t.Fatal("non-urgent escalation must not notify")
	}
	if len(store.saved()) != 1 {
		t.Fatal("non-urgent escalation must still persist")
	}
}

func TestEscalateNotifierFailureStillPersists(t *testing.T) {
	retriever := &fakeRetriever{}
	provider := &fakeProvider{fn: func(context.Context, string, string) (string, error) {
		return `{"priority_level":"P1","short_report":"urgent"}`, nil
	}}
	store := &memoryEscalationStore{}
	notifier := &fakeNotifier{err: errors.New("webhook down")}

	escalator := NewEscalator(nil, retriever, store, notifier, "qrt prompt", "SOP", 5)
	if err := escalator.Escalate(context.Background(), provider, stampedFinding("incident"), models.LangEnglish); err != nil {
		t.Fatalf("Escalate should tolerate notifier failure: %v", err)
	}
	if len(store.saved()) != 1 {
		t.Fatal("escalation result not persisted after notifier failure")
	}
}

func TestEscalateMalformedResponse(t *testing.T) {
	retriever := &fakeRetriever{}
	provider := &fakeProvider{fn: func(context.Context, string, string) (string, error) {
		return "cannot comply", nil
	}}
	store := &memoryEscalationStore{}

	escalator := NewEscalator(nil, retriever, store, nil, "qrt prompt", "SOP", 5)
	err := escalator.Escalate(context.Background(), provider, stampedFinding("incident"), models.LangEnglish)
	if !errors.Is(err, utils.ErrMalformedAnalysis) {
		t.Fatalf("error = %v, want ErrMalformedAnalysis", err)
	}
	if len(store.saved()) != 0 {
		t.Fatal("malformed escalation must not be persisted")
	}
}
