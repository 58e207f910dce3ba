package engine

import (
	"context"
	"sync"

	"github.com/aegisstack/aegis-agent/internal/llm"
	"github.com/aegisstack/aegis-agent/internal/models"
)

// fakeProvider routes Generate through a test-supplied function.
type fakeProvider struct {
	name string
	fn   func(ctx context.Context, system, prompt string) (string, error)
}

func (f *fakeProvider) Name() string {
	if f.name == "" {
		return "fake"
	}
	return f.name
}

func (f *fakeProvider) Generate(ctx context.Context, system, prompt string) (string, error) {
	return f.fn(ctx, system, prompt)
}

// fakeRetriever returns canned documents and records queries.
type fakeRetriever struct {
	mu      sync.Mutex
	docs    []models.Document
	err     error
	queries []string
}

func (f *fakeRetriever) Search(_ context.Context, _, query string, _ int) ([]models.Document, error) {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.docs, nil
}

// memorySequenceStore is an in-process SequenceStore.
type memorySequenceStore struct {
	mu   sync.Mutex
	seqs map[string]int64
	err  error
}

func newMemorySequenceStore() *memorySequenceStore {
	return &memorySequenceStore{seqs: make(map[string]int64)}
}

func (m *memorySequenceStore) NextSequence(_ context.Context, dateKey string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	m.seqs[dateKey]++
	return m.seqs[dateKey], nil
}

// memoryFindingStore records persisted findings.
type memoryFindingStore struct {
	mu       sync.Mutex
	findings []models.Finding
	err      error
}

func (m *memoryFindingStore) SaveFinding(_ context.Context, finding models.Finding) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.findings = append(m.findings, finding)
	return nil
}

func (m *memoryFindingStore) saved() []models.Finding {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Finding(nil), m.findings...)
}

// memoryEscalationStore records persisted escalations.
type memoryEscalationStore struct {
	mu      sync.Mutex
	results []models.EscalationResult
	err     error
}

func (m *memoryEscalationStore) SaveEscalation(_ context.Context, result models.EscalationResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.results = append(m.results, result)
	return nil
}

func (m *memoryEscalationStore) saved() []models.EscalationResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.EscalationResult(nil), m.results...)
}

// fakeNotifier records notification calls.
type fakeNotifier struct {
	mu    sync.Mutex
	calls []models.EscalationResult
	err   error
}

func (f *fakeNotifier) Notify(_ context.Context, result models.EscalationResult) ([]models.DeliveryResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.calls = append(f.calls, result)
	return []models.DeliveryResult{{Channel: "it-server", Status: "sent"}}, nil
}

func (f *fakeNotifier) notified() []models.EscalationResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.EscalationResult(nil), f.calls...)
}

// staticSource pins a single provider for pipeline tests.
type staticSource struct {
	provider llm.Provider
}

func (s *staticSource) Snapshot() llm.Provider {
	return s.provider
}
