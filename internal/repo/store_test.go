package repo

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/aegisstack/aegis-agent/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenStore(filepath.Join(t.TempDir(), "agent.db"))
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestNextSequenceMonotonic(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for want := int64(1); want <= 5; want++ {
		got, err := store.NextSequence(ctx, "20260823")
		if err != nil {
			t.Fatalf("NextSequence: %v", err)
		}
		if got != want {
			t.Fatalf("sequence = %d, want %d", got, want)
		}
	}
}

func TestNextSequenceResetsPerDay(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.NextSequence(ctx, "20260822"); err != nil {
		t.Fatalf("NextSequence day1: %v", err)
	}
	if _, err := store.NextSequence(ctx, "20260822"); err != nil {
		t.Fatalf("NextSequence day1: %v", err)
	}

	got, err := store.NextSequence(ctx, "20260823")
	if err != nil {
		t.Fatalf("NextSequence day2: %v", err)
	}
	if got != 1 {
		t.Fatalf("new day sequence = %d, want 1", got)
	}
}

func TestNextSequenceConcurrent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	const workers = 16
	results := make([]int64, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			seq, err := store.NextSequence(ctx, "20260823")
			if err != nil {
				t.Errorf("NextSequence: %v", err)
				return
			}
			results[i] = seq
		}(i)
	}
	wg.Wait()

	seen := make(map[int64]bool, workers)
	for _, seq := range results {
		if seq < 1 || seq > workers {
			t.Fatalf("sequence %d out of range", seq)
		}
		if seen[seq] {
			t.Fatalf("duplicate sequence %d", seq)
		}
		seen[seq] = true
	}
}

func TestNextSequenceConcurrentAcrossHandles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.db")
	first, err := OpenStore(path)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { _ = first.Close() })
	second, err := OpenStore(path)
	if err != nil {
		t.Fatalf("OpenStore second handle: %v", err)
	}
	t.Cleanup(func() { _ = second.Close() })

	ctx := context.Background()
	const perHandle = 8
	results := make([]int64, 2*perHandle)
	var wg sync.WaitGroup
	for i := 0; i < perHandle; i++ {
		for j, store := range []*Store{first, second} {
			wg.Add(1)
			go func(slot int, store *Store) {
				defer wg.Done()
				seq, err := store.NextSequence(ctx, "20260823")
				if err != nil {
					t.Errorf("NextSequence: %v", err)
					return
				}
				results[slot] = seq
			}(i*2+j, store)
		}
	}
	wg.Wait()

	seen := make(map[int64]bool, len(results))
	for _, seq := range results {
		if seq < 1 || seq > int64(len(results)) {
			t.Fatalf("sequence %d out of range", seq)
		}
		if seen[seq] {
			t.Fatalf("duplicate sequence %d across handles", seq)
		}
		seen[seq] = true
	}
}

func TestSaveFindingAndLatestReportID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	latest, err := store.LatestReportID(ctx)
	if err != nil {
		t.Fatalf("LatestReportID empty store: %v", err)
	}
	if latest != "" {
		t.Fatalf("latest = %q, want empty", latest)
	}

	findings := []models.Finding{
		{AnalysisReport: "first", PriorityLevel: models.PriorityP3, ReportID: "REP-20260823-0001", LogSource: "firewall"},
		{AnalysisReport: "second", PriorityLevel: models.PriorityP1, ReportID: "REP-20260823-0002", LogSource: "firewall"},
	}
	for _, f := range findings {
		if err := store.SaveFinding(ctx, f); err != nil {
			t.Fatalf("SaveFinding: %v", err)
		}
	}

	latest, err = store.LatestReportID(ctx)
	if err != nil {
		t.Fatalf("LatestReportID: %v", err)
	}
	if latest != "REP-20260823-0002" {
		t.Fatalf("latest = %q, want REP-20260823-0002", latest)
	}

	records, err := store.ListReports(ctx, 10)
	if err != nil {
		t.Fatalf("ListReports: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("len(records) = %d, want 2", len(records))
	}
	if records[0].ReportID != "REP-20260823-0002" {
		t.Fatalf("newest first ordering broken: %+v", records[0])
	}
}

func TestSaveEscalation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	result := models.EscalationResult{
		PriorityLevel: models.PriorityP1,
		ShortReport:   "SSH brute force from 10.0.0.9",
		MDContent:     "# Escalation\ndetails",
		ReportID:      "REP-20260823-0001",
		LogSource:     "auth",
	}
	if err := store.SaveEscalation(ctx, result); err != nil {
		t.Fatalf("SaveEscalation: %v", err)
	}
}
