package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aegisstack/aegis-agent/internal/utils"
)

func TestAllocateMonotonic(t *testing.T) {
	store := newMemorySequenceStore()
	allocator := NewReportIDAllocator(nil, store)
	allocator.now = func() time.Time { return time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC) }

	for i := 1; i <= 5; i++ {
		id, err := allocator.Allocate(context.Background())
		if err != nil {
			t.Fatalf("Allocate: %v", err)
		}
		if want := fmt.Sprintf("REP-20260823-%04d", i); id != want {
			t.Fatalf("id = %q, want %q", id, want)
		}
	}
}

func TestAllocateConcurrentDistinct(t *testing.T) {
	store := newMemorySequenceStore()
	allocator := NewReportIDAllocator(nil, store)
	allocator.now = func() time.Time { return time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC) }

	const workers = 32
	ids := make([]string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := allocator.Allocate(context.Background())
			if err != nil {
				t.Errorf("Allocate: %v", err)
				return
			}
			ids[i] = id
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool, workers)
	for _, id := range ids {
		if seen[id] {
			t.Fatalf("duplicate identifier %q", id)
		}
		seen[id] = true
	}
	if len(seen) != workers {
		t.Fatalf("distinct ids = %d, want %d", len(seen), workers)
	}
}

func TestAllocateDayRollover(t *testing.T) {
	store := newMemorySequenceStore()
	allocator := NewReportIDAllocator(nil, store)

	day := time.Date(2026, 8, 22, 23, 59, 0, 0, time.UTC)
	allocator.now = func() time.Time { return day }
	for i := 0; i < 3; i++ {
		if _, err := allocator.Allocate(context.Background()); err != nil {
			t.Fatalf("Allocate day 1: %v", err)
		}
	}

	allocator.now = func() time.Time { return day.Add(2 * time.Minute) }
	id, err := allocator.Allocate(context.Background())
	if err != nil {
		t.Fatalf("Allocate day 2: %v", err)
	}
	if id != "REP-20260823-0001" {
		t.Fatalf("rollover id = %q, want REP-20260823-0001", id)
	}
}

func TestAllocateFallbackOnStorageFailure(t *testing.T) {
	store := newMemorySequenceStore()
	store.err = errors.New("storage down")
	allocator := NewReportIDAllocator(nil, store)
	allocator.now = func() time.Time { return time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC) }

	id, err := allocator.Allocate(context.Background())
	if !errors.Is(err, utils.ErrAllocationDegraded) {
		t.Fatalf("error = %v, want ErrAllocationDegraded", err)
	}
	if !strings.HasPrefix(id, "REP-20260823-ERR-") {
		t.Fatalf("fallback id = %q, want REP-20260823-ERR-<suffix>", id)
	}
	if len(id) != len("REP-20260823-ERR-")+4 {
		t.Fatalf("fallback suffix length wrong: %q", id)
	}
}
