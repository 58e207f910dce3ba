package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aegisstack/aegis-agent/internal/metrics"
	"github.com/aegisstack/aegis-agent/internal/utils"
)

// SequenceStore provides the atomic per-day counter backing report IDs.
type SequenceStore interface {
	NextSequence(ctx context.Context, dateKey string) (int64, error)
}

// ReportIDAllocator issues date-scoped sequential report identifiers of the
// form REP-YYYYMMDD-NNNN. Uniqueness rests on the storage layer's atomic
// increment; the process mutex only serialises local allocations.
type ReportIDAllocator struct {
	logger *slog.Logger
	store  SequenceStore
	now    func() time.Time

	mu sync.Mutex
}

// NewReportIDAllocator constructs an allocator over the given sequence store.
func NewReportIDAllocator(logger *slog.Logger, store SequenceStore) *ReportIDAllocator {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReportIDAllocator{logger: logger, store: store, now: time.Now}
}

// Allocate returns the next report identifier for today. When storage is
// unreachable it returns a clearly marked fallback identifier together with
// an ErrAllocationDegraded-wrapped error; the caller proceeds with the
// fallback rather than failing the pipeline.
func (a *ReportIDAllocator) Allocate(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	dateKey := utils.DateKey(a.now().UTC())
	seq, err := a.store.NextSequence(ctx, dateKey)
	if err != nil {
		fallback := fallbackReportID(dateKey)
		metrics.ReportIDFallback()
		a.logger.Error("report id allocation degraded",
			slog.String("fallback_id", fallback),
			slog.Any("error", err))
		return fallback, fmt.Errorf("%w: %v", utils.ErrAllocationDegraded, err)
	}
	return fmt.Sprintf("REP-%s-%04d", dateKey, seq), nil
}

// fallbackReportID marks degraded allocations with an ERR segment plus a
// random suffix so two concurrent fallbacks do not collide.
func fallbackReportID(dateKey string) string {
	var buf [2]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return fmt.Sprintf("REP-%s-ERROR", dateKey)
	}
	return fmt.Sprintf("REP-%s-ERR-%s", dateKey, hex.EncodeToString(buf[:]))
}
