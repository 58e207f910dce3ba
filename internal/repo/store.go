package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/aegisstack/aegis-agent/internal/models"
)

// ReportRecord persists one analysis finding.
type ReportRecord struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	ReportID      string    `gorm:"uniqueIndex;size:64" json:"report_id"`
	LogSource     string    `gorm:"size:255" json:"log_src"`
	PriorityLevel string    `gorm:"size:8" json:"priority_level"`
	Payload       string    `json:"payload"`
	CreatedAt     time.Time `json:"created_at"`
}

// EscalationRecord persists one escalation result.
type EscalationRecord struct {
	ID            uint   `gorm:"primaryKey"`
	ReportID      string `gorm:"index;size:64"`
	LogSource     string `gorm:"size:255"`
	PriorityLevel string `gorm:"size:8"`
	ShortReport   string
	Payload       string
	CreatedAt     time.Time
}

// reportSequence tracks the per-day counter backing report IDs.
type reportSequence struct {
	DateKey string `gorm:"primaryKey;size:8"`
	Seq     int64
}

// Store persists findings, escalations and the report-ID sequence in SQLite.
type Store struct {
	db *gorm.DB

	// Serialises sequence allocation within the process; the upsert below
	// keeps concurrent processes consistent.
	seqMu sync.Mutex
}

// OpenStore opens (creating if needed) the SQLite database at path.
func OpenStore(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := db.AutoMigrate(&ReportRecord{}, &EscalationRecord{}, &reportSequence{}); err != nil {
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	return &Store{db: db}, nil
}

// NextSequence atomically increments and returns the counter for dateKey.
// The first call for a given day returns 1.
func (s *Store) NextSequence(ctx context.Context, dateKey string) (int64, error) {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()

	var seq int64
	err := s.db.WithContext(ctx).Raw(
		`INSERT INTO report_sequences (date_key, seq) VALUES (?, 1)
		 ON CONFLICT(date_key) DO UPDATE SET seq = seq + 1
		 RETURNING seq`, dateKey).Scan(&seq).Error
	if err != nil {
		return 0, fmt.Errorf("advance sequence: %w", err)
	}
	return seq, nil
}

// SaveFinding stores a stamped analysis finding.
func (s *Store) SaveFinding(ctx context.Context, finding models.Finding) error {
	payload, err := json.Marshal(finding)
	if err != nil {
		return fmt.Errorf("marshal finding: %w", err)
	}

	record := ReportRecord{
		ReportID:      finding.ReportID,
		LogSource:     finding.LogSource,
		PriorityLevel: string(finding.PriorityLevel),
		Payload:       string(payload),
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("save finding: %w", err)
	}
	return nil
}

// SaveEscalation stores a stamped escalation result.
func (s *Store) SaveEscalation(ctx context.Context, result models.EscalationResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal escalation: %w", err)
	}

	record := EscalationRecord{
		ReportID:      result.ReportID,
		LogSource:     result.LogSource,
		PriorityLevel: string(result.PriorityLevel),
		ShortReport:   result.ShortReport,
		Payload:       string(payload),
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("save escalation: %w", err)
	}
	return nil
}

// LatestReportID returns the most recently stored report ID, or empty when no
// reports exist yet.
func (s *Store) LatestReportID(ctx context.Context) (string, error) {
	var record ReportRecord
	err := s.db.WithContext(ctx).Order("id DESC").First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("latest report id: %w", err)
	}
	return record.ReportID, nil
}

// ListReports returns the newest reports up to limit.
func (s *Store) ListReports(ctx context.Context, limit int) ([]ReportRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var records []ReportRecord
	err := s.db.WithContext(ctx).Order("id DESC").Limit(limit).Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	return records, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
