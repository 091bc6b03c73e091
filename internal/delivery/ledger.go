package delivery

import (
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/ctxlens/backend/internal/filequeue"
)

// LedgerEntry is a durable record that one explanation was delivered,
// kept beyond the lifetime of the in-memory delivered-id set. This
// answers the spec's open question on retention policy: rather than
// letting delivered/processed records accumulate in the JSON files
// forever, a durable ledger plus internal/retention's scheduled sweep
// (see SPEC_FULL's DOMAIN STACK) gives them a second home before the
// sweep prunes the file queues.
type LedgerEntry struct {
	ID            uint `gorm:"primarykey"`
	ExplanationID string `gorm:"uniqueIndex;size:64"`
	Term          string `gorm:"size:255"`
	DeliveredAt   time.Time
}

// Ledger wraps a gorm/MySQL connection. A nil *Ledger is valid and
// simply means the feature is disabled; every method on a nil
// receiver is not safe to call, callers in this package always check
// for nil before using one (see delivery.go).
type Ledger struct {
	db *gorm.DB
}

// NewLedger opens the MySQL connection and migrates the ledger table.
func NewLedger(dsn string) (*Ledger, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("delivery: open ledger db: %w", err)
	}
	if err := db.AutoMigrate(&LedgerEntry{}); err != nil {
		return nil, fmt.Errorf("delivery: migrate ledger: %w", err)
	}
	return &Ledger{db: db}, nil
}

// Record inserts a ledger row for one delivered explanation. A
// duplicate id (re-delivery attempt within the same process lifetime,
// which the in-memory set should already prevent) is tolerated rather
// than treated as fatal.
func (l *Ledger) Record(rec filequeue.ExplanationRecord) error {
	entry := LedgerEntry{
		ExplanationID: rec.ID,
		Term:          rec.Term,
		DeliveredAt:   time.Now(),
	}
	result := l.db.Where(LedgerEntry{ExplanationID: rec.ID}).FirstOrCreate(&entry)
	return result.Error
}

// PruneOlderThan deletes ledger rows older than cutoff, used by the
// retention sweep.
func (l *Ledger) PruneOlderThan(cutoff time.Time) (int64, error) {
	result := l.db.Where("delivered_at < ?", cutoff).Delete(&LedgerEntry{})
	return result.RowsAffected, result.Error
}
