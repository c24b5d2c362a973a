// Package journal persists committed engine events to a SQL database so that
// operators and the HTTP surface can page through recent activity.
package journal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"assetmech/core/events"
	"assetmech/core/types"
)

const (
	// DefaultLimit bounds Recent when the caller passes zero.
	DefaultLimit = 100
	// MaxLimit caps a single Recent page.
	MaxLimit = 1000
)

// Entry is one persisted event.
type Entry struct {
	ID         uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	Sequence   uint64            `gorm:"autoIncrement:false;index" json:"sequence"`
	Type       string            `gorm:"index" json:"type"`
	Attributes map[string]string `gorm:"serializer:json" json:"attributes"`
	CreatedAt  time.Time         `gorm:"index" json:"createdAt"`
}

// TableName pins the table name independently of the struct name.
func (Entry) TableName() string { return "event_journal" }

// Event converts the entry back into its broadcastable form.
func (e Entry) Event() *types.Event {
	evt := types.NewEvent(e.Type)
	for k, v := range e.Attributes {
		evt.With(k, v)
	}
	return evt
}

// Journal appends events to the database. It implements events.Emitter.
type Journal struct {
	db  *gorm.DB
	log *slog.Logger
	now func() time.Time

	mu  sync.Mutex
	seq uint64
}

// Open connects to dsn. DSNs starting with postgres:// or postgresql:// use
// the PostgreSQL driver; everything else is treated as a SQLite path or URI.
func Open(dsn string, log *slog.Logger) (*Journal, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("journal: empty dsn")
	}
	var dialector gorm.Dialector
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("journal: open: %w", err)
	}
	return New(db, log)
}

// New wraps an existing connection and migrates the schema.
func New(db *gorm.DB, log *slog.Logger) (*Journal, error) {
	if db == nil {
		return nil, errors.New("journal: nil database")
	}
	if log == nil {
		log = slog.Default()
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	j := &Journal{db: db, log: log, now: time.Now}
	var last Entry
	res := db.Order("sequence desc").Limit(1).Find(&last)
	if res.Error != nil {
		return nil, fmt.Errorf("journal: load sequence: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		j.seq = last.Sequence
	}
	return j, nil
}

// SetNowFunc overrides the clock used to stamp entries.
func (j *Journal) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	j.now = now
}

// Emit implements events.Emitter. Write failures are logged and dropped so
// that a journal outage never blocks settlement.
func (j *Journal) Emit(evt events.Event) {
	if j == nil {
		return
	}
	if err := j.Append(context.Background(), evt); err != nil {
		j.log.Error("journal append failed", "type", evt.EventType(), "error", err)
	}
}

// Append persists a single event.
func (j *Journal) Append(ctx context.Context, evt events.Event) error {
	rendered := events.Render(evt)
	if rendered == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.seq++
	entry := Entry{
		ID:         uuid.New(),
		Sequence:   j.seq,
		Type:       rendered.Type,
		Attributes: rendered.Attributes,
		CreatedAt:  j.now().UTC(),
	}
	if err := j.db.WithContext(ctx).Create(&entry).Error; err != nil {
		j.seq--
		return err
	}
	return nil
}

// Recent returns up to limit entries, newest first. A non-empty eventType
// restricts the page to that type.
func (j *Journal) Recent(ctx context.Context, limit int, eventType string) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	query := j.db.WithContext(ctx).Order("sequence desc").Limit(limit)
	if eventType != "" {
		query = query.Where("type = ?", eventType)
	}
	var out []Entry
	if err := query.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Close releases the underlying connection pool.
func (j *Journal) Close() error {
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
