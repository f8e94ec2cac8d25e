package eventstore

import (
	"context"
	"encoding/json"
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

	"optionclear/core/events"
	"optionclear/core/types"
)

const defaultListLimit = 100

// Record is one committed clearing event.
type Record struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Sequence   uint64    `gorm:"uniqueIndex;not null"`
	Type       string    `gorm:"size:64;index"`
	OptionID   string    `gorm:"size:66;index"`
	ClaimID    string    `gorm:"size:66;index"`
	Attributes string    `gorm:"type:text"`
	CreatedAt  time.Time
}

// TableName pins the table name.
func (Record) TableName() string { return "clearing_events" }

// Event decodes the stored attributes back into the canonical event form.
func (r Record) Event() (*types.Event, error) {
	attrs := map[string]string{}
	if strings.TrimSpace(r.Attributes) != "" {
		if err := json.Unmarshal([]byte(r.Attributes), &attrs); err != nil {
			return nil, err
		}
	}
	return &types.Event{Type: r.Type, Attributes: attrs}, nil
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Type     string
	OptionID string
	ClaimID  string
	After    uint64
	Limit    int
}

// Store persists committed events to SQL through gorm. Postgres DSNs select
// the postgres driver; anything else opens SQLite.
type Store struct {
	db     *gorm.DB
	mu     sync.Mutex
	seq    uint64
	logger *slog.Logger
	nowFn  func() time.Time
}

// Open connects to the database named by dsn and migrates the schema. An
// empty dsn opens a private in-memory SQLite database.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(dialector(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("eventstore: open: %w", err)
	}
	return New(db)
}

func dialector(dsn string) gorm.Dialector {
	trimmed := strings.TrimSpace(dsn)
	switch {
	case trimmed == "":
		return sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	case strings.HasPrefix(trimmed, "postgres://"), strings.HasPrefix(trimmed, "postgresql://"), strings.HasPrefix(trimmed, "host="):
		return postgres.Open(trimmed)
	default:
		return sqlite.Open(trimmed)
	}
}

// New wraps an open gorm handle and migrates the schema.
func New(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("eventstore: nil database")
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("eventstore: migrate: %w", err)
	}
	var last Record
	seq := uint64(0)
	err := db.Order("sequence desc").Limit(1).Find(&last).Error
	if err != nil {
		return nil, fmt.Errorf("eventstore: load sequence: %w", err)
	}
	if last.ID != uuid.Nil {
		seq = last.Sequence
	}
	return &Store{
		db:     db,
		seq:    seq,
		logger: slog.Default().With("component", "eventstore"),
		nowFn:  time.Now,
	}, nil
}

// SetLogger overrides the logger used for Emit failures.
func (s *Store) SetLogger(l *slog.Logger) {
	if l != nil {
		s.logger = l.With("component", "eventstore")
	}
}

// Append stores the events in one transaction, assigning consecutive
// sequence numbers.
func (s *Store) Append(ctx context.Context, evts []*types.Event) error {
	if len(evts) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]Record, 0, len(evts))
	seq := s.seq
	now := s.nowFn().UTC()
	for _, evt := range evts {
		if evt == nil {
			continue
		}
		attrs, err := json.Marshal(evt.Attributes)
		if err != nil {
			return fmt.Errorf("eventstore: encode %s: %w", evt.Type, err)
		}
		seq++
		records = append(records, Record{
			ID:         uuid.New(),
			Sequence:   seq,
			Type:       evt.Type,
			OptionID:   evt.Attributes["optionId"],
			ClaimID:    evt.Attributes["claimId"],
			Attributes: string(attrs),
			CreatedAt:  now,
		})
	}
	if len(records) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&records).Error
	})
	if err != nil {
		return fmt.Errorf("eventstore: append: %w", err)
	}
	s.seq = seq
	return nil
}

// Emit implements events.Emitter for payload-carrying events. Write failures
// are logged because Emit cannot report them.
func (s *Store) Emit(evt events.Event) {
	payload, ok := evt.(events.Payload)
	if !ok {
		return
	}
	if err := s.Append(context.Background(), []*types.Event{payload.Event()}); err != nil {
		s.logger.Error("persist event failed", "type", evt.EventType(), "error", err)
	}
}

// List returns events in sequence order matching the filter.
func (s *Store) List(ctx context.Context, filter Filter) ([]Record, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = defaultListLimit
	}
	query := s.db.WithContext(ctx).Model(&Record{}).Where("sequence > ?", filter.After)
	if t := strings.TrimSpace(filter.Type); t != "" {
		query = query.Where("type = ?", t)
	}
	if id := strings.ToLower(strings.TrimSpace(filter.OptionID)); id != "" {
		query = query.Where("option_id = ?", id)
	}
	if id := strings.ToLower(strings.TrimSpace(filter.ClaimID)); id != "" {
		query = query.Where("claim_id = ?", id)
	}
	var records []Record
	if err := query.Order("sequence asc").Limit(limit).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("eventstore: list: %w", err)
	}
	return records, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
