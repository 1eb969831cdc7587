package outbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"coharvest/native/bidpool"
)

// Status tracks the dispatch state of an entry.
type Status string

const (
	StatusPending    Status = "pending"
	StatusDispatched Status = "dispatched"
)

// ErrNotFound is returned when no entry carries the requested key.
var ErrNotFound = errors.New("outbox: entry not found")

// Entry is one value movement waiting to be executed on chain.
type Entry struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	Key          string    `gorm:"column:idempotency_key;size:66;uniqueIndex"`
	RoundID      uint64    `gorm:"index"`
	BidID        uint64
	Reason       string `gorm:"size:16;index"`
	Action       string `gorm:"size:16"`
	Asset        string `gorm:"size:160"`
	Recipient    string `gorm:"size:128"`
	Amount       string `gorm:"size:80"`
	Payload      string `gorm:"type:text"`
	Status       Status `gorm:"size:16;index"`
	CreatedAt    time.Time
	DispatchedAt *time.Time
}

// TableName pins the table name independent of the struct name.
func (Entry) TableName() string { return "bidpool_outbox" }

// Open connects to the outbox database. postgres:// DSNs use Postgres and
// everything else is treated as a sqlite DSN.
func Open(dsn string) (*gorm.DB, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("outbox: dsn required")
	}
	var dialector gorm.Dialector
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("outbox: open: %w", err)
	}
	return db, nil
}

// Store persists instructions exactly once per idempotency key.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// NewStore migrates the schema and returns a store bound to db.
func NewStore(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("outbox: database required")
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("outbox: migrate: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Enqueue inserts the instructions. Keys that are already present are
// ignored, so replaying the result of an engine call is harmless. It returns
// the number of new rows.
func (s *Store) Enqueue(ctx context.Context, instructions []bidpool.Instruction) (int, error) {
	if len(instructions) == 0 {
		return 0, nil
	}
	now := s.now().UTC()
	entries := make([]Entry, 0, len(instructions))
	for _, ins := range instructions {
		payload, err := ins.Payload()
		if err != nil {
			return 0, fmt.Errorf("outbox: render %s instruction: %w", ins.Reason, err)
		}
		amount := "0"
		if ins.Amount != nil {
			amount = ins.Amount.Dec()
		}
		entries = append(entries, Entry{
			ID:        uuid.New(),
			Key:       ins.Key(),
			RoundID:   ins.Round,
			BidID:     ins.BidID,
			Reason:    string(ins.Reason),
			Action:    ins.Action.String(),
			Asset:     ins.Asset.String(),
			Recipient: ins.Recipient,
			Amount:    amount,
			Payload:   string(payload),
			Status:    StatusPending,
			CreatedAt: now,
		})
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "idempotency_key"}}, DoNothing: true}).
		Create(&entries)
	if res.Error != nil {
		return 0, fmt.Errorf("outbox: enqueue: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

// Pending lists undispatched entries in round, bid and reason order.
func (s *Store) Pending(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	var entries []Entry
	err := s.db.WithContext(ctx).
		Where("status = ?", StatusPending).
		Order("round_id asc").Order("bid_id asc").Order("reason asc").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("outbox: pending: %w", err)
	}
	return entries, nil
}

// Get loads the entry with the given key.
func (s *Store) Get(ctx context.Context, key string) (*Entry, error) {
	var entry Entry
	err := s.db.WithContext(ctx).First(&entry, "idempotency_key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("outbox: get: %w", err)
	}
	return &entry, nil
}

// MarkDispatched acknowledges an entry. Acknowledging twice is a no-op.
func (s *Store) MarkDispatched(ctx context.Context, key string) (*Entry, error) {
	var entry *Entry
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current Entry
		if err := tx.First(&current, "idempotency_key = ?", key).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if current.Status == StatusDispatched {
			entry = &current
			return nil
		}
		now := s.now().UTC()
		if err := tx.Model(&Entry{}).
			Where("id = ? AND status = ?", current.ID, StatusPending).
			Updates(map[string]interface{}{"status": StatusDispatched, "dispatched_at": now}).Error; err != nil {
			return err
		}
		current.Status = StatusDispatched
		current.DispatchedAt = &now
		entry = &current
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("outbox: mark dispatched: %w", err)
	}
	return entry, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
