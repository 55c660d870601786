// Package receipts journals committed mint invocations so an operator holding
// the viewing key can audit who received what.
package receipts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// Receipt is one committed invocation. Height, BlockTime, TxHash and Payer are
// the per-call draw entropy, so an allocation can be replayed from its receipt.
type Receipt struct {
	ID           uint      `gorm:"primaryKey" json:"-"`
	TxHash       string    `gorm:"size:66;uniqueIndex" json:"tx_hash"`
	Height       uint64    `gorm:"index" json:"height"`
	Sender       string    `gorm:"size:96;index" json:"sender"`
	Action       string    `gorm:"size:32;index" json:"action"`
	Channel      string    `gorm:"size:32" json:"channel,omitempty"`
	Recipient    string    `gorm:"size:96;index" json:"recipient,omitempty"`
	Payer        string    `gorm:"size:96" json:"payer,omitempty"`
	BlockTime    int64     `json:"block_time"`
	TokenIDs     []string  `gorm:"serializer:json" json:"token_ids,omitempty"`
	Instructions string    `gorm:"type:text" json:"instructions,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Filter narrows a listing. Zero values match everything.
type Filter struct {
	Recipient string
	Action    string
	Limit     int
}

// Journal stores receipts in SQLite or Postgres through gorm.
type Journal struct {
	db *gorm.DB
}

func dialectorFor(dsn string) gorm.Dialector {
	lower := strings.ToLower(dsn)
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return postgres.Open(dsn)
	}
	return sqlite.Open(dsn)
}

// Open connects to dsn and migrates the schema. Postgres URLs select the
// Postgres driver; anything else is treated as a SQLite path or DSN.
func Open(dsn string) (*Journal, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("receipts: dsn required")
	}
	db, err := gorm.Open(dialectorFor(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("receipts: open: %w", err)
	}
	return New(db)
}

// New wraps an existing gorm handle.
func New(db *gorm.DB) (*Journal, error) {
	if db == nil {
		return nil, errors.New("receipts: nil database")
	}
	if err := db.AutoMigrate(&Receipt{}); err != nil {
		return nil, fmt.Errorf("receipts: migrate: %w", err)
	}
	return &Journal{db: db}, nil
}

// Append stores r.
func (j *Journal) Append(ctx context.Context, r *Receipt) error {
	if j == nil || j.db == nil {
		return errors.New("receipts: journal closed")
	}
	if r == nil {
		return errors.New("receipts: nil receipt")
	}
	if strings.TrimSpace(r.TxHash) == "" {
		return errors.New("receipts: tx hash required")
	}
	return j.db.WithContext(ctx).Create(r).Error
}

// List returns matching receipts, newest first.
func (j *Journal) List(ctx context.Context, f Filter) ([]Receipt, error) {
	if j == nil || j.db == nil {
		return nil, errors.New("receipts: journal closed")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	query := j.db.WithContext(ctx).Model(&Receipt{})
	if recipient := strings.TrimSpace(f.Recipient); recipient != "" {
		query = query.Where("recipient = ?", recipient)
	}
	if action := strings.TrimSpace(f.Action); action != "" {
		query = query.Where("action = ?", action)
	}
	var out []Receipt
	if err := query.Order("height DESC").Order("id DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Close releases the underlying connection pool.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
