package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// TokenLedger represents the token_ledgers table: one balance row per user.
// The balance is a projection of token_entries, maintained only inside
// store transactions.
type TokenLedger struct {
	UserID    string    `gorm:"primaryKey"`
	Balance   int64     `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (TokenLedger) TableName() string { return "token_ledgers" }

// TokenEntry mirrors the token_entries table: the append-only history.
type TokenEntry struct {
	EntryID   string         `gorm:"type:uuid;primaryKey"`
	UserID    string         `gorm:"not null;index:idx_token_entries_user_created,priority:1"`
	Amount    int64          `gorm:"not null"`
	Kind      string         `gorm:"not null"`
	Context   datatypes.JSON `gorm:"not null"`
	CreatedAt time.Time      `gorm:"not null;index:idx_token_entries_user_created,priority:2"`
}

func (TokenEntry) TableName() string { return "token_entries" }

func (entry *TokenEntry) BeforeCreate(tx *gorm.DB) error {
	if entry.EntryID == "" {
		entry.EntryID = uuid.NewString()
	}
	return nil
}
