package gormstore

import (
	"context"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/leadscout/pkg/tokens"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultContextJSON    = "{}"
	pgUniqueViolationCode = "23505"
	sqliteConstraintCode  = 19
	errorOperationStore   = "store"
	errorSubjectLedger    = "ledger"
	errorSubjectEntry     = "entry"
	errorCodeCreate       = "create"
	errorCodeDuplicate    = "duplicate"
	errorCodeGet          = "get"
	errorCodeInsert       = "insert"
	errorCodeInvalid      = "invalid"
	errorCodeList         = "list"
	errorCodeUpdate       = "update"
)

// Store implements tokens.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore tokens.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

// GetLedger reads a ledger without locking it.
func (store *Store) GetLedger(ctx context.Context, userID tokens.UserID) (tokens.Ledger, error) {
	return store.getLedger(ctx, userID, false)
}

// GetLedgerForUpdate reads a ledger holding a row lock for the enclosing
// transaction, serializing concurrent deltas on one user.
func (store *Store) GetLedgerForUpdate(ctx context.Context, userID tokens.UserID) (tokens.Ledger, error) {
	return store.getLedger(ctx, userID, true)
}

func (store *Store) getLedger(ctx context.Context, userID tokens.UserID, forUpdate bool) (tokens.Ledger, error) {
	query := store.db.WithContext(ctx)
	if forUpdate {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var model TokenLedger
	err := query.Where("user_id = ?", userID.String()).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tokens.Ledger{}, wrapStoreError(errorSubjectLedger, errorCodeGet, tokens.ErrLedgerNotFound)
		}
		return tokens.Ledger{}, wrapStoreError(errorSubjectLedger, errorCodeGet, err)
	}
	return mapTokenLedger(model)
}

// CreateLedger inserts a fresh ledger row. A concurrent creator surfaces
// as tokens.ErrLedgerExists so lazy initialization stays idempotent. The
// insert is conflict-tolerant (ON CONFLICT DO NOTHING) rather than letting
// the unique violation fire: postgres aborts the whole transaction on a
// constraint error, which would poison the enclosing WithTx before the
// caller can fall back to reading the winner's row.
func (store *Store) CreateLedger(ctx context.Context, ledger tokens.Ledger) error {
	model := TokenLedger{
		UserID:    ledger.UserID.String(),
		Balance:   ledger.Balance,
		CreatedAt: time.Unix(ledger.CreatedUnixUTC, 0).UTC(),
		UpdatedAt: time.Unix(ledger.UpdatedUnixUTC, 0).UTC(),
	}
	result := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).
		Create(&model)
	if result.Error != nil {
		if isUniqueViolation(result.Error) {
			return wrapStoreError(errorSubjectLedger, errorCodeDuplicate, tokens.ErrLedgerExists)
		}
		return wrapStoreError(errorSubjectLedger, errorCodeCreate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectLedger, errorCodeDuplicate, tokens.ErrLedgerExists)
	}
	return nil
}

// SetBalance writes the cached balance projection.
func (store *Store) SetBalance(ctx context.Context, userID tokens.UserID, balance int64, updatedUnixUTC int64) error {
	result := store.db.WithContext(ctx).
		Model(&TokenLedger{}).
		Where("user_id = ?", userID.String()).
		Updates(map[string]interface{}{
			"balance":    balance,
			"updated_at": time.Unix(updatedUnixUTC, 0).UTC(),
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectLedger, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectLedger, errorCodeUpdate, tokens.ErrLedgerNotFound)
	}
	return nil
}

// InsertEntry appends one immutable history row.
func (store *Store) InsertEntry(ctx context.Context, entryInput tokens.EntryInput) error {
	entry := TokenEntry{
		UserID:    entryInput.UserID.String(),
		Amount:    entryInput.Amount,
		Kind:      entryInput.Kind.String(),
		Context:   datatypesJSON(entryInput.Context.String()),
		CreatedAt: time.Unix(entryInput.CreatedUnixUTC, 0).UTC(),
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if err := store.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return wrapStoreError(errorSubjectEntry, errorCodeInsert, err)
	}
	return nil
}

// ListEntries returns history rows newest first.
func (store *Store) ListEntries(ctx context.Context, userID tokens.UserID, beforeUnixUTC int64, limit int) ([]tokens.Entry, error) {
	before := time.Unix(beforeUnixUTC, 0).UTC()
	if beforeUnixUTC == 0 {
		before = time.Now().UTC().Add(time.Second)
	}

	var rows []TokenEntry
	err := store.db.WithContext(ctx).
		Where("user_id = ? AND created_at < ?", userID.String(), before).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}

	entries := make([]tokens.Entry, 0, len(rows))
	for _, row := range rows {
		entry, err := mapTokenEntry(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return tokens.WrapError(errorOperationStore, subject, code, err)
}

func mapTokenLedger(model TokenLedger) (tokens.Ledger, error) {
	userID, err := tokens.NewUserID(model.UserID)
	if err != nil {
		return tokens.Ledger{}, wrapStoreError(errorSubjectLedger, errorCodeInvalid, err)
	}
	return tokens.Ledger{
		UserID:         userID,
		Balance:        model.Balance,
		CreatedUnixUTC: model.CreatedAt.Unix(),
		UpdatedUnixUTC: model.UpdatedAt.Unix(),
	}, nil
}

func mapTokenEntry(row TokenEntry) (tokens.Entry, error) {
	userID, err := tokens.NewUserID(row.UserID)
	if err != nil {
		return tokens.Entry{}, err
	}
	kind, err := tokens.ParseEntryKind(row.Kind)
	if err != nil {
		return tokens.Entry{}, err
	}
	contextValue, err := tokens.NewContextJSON(string(row.Context))
	if err != nil {
		return tokens.Entry{}, err
	}
	return tokens.Entry{
		EntryID:        row.EntryID,
		UserID:         userID,
		Amount:         row.Amount,
		Kind:           kind,
		Context:        contextValue,
		CreatedUnixUTC: row.CreatedAt.Unix(),
	}, nil
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultContextJSON))
	}
	return datatypes.JSON([]byte(raw))
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
