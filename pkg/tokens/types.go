package tokens

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// UserID identifies a ledger owner.
type UserID struct {
	value string
}

// NewUserID validates and normalizes a user id.
func NewUserID(raw string) (UserID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return UserID{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	return UserID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id UserID) String() string {
	return id.value
}

// TokenAmount is a strictly positive token quantity used as a debit or
// credit argument. Signed deltas appear only on ledger entries.
type TokenAmount int64

// NewTokenAmount validates an amount and ensures it is strictly positive.
func NewTokenAmount(raw int64) (TokenAmount, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidTokenAmount)
	}
	return TokenAmount(raw), nil
}

// Int64 returns the raw amount.
func (amount TokenAmount) Int64() int64 {
	return int64(amount)
}

// EntryKind enumerates ledger entry purposes.
type EntryKind string

const (
	EntrySearchDebit  EntryKind = "search-debit"
	EntryCredit       EntryKind = "credit"
	EntryInitialGrant EntryKind = "initial-grant"
)

// ParseEntryKind validates a stored kind tag.
func ParseEntryKind(raw string) (EntryKind, error) {
	switch EntryKind(raw) {
	case EntrySearchDebit, EntryCredit, EntryInitialGrant:
		return EntryKind(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidEntryKind, raw)
}

// String returns the kind tag.
func (kind EntryKind) String() string {
	return string(kind)
}

// ContextJSON stores the kind-specific payload attached to an entry.
type ContextJSON struct {
	value string
}

// NewContextJSON validates a context payload (defaulting to "{}" for empty inputs).
func NewContextJSON(raw string) (ContextJSON, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		normalized = "{}"
	}
	if !json.Valid([]byte(normalized)) {
		return ContextJSON{}, fmt.Errorf("%w: must be valid json", ErrInvalidContextJSON)
	}
	return ContextJSON{value: normalized}, nil
}

// String returns the normalized JSON blob.
func (contextValue ContextJSON) String() string {
	return contextValue.value
}

// SearchContext captures the search a debit paid for.
type SearchContext struct {
	Keyword          string `json:"keyword"`
	Location         string `json:"location"`
	RadiusMeters     int    `json:"radius"`
	RequestedResults int    `json:"max_results"`
	ResultsFound     int    `json:"results_found"`
}

// ContextJSON renders the search context as an entry payload.
func (searchContext SearchContext) ContextJSON() (ContextJSON, error) {
	raw, err := json.Marshal(searchContext)
	if err != nil {
		return ContextJSON{}, fmt.Errorf("%w: %v", ErrInvalidContextJSON, err)
	}
	return NewContextJSON(string(raw))
}

// Entry is a single immutable line in a user's token history.
type Entry struct {
	EntryID        string
	UserID         UserID
	Amount         int64
	Kind           EntryKind
	Context        ContextJSON
	CreatedUnixUTC int64
}

// EntryInput describes an entry about to be appended.
type EntryInput struct {
	UserID         UserID
	Amount         int64
	Kind           EntryKind
	Context        ContextJSON
	CreatedUnixUTC int64
}

// NewEntryInput validates an entry before it reaches the store.
func NewEntryInput(userID UserID, kind EntryKind, amount int64, contextValue ContextJSON, createdUnixUTC int64) (EntryInput, error) {
	if userID.String() == "" {
		return EntryInput{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	if amount == 0 {
		return EntryInput{}, fmt.Errorf("%w: entry delta must be non-zero", ErrInvalidTokenAmount)
	}
	if _, err := ParseEntryKind(kind.String()); err != nil {
		return EntryInput{}, err
	}
	return EntryInput{
		UserID:         userID,
		Amount:         amount,
		Kind:           kind,
		Context:        contextValue,
		CreatedUnixUTC: createdUnixUTC,
	}, nil
}

// Ledger is the per-user balance record. Balance is a cached projection of
// the entry history, maintained only inside store transactions.
type Ledger struct {
	UserID         UserID
	Balance        int64
	CreatedUnixUTC int64
	UpdatedUnixUTC int64
}

// Store is the persistence contract used by Service. Reads used for
// mutation must lock the ledger row so concurrent deltas on one user
// serialize; different users must not block each other.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	GetLedger(ctx context.Context, userID UserID) (Ledger, error)
	GetLedgerForUpdate(ctx context.Context, userID UserID) (Ledger, error)
	CreateLedger(ctx context.Context, ledger Ledger) error
	SetBalance(ctx context.Context, userID UserID, balance int64, updatedUnixUTC int64) error
	InsertEntry(ctx context.Context, entry EntryInput) error
	ListEntries(ctx context.Context, userID UserID, beforeUnixUTC int64, limit int) ([]Entry, error)
}
