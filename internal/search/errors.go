package search

import (
	"errors"
	"fmt"
)

// ErrSearchFailed wraps external lookup failures. The caller is never
// charged for a failed lookup.
var ErrSearchFailed = errors.New("search failed")

// ValidationError rejects a malformed request before any ledger access.
type ValidationError struct {
	Field  string
	Reason string
}

// Error returns a user-displayable message.
func (validation ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", validation.Field, validation.Reason)
}

// SettlementError marks the race where the balance dropped between
// pre-authorization and settlement. The fetched results are discarded and
// no debit is recorded.
type SettlementError struct {
	Err error
}

// Error returns the formatted message.
func (settlement SettlementError) Error() string {
	return fmt.Sprintf("settlement failed: %v", settlement.Err)
}

// Unwrap exposes the underlying debit failure.
func (settlement SettlementError) Unwrap() error {
	return settlement.Err
}
