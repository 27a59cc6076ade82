package tokens

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the token service.
var (
	ErrInsufficientTokens   = errors.New("insufficient tokens")
	ErrLedgerNotFound       = errors.New("ledger not found")
	ErrLedgerExists         = errors.New("ledger already exists")
	ErrInvalidUserID        = errors.New("invalid user id")
	ErrInvalidTokenAmount   = errors.New("invalid token amount")
	ErrInvalidEntryKind     = errors.New("invalid entry kind")
	ErrInvalidContextJSON   = errors.New("invalid context json")
	ErrInvalidServiceConfig = errors.New("invalid service config")
)

// InsufficientTokensError carries the numbers the user needs to act on.
// errors.Is(err, ErrInsufficientTokens) matches it.
type InsufficientTokensError struct {
	CurrentBalance int64
	RequiredTokens int64
}

// Error returns a user-displayable message.
func (insufficient InsufficientTokensError) Error() string {
	return fmt.Sprintf("insufficient tokens: have %d, need %d", insufficient.CurrentBalance, insufficient.RequiredTokens)
}

// Is matches the ErrInsufficientTokens sentinel.
func (insufficient InsufficientTokensError) Is(target error) bool {
	return target == ErrInsufficientTokens
}

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}
