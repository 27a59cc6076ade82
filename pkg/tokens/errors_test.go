package tokens

import (
	"errors"
	"testing"
)

func TestWrapErrorFormatsSegments(test *testing.T) {
	test.Parallel()
	wrapped := WrapError("store", "ledger", "lookup", ErrLedgerNotFound)
	expected := "store.ledger.lookup: ledger not found"
	if wrapped.Error() != expected {
		test.Fatalf("expected %q, got %q", expected, wrapped.Error())
	}
	if !errors.Is(wrapped, ErrLedgerNotFound) {
		test.Fatalf("expected wrapped error to match sentinel")
	}
	var operationError OperationError
	if !errors.As(wrapped, &operationError) {
		test.Fatalf("expected OperationError, got %T", wrapped)
	}
	if operationError.Operation() != "store" || operationError.Subject() != "ledger" || operationError.Code() != "lookup" {
		test.Fatalf("unexpected segments: %s %s %s", operationError.Operation(), operationError.Subject(), operationError.Code())
	}
}

func TestWrapErrorNilPassthrough(test *testing.T) {
	test.Parallel()
	if wrapped := WrapError("store", "ledger", "lookup", nil); wrapped != nil {
		test.Fatalf("expected nil, got %v", wrapped)
	}
}

func TestInsufficientTokensErrorMatchesSentinel(test *testing.T) {
	test.Parallel()
	err := InsufficientTokensError{CurrentBalance: 3, RequiredTokens: 5}
	if !errors.Is(err, ErrInsufficientTokens) {
		test.Fatalf("expected sentinel match")
	}
	expected := "insufficient tokens: have 3, need 5"
	if err.Error() != expected {
		test.Fatalf("expected %q, got %q", expected, err.Error())
	}
}
