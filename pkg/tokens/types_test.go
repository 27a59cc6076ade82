package tokens

import (
	"errors"
	"testing"
)

func TestNewUserIDRejectsBlankValues(test *testing.T) {
	test.Parallel()
	for _, raw := range []string{"", "   ", "\t\n"} {
		if _, err := NewUserID(raw); !errors.Is(err, ErrInvalidUserID) {
			test.Fatalf("expected ErrInvalidUserID for %q, got %v", raw, err)
		}
	}
	userID, err := NewUserID("  user-7  ")
	if err != nil {
		test.Fatalf("user id: %v", err)
	}
	if userID.String() != "user-7" {
		test.Fatalf("expected trimmed id, got %q", userID.String())
	}
}

func TestNewTokenAmountRejectsNonPositive(test *testing.T) {
	test.Parallel()
	for _, raw := range []int64{0, -1, -200} {
		if _, err := NewTokenAmount(raw); !errors.Is(err, ErrInvalidTokenAmount) {
			test.Fatalf("expected ErrInvalidTokenAmount for %d, got %v", raw, err)
		}
	}
	amount, err := NewTokenAmount(16)
	if err != nil {
		test.Fatalf("token amount: %v", err)
	}
	if amount.Int64() != 16 {
		test.Fatalf("expected 16, got %d", amount.Int64())
	}
}

func TestNewContextJSONDefaultsAndValidates(test *testing.T) {
	test.Parallel()
	empty, err := NewContextJSON("")
	if err != nil {
		test.Fatalf("context json: %v", err)
	}
	if empty.String() != "{}" {
		test.Fatalf("expected empty object, got %q", empty.String())
	}
	if _, err := NewContextJSON("{not json"); !errors.Is(err, ErrInvalidContextJSON) {
		test.Fatalf("expected ErrInvalidContextJSON, got %v", err)
	}
}

func TestParseEntryKind(test *testing.T) {
	test.Parallel()
	for _, kind := range []EntryKind{EntrySearchDebit, EntryCredit, EntryInitialGrant} {
		parsed, err := ParseEntryKind(kind.String())
		if err != nil {
			test.Fatalf("parse %s: %v", kind, err)
		}
		if parsed != kind {
			test.Fatalf("expected %s, got %s", kind, parsed)
		}
	}
	if _, err := ParseEntryKind("refund"); !errors.Is(err, ErrInvalidEntryKind) {
		test.Fatalf("expected ErrInvalidEntryKind, got %v", err)
	}
}

func TestNewEntryInputRejectsZeroDelta(test *testing.T) {
	test.Parallel()
	userID := mustUserID(test, "entry-user")
	contextValue, err := NewContextJSON("{}")
	if err != nil {
		test.Fatalf("context json: %v", err)
	}
	if _, err := NewEntryInput(userID, EntryCredit, 0, contextValue, 1); !errors.Is(err, ErrInvalidTokenAmount) {
		test.Fatalf("expected ErrInvalidTokenAmount, got %v", err)
	}
	if _, err := NewEntryInput(UserID{}, EntryCredit, 5, contextValue, 1); !errors.Is(err, ErrInvalidUserID) {
		test.Fatalf("expected ErrInvalidUserID, got %v", err)
	}
}
