package tokens

import (
	"context"
	"fmt"
	"sync"
	"testing"
)

// stubStore is an in-memory Store. WithTx holds one lock for the whole
// callback and rolls state back on error, mirroring the serialization the
// SQL stores provide per user row.
type stubStore struct {
	mu      sync.Mutex
	ledgers map[string]Ledger
	entries []Entry

	failInsertEntry        error
	failSetBalance         error
	failGetLedger          error
	failGetLedgerForUpdate error
}

func newStubStore() *stubStore {
	return &stubStore{ledgers: map[string]Ledger{}}
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	snapshotLedgers := make(map[string]Ledger, len(store.ledgers))
	for key, value := range store.ledgers {
		snapshotLedgers[key] = value
	}
	snapshotEntries := append([]Entry(nil), store.entries...)
	if err := fn(ctx, (*stubStoreTx)(store)); err != nil {
		store.ledgers = snapshotLedgers
		store.entries = snapshotEntries
		return err
	}
	return nil
}

// stubStoreTx is the same store without re-locking inside a transaction.
type stubStoreTx stubStore

func (store *stubStoreTx) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	return fn(ctx, store)
}

func (store *stubStoreTx) GetLedger(_ context.Context, userID UserID) (Ledger, error) {
	if store.failGetLedger != nil {
		return Ledger{}, store.failGetLedger
	}
	ledger, ok := store.ledgers[userID.String()]
	if !ok {
		return Ledger{}, ErrLedgerNotFound
	}
	return ledger, nil
}

func (store *stubStoreTx) GetLedgerForUpdate(ctx context.Context, userID UserID) (Ledger, error) {
	if store.failGetLedgerForUpdate != nil {
		return Ledger{}, store.failGetLedgerForUpdate
	}
	return store.GetLedger(ctx, userID)
}

func (store *stubStoreTx) CreateLedger(_ context.Context, ledger Ledger) error {
	if _, ok := store.ledgers[ledger.UserID.String()]; ok {
		return ErrLedgerExists
	}
	store.ledgers[ledger.UserID.String()] = ledger
	return nil
}

func (store *stubStoreTx) SetBalance(_ context.Context, userID UserID, balance int64, updatedUnixUTC int64) error {
	if store.failSetBalance != nil {
		return store.failSetBalance
	}
	ledger, ok := store.ledgers[userID.String()]
	if !ok {
		return ErrLedgerNotFound
	}
	ledger.Balance = balance
	ledger.UpdatedUnixUTC = updatedUnixUTC
	store.ledgers[userID.String()] = ledger
	return nil
}

func (store *stubStoreTx) InsertEntry(_ context.Context, entry EntryInput) error {
	if store.failInsertEntry != nil {
		return store.failInsertEntry
	}
	store.entries = append(store.entries, Entry{
		EntryID:        fmt.Sprintf("entry-%d", len(store.entries)+1),
		UserID:         entry.UserID,
		Amount:         entry.Amount,
		Kind:           entry.Kind,
		Context:        entry.Context,
		CreatedUnixUTC: entry.CreatedUnixUTC,
	})
	return nil
}

func (store *stubStoreTx) ListEntries(_ context.Context, userID UserID, beforeUnixUTC int64, limit int) ([]Entry, error) {
	collected := make([]Entry, 0, len(store.entries))
	for index := len(store.entries) - 1; index >= 0; index-- {
		entry := store.entries[index]
		if entry.UserID != userID || entry.CreatedUnixUTC >= beforeUnixUTC {
			continue
		}
		collected = append(collected, entry)
		if limit > 0 && len(collected) == limit {
			break
		}
	}
	return collected, nil
}

func (store *stubStore) GetLedger(ctx context.Context, userID UserID) (Ledger, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return (*stubStoreTx)(store).GetLedger(ctx, userID)
}

func (store *stubStore) GetLedgerForUpdate(ctx context.Context, userID UserID) (Ledger, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return (*stubStoreTx)(store).GetLedgerForUpdate(ctx, userID)
}

func (store *stubStore) CreateLedger(ctx context.Context, ledger Ledger) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	return (*stubStoreTx)(store).CreateLedger(ctx, ledger)
}

func (store *stubStore) SetBalance(ctx context.Context, userID UserID, balance int64, updatedUnixUTC int64) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	return (*stubStoreTx)(store).SetBalance(ctx, userID, balance, updatedUnixUTC)
}

func (store *stubStore) InsertEntry(ctx context.Context, entry EntryInput) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	return (*stubStoreTx)(store).InsertEntry(ctx, entry)
}

func (store *stubStore) ListEntries(ctx context.Context, userID UserID, beforeUnixUTC int64, limit int) ([]Entry, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return (*stubStoreTx)(store).ListEntries(ctx, userID, beforeUnixUTC, limit)
}

func (store *stubStore) mustLedger(test *testing.T, userID UserID) Ledger {
	test.Helper()
	store.mu.Lock()
	defer store.mu.Unlock()
	ledger, ok := store.ledgers[userID.String()]
	if !ok {
		test.Fatalf("expected ledger for %s", userID.String())
	}
	return ledger
}

func (store *stubStore) entriesFor(userID UserID) []Entry {
	store.mu.Lock()
	defer store.mu.Unlock()
	collected := make([]Entry, 0, len(store.entries))
	for _, entry := range store.entries {
		if entry.UserID == userID {
			collected = append(collected, entry)
		}
	}
	return collected
}

func mustNewService(test *testing.T, store Store) *Service {
	test.Helper()
	clock := func() int64 { return 1_700_000_000 }
	service, err := NewService(store, clock)
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	return service
}

func mustUserID(test *testing.T, raw string) UserID {
	test.Helper()
	userID, err := NewUserID(raw)
	if err != nil {
		test.Fatalf("user id: %v", err)
	}
	return userID
}

func mustTokenAmount(test *testing.T, raw int64) TokenAmount {
	test.Helper()
	amount, err := NewTokenAmount(raw)
	if err != nil {
		test.Fatalf("token amount: %v", err)
	}
	return amount
}

func seedLedger(test *testing.T, store *stubStore, userID UserID, balance int64) {
	test.Helper()
	store.mu.Lock()
	defer store.mu.Unlock()
	store.ledgers[userID.String()] = Ledger{
		UserID:         userID,
		Balance:        balance,
		CreatedUnixUTC: 1,
		UpdatedUnixUTC: 1,
	}
}
