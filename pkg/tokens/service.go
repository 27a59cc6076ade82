package tokens

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Service contains the token metering logic over a Store.
type Service struct {
	store  Store
	nowFn  func() int64
	logger OperationLogger
}

// NewService wires a Service.
func NewService(store Store, now func() int64, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, nowFn: now}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// Balance returns the current token balance, lazily creating the ledger
// with the initial grant on first access. An existing ledger is read
// without a transaction or row lock; only the first access pays for one.
func (service *Service) Balance(ctx context.Context, userID UserID) (int64, error) {
	var balance int64
	ledger, operationError := service.store.GetLedger(ctx, userID)
	switch {
	case operationError == nil:
		balance = ledger.Balance
	case errors.Is(operationError, ErrLedgerNotFound):
		operationError = service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
			initialized, err := service.ensureLedger(ctx, transactionStore, userID)
			if err != nil {
				return err
			}
			balance = initialized.Balance
			return nil
		})
	}
	service.logOperation(ctx, OperationLog{
		Operation: operationBalance,
		UserID:    userID,
		Balance:   balance,
		Error:     operationError,
	})
	return balance, operationError
}

// Debit atomically subtracts amount and appends a search-debit entry
// carrying the search context. A debit that would drive the balance
// negative fails entirely with InsufficientTokensError.
func (service *Service) Debit(ctx context.Context, userID UserID, amount TokenAmount, searchContext SearchContext) (int64, error) {
	contextValue, err := searchContext.ContextJSON()
	if err != nil {
		return 0, err
	}
	balance, operationError := service.applyDelta(ctx, userID, -amount.Int64(), EntrySearchDebit, contextValue)
	service.logOperation(ctx, OperationLog{
		Operation: operationDebit,
		UserID:    userID,
		Amount:    amount.Int64(),
		Balance:   balance,
		Kind:      EntrySearchDebit,
		Error:     operationError,
	})
	return balance, operationError
}

// Credit atomically adds amount with a credit entry recording the reason.
// There is no upper bound on a balance.
func (service *Service) Credit(ctx context.Context, userID UserID, amount TokenAmount, reason string) (int64, error) {
	contextValue, err := creditContext(reason)
	if err != nil {
		return 0, err
	}
	balance, operationError := service.applyDelta(ctx, userID, amount.Int64(), EntryCredit, contextValue)
	service.logOperation(ctx, OperationLog{
		Operation: operationCredit,
		UserID:    userID,
		Amount:    amount.Int64(),
		Balance:   balance,
		Kind:      EntryCredit,
		Error:     operationError,
	})
	return balance, operationError
}

// History returns recent ledger entries, newest first.
func (service *Service) History(ctx context.Context, userID UserID, beforeUnixUTC int64, limit int) ([]Entry, error) {
	if beforeUnixUTC == 0 {
		beforeUnixUTC = service.nowFn() + 1
	}
	entries, operationError := service.store.ListEntries(ctx, userID, beforeUnixUTC, limit)
	service.logOperation(ctx, OperationLog{
		Operation: operationHistory,
		UserID:    userID,
		Error:     operationError,
	})
	return entries, operationError
}

// applyDelta is the sole mutation path: read the locked ledger, verify a
// debit stays non-negative, write the new balance, append the entry.
func (service *Service) applyDelta(ctx context.Context, userID UserID, delta int64, kind EntryKind, contextValue ContextJSON) (int64, error) {
	var newBalance int64
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		ledger, err := service.ensureLedger(ctx, transactionStore, userID)
		if err != nil {
			return err
		}
		candidate := ledger.Balance + delta
		if candidate < 0 {
			return InsufficientTokensError{
				CurrentBalance: ledger.Balance,
				RequiredTokens: -delta,
			}
		}
		nowUnixUTC := service.nowFn()
		if err := transactionStore.SetBalance(ctx, userID, candidate, nowUnixUTC); err != nil {
			return err
		}
		entryInput, err := NewEntryInput(userID, kind, delta, contextValue, nowUnixUTC)
		if err != nil {
			return err
		}
		if err := transactionStore.InsertEntry(ctx, entryInput); err != nil {
			return err
		}
		newBalance = candidate
		return nil
	})
	if operationError != nil {
		return 0, operationError
	}
	return newBalance, nil
}

// ensureLedger loads the row-locked ledger, creating it with the initial
// grant when absent. Creation is idempotent: losing a concurrent create
// falls back to reading the winner's row; an existing balance is never
// overwritten.
func (service *Service) ensureLedger(ctx context.Context, transactionStore Store, userID UserID) (Ledger, error) {
	ledger, err := transactionStore.GetLedgerForUpdate(ctx, userID)
	if err == nil {
		return ledger, nil
	}
	if !errors.Is(err, ErrLedgerNotFound) {
		return Ledger{}, err
	}
	nowUnixUTC := service.nowFn()
	fresh := Ledger{
		UserID:         userID,
		Balance:        InitialGrant,
		CreatedUnixUTC: nowUnixUTC,
		UpdatedUnixUTC: nowUnixUTC,
	}
	if createErr := transactionStore.CreateLedger(ctx, fresh); createErr != nil {
		if errors.Is(createErr, ErrLedgerExists) {
			return transactionStore.GetLedgerForUpdate(ctx, userID)
		}
		return Ledger{}, createErr
	}
	grantContext, err := NewContextJSON(`{"reason":"initial grant"}`)
	if err != nil {
		return Ledger{}, err
	}
	entryInput, err := NewEntryInput(userID, EntryInitialGrant, InitialGrant, grantContext, nowUnixUTC)
	if err != nil {
		return Ledger{}, err
	}
	if err := transactionStore.InsertEntry(ctx, entryInput); err != nil {
		return Ledger{}, err
	}
	return fresh, nil
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}

func creditContext(reason string) (ContextJSON, error) {
	raw, err := json.Marshal(map[string]string{"reason": reason})
	if err != nil {
		return ContextJSON{}, fmt.Errorf("%w: %v", ErrInvalidContextJSON, err)
	}
	return NewContextJSON(string(raw))
}
