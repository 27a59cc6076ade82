package tokens

const (
	// InitialGrant is the token balance a ledger starts with on first access.
	InitialGrant int64 = 200

	defaultBaseCost        int64 = 1
	defaultPerResultCost   int64 = 1
	defaultMinimumCharge   int64 = 5
	defaultMaxResultsLimit       = 100

	operationBalance = "balance"
	operationDebit   = "debit"
	operationCredit  = "credit"
	operationHistory = "history"

	operationStatusOK    = "ok"
	operationStatusError = "error"
)
