package ledger

import "context"

// Store is the narrow capability surface the Credit Manager is allowed to
// call. It is the only component permitted to mutate accounts, balances,
// payments, or ledger entries — both concrete implementations (sqlStore,
// memStore) must give callers identical observable behavior.
//
// Every mutating method is serialized per account: implementations must
// guarantee at-most-once credit allocation per transaction id and must
// never let a write drive balance_after below zero.
type Store interface {
	EnsureAccount(ctx context.Context, accountID string) error

	// GetBalance returns a zero-valued balance (never an error, never nil)
	// for an account with no row yet.
	GetBalance(ctx context.Context, accountID string) (Balance, error)

	// GetHistory returns ledger entries for accountID, newest first,
	// capped at limit.
	GetHistory(ctx context.Context, accountID string, limit int) ([]LedgerEntry, error)

	ListOperationCosts(ctx context.Context) ([]OperationCostRow, error)
	SeedOperationCosts(ctx context.Context, costs []OperationCostRow) error

	FindPayment(ctx context.Context, txID string) (*Payment, error)

	// ListPendingPayments returns payments in PENDING status, recognizing
	// both the canonical uppercase and legacy lowercase stored form.
	ListPendingPayments(ctx context.Context) ([]Payment, error)

	// RecordPaymentAndLedger atomically upserts a payment record (merging
	// status per the DAG) and, only when entry is non-nil and its Amount is
	// non-zero, appends the ledger entry and updates the cached balance.
	// Re-recording a payment with the status it already has (for example a
	// duplicate COMPLETED write) is a no-op that reports success
	// (applied=false, err=nil); any other status change must follow the DAG
	// or fails with *InvalidStateTransitionError.
	RecordPaymentAndLedger(ctx context.Context, payment Payment, entry *LedgerEntry) (applied bool, err error)

	// AppendLedger atomically appends entry and updates the cached balance
	// row. BalanceAfter is computed by the store from its own running
	// balance (any value the caller set is overwritten); the call fails if
	// that result would be negative.
	AppendLedger(ctx context.Context, entry LedgerEntry) error

	// UpdatePaymentStatus transitions a payment's status; invalid
	// transitions fail with *InvalidStateTransitionError.
	UpdatePaymentStatus(ctx context.Context, txID string, status PaymentStatus) error

	Close() error
}
