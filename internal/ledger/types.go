package ledger

import "time"

// AccountStatus is an administrative flag; it affects only admin views, not
// any balance math.
type AccountStatus string

const (
	AccountActive    AccountStatus = "active"
	AccountSuspended AccountStatus = "suspended"
	AccountBlocked   AccountStatus = "blocked"
)

// Account is identified by an opaque external account id. Created on first
// reference, never deleted.
type Account struct {
	ID        string
	Status    AccountStatus
	CreatedAt time.Time
}

// Balance is the one-per-account credit balance row.
type Balance struct {
	AccountID      string
	Balance        int64
	TotalPurchased int64
	TotalConsumed  int64
	UpdatedAt      time.Time
}

// PaymentStatus is one node of the payment status DAG:
//
//	PENDING -> COMPLETED -> REFUNDED
//	PENDING -> FAILED
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentCompleted PaymentStatus = "COMPLETED"
	PaymentFailed    PaymentStatus = "FAILED"
	PaymentRefunded  PaymentStatus = "REFUNDED"
)

// normalizeStatus upper-cases a status read from storage so legacy
// lowercase rows still compare equal to the canonical form.
func normalizeStatus(s string) PaymentStatus {
	switch s {
	case "pending", string(PaymentPending):
		return PaymentPending
	case "completed", string(PaymentCompleted):
		return PaymentCompleted
	case "failed", string(PaymentFailed):
		return PaymentFailed
	case "refunded", string(PaymentRefunded):
		return PaymentRefunded
	default:
		return PaymentStatus(s)
	}
}

// validTransition reports whether moving from `from` to `to` is legal under
// the status DAG. Idempotent transitions (from == to, both terminal) are
// handled by callers, not here — this function only knows the DAG edges.
func validTransition(from, to PaymentStatus) bool {
	switch from {
	case PaymentPending:
		return to == PaymentCompleted || to == PaymentFailed
	case PaymentCompleted:
		return to == PaymentRefunded
	default:
		return false
	}
}

// Payment is a payment record, unique by external transaction id.
type Payment struct {
	TxID            string
	Payer           string
	Target          string // optional beneficiary; empty means Payer
	Amount          float64
	CreditsAllocated int64
	Memo            string
	Status          PaymentStatus
	CreatedAt       time.Time
}

// LedgerEntryKind is one of the four append-only entry kinds.
type LedgerEntryKind string

const (
	KindPurchase         LedgerEntryKind = "purchase"
	KindConsumption      LedgerEntryKind = "consumption"
	KindRefund           LedgerEntryKind = "refund"
	KindAdminAdjustment  LedgerEntryKind = "admin_adjustment"
)

// LedgerEntry is one append-only ledger row.
type LedgerEntry struct {
	ID           int64
	AccountID    string
	Kind         LedgerEntryKind
	Amount       int64 // signed
	BalanceAfter int64 // snapshot, never negative
	Description  string
	Operation    string // optional
	PaymentTxID  string // optional
	CreatedAt    time.Time
}

// OperationCostRow mirrors pricing.OperationCost for read-only exposure
// through the store's operation-cost catalog listing.
type OperationCostRow struct {
	Name     string
	BaseCost int64
	Category string
}
