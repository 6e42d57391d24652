package ledger

import (
	"context"
	"sort"
	"sync"
	"time"
)

// memStore is the ephemeral in-memory Store backend: a map of account
// states guarded by a store-level RWMutex for membership, plus one
// per-account Mutex for the serialized-write contract every mutating
// method needs. It exists for tests and as the fallback when no durable
// databaseUrl is configured.
type memStore struct {
	mu       sync.RWMutex
	accounts map[string]*accountState
	costs    map[string]OperationCostRow
	payments map[string]*Payment
}

type accountState struct {
	mu      sync.Mutex
	account Account
	balance Balance
	history []LedgerEntry // newest last internally, reversed on read
}

// NewMemStore constructs an empty in-memory Store.
func NewMemStore() Store {
	return &memStore{
		accounts: make(map[string]*accountState),
		costs:    make(map[string]OperationCostRow),
		payments: make(map[string]*Payment),
	}
}

func (m *memStore) getOrCreate(accountID string) *accountState {
	m.mu.RLock()
	st, ok := m.accounts[accountID]
	m.mu.RUnlock()
	if ok {
		return st
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok = m.accounts[accountID]
	if ok {
		return st
	}
	st = &accountState{
		account: Account{ID: accountID, Status: AccountActive, CreatedAt: time.Now()},
		balance: Balance{AccountID: accountID, UpdatedAt: time.Now()},
	}
	m.accounts[accountID] = st
	return st
}

func (m *memStore) EnsureAccount(ctx context.Context, accountID string) error {
	m.getOrCreate(accountID)
	return nil
}

func (m *memStore) GetBalance(ctx context.Context, accountID string) (Balance, error) {
	m.mu.RLock()
	st, ok := m.accounts[accountID]
	m.mu.RUnlock()
	if !ok {
		return Balance{AccountID: accountID, UpdatedAt: time.Now()}, nil
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	return st.balance, nil
}

func (m *memStore) GetHistory(ctx context.Context, accountID string, limit int) ([]LedgerEntry, error) {
	m.mu.RLock()
	st, ok := m.accounts[accountID]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	n := len(st.history)
	out := make([]LedgerEntry, 0, n)
	for i := n - 1; i >= 0; i-- {
		out = append(out, st.history[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *memStore) ListOperationCosts(ctx context.Context) ([]OperationCostRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]OperationCostRow, 0, len(m.costs))
	for _, c := range m.costs {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memStore) SeedOperationCosts(ctx context.Context, costs []OperationCostRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range costs {
		m.costs[c.Name] = c
	}
	return nil
}

func (m *memStore) FindPayment(ctx context.Context, txID string) (*Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.payments[txID]
	if !ok {
		return nil, nil
	}
	cp := *p
	cp.Status = normalizeStatus(string(p.Status))
	return &cp, nil
}

func (m *memStore) ListPendingPayments(ctx context.Context) ([]Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Payment
	for _, p := range m.payments {
		if normalizeStatus(string(p.Status)) == PaymentPending {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *memStore) RecordPaymentAndLedger(ctx context.Context, payment Payment, entry *LedgerEntry) (bool, error) {
	payment.Status = normalizeStatus(string(payment.Status))

	m.mu.Lock()
	existing, ok := m.payments[payment.TxID]
	if ok {
		existingStatus := normalizeStatus(string(existing.Status))

		if existingStatus == payment.Status {
			// Exact repeat of a status we already recorded: no-op success,
			// whether or not it's terminal.
			m.mu.Unlock()
			return false, nil
		}

		if !validTransition(existingStatus, payment.Status) {
			m.mu.Unlock()
			return false, &InvalidStateTransitionError{TxID: payment.TxID, From: existingStatus, To: payment.Status}
		}

		existing.Status = payment.Status
		existing.CreditsAllocated = payment.CreditsAllocated
	} else {
		cp := payment
		m.payments[payment.TxID] = &cp
	}
	m.mu.Unlock()

	if entry == nil || entry.Amount == 0 {
		return true, nil
	}

	if err := m.AppendLedger(ctx, *entry); err != nil {
		return false, err
	}
	return true, nil
}

func (m *memStore) AppendLedger(ctx context.Context, entry LedgerEntry) error {
	st := m.getOrCreate(entry.AccountID)

	st.mu.Lock()
	defer st.mu.Unlock()

	newBalance := st.balance.Balance + entry.Amount
	if newBalance < 0 {
		return &StoreError{Op: "AppendLedger", Err: &ValidationError{Field: "amount", Reason: "would drive balance negative"}}
	}

	entry.BalanceAfter = newBalance
	entry.CreatedAt = time.Now()
	st.balance.Balance = newBalance
	if entry.Amount > 0 {
		st.balance.TotalPurchased += entry.Amount
	} else if entry.Amount < 0 {
		st.balance.TotalConsumed += -entry.Amount
	}
	st.balance.UpdatedAt = entry.CreatedAt
	st.history = append(st.history, entry)

	return nil
}

func (m *memStore) UpdatePaymentStatus(ctx context.Context, txID string, status PaymentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.payments[txID]
	if !ok {
		return &StoreError{Op: "UpdatePaymentStatus", Err: &ValidationError{Field: "txID", Reason: "payment not found"}}
	}

	from := normalizeStatus(string(p.Status))
	if from == status {
		return nil
	}
	if !validTransition(from, status) {
		return &InvalidStateTransitionError{TxID: txID, From: from, To: status}
	}

	p.Status = status
	return nil
}

func (m *memStore) Close() error { return nil }
