// Package ledger's SQL backend. Grounded on the teacher's ledger.go
// connection-pool setup and transaction style, generalized to drive either
// PostgreSQL (github.com/lib/pq) or an embedded SQLite file
// (modernc.org/sqlite) from one code path, selected by the databaseUrl
// scheme.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

type sqlStore struct {
	db  *sql.DB
	d   dialect
	log zerolog.Logger
}

// NewSQLStore opens a durable SQL-backed Store. databaseUrl's scheme picks
// the driver: "sqlite://" for an embedded file store, "postgresql://" for a
// networked connection. The schema must already exist — migrations are
// applied out of band by the operator CLI's migrate subcommand, not here.
func NewSQLStore(databaseURL string, logger zerolog.Logger) (Store, error) {
	var driverName, dsn string

	switch {
	case strings.HasPrefix(databaseURL, "sqlite://"):
		driverName = "sqlite"
		dsn = strings.TrimPrefix(databaseURL, "sqlite://")
	case strings.HasPrefix(databaseURL, "postgresql://"), strings.HasPrefix(databaseURL, "postgres://"):
		driverName = "postgres"
		dsn = databaseURL
	default:
		return nil, fmt.Errorf("unrecognized databaseUrl scheme for SQL store: %q", databaseURL)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s failed: %w", driverName, err)
	}

	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(1 * time.Minute)
	if driverName == "sqlite" {
		// sqlite has a single writer; oversized pools just thrash on the
		// file lock.
		db.SetMaxOpenConns(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("%s ping failed: %w", driverName, err)
	}

	logger.Info().Str("driver", driverName).Msg("sql ledger store connected")

	return &sqlStore{
		db:  db,
		d:   dialect{name: driverName},
		log: logger.With().Str("component", "sql_store").Logger(),
	}, nil
}

func (s *sqlStore) q(query string, n int) string {
	for i := 1; i <= n; i++ {
		query = strings.Replace(query, fmt.Sprintf("{%d}", i), s.d.placeholder(i), 1)
	}
	return query
}

func (s *sqlStore) EnsureAccount(ctx context.Context, accountID string) error {
	now := time.Now()

	var insertAccount, insertBalance string
	if s.d.name == "postgres" {
		insertAccount = `INSERT INTO accounts (id, status, created_at) VALUES ($1, $2, $3) ON CONFLICT (id) DO NOTHING`
		insertBalance = `INSERT INTO credit_balances (account_id, balance, total_purchased, total_consumed, updated_at)
			VALUES ($1, 0, 0, 0, $2) ON CONFLICT (account_id) DO NOTHING`
	} else {
		insertAccount = `INSERT OR IGNORE INTO accounts (id, status, created_at) VALUES (?, ?, ?)`
		insertBalance = `INSERT OR IGNORE INTO credit_balances (account_id, balance, total_purchased, total_consumed, updated_at)
			VALUES (?, 0, 0, 0, ?)`
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &StoreError{Op: "EnsureAccount", Err: err}
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, insertAccount, accountID, string(AccountActive), now); err != nil {
		return &StoreError{Op: "EnsureAccount", Err: err}
	}
	if _, err := tx.ExecContext(ctx, insertBalance, accountID, now); err != nil {
		return &StoreError{Op: "EnsureAccount", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &StoreError{Op: "EnsureAccount", Err: err}
	}
	return nil
}

func (s *sqlStore) GetBalance(ctx context.Context, accountID string) (Balance, error) {
	query := s.q(`SELECT balance, total_purchased, total_consumed, updated_at FROM credit_balances WHERE account_id = {1}`, 1)

	var b Balance
	b.AccountID = accountID
	err := s.db.QueryRowContext(ctx, query, accountID).Scan(&b.Balance, &b.TotalPurchased, &b.TotalConsumed, &b.UpdatedAt)
	if err == sql.ErrNoRows {
		return Balance{AccountID: accountID, UpdatedAt: time.Now()}, nil
	}
	if err != nil {
		return Balance{}, &StoreError{Op: "GetBalance", Err: err}
	}
	return b, nil
}

func (s *sqlStore) GetHistory(ctx context.Context, accountID string, limit int) ([]LedgerEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	query := s.q(`SELECT id, account_id, kind, amount, balance_after, description, operation, payment_tx_id, created_at
		FROM credit_transactions WHERE account_id = {1} ORDER BY created_at DESC, id DESC LIMIT {2}`, 2)

	rows, err := s.db.QueryContext(ctx, query, accountID, limit)
	if err != nil {
		return nil, &StoreError{Op: "GetHistory", Err: err}
	}
	defer rows.Close()

	var out []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		var operation, paymentTxID sql.NullString
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Kind, &e.Amount, &e.BalanceAfter, &e.Description, &operation, &paymentTxID, &e.CreatedAt); err != nil {
			return nil, &StoreError{Op: "GetHistory", Err: err}
		}
		e.Operation = operation.String
		e.PaymentTxID = paymentTxID.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqlStore) ListOperationCosts(ctx context.Context) ([]OperationCostRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, base_cost, category FROM operation_costs ORDER BY name`)
	if err != nil {
		return nil, &StoreError{Op: "ListOperationCosts", Err: err}
	}
	defer rows.Close()

	var out []OperationCostRow
	for rows.Next() {
		var oc OperationCostRow
		if err := rows.Scan(&oc.Name, &oc.BaseCost, &oc.Category); err != nil {
			return nil, &StoreError{Op: "ListOperationCosts", Err: err}
		}
		out = append(out, oc)
	}
	return out, rows.Err()
}

func (s *sqlStore) SeedOperationCosts(ctx context.Context, costs []OperationCostRow) error {
	var upsert string
	if s.d.name == "postgres" {
		upsert = `INSERT INTO operation_costs (name, base_cost, category) VALUES ($1, $2, $3)
			ON CONFLICT (name) DO UPDATE SET base_cost = EXCLUDED.base_cost, category = EXCLUDED.category`
	} else {
		upsert = `INSERT INTO operation_costs (name, base_cost, category) VALUES (?, ?, ?)
			ON CONFLICT (name) DO UPDATE SET base_cost = excluded.base_cost, category = excluded.category`
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &StoreError{Op: "SeedOperationCosts", Err: err}
	}
	defer tx.Rollback()

	for _, c := range costs {
		if _, err := tx.ExecContext(ctx, upsert, c.Name, c.BaseCost, c.Category); err != nil {
			return &StoreError{Op: "SeedOperationCosts", Err: err}
		}
	}
	return tx.Commit()
}

func (s *sqlStore) FindPayment(ctx context.Context, txID string) (*Payment, error) {
	query := s.q(`SELECT tx_id, payer, target, amount, credits_allocated, memo, status, created_at
		FROM payments WHERE tx_id = {1}`, 1)

	var p Payment
	var target, memo sql.NullString
	err := s.db.QueryRowContext(ctx, query, txID).Scan(&p.TxID, &p.Payer, &target, &p.Amount, &p.CreditsAllocated, &memo, &p.Status, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &StoreError{Op: "FindPayment", Err: err}
	}
	p.Target = target.String
	p.Memo = memo.String
	p.Status = normalizeStatus(string(p.Status))
	return &p, nil
}

func (s *sqlStore) ListPendingPayments(ctx context.Context) ([]Payment, error) {
	query := s.q(`SELECT tx_id, payer, target, amount, credits_allocated, memo, status, created_at
		FROM payments WHERE status IN ({1}, {2})`, 2)

	rows, err := s.db.QueryContext(ctx, query, string(PaymentPending), strings.ToLower(string(PaymentPending)))
	if err != nil {
		return nil, &StoreError{Op: "ListPendingPayments", Err: err}
	}
	defer rows.Close()

	var out []Payment
	for rows.Next() {
		var p Payment
		var target, memo sql.NullString
		if err := rows.Scan(&p.TxID, &p.Payer, &target, &p.Amount, &p.CreditsAllocated, &memo, &p.Status, &p.CreatedAt); err != nil {
			return nil, &StoreError{Op: "ListPendingPayments", Err: err}
		}
		p.Target = target.String
		p.Memo = memo.String
		p.Status = normalizeStatus(string(p.Status))
		out = append(out, p)
	}
	return out, rows.Err()
}

// RecordPaymentAndLedger is the one genuinely tricky query in the store: it
// must serialize per credited account (SELECT ... FOR UPDATE on the balance
// row of the entry's account, or of the payer when there is no entry), merge the payment's status per the DAG, and conditionally append a
// ledger entry — all inside one transaction, so a crash between the two
// writes is impossible.
func (s *sqlStore) RecordPaymentAndLedger(ctx context.Context, payment Payment, entry *LedgerEntry) (bool, error) {
	payment.Status = normalizeStatus(string(payment.Status))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, &StoreError{Op: "RecordPaymentAndLedger", Err: err}
	}
	defer tx.Rollback()

	lockAccount := payment.Payer
	if entry != nil {
		lockAccount = entry.AccountID
	}
	if _, err := s.lockBalanceRow(ctx, tx, lockAccount); err != nil {
		return false, &StoreError{Op: "RecordPaymentAndLedger", Err: err}
	}

	existing, err := s.findPaymentTx(ctx, tx, payment.TxID)
	if err != nil {
		return false, &StoreError{Op: "RecordPaymentAndLedger", Err: err}
	}

	if existing != nil {
		existingStatus := normalizeStatus(string(existing.Status))

		if existingStatus == payment.Status {
			return false, nil
		}
		if !validTransition(existingStatus, payment.Status) {
			return false, &InvalidStateTransitionError{TxID: payment.TxID, From: existingStatus, To: payment.Status}
		}

		if err := s.updatePaymentTx(ctx, tx, payment); err != nil {
			return false, &StoreError{Op: "RecordPaymentAndLedger", Err: err}
		}
	} else {
		if err := s.insertPaymentTx(ctx, tx, payment); err != nil {
			return false, &StoreError{Op: "RecordPaymentAndLedger", Err: err}
		}
	}

	if entry != nil && entry.Amount != 0 {
		if err := s.appendLedgerTx(ctx, tx, entry); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return false, &StoreError{Op: "RecordPaymentAndLedger", Err: err}
	}
	return true, nil
}

func (s *sqlStore) AppendLedger(ctx context.Context, entry LedgerEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &StoreError{Op: "AppendLedger", Err: err}
	}
	defer tx.Rollback()

	if err := s.appendLedgerTx(ctx, tx, &entry); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return &StoreError{Op: "AppendLedger", Err: err}
	}
	return nil
}

func (s *sqlStore) UpdatePaymentStatus(ctx context.Context, txID string, status PaymentStatus) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &StoreError{Op: "UpdatePaymentStatus", Err: err}
	}
	defer tx.Rollback()

	existing, err := s.findPaymentTx(ctx, tx, txID)
	if err != nil {
		return &StoreError{Op: "UpdatePaymentStatus", Err: err}
	}
	if existing == nil {
		return &StoreError{Op: "UpdatePaymentStatus", Err: &ValidationError{Field: "txID", Reason: "payment not found"}}
	}

	from := normalizeStatus(string(existing.Status))
	if from == status {
		return nil
	}
	if !validTransition(from, status) {
		return &InvalidStateTransitionError{TxID: txID, From: from, To: status}
	}

	query := s.q(`UPDATE payments SET status = {1} WHERE tx_id = {2}`, 2)
	if _, err := tx.ExecContext(ctx, query, string(status), txID); err != nil {
		return &StoreError{Op: "UpdatePaymentStatus", Err: err}
	}
	return tx.Commit()
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}

// --- transaction-scoped helpers ---

func (s *sqlStore) lockBalanceRow(ctx context.Context, tx *sql.Tx, accountID string) (Balance, error) {
	var insertBalance string
	if s.d.name == "postgres" {
		insertBalance = `INSERT INTO credit_balances (account_id, balance, total_purchased, total_consumed, updated_at)
			VALUES ($1, 0, 0, 0, $2) ON CONFLICT (account_id) DO NOTHING`
	} else {
		insertBalance = `INSERT OR IGNORE INTO credit_balances (account_id, balance, total_purchased, total_consumed, updated_at)
			VALUES (?, 0, 0, 0, ?)`
	}
	if _, err := tx.ExecContext(ctx, insertBalance, accountID, time.Now()); err != nil {
		return Balance{}, err
	}

	query := fmt.Sprintf(`SELECT balance, total_purchased, total_consumed, updated_at FROM credit_balances WHERE account_id = %s %s`,
		s.d.placeholder(1), s.d.forUpdate())

	var b Balance
	b.AccountID = accountID
	if err := tx.QueryRowContext(ctx, query, accountID).Scan(&b.Balance, &b.TotalPurchased, &b.TotalConsumed, &b.UpdatedAt); err != nil {
		return Balance{}, err
	}
	return b, nil
}

func (s *sqlStore) findPaymentTx(ctx context.Context, tx *sql.Tx, txID string) (*Payment, error) {
	query := s.q(`SELECT tx_id, payer, target, amount, credits_allocated, memo, status, created_at
		FROM payments WHERE tx_id = {1}`, 1)

	var p Payment
	var target, memo sql.NullString
	err := tx.QueryRowContext(ctx, query, txID).Scan(&p.TxID, &p.Payer, &target, &p.Amount, &p.CreditsAllocated, &memo, &p.Status, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.Target = target.String
	p.Memo = memo.String
	return &p, nil
}

func (s *sqlStore) insertPaymentTx(ctx context.Context, tx *sql.Tx, p Payment) error {
	query := s.q(`INSERT INTO payments (tx_id, payer, target, amount, credits_allocated, memo, status, created_at)
		VALUES ({1}, {2}, {3}, {4}, {5}, {6}, {7}, {8})`, 8)

	created := p.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := tx.ExecContext(ctx, query, p.TxID, p.Payer, p.Target, p.Amount, p.CreditsAllocated, p.Memo, string(p.Status), created)
	return err
}

func (s *sqlStore) updatePaymentTx(ctx context.Context, tx *sql.Tx, p Payment) error {
	query := s.q(`UPDATE payments SET status = {1}, credits_allocated = {2} WHERE tx_id = {3}`, 3)
	_, err := tx.ExecContext(ctx, query, string(p.Status), p.CreditsAllocated, p.TxID)
	return err
}

func (s *sqlStore) appendLedgerTx(ctx context.Context, tx *sql.Tx, entry *LedgerEntry) error {
	var current Balance
	selectQuery := fmt.Sprintf(`SELECT balance, total_purchased, total_consumed FROM credit_balances WHERE account_id = %s %s`,
		s.d.placeholder(1), s.d.forUpdate())
	err := tx.QueryRowContext(ctx, selectQuery, entry.AccountID).Scan(&current.Balance, &current.TotalPurchased, &current.TotalConsumed)
	if err == sql.ErrNoRows {
		current = Balance{}
	} else if err != nil {
		return &StoreError{Op: "appendLedgerTx", Err: err}
	}

	newBalance := current.Balance + entry.Amount
	if newBalance < 0 {
		return &StoreError{Op: "appendLedgerTx", Err: &ValidationError{Field: "amount", Reason: "would drive balance negative"}}
	}

	now := time.Now()
	entry.BalanceAfter = newBalance
	entry.CreatedAt = now

	insertQuery := s.q(`INSERT INTO credit_transactions (account_id, kind, amount, balance_after, description, operation, payment_tx_id, created_at)
		VALUES ({1}, {2}, {3}, {4}, {5}, {6}, {7}, {8})`, 8)

	if s.d.useLastInsertID() {
		res, err := tx.ExecContext(ctx, insertQuery, entry.AccountID, string(entry.Kind), entry.Amount, entry.BalanceAfter,
			entry.Description, nullableString(entry.Operation), nullableString(entry.PaymentTxID), now)
		if err != nil {
			return &StoreError{Op: "appendLedgerTx", Err: err}
		}
		if id, err := res.LastInsertId(); err == nil {
			entry.ID = id
		}
	} else {
		insertQuery += " RETURNING id"
		if err := tx.QueryRowContext(ctx, insertQuery, entry.AccountID, string(entry.Kind), entry.Amount, entry.BalanceAfter,
			entry.Description, nullableString(entry.Operation), nullableString(entry.PaymentTxID), now).Scan(&entry.ID); err != nil {
			return &StoreError{Op: "appendLedgerTx", Err: err}
		}
	}

	var upsertBalance string
	totalPurchased := current.TotalPurchased
	totalConsumed := current.TotalConsumed
	if entry.Amount > 0 {
		totalPurchased += entry.Amount
	} else if entry.Amount < 0 {
		totalConsumed += -entry.Amount
	}

	if s.d.name == "postgres" {
		upsertBalance = `INSERT INTO credit_balances (account_id, balance, total_purchased, total_consumed, updated_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (account_id) DO UPDATE SET balance = $2, total_purchased = $3, total_consumed = $4, updated_at = $5`
	} else {
		upsertBalance = `INSERT INTO credit_balances (account_id, balance, total_purchased, total_consumed, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (account_id) DO UPDATE SET balance = excluded.balance, total_purchased = excluded.total_purchased,
				total_consumed = excluded.total_consumed, updated_at = excluded.updated_at`
	}
	if _, err := tx.ExecContext(ctx, upsertBalance, entry.AccountID, newBalance, totalPurchased, totalConsumed, now); err != nil {
		return &StoreError{Op: "appendLedgerTx", Err: err}
	}

	return nil
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
