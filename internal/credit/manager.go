// Package credit implements the Credit Manager, the stateless orchestration
// layer for sufficiency checks, consumption, payment processing, and the
// reconciler's lifecycle. It never mutates the store directly — every write
// goes through ledger.Store, which owns the serialization contract.
package credit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/kelpejol/creditcore/internal/ledger"
	"github.com/kelpejol/creditcore/internal/metrics"
	"github.com/kelpejol/creditcore/internal/oracle"
	"github.com/kelpejol/creditcore/internal/pricing"
	"github.com/kelpejol/creditcore/internal/reconcile"
	"github.com/rs/zerolog"
)

// SufficiencyResult is the outcome of a sufficiency check.
type SufficiencyResult struct {
	Sufficient bool
	Current    int64
	Required   int64
	Shortfall  int64
}

// Manager is the Credit Manager. Construct one per process and share it by
// reference; it holds no per-call state of its own beyond the reconciler
// handle.
type Manager struct {
	store      ledger.Store
	pricing    *pricing.Config
	rateOracle oracle.RateOracle
	network    string
	log        zerolog.Logger

	mu         sync.Mutex
	reconciler *reconcile.Reconciler
}

// NewManager constructs a Credit Manager. rateOracle converts a native-token
// payment amount to USD before handing it to the pricing engine whenever a
// payment arrives without CreditsAllocated, and StartReconciler hands the
// same instance to the Reconciler — injected once here rather than read from
// global state so the conversion rate a given call used is always traceable
// to a specific collaborator instance.
func NewManager(store ledger.Store, pricingCfg *pricing.Config, rateOracle oracle.RateOracle, network string, logger zerolog.Logger) *Manager {
	return &Manager{
		store:      store,
		pricing:    pricingCfg,
		rateOracle: rateOracle,
		network:    network,
		log:        logger.With().Str("component", "credit_manager").Logger(),
	}
}

// Initialize seeds the operation-cost catalog into both the in-process
// pricing config and the store's read-only catalog table.
func (m *Manager) Initialize(ctx context.Context, costs []pricing.OperationCost) error {
	m.pricing.SeedOperationCosts(costs)

	rows := make([]ledger.OperationCostRow, 0, len(costs))
	for _, c := range costs {
		rows = append(rows, ledger.OperationCostRow{Name: c.Name, BaseCost: c.BaseCost, Category: c.Category})
	}
	if err := m.store.SeedOperationCosts(ctx, rows); err != nil {
		return fmt.Errorf("initialize: seed operation costs: %w", err)
	}
	return nil
}

// Sufficiency is a pure read: current balance plus what the operation would
// cost given opts and the account's lifetime consumption (for loyalty).
func (m *Manager) Sufficiency(ctx context.Context, accountID, op string, opts pricing.CostOptions) (SufficiencyResult, error) {
	bal, err := m.store.GetBalance(ctx, accountID)
	if err != nil {
		return SufficiencyResult{}, fmt.Errorf("sufficiency: %w", err)
	}

	opts.UserTotalConsumed = bal.TotalConsumed
	required := m.pricing.OperationCost(op, opts)

	res := SufficiencyResult{Current: bal.Balance, Required: required}
	if bal.Balance >= required {
		res.Sufficient = true
	} else {
		res.Shortfall = required - bal.Balance
	}
	return res, nil
}

// Consume debits accountID for op. A zero-cost operation still appends a
// zero-amount "free" ledger entry so free invocations remain visible in the
// account's audit trail alongside billed ones.
func (m *Manager) Consume(ctx context.Context, accountID, op, description string, opts pricing.CostOptions) (bool, error) {
	suff, err := m.Sufficiency(ctx, accountID, op, opts)
	if err != nil {
		metrics.ConsumeTotal.WithLabelValues(op, "error").Inc()
		return false, err
	}
	if !suff.Sufficient {
		m.log.Warn().
			Str("account", accountID).
			Str("op", op).
			Int64("required", suff.Required).
			Int64("current", suff.Current).
			Msg("insufficient credits")
		metrics.ConsumeTotal.WithLabelValues(op, "insufficient").Inc()
		return false, nil
	}

	if suff.Required == 0 {
		entry := ledger.LedgerEntry{
			AccountID:   accountID,
			Kind:        ledger.KindConsumption,
			Amount:      0,
			Description: freeDescription(description, op),
			Operation:   op,
		}
		if err := m.store.AppendLedger(ctx, entry); err != nil {
			metrics.ConsumeTotal.WithLabelValues(op, "error").Inc()
			return false, fmt.Errorf("consume free op %s: %w", op, err)
		}
		metrics.ConsumeTotal.WithLabelValues(op, "free").Inc()
		return true, nil
	}

	entry := ledger.LedgerEntry{
		AccountID:   accountID,
		Kind:        ledger.KindConsumption,
		Amount:      -suff.Required,
		Description: description,
		Operation:   op,
	}
	if err := m.store.AppendLedger(ctx, entry); err != nil {
		var verr *ledger.ValidationError
		if errors.As(err, &verr) {
			// Lost the race against a concurrent consume on this account;
			// the store's serialization re-read the balance and it no
			// longer covers required.
			metrics.ConsumeTotal.WithLabelValues(op, "insufficient").Inc()
			return false, nil
		}
		metrics.ConsumeTotal.WithLabelValues(op, "error").Inc()
		return false, fmt.Errorf("consume: %w", err)
	}
	metrics.ConsumeTotal.WithLabelValues(op, "charged").Inc()
	return true, nil
}

func freeDescription(description, op string) string {
	if description != "" {
		return description
	}
	return fmt.Sprintf("free invocation: %s", op)
}

// ProcessPayment is the tiered-scheme path:
// payment.CreditsAllocated is honored verbatim when the caller already
// supplied a nonzero value (the Payment Builder and Reconciler both
// pre-compute it via the rate oracle); otherwise payment.Amount is treated
// as a native-token amount and converted through the rate oracle here.
func (m *Manager) ProcessPayment(ctx context.Context, payment ledger.Payment) (bool, error) {
	return m.processPayment(ctx, payment)
}

// AdminProcessPayment is the legacy flat-conversion path: the caller
// computes creditsAllocated (typically amount × creditsConversionRate) and
// it is used exactly as given — this is the only call site allowed to
// bypass the tiered pricing engine.
func (m *Manager) AdminProcessPayment(ctx context.Context, payment ledger.Payment, creditsAllocated int64) (bool, error) {
	payment.CreditsAllocated = creditsAllocated
	return m.processPayment(ctx, payment)
}

func (m *Manager) processPayment(ctx context.Context, payment ledger.Payment) (bool, error) {
	if payment.Amount <= 0 {
		return false, &ledger.ValidationError{Field: "amount", Reason: "must be positive"}
	}
	if payment.TxID == "" {
		return false, &ledger.ValidationError{Field: "txId", Reason: "required"}
	}

	if err := m.store.EnsureAccount(ctx, payment.Payer); err != nil {
		return false, fmt.Errorf("processPayment: %w", err)
	}

	billTo := payment.Payer
	if payment.Target != "" {
		billTo = payment.Target
	}
	if err := m.store.EnsureAccount(ctx, billTo); err != nil {
		return false, fmt.Errorf("processPayment: %w", err)
	}

	credits := payment.CreditsAllocated
	if credits == 0 {
		rate, err := m.rateOracle.HbarToUsd(ctx, m.network)
		if err != nil {
			return false, &ledger.OracleUnavailableError{Oracle: "rate", Err: err}
		}
		credits = m.pricing.CreditsForAmount(payment.Amount * rate)
	}
	payment.CreditsAllocated = credits
	payment.Status = ledger.PaymentStatus(strings.ToUpper(string(payment.Status)))
	if payment.Status == "" {
		payment.Status = ledger.PaymentPending
	}

	var entry *ledger.LedgerEntry
	if payment.Status == ledger.PaymentCompleted {
		entry = &ledger.LedgerEntry{
			AccountID:   billTo,
			Kind:        ledger.KindPurchase,
			Amount:      credits,
			Description: fmt.Sprintf("payment %s confirmed", payment.TxID),
			PaymentTxID: payment.TxID,
		}
	}

	applied, err := m.store.RecordPaymentAndLedger(ctx, payment, entry)
	if err != nil {
		var stateErr *ledger.InvalidStateTransitionError
		if errors.As(err, &stateErr) {
			m.log.Warn().Str("txId", payment.TxID).Err(err).Msg("payment collision, not terminal-compatible")
			metrics.PaymentsProcessedTotal.WithLabelValues("collision").Inc()
			return false, nil
		}
		metrics.PaymentsProcessedTotal.WithLabelValues("error").Inc()
		return false, fmt.Errorf("processPayment: %w", err)
	}

	if !applied {
		m.log.Debug().Str("txId", payment.TxID).Msg("duplicate payment write, already applied")
		metrics.PaymentsProcessedTotal.WithLabelValues("duplicate").Inc()
		return true, nil
	}
	metrics.PaymentsProcessedTotal.WithLabelValues("applied").Inc()
	return true, nil
}

// StartReconciler spawns the background reconciliation task that polls
// pending payments and confirms or ages them out. Starting it twice is a
// programming error: the reconciler handle is guarded so a second call
// returns an error instead of racing a second goroutine against the first.
func (m *Manager) StartReconciler(ctx context.Context, cfg reconcile.Config, confirmOracle oracle.ConfirmationOracle) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.reconciler != nil {
		return fmt.Errorf("reconciler already started")
	}

	r := reconcile.New(cfg, m.store, m.pricing, confirmOracle, m.rateOracle, m, m.log)
	r.Start(ctx)
	m.reconciler = r
	return nil
}

// Close stops the reconciler, if running, and releases the store's
// connection handle.
func (m *Manager) Close() error {
	m.mu.Lock()
	r := m.reconciler
	m.reconciler = nil
	m.mu.Unlock()

	if r != nil {
		r.Stop()
	}
	return m.store.Close()
}
