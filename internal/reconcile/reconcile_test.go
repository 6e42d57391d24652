package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/kelpejol/creditcore/internal/ledger"
	"github.com/kelpejol/creditcore/internal/oracle"
	"github.com/kelpejol/creditcore/internal/pricing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMemoAccount(t *testing.T) {
	acct, ok := parseMemoAccount("credits:0.0.5001")
	assert.True(t, ok)
	assert.Equal(t, "0.0.5001", acct)

	_, ok = parseMemoAccount("not a memo")
	assert.False(t, ok)

	_, ok = parseMemoAccount("credits:   ")
	assert.False(t, ok)
}

func TestToOracleID(t *testing.T) {
	assert.Equal(t, "0-0-5001-169-000000001", toOracleID("0.0.5001@169.000000001"))
}

func TestFindTransferPairRequiresExactlyOneServerLegAndOneMatchingPayerLeg(t *testing.T) {
	transfers := []oracle.Transfer{
		{Account: "0.0.1001", Amount: 1000},
		{Account: "0.0.5001", Amount: -1000},
	}
	server, payer, ok := findTransferPair(transfers, "0.0.1001")
	assert.True(t, ok)
	assert.Equal(t, int64(1000), server.Amount)
	assert.Equal(t, int64(-1000), payer.Amount)

	_, _, ok = findTransferPair(transfers, "0.0.9999")
	assert.False(t, ok, "no matching server leg must be ambiguous/missing")
}

func TestFindTransferPairAmbiguousWhenMultiplePayerLegsOffset(t *testing.T) {
	transfers := []oracle.Transfer{
		{Account: "0.0.1001", Amount: 1000},
		{Account: "0.0.5001", Amount: -1000},
		{Account: "0.0.5002", Amount: -1000},
	}
	_, _, ok := findTransferPair(transfers, "0.0.1001")
	assert.False(t, ok, "two equally-qualifying payer legs must be treated as ambiguous")
}

type stubConfirmOracle struct {
	tx  *oracle.Transaction
	err error
}

func (s stubConfirmOracle) GetTransaction(ctx context.Context, externalID string) (*oracle.Transaction, error) {
	return s.tx, s.err
}

type stubRateOracle struct{ rate float64 }

func (s stubRateOracle) HbarToUsd(ctx context.Context, network string) (float64, error) {
	return s.rate, nil
}

type recordingProcessor struct {
	processed []ledger.Payment
}

func (r *recordingProcessor) ProcessPayment(ctx context.Context, payment ledger.Payment) (bool, error) {
	r.processed = append(r.processed, payment)
	return true, nil
}

func testPricing() *pricing.Config {
	return &pricing.Config{
		ConversionRate: 1000,
		PurchaseTiers:  []pricing.Tier{{MinCredits: 0, CreditsPerUSD: 1000}},
		SubUnitTick:    1e-8,
	}
}

func TestReconcileOneAgesOutStalePendingPayment(t *testing.T) {
	store := ledger.NewMemStore()
	ctx := context.Background()
	_, err := store.RecordPaymentAndLedger(ctx, ledger.Payment{TxID: "tx-old", Payer: "acct-1", Amount: 1, Status: ledger.PaymentPending}, nil)
	require.NoError(t, err)

	processor := &recordingProcessor{}
	r := New(Config{ServerAccountID: "0.0.1001", MaxPendingAge: time.Minute, Network: "testnet"}, store, testPricing(), stubConfirmOracle{}, stubRateOracle{rate: 1}, processor, zerolog.Nop())

	old := ledger.Payment{TxID: "tx-old", Payer: "acct-1", Amount: 1, CreatedAt: time.Now().Add(-2 * time.Minute)}
	r.reconcileOne(ctx, old, time.Now())

	p, err := store.FindPayment(ctx, "tx-old")
	require.NoError(t, err)
	assert.Equal(t, ledger.PaymentFailed, p.Status)
	assert.Empty(t, processor.processed)
}

func TestReconcileOneConfirmsAndProcessesPayment(t *testing.T) {
	store := ledger.NewMemStore()
	ctx := context.Background()
	_, err := store.RecordPaymentAndLedger(ctx, ledger.Payment{TxID: "tx-new", Payer: "acct-2", Amount: 0, Memo: "credits:acct-2", Status: ledger.PaymentPending}, nil)
	require.NoError(t, err)

	confirm := stubConfirmOracle{tx: &oracle.Transaction{
		Result: "success",
		Transfers: []oracle.Transfer{
			{Account: "0.0.1001", Amount: 200_000_000},
			{Account: "acct-2", Amount: -200_000_000},
		},
	}}
	processor := &recordingProcessor{}
	r := New(Config{ServerAccountID: "0.0.1001", MaxPendingAge: time.Hour, Network: "testnet"}, store, testPricing(), confirm, stubRateOracle{rate: 1}, processor, zerolog.Nop())

	pending := ledger.Payment{TxID: "tx-new", Payer: "acct-2", Memo: "credits:acct-2", CreatedAt: time.Now()}
	r.reconcileOne(ctx, pending, time.Now())

	require.Len(t, processor.processed, 1)
	assert.Equal(t, ledger.PaymentCompleted, processor.processed[0].Status)
	assert.Equal(t, int64(2000), processor.processed[0].CreditsAllocated) // 2.0 HBAR * rate 1 * 1000 credits/USD
}

func TestReconcileOneSkipsAmbiguousTransferSetWithoutFailing(t *testing.T) {
	store := ledger.NewMemStore()
	ctx := context.Background()
	_, err := store.RecordPaymentAndLedger(ctx, ledger.Payment{TxID: "tx-ambiguous", Payer: "acct-3", Amount: 0, Status: ledger.PaymentPending}, nil)
	require.NoError(t, err)

	confirm := stubConfirmOracle{tx: &oracle.Transaction{
		Result: "success",
		Transfers: []oracle.Transfer{
			{Account: "0.0.1001", Amount: 100},
			{Account: "acct-3", Amount: -50},
			{Account: "acct-4", Amount: -50},
		},
	}}
	processor := &recordingProcessor{}
	r := New(Config{ServerAccountID: "0.0.1001", MaxPendingAge: time.Hour}, store, testPricing(), confirm, stubRateOracle{rate: 1}, processor, zerolog.Nop())

	r.reconcileOne(ctx, ledger.Payment{TxID: "tx-ambiguous", Payer: "acct-3", CreatedAt: time.Now()}, time.Now())

	p, err := store.FindPayment(ctx, "tx-ambiguous")
	require.NoError(t, err)
	assert.Equal(t, ledger.PaymentPending, p.Status, "ambiguous transfer set must be left pending for the next tick, not failed")
	assert.Empty(t, processor.processed)
}

func TestReconcileOneRecoversFromPanicInOneProcessor(t *testing.T) {
	store := ledger.NewMemStore()
	ctx := context.Background()
	_, err := store.RecordPaymentAndLedger(ctx, ledger.Payment{TxID: "tx-panic", Payer: "acct-5", Amount: 0, Status: ledger.PaymentPending}, nil)
	require.NoError(t, err)

	confirm := stubConfirmOracle{tx: &oracle.Transaction{
		Result: "success",
		Transfers: []oracle.Transfer{
			{Account: "0.0.1001", Amount: 100},
			{Account: "acct-5", Amount: -100},
		},
	}}
	r := New(Config{ServerAccountID: "0.0.1001", MaxPendingAge: time.Hour}, store, testPricing(), confirm, stubRateOracle{rate: 1}, panicProcessor{}, zerolog.Nop())

	assert.NotPanics(t, func() {
		r.reconcileOne(ctx, ledger.Payment{TxID: "tx-panic", Payer: "acct-5", CreatedAt: time.Now()}, time.Now())
	})
}

type panicProcessor struct{}

func (panicProcessor) ProcessPayment(ctx context.Context, payment ledger.Payment) (bool, error) {
	panic("simulated processor failure")
}
