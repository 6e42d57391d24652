package payment

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/kelpejol/creditcore/internal/ledger"
	"github.com/kelpejol/creditcore/internal/pricing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedRateOracle struct{ rate float64 }

func (f fixedRateOracle) HbarToUsd(ctx context.Context, network string) (float64, error) {
	return f.rate, nil
}

type recordingRecorder struct {
	payments []ledger.Payment
}

func (r *recordingRecorder) ProcessPayment(ctx context.Context, payment ledger.Payment) (bool, error) {
	r.payments = append(r.payments, payment)
	return true, nil
}

func testPricing() *pricing.Config {
	c := &pricing.Config{
		ConversionRate: 1000,
		PurchaseTiers:  []pricing.Tier{{MinCredits: 0, CreditsPerUSD: 1000}},
		SubUnitTick:    1e-8,
	}
	return c
}

func TestBuilderRejectsMissingPayer(t *testing.T) {
	rec := &recordingRecorder{}
	b := NewBuilder(Config{MinPayment: 0.001, MaxPayment: 100, ServerAccountID: "0.0.1001", Network: "testnet"}, fixedRateOracle{rate: 1}, testPricing(), rec, zerolog.Nop())

	_, err := b.Build(context.Background(), Request{Amount: 1})
	var verr *ledger.ValidationError
	assert.ErrorAs(t, err, &verr)
	assert.Empty(t, rec.payments)
}

func TestBuilderRejectsAmountOutsideBounds(t *testing.T) {
	rec := &recordingRecorder{}
	b := NewBuilder(Config{MinPayment: 1, MaxPayment: 10, ServerAccountID: "0.0.1001", Network: "testnet"}, fixedRateOracle{rate: 1}, testPricing(), rec, zerolog.Nop())

	_, err := b.Build(context.Background(), Request{Payer: "0.0.5001", Amount: 0.5})
	assert.Error(t, err)

	_, err = b.Build(context.Background(), Request{Payer: "0.0.5001", Amount: 11})
	assert.Error(t, err)
}

func TestBuilderBuildsPayloadAndRecordsPendingPayment(t *testing.T) {
	rec := &recordingRecorder{}
	b := NewBuilder(Config{MinPayment: 0.001, MaxPayment: 100, ServerAccountID: "0.0.1001", Network: "testnet"}, fixedRateOracle{rate: 1}, testPricing(), rec, zerolog.Nop())

	res, err := b.Build(context.Background(), Request{Payer: "0.0.5001", Amount: 2.0})
	require.NoError(t, err)

	assert.Equal(t, int64(2000), res.ExpectedCredits)
	assert.NotEmpty(t, res.TxID)

	raw, err := base64.StdEncoding.DecodeString(res.PayloadBase64)
	require.NoError(t, err)
	var payload transferPayload
	require.NoError(t, json.Unmarshal(raw, &payload))
	assert.Equal(t, "0.0.5001", payload.From)
	assert.Equal(t, "0.0.1001", payload.To)
	assert.Equal(t, int64(2.0*tinybarPerHbar), payload.AmountTinybar)

	require.Len(t, rec.payments, 1)
	assert.Equal(t, ledger.PaymentPending, rec.payments[0].Status)
	assert.Equal(t, int64(2000), rec.payments[0].CreditsAllocated)
}

func TestBuilderDefaultsMemoToCreditsPrefixedPayer(t *testing.T) {
	rec := &recordingRecorder{}
	b := NewBuilder(Config{MinPayment: 0.001, MaxPayment: 100, ServerAccountID: "0.0.1001", Network: "testnet"}, fixedRateOracle{rate: 1}, testPricing(), rec, zerolog.Nop())

	_, err := b.Build(context.Background(), Request{Payer: "0.0.5001", Amount: 1})
	require.NoError(t, err)
	assert.Equal(t, "credits:0.0.5001", rec.payments[0].Memo)
}
