// Package payment implements the Payment Builder: validates a pending
// purchase request, builds an unsigned transfer payload, computes the
// expected credit grant via the Pricing Engine and an injected rate oracle,
// and records a PENDING payment through the Credit Manager.
package payment

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/kelpejol/creditcore/internal/ledger"
	"github.com/kelpejol/creditcore/internal/oracle"
	"github.com/kelpejol/creditcore/internal/pricing"
	"github.com/rs/zerolog"
)

const tinybarPerHbar = 100_000_000

// Config carries the Payment Builder's operational tunables: the payment
// amount bounds and the server account the transfer payload is addressed to.
type Config struct {
	MinPayment      float64
	MaxPayment      float64
	ServerAccountID string
	Network         string
}

// Recorder is the Credit Manager's processPayment capability, narrowed to
// keep this package a leaf.
type Recorder interface {
	ProcessPayment(ctx context.Context, payment ledger.Payment) (bool, error)
}

// Builder is the Payment Builder.
type Builder struct {
	cfg        Config
	rateOracle oracle.RateOracle
	pricing    *pricing.Config
	recorder   Recorder
	log        zerolog.Logger
}

func NewBuilder(cfg Config, rateOracle oracle.RateOracle, pricingCfg *pricing.Config, recorder Recorder, logger zerolog.Logger) *Builder {
	return &Builder{
		cfg:        cfg,
		rateOracle: rateOracle,
		pricing:    pricingCfg,
		recorder:   recorder,
		log:        logger.With().Str("component", "payment_builder").Logger(),
	}
}

// Request is a pending purchase request.
type Request struct {
	Payer  string
	Amount float64 // native token units (HBAR)
	Memo   string
}

// Result is the built payment: the unsigned transfer payload the caller
// signs and submits, plus the credit grant it should expect once confirmed.
type Result struct {
	TxID            string
	PayloadBase64   string
	Amount          float64
	ExpectedCredits int64
}

// transferPayload is the unsigned JSON transfer the caller's blockchain
// client (out of scope) is expected to sign and broadcast.
type transferPayload struct {
	From          string `json:"from"`
	To            string `json:"to"`
	AmountTinybar int64  `json:"amountTinybar"`
	Memo          string `json:"memo"`
	TxID          string `json:"txId"`
}

// Build validates, constructs the payload, prices the purchase, and records
// it as PENDING. No partial state is persisted on any failure path — the
// PENDING insert only happens after every earlier step has succeeded.
func (b *Builder) Build(ctx context.Context, req Request) (Result, error) {
	if req.Payer == "" {
		return Result{}, &ledger.ValidationError{Field: "payer", Reason: "required"}
	}
	if req.Amount < b.cfg.MinPayment || req.Amount > b.cfg.MaxPayment {
		return Result{}, &ledger.ValidationError{
			Field:  "amount",
			Reason: fmt.Sprintf("must be within [%g, %g]", b.cfg.MinPayment, b.cfg.MaxPayment),
		}
	}

	txID := uuid.New().String()

	memo := req.Memo
	if memo == "" {
		memo = fmt.Sprintf("credits:%s", req.Payer)
	}

	payload := transferPayload{
		From:          req.Payer,
		To:            b.cfg.ServerAccountID,
		AmountTinybar: int64(req.Amount * tinybarPerHbar),
		Memo:          memo,
		TxID:          txID,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Result{}, fmt.Errorf("marshal transfer payload: %w", err)
	}

	usdRate, err := b.rateOracle.HbarToUsd(ctx, b.cfg.Network)
	if err != nil {
		return Result{}, &ledger.OracleUnavailableError{Oracle: "rate", Err: err}
	}
	expectedCredits := b.pricing.CreditsForAmount(req.Amount * usdRate)

	pending := ledger.Payment{
		TxID:             txID,
		Payer:            req.Payer,
		Amount:           req.Amount,
		CreditsAllocated: expectedCredits,
		Memo:             memo,
		Status:           ledger.PaymentPending,
	}
	if _, err := b.recorder.ProcessPayment(ctx, pending); err != nil {
		return Result{}, fmt.Errorf("record pending payment: %w", err)
	}

	b.log.Info().Str("txId", txID).Str("payer", req.Payer).Int64("expectedCredits", expectedCredits).Msg("pending payment recorded")

	return Result{
		TxID:            txID,
		PayloadBase64:   base64.StdEncoding.EncodeToString(raw),
		Amount:          req.Amount,
		ExpectedCredits: expectedCredits,
	}, nil
}
