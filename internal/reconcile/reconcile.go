// Package reconcile implements the single long-lived background task that
// polls pending payments, ages out the stale ones, and confirms the rest
// against an external oracle. It never imports internal/credit — the one
// capability it needs back is expressed as the PaymentProcessor interface
// below, satisfied by *credit.Manager at construction.
package reconcile

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/kelpejol/creditcore/internal/ledger"
	"github.com/kelpejol/creditcore/internal/metrics"
	"github.com/kelpejol/creditcore/internal/oracle"
	"github.com/kelpejol/creditcore/internal/pricing"
	"github.com/rs/zerolog"
)

const (
	tinybarPerHbar = 100_000_000
	minOffsetRatio = 0.99
	memoPrefix     = "credits:"

	defaultInterval      = 30 * time.Second
	defaultMaxPendingAge = 300 * time.Second
)

// Config carries the reconciler's operational tunables.
type Config struct {
	Interval        time.Duration
	MaxPendingAge   time.Duration
	ServerAccountID string
	Network         string
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = defaultInterval
	}
	if c.MaxPendingAge <= 0 {
		c.MaxPendingAge = defaultMaxPendingAge
	}
	return c
}

// PaymentProcessor is the Credit Manager's processPayment capability, kept
// narrow so this package stays a leaf in the import graph.
type PaymentProcessor interface {
	ProcessPayment(ctx context.Context, payment ledger.Payment) (bool, error)
}

// Reconciler owns one goroutine. Start is idempotent; Stop cancels it and
// waits for the loop to exit before returning.
type Reconciler struct {
	cfg           Config
	store         ledger.Store
	pricing       *pricing.Config
	confirmOracle oracle.ConfirmationOracle
	rateOracle    oracle.RateOracle
	processor     PaymentProcessor
	log           zerolog.Logger

	startOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

func New(cfg Config, store ledger.Store, pricingCfg *pricing.Config, confirmOracle oracle.ConfirmationOracle, rateOracle oracle.RateOracle, processor PaymentProcessor, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		cfg:           cfg.withDefaults(),
		store:         store,
		pricing:       pricingCfg,
		confirmOracle: confirmOracle,
		rateOracle:    rateOracle,
		processor:     processor,
		log:           logger.With().Str("component", "reconciler").Logger(),
		done:          make(chan struct{}),
	}
}

// Start launches the reconciliation loop. A second call is a no-op — the
// task must never run twice, since two goroutines would both race to age
// out and confirm the same pending payments.
func (r *Reconciler) Start(ctx context.Context) {
	r.startOnce.Do(func() {
		runCtx, cancel := context.WithCancel(ctx)
		r.cancel = cancel
		go r.loop(runCtx)
	})
}

// Stop cancels the loop and blocks until it has exited.
func (r *Reconciler) Stop() {
	if r.cancel != nil {
		r.cancel()
		<-r.done
	}
}

// loop self-reschedules with a Timer instead of a free-running Ticker so a
// tick that runs past its interval delays the next one rather than letting
// ticks queue up: a tick still in progress when the timer would have fired
// is simply skipped that round.
func (r *Reconciler) loop(ctx context.Context) {
	defer close(r.done)

	timer := time.NewTimer(r.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			r.tick(ctx)
			timer.Reset(r.cfg.Interval)
		}
	}
}

func (r *Reconciler) tick(ctx context.Context) {
	start := time.Now()
	defer func() { metrics.ReconcileTickDuration.Observe(time.Since(start).Seconds()) }()

	pending, err := r.store.ListPendingPayments(ctx)
	if err != nil {
		r.log.Error().Err(err).Msg("list pending payments failed, retrying next tick")
		return
	}

	now := time.Now()
	for _, p := range pending {
		r.reconcileOne(ctx, p, now)
	}
}

// reconcileOne must tolerate any per-payment failure without aborting the
// rest of the batch.
func (r *Reconciler) reconcileOne(ctx context.Context, p ledger.Payment, now time.Time) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error().Interface("panic", rec).Str("txId", p.TxID).Msg("recovered while reconciling payment")
		}
	}()

	if now.Sub(p.CreatedAt) > r.cfg.MaxPendingAge {
		if err := r.store.UpdatePaymentStatus(ctx, p.TxID, ledger.PaymentFailed); err != nil {
			r.log.Error().Err(err).Str("txId", p.TxID).Msg("failed to age out pending payment")
		}
		metrics.ReconcilePaymentsOutcome.WithLabelValues("aged_out").Inc()
		return
	}

	tx, err := r.confirmOracle.GetTransaction(ctx, toOracleID(p.TxID))
	if err != nil {
		r.log.Warn().Err(err).Str("txId", p.TxID).Msg("confirmation oracle unavailable, retrying next tick")
		metrics.ReconcilePaymentsOutcome.WithLabelValues("oracle_unavailable").Inc()
		return
	}
	if tx == nil {
		metrics.ReconcilePaymentsOutcome.WithLabelValues("not_found_yet").Inc()
		return
	}

	if !strings.EqualFold(tx.Result, "success") {
		if err := r.store.UpdatePaymentStatus(ctx, p.TxID, ledger.PaymentFailed); err != nil {
			r.log.Error().Err(err).Str("txId", p.TxID).Msg("failed to fail payment after oracle rejection")
		}
		metrics.ReconcilePaymentsOutcome.WithLabelValues("rejected").Inc()
		return
	}

	serverTransfer, _, ok := findTransferPair(tx.Transfers, r.cfg.ServerAccountID)
	if !ok {
		r.log.Warn().Str("txId", p.TxID).Msg("ambiguous or missing transfer set, skipping")
		metrics.ReconcilePaymentsOutcome.WithLabelValues("ambiguous_transfers").Inc()
		return
	}

	payer := p.Payer
	if acct, ok := parseMemoAccount(p.Memo); ok {
		payer = acct
	}

	nativeAmount := float64(serverTransfer.Amount) / tinybarPerHbar

	usdRate, err := r.rateOracle.HbarToUsd(ctx, r.cfg.Network)
	if err != nil {
		r.log.Warn().Err(err).Str("txId", p.TxID).Msg("rate oracle unavailable, retrying next tick")
		metrics.ReconcilePaymentsOutcome.WithLabelValues("oracle_unavailable").Inc()
		return
	}
	credits := r.pricing.CreditsForAmount(nativeAmount * usdRate)

	completed := ledger.Payment{
		TxID:             p.TxID,
		Payer:            payer,
		Target:           p.Target,
		Amount:           nativeAmount,
		CreditsAllocated: credits,
		Memo:             p.Memo,
		Status:           ledger.PaymentCompleted,
		CreatedAt:        p.CreatedAt,
	}

	if _, err := r.processor.ProcessPayment(ctx, completed); err != nil {
		r.log.Error().Err(err).Str("txId", p.TxID).Msg("processPayment failed during reconciliation")
		metrics.ReconcilePaymentsOutcome.WithLabelValues("process_error").Inc()
		return
	}
	metrics.ReconcilePaymentsOutcome.WithLabelValues("confirmed").Inc()
}

// findTransferPair locates the server-bound leg and its offsetting payer
// leg. Ambiguity (more than one qualifying payer leg) and absence are both
// reported as !ok — callers treat them identically and simply skip the
// payment for the next tick.
func findTransferPair(transfers []oracle.Transfer, serverAccountID string) (oracle.Transfer, oracle.Transfer, bool) {
	var serverCandidates []oracle.Transfer
	var payerCandidates []oracle.Transfer
	for _, t := range transfers {
		switch {
		case t.Account == serverAccountID && t.Amount > 0:
			serverCandidates = append(serverCandidates, t)
		case t.Amount < 0:
			payerCandidates = append(payerCandidates, t)
		}
	}
	if len(serverCandidates) != 1 {
		return oracle.Transfer{}, oracle.Transfer{}, false
	}
	server := serverCandidates[0]

	var matched oracle.Transfer
	matches := 0
	for _, cand := range payerCandidates {
		magnitude := -cand.Amount
		if float64(magnitude) >= minOffsetRatio*float64(server.Amount) {
			matched = cand
			matches++
		}
	}
	if matches != 1 {
		return oracle.Transfer{}, oracle.Transfer{}, false
	}
	return server, matched, true
}

func parseMemoAccount(memo string) (string, bool) {
	if !strings.HasPrefix(memo, memoPrefix) {
		return "", false
	}
	acct := strings.TrimSpace(strings.TrimPrefix(memo, memoPrefix))
	if acct == "" {
		return "", false
	}
	return acct, true
}

// toOracleID converts the internal acct@sec.nanos identifier form to the
// oracle's dashed acct-sec-nanos form.
func toOracleID(internal string) string {
	return strings.NewReplacer("@", "-", ".", "-").Replace(internal)
}
