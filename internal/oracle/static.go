package oracle

import "context"

// StaticRateOracle reports a fixed rate regardless of network. It exists so
// cmd/server has something to wire RateOracle to out of the box — a real
// network-polling implementation is an external collaborator outside this
// repository's scope, the same way the teacher's development mode seeds a
// single test API key instead of wiring real auth.
type StaticRateOracle struct {
	Rate float64
}

func (s StaticRateOracle) HbarToUsd(ctx context.Context, network string) (float64, error) {
	return s.Rate, nil
}

// NoopConfirmationOracle reports every transaction as not-yet-found. Like
// StaticRateOracle, it is a development placeholder for the external
// confirmation service this repository does not implement.
type NoopConfirmationOracle struct{}

func (NoopConfirmationOracle) GetTransaction(ctx context.Context, externalID string) (*Transaction, error) {
	return nil, nil
}
