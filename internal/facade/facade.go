// Package facade implements the Operation Facade: the one component a
// transport layer talks to in order to run a priced operation. It is a
// plain Go interface, not wired to HTTP/gRPC/stdio — wire framing is left
// to whatever sits in front of it — and does nothing but gate, meter, and
// delegate to a collaborator.
package facade

import (
	"context"
	"fmt"

	"github.com/kelpejol/creditcore/internal/credit"
	"github.com/kelpejol/creditcore/internal/pricing"
	"github.com/rs/zerolog"
)

// Status is the result status vocabulary for inbound priced-operation
// responses.
type Status string

const (
	StatusOK                  Status = "ok"
	StatusUnauthorized        Status = "unauthorized"
	StatusForbidden           Status = "forbidden"
	StatusInsufficientCredits Status = "insufficient_credits"
	StatusFailed              Status = "failed"
)

// freeOperations skip the sufficiency/consume gate but still get a
// zero-amount audit entry when invoked through the facade at all.
var freeOperations = map[string]bool{
	"health_check":    true,
	"get_server_info": true,
}

// Collaborator performs the actual work of a priced operation once credits
// have been consumed. On success the facade forwards its result verbatim; on
// error it returns a failed result carrying the error message. Either way the
// consumption already happened and is not rolled back.
type Collaborator func(ctx context.Context, operation string, args map[string]any) (map[string]any, error)

// CreditManager is the subset of *credit.Manager the facade calls.
type CreditManager interface {
	Sufficiency(ctx context.Context, accountID, op string, opts pricing.CostOptions) (credit.SufficiencyResult, error)
	Consume(ctx context.Context, accountID, op, description string, opts pricing.CostOptions) (bool, error)
}

// Request is one inbound priced-operation invocation.
type Request struct {
	CallerAccount string // already-authenticated caller identity
	AccountID     string // optional override; empty means bill CallerAccount
	Operation     string
	Description   string
	Args          map[string]any
	Options       pricing.CostOptions
}

// Result is the structured response every invocation gets back, at minimum
// {operation, status}.
type Result struct {
	Operation string         `json:"operation"`
	Status    Status         `json:"status"`
	Data      map[string]any `json:"data,omitempty"`
	Error     string         `json:"error,omitempty"`
	Required  int64          `json:"required,omitempty"`
	Current   int64          `json:"current,omitempty"`
	Shortfall int64          `json:"shortfall,omitempty"`
}

// Facade is the Operation Facade.
type Facade struct {
	manager      CreditManager
	collaborator Collaborator
	log          zerolog.Logger
}

func New(manager CreditManager, collaborator Collaborator, logger zerolog.Logger) *Facade {
	return &Facade{
		manager:      manager,
		collaborator: collaborator,
		log:          logger.With().Str("component", "facade").Logger(),
	}
}

// Invoke runs the same flow for every operation: resolve the billed
// account, gate on sufficiency unless the operation is free, consume,
// invoke the collaborator, and return its result verbatim (or a failed
// result if the collaborator errors).
func (f *Facade) Invoke(ctx context.Context, req Request) (Result, error) {
	billTo := req.AccountID
	if billTo == "" {
		billTo = req.CallerAccount
	}

	if freeOperations[req.Operation] {
		if _, err := f.manager.Consume(ctx, billTo, req.Operation, req.Description, req.Options); err != nil {
			return Result{}, fmt.Errorf("facade: free-op audit entry: %w", err)
		}
	} else {
		suff, err := f.manager.Sufficiency(ctx, billTo, req.Operation, req.Options)
		if err != nil {
			return Result{}, fmt.Errorf("facade: sufficiency: %w", err)
		}
		if !suff.Sufficient {
			return Result{
				Operation: req.Operation,
				Status:    StatusInsufficientCredits,
				Required:  suff.Required,
				Current:   suff.Current,
				Shortfall: suff.Shortfall,
			}, nil
		}

		ok, err := f.manager.Consume(ctx, billTo, req.Operation, req.Description, req.Options)
		if err != nil {
			return Result{}, fmt.Errorf("facade: consume: %w", err)
		}
		if !ok {
			return Result{Operation: req.Operation, Status: StatusFailed}, nil
		}
	}

	data, err := f.collaborator(ctx, req.Operation, req.Args)
	if err != nil {
		// The consumption remains regardless of the collaborator's outcome
		// — the work was planned and resources were already held.
		f.log.Warn().Err(err).Str("operation", req.Operation).Str("account", billTo).Msg("collaborator invocation failed, consumption not reversed")
		return Result{Operation: req.Operation, Status: StatusFailed, Error: err.Error()}, nil
	}

	return Result{Operation: req.Operation, Status: StatusOK, Data: data}, nil
}
