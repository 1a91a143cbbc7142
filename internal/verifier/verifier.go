// Package verifier defines the contract for the external document
// verification step. Implementations live outside this repo (the production
// one drives a browser against the government portal); the orchestrator only
// depends on this interface.
package verifier

import (
	"context"

	"veriq/internal/event/models"
)

// Result is the outcome of one verification attempt. A failed check is a
// value, never a panic; infrastructure-level problems use the error return.
type Result struct {
	Success bool
	Message string
	Files   []string
}

// Verifier checks one document against the external authority.
//
// Implementations must enforce their own upper time bound and return a
// failure rather than hang; the orchestrator processes events sequentially
// and has no per-call cancellation of its own.
type Verifier interface {
	Verify(ctx context.Context, in models.VerificationInput) (Result, error)
}

// Func adapts a plain function to the Verifier interface.
type Func func(ctx context.Context, in models.VerificationInput) (Result, error)

func (f Func) Verify(ctx context.Context, in models.VerificationInput) (Result, error) {
	return f(ctx, in)
}
