// Package fitness is the boundary between the search and the system under
// test: the Evaluator contract, failure classification and the wrappers that
// bound how an evaluation is executed.
package fitness

import (
	"context"
	"errors"
	"net"
	"syscall"

	"github.com/sony/gobreaker"

	"mioforge/internal/model"
)

type FailureKind string

const (
	FailureTimeout     FailureKind = "timeout"
	FailureConnection  FailureKind = "connection"
	FailureProtocol    FailureKind = "protocol"
	FailureCircuitOpen FailureKind = "circuit_open"
)

var (
	// ErrConnection and ErrProtocol let evaluators mark recoverable failures
	// that carry no network error of their own.
	ErrConnection = errors.New("system under test unreachable")
	ErrProtocol   = errors.New("malformed response from system under test")
)

// Evaluator executes an individual against the system under test. It must
// not keep ind after returning.
type Evaluator interface {
	Evaluate(ctx context.Context, ind *model.Individual) (*model.EvaluatedIndividual, error)
}

type EvaluatorFunc func(ctx context.Context, ind *model.Individual) (*model.EvaluatedIndividual, error)

func (f EvaluatorFunc) Evaluate(ctx context.Context, ind *model.Individual) (*model.EvaluatedIndividual, error) {
	return f(ctx, ind)
}

// Classify maps an execution error to a recoverable failure. Errors it does
// not recognise, cancellation included, are not recoverable.
func Classify(err error) (model.Failure, bool) {
	if err == nil {
		return model.Failure{}, false
	}
	kind, ok := classify(err)
	if !ok {
		return model.Failure{}, false
	}
	return model.Failure{Kind: string(kind), Message: err.Error()}, true
}

func classify(err error) (FailureKind, bool) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return FailureTimeout, true
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return FailureCircuitOpen, true
	case errors.Is(err, ErrProtocol):
		return FailureProtocol, true
	case errors.Is(err, ErrConnection), errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.ECONNRESET):
		return FailureConnection, true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return FailureTimeout, true
		}
		return FailureConnection, true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return FailureConnection, true
	}
	return "", false
}

// Execute runs ev and turns recoverable failures into a failed evaluation in
// which every target is non-improving. Only unrecoverable errors are
// returned.
func Execute(ctx context.Context, ev Evaluator, ind *model.Individual) (*model.EvaluatedIndividual, error) {
	out, err := ev.Evaluate(ctx, ind)
	if err == nil {
		return out, nil
	}
	failure, ok := Classify(err)
	if !ok {
		return nil, err
	}
	return model.FailedEvaluation(ind, failure)
}
