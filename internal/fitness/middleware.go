package fitness

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"mioforge/internal/model"
)

// Middleware decorates an Evaluator.
type Middleware func(Evaluator) Evaluator

// Chain wraps ev so the first middleware is the outermost.
func Chain(ev Evaluator, middlewares ...Middleware) Evaluator {
	for i := len(middlewares) - 1; i >= 0; i-- {
		ev = middlewares[i](ev)
	}
	return ev
}

// WithTimeout bounds every evaluation by d. A non-positive d disables it.
func WithTimeout(d time.Duration) Middleware {
	return func(next Evaluator) Evaluator {
		if d <= 0 {
			return next
		}
		return EvaluatorFunc(func(ctx context.Context, ind *model.Individual) (*model.EvaluatedIndividual, error) {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next.Evaluate(ctx, ind)
		})
	}
}

type BreakerConfig struct {
	Name string
	// MaxRequests is the number of probes allowed while half open.
	MaxRequests uint32
	Interval    time.Duration
	// Timeout is how long the breaker stays open.
	Timeout time.Duration
	// ConsecutiveFailures trips the breaker.
	ConsecutiveFailures uint32
	OnStateChange       func(name string, from, to gobreaker.State)
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:                "sut",
		MaxRequests:         1,
		Interval:            30 * time.Second,
		Timeout:             5 * time.Second,
		ConsecutiveFailures: 5,
	}
}

// WithCircuitBreaker stops calling the system under test after repeated
// connection failures or timeouts. While open, evaluations fail fast with a
// circuit_open failure. Other errors do not count against the breaker.
func WithCircuitBreaker(cfg BreakerConfig) Middleware {
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = DefaultBreakerConfig().ConsecutiveFailures
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: cfg.OnStateChange,
		IsSuccessful: func(err error) bool {
			kind, ok := classify(err)
			return err == nil || !ok || (kind != FailureConnection && kind != FailureTimeout)
		},
	})
	return func(next Evaluator) Evaluator {
		return EvaluatorFunc(func(ctx context.Context, ind *model.Individual) (*model.EvaluatedIndividual, error) {
			out, err := breaker.Execute(func() (interface{}, error) {
				return next.Evaluate(ctx, ind)
			})
			if err != nil {
				return nil, err
			}
			return out.(*model.EvaluatedIndividual), nil
		})
	}
}

// WithRateLimit spaces evaluations out according to limiter.
func WithRateLimit(limiter *rate.Limiter) Middleware {
	return func(next Evaluator) Evaluator {
		return EvaluatorFunc(func(ctx context.Context, ind *model.Individual) (*model.EvaluatedIndividual, error) {
			if err := limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("rate limit wait: %w", err)
			}
			return next.Evaluate(ctx, ind)
		})
	}
}

// WithTracing records one span per evaluation.
func WithTracing(tracer trace.Tracer) Middleware {
	return func(next Evaluator) Evaluator {
		return EvaluatorFunc(func(ctx context.Context, ind *model.Individual) (*model.EvaluatedIndividual, error) {
			ctx, span := tracer.Start(ctx, "mioforge.evaluate", trace.WithAttributes(
				attribute.String("individual.id", ind.ID()),
				attribute.String("individual.operation", ind.Operation()),
				attribute.Int("individual.actions", ind.Len()),
			))
			defer span.End()

			out, err := next.Evaluate(ctx, ind)
			if err != nil {
				if kind, ok := classify(err); ok {
					span.SetAttributes(attribute.String("failure.kind", string(kind)))
				}
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return nil, err
			}
			span.SetAttributes(
				attribute.Int("fitness.targets", len(out.Fitness())),
				attribute.Int("fitness.covered", len(out.Fitness().Covered())),
			)
			return out, nil
		})
	}
}
