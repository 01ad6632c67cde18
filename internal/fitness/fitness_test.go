package fitness

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"golang.org/x/time/rate"

	"mioforge/internal/gene"
	"mioforge/internal/model"
)

func individual(t *testing.T) *model.Individual {
	t.Helper()
	p, err := model.NewParam("id", model.LocationPath, gene.Freeze(gene.NewInteger("id", 1, 1)))
	require.NoError(t, err)
	a, err := model.NewAction(model.RESTKind{}, model.Identity{Scope: "GET", Operation: "/items/{id}"}, false, p)
	require.NoError(t, err)
	ind, err := model.NewIndividual(nil, []*model.Action{a})
	require.NoError(t, err)
	return ind
}

func scoring(h float64) Evaluator {
	return EvaluatorFunc(func(_ context.Context, ind *model.Individual) (*model.EvaluatedIndividual, error) {
		return model.NewEvaluatedIndividual(ind, nil, model.FitnessVector{"t": h})
	})
}

func failing(err error) Evaluator {
	return EvaluatorFunc(func(context.Context, *model.Individual) (*model.EvaluatedIndividual, error) {
		return nil, err
	})
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		kind FailureKind
	}{
		{context.DeadlineExceeded, FailureTimeout},
		{fmt.Errorf("call: %w", context.DeadlineExceeded), FailureTimeout},
		{&net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}, FailureConnection},
		{fmt.Errorf("decode: %w", ErrProtocol), FailureProtocol},
		{gobreaker.ErrOpenState, FailureCircuitOpen},
		{ErrConnection, FailureConnection},
	}
	for _, tc := range cases {
		f, ok := Classify(tc.err)
		require.True(t, ok, tc.err)
		assert.Equal(t, string(tc.kind), f.Kind)
		assert.NotEmpty(t, f.Message)
	}

	_, ok := Classify(errors.New("binding points outside tree"))
	require.False(t, ok)
	_, ok = Classify(context.Canceled)
	require.False(t, ok)
}

func TestExecuteTurnsRecoverableFailuresIntoResults(t *testing.T) {
	ind := individual(t)
	ev, err := Execute(context.Background(), failing(ErrConnection), ind)
	require.NoError(t, err)
	require.True(t, ev.Failed())
	failure, ok := ev.Failure()
	require.True(t, ok)
	require.Equal(t, string(FailureConnection), failure.Kind)
	require.Empty(t, ev.Fitness())

	domain := errors.New("domain violation")
	_, err = Execute(context.Background(), failing(domain), ind)
	require.ErrorIs(t, err, domain)
}

func TestWithTimeoutBoundsEvaluation(t *testing.T) {
	slow := EvaluatorFunc(func(ctx context.Context, _ *model.Individual) (*model.EvaluatedIndividual, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	ev, err := Execute(context.Background(), Chain(slow, WithTimeout(10*time.Millisecond)), individual(t))
	require.NoError(t, err)
	failure, _ := ev.Failure()
	require.Equal(t, string(FailureTimeout), failure.Kind)
}

func TestCircuitBreakerOpensOnConnectionFailures(t *testing.T) {
	calls := 0
	down := EvaluatorFunc(func(context.Context, *model.Individual) (*model.EvaluatedIndividual, error) {
		calls++
		return nil, ErrConnection
	})
	cfg := DefaultBreakerConfig()
	cfg.ConsecutiveFailures = 2
	cfg.Timeout = time.Hour
	ev := Chain(down, WithCircuitBreaker(cfg))
	ind := individual(t)

	for i := 0; i < 5; i++ {
		_, err := Execute(context.Background(), ev, ind)
		require.NoError(t, err)
	}
	require.Equal(t, 2, calls)

	out, err := Execute(context.Background(), ev, ind)
	require.NoError(t, err)
	failure, _ := out.Failure()
	require.Equal(t, string(FailureCircuitOpen), failure.Kind)
}

func TestCircuitBreakerIgnoresDomainErrors(t *testing.T) {
	calls := 0
	broken := EvaluatorFunc(func(context.Context, *model.Individual) (*model.EvaluatedIndividual, error) {
		calls++
		return nil, errors.New("bad individual")
	})
	cfg := DefaultBreakerConfig()
	cfg.ConsecutiveFailures = 1
	ev := Chain(broken, WithCircuitBreaker(cfg))
	for i := 0; i < 3; i++ {
		_, err := ev.Evaluate(context.Background(), individual(t))
		require.Error(t, err)
	}
	require.Equal(t, 3, calls)
}

func TestRateLimitHonoursCancellation(t *testing.T) {
	limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
	ev := Chain(scoring(0.5), WithRateLimit(limiter))
	_, err := ev.Evaluate(context.Background(), individual(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = ev.Evaluate(ctx, individual(t))
	require.Error(t, err)
}

func TestTracingRecordsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	tracer := provider.Tracer("fitness-test")

	_, err := Chain(scoring(1), WithTracing(tracer)).Evaluate(context.Background(), individual(t))
	require.NoError(t, err)
	_, err = Chain(failing(ErrConnection), WithTracing(tracer)).Evaluate(context.Background(), individual(t))
	require.Error(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "mioforge.evaluate", spans[0].Name())
	attrs := map[string]any{}
	for _, kv := range spans[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}
	assert.Equal(t, int64(1), attrs["fitness.covered"])
	assert.Len(t, spans[1].Events(), 1)
}

func TestChainOrder(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next Evaluator) Evaluator {
			return EvaluatorFunc(func(ctx context.Context, ind *model.Individual) (*model.EvaluatedIndividual, error) {
				order = append(order, name)
				return next.Evaluate(ctx, ind)
			})
		}
	}
	_, err := Chain(scoring(0.1), mark("outer"), mark("inner")).Evaluate(context.Background(), individual(t))
	require.NoError(t, err)
	require.Equal(t, []string{"outer", "inner"}, order)
}
