package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ignitionstack/ember/pkg/artifact"
	"github.com/ignitionstack/ember/pkg/engine/backend"
	"github.com/ignitionstack/ember/pkg/engine/components"
	"github.com/ignitionstack/ember/pkg/engine/errors"
	"github.com/ignitionstack/ember/pkg/engine/logging"
	"github.com/ignitionstack/ember/pkg/engine/metrics"
	"github.com/ignitionstack/ember/pkg/registry"
	"github.com/ignitionstack/ember/pkg/wire"
)

// State is the stage an invocation has reached.
type State int

const (
	StateResolving State = iota
	StateAcquiring
	StateInvoking
	StateDecoding
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateResolving:
		return "resolving"
	case StateAcquiring:
		return "acquiring"
	case StateInvoking:
		return "invoking"
	case StateDecoding:
		return "decoding"
	case StateCompleted:
		return "completed"
	default:
		return "failed"
	}
}

// Detail keys set on invocation errors
const (
	DetailState = "state"
)

// Invoker drives one request through resolve, acquire, invoke and decode and
// maps every failure to an invocation outcome.
type Invoker struct {
	resolver       registry.Resolver
	cache          components.HandleCache
	backend        backend.Backend
	breakers       *components.CircuitBreakerManager
	metrics        *metrics.Collector
	logger         logging.Logger
	logStore       *logging.FunctionLogStore
	defaultTimeout time.Duration
}

type InvokerOptions struct {
	// Deadline used when neither the request nor the function sets one
	DefaultTimeout time.Duration
	// Optional
	Breakers *components.CircuitBreakerManager
	Metrics  *metrics.Collector
	LogStore *logging.FunctionLogStore
}

func NewInvoker(resolver registry.Resolver, cache components.HandleCache, b backend.Backend, logger logging.Logger, options InvokerOptions) *Invoker {
	if options.DefaultTimeout <= 0 {
		options.DefaultTimeout = 30 * time.Second
	}
	if options.Breakers == nil {
		options.Breakers = components.NewCircuitBreakerManager(0, 0)
	}
	return &Invoker{
		resolver:       resolver,
		cache:          cache,
		backend:        b,
		breakers:       options.Breakers,
		metrics:        options.Metrics,
		logger:         logger,
		logStore:       options.LogStore,
		defaultTimeout: options.DefaultTimeout,
	}
}

// invocation carries one call through the state machine.
type invocation struct {
	*Invoker
	ref   artifact.Reference
	state State
	start time.Time
}

// Invoke runs the function ref against req. Errors are DomainInvoke errors
// whose code is the outcome: not_found, unavailable, function_error,
// deadline_exceeded or bad_response.
func (i *Invoker) Invoke(ctx context.Context, ref artifact.Reference, req *wire.Request) (*wire.Response, error) {
	inv := &invocation{Invoker: i, ref: ref, start: time.Now()}
	if i.metrics != nil {
		defer i.metrics.Begin()()
	}

	resp, err := inv.run(ctx, req)
	inv.finish(err)
	return resp, err
}

func (inv *invocation) run(ctx context.Context, req *wire.Request) (*wire.Response, error) {
	inv.enter(StateResolving)
	loc, err := inv.resolver.Resolve(ctx, inv.ref)
	if err != nil {
		if registry.IsNotFound(err) {
			return nil, inv.fail(errors.CodeNotFound, "Function not found", err)
		}
		return nil, inv.fail(errors.CodeUnavailable, "Resolver failed", err)
	}

	deadline := inv.deadline(req, loc)
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	breaker := inv.breakers.Get(inv.ref)
	if !breaker.Allow() {
		return nil, inv.fail(errors.CodeUnavailable, "Circuit breaker is open",
			errors.New(errors.DomainExecution, errors.CodeCircuitOpen, "Circuit breaker is open"))
	}

	resp, err := inv.execute(ctx, req, loc, deadline)
	if err != nil {
		if breaker.RecordFailure() {
			inv.logger.Printf("Circuit breaker opened for function %s", inv.ref)
			inv.audit(logging.LevelError, "circuit breaker opened")
		}
		return nil, err
	}
	breaker.RecordSuccess()
	return resp, nil
}

func (inv *invocation) execute(ctx context.Context, req *wire.Request, loc artifact.Location, deadline time.Time) (*wire.Response, error) {
	inv.enter(StateAcquiring)
	h, err := inv.cache.Acquire(ctx, inv.ref, loc)
	if err != nil {
		if ctx.Err() != nil {
			return nil, inv.fail(errors.CodeDeadlineExceeded, "Deadline elapsed while loading", err)
		}
		return nil, inv.fail(errors.CodeUnavailable, "Function could not be loaded", err)
	}
	defer inv.cache.Release(h)

	inv.enter(StateInvoking)
	call := *req
	call.Meta.Deadline = deadline
	if call.Meta.TraceID == "" {
		call.Meta.TraceID = uuid.NewString()
	}

	output, err := inv.backend.Invoke(ctx, h, wire.EncodeRequest(&call))
	if err != nil {
		switch {
		case errors.Is(err, errors.DomainExecution, errors.CodeTimeout):
			return nil, inv.fail(errors.CodeDeadlineExceeded, "Deadline exceeded", err)
		case errors.Is(err, errors.DomainExecution, errors.CodeExhausted):
			inv.logger.Errorf("Backend %s exhausted while invoking %s: %v", inv.backend.Name(), inv.ref, err)
			return nil, inv.fail(errors.CodeUnavailable, "No execution capacity", err)
		default:
			return nil, inv.fail(errors.CodeFunctionError, "Function failed", err)
		}
	}

	inv.enter(StateDecoding)
	resp, err := wire.DecodeResponse(output)
	if err != nil {
		return nil, inv.fail(errors.CodeBadResponse, "Function returned an invalid response", err)
	}

	inv.enter(StateCompleted)
	return resp, nil
}

// deadline is the earlier of the request's own deadline and the function
// timeout (or the default).
func (inv *invocation) deadline(req *wire.Request, loc artifact.Location) time.Time {
	timeout := loc.Timeout
	if timeout <= 0 {
		timeout = inv.defaultTimeout
	}
	deadline := inv.start.Add(timeout)
	if d := req.Meta.Deadline; !d.IsZero() && d.Before(deadline) {
		deadline = d
	}
	return deadline
}

func (inv *invocation) enter(state State) {
	inv.state = state
}

// fail builds the outcome error and records the internal detail in the
// function's audit log.
func (inv *invocation) fail(code errors.Code, message string, cause error) error {
	failedIn := inv.state
	inv.state = StateFailed

	detail := cause.Error()
	if de, ok := errors.As(cause); ok && len(de.Details) > 0 {
		for _, key := range []string{backend.DetailPanic, backend.DetailStderr, backend.DetailExitCode} {
			if v, ok := de.Details[key]; ok {
				detail += fmt.Sprintf(" | %s: %v", key, v)
			}
		}
	}
	inv.audit(logging.LevelError, "%s failed while %s: %s", code, failedIn, detail)

	return errors.Wrap(errors.DomainInvoke, code, message, cause).
		WithRef(inv.ref.String()).
		WithDetails(map[string]interface{}{DetailState: failedIn.String()})
}

func (inv *invocation) finish(err error) {
	elapsed := time.Since(inv.start)
	code := ""
	if err != nil {
		code = string(errors.PublicCode(err))
		inv.logger.Debugf("Invocation of %s failed after %s: %v", inv.ref, elapsed, err)
	} else {
		inv.audit(logging.LevelInfo, "completed in %s", elapsed)
	}
	if inv.metrics != nil {
		inv.metrics.RecordInvocation(inv.ref.String(), code, elapsed)
	}
}

func (inv *invocation) audit(level logging.LogLevel, format string, args ...interface{}) {
	if inv.logStore != nil {
		inv.logStore.Addf(inv.ref.String(), level, format, args...)
	}
}
