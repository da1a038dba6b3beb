// Package sandbox runs job handlers in isolation: each invocation gets a
// time budget, its own goroutine and an explicit capability Env.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/openjobspec/ojs-jobrunner/internal/core"
	"github.com/openjobspec/ojs-jobrunner/internal/metrics"
)

const tracerName = "github.com/openjobspec/ojs-jobrunner/sandbox"

// DefaultTimeout bounds an invocation when neither the job nor the
// sandbox sets a budget.
const DefaultTimeout = 30 * time.Second

// Sandbox hands out capability environments and runs handlers.
type Sandbox struct {
	timeout   time.Duration
	trace     bool
	logger    *slog.Logger
	requester *Requester
	publisher Publisher
	tracer    trace.Tracer
	clock     func() time.Time
}

// Option configures a Sandbox.
type Option func(*Sandbox)

// WithTimeout sets the default per-invocation budget.
func WithTimeout(d time.Duration) Option {
	return func(s *Sandbox) { s.timeout = d }
}

// WithTrace enables verbose outbound request dumps for every Env.
func WithTrace(on bool) Option {
	return func(s *Sandbox) { s.trace = on }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sandbox) { s.logger = l }
}

// WithRequester replaces the outbound request client.
func WithRequester(r *Requester) Option {
	return func(s *Sandbox) { s.requester = r }
}

// WithPublisher attaches a transport for Env.Publish.
func WithPublisher(p Publisher) Option {
	return func(s *Sandbox) { s.publisher = p }
}

// WithTracer sets the tracer used for invocation spans.
func WithTracer(t trace.Tracer) Option {
	return func(s *Sandbox) { s.tracer = t }
}

// WithClock overrides the time source seen by handlers.
func WithClock(now func() time.Time) Option {
	return func(s *Sandbox) { s.clock = now }
}

// New creates a Sandbox.
func New(opts ...Option) *Sandbox {
	s := &Sandbox{timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.requester == nil {
		s.requester = NewRequester(s.timeout, s.logger)
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer(tracerName)
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	return s
}

// Timeout returns the default invocation budget.
func (s *Sandbox) Timeout() time.Duration { return s.timeout }

// Env builds the capability set for one job.
func (s *Sandbox) Env(job, subject string) *Env {
	return &Env{
		Job:       job,
		Subject:   subject,
		Trace:     s.trace,
		Logger:    s.logger.With("job", job),
		requester: s.requester,
		publisher: s.publisher,
		clock:     s.clock,
	}
}

// InvokeSpec describes one handler invocation.
type InvokeSpec struct {
	Job  string
	Kind string
	// Timeout overrides the sandbox budget when positive.
	Timeout time.Duration
	// Call should return once ctx is done. Invoke stops waiting at the
	// deadline either way, but the goroutine runs until Call returns.
	Call func(ctx context.Context) (string, error)
	// Release, when set, runs after Call has returned, even if Invoke gave
	// up on it earlier.
	Release func()
}

// Invoke runs spec.Call under a deadline. A handler that overruns its
// budget yields a handler_timeout result; one that panics or returns an
// error yields handler_fault. Neither is propagated beyond the result.
func (s *Sandbox) Invoke(ctx context.Context, spec InvokeSpec) core.HandlerResult {
	budget := spec.Timeout
	if budget <= 0 {
		budget = s.timeout
	}

	res := core.HandlerResult{
		InvocationID: uuid.NewString(),
		Job:          spec.Job,
		Started:      time.Now(),
	}

	ctx, span := s.tracer.Start(ctx, "sandbox.invoke",
		trace.WithAttributes(
			attribute.String("job.name", spec.Job),
			attribute.String("job.kind", spec.Kind),
			attribute.String("invocation.id", res.InvocationID),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	type outcome struct {
		out string
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		if spec.Release != nil {
			defer spec.Release()
		}
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		if spec.Call == nil {
			done <- outcome{err: errors.New("handler is nil")}
			return
		}
		out, err := spec.Call(ctx)
		done <- outcome{out: out, err: err}
	}()

	select {
	case o := <-done:
		res.Output = o.out
		if o.err != nil {
			res.Output = ""
			res.Err = s.classify(ctx, spec.Job, budget, o.err)
		}
	case <-ctx.Done():
		res.Err = s.classify(ctx, spec.Job, budget, ctx.Err())
	}
	res.Duration = time.Since(res.Started)

	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	metrics.ObserveInvocation(spec.Job, spec.Kind, res.Outcome(), res.Duration.Seconds())
	return res
}

func (s *Sandbox) classify(ctx context.Context, job string, budget time.Duration, err error) error {
	var ce *core.Error
	if errors.As(err, &ce) && (ce.Code == core.ErrCodeHandlerTimeout || ce.Code == core.ErrCodeHandlerFault) {
		return err
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return core.NewHandlerTimeoutError(job, budget)
	}
	return core.NewHandlerFaultError(job, err)
}
