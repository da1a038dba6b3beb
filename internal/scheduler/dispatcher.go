// Package scheduler drives registered jobs: cron timers, subject
// subscriptions, a bounded worker pool and graceful shutdown.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/openjobspec/ojs-jobrunner/internal/batch"
	"github.com/openjobspec/ojs-jobrunner/internal/core"
	"github.com/openjobspec/ojs-jobrunner/internal/jobs"
	"github.com/openjobspec/ojs-jobrunner/internal/metrics"
	"github.com/openjobspec/ojs-jobrunner/internal/sandbox"
	"github.com/openjobspec/ojs-jobrunner/internal/schedule"
	"github.com/openjobspec/ojs-jobrunner/internal/sink"
)

// Transport delivers raw payloads published to a subject.
type Transport interface {
	Subscribe(subject string) (<-chan []byte, func(), error)
}

// StatusRecorder persists job status snapshots.
type StatusRecorder interface {
	Record(ctx context.Context, st core.JobStatus) error
}

var (
	// ErrNotRegistered is returned by Run before a successful Register.
	ErrNotRegistered = errors.New("scheduler: no jobs registered")
	// ErrStopped is returned once Shutdown has begun.
	ErrStopped = errors.New("scheduler: stopped")
	// ErrRunning is returned by Register and Run after Run has started.
	ErrRunning = errors.New("scheduler: already running")
)

const (
	defaultPoolSize     = 8
	defaultDisableAfter = 3
	defaultRetryDelay   = time.Minute
	recordTimeout       = 2 * time.Second
)

// Dispatcher owns one registry and runs a driver per job.
type Dispatcher struct {
	sandbox   *sandbox.Sandbox
	transport Transport
	sink      sink.Sink
	logger    *slog.Logger
	recorder  StatusRecorder
	resolver  *schedule.Resolver

	poolSize       int
	handlerTimeout time.Duration
	disableAfter   int
	retryDelay     time.Duration
	maxBatch       int
	flushInterval  time.Duration
	serializeSink  bool
	invokeEmpty    bool

	pool *semaphore.Weighted
	out  sink.Sink
	// serial is set when statements go through a single writer
	serial *sink.Serial

	// overridable in tests
	now   func() time.Time
	after func(time.Duration) <-chan time.Time

	mu       sync.RWMutex
	registry *jobs.Registry
	status   map[string]*core.JobStatus
	running  bool
	stopped  bool
	// retired is set once the jobs no longer count in the state gauges
	retired bool

	runCancel    context.CancelFunc
	invokeCtx    context.Context
	invokeCancel context.CancelFunc
	wg           sync.WaitGroup
	shutdownOnce sync.Once
}

// New creates a Dispatcher. transport may be nil when no subscription jobs
// are registered; out may be nil to discard output.
func New(sb *sandbox.Sandbox, transport Transport, out sink.Sink, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		sandbox:      sb,
		transport:    transport,
		sink:         out,
		poolSize:     defaultPoolSize,
		disableAfter: defaultDisableAfter,
		retryDelay:   defaultRetryDelay,
		now:          time.Now,
		after:        time.After,
		status:       make(map[string]*core.JobStatus),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	if d.sandbox == nil {
		d.sandbox = sandbox.New(sandbox.WithLogger(d.logger))
	}
	if d.resolver == nil {
		d.resolver = schedule.NewResolver()
	}
	if d.poolSize < 1 {
		d.poolSize = 1
	}
	if d.disableAfter < 1 {
		d.disableAfter = 1
	}
	d.pool = semaphore.NewWeighted(int64(d.poolSize))
	d.out = d.sink
	d.invokeCtx, d.invokeCancel = context.WithCancel(context.Background())
	return d
}

// Register validates and installs defs. It needs no transport, so a
// Dispatcher can be used for Trigger and Preview alone. Either every definition is
// registered or none is; a failed Register leaves the previous registry
// in place.
func (d *Dispatcher) Register(defs []jobs.Definition, prefix string) error {
	reg, err := jobs.NewRegistry(defs, prefix, d.resolver)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return ErrStopped
	}
	if d.running {
		return ErrRunning
	}

	for k, st := range d.status {
		metrics.StateChange(st.Kind, st.State, "")
		delete(d.status, k)
	}
	now := d.now()
	for _, c := range reg.CronJobs() {
		st := &core.JobStatus{Name: c.Name, Kind: core.KindCron, Spec: c.Spec, Source: c.Source, State: core.StateRegistered, UpdatedAt: now}
		if next, err := c.Schedule.Next(now); err == nil {
			st.NextRun = &next
		}
		d.status[statusKey(core.KindCron, c.Name)] = st
		metrics.StateChange(core.KindCron, "", st.State)
	}
	for _, s := range reg.Subscriptions() {
		st := &core.JobStatus{Name: s.Name, Kind: core.KindSubscription, Spec: s.Spec, Subject: s.Subject, Source: s.Source, State: core.StateRegistered, UpdatedAt: now}
		d.status[statusKey(core.KindSubscription, s.Name)] = st
		metrics.StateChange(core.KindSubscription, "", st.State)
	}
	d.registry = reg
	d.logger.Info("jobs registered", "cron", len(reg.CronJobs()), "subscriptions", len(reg.Subscriptions()), "prefix", prefix)
	return nil
}

// Registry returns the installed registry, or nil.
func (d *Dispatcher) Registry() *jobs.Registry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.registry
}

// Run starts one driver per registered job and blocks until ctx is done or
// Shutdown is called, and every driver has exited.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.mu.Lock()
	switch {
	case d.stopped:
		d.mu.Unlock()
		return ErrStopped
	case d.running:
		d.mu.Unlock()
		return ErrRunning
	case d.registry == nil:
		d.mu.Unlock()
		return ErrNotRegistered
	case len(d.registry.Subscriptions()) > 0 && d.transport == nil:
		d.mu.Unlock()
		return fmt.Errorf("scheduler: %d subscription jobs need a transport", len(d.registry.Subscriptions()))
	}
	d.running = true
	runCtx, cancel := context.WithCancel(ctx)
	d.runCancel = cancel
	if d.serializeSink && d.sink != nil {
		d.serial = sink.NewSerial(d.sink, d.poolSize*2)
		d.out = d.serial
	}
	reg := d.registry
	for _, c := range reg.CronJobs() {
		d.wg.Add(1)
		go d.runCron(runCtx, reg.Prefix(), c)
	}
	for _, s := range reg.Subscriptions() {
		d.wg.Add(1)
		go d.runSubscription(runCtx, s)
	}
	d.mu.Unlock()

	d.logger.Info("dispatcher started", "jobs", reg.Len(), "pool_size", d.poolSize)
	<-runCtx.Done()

	// a dispatcher runs once, whether stopped by Shutdown or by ctx
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()
	d.wg.Wait()
	d.release()
	d.logger.Info("dispatcher stopped")
	return nil
}

// release frees what Run set up once every driver has exited: the serial
// writer, the invocation context and the jobs' share of the state gauges.
func (d *Dispatcher) release() {
	d.mu.Lock()
	serial := d.serial
	var states []core.JobStatus
	if !d.retired {
		d.retired = true
		states = make([]core.JobStatus, 0, len(d.status))
		for _, st := range d.status {
			states = append(states, *st)
		}
	}
	d.mu.Unlock()

	d.invokeCancel()
	if serial != nil {
		_ = serial.Close()
	}
	for _, st := range states {
		metrics.StateChange(st.Kind, st.State, "")
	}
}

// Shutdown stops timers and subscriptions, waits for in-flight handlers
// until ctx is done, then cancels whatever is still running. Later calls
// return immediately.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	var err error
	d.shutdownOnce.Do(func() {
		d.mu.Lock()
		d.stopped = true
		cancel := d.runCancel
		d.mu.Unlock()
		if cancel != nil {
			cancel()
		}

		done := make(chan struct{})
		go func() {
			d.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			d.logger.Warn("shutdown grace period expired, cancelling in-flight handlers")
			d.invokeCancel()
			<-done
			err = ctx.Err()
		}
		d.release()
	})
	return err
}

// begin registers an out-of-band invocation with the shutdown wait group.
func (d *Dispatcher) begin() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return ErrStopped
	}
	d.wg.Add(1)
	return nil
}

// Trigger fires a cron job once, outside its schedule. Output goes to the
// sink as usual.
func (d *Dispatcher) Trigger(ctx context.Context, name string) (core.HandlerResult, error) {
	reg := d.Registry()
	if reg == nil {
		return core.HandlerResult{}, ErrNotRegistered
	}
	job, ok := reg.Cron(name)
	if !ok {
		return core.HandlerResult{}, core.NewNotFoundError(core.KindCron, name)
	}
	if err := d.begin(); err != nil {
		return core.HandlerResult{}, err
	}
	defer d.wg.Done()

	if err := d.pool.Acquire(ctx, 1); err != nil {
		return core.HandlerResult{}, err
	}

	env := d.sandbox.Env(job.Name, cronSubject(reg.Prefix(), job.Name))
	res := d.invokeCron(ctx, job, env)
	d.finish(core.KindCron, job.Name, res, "")
	d.forward(job.Name, res)
	return res, nil
}

// Preview runs a subscription handler on payload and returns its output
// without applying it.
func (d *Dispatcher) Preview(ctx context.Context, name string, payload []byte) (core.HandlerResult, error) {
	reg := d.Registry()
	if reg == nil {
		return core.HandlerResult{}, ErrNotRegistered
	}
	job, ok := reg.Subscription(name)
	if !ok {
		return core.HandlerResult{}, core.NewNotFoundError(core.KindSubscription, name)
	}
	if err := d.begin(); err != nil {
		return core.HandlerResult{}, err
	}
	defer d.wg.Done()

	records, err := batch.FromPayload(payload)
	if err != nil {
		d.logger.Debug("preview payload is not a record sequence", "job", name, "error", err)
	}
	if err := d.pool.Acquire(ctx, 1); err != nil {
		return core.HandlerResult{}, err
	}

	env := d.sandbox.Env(job.Name, job.Subject)
	return d.invokeSubscription(ctx, job, env, records), nil
}

// releaseSlot returns a pool slot taken before an invocation. The sandbox
// calls it when the handler returns, so a handler that outlives its
// deadline keeps its slot.
func (d *Dispatcher) releaseSlot() { d.pool.Release(1) }

func (d *Dispatcher) timeout(job time.Duration) time.Duration {
	if job > 0 {
		return job
	}
	return d.handlerTimeout
}

// forward sends non-empty output to the sink. Sink failures are logged and
// counted; they never stop the job.
func (d *Dispatcher) forward(job string, res core.HandlerResult) {
	d.mu.RLock()
	out := d.out
	d.mu.RUnlock()
	stmt := sink.Terminate(res.Output)
	if res.Err != nil || stmt == "" || out == nil {
		return
	}
	if err := out.Apply(d.invokeCtx, stmt); err != nil {
		if !core.IsCode(err, core.ErrCodeSinkError) {
			err = core.NewSinkError(err)
		}
		metrics.Statements.WithLabelValues("error").Inc()
		d.logger.Error("sink rejected statement", "job", job, "invocation_id", res.InvocationID, "error", err)
		return
	}
	metrics.Statements.WithLabelValues("ok").Inc()
}

// logResult logs a finished invocation.
func (d *Dispatcher) logResult(kind string, res core.HandlerResult) {
	attrs := []any{
		"job", res.Job,
		"kind", kind,
		"invocation_id", res.InvocationID,
		"outcome", res.Outcome(),
		"duration_ms", res.Duration.Milliseconds(),
	}
	if res.Err != nil {
		d.logger.Error("handler failed", append(attrs, "error", res.Err)...)
		return
	}
	d.logger.Debug("handler finished", attrs...)
}

// Jobs returns a snapshot of every job's status ordered by kind and name.
func (d *Dispatcher) Jobs() []core.JobStatus {
	d.mu.RLock()
	out := make([]core.JobStatus, 0, len(d.status))
	for _, st := range d.status {
		out = append(out, *st)
	}
	d.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Job returns one job's status.
func (d *Dispatcher) Job(kind, name string) (core.JobStatus, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	st, ok := d.status[statusKey(kind, name)]
	if !ok {
		return core.JobStatus{}, core.NewNotFoundError(kind, name)
	}
	return *st, nil
}

func statusKey(kind, name string) string { return kind + "/" + name }

// update mutates a job's status, keeps the state gauges in step and hands
// the new snapshot to the recorder.
func (d *Dispatcher) update(kind, name string, mutate func(st *core.JobStatus)) {
	d.mu.Lock()
	st, ok := d.status[statusKey(kind, name)]
	if !ok {
		d.mu.Unlock()
		return
	}
	prev := st.State
	mutate(st)
	st.UpdatedAt = d.now()
	snap := *st
	retired := d.retired
	d.mu.Unlock()

	if !retired {
		metrics.StateChange(kind, prev, snap.State)
	}
	if d.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := d.recorder.Record(ctx, snap); err != nil {
		d.logger.Warn("failed to record job status", "job", name, "kind", kind, "error", err)
	}
}

// finish folds an invocation result into the job status. An empty
// nextState keeps the current state.
func (d *Dispatcher) finish(kind, name string, res core.HandlerResult, nextState string) {
	d.update(kind, name, func(st *core.JobStatus) {
		at := res.Started
		st.LastRun = &at
		st.Runs++
		st.LastOutcome = res.Outcome()
		st.LastError = ""
		if res.Err != nil {
			st.Failures++
			st.LastError = res.Err.Error()
		}
		if nextState != "" {
			st.State = nextState
		}
	})
}
