package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/openjobspec/ojs-jobrunner/internal/core"
	"github.com/openjobspec/ojs-jobrunner/internal/jobs"
	"github.com/openjobspec/ojs-jobrunner/internal/metrics"
	"github.com/openjobspec/ojs-jobrunner/internal/sandbox"
	"github.com/openjobspec/ojs-jobrunner/internal/sink"
)

type fakeTransport struct {
	mu   sync.Mutex
	subs map[string]chan []byte
	fail error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{subs: make(map[string]chan []byte)}
}

func (f *fakeTransport) Subscribe(subject string) (<-chan []byte, func(), error) {
	if f.fail != nil {
		return nil, nil, f.fail
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan []byte)
	f.subs[subject] = ch
	return ch, func() {}, nil
}

func (f *fakeTransport) channel(t *testing.T, subject string) chan []byte {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		ch, ok := f.subs[subject]
		f.mu.Unlock()
		if ok {
			return ch
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no subscription on %q", subject)
	return nil
}

type capture struct {
	mu    sync.Mutex
	stmts []string
}

func (c *capture) Apply(_ context.Context, stmt string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stmts = append(c.stmts, stmt)
	return nil
}

func (c *capture) statements() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.stmts...)
}

// outcomes records the last outcome of every status snapshot it is handed.
type outcomes struct {
	mu  sync.Mutex
	got map[string]bool
}

func (o *outcomes) Record(_ context.Context, st core.JobStatus) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.got == nil {
		o.got = make(map[string]bool)
	}
	if st.LastOutcome != "" {
		o.got[st.LastOutcome] = true
	}
	return nil
}

func (o *outcomes) seen(outcome string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.got[outcome]
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func immediate(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

func newTestDispatcher(tr Transport, out sink.Sink, opts ...Option) *Dispatcher {
	sb := sandbox.New(sandbox.WithLogger(quietLogger()), sandbox.WithTimeout(time.Second))
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	d := New(sb, tr, out, opts...)
	d.after = immediate
	return d
}

func start(t *testing.T, d *Dispatcher) {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background()) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = d.Shutdown(ctx)
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("Run() did not return after Shutdown()")
		}
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestRegisterRejectsWholeSet(t *testing.T) {
	d := newTestDispatcher(newFakeTransport(), nil)
	ok := &jobs.CronJob{Name: "ok", Spec: "* * * * *", Handler: func(context.Context, *sandbox.Env) (string, error) { return "", nil }}
	if err := d.Register([]jobs.Definition{ok}, "logs."); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	bad := &jobs.CronJob{Name: "bad", Spec: "not a cron", Handler: ok.Handler}
	other := &jobs.CronJob{Name: "other", Spec: "@hourly", Handler: ok.Handler}
	err := d.Register([]jobs.Definition{other, bad}, "logs.")
	if !core.IsCode(err, core.ErrCodeInvalidCronSpec) {
		t.Fatalf("Register() error = %v, want %s", err, core.ErrCodeInvalidCronSpec)
	}

	got := d.Jobs()
	if len(got) != 1 || got[0].Name != "ok" {
		t.Errorf("Jobs() = %+v, want only the first registration", got)
	}
	if got[0].State != core.StateRegistered {
		t.Errorf("State = %q, want %q", got[0].State, core.StateRegistered)
	}
	if got[0].NextRun == nil {
		t.Error("NextRun = nil, want a fire time")
	}
}

func TestRunSubscriptionsNeedTransport(t *testing.T) {
	d := newTestDispatcher(nil, nil)
	sub := &jobs.SubscriptionJob{Name: "001", Spec: "+", Handler: func(context.Context, *sandbox.Env, core.Batch) (string, error) { return "", nil }}
	if err := d.Register([]jobs.Definition{sub}, "logs."); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := d.Run(context.Background()); err == nil {
		t.Fatal("Run() error = nil, want transport error")
	}
}

func TestRunWithoutRegister(t *testing.T) {
	d := newTestDispatcher(nil, nil)
	if err := d.Run(context.Background()); !errors.Is(err, ErrNotRegistered) {
		t.Errorf("Run() error = %v, want %v", err, ErrNotRegistered)
	}
}

func TestCronKeepsFiringAfterFailures(t *testing.T) {
	var calls atomic.Int64
	out := &capture{}
	handler := func(ctx context.Context, env *sandbox.Env) (string, error) {
		switch calls.Add(1) {
		case 1:
			return "", errors.New("boom")
		case 2:
			panic("kaboom")
		case 3:
			<-ctx.Done()
			return "", ctx.Err()
		default:
			return "delete from logtest where CreateTime < now()", nil
		}
	}
	rec := &outcomes{}
	d := newTestDispatcher(nil, out, WithStatusRecorder(rec))
	job := &jobs.CronJob{Name: "cleanup", Spec: "* * * * *", Timeout: 20 * time.Millisecond, Handler: handler}
	if err := d.Register([]jobs.Definition{job}, "logs."); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	start(t, d)

	waitFor(t, "a successful statement", func() bool { return len(out.statements()) > 0 })
	if got := out.statements()[0]; got != "delete from logtest where CreateTime < now();" {
		t.Errorf("statement = %q, want terminated delete", got)
	}

	st, err := d.Job(core.KindCron, "cleanup")
	if err != nil {
		t.Fatalf("Job() error = %v", err)
	}
	if st.Failures < 3 {
		t.Errorf("Failures = %d, want >= 3", st.Failures)
	}
	if st.Runs < 4 {
		t.Errorf("Runs = %d, want >= 4", st.Runs)
	}
	for _, outcome := range []string{"fault", "timeout", "ok"} {
		if !rec.seen(outcome) {
			t.Errorf("no run recorded with outcome %q", outcome)
		}
	}
}

func TestCronDisabledAfterUnresolvableSchedule(t *testing.T) {
	var calls atomic.Int64
	d := newTestDispatcher(nil, nil, WithDisableAfter(3))
	job := &jobs.CronJob{Name: "never", Spec: "0 0 30 2 *", Handler: func(context.Context, *sandbox.Env) (string, error) {
		calls.Add(1)
		return "", nil
	}}
	if err := d.Register([]jobs.Definition{job}, ""); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	start(t, d)

	waitFor(t, "disabled state", func() bool {
		st, _ := d.Job(core.KindCron, "never")
		return st.State == core.StateDisabled
	})
	st, _ := d.Job(core.KindCron, "never")
	if st.ScheduleFailures != 3 {
		t.Errorf("ScheduleFailures = %d, want 3", st.ScheduleFailures)
	}
	if !st.Terminal() {
		t.Error("Terminal() = false, want true")
	}
	if calls.Load() != 0 {
		t.Errorf("handler called %d times, want 0", calls.Load())
	}
}

func TestSubscriptionDeliversInOrder(t *testing.T) {
	tr := newFakeTransport()
	out := &capture{}
	var mu sync.Mutex
	var sizes []int
	handler := func(_ context.Context, env *sandbox.Env, records core.Batch) (string, error) {
		mu.Lock()
		sizes = append(sizes, records.Len())
		mu.Unlock()
		if records.Len() == 0 {
			return "", nil
		}
		return fmt.Sprintf("insert into t values(%v)", records[0]["a"]), nil
	}
	d := newTestDispatcher(tr, out)
	sub := &jobs.SubscriptionJob{Name: "001", Spec: "+", Handler: handler}
	if err := d.Register([]jobs.Definition{sub}, "logs."); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	start(t, d)

	ch := tr.channel(t, "logs.001")
	ch <- []byte(`[{"a":1}]`)
	waitFor(t, "first statement", func() bool { return len(out.statements()) == 1 })
	for _, p := range []string{`"not a sequence"`, `[]`, `[{"a":2},3,"x"]`} {
		ch <- []byte(p)
	}
	waitFor(t, "two statements", func() bool { return len(out.statements()) == 2 })

	got := out.statements()
	want := []string{"insert into t values(1);", "insert into t values(2);"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("statement[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	mu.Lock()
	defer mu.Unlock()
	for _, n := range sizes {
		if n == 0 {
			t.Errorf("handler invoked with an empty batch: sizes = %v", sizes)
		}
	}

	st, _ := d.Job(core.KindSubscription, "001")
	if st.Subject != "logs.001" {
		t.Errorf("Subject = %q, want %q", st.Subject, "logs.001")
	}
}

func TestSubscriptionAcceptsObjectMessages(t *testing.T) {
	tr := newFakeTransport()
	out := &capture{}
	var mu sync.Mutex
	var codes []any
	handler := func(_ context.Context, _ *sandbox.Env, records core.Batch) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		for _, r := range records {
			codes = append(codes, r["Code"])
		}
		return fmt.Sprintf("insert into logtest(Code) values('%v')", records[0]["Code"]), nil
	}
	d := newTestDispatcher(tr, out)
	sub := &jobs.SubscriptionJob{Name: "001", Spec: "+", Handler: handler}
	if err := d.Register([]jobs.Definition{sub}, "logs."); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	start(t, d)

	ch := tr.channel(t, "logs.001")
	ch <- []byte(`{"Code":"A","Type":1}`)
	ch <- []byte(`{"Code":"B","Type":2}`)
	waitFor(t, "both records", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(codes) == 2
	})

	mu.Lock()
	defer mu.Unlock()
	if codes[0] != "A" || codes[1] != "B" {
		t.Errorf("records = %v, want A then B", codes)
	}
	if got := out.statements(); len(got) == 0 {
		t.Error("no statement reached the sink")
	}
}

func TestSubscriptionFaultDoesNotReachSink(t *testing.T) {
	tr := newFakeTransport()
	out := &capture{}
	var calls atomic.Int64
	d := newTestDispatcher(tr, out)
	sub := &jobs.SubscriptionJob{Name: "audit", Spec: "audit.events", Handler: func(context.Context, *sandbox.Env, core.Batch) (string, error) {
		calls.Add(1)
		return "insert into audit values(1)", errors.New("bad record")
	}}
	if err := d.Register([]jobs.Definition{sub}, "logs."); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	start(t, d)

	ch := tr.channel(t, "audit.events")
	ch <- []byte(`[{"a":1}]`)
	waitFor(t, "first invocation", func() bool { return calls.Load() == 1 })
	ch <- []byte(`[{"a":2}]`)
	waitFor(t, "both invocations", func() bool { return calls.Load() == 2 })
	waitFor(t, "failure count", func() bool {
		st, _ := d.Job(core.KindSubscription, "audit")
		return st.Failures == 2
	})

	if got := out.statements(); len(got) != 0 {
		t.Errorf("statements = %v, want none", got)
	}
	st, _ := d.Job(core.KindSubscription, "audit")
	if st.LastOutcome != "fault" {
		t.Errorf("LastOutcome = %q, want fault", st.LastOutcome)
	}
}

func TestSubscribeFailureMarksUnsubscribed(t *testing.T) {
	tr := newFakeTransport()
	tr.fail = errors.New("no connection")
	d := newTestDispatcher(tr, nil)
	sub := &jobs.SubscriptionJob{Name: "001", Spec: "+", Handler: func(context.Context, *sandbox.Env, core.Batch) (string, error) { return "", nil }}
	if err := d.Register([]jobs.Definition{sub}, "logs."); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	start(t, d)

	waitFor(t, "unsubscribed state", func() bool {
		st, _ := d.Job(core.KindSubscription, "001")
		return st.State == core.StateUnsubscribed && st.LastError != ""
	})
}

func TestTriggerAndPreview(t *testing.T) {
	out := &capture{}
	d := newTestDispatcher(newFakeTransport(), out)
	cron := &jobs.CronJob{Name: "ping", Spec: "@yearly", Handler: func(context.Context, *sandbox.Env) (string, error) {
		return "select 1 from dual where 1 = 1", nil
	}}
	sub := &jobs.SubscriptionJob{Name: "001", Spec: "+", Handler: func(_ context.Context, _ *sandbox.Env, records core.Batch) (string, error) {
		return fmt.Sprintf("-- %d records", records.Len()), nil
	}}
	if err := d.Register([]jobs.Definition{cron, sub}, "logs."); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	res, err := d.Trigger(context.Background(), "ping")
	if err != nil {
		t.Fatalf("Trigger() error = %v", err)
	}
	if !res.OK() || res.InvocationID == "" {
		t.Errorf("Trigger() = %+v, want ok result with id", res)
	}
	if got := out.statements(); len(got) != 1 {
		t.Errorf("statements = %v, want one", got)
	}

	res, err = d.Preview(context.Background(), "001", []byte(`[{"a":1},2,{"b":3}]`))
	if err != nil {
		t.Fatalf("Preview() error = %v", err)
	}
	if res.Output != "-- 2 records" {
		t.Errorf("Preview().Output = %q, want %q", res.Output, "-- 2 records")
	}
	if got := out.statements(); len(got) != 1 {
		t.Errorf("Preview() applied output: statements = %v", got)
	}

	if _, err := d.Trigger(context.Background(), "001"); !core.IsCode(err, core.ErrCodeNotFound) {
		t.Errorf("Trigger(subscription) error = %v, want not_found", err)
	}
	if _, err := d.Preview(context.Background(), "missing", nil); !core.IsCode(err, core.ErrCodeNotFound) {
		t.Errorf("Preview(missing) error = %v, want not_found", err)
	}
}

func TestSerializedSinkSeesNoConcurrency(t *testing.T) {
	var inFlight, maxInFlight atomic.Int64
	var applied atomic.Int64
	out := sink.Func(func(context.Context, string) error {
		n := inFlight.Add(1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		inFlight.Add(-1)
		applied.Add(1)
		return nil
	})
	d := newTestDispatcher(nil, out, WithSerializeSink(true), WithPoolSize(4))
	var defs []jobs.Definition
	for i := 0; i < 4; i++ {
		defs = append(defs, &jobs.CronJob{Name: fmt.Sprintf("job%d", i), Spec: "* * * * *", Handler: func(context.Context, *sandbox.Env) (string, error) {
			return "update counters set n = n + 1", nil
		}})
	}
	if err := d.Register(defs, ""); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	start(t, d)

	waitFor(t, "statements", func() bool { return applied.Load() >= 20 })
	if got := maxInFlight.Load(); got != 1 {
		t.Errorf("max concurrent Apply = %d, want 1", got)
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	d := newTestDispatcher(nil, nil)
	job := &jobs.CronJob{Name: "a", Spec: "@hourly", Handler: func(context.Context, *sandbox.Env) (string, error) { return "", nil }}
	if err := d.Register([]jobs.Definition{job}, ""); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	d.after = time.After

	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background()) }()
	waitFor(t, "scheduled state", func() bool {
		st, _ := d.Job(core.KindCron, "a")
		return st.State == core.StateScheduled
	})

	if err := d.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if err := d.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown() error = %v", err)
	}
	if err := <-done; err != nil {
		t.Errorf("Run() error = %v", err)
	}
	if err := d.Register([]jobs.Definition{job}, ""); !errors.Is(err, ErrStopped) {
		t.Errorf("Register() after Shutdown() error = %v, want %v", err, ErrStopped)
	}
	if _, err := d.Trigger(context.Background(), "a"); !errors.Is(err, ErrStopped) {
		t.Errorf("Trigger() after Shutdown() error = %v, want %v", err, ErrStopped)
	}
}

func TestShutdownCancelsAfterGrace(t *testing.T) {
	tr := newFakeTransport()
	entered := make(chan struct{})
	var cancelled atomic.Bool
	d := newTestDispatcher(tr, nil, WithHandlerTimeout(time.Minute))
	sub := &jobs.SubscriptionJob{Name: "slow", Spec: "slow.in", Handler: func(ctx context.Context, _ *sandbox.Env, _ core.Batch) (string, error) {
		close(entered)
		<-ctx.Done()
		cancelled.Store(true)
		return "", ctx.Err()
	}}
	if err := d.Register([]jobs.Definition{sub}, ""); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background()) }()

	tr.channel(t, "slow.in") <- []byte(`[{"a":1}]`)
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := d.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Shutdown() error = %v, want %v", err, context.DeadlineExceeded)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return")
	}
	waitFor(t, "handler cancellation", cancelled.Load)
}

func TestPoolSlotHeldByOverrunningHandler(t *testing.T) {
	block := make(chan struct{})
	var calls atomic.Int64
	d := newTestDispatcher(nil, nil, WithPoolSize(1))
	job := &jobs.CronJob{Name: "stubborn", Spec: "@yearly", Timeout: 10 * time.Millisecond, Handler: func(context.Context, *sandbox.Env) (string, error) {
		if calls.Add(1) == 1 {
			<-block
		}
		return "", nil
	}}
	if err := d.Register([]jobs.Definition{job}, ""); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	res, err := d.Trigger(context.Background(), "stubborn")
	if err != nil {
		t.Fatalf("Trigger() error = %v", err)
	}
	if res.Outcome() != "timeout" {
		t.Fatalf("Trigger() outcome = %q, want timeout", res.Outcome())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := d.Trigger(ctx, "stubborn"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Trigger() while the slot is held error = %v, want %v", err, context.DeadlineExceeded)
	}

	close(block)
	res, err = d.Trigger(context.Background(), "stubborn")
	if err != nil || !res.OK() {
		t.Errorf("Trigger() after the handler returned = %+v, %v", res, err)
	}
}

func gaugeValues() map[string]float64 {
	out := make(map[string]float64)
	for _, kind := range []string{core.KindCron, core.KindSubscription} {
		for _, state := range []string{
			core.StateRegistered, core.StateScheduled, core.StateFiring,
			core.StateSubscribed, core.StateDelivering, core.StateUnsubscribed,
		} {
			out[kind+"/"+state] = testutil.ToFloat64(metrics.Jobs.WithLabelValues(kind, state))
		}
	}
	return out
}

func TestShutdownClearsStateGauges(t *testing.T) {
	before := gaugeValues()

	for i := 0; i < 3; i++ {
		tr := newFakeTransport()
		d := newTestDispatcher(tr, nil)
		d.after = time.After
		defs := []jobs.Definition{
			&jobs.CronJob{Name: "hourly", Spec: "@hourly", Handler: func(context.Context, *sandbox.Env) (string, error) { return "", nil }},
			&jobs.SubscriptionJob{Name: "001", Spec: "+", Handler: func(context.Context, *sandbox.Env, core.Batch) (string, error) { return "", nil }},
		}
		if err := d.Register(defs, "logs."); err != nil {
			t.Fatalf("Register() error = %v", err)
		}
		done := make(chan error, 1)
		go func() { done <- d.Run(context.Background()) }()
		waitFor(t, "running drivers", func() bool {
			c, _ := d.Job(core.KindCron, "hourly")
			s, _ := d.Job(core.KindSubscription, "001")
			return c.State == core.StateScheduled && s.State == core.StateSubscribed
		})

		if err := d.Shutdown(context.Background()); err != nil {
			t.Fatalf("Shutdown() error = %v", err)
		}
		if err := <-done; err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	}

	after := gaugeValues()
	for key, want := range before {
		if got := after[key]; got != want {
			t.Errorf("jobs gauge %s = %v after shutdown, want %v", key, got, want)
		}
	}
}

func TestRunReleasesOnContextCancel(t *testing.T) {
	before := gaugeValues()
	d := newTestDispatcher(nil, &capture{}, WithSerializeSink(true))
	d.after = time.After
	job := &jobs.CronJob{Name: "hourly", Spec: "@hourly", Handler: func(context.Context, *sandbox.Env) (string, error) { return "", nil }}
	if err := d.Register([]jobs.Definition{job}, ""); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	waitFor(t, "scheduled state", func() bool {
		st, _ := d.Job(core.KindCron, "hourly")
		return st.State == core.StateScheduled
	})
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}

	if err := d.serial.Apply(context.Background(), "update t set n = 1;"); !errors.Is(err, sink.ErrClosed) {
		t.Errorf("serial Apply() after Run error = %v, want %v", err, sink.ErrClosed)
	}
	if _, err := d.Trigger(context.Background(), "hourly"); !errors.Is(err, ErrStopped) {
		t.Errorf("Trigger() after Run error = %v, want %v", err, ErrStopped)
	}
	if err := d.Run(context.Background()); err == nil {
		t.Error("second Run() error = nil")
	}
	after := gaugeValues()
	if after["cron/scheduled"] != before["cron/scheduled"] {
		t.Errorf("cron/scheduled gauge = %v, want %v", after["cron/scheduled"], before["cron/scheduled"])
	}
	if err := d.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() after Run error = %v", err)
	}
}
