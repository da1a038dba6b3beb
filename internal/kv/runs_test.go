package kv

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/openjobspec/ojs-jobrunner/internal/core"
)

type memEntry struct {
	key   string
	value []byte
	rev   uint64
}

func (e *memEntry) Bucket() string                  { return "mem" }
func (e *memEntry) Key() string                     { return e.key }
func (e *memEntry) Value() []byte                   { return e.value }
func (e *memEntry) Revision() uint64                { return e.rev }
func (e *memEntry) Created() time.Time              { return time.Time{} }
func (e *memEntry) Delta() uint64                   { return 0 }
func (e *memEntry) Operation() jetstream.KeyValueOp { return jetstream.KeyValuePut }

// memBucket is an in-memory Bucket with revision checks.
type memBucket struct {
	mu   sync.Mutex
	rev  uint64
	data map[string]*memEntry
	// conflicts makes the next N updates fail with a wrong-revision error
	conflicts int
}

func newMemBucket() *memBucket {
	return &memBucket{data: make(map[string]*memEntry)}
}

func (b *memBucket) Get(_ context.Context, key string) (jetstream.KeyValueEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.data[key]
	if !ok {
		return nil, jetstream.ErrKeyNotFound
	}
	return e, nil
}

func (b *memBucket) Put(_ context.Context, key string, value []byte) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rev++
	b.data[key] = &memEntry{key: key, value: value, rev: b.rev}
	return b.rev, nil
}

func (b *memBucket) Update(_ context.Context, key string, value []byte, revision uint64) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conflicts > 0 {
		b.conflicts--
		return 0, errors.New("wrong last sequence")
	}
	cur, ok := b.data[key]
	if (ok && cur.rev != revision) || (!ok && revision != 0) {
		return 0, errors.New("wrong last sequence")
	}
	b.rev++
	b.data[key] = &memEntry{key: key, value: value, rev: b.rev}
	return b.rev, nil
}

func (b *memBucket) Delete(_ context.Context, key string, _ ...jetstream.KVDeleteOpt) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.data, key)
	return nil
}

func (b *memBucket) Keys(_ context.Context, _ ...jetstream.WatchOpt) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.data) == 0 {
		return nil, jetstream.ErrNoKeysFound
	}
	keys := make([]string, 0, len(b.data))
	for k := range b.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func status(name string, runAt time.Time, outcome string) core.JobStatus {
	at := runAt
	return core.JobStatus{
		Name:        name,
		Kind:        core.KindCron,
		Spec:        "* * * * *",
		State:       core.StateScheduled,
		LastRun:     &at,
		LastOutcome: outcome,
		Runs:        1,
	}
}

func TestRunStore_RecordAndGet(t *testing.T) {
	ctx := context.Background()
	rs := NewRunStore(newMemBucket())
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	if err := rs.Record(ctx, status("report", t0, "ok")); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if err := rs.Record(ctx, status("report", t0.Add(time.Minute), "timeout")); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	// same run reported twice does not grow the history
	if err := rs.Record(ctx, status("report", t0.Add(time.Minute), "timeout")); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	entry, err := rs.Get(ctx, core.KindCron, "report")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if entry.Status.LastOutcome != "timeout" {
		t.Errorf("Status.LastOutcome = %q, want timeout", entry.Status.LastOutcome)
	}
	if len(entry.History) != 2 {
		t.Fatalf("History len = %d, want 2", len(entry.History))
	}
	if entry.History[0].Outcome != "ok" {
		t.Errorf("History[0].Outcome = %q, want ok", entry.History[0].Outcome)
	}
}

func TestRunStore_HistoryLimit(t *testing.T) {
	ctx := context.Background()
	rs := NewRunStore(newMemBucket())
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < historyLimit+5; i++ {
		if err := rs.Record(ctx, status("tick", t0.Add(time.Duration(i)*time.Minute), "ok")); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}
	entry, err := rs.Get(ctx, core.KindCron, "tick")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(entry.History) != historyLimit {
		t.Errorf("History len = %d, want %d", len(entry.History), historyLimit)
	}
	if want := t0.Add(5 * time.Minute); !entry.History[0].At.Equal(want) {
		t.Errorf("oldest kept run = %v, want %v", entry.History[0].At, want)
	}
}

func TestRunStore_RetriesConflicts(t *testing.T) {
	ctx := context.Background()
	b := newMemBucket()
	rs := NewRunStore(b)
	b.conflicts = 2

	if err := rs.Record(ctx, status("cas", time.Now(), "ok")); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if _, err := rs.Get(ctx, core.KindCron, "cas"); err != nil {
		t.Errorf("Get() after conflicts error = %v", err)
	}

	b.conflicts = 10
	if err := rs.Record(ctx, status("cas", time.Now().Add(time.Hour), "fault")); err != nil {
		t.Fatalf("Record() with exhausted retries error = %v", err)
	}
	entry, _ := rs.Get(ctx, core.KindCron, "cas")
	if entry.Status.LastOutcome != "fault" {
		t.Errorf("fallback put lost the update: %+v", entry.Status)
	}
}

func TestRunStore_ListAndForget(t *testing.T) {
	ctx := context.Background()
	rs := NewRunStore(newMemBucket())

	entries, err := rs.List(ctx)
	if err != nil {
		t.Fatalf("List() on empty bucket error = %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("List() = %d entries, want 0", len(entries))
	}

	now := time.Now()
	for _, name := range []string{"b", "a"} {
		if err := rs.Record(ctx, status(name, now, "ok")); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}
	entries, err = rs.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 2 || entries[0].Status.Name != "a" {
		t.Errorf("List() = %+v, want a then b", entries)
	}

	if err := rs.Forget(ctx, core.KindCron, "a"); err != nil {
		t.Fatalf("Forget() error = %v", err)
	}
	if _, err := rs.Get(ctx, core.KindCron, "a"); !core.IsCode(err, core.ErrCodeNotFound) {
		t.Errorf("Get() after Forget error = %v, want not_found", err)
	}
}
