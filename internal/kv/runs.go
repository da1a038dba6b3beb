package kv

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/openjobspec/ojs-jobrunner/internal/core"
)

// historyLimit bounds the run history kept per job.
const historyLimit = 10

// Run summarises one finished invocation.
type Run struct {
	At      time.Time `json:"at"`
	Outcome string    `json:"outcome"`
	Error   string    `json:"error,omitempty"`
}

// RunEntry is what the bucket holds per job.
type RunEntry struct {
	Status  core.JobStatus `json:"status"`
	History []Run          `json:"history,omitempty"`
}

// RunStore persists job status snapshots, keyed <kind>.<name>.
type RunStore struct {
	store *Store
}

// NewRunStore creates a RunStore on the given bucket.
func NewRunStore(kv Bucket) *RunStore {
	return &RunStore{store: NewStore(kv)}
}

func runKey(kind, name string) string { return kind + "." + name }

// Record stores st and appends to the job's run history when st carries a
// run that is newer than the last one recorded.
func (r *RunStore) Record(ctx context.Context, st core.JobStatus) error {
	var entry RunEntry
	return r.store.UpdateJSON(ctx, runKey(st.Kind, st.Name), &entry, func() {
		if st.LastRun != nil && (len(entry.History) == 0 || st.LastRun.After(entry.History[len(entry.History)-1].At)) {
			entry.History = append(entry.History, Run{At: *st.LastRun, Outcome: st.LastOutcome, Error: st.LastError})
			if len(entry.History) > historyLimit {
				entry.History = entry.History[len(entry.History)-historyLimit:]
			}
		}
		entry.Status = st
	})
}

// Get returns the stored entry for one job.
func (r *RunStore) Get(ctx context.Context, kind, name string) (*RunEntry, error) {
	var entry RunEntry
	if _, err := r.store.GetJSON(ctx, runKey(kind, name), &entry); err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, core.NewNotFoundError(kind, name)
		}
		return nil, err
	}
	return &entry, nil
}

// Forget drops a job's entry.
func (r *RunStore) Forget(ctx context.Context, kind, name string) error {
	err := r.store.Delete(ctx, runKey(kind, name))
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil
	}
	return err
}

// List returns every stored entry ordered by key.
func (r *RunStore) List(ctx context.Context) ([]RunEntry, error) {
	keys, err := r.store.Keys(ctx)
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)

	entries := make([]RunEntry, 0, len(keys))
	for _, key := range keys {
		var entry RunEntry
		if _, err := r.store.GetJSON(ctx, key, &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
