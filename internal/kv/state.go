// Package kv persists job runner state in NATS JetStream key/value buckets.
package kv

import (
	"context"
	"errors"
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"github.com/nats-io/nats.go/jetstream"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Bucket is the part of jetstream.KeyValue the stores rely on.
type Bucket interface {
	Get(ctx context.Context, key string) (jetstream.KeyValueEntry, error)
	Put(ctx context.Context, key string, value []byte) (uint64, error)
	Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error)
	Delete(ctx context.Context, key string, opts ...jetstream.KVDeleteOpt) error
	Keys(ctx context.Context, opts ...jetstream.WatchOpt) ([]string, error)
}

// Store provides typed access to a NATS KV bucket.
type Store struct {
	kv Bucket
}

// NewStore wraps a NATS KV bucket.
func NewStore(kv Bucket) *Store {
	return &Store{kv: kv}
}

// Get retrieves a value by key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, uint64, error) {
	entry, err := s.kv.Get(ctx, key)
	if err != nil {
		return nil, 0, err
	}
	return entry.Value(), entry.Revision(), nil
}

// Put stores a value at key.
func (s *Store) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	return s.kv.Put(ctx, key, value)
}

// Delete removes a key.
func (s *Store) Delete(ctx context.Context, key string) error {
	return s.kv.Delete(ctx, key)
}

// Keys returns all keys in the bucket.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	keys, err := s.kv.Keys(ctx)
	if err != nil {
		// an empty bucket reports ErrNoKeysFound
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, err
	}
	return keys, nil
}

// GetJSON retrieves and unmarshals a JSON value.
func (s *Store) GetJSON(ctx context.Context, key string, v any) (uint64, error) {
	data, rev, err := s.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return 0, fmt.Errorf("unmarshal key %s: %w", key, err)
	}
	return rev, nil
}

// PutJSON marshals and stores a JSON value.
func (s *Store) PutJSON(ctx context.Context, key string, v any) (uint64, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("marshal key %s: %w", key, err)
	}
	return s.Put(ctx, key, data)
}

// UpdateJSON performs a compare-and-swap update on a JSON value. mutate
// receives target after it was loaded (or left untouched for a new key)
// and modifies it in place. Revision conflicts are retried up to 3 times
// before falling back to an unconditional put.
func (s *Store) UpdateJSON(ctx context.Context, key string, target any, mutate func()) error {
	for i := 0; i < 3; i++ {
		rev, err := s.GetJSON(ctx, key, target)
		if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
			return err
		}
		// revision 0 only succeeds when the key does not exist yet
		mutate()
		data, mErr := json.Marshal(target)
		if mErr != nil {
			return fmt.Errorf("marshal key %s: %w", key, mErr)
		}
		if _, uErr := s.kv.Update(ctx, key, data, rev); uErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	_, err := s.PutJSON(ctx, key, target)
	return err
}
