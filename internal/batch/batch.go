// Package batch turns raw subscription deliveries into validated record batches.
package batch

import (
	"bytes"

	jsoniter "github.com/json-iterator/go"

	"github.com/openjobspec/ojs-jobrunner/internal/core"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Decode parses a JSON payload into plain Go values: objects become
// map[string]any, arrays []any and numbers float64.
func Decode(payload []byte) (any, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// IsSequence reports whether v is an ordered sequence of values.
func IsSequence(v any) bool {
	switch v.(type) {
	case []any, []map[string]any, []core.Record, core.Batch:
		return true
	}
	return false
}

// IsRecord reports whether v is a plain keyed record. Sequences, primitives
// and nil are not records.
func IsRecord(v any) bool {
	switch r := v.(type) {
	case map[string]any:
		return r != nil
	case core.Record:
		return r != nil
	}
	return false
}

// Filter keeps the elements of raw that qualify as records, in order.
// A raw value that is not a sequence yields an empty batch.
func Filter(raw any) core.Batch {
	var out core.Batch
	switch seq := raw.(type) {
	case []any:
		for _, item := range seq {
			if rec, ok := toRecord(item); ok {
				out = append(out, rec)
			}
		}
	case []map[string]any:
		for _, item := range seq {
			if item != nil {
				out = append(out, core.Record(item))
			}
		}
	case []core.Record:
		for _, item := range seq {
			if item != nil {
				out = append(out, item)
			}
		}
	case core.Batch:
		for _, item := range seq {
			if item != nil {
				out = append(out, item)
			}
		}
	}
	return out
}

func toRecord(v any) (core.Record, bool) {
	switch r := v.(type) {
	case map[string]any:
		if r != nil {
			return core.Record(r), true
		}
	case core.Record:
		if r != nil {
			return r, true
		}
	}
	return nil, false
}

// FromPayload decodes and filters one delivery. Undecodable or non-sequence
// payloads produce an empty batch together with a malformed_payload error
// that callers treat as informational.
func FromPayload(payload []byte) (core.Batch, error) {
	b, _, err := fromPayload(payload)
	return b, err
}

// fromPayload also returns the number of elements in the decoded sequence.
func fromPayload(payload []byte) (core.Batch, int, error) {
	v, err := decodePayload(payload)
	if err != nil {
		return nil, 0, err
	}
	return fromSequence(v)
}

// fromDelivery reads one transport message. Besides a sequence it accepts a
// single JSON object, which contributes one record.
func fromDelivery(payload []byte) (core.Batch, int, error) {
	v, err := decodePayload(payload)
	if err != nil {
		return nil, 0, err
	}
	if rec, ok := toRecord(v); ok {
		return core.Batch{rec}, 1, nil
	}
	return fromSequence(v)
}

func decodePayload(payload []byte) (any, error) {
	v, err := Decode(payload)
	if err != nil {
		return nil, core.NewMalformedPayloadError("payload is not valid JSON", err)
	}
	if v == nil {
		return nil, core.NewMalformedPayloadError("payload is empty", nil)
	}
	return v, nil
}

func fromSequence(v any) (core.Batch, int, error) {
	seq, ok := v.([]any)
	if !ok {
		return nil, 0, core.NewMalformedPayloadError("payload is not a sequence", nil)
	}
	return Filter(seq), len(seq), nil
}

// Chunk splits b into consecutive batches of at most size records.
// A size below one returns b unsplit.
func Chunk(b core.Batch, size int) []core.Batch {
	if len(b) == 0 {
		return nil
	}
	if size < 1 || len(b) <= size {
		return []core.Batch{b}
	}
	chunks := make([]core.Batch, 0, (len(b)+size-1)/size)
	for start := 0; start < len(b); start += size {
		end := start + size
		if end > len(b) {
			end = len(b)
		}
		chunks = append(chunks, b[start:end])
	}
	return chunks
}

// Encode renders a batch as a JSON array.
func Encode(b core.Batch) ([]byte, error) {
	if b == nil {
		b = core.Batch{}
	}
	return json.Marshal(b)
}
