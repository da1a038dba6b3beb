package core

// Record is one structured payload delivered to a subscription handler.
// The runtime enforces no schema on it.
type Record map[string]any

// Has reports whether the record carries the named field.
func (r Record) Has(field string) bool {
	_, ok := r[field]
	return ok
}

// String returns the named field when it is a string.
func (r Record) String(field string) (string, bool) {
	s, ok := r[field].(string)
	return s, ok
}

// Batch is an ordered run of records handed to one handler invocation.
type Batch []Record

// Len returns the number of records in the batch.
func (b Batch) Len() int { return len(b) }

// Any converts the batch to a plain []any, the shape handlers get from a
// decoded JSON array.
func (b Batch) Any() []any {
	out := make([]any, len(b))
	for i, r := range b {
		out[i] = map[string]any(r)
	}
	return out
}
