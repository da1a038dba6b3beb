package core

import "time"

// HandlerResult is the outcome of one sandboxed handler invocation.
// A nil Err with an empty Output means "nothing to emit".
type HandlerResult struct {
	InvocationID string
	Job          string
	Output       string
	Err          error
	Started      time.Time
	Duration     time.Duration
}

// OK reports whether the invocation completed without a failure.
func (r HandlerResult) OK() bool { return r.Err == nil }

// Outcome labels the result for logs and metrics.
func (r HandlerResult) Outcome() string {
	switch {
	case r.Err == nil && r.Output == "":
		return "empty"
	case r.Err == nil:
		return "ok"
	case IsCode(r.Err, ErrCodeHandlerTimeout):
		return "timeout"
	default:
		return "fault"
	}
}
