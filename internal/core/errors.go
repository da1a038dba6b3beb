package core

import (
	"errors"
	"fmt"
	"time"
)

// Error codes for the job runtime.
const (
	ErrCodeInvalidJob       = "invalid_job"
	ErrCodeInvalidCronSpec  = "invalid_cron_spec"
	ErrCodeDuplicateName    = "duplicate_name"
	ErrCodeDuplicateSubject = "duplicate_subject"
	ErrCodeHandlerTimeout   = "handler_timeout"
	ErrCodeHandlerFault     = "handler_fault"
	ErrCodeSinkError        = "sink_error"
	ErrCodeMalformedPayload = "malformed_payload"
	ErrCodeNotFound         = "not_found"
)

// Error is the structured error used across the runtime. Registration errors
// (invalid_cron_spec, duplicate_subject, ...) are fatal to startup; the
// per-invocation ones are logged and never leave the driver that produced them.
type Error struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Job     string         `json:"job,omitempty"`
	Details map[string]any `json:"details,omitempty"`
	Cause   error          `json:"-"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Registration reports whether the error belongs to the registration-time
// part of the taxonomy.
func (e *Error) Registration() bool {
	switch e.Code {
	case ErrCodeInvalidJob, ErrCodeInvalidCronSpec, ErrCodeDuplicateName, ErrCodeDuplicateSubject:
		return true
	}
	return false
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code string) bool {
	return err != nil && CodeOf(err) == code
}

// NewInvalidJobError reports a structurally invalid job definition.
func NewInvalidJobError(job, message string) *Error {
	return &Error{
		Code:    ErrCodeInvalidJob,
		Message: message,
		Job:     job,
	}
}

// NewInvalidCronSpecError reports an unparsable or unsatisfiable cron expression.
func NewInvalidCronSpecError(job, spec string, cause error) *Error {
	msg := fmt.Sprintf("Invalid cron expression: %s", spec)
	if cause != nil {
		msg += ": " + cause.Error()
	}
	return &Error{
		Code:    ErrCodeInvalidCronSpec,
		Message: msg,
		Job:     job,
		Details: map[string]any{"expression": spec},
		Cause:   cause,
	}
}

// NewDuplicateNameError reports two jobs of one kind sharing a name.
func NewDuplicateNameError(kind, name string) *Error {
	return &Error{
		Code:    ErrCodeDuplicateName,
		Message: fmt.Sprintf("%s job %q is defined more than once", kind, name),
		Job:     name,
		Details: map[string]any{"kind": kind},
	}
}

// NewDuplicateSubjectError reports two subscriptions resolving to one subject.
func NewDuplicateSubjectError(subject, first, second string) *Error {
	return &Error{
		Code:    ErrCodeDuplicateSubject,
		Message: fmt.Sprintf("subject %q is claimed by both %q and %q", subject, first, second),
		Job:     second,
		Details: map[string]any{"subject": subject, "jobs": []string{first, second}},
	}
}

// NewHandlerTimeoutError reports a handler that exceeded its time budget.
func NewHandlerTimeoutError(job string, budget time.Duration) *Error {
	return &Error{
		Code:    ErrCodeHandlerTimeout,
		Message: fmt.Sprintf("handler %q exceeded its budget of %s", job, budget),
		Job:     job,
		Details: map[string]any{"timeout_ms": budget.Milliseconds()},
	}
}

// NewHandlerFaultError reports a handler that panicked, threw or returned an error.
func NewHandlerFaultError(job string, cause error) *Error {
	return &Error{
		Code:    ErrCodeHandlerFault,
		Message: fmt.Sprintf("handler %q failed: %v", job, cause),
		Job:     job,
		Cause:   cause,
	}
}

// NewSinkError wraps a failure of the output sink.
func NewSinkError(cause error) *Error {
	return &Error{
		Code:    ErrCodeSinkError,
		Message: fmt.Sprintf("apply statement: %v", cause),
		Cause:   cause,
	}
}

// NewMalformedPayloadError reports a delivery that is not a sequence of records.
func NewMalformedPayloadError(reason string, cause error) *Error {
	return &Error{
		Code:    ErrCodeMalformedPayload,
		Message: reason,
		Cause:   cause,
	}
}

// NewNotFoundError reports an unknown job.
func NewNotFoundError(kind, name string) *Error {
	return &Error{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s job %q not found", kind, name),
		Job:     name,
		Details: map[string]any{"kind": kind},
	}
}
