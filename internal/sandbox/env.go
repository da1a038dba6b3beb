package sandbox

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrNoPublisher is returned by Env.Publish when no transport is attached.
var ErrNoPublisher = errors.New("sandbox: no publisher configured")

var defaultRequester = sync.OnceValue(func() *Requester {
	return NewRequester(DefaultTimeout, nil)
})

// Publisher sends raw payloads to a subject.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Env is the capability set a handler may use. Handlers get nothing else
// from the runtime.
type Env struct {
	// Job is the name of the job being invoked.
	Job string
	// Subject is the resolved subject of a subscription job, or the
	// default publish subject of a cron job.
	Subject string
	// Trace turns on verbose dumps of outbound requests.
	Trace  bool
	Logger *slog.Logger

	requester *Requester
	publisher Publisher
	clock     func() time.Time
}

// Now returns the current instant in UTC, whole seconds.
func (e *Env) Now() Timestamp {
	if e.clock != nil {
		return NewTimestamp(e.clock())
	}
	return NewTimestamp(time.Now())
}

// Date wraps an ISO-style date string for formatting.
func (e *Env) Date(s string) DateString { return DateString(s) }

// Quote renders v as a SQL literal.
func (e *Env) Quote(v any) string { return Quote(v) }

// Request performs an outbound HTTP request. A transport failure yields a
// Response with Code -1 alongside the error.
func (e *Env) Request(ctx context.Context, method, url string, payload any, mode string) (*Response, error) {
	r := e.requester
	if r == nil {
		r = defaultRequester()
	}
	return r.Do(ctx, method, url, payload, mode, e.Trace)
}

// Publish sends data to subject, or to the job's own subject when subject
// is empty.
func (e *Env) Publish(subject string, data []byte) error {
	if e.publisher == nil {
		return ErrNoPublisher
	}
	if subject == "" {
		subject = e.Subject
	}
	if subject == "" {
		return errors.New("sandbox: publish subject is empty")
	}
	return e.publisher.Publish(subject, data)
}

// Log returns the job logger.
func (e *Env) Log() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}
