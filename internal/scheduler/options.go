package scheduler

import (
	"log/slog"
	"time"

	"github.com/openjobspec/ojs-jobrunner/internal/schedule"
)

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithPoolSize bounds how many handlers run at once across all jobs.
func WithPoolSize(n int) Option {
	return func(d *Dispatcher) { d.poolSize = n }
}

// WithHandlerTimeout sets the budget for jobs that declare none.
func WithHandlerTimeout(t time.Duration) Option {
	return func(d *Dispatcher) { d.handlerTimeout = t }
}

// WithDisableAfter sets how many consecutive next-fire failures disable a
// cron job.
func WithDisableAfter(n int) Option {
	return func(d *Dispatcher) { d.disableAfter = n }
}

// WithRetryDelay sets the wait before re-resolving a failed schedule.
func WithRetryDelay(t time.Duration) Option {
	return func(d *Dispatcher) { d.retryDelay = t }
}

// WithMaxBatch caps the records handed to one subscription invocation.
func WithMaxBatch(n int) Option {
	return func(d *Dispatcher) { d.maxBatch = n }
}

// WithFlushInterval lets a subscription wait this long for more deliveries
// before invoking its handler.
func WithFlushInterval(t time.Duration) Option {
	return func(d *Dispatcher) { d.flushInterval = t }
}

// WithSerializeSink routes all statements through a single writer.
func WithSerializeSink(on bool) Option {
	return func(d *Dispatcher) { d.serializeSink = on }
}

// WithInvokeEmpty makes subscriptions call their handler for batches with
// no records.
func WithInvokeEmpty(on bool) Option {
	return func(d *Dispatcher) { d.invokeEmpty = on }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithStatusRecorder persists job status after every change.
func WithStatusRecorder(r StatusRecorder) Option {
	return func(d *Dispatcher) { d.recorder = r }
}

// WithResolver shares a schedule cache between dispatchers.
func WithResolver(r *schedule.Resolver) Option {
	return func(d *Dispatcher) { d.resolver = r }
}
