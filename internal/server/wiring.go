package server

import (
	"context"
	"log/slog"

	"github.com/openjobspec/ojs-jobrunner/internal/sandbox"
	"github.com/openjobspec/ojs-jobrunner/internal/scheduler"
	"github.com/openjobspec/ojs-jobrunner/internal/sink"
)

// NewSandbox builds the handler sandbox. publisher may be nil.
func NewSandbox(cfg *Config, logger *slog.Logger, publisher sandbox.Publisher) *sandbox.Sandbox {
	opts := []sandbox.Option{
		sandbox.WithLogger(logger),
		sandbox.WithTrace(cfg.Trace),
	}
	if cfg.Scheduler.HandlerTimeout > 0 {
		opts = append(opts, sandbox.WithTimeout(cfg.Scheduler.HandlerTimeout))
	}
	if publisher != nil {
		opts = append(opts, sandbox.WithPublisher(publisher))
	}
	return sandbox.New(opts...)
}

// NewDispatcher builds a dispatcher tuned by the scheduler config.
// transport and recorder may be nil.
func NewDispatcher(cfg *Config, sb *sandbox.Sandbox, transport scheduler.Transport, out sink.Sink, recorder scheduler.StatusRecorder, logger *slog.Logger) *scheduler.Dispatcher {
	sc := cfg.Scheduler
	opts := []scheduler.Option{
		scheduler.WithLogger(logger),
		scheduler.WithPoolSize(sc.PoolSize),
		scheduler.WithHandlerTimeout(sc.HandlerTimeout),
		scheduler.WithDisableAfter(sc.DisableAfter),
		scheduler.WithMaxBatch(sc.MaxBatch),
		scheduler.WithFlushInterval(sc.FlushInterval),
		scheduler.WithSerializeSink(sc.SerializeSink),
		scheduler.WithInvokeEmpty(sc.InvokeEmpty),
	}
	if sc.RetryDelay > 0 {
		opts = append(opts, scheduler.WithRetryDelay(sc.RetryDelay))
	}
	if recorder != nil {
		opts = append(opts, scheduler.WithStatusRecorder(recorder))
	}
	return scheduler.New(sb, transport, out, opts...)
}

// OpenSink returns the configured output sink and a function that releases
// it. The dry-run sink only logs statements.
func OpenSink(ctx context.Context, cfg DBConfig, logger *slog.Logger) (sink.Sink, func() error, error) {
	if cfg.DryRun() {
		return &sink.Log{Logger: logger}, func() error { return nil }, nil
	}
	driver := cfg.Type
	if driver == "sqlite" {
		driver = sink.DriverSQLite
	}
	db, err := sink.Open(ctx, driver, cfg.Conn, sink.Options{
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return nil, nil, err
	}
	return db, db.Close, nil
}
