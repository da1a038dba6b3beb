// Package server wires configuration, NATS, the output sink, job sources
// and the dispatcher into a running process.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/openjobspec/ojs-jobrunner/internal/api"
	"github.com/openjobspec/ojs-jobrunner/internal/core"
	"github.com/openjobspec/ojs-jobrunner/internal/kv"
	"github.com/openjobspec/ojs-jobrunner/internal/metrics"
	natsx "github.com/openjobspec/ojs-jobrunner/internal/nats"
	"github.com/openjobspec/ojs-jobrunner/internal/sandbox"
	"github.com/openjobspec/ojs-jobrunner/internal/scheduler"
	"github.com/openjobspec/ojs-jobrunner/internal/sink"
)

// healthService is the gRPC health service name.
const healthService = "ojs.jobrunner.v1"

// App is a running job runner.
type App struct {
	cfg    *Config
	logger *slog.Logger

	nc      *nats.Conn
	broker  *natsx.Broker
	runs    *kv.RunStore
	out     sink.Sink
	closeDB func() error
	sandbox *sandbox.Sandbox

	reloadMu sync.Mutex
	closed   bool
	current  atomic.Pointer[scheduler.Dispatcher]
	running  sync.WaitGroup

	httpSrv *http.Server
	grpcSrv *grpc.Server
	health  *health.Server

	shutdownOnce sync.Once
	shutdownErr  error
}

// NewApp connects to NATS, opens the sink and loads the job sources. The
// returned App does nothing until Run.
func NewApp(ctx context.Context, cfg *Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{cfg: cfg, logger: logger}

	nc, err := natsx.Connect(natsx.Options{
		Name:  cfg.NATS.Name,
		URL:   cfg.NATS.URL,
		Token: cfg.NATS.Token,
		Cred:  cfg.NATS.Cred,
		Cert:  cfg.NATS.Cert,
		Key:   cfg.NATS.Key,
	}, logger)
	if err != nil {
		return nil, err
	}
	a.nc = nc
	logger.Info("connected to NATS", "url", nc.ConnectedUrl())

	var brokerOpts []natsx.BrokerOption
	brokerOpts = append(brokerOpts, natsx.WithBrokerLogger(logger))
	if cfg.NATS.MsgLimit != 0 || cfg.NATS.BytesLimit != 0 {
		brokerOpts = append(brokerOpts, natsx.WithPendingLimits(cfg.NATS.MsgLimit, cfg.NATS.BytesLimit))
	}
	a.broker = natsx.NewBroker(nc, brokerOpts...)

	if cfg.NATS.KVBucket != "" {
		js, err := jetstream.New(nc)
		if err != nil {
			a.closeTransport()
			return nil, fmt.Errorf("creating JetStream context: %w", err)
		}
		bucket, err := natsx.SetupRunBucket(ctx, js, cfg.NATS.KVBucket)
		if err != nil {
			a.closeTransport()
			return nil, err
		}
		a.runs = kv.NewRunStore(bucket)
		logger.Info("recording job status", "bucket", cfg.NATS.KVBucket)
	}

	out, closeDB, err := OpenSink(ctx, cfg.DB, logger)
	if err != nil {
		a.closeTransport()
		return nil, err
	}
	a.out, a.closeDB = out, closeDB
	a.sandbox = NewSandbox(cfg, logger, a.broker)
	return a, nil
}

func (a *App) closeTransport() {
	if a.broker != nil {
		_ = a.broker.Close()
	}
	if a.nc != nil {
		if err := a.nc.Drain(); err != nil {
			a.nc.Close()
		}
	}
}

// Reload loads the job sources again and swaps in a new dispatcher. The new
// registry is validated before the old dispatcher stops, so a bad script
// leaves the running jobs untouched.
func (a *App) Reload(ctx context.Context) error {
	a.reloadMu.Lock()
	defer a.reloadMu.Unlock()
	if a.closed {
		return scheduler.ErrStopped
	}

	defs, err := LoadJobs(a.cfg)
	if err != nil {
		return fmt.Errorf("loading jobs: %w", err)
	}
	var recorder scheduler.StatusRecorder
	if a.runs != nil {
		recorder = a.runs
	}
	next := NewDispatcher(a.cfg, a.sandbox, a.broker, a.out, recorder, a.logger)
	if err := next.Register(defs, a.cfg.NATS.Subscribe); err != nil {
		return fmt.Errorf("registering jobs: %w", err)
	}

	if prev := a.current.Load(); prev != nil {
		sctx, cancel := context.WithTimeout(ctx, a.cfg.Scheduler.ShutdownTimeout)
		err := prev.Shutdown(sctx)
		cancel()
		if err != nil {
			a.logger.Warn("previous dispatcher did not drain in time", "error", err)
		}
	}
	a.current.Store(next)

	a.running.Add(1)
	go func() {
		defer a.running.Done()
		if err := next.Run(context.Background()); err != nil {
			a.logger.Error("dispatcher stopped with error", "error", err)
		}
	}()
	a.logger.Info("jobs loaded", "jobs", len(defs), "script", a.cfg.Script)
	return nil
}

// Run starts the jobs, the HTTP API and the gRPC health server, and blocks
// until ctx is done or a server fails. It then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	if err := a.Reload(ctx); err != nil {
		return err
	}
	metrics.Init(core.Version)

	httpLis, err := net.Listen("tcp", ":"+a.cfg.Port)
	if err != nil {
		return fmt.Errorf("listen http: %w", err)
	}
	grpcLis, err := net.Listen("tcp", ":"+a.cfg.GRPCPort)
	if err != nil {
		_ = httpLis.Close()
		return fmt.Errorf("listen grpc: %w", err)
	}

	var history api.HistoryStore
	if a.runs != nil {
		history = a.runs
	}
	a.httpSrv = &http.Server{
		Handler:           api.NewRouter(a, history, a.logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	a.grpcSrv = grpc.NewServer()
	a.health = health.NewServer()
	healthpb.RegisterHealthServer(a.grpcSrv, a.health)
	a.health.SetServingStatus(healthService, healthpb.HealthCheckResponse_SERVING)
	reflection.Register(a.grpcSrv)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("admin API listening", "addr", httpLis.Addr().String())
		if err := a.httpSrv.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		a.logger.Info("gRPC health server listening", "addr", grpcLis.Addr().String())
		if err := a.grpcSrv.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})
	if a.cfg.Watch {
		g.Go(func() error { return a.watch(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), a.cfg.Scheduler.ShutdownTimeout)
		defer cancel()
		return a.Shutdown(sctx)
	})
	return g.Wait()
}

// Shutdown stops the jobs first, then the servers, the sink and NATS.
// In-flight handlers get until ctx is done. Later calls return the first
// result.
func (a *App) Shutdown(ctx context.Context) error {
	a.shutdownOnce.Do(func() {
		a.logger.Info("shutting down")
		var errs []error

		if a.health != nil {
			a.health.Shutdown()
		}
		a.reloadMu.Lock()
		a.closed = true
		if d := a.current.Load(); d != nil {
			if err := d.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("dispatcher: %w", err))
			}
		}
		a.reloadMu.Unlock()
		a.running.Wait()

		if a.httpSrv != nil {
			if err := a.httpSrv.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("http server: %w", err))
			}
		}
		if a.grpcSrv != nil {
			stopped := make(chan struct{})
			go func() {
				a.grpcSrv.GracefulStop()
				close(stopped)
			}()
			select {
			case <-stopped:
			case <-ctx.Done():
				a.grpcSrv.Stop()
			}
		}
		if a.closeDB != nil {
			if err := a.closeDB(); err != nil {
				errs = append(errs, fmt.Errorf("sink: %w", err))
			}
		}
		a.closeTransport()
		a.shutdownErr = errors.Join(errs...)
		a.logger.Info("stopped")
	})
	return a.shutdownErr
}

func (a *App) dispatcher() *scheduler.Dispatcher { return a.current.Load() }

// Jobs implements api.Runner.
func (a *App) Jobs() []core.JobStatus {
	if d := a.dispatcher(); d != nil {
		return d.Jobs()
	}
	return nil
}

// Job implements api.Runner.
func (a *App) Job(kind, name string) (core.JobStatus, error) {
	if d := a.dispatcher(); d != nil {
		return d.Job(kind, name)
	}
	return core.JobStatus{}, core.NewNotFoundError(kind, name)
}

// Trigger implements api.Runner.
func (a *App) Trigger(ctx context.Context, name string) (core.HandlerResult, error) {
	if d := a.dispatcher(); d != nil {
		return d.Trigger(ctx, name)
	}
	return core.HandlerResult{}, core.NewNotFoundError(core.KindCron, name)
}

// Preview implements api.Runner.
func (a *App) Preview(ctx context.Context, name string, payload []byte) (core.HandlerResult, error) {
	if d := a.dispatcher(); d != nil {
		return d.Preview(ctx, name, payload)
	}
	return core.HandlerResult{}, core.NewNotFoundError(core.KindSubscription, name)
}
