package server

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/openjobspec/ojs-jobrunner/internal/core"
	"github.com/openjobspec/ojs-jobrunner/internal/jobs"
	"github.com/openjobspec/ojs-jobrunner/internal/sink"
)

func TestLoadJobs_ScriptAndBindings(t *testing.T) {
	cfg := &Config{
		Script: filepath.Join("..", "script", "testdata", "natsql.js"),
		Subscriptions: []Binding{
			{Name: "002", Handler: "logtest"},
		},
		Crons: []Binding{
			{Name: "beat", Spec: "@every 1m", Handler: "heartbeat"},
		},
	}

	defs, err := LoadJobs(cfg)
	if err != nil {
		t.Fatalf("LoadJobs() error = %v", err)
	}
	if len(defs) != 5 {
		t.Fatalf("len(defs) = %d, want 5", len(defs))
	}

	var bound *jobs.SubscriptionJob
	for _, d := range defs {
		if s, ok := d.(*jobs.SubscriptionJob); ok && s.Name == "002" {
			bound = s
		}
	}
	if bound == nil {
		t.Fatal("binding 002 not loaded")
	}
	if bound.Spec != "+" || bound.Source != sourceConfig {
		t.Errorf("binding = %+v, want spec + from config", bound)
	}
}

func TestLoadJobs_UnknownHandler(t *testing.T) {
	cfg := &Config{Crons: []Binding{{Name: "x", Spec: "@hourly", Handler: "nope"}}}
	_, err := LoadJobs(cfg)
	if !core.IsCode(err, core.ErrCodeInvalidJob) {
		t.Errorf("LoadJobs() error = %v, want %s", err, core.ErrCodeInvalidJob)
	}
}

func TestDispatcherFromConfig(t *testing.T) {
	cfg, err := LoadConfig(writeFile(t, t.TempDir(), "jobrunner.yaml", "nats:\n  subscribe: logs.\nsubscriptions:\n  - name: \"001\"\n    handler: logtest\n"))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	defs, err := LoadJobs(cfg)
	if err != nil {
		t.Fatalf("LoadJobs() error = %v", err)
	}

	out := &sink.Log{Logger: logger}
	d := NewDispatcher(cfg, NewSandbox(cfg, logger, nil), nil, out, nil, logger)
	if err := d.Register(defs, cfg.NATS.Subscribe); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	st, err := d.Job(core.KindSubscription, "001")
	if err != nil {
		t.Fatalf("Job() error = %v", err)
	}
	if st.Subject != "logs.001" {
		t.Errorf("Subject = %q, want %q", st.Subject, "logs.001")
	}

	res, err := d.Preview(context.Background(), "001", []byte(`[{"Code":"1'2","Type":1,"Message":"hi","Account":"a","CreateTime":"2024-01-02T03:04:05.000Z"}]`))
	if err != nil {
		t.Fatalf("Preview() error = %v", err)
	}
	if !strings.HasPrefix(res.Output, "insert into logtest(") {
		t.Errorf("Preview().Output = %q", res.Output)
	}
}

func TestOpenSink(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	out, closeFn, err := OpenSink(context.Background(), DBConfig{Type: "dryrun"}, logger)
	if err != nil {
		t.Fatalf("OpenSink(dryrun) error = %v", err)
	}
	if _, ok := out.(*sink.Log); !ok {
		t.Errorf("OpenSink(dryrun) = %T, want *sink.Log", out)
	}
	_ = closeFn()

	dsn := filepath.Join(t.TempDir(), "out.db")
	out, closeFn, err = OpenSink(context.Background(), DBConfig{Type: "sqlite", Conn: dsn}, logger)
	if err != nil {
		t.Fatalf("OpenSink(sqlite) error = %v", err)
	}
	defer closeFn()
	if err := out.Apply(context.Background(), "create table t (id integer primary key);"); err != nil {
		t.Errorf("Apply() error = %v", err)
	}
}
