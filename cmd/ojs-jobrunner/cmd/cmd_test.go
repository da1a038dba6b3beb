package cmd

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/openjobspec/ojs-jobrunner/internal/core"
)

func TestPrintJobs(t *testing.T) {
	next := time.Date(2024, 1, 2, 3, 0, 0, 0, time.Local)
	var buf bytes.Buffer
	err := printJobs(&buf, []core.JobStatus{
		{Kind: core.KindCron, Name: "cleanup", Spec: "0 3 * * *", NextRun: &next, Source: "jobs.js"},
		{Kind: core.KindSubscription, Name: "001", Spec: "+", Subject: "logs.001", Source: "config"},
	})
	if err != nil {
		t.Fatalf("printJobs() error = %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("printJobs() wrote %d lines, want 3:\n%s", len(lines), buf.String())
	}
	if !strings.Contains(lines[1], "next 2024-01-02 03:00:00") {
		t.Errorf("cron line = %q, want next fire time", lines[1])
	}
	if !strings.Contains(lines[2], "logs.001") {
		t.Errorf("subscription line = %q, want subject", lines[2])
	}
}

func TestPrintResult(t *testing.T) {
	tests := []struct {
		name   string
		res    core.HandlerResult
		wantOK bool
		want   string
	}{
		{"output", core.HandlerResult{Job: "a", Output: "select 1"}, true, "select 1;"},
		{"empty", core.HandlerResult{Job: "b"}, true, "(empty"},
		{"fault", core.HandlerResult{Job: "c", Err: core.NewHandlerFaultError("c", nil)}, false, "-- error:"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if got := printResult(&buf, core.KindCron, tt.res); got != tt.wantOK {
				t.Errorf("printResult() = %v, want %v", got, tt.wantOK)
			}
			if !strings.Contains(buf.String(), tt.want) {
				t.Errorf("printResult() wrote %q, want it to contain %q", buf.String(), tt.want)
			}
		})
	}
}
