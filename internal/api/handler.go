// Package api exposes the job runner's admin HTTP API.
package api

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/openjobspec/ojs-jobrunner/internal/core"
	"github.com/openjobspec/ojs-jobrunner/internal/kv"
)

// Runner is the part of the scheduler the API drives.
type Runner interface {
	Jobs() []core.JobStatus
	Job(kind, name string) (core.JobStatus, error)
	Trigger(ctx context.Context, name string) (core.HandlerResult, error)
	Preview(ctx context.Context, name string, payload []byte) (core.HandlerResult, error)
}

// HistoryStore returns persisted run history.
type HistoryStore interface {
	Get(ctx context.Context, kind, name string) (*kv.RunEntry, error)
}

// InvocationResponse describes one handler run.
type InvocationResponse struct {
	InvocationID string `json:"invocation_id"`
	Job          string `json:"job"`
	Outcome      string `json:"outcome"`
	Output       string `json:"output"`
	Error        string `json:"error,omitempty"`
	DurationMs   int64  `json:"duration_ms"`
}

func invocation(res core.HandlerResult) InvocationResponse {
	out := InvocationResponse{
		InvocationID: res.InvocationID,
		Job:          res.Job,
		Outcome:      res.Outcome(),
		Output:       res.Output,
		DurationMs:   res.Duration.Milliseconds(),
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	return out
}

// JobHandler serves job status, trigger and preview requests.
type JobHandler struct {
	runner  Runner
	history HistoryStore
}

// NewJobHandler creates a JobHandler. history may be nil.
func NewJobHandler(runner Runner, history HistoryStore) *JobHandler {
	return &JobHandler{runner: runner, history: history}
}

// Health handles GET /healthz.
func (h *JobHandler) Health(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": core.Version,
		"jobs":    len(h.runner.Jobs()),
	})
}

// List handles GET /v1/jobs.
func (h *JobHandler) List(w http.ResponseWriter, r *http.Request) {
	jobs := h.runner.Jobs()
	if kind := r.URL.Query().Get("kind"); kind != "" {
		filtered := jobs[:0]
		for _, j := range jobs {
			if j.Kind == kind {
				filtered = append(filtered, j)
			}
		}
		jobs = filtered
	}
	WriteJSON(w, http.StatusOK, map[string]any{"jobs": jobs, "count": len(jobs)})
}

// Get handles GET /v1/jobs/{kind}/{name}.
func (h *JobHandler) Get(w http.ResponseWriter, r *http.Request) {
	st, err := h.runner.Job(chi.URLParam(r, "kind"), chi.URLParam(r, "name"))
	if err != nil {
		WriteError(w, 0, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"job": st})
}

// History handles GET /v1/jobs/{kind}/{name}/history.
func (h *JobHandler) History(w http.ResponseWriter, r *http.Request) {
	kind, name := chi.URLParam(r, "kind"), chi.URLParam(r, "name")
	if h.history == nil {
		WriteError(w, http.StatusNotFound, core.NewNotFoundError("history", kind+"/"+name))
		return
	}
	entry, err := h.history.Get(r.Context(), kind, name)
	if err != nil {
		WriteError(w, 0, err)
		return
	}
	WriteJSON(w, http.StatusOK, entry)
}

// Run handles POST /v1/cron/{name}/run.
func (h *JobHandler) Run(w http.ResponseWriter, r *http.Request) {
	res, err := h.runner.Trigger(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		WriteError(w, 0, err)
		return
	}
	WriteJSON(w, http.StatusOK, invocation(res))
}

// Preview handles POST /v1/subscriptions/{name}/preview. The request body
// is the payload; the handler output is returned and not applied.
func (h *JobHandler) Preview(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteError(w, http.StatusRequestEntityTooLarge, core.NewMalformedPayloadError("request body too large", err))
			return
		}
		WriteError(w, http.StatusBadRequest, core.NewMalformedPayloadError("failed to read request body", err))
		return
	}
	res, err := h.runner.Preview(r.Context(), chi.URLParam(r, "name"), payload)
	if err != nil {
		WriteError(w, 0, err)
		return
	}
	WriteJSON(w, http.StatusOK, invocation(res))
}
