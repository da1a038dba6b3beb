package handlers

import (
	"context"
	"errors"

	jsoniter "github.com/json-iterator/go"

	"github.com/openjobspec/ojs-jobrunner/internal/core"
	"github.com/openjobspec/ojs-jobrunner/internal/sandbox"
)

// Heartbeat publishes a small liveness document to the job's subject.
// It emits no SQL.
func Heartbeat(_ context.Context, env *sandbox.Env) (string, error) {
	now := env.Now()
	doc, err := jsoniter.Marshal(map[string]any{
		"job":     env.Job,
		"time":    now.DateTime(),
		"unix":    now.Unix(),
		"version": core.Version,
	})
	if err != nil {
		return "", err
	}
	if err := env.Publish("", doc); err != nil && !errors.Is(err, sandbox.ErrNoPublisher) {
		return "", err
	}
	env.Log().Debug("heartbeat", "time", now.DateTime())
	return "", nil
}
