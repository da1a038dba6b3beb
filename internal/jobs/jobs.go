// Package jobs defines cron and subscription job definitions and the
// immutable registry built from them.
package jobs

import (
	"context"
	"time"

	"github.com/openjobspec/ojs-jobrunner/internal/core"
	"github.com/openjobspec/ojs-jobrunner/internal/sandbox"
)

// CronFunc is a handler fired on a schedule. A non-empty result is sent to
// the output sink.
type CronFunc func(ctx context.Context, env *sandbox.Env) (string, error)

// SubscriptionFunc transforms one batch of records into output.
type SubscriptionFunc func(ctx context.Context, env *sandbox.Env, records core.Batch) (string, error)

// Definition is either a *CronJob or a *SubscriptionJob.
type Definition interface {
	Kind() string
	JobName() string
}

// CronJob fires Handler whenever Spec matches.
type CronJob struct {
	Name string
	Spec string
	// Timeout overrides the sandbox budget when positive.
	Timeout time.Duration
	Handler CronFunc
	// Source names where the job was defined (script path, config, builtin).
	Source string
}

// Kind returns core.KindCron.
func (j *CronJob) Kind() string { return core.KindCron }

// JobName returns the job name.
func (j *CronJob) JobName() string { return j.Name }

// SubscriptionJob runs Handler on batches delivered to its subject. Spec is
// either "+" (derive the subject from the global prefix and Name) or a
// literal subject.
type SubscriptionJob struct {
	Name    string
	Spec    string
	Timeout time.Duration
	Handler SubscriptionFunc
	Source  string
}

// Kind returns core.KindSubscription.
func (j *SubscriptionJob) Kind() string { return core.KindSubscription }

// JobName returns the job name.
func (j *SubscriptionJob) JobName() string { return j.Name }
