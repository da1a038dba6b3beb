package scheduler

import (
	"context"
	"time"

	"github.com/openjobspec/ojs-jobrunner/internal/core"
	"github.com/openjobspec/ojs-jobrunner/internal/jobs"
	"github.com/openjobspec/ojs-jobrunner/internal/sandbox"
)

// cronSubject is the default subject a cron handler publishes to.
func cronSubject(prefix, name string) string { return prefix + name }

// runCron fires job at every match of its schedule until ctx is done. A
// failed or timed-out invocation never stops the timer. Consecutive
// failures to resolve the next fire time disable the job.
func (d *Dispatcher) runCron(ctx context.Context, prefix string, job jobs.ResolvedCron) {
	defer d.wg.Done()
	log := d.logger.With("job", job.Name, "kind", core.KindCron)
	env := d.sandbox.Env(job.Name, cronSubject(prefix, job.Name))

	for {
		now := d.now()
		next, err := job.Schedule.Next(now)
		if err != nil {
			failures := 0
			d.update(core.KindCron, job.Name, func(st *core.JobStatus) {
				st.ScheduleFailures++
				st.NextRun = nil
				st.LastError = err.Error()
				failures = st.ScheduleFailures
				if failures >= d.disableAfter {
					st.State = core.StateDisabled
				}
			})
			if failures >= d.disableAfter {
				log.Error("cron job disabled", "spec", job.Spec, "failures", failures, "error", err)
				return
			}
			log.Warn("failed to resolve next fire time", "spec", job.Spec, "failures", failures, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-d.after(d.retryDelay):
			}
			continue
		}

		d.update(core.KindCron, job.Name, func(st *core.JobStatus) {
			st.ScheduleFailures = 0
			st.NextRun = &next
			st.State = core.StateScheduled
		})
		log.Debug("next fire scheduled", "at", next.Format(time.RFC3339))

		select {
		case <-ctx.Done():
			return
		case <-d.after(next.Sub(now)):
		}

		if err := d.pool.Acquire(ctx, 1); err != nil {
			return
		}
		d.update(core.KindCron, job.Name, func(st *core.JobStatus) { st.State = core.StateFiring })
		res := d.invokeCron(d.invokeCtx, job, env)

		d.finish(core.KindCron, job.Name, res, core.StateScheduled)
		d.forward(job.Name, res)
	}
}

func (d *Dispatcher) invokeCron(ctx context.Context, job jobs.ResolvedCron, env *sandbox.Env) core.HandlerResult {
	handler := job.Handler
	res := d.sandbox.Invoke(ctx, sandbox.InvokeSpec{
		Job:     job.Name,
		Kind:    core.KindCron,
		Timeout: d.timeout(job.Timeout),
		Call: func(ctx context.Context) (string, error) {
			return handler(ctx, env)
		},
		Release: d.releaseSlot,
	})
	d.logResult(core.KindCron, res)
	return res
}
