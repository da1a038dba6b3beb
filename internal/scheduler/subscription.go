package scheduler

import (
	"context"

	"github.com/openjobspec/ojs-jobrunner/internal/batch"
	"github.com/openjobspec/ojs-jobrunner/internal/core"
	"github.com/openjobspec/ojs-jobrunner/internal/jobs"
	"github.com/openjobspec/ojs-jobrunner/internal/metrics"
	"github.com/openjobspec/ojs-jobrunner/internal/sandbox"
)

// runSubscription listens on the job's subject and invokes its handler
// once per coalesced batch, in delivery order.
func (d *Dispatcher) runSubscription(ctx context.Context, job jobs.ResolvedSubscription) {
	defer d.wg.Done()
	log := d.logger.With("job", job.Name, "kind", core.KindSubscription, "subject", job.Subject)

	src, unsubscribe, err := d.transport.Subscribe(job.Subject)
	if err != nil {
		log.Error("failed to subscribe", "error", err)
		d.update(core.KindSubscription, job.Name, func(st *core.JobStatus) {
			st.State = core.StateUnsubscribed
			st.LastError = err.Error()
		})
		return
	}
	defer func() {
		unsubscribe()
		d.update(core.KindSubscription, job.Name, func(st *core.JobStatus) { st.State = core.StateUnsubscribed })
		log.Info("unsubscribed")
	}()

	d.update(core.KindSubscription, job.Name, func(st *core.JobStatus) { st.State = core.StateSubscribed })
	log.Info("subscribed")

	received := metrics.Records.WithLabelValues(job.Name, "received")
	accepted := metrics.Records.WithLabelValues(job.Name, "accepted")
	co := &batch.Coalescer{
		Max:   d.maxBatch,
		Flush: d.flushInterval,
		OnMalformed: func(payload []byte, err error) {
			log.Debug("dropping delivery", "bytes", len(payload), "error", err)
		},
		OnDelivery: func(seen, kept int) {
			received.Add(float64(seen))
			accepted.Add(float64(kept))
		},
	}
	env := d.sandbox.Env(job.Name, job.Subject)

	for {
		records, ok := co.Next(ctx, src)
		if !ok {
			return
		}
		if records.Len() == 0 && !d.invokeEmpty {
			continue
		}
		chunks := batch.Chunk(records, d.maxBatch)
		if len(chunks) == 0 {
			chunks = []core.Batch{{}}
		}
		for _, chunk := range chunks {
			if err := d.pool.Acquire(d.invokeCtx, 1); err != nil {
				return
			}
			d.update(core.KindSubscription, job.Name, func(st *core.JobStatus) { st.State = core.StateDelivering })
			res := d.invokeSubscription(d.invokeCtx, job, env, chunk)

			d.finish(core.KindSubscription, job.Name, res, core.StateSubscribed)
			d.forward(job.Name, res)
		}
	}
}

func (d *Dispatcher) invokeSubscription(ctx context.Context, job jobs.ResolvedSubscription, env *sandbox.Env, records core.Batch) core.HandlerResult {
	handler := job.Handler
	res := d.sandbox.Invoke(ctx, sandbox.InvokeSpec{
		Job:     job.Name,
		Kind:    core.KindSubscription,
		Timeout: d.timeout(job.Timeout),
		Call: func(ctx context.Context) (string, error) {
			return handler(ctx, env, records)
		},
		Release: d.releaseSlot,
	})
	d.logResult(core.KindSubscription, res)
	return res
}
