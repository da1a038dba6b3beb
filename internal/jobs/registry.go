package jobs

import (
	"fmt"
	"sort"

	"github.com/openjobspec/ojs-jobrunner/internal/core"
	natsx "github.com/openjobspec/ojs-jobrunner/internal/nats"
	"github.com/openjobspec/ojs-jobrunner/internal/schedule"
)

// ResolvedCron is a validated cron job with its parsed schedule.
type ResolvedCron struct {
	CronJob
	Schedule schedule.Schedule
}

// ResolvedSubscription is a validated subscription job and the subject it
// listens on, fixed at registration.
type ResolvedSubscription struct {
	SubscriptionJob
	Subject string
}

// Registry is the validated, read-only set of jobs. Replace it as a whole
// rather than mutating it.
type Registry struct {
	prefix string
	crons  []ResolvedCron
	subs   []ResolvedSubscription
	byName map[string]int
}

// NewRegistry validates defs and resolves their schedules and subjects.
// It succeeds for every definition or fails without registering any.
func NewRegistry(defs []Definition, prefix string, resolver *schedule.Resolver) (*Registry, error) {
	if resolver == nil {
		resolver = schedule.NewResolver()
	}
	r := &Registry{prefix: prefix, byName: make(map[string]int)}
	subjects := make(map[string]string)

	for i, def := range defs {
		switch d := def.(type) {
		case *CronJob:
			if d == nil {
				return nil, core.NewInvalidJobError("", fmt.Sprintf("definition %d is nil", i))
			}
			if err := validate(d.Name, d.Spec, d.Handler == nil); err != nil {
				return nil, err
			}
			if _, dup := r.byName[key(core.KindCron, d.Name)]; dup {
				return nil, core.NewDuplicateNameError(core.KindCron, d.Name)
			}
			sched, err := resolver.Parse(d.Spec)
			if err != nil {
				if ce, ok := err.(*core.Error); ok {
					ce.Job = d.Name
					return nil, ce
				}
				return nil, core.NewInvalidCronSpecError(d.Name, d.Spec, err)
			}
			r.byName[key(core.KindCron, d.Name)] = len(r.crons)
			r.crons = append(r.crons, ResolvedCron{CronJob: *d, Schedule: sched})

		case *SubscriptionJob:
			if d == nil {
				return nil, core.NewInvalidJobError("", fmt.Sprintf("definition %d is nil", i))
			}
			if err := validate(d.Name, d.Spec, d.Handler == nil); err != nil {
				return nil, err
			}
			if _, dup := r.byName[key(core.KindSubscription, d.Name)]; dup {
				return nil, core.NewDuplicateNameError(core.KindSubscription, d.Name)
			}
			subject := natsx.ResolveSubject(prefix, d.Name, d.Spec)
			if err := natsx.ValidSubject(subject); err != nil {
				return nil, core.NewInvalidJobError(d.Name, err.Error())
			}
			if first, taken := subjects[subject]; taken {
				return nil, core.NewDuplicateSubjectError(subject, first, d.Name)
			}
			subjects[subject] = d.Name
			r.byName[key(core.KindSubscription, d.Name)] = len(r.subs)
			r.subs = append(r.subs, ResolvedSubscription{SubscriptionJob: *d, Subject: subject})

		default:
			return nil, core.NewInvalidJobError("", fmt.Sprintf("definition %d has unsupported type %T", i, def))
		}
	}
	return r, nil
}

func validate(name, spec string, nilHandler bool) error {
	switch {
	case name == "":
		return core.NewInvalidJobError(name, "name is required")
	case spec == "":
		return core.NewInvalidJobError(name, "spec is required")
	case nilHandler:
		return core.NewInvalidJobError(name, "handler is required")
	}
	return nil
}

func key(kind, name string) string { return kind + "/" + name }

// Prefix returns the global subject prefix the registry was built with.
func (r *Registry) Prefix() string { return r.prefix }

// Len returns the number of registered jobs.
func (r *Registry) Len() int { return len(r.crons) + len(r.subs) }

// CronJobs returns a copy of the cron jobs in registration order.
func (r *Registry) CronJobs() []ResolvedCron {
	out := make([]ResolvedCron, len(r.crons))
	copy(out, r.crons)
	return out
}

// Subscriptions returns a copy of the subscription jobs in registration order.
func (r *Registry) Subscriptions() []ResolvedSubscription {
	out := make([]ResolvedSubscription, len(r.subs))
	copy(out, r.subs)
	return out
}

// Cron looks up a cron job by name.
func (r *Registry) Cron(name string) (ResolvedCron, bool) {
	i, ok := r.byName[key(core.KindCron, name)]
	if !ok {
		return ResolvedCron{}, false
	}
	return r.crons[i], true
}

// Subscription looks up a subscription job by name.
func (r *Registry) Subscription(name string) (ResolvedSubscription, bool) {
	i, ok := r.byName[key(core.KindSubscription, name)]
	if !ok {
		return ResolvedSubscription{}, false
	}
	return r.subs[i], true
}

// Subjects returns the resolved subjects, sorted.
func (r *Registry) Subjects() []string {
	out := make([]string, 0, len(r.subs))
	for _, s := range r.subs {
		out = append(out, s.Subject)
	}
	sort.Strings(out)
	return out
}
