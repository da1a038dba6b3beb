package core

import "time"

// Job kinds.
const (
	KindCron         = "cron"
	KindSubscription = "subscription"
)

// Job lifecycle states.
const (
	StateRegistered   = "registered"
	StateScheduled    = "scheduled"
	StateFiring       = "firing"
	StateDisabled     = "disabled"
	StateSubscribed   = "subscribed"
	StateDelivering   = "delivering"
	StateUnsubscribed = "unsubscribed"
)

// JobStatus is a point-in-time view of one registered job.
type JobStatus struct {
	Name    string `json:"name"`
	Kind    string `json:"kind"`
	Spec    string `json:"spec"`
	Subject string `json:"subject,omitempty"`
	Source  string `json:"source,omitempty"`
	State   string `json:"state"`

	NextRun     *time.Time `json:"next_run,omitempty"`
	LastRun     *time.Time `json:"last_run,omitempty"`
	LastOutcome string     `json:"last_outcome,omitempty"`
	LastError   string     `json:"last_error,omitempty"`

	Runs     int64 `json:"runs"`
	Failures int64 `json:"failures"`
	// ScheduleFailures counts consecutive next-fire resolution failures.
	ScheduleFailures int `json:"schedule_failures,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Terminal reports whether the job will never run again.
func (s JobStatus) Terminal() bool {
	return s.State == StateDisabled || s.State == StateUnsubscribed
}
