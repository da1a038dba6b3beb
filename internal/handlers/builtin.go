package handlers

import (
	"sort"

	"github.com/openjobspec/ojs-jobrunner/internal/jobs"
)

var (
	subscriptionHandlers = map[string]jobs.SubscriptionFunc{
		"logtest": LogTest,
	}
	cronHandlers = map[string]jobs.CronFunc{
		"heartbeat": Heartbeat,
	}
)

// Subscription returns the built-in subscription handler with the given name.
func Subscription(name string) (jobs.SubscriptionFunc, bool) {
	fn, ok := subscriptionHandlers[name]
	return fn, ok
}

// Cron returns the built-in cron handler with the given name.
func Cron(name string) (jobs.CronFunc, bool) {
	fn, ok := cronHandlers[name]
	return fn, ok
}

// Names lists the built-in handlers by kind.
func Names() map[string][]string {
	out := map[string][]string{}
	for name := range subscriptionHandlers {
		out["subscription"] = append(out["subscription"], name)
	}
	for name := range cronHandlers {
		out["cron"] = append(out["cron"], name)
	}
	for _, names := range out {
		sort.Strings(names)
	}
	return out
}
