package server

import (
	"fmt"

	"github.com/openjobspec/ojs-jobrunner/internal/core"
	"github.com/openjobspec/ojs-jobrunner/internal/handlers"
	"github.com/openjobspec/ojs-jobrunner/internal/jobs"
	natsx "github.com/openjobspec/ojs-jobrunner/internal/nats"
	"github.com/openjobspec/ojs-jobrunner/internal/script"
)

// sourceConfig marks jobs bound in the config file.
const sourceConfig = "config"

// LoadJobs collects job definitions from the script file and the config
// bindings.
func LoadJobs(cfg *Config) ([]jobs.Definition, error) {
	var defs []jobs.Definition
	if cfg.Script != "" {
		prog, err := script.Load(cfg.Script)
		if err != nil {
			return nil, err
		}
		defs = append(defs, prog.Definitions()...)
	}

	for i, b := range cfg.Subscriptions {
		fn, ok := handlers.Subscription(b.Handler)
		if !ok {
			return nil, core.NewInvalidJobError(b.Name, fmt.Sprintf("subscriptions[%d]: unknown handler %q", i, b.Handler))
		}
		spec := b.Spec
		if spec == "" {
			spec = natsx.SubjectOverride
		}
		defs = append(defs, &jobs.SubscriptionJob{
			Name:    b.Name,
			Spec:    spec,
			Timeout: b.Timeout,
			Handler: fn,
			Source:  sourceConfig,
		})
	}
	for i, b := range cfg.Crons {
		fn, ok := handlers.Cron(b.Handler)
		if !ok {
			return nil, core.NewInvalidJobError(b.Name, fmt.Sprintf("crons[%d]: unknown handler %q", i, b.Handler))
		}
		defs = append(defs, &jobs.CronJob{
			Name:    b.Name,
			Spec:    b.Spec,
			Timeout: b.Timeout,
			Handler: fn,
			Source:  sourceConfig,
		})
	}
	return defs, nil
}
