// Package schedule resolves cron expressions into fire times.
package schedule

import (
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/openjobspec/ojs-jobrunner/internal/core"
)

// parser supports standard 5-field cron plus descriptors like "@hourly" and
// "@every 30s", and the CRON_TZ= prefix.
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

var errUnreachable = errors.New("expression never fires")

// Schedule computes successive fire times for one expression.
type Schedule interface {
	Next(after time.Time) (time.Time, error)
}

type cronSchedule struct {
	spec  string
	sched cron.Schedule
}

// Next returns the first fire time strictly after the given time.
// robfig returns the zero time when nothing matches within five years.
func (s *cronSchedule) Next(after time.Time) (time.Time, error) {
	next := s.sched.Next(after)
	if next.IsZero() {
		return time.Time{}, core.NewInvalidCronSpecError("", s.spec, errUnreachable)
	}
	if !next.After(after) {
		// Guard for descriptor schedules that round to the same instant.
		next = s.sched.Next(after.Add(time.Second))
		if next.IsZero() || !next.After(after) {
			return time.Time{}, core.NewInvalidCronSpecError("", s.spec, errUnreachable)
		}
	}
	return next, nil
}

// Resolver parses expressions and caches the results.
type Resolver struct {
	mu     sync.RWMutex
	parsed map[string]Schedule
}

// NewResolver returns an empty Resolver.
func NewResolver() *Resolver {
	return &Resolver{parsed: make(map[string]Schedule)}
}

// Parse returns the schedule for spec or an invalid_cron_spec error.
func (r *Resolver) Parse(spec string) (Schedule, error) {
	r.mu.RLock()
	s, ok := r.parsed[spec]
	r.mu.RUnlock()
	if ok {
		return s, nil
	}

	sched, err := parser.Parse(spec)
	if err != nil {
		return nil, core.NewInvalidCronSpecError("", spec, err)
	}
	s = &cronSchedule{spec: spec, sched: sched}

	r.mu.Lock()
	r.parsed[spec] = s
	r.mu.Unlock()
	return s, nil
}

// NextFireTime returns the next fire time of spec strictly after the given time.
func (r *Resolver) NextFireTime(spec string, after time.Time) (time.Time, error) {
	s, err := r.Parse(spec)
	if err != nil {
		return time.Time{}, err
	}
	return s.Next(after)
}

var defaultResolver = NewResolver()

// Parse parses spec with the package-level resolver.
func Parse(spec string) (Schedule, error) {
	return defaultResolver.Parse(spec)
}

// NextFireTime resolves spec with the package-level resolver.
func NextFireTime(spec string, after time.Time) (time.Time, error) {
	return defaultResolver.NextFireTime(spec, after)
}
