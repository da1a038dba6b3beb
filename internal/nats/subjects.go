package nats

import (
	"fmt"
	"strings"
)

// SubjectOverride is the subscription spec that derives the subject from
// the global prefix and the job name.
const SubjectOverride = "+"

// BucketRuns is the default JetStream KV bucket for job run status.
const BucketRuns = "ojs-jobrunner-runs"

// ResolveSubject returns the subject a subscription job listens on.
// Example: ResolveSubject("logs.", "001", "+") == "logs.001"
// Example: ResolveSubject("logs.", "001", "test-001") == "test-001"
func ResolveSubject(prefix, name, spec string) string {
	if spec == SubjectOverride {
		return prefix + name
	}
	return spec
}

// ValidSubject reports whether s can be used as a NATS subject: non-empty,
// no whitespace, no empty tokens.
func ValidSubject(s string) error {
	if s == "" {
		return fmt.Errorf("subject is empty")
	}
	if strings.ContainsAny(s, " \t\r\n") {
		return fmt.Errorf("subject %q contains whitespace", s)
	}
	for _, tok := range strings.Split(s, ".") {
		if tok == "" {
			return fmt.Errorf("subject %q has an empty token", s)
		}
	}
	return nil
}
