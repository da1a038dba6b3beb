// Package sink applies generated statements to their destination.
package sink

import (
	"context"
	"log/slog"
	"strings"
	"sync"
)

// Sink receives non-empty, ';'-terminated statements. Implementations must
// be safe for concurrent use or be wrapped in Serial.
type Sink interface {
	Apply(ctx context.Context, statement string) error
}

// Terminate trims s and makes sure it ends with ';'. Blank input yields "".
func Terminate(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if !strings.HasSuffix(s, ";") {
		s += ";"
	}
	return s
}

// Func adapts a function to Sink.
type Func func(ctx context.Context, statement string) error

// Apply calls f.
func (f Func) Apply(ctx context.Context, statement string) error { return f(ctx, statement) }

// Log is a dry-run sink that only logs statements.
type Log struct {
	Logger *slog.Logger

	mu    sync.Mutex
	count int
}

// Apply logs the statement.
func (l *Log) Apply(_ context.Context, statement string) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	l.mu.Lock()
	l.count++
	n := l.count
	l.mu.Unlock()
	logger.Info("statement", "seq", n, "sql", statement)
	return nil
}

// Count returns the number of statements seen.
func (l *Log) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}
