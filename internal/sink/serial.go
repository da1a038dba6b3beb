package sink

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Serial.Apply after Close.
var ErrClosed = errors.New("sink: closed")

type request struct {
	ctx   context.Context
	stmt  string
	reply chan error
}

// Serial funnels statements through a single goroutine so the inner sink
// never sees concurrent calls. Statements are applied in submission order.
type Serial struct {
	inner Sink
	queue chan request

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewSerial starts the writer goroutine. depth bounds the queue.
func NewSerial(inner Sink, depth int) *Serial {
	if depth < 1 {
		depth = 1
	}
	s := &Serial{
		inner: inner,
		queue: make(chan request, depth),
		done:  make(chan struct{}),
	}
	go s.loop()
	return s
}

func (s *Serial) loop() {
	defer close(s.done)
	for req := range s.queue {
		if err := req.ctx.Err(); err != nil {
			req.reply <- err
			continue
		}
		req.reply <- s.inner.Apply(req.ctx, req.stmt)
	}
}

// Apply enqueues the statement and waits for its result.
func (s *Serial) Apply(ctx context.Context, statement string) error {
	req := request{ctx: ctx, stmt: statement, reply: make(chan error, 1)}

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrClosed
	}
	select {
	case s.queue <- req:
		s.mu.RUnlock()
	case <-ctx.Done():
		s.mu.RUnlock()
		return ctx.Err()
	}

	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting statements and waits for queued ones to finish.
func (s *Serial) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()
	<-s.done
	return nil
}
