package nats

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"
)

// Broker delivers raw subject payloads to subscription drivers over NATS
// core pub/sub.
type Broker struct {
	nc     *nats.Conn
	logger *slog.Logger

	// pending limits applied to every subscription; zero keeps the client default
	msgLimit   int
	bytesLimit int

	mu     sync.Mutex
	subs   map[*nats.Subscription]func()
	closed bool
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithPendingLimits caps the messages and bytes buffered per subscription.
func WithPendingLimits(msgs, bytes int) BrokerOption {
	return func(b *Broker) {
		b.msgLimit = msgs
		b.bytesLimit = bytes
	}
}

// WithBrokerLogger sets the logger.
func WithBrokerLogger(l *slog.Logger) BrokerOption {
	return func(b *Broker) { b.logger = l }
}

// NewBroker creates a Broker on the given connection.
func NewBroker(nc *nats.Conn, opts ...BrokerOption) *Broker {
	b := &Broker{
		nc:   nc,
		subs: make(map[*nats.Subscription]func()),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	return b
}

// Publish sends data to subject.
func (b *Broker) Publish(subject string, data []byte) error {
	if err := b.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}

// Subscribe returns a channel of payloads in arrival order. Delivery blocks
// the NATS dispatcher rather than dropping messages; the client's pending
// limits bound what piles up behind a slow consumer. The returned function
// unsubscribes and closes the channel.
func (b *Broker) Subscribe(subject string) (<-chan []byte, func(), error) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return nil, nil, fmt.Errorf("subscribe to %s: broker closed", subject)
	}

	var (
		ch   = make(chan []byte, 64)
		stop = make(chan struct{})
		// guards ch against a send racing its close
		chMu     sync.RWMutex
		chClosed bool
	)

	sub, err := b.nc.Subscribe(subject, func(msg *nats.Msg) {
		chMu.RLock()
		defer chMu.RUnlock()
		if chClosed {
			return
		}
		select {
		case ch <- msg.Data:
		case <-stop:
		}
	})
	if err != nil {
		close(ch)
		return nil, nil, fmt.Errorf("subscribe to %s: %w", subject, err)
	}
	if b.msgLimit > 0 || b.bytesLimit > 0 {
		msgs, bytes := b.msgLimit, b.bytesLimit
		if msgs <= 0 {
			msgs = nats.DefaultSubPendingMsgsLimit
		}
		if bytes <= 0 {
			bytes = nats.DefaultSubPendingBytesLimit
		}
		if err := sub.SetPendingLimits(msgs, bytes); err != nil {
			b.logger.Warn("failed to set pending limits", "subject", subject, "error", err)
		}
	}

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			_ = sub.Unsubscribe()
			close(stop)
			chMu.Lock()
			chClosed = true
			close(ch)
			chMu.Unlock()

			b.mu.Lock()
			delete(b.subs, sub)
			b.mu.Unlock()
			b.logger.Info("unsubscribed", "subject", subject)
		})
	}

	b.mu.Lock()
	b.subs[sub] = unsubscribe
	b.mu.Unlock()

	b.logger.Info("subscribed", "subject", subject)
	return ch, unsubscribe, nil
}

// Close unsubscribes everything still open and closes their channels.
func (b *Broker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	unsubs := make([]func(), 0, len(b.subs))
	for _, fn := range b.subs {
		unsubs = append(unsubs, fn)
	}
	b.mu.Unlock()

	for _, fn := range unsubs {
		fn()
	}
	return nil
}
