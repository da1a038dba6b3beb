package nats

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Options holds the connection settings for the NATS server.
type Options struct {
	Name  string
	URL   string
	Token string
	// Cred is a user credentials (.creds) file.
	Cred string
	// Cert and Key select a client TLS certificate. Cert also serves as
	// the root CA for self-signed servers.
	Cert string
	Key  string

	ReconnectWait time.Duration
}

// Connect dials NATS and keeps reconnecting forever on disconnect.
func Connect(opts Options, logger *slog.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	url := opts.URL
	if url == "" {
		url = nats.DefaultURL
	}
	wait := opts.ReconnectWait
	if wait <= 0 {
		wait = 2 * time.Second
	}

	nopts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(wait),
		nats.PingInterval(time.Minute),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			logger.Info("nats connection closed")
		}),
	}
	if opts.Name != "" {
		nopts = append(nopts, nats.Name(opts.Name))
	}
	if opts.Cred != "" {
		nopts = append(nopts, nats.UserCredentials(opts.Cred))
	}
	if opts.Token != "" {
		nopts = append(nopts, nats.Token(opts.Token))
	}
	if opts.Cert != "" && opts.Key != "" {
		nopts = append(nopts, nats.ClientCert(opts.Cert, opts.Key))
	}
	if opts.Cert != "" {
		nopts = append(nopts, nats.RootCAs(opts.Cert))
	}

	nc, err := nats.Connect(url, nopts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}
	return nc, nil
}
