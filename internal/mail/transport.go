package mail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Transport delivers messages.
type Transport interface {
	// Name identifies the transport in logs and summaries.
	Name() string
	// Check reports why the transport cannot be used, or nil when it is
	// configured. It does not contact any server.
	Check() error
	Send(ctx context.Context, msg Message) error
}

// ErrNoTransport is returned when no transport in a chain is configured.
var ErrNoTransport = errors.New("no mail transport configured")

// Chain tries transports in order until one succeeds.
type Chain struct {
	transports []Transport
	logger     *slog.Logger
}

// NewChain builds a chain over transports in priority order.
func NewChain(logger *slog.Logger, transports ...Transport) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{transports: transports, logger: logger}
}

// All returns every transport in the chain, configured or not.
func (c *Chain) All() []Transport {
	return append([]Transport(nil), c.transports...)
}

// Available returns the configured transports, in order.
func (c *Chain) Available() []Transport {
	var out []Transport
	for _, t := range c.transports {
		if err := t.Check(); err != nil {
			c.logger.Debug("transport unavailable", "transport", t.Name(), "reason", err)
			continue
		}
		out = append(out, t)
	}
	return out
}

// Check returns ErrNoTransport when no transport is configured.
func (c *Chain) Check() error {
	if len(c.Available()) == 0 {
		return ErrNoTransport
	}
	return nil
}

// Send delivers msg through the first transport that accepts it and returns
// that transport's name. Each failure falls through to the next transport;
// when all fail the errors are joined.
func (c *Chain) Send(ctx context.Context, msg Message) (string, error) {
	available := c.Available()
	if len(available) == 0 {
		return "", ErrNoTransport
	}
	var errs []error
	for _, t := range available {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		err := t.Send(ctx, msg)
		if err == nil {
			return t.Name(), nil
		}
		c.logger.Warn("transport failed", "transport", t.Name(), "to", msg.To, "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", t.Name(), err))
	}
	return "", errors.Join(errs...)
}
