package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/roach88/reportflow/internal/mail"
)

// ErrRejected is the delivery error used by RecordingTransport.
var ErrRejected = errors.New("recipient rejected")

// RecordingTransport is a mail.Transport that keeps every message it is asked
// to send.
type RecordingTransport struct {
	// TransportName defaults to "recording".
	TransportName string
	// CheckErr is returned by Check.
	CheckErr error
	// FailAll makes every Send fail.
	FailAll bool
	// FailFor lists recipients whose delivery fails.
	FailFor map[string]bool
	// OnSend runs during each delivery, after the message is recorded.
	OnSend func(mail.Message)

	mu       sync.Mutex
	attempts []mail.Message
	sent     []mail.Message
}

func (r *RecordingTransport) Name() string {
	if r.TransportName == "" {
		return "recording"
	}
	return r.TransportName
}

func (r *RecordingTransport) Check() error { return r.CheckErr }

func (r *RecordingTransport) Send(ctx context.Context, msg mail.Message) error {
	r.mu.Lock()
	r.attempts = append(r.attempts, msg)
	r.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.OnSend != nil {
		r.OnSend(msg)
	}
	if r.FailAll || r.FailFor[msg.To] {
		return ErrRejected
	}
	r.mu.Lock()
	r.sent = append(r.sent, msg)
	r.mu.Unlock()
	return nil
}

// Attempts returns every message passed to Send.
func (r *RecordingTransport) Attempts() []mail.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]mail.Message(nil), r.attempts...)
}

// Sent returns the messages that were delivered.
func (r *RecordingTransport) Sent() []mail.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]mail.Message(nil), r.sent...)
}
