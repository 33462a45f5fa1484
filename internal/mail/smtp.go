package mail

import (
	"context"
	"errors"
	"fmt"
	"time"

	gomail "github.com/wneessen/go-mail"
)

// DefaultSMTPPort is the submission port.
const DefaultSMTPPort = 587

// SMTP submits messages directly to a server with explicit credentials. It is
// the fallback transport.
type SMTP struct {
	Host     string
	Port     int
	From     string
	Username string
	Password string
	// Timeout bounds dial and every protocol step. Defaults to DefaultTimeout.
	Timeout time.Duration
}

func (s *SMTP) Name() string { return "smtp" }

// Check verifies the server and sender are set.
func (s *SMTP) Check() error {
	if s.Host == "" {
		return errors.New("smtp: server not configured")
	}
	if s.From == "" {
		return errors.New("smtp: from address not configured")
	}
	return nil
}

func (s *SMTP) port() int {
	if s.Port == 0 {
		return DefaultSMTPPort
	}
	return s.Port
}

func (s *SMTP) client() (*gomail.Client, error) {
	port := s.port()
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	opts := []gomail.Option{
		gomail.WithPort(port),
		gomail.WithTimeout(timeout),
	}
	if port == 465 {
		opts = append(opts, gomail.WithSSL())
	} else {
		opts = append(opts, gomail.WithTLSPolicy(gomail.TLSMandatory))
	}
	if s.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(s.Username),
			gomail.WithPassword(s.Password),
		)
	}
	return gomail.NewClient(s.Host, opts...)
}

// Send dials the server and submits msg. The configured From always wins:
// servers reject senders the credentials do not own.
func (s *SMTP) Send(ctx context.Context, msg Message) error {
	if err := s.Check(); err != nil {
		return err
	}
	m, err := build(msg, s.From)
	if err != nil {
		return err
	}
	c, err := s.client()
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	if err := c.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("smtp %s:%d: %w", s.Host, s.port(), err)
	}
	return nil
}
