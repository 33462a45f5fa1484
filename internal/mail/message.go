// Package mail builds report messages and delivers them through an ordered
// chain of transports.
package mail

import (
	"bytes"
	"fmt"
	"io"
	netmail "net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-git/go-billy/v5"
	gomail "github.com/wneessen/go-mail"
)

// Message is one outgoing report.
type Message struct {
	// From may be empty: each transport then uses its own sender.
	From    string
	To      string
	Subject string
	Body    string
	// Attachment is the artifact path, opened through FS.
	Attachment string
	// FS opens Attachment. Nil means the host filesystem.
	FS billy.Filesystem
}

// build assembles the MIME message with from as the sender.
func build(msg Message, from string) (*gomail.Msg, error) {
	m := gomail.NewMsg()
	if err := m.From(from); err != nil {
		return nil, fmt.Errorf("invalid sender %q: %w", from, err)
	}
	if err := m.To(msg.To); err != nil {
		return nil, fmt.Errorf("invalid recipient %q: %w", msg.To, err)
	}
	m.Subject(msg.Subject)
	m.SetDate()
	m.SetMessageID()
	m.SetBodyString(gomail.TypeTextPlain, msg.Body)

	if msg.Attachment != "" {
		data, err := readAttachment(msg)
		if err != nil {
			return nil, err
		}
		ctype := mimetype.Detect(data).String()
		if err := m.AttachReader(filepath.Base(msg.Attachment), bytes.NewReader(data),
			gomail.WithFileContentType(gomail.ContentType(ctype))); err != nil {
			return nil, fmt.Errorf("attach %s: %w", msg.Attachment, err)
		}
	}
	return m, nil
}

func readAttachment(msg Message) ([]byte, error) {
	if msg.FS == nil {
		data, err := os.ReadFile(msg.Attachment)
		if err != nil {
			return nil, fmt.Errorf("read attachment: %w", err)
		}
		return data, nil
	}
	f, err := msg.FS.Open(msg.Attachment)
	if err != nil {
		return nil, fmt.Errorf("open attachment: %w", err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read attachment: %w", err)
	}
	return data, nil
}

// Render writes msg as RFC 5322 text with from as the sender.
func Render(w io.Writer, msg Message, from string) error {
	m, err := build(msg, from)
	if err != nil {
		return err
	}
	if _, err := m.WriteTo(w); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// DefaultTimeout bounds one delivery attempt on any transport.
const DefaultTimeout = 60 * time.Second

// PlausibleAddress reports whether s is a bare address of the form
// local@domain.tld, without a display name.
func PlausibleAddress(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	addr, err := netmail.ParseAddress(s)
	if err != nil || addr.Name != "" || addr.Address != s {
		return false
	}
	_, domain, ok := strings.Cut(addr.Address, "@")
	return ok && strings.Contains(strings.Trim(domain, "."), ".")
}
