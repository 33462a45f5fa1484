package store

import (
	"fmt"
	"strings"
)

// Status is the delivery state of one recipient.
type Status uint8

const (
	StatusPending Status = iota
	StatusSent
	StatusFailed
)

// Statuses lists every status in display order.
var Statuses = []Status{StatusPending, StatusSent, StatusFailed}

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSent:
		return "sent"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// ParseStatus parses the lower-case status name, ignoring case and
// surrounding space.
func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending":
		return StatusPending, nil
	case "sent":
		return StatusSent, nil
	case "failed":
		return StatusFailed, nil
	}
	return 0, fmt.Errorf("unknown status %q", s)
}

func (s Status) MarshalText() ([]byte, error) {
	switch s {
	case StatusPending, StatusSent, StatusFailed:
		return []byte(s.String()), nil
	}
	return nil, fmt.Errorf("invalid status %d", uint8(s))
}

func (s *Status) UnmarshalText(b []byte) error {
	parsed, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
