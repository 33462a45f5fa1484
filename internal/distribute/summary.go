package distribute

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/reportflow/internal/identity"
	"github.com/roach88/reportflow/internal/store"
)

// Outcome is the result of one delivery attempt.
type Outcome struct {
	Key       identity.Key `json:"key"`
	Artifact  string       `json:"artifact"`
	Email     string       `json:"email"`
	Recipient string       `json:"recipient,omitempty"`
	Status    store.Status `json:"status"`
	Transport string       `json:"transport,omitempty"`
	Error     string       `json:"error,omitempty"`
}

// Summary reports a distribution run.
type Summary struct {
	RunID    string `json:"run_id"`
	TestMode bool   `json:"test_mode"`
	// Total is the number of pending recipients when the run started.
	Total     int `json:"total"`
	Processed int `json:"processed"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
	// Skipped counts artifacts whose recipient was already sent.
	Skipped   int       `json:"skipped"`
	Cancelled bool      `json:"cancelled"`
	Warnings  []string  `json:"warnings,omitempty"`
	Outcomes  []Outcome `json:"outcomes"`
}

func (s *Summary) add(o Outcome) {
	s.Processed++
	switch o.Status {
	case store.StatusSent:
		s.Sent++
	case store.StatusFailed:
		s.Failed++
	}
	s.Outcomes = append(s.Outcomes, o)
}

// Complete reports whether every pending recipient was attempted.
func (s Summary) Complete() bool {
	return s.Processed == s.Total
}

// Transports counts successful deliveries per transport.
func (s Summary) Transports() map[string]int {
	counts := map[string]int{}
	for _, o := range s.Outcomes {
		if o.Status == store.StatusSent {
			counts[o.Transport]++
		}
	}
	return counts
}

// String renders the summary for the terminal.
func (s Summary) String() string {
	var b strings.Builder
	mode := "LIVE"
	if s.TestMode {
		mode = "TEST"
	}
	state := "COMPLETE"
	if !s.Complete() {
		state = fmt.Sprintf("INCOMPLETE (%d of %d processed)", s.Processed, s.Total)
		if s.Cancelled {
			state += ", cancelled"
		}
	}
	fmt.Fprintf(&b, "Distribution %s [%s mode]\n", state, mode)
	fmt.Fprintf(&b, "  sent: %d  failed: %d  already sent: %d\n", s.Sent, s.Failed, s.Skipped)

	transports := s.Transports()
	names := make([]string, 0, len(transports))
	for name := range transports {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&b, "  via %s: %d\n", name, transports[name])
	}

	for _, o := range s.Outcomes {
		switch o.Status {
		case store.StatusSent:
			fmt.Fprintf(&b, "  [SENT] %s -> %s\n", o.Key, o.Recipient)
		default:
			fmt.Fprintf(&b, "  [FAIL] %s: %s\n", o.Key, o.Error)
		}
	}
	for _, w := range s.Warnings {
		fmt.Fprintf(&b, "  [WARN] %s\n", w)
	}
	return b.String()
}
