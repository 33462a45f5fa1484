package batch

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/roach88/reportflow/internal/identity"
	"github.com/roach88/reportflow/internal/verify"
)

// ItemStatus is the outcome of one record.
type ItemStatus string

const (
	ItemGenerated ItemStatus = "generated"
	ItemReused    ItemStatus = "reused"
	ItemFailed    ItemStatus = "failed"
	ItemSkipped   ItemStatus = "skipped"
	ItemCancelled ItemStatus = "cancelled"
)

// Item is the outcome of one record.
type Item struct {
	Row      int           `json:"row"`
	Key      identity.Key  `json:"key"`
	Status   ItemStatus    `json:"status"`
	Reason   string        `json:"reason,omitempty"`
	Artifact string        `json:"artifact,omitempty"`
	Warning  string        `json:"warning,omitempty"`
	Duration time.Duration `json:"duration_ns,omitempty"`
	// Tail holds the last renderer output lines of a failed render.
	Tail       []string       `json:"tail,omitempty"`
	Validation *verify.Report `json:"validation,omitempty"`
}

// Summary reports a batch run.
type Summary struct {
	RunID     string `json:"run_id"`
	Total     int    `json:"total"`
	Processed int    `json:"processed"`
	Generated int    `json:"generated"`
	Reused    int    `json:"reused"`
	Failed    int    `json:"failed"`
	Skipped   int    `json:"skipped"`
	Cancelled bool   `json:"cancelled"`
	Items     []Item `json:"items"`
}

func (s *Summary) add(item Item) {
	s.Processed++
	switch item.Status {
	case ItemGenerated:
		s.Generated++
	case ItemReused:
		s.Reused++
	case ItemFailed:
		s.Failed++
	case ItemSkipped:
		s.Skipped++
	}
	s.Items = append(s.Items, item)
}

// Complete reports whether every record was processed. A cancelled run is
// never complete, even when cancellation was requested gracefully.
func (s Summary) Complete() bool {
	return s.Processed == s.Total
}

// String renders the summary for the terminal.
func (s Summary) String() string {
	var b strings.Builder
	if s.Complete() {
		b.WriteString("Batch COMPLETE\n")
	} else {
		fmt.Fprintf(&b, "Batch INCOMPLETE: stopped after %d of %d records", s.Processed, s.Total)
		if s.Cancelled {
			b.WriteString(" (cancelled)")
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "  generated: %d  reused: %d  failed: %d  skipped: %d\n",
		s.Generated, s.Reused, s.Failed, s.Skipped)
	for _, it := range s.Items {
		b.WriteString(it.String())
	}
	return b.String()
}

// String renders the item as one or two terminal lines.
func (it Item) String() string {
	var b strings.Builder
	switch it.Status {
	case ItemGenerated:
		fmt.Fprintf(&b, "  [OK]     row %d %s: %s\n", it.Row, it.Key, filepath.Base(it.Artifact))
	case ItemReused:
		fmt.Fprintf(&b, "  [EXISTS] row %d %s: %s\n", it.Row, it.Key, filepath.Base(it.Artifact))
	case ItemFailed:
		fmt.Fprintf(&b, "  [FAIL]   row %d %s: %s\n", it.Row, it.Key, it.Reason)
	case ItemSkipped:
		fmt.Fprintf(&b, "  [SKIP]   row %d %s: %s\n", it.Row, it.Key, it.Reason)
	case ItemCancelled:
		fmt.Fprintf(&b, "  [STOP]   row %d %s: %s\n", it.Row, it.Key, it.Reason)
	}
	if it.Warning != "" {
		fmt.Fprintf(&b, "  [WARN]   row %d %s: %s\n", it.Row, it.Key, it.Warning)
	}
	return b.String()
}
