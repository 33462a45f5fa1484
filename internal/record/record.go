// Package record models one row of the source dataset: identity fields, the
// fifteen pillar sub-scores and the optional "already sent" flag.
//
// Records are read-only to the rest of the system. The package also holds the
// pure functions derived from a record: eligibility and aggregate scores.
package record

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/roach88/reportflow/internal/identity"
)

// Pillar is one of the three scoring domains.
type Pillar int

const (
	Upstream Pillar = iota
	Internal
	Downstream
)

// Pillars lists the pillars in column order.
var Pillars = []Pillar{Upstream, Internal, Downstream}

// Dimensions are the per-pillar sub-score suffixes, in column order.
var Dimensions = []string{"r", "c", "f", "v", "a"}

// SubScoreCount is the number of sub-score columns (3 pillars x 5 dimensions).
const SubScoreCount = 15

// Prefix returns the column prefix of the pillar ("up", "in", "do").
func (p Pillar) Prefix() string {
	switch p {
	case Upstream:
		return "up"
	case Internal:
		return "in"
	case Downstream:
		return "do"
	default:
		return fmt.Sprintf("pillar(%d)", int(p))
	}
}

func (p Pillar) String() string {
	switch p {
	case Upstream:
		return "upstream"
	case Internal:
		return "internal"
	case Downstream:
		return "downstream"
	default:
		return fmt.Sprintf("pillar(%d)", int(p))
	}
}

// ScoreColumns returns the fifteen sub-score column names in record order:
// up__r, up__c, ..., do__a.
func ScoreColumns() []string {
	cols := make([]string, 0, SubScoreCount)
	for _, p := range Pillars {
		for _, d := range Dimensions {
			cols = append(cols, p.Prefix()+"__"+d)
		}
	}
	return cols
}

// Record is one source row.
type Record struct {
	// Row is the 1-based data row number in the source file (header excluded).
	Row     int
	Company string
	Person  string
	Email   string
	// Scores holds the raw sub-score cells in ScoreColumns order.
	// Absent cells are empty strings.
	Scores [SubScoreCount]string
	// ReportSent is the externally supplied "already sent" flag.
	ReportSent bool
}

// Key returns the record's identity key.
func (r Record) Key() identity.Key {
	return identity.NewKey(r.Company, r.Person)
}

// Score returns the raw cell for pillar p, dimension index i (0..4).
func (r Record) Score(p Pillar, i int) string {
	return r.Scores[int(p)*len(Dimensions)+i]
}

// SetScore stores a raw cell for pillar p, dimension index i.
func (r *Record) SetScore(p Pillar, i int, raw string) {
	r.Scores[int(p)*len(Dimensions)+i] = raw
}

// ParseScore parses a raw sub-score cell. Placeholder tokens ("?", blank) and
// unparsable values report ok=false. Decimal commas are accepted.
func ParseScore(raw string) (float64, bool) {
	s := strings.TrimSpace(raw)
	if s == "" || s == "?" {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// ValidScore reports whether raw parses and lies within [0,5].
func ValidScore(raw string) bool {
	v, ok := ParseScore(raw)
	return ok && v >= 0 && v <= 5
}

// ValidScoreCount counts the record's sub-scores accepted by ValidScore.
func (r Record) ValidScoreCount() int {
	n := 0
	for _, raw := range r.Scores {
		if ValidScore(raw) {
			n++
		}
	}
	return n
}

// Index resolves identity keys to records. When two records share a key the
// later one wins.
type Index map[identity.Key]Record

// NewIndex builds an Index over records in source order.
func NewIndex(records []Record) Index {
	idx := make(Index, len(records))
	for _, r := range records {
		if strings.TrimSpace(r.Company) == "" || strings.TrimSpace(r.Person) == "" {
			continue
		}
		idx[r.Key()] = r
	}
	return idx
}

// Lookup returns the record for key.
func (idx Index) Lookup(key identity.Key) (Record, bool) {
	r, ok := idx[key]
	return r, ok
}
