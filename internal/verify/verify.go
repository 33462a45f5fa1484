// Package verify cross-checks a rendered artifact against its source record.
//
// The renderer prints the pillar averages and the overall composite as
// labelled numbers. Validate extracts them from the artifact text, recomputes
// the expected values from the record and compares the two within a
// tolerance. The result is advisory: nothing here touches the artifact.
package verify

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/roach88/reportflow/internal/record"
)

// DefaultTolerance is the largest accepted |expected-actual|, inclusive.
const DefaultTolerance = 0.15

// epsilon absorbs binary rounding so that a printed difference equal to the
// tolerance still matches.
const epsilon = 1e-9

// Quantity identifies one compared value.
type Quantity int

const (
	UpstreamAvg Quantity = iota
	InternalAvg
	DownstreamAvg
	Overall
)

// Quantities lists the compared values in report order.
var Quantities = []Quantity{UpstreamAvg, InternalAvg, DownstreamAvg, Overall}

// Key is the stable identifier used in JSON output.
func (q Quantity) Key() string {
	switch q {
	case UpstreamAvg:
		return "up_avg"
	case InternalAvg:
		return "in_avg"
	case DownstreamAvg:
		return "do_avg"
	case Overall:
		return "overall_scres"
	}
	return "quantity(" + strconv.Itoa(int(q)) + ")"
}

// Label is the human-readable name.
func (q Quantity) Label() string {
	switch q {
	case UpstreamAvg:
		return "Upstream Average"
	case InternalAvg:
		return "Internal Average"
	case DownstreamAvg:
		return "Downstream Average"
	case Overall:
		return "Overall SCRES"
	}
	return q.Key()
}

func number(prefix string) *regexp.Regexp {
	return regexp.MustCompile(prefix + `(\d+(?:\.\d+)?)`)
}

// patterns holds the known label phrasings per quantity in priority order.
// The first phrasing that matches anywhere in the text wins.
var patterns = [][]*regexp.Regexp{
	UpstreamAvg: {
		number(`\bUP[:\s-]+[^\n]*?`),
		number(`(?i)Upstream\s+Resilience[^\d]*[μµ]=\s*`),
		number(`(?i)Upstream\s*\(avg:\s*`),
	},
	InternalAvg: {
		number(`\bIN[:\s-]+[^\n]*?`),
		number(`(?i)Internal\s+Resilience[^\d]*[μµ]=\s*`),
		number(`(?i)Internal\s*\(avg:\s*`),
	},
	DownstreamAvg: {
		number(`\bDO[:\s-]+[^\n]*?`),
		number(`(?i)Downstream\s+Resilience[^\d]*[μµ]=\s*`),
		number(`(?i)Downstream\s*\(avg:\s*`),
	},
	Overall: {
		number(`(?i)Overall\s+SCRES[:\s]*`),
	},
}

// Values are the four compared quantities, indexed by Quantity.
type Values [4]record.Avg

// ExtractValues finds the labelled values in text. Quantities without a
// matching phrasing stay undefined.
func ExtractValues(text string) Values {
	var v Values
	for _, q := range Quantities {
		for _, re := range patterns[q] {
			m := re.FindStringSubmatch(text)
			if m == nil {
				continue
			}
			if f, err := strconv.ParseFloat(m[1], 64); err == nil {
				v[q] = record.Defined(f)
				break
			}
		}
	}
	return v
}

// ExpectedValues recomputes the quantities from rec, rounded to the two
// decimals the renderer prints.
func ExpectedValues(rec record.Record) Values {
	agg := record.ComputeAggregates(rec)
	var v Values
	for _, p := range record.Pillars {
		v[p] = round2(agg.Pillar(p))
	}
	v[Overall] = round2(agg.Overall)
	return v
}

func round2(a record.Avg) record.Avg {
	if !a.Valid {
		return a
	}
	return record.Defined(math.Round(a.Value*100) / 100)
}

// Field is the comparison of one quantity.
type Field struct {
	Key      string     `json:"key"`
	Label    string     `json:"label"`
	Expected record.Avg `json:"expected"`
	Actual   record.Avg `json:"actual"`
	Diff     float64    `json:"diff,omitempty"`
	Matches  bool       `json:"matches"`
	Note     string     `json:"note,omitempty"`
}

// Report is the outcome of a validation.
type Report struct {
	Success bool    `json:"success"`
	Fields  []Field `json:"fields"`
	Message string  `json:"message"`
}

// Mismatches returns the fields that did not match.
func (r Report) Mismatches() []Field {
	var out []Field
	for _, f := range r.Fields {
		if !f.Matches {
			out = append(out, f)
		}
	}
	return out
}

// String renders the report one field per line.
func (r Report) String() string {
	var b strings.Builder
	verdict := "PASSED"
	if !r.Success {
		verdict = "FAILED"
	}
	fmt.Fprintf(&b, "Validation %s: %s\n", verdict, r.Message)
	for _, f := range r.Fields {
		mark := "ok"
		if !f.Matches {
			mark = "MISMATCH"
		}
		fmt.Fprintf(&b, "  %-20s expected=%-5s actual=%-5s %s\n", f.Label, f.Expected, f.Actual, mark)
	}
	return b.String()
}

// Compare checks actual against expected. Both absent is a match, exactly
// one absent is a mismatch, otherwise the values match iff their difference
// is at most tolerance.
func Compare(expected, actual Values, tolerance float64) Report {
	report := Report{Success: true}
	var problems []string
	for _, q := range Quantities {
		exp, act := expected[q], actual[q]
		f := Field{Key: q.Key(), Label: q.Label(), Expected: exp, Actual: act}
		switch {
		case !exp.Valid && !act.Valid:
			f.Matches = true
			f.Note = "both values are N/A"
		case exp.Valid != act.Valid:
			f.Note = "missing value"
			problems = append(problems, fmt.Sprintf("%s: missing value (expected=%s, actual=%s)", f.Label, exp, act))
		default:
			f.Diff = math.Abs(exp.Value - act.Value)
			f.Matches = f.Diff <= tolerance+epsilon
			if !f.Matches {
				problems = append(problems, fmt.Sprintf("%s: expected=%.2f, actual=%.2f, diff=%.2f", f.Label, exp.Value, act.Value, f.Diff))
			}
		}
		if !f.Matches {
			report.Success = false
		}
		report.Fields = append(report.Fields, f)
	}
	if report.Success {
		report.Message = "All values match source data"
	} else {
		report.Message = fmt.Sprintf("%d mismatch(es) found: %s", len(problems), strings.Join(problems, "; "))
	}
	return report
}

// Validator checks artifacts against source records.
type Validator struct {
	Tolerance float64
	// Extract defaults to ExtractText.
	Extract func(path string) (string, error)
}

// New returns a Validator with the given tolerance; zero or negative means
// DefaultTolerance.
func New(tolerance float64) *Validator {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Validator{Tolerance: tolerance, Extract: ExtractText}
}

// Validate extracts the artifact's values and compares them with the values
// expected from rec. An error means the artifact text could not be read; the
// returned report then carries the reason in Message.
func (v *Validator) Validate(artifactPath string, rec record.Record) (Report, error) {
	extract := v.Extract
	if extract == nil {
		extract = ExtractText
	}
	tolerance := v.Tolerance
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	text, err := extract(artifactPath)
	if err != nil {
		return Report{Message: "could not extract text from artifact"}, fmt.Errorf("validate %s: %w", artifactPath, err)
	}
	return Compare(ExpectedValues(rec), ExtractValues(text), tolerance), nil
}
