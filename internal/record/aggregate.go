package record

import (
	"encoding/json"
	"fmt"
)

// Avg is an average that may be undefined (no contributing values).
type Avg struct {
	Value float64
	Valid bool
}

// Defined returns a valid Avg.
func Defined(v float64) Avg { return Avg{Value: v, Valid: true} }

// String formats the average with two decimals, or "N/A".
func (a Avg) String() string {
	if !a.Valid {
		return "N/A"
	}
	return fmt.Sprintf("%.2f", a.Value)
}

// MarshalJSON encodes an undefined average as null.
func (a Avg) MarshalJSON() ([]byte, error) {
	if !a.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(a.Value)
}

// Aggregates are the values a rendered artifact is expected to show.
type Aggregates struct {
	Pillars [3]Avg
	Overall Avg
}

// Pillar returns the average of pillar p.
func (a Aggregates) Pillar(p Pillar) Avg {
	return a.Pillars[p]
}

// ComputeAggregates derives pillar averages (mean of the pillar's parseable
// sub-scores) and the overall composite (mean of the defined pillar averages).
func ComputeAggregates(r Record) Aggregates {
	var agg Aggregates
	var sum float64
	var defined int
	for _, p := range Pillars {
		avg := pillarAverage(r, p)
		agg.Pillars[p] = avg
		if avg.Valid {
			sum += avg.Value
			defined++
		}
	}
	if defined > 0 {
		agg.Overall = Defined(sum / float64(defined))
	}
	return agg
}

func pillarAverage(r Record, p Pillar) Avg {
	var sum float64
	var n int
	for i := range Dimensions {
		if v, ok := ParseScore(r.Score(p, i)); ok {
			sum += v
			n++
		}
	}
	if n == 0 {
		return Avg{}
	}
	return Defined(sum / float64(n))
}
