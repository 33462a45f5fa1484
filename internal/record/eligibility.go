package record

import (
	"fmt"
	"strings"
)

// MinValidScores is the eligibility threshold of valid sub-scores.
const MinValidScores = 5

// Eligibility is the outcome of Validate.
type Eligibility struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason"`
}

// Eligibility reasons.
const (
	ReasonValid        = "valid"
	ReasonNoCompany    = "no valid company name"
	ReasonNoPerson     = "no person name"
	ReasonInvalidEmail = "invalid or missing email"
)

// Validate decides whether r has enough data to render. Checks run in order
// and the first failure wins. Validate is pure; the batch and single-record
// paths both call it.
func Validate(r Record) Eligibility {
	if !validCompany(r.Company) {
		return Eligibility{Reason: ReasonNoCompany}
	}
	if strings.TrimSpace(r.Person) == "" {
		return Eligibility{Reason: ReasonNoPerson}
	}
	if !strings.Contains(r.Email, "@") {
		return Eligibility{Reason: ReasonInvalidEmail}
	}
	if n := r.ValidScoreCount(); n < MinValidScores {
		return Eligibility{
			Reason: fmt.Sprintf("insufficient data (%d/%d scores, need %d)", n, SubScoreCount, MinValidScores),
		}
	}
	return Eligibility{Valid: true, Reason: ReasonValid}
}

func validCompany(company string) bool {
	c := strings.TrimSpace(company)
	return c != "" && c != "-" && !strings.EqualFold(c, "unknown")
}
