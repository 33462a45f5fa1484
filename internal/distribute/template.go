package distribute

import (
	"strings"
	"time"
)

// Default message template.
const (
	DefaultSubject = "Your Resilience Scan Report – {company}"
	DefaultBody    = "Dear {name},\n\n" +
		"Please find attached your resilience scan report for {company}.\n\n" +
		"If you have any questions, feel free to reach out.\n\n" +
		"Best regards,\n\n" +
		"[Your Name]\n" +
		"[Your Organization]"
)

// DateFormat is the layout of the {date} placeholder.
const DateFormat = "2006-01-02"

// Template is a subject and body with {company}, {name} and {date}
// placeholders. Unknown placeholders are left as written.
type Template struct {
	Subject string
	Body    string
}

// DefaultTemplate returns the built-in template.
func DefaultTemplate() Template {
	return Template{Subject: DefaultSubject, Body: DefaultBody}
}

// Expand fills the placeholders. An empty subject or body falls back to the
// default.
func (t Template) Expand(company, person string, date time.Time) (subject, body string) {
	subject, body = t.Subject, t.Body
	if strings.TrimSpace(subject) == "" {
		subject = DefaultSubject
	}
	if strings.TrimSpace(body) == "" {
		body = DefaultBody
	}
	r := strings.NewReplacer(
		"{company}", company,
		"{name}", person,
		"{date}", date.Format(DateFormat),
	)
	return r.Replace(subject), r.Replace(body)
}
