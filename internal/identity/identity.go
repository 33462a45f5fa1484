// Package identity derives recipient identity and artifact filenames from raw
// company and person strings.
//
// The same normalization is used when a filename is produced and when one is
// parsed back, so a Key built from a source record compares equal to the Key
// recovered from that record's artifact on disk.
package identity

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Unknown replaces blank display names in filenames.
const Unknown = "Unknown"

// DateLayout is the date prefix layout of artifact filenames (YYYYMMDD).
const DateLayout = "20060102"

// keySeparator joins company and person in Key.String. DisplayName maps '|'
// to '-', so the separator never occurs inside either half.
const keySeparator = "|"

// ErrUnparsable is returned by ParseArtifactFilename for names that do not
// follow the artifact naming pattern.
var ErrUnparsable = errors.New("unparsable artifact filename")

// Key identifies a recipient. Both halves are display-normalized.
type Key struct {
	Company string
	Person  string
}

// NewKey normalizes company and person into a Key.
// Two records whose normalized names are equal collide on purpose: they are
// treated as the same recipient.
func NewKey(company, person string) Key {
	return Key{Company: DisplayName(company), Person: PersonName(person)}
}

// String renders the key as "company|person".
func (k Key) String() string {
	return k.Company + keySeparator + k.Person
}

// IsZero reports whether the key has no company and no person.
func (k Key) IsZero() bool {
	return k.Company == "" && k.Person == ""
}

// ParseKey is the inverse of Key.String.
func ParseKey(s string) (Key, error) {
	company, person, ok := strings.Cut(s, keySeparator)
	if !ok || company == "" || person == "" {
		return Key{}, fmt.Errorf("invalid identity key %q", s)
	}
	return Key{Company: company, Person: person}, nil
}

// MarshalText encodes the key as its string form.
func (k Key) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText decodes a key produced by MarshalText.
func (k *Key) UnmarshalText(b []byte) error {
	parsed, err := ParseKey(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

var displayReplacer = strings.NewReplacer(
	"/", "-",
	"\\", "-",
	":", "-",
	"*", "",
	"?", "",
	`"`, "'",
	"<", "(",
	">", ")",
	"|", "-",
)

// DisplayName makes a human readable, filename-safe version of name.
// Spaces and case are kept; the characters / \ : * ? " < > | are replaced or
// removed and control characters are dropped. Blank input yields Unknown.
func DisplayName(name string) string {
	s := norm.NFC.String(strings.TrimSpace(name))
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	s = strings.TrimSpace(displayReplacer.Replace(s))
	if s == "" {
		return Unknown
	}
	return s
}

// PersonName is DisplayName with leading dashes and spaces removed. A person
// starting with "- " would otherwise move the company/person split point in
// an artifact filename.
func PersonName(name string) string {
	s := strings.TrimLeft(DisplayName(name), "- ")
	if s == "" {
		return Unknown
	}
	return s
}

// ArtifactFilename builds "{YYYYMMDD} {template} ({company} - {person}).pdf".
// The result never contains a path separator; the renderer rejects those in
// its --output argument.
func ArtifactFilename(date time.Time, templateName, company, person string) string {
	return fmt.Sprintf("%s %s (%s - %s).pdf",
		date.Format(DateLayout), templateSegment(templateName), DisplayName(company), PersonName(person))
}

// templateSegment sanitizes the template name. Parentheses are dropped so the
// parser can find the start of the identity segment unambiguously.
func templateSegment(name string) string {
	s := DisplayName(name)
	s = strings.NewReplacer("(", "", ")", "").Replace(s)
	if strings.TrimSpace(s) == "" {
		return Unknown
	}
	return s
}

// Artifact is the parsed form of an artifact filename.
type Artifact struct {
	Filename string
	Date     string
	Template string
	Key      Key
}

var artifactPattern = regexp.MustCompile(`^(\d{8}) ([^()]+?) \((.+)\)\.pdf$`)

// ParseArtifactFilename recovers the identity from an artifact filename.
// The parenthesized segment is split on the last " - ", since company names
// may contain that separator and person names may not.
func ParseArtifactFilename(filename string) (Artifact, error) {
	m := artifactPattern.FindStringSubmatch(filename)
	if m == nil {
		return Artifact{}, fmt.Errorf("%w: %q", ErrUnparsable, filename)
	}
	content := m[3]
	idx := strings.LastIndex(content, " - ")
	if idx < 0 {
		return Artifact{}, fmt.Errorf("%w: %q has no company/person separator", ErrUnparsable, filename)
	}
	company := strings.TrimSpace(content[:idx])
	person := strings.TrimSpace(content[idx+len(" - "):])
	if company == "" || person == "" {
		return Artifact{}, fmt.Errorf("%w: %q has an empty company or person", ErrUnparsable, filename)
	}
	return Artifact{
		Filename: filename,
		Date:     m[1],
		Template: m[2],
		Key:      NewKey(company, person),
	}, nil
}
