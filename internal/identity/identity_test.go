package identity

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/reportflow/internal/testutil"
)

var testDate = time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC)

func TestDisplayName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Acme Corp", "Acme Corp"},
		{"  Acme Corp  ", "Acme Corp"},
		{"Org/Division", "Org-Division"},
		{`Back\Slash`, "Back-Slash"},
		{"Time: Now", "Time- Now"},
		{"Star*Power?", "StarPower"},
		{`Say "hi"`, "Say 'hi'"},
		{"<Tag>", "(Tag)"},
		{"A|B", "A-B"},
		{"", Unknown},
		{"   ", Unknown},
		{"*?", Unknown},
		{"Tab\there", "Tabhere"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, DisplayName(tt.in))
		})
	}
}

func TestDisplayName_NFC(t *testing.T) {
	decomposed := "Cafe\u0301"
	composed := "Caf\u00e9"
	assert.Equal(t, DisplayName(composed), DisplayName(decomposed))
}

func TestDisplayName_Idempotent(t *testing.T) {
	for _, in := range []string{"Org/Division", `a"b<c>d`, " x * y ", "Ünïcödé|Co"} {
		once := DisplayName(in)
		assert.Equal(t, once, DisplayName(once), in)
	}
}

func TestKey(t *testing.T) {
	k := NewKey(" Acme Corp ", "Alice Bennett")
	assert.Equal(t, "Acme Corp|Alice Bennett", k.String())
	assert.False(t, k.IsZero())
	assert.True(t, Key{}.IsZero())

	parsed, err := ParseKey(k.String())
	require.NoError(t, err)
	assert.Equal(t, k, parsed)

	_, err = ParseKey("no-separator")
	assert.Error(t, err)
	_, err = ParseKey("|person")
	assert.Error(t, err)
}

func TestNewKey_CollidesOnNormalizedNames(t *testing.T) {
	assert.Equal(t, NewKey("Org/Division", "Bob"), NewKey("Org-Division ", " Bob"))
}

func TestArtifactFilename_NeverContainsUnsafeCharacters(t *testing.T) {
	inputs := []string{
		"Org/Division", `C:\Temp`, "a*b?c", `"quoted"`, "<x>", "pipe|d", "../../etc/passwd", "", "plain",
	}
	for _, company := range inputs {
		for _, person := range inputs {
			name := ArtifactFilename(testDate, "Resilience/Report", company, person)
			assert.False(t, strings.ContainsAny(name, `/\:*?"<>|`), "unsafe character in %q", name)
		}
	}
}

func TestArtifactFilename_OrgDivision(t *testing.T) {
	name := ArtifactFilename(testDate, "ResilienceScanReport", "Org/Division", "Bob")
	assert.Equal(t, "20261018 ResilienceScanReport (Org-Division - Bob).pdf", name)
	assert.NotContains(t, name, "/")
}

func TestArtifactFilename_RoundTrip(t *testing.T) {
	cases := []struct{ company, person string }{
		{"Acme Corp", "Alice Bennett"},
		{"Smith - Jones Ltd", "Carol"},
		{"Org/Division", "Dave O'Brien"},
		{"Acme (NL) B.V.", "Eve"},
		{"  Padded  ", "  Frank  "},
		{"<Angle>", "Gina"},
		{"Ünïcödé GmbH", "Jürgen Groß"},
		{"Leading Dash", "- Bob"},
		{"Dash Run", " -- - Hal"},
		{"Trailing Dash -", "Ivy"},
	}
	for _, c := range cases {
		t.Run(c.company, func(t *testing.T) {
			name := ArtifactFilename(testDate, "ResilienceScanReport", c.company, c.person)
			got, err := ParseArtifactFilename(name)
			require.NoError(t, err)
			assert.Equal(t, NewKey(c.company, c.person), got.Key)
			assert.Equal(t, "20261018", got.Date)
			assert.Equal(t, "ResilienceScanReport", got.Template)
			assert.Equal(t, name, got.Filename)
		})
	}
}

func TestPersonName(t *testing.T) {
	assert.Equal(t, "Bob", PersonName("- Bob"))
	assert.Equal(t, "Bob-Smith", PersonName("--Bob-Smith"))
	assert.Equal(t, Unknown, PersonName(" - "))
	assert.Equal(t, "Bob", NewKey("Acme Corp", "- Bob").Person)
	assert.Equal(t, "20261018 ResilienceScanReport (Acme Corp - Bob).pdf",
		ArtifactFilename(testDate, "ResilienceScanReport", "Acme Corp", "- Bob"))
}

func TestParseArtifactFilename_SplitsOnLastSeparator(t *testing.T) {
	got, err := ParseArtifactFilename("20250101 ResilienceScanReport (A - B - C).pdf")
	require.NoError(t, err)
	assert.Equal(t, "A - B", got.Key.Company)
	assert.Equal(t, "C", got.Key.Person)
}

func TestParseArtifactFilename_TemplateWithSpaces(t *testing.T) {
	got, err := ParseArtifactFilename("20250101 My Report (Acme - Bob).pdf")
	require.NoError(t, err)
	assert.Equal(t, "My Report", got.Template)
	assert.Equal(t, Key{Company: "Acme", Person: "Bob"}, got.Key)
}

func TestParseArtifactFilename_Unparsable(t *testing.T) {
	names := []string{
		"notes.txt",
		"report.pdf",
		"20250101 ResilienceScanReport (NoSeparator).pdf",
		"2025 ResilienceScanReport (A - B).pdf",
		"20250101 ResilienceScanReport (A - B).docx",
		"20250101 ResilienceScanReport ( - B).pdf",
	}
	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			_, err := ParseArtifactFilename(name)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrUnparsable))
		})
	}
}

func TestArtifactFilename_Golden(t *testing.T) {
	cases := []struct{ template, company, person string }{
		{"ResilienceScanReport", "Acme Corp", "Alice Bennett"},
		{"ResilienceScanReport", "Org/Division", "Bob"},
		{"Report1_CircularBarplot", `Quote "Co"`, "Carol"},
		{"ResilienceScanReport", "", ""},
		{"Bad(Name)", "Time: Now", "D*ve?"},
	}
	var b strings.Builder
	for _, c := range cases {
		b.WriteString(ArtifactFilename(testDate, c.template, c.company, c.person))
		b.WriteString("\n")
	}

	testutil.AssertGolden(t, "artifact_filenames", b.String())
}
