package record

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// Source dataset column names. Matching is case-insensitive.
const (
	ColumnCompany    = "company_name"
	ColumnPerson     = "name"
	ColumnEmail      = "email_address"
	ColumnReportSent = "reportsent"
)

// ErrMissingColumn is returned when a required column is absent.
var ErrMissingColumn = errors.New("missing required column")

// candidate delimiters, in tie-break order
var delimiters = []rune{',', ';', '\t', '|'}

// sniffLines is the number of leading lines inspected for delimiter detection.
const sniffLines = 5

// Load reads the source dataset at path.
func Load(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dataset: %w", err)
	}
	records, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse dataset %s: %w", path, err)
	}
	return records, nil
}

// Read parses a dataset from r.
func Read(r io.Reader) ([]Record, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read dataset: %w", err)
	}
	return Parse(data)
}

// Parse decodes raw dataset bytes. Input that is not valid UTF-8 is decoded as
// Windows-1252. Columns not named by the dataset contract are ignored.
func Parse(data []byte) ([]Record, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if !utf8.Valid(data) {
		decoded, err := charmap.Windows1252.NewDecoder().Bytes(data)
		if err != nil {
			return nil, fmt.Errorf("decode windows-1252: %w", err)
		}
		data = decoded
	}

	cr := csv.NewReader(bytes.NewReader(data))
	cr.Comma = sniffDelimiter(data)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("empty dataset")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(h))
		if _, dup := cols[name]; !dup {
			cols[name] = i
		}
	}
	for _, required := range []string{ColumnCompany, ColumnPerson, ColumnEmail} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, required)
		}
	}

	scoreCols := ScoreColumns()
	var records []Record
	row := 0
	for {
		fields, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", row+1, err)
		}
		if blankRow(fields) {
			continue
		}
		row++

		cell := func(name string) string {
			i, ok := cols[name]
			if !ok || i >= len(fields) {
				return ""
			}
			return strings.TrimSpace(fields[i])
		}

		rec := Record{
			Row:        row,
			Company:    cell(ColumnCompany),
			Person:     cell(ColumnPerson),
			Email:      cell(ColumnEmail),
			ReportSent: parseFlag(cell(ColumnReportSent)),
		}
		for i, name := range scoreCols {
			rec.Scores[i] = cell(name)
		}
		records = append(records, rec)
	}
	return records, nil
}

// sniffDelimiter picks the candidate that occurs most often, and the same
// number of times, across the leading lines. Falls back to ','.
func sniffDelimiter(data []byte) rune {
	lines := strings.SplitN(string(data), "\n", sniffLines+1)
	if len(lines) > sniffLines {
		lines = lines[:sniffLines]
	}
	best, bestCount := ',', 0
	for _, d := range delimiters {
		count := -1
		consistent := true
		for _, line := range lines {
			line = strings.TrimRight(line, "\r")
			if line == "" {
				continue
			}
			n := strings.Count(line, string(d))
			if count == -1 {
				count = n
			} else if n != count {
				consistent = false
				break
			}
		}
		if consistent && count > bestCount {
			best, bestCount = d, count
		}
	}
	if bestCount == 0 {
		// Quoted fields can break consistency; fall back to the header line.
		header := strings.TrimRight(lines[0], "\r")
		for _, d := range delimiters {
			if n := strings.Count(header, string(d)); n > bestCount {
				best, bestCount = d, n
			}
		}
	}
	return best
}

func blankRow(fields []string) bool {
	for _, f := range fields {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

func parseFlag(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "1.0", "yes", "y", "sent":
		return true
	default:
		return false
	}
}
