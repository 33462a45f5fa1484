package verify

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/gabriel-vasile/mimetype"
	"github.com/ledongthuc/pdf"
)

// ExtractText returns the human-readable text of the artifact at path. The
// extractor is chosen from the file's content, not its extension: PDF, HTML
// and plain text are supported.
func ExtractText(path string) (string, error) {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return "", fmt.Errorf("detect type of %s: %w", path, err)
	}
	switch {
	case mtype.Is("application/pdf"):
		return extractPDF(path)
	case mtype.Is("text/html"):
		return extractHTML(path)
	case mtype.Is("text/plain"):
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", path, err)
		}
		return string(data), nil
	default:
		return "", fmt.Errorf("unsupported artifact type %s", mtype.String())
	}
}

func extractPDF(path string) (text string, err error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf %s: %w", path, err)
	}
	defer f.Close()

	// The pdf reader panics on some malformed content streams.
	defer func() {
		if p := recover(); p != nil {
			text, err = "", fmt.Errorf("extract pdf %s: %v", path, p)
		}
	}()

	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf %s: %w", path, err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		return "", fmt.Errorf("extract pdf %s: %w", path, err)
	}
	return buf.String(), nil
}

func extractHTML(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	doc, err := goquery.NewDocumentFromReader(f)
	if err != nil {
		return "", fmt.Errorf("parse html %s: %w", path, err)
	}
	doc.Find("script, style").Remove()

	// Block elements are separated so labels on adjacent lines do not fuse.
	var lines []string
	doc.Find("h1, h2, h3, h4, h5, h6, p, li, td, th, pre").Each(func(_ int, s *goquery.Selection) {
		if t := strings.TrimSpace(s.Text()); t != "" {
			lines = append(lines, t)
		}
	})
	if len(lines) == 0 {
		return strings.TrimSpace(doc.Text()), nil
	}
	return strings.Join(lines, "\n"), nil
}
