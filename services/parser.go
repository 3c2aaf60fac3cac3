package services

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"document-qa-platform/models"
)

var (
	// ErrUnsupportedFormat reports a file extension the parser has no
	// handler for.
	ErrUnsupportedFormat = errors.New("unsupported file format")

	// ErrCorruptFile reports a file whose container or structure could not
	// be read by the matching handler.
	ErrCorruptFile = errors.New("corrupt or unreadable file")

	// ErrEmptyDocument reports a file that parsed cleanly but yielded no
	// extractable text.
	ErrEmptyDocument = errors.New("document contains no extractable text")

	// ErrEncoding reports text content that is neither valid UTF-8 nor
	// plausible Latin-1.
	ErrEncoding = errors.New("undecodable text encoding")
)

// DocumentParser turns uploaded file bytes into a ParsedDocument. It never
// touches the filesystem; callers hand it the full content.
type DocumentParser struct{}

func NewDocumentParser() *DocumentParser {
	return &DocumentParser{}
}

// SupportedExtension reports whether the parser has a handler for the file.
func (p *DocumentParser) SupportedExtension(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf", ".docx", ".pptx", ".xlsx", ".csv", ".txt", ".md":
		return true
	}
	return false
}

// Parse dispatches on the file extension and returns the extracted text with
// its structural units. Spreadsheet formats additionally carry detected
// contacts and per-column statistics.
func (p *DocumentParser) Parse(filename string, data []byte) (*models.ParsedDocument, error) {
	name := models.NormalizeFilename(filename)

	var (
		units    []models.StructuralUnit
		contacts []models.ContactRecord
		stats    []models.ColumnStats
		skipped  int
		err      error
	)

	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		units, err = parsePDF(data)
	case ".docx":
		units, err = parseDOCX(data)
	case ".pptx":
		units, err = parsePPTX(data)
	case ".xlsx":
		units, contacts, stats, skipped, err = parseXLSX(data)
	case ".csv":
		units, contacts, stats, skipped, err = parseCSV(data)
	case ".txt", ".md":
		units, err = parsePlainText(data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(name))
	}
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", name, err)
	}

	fullText, positioned := assembleUnits(units)
	if strings.TrimSpace(fullText) == "" {
		return nil, fmt.Errorf("%s: %w", name, ErrEmptyDocument)
	}

	return &models.ParsedDocument{
		SourceFile:       name,
		FullText:         fullText,
		StructuralUnits:  positioned,
		DetectedContacts: contacts,
		ColumnStats:      stats,
		SkippedCells:     skipped,
	}, nil
}

// assembleUnits joins non-empty unit texts with blank lines and records each
// unit's character span within the assembled text. Spans are rune offsets so
// they line up with chunk spans downstream.
func assembleUnits(units []models.StructuralUnit) (string, []models.StructuralUnit) {
	var b strings.Builder
	out := make([]models.StructuralUnit, 0, len(units))
	offset := 0

	for _, u := range units {
		text := strings.TrimSpace(u.Text)
		if text == "" {
			continue
		}
		if offset > 0 {
			b.WriteString("\n\n")
			offset += 2
		}
		runeLen := len([]rune(text))
		u.Text = text
		u.Span = models.CharSpan{Start: offset, End: offset + runeLen}
		out = append(out, u)
		b.WriteString(text)
		offset += runeLen
	}
	return b.String(), out
}
