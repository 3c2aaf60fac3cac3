package services

import (
	"bytes"
	"fmt"

	"github.com/ledongthuc/pdf"

	"document-qa-platform/internal/logger"
	"document-qa-platform/models"
)

// parsePDF extracts one structural unit per page. Pages that fail text
// extraction are skipped; a fully unreadable document surfaces as corrupt.
func parsePDF(data []byte) (units []models.StructuralUnit, err error) {
	// The pdf library panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			units, err = nil, fmt.Errorf("%w: %v", ErrCorruptFile, r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptFile, err)
	}

	pages := reader.NumPage()
	for i := 1; i <= pages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		fonts := make(map[string]*pdf.Font)
		text, err := page.GetPlainText(fonts)
		if err != nil {
			logger.Warn("Skipping unreadable PDF page", "page", i, "error", err)
			continue
		}

		units = append(units, models.StructuralUnit{
			Text:     text,
			Location: models.Location{Kind: models.LocationPage, Page: i},
		})
	}
	return units, nil
}
