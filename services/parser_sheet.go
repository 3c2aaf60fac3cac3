package services

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"

	"document-qa-platform/internal/logger"
	"document-qa-platform/models"
)

// sheetRowBatch groups this many data rows into one structural unit so chunk
// attributions point at a narrow row range rather than a whole sheet.
const sheetRowBatch = 20

// parseXLSX flattens every sheet into header-labeled row text, computing
// column statistics and scanning cells for contact details on the way.
func parseXLSX(data []byte) ([]models.StructuralUnit, []models.ContactRecord, []models.ColumnStats, int, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, nil, nil, 0, fmt.Errorf("%w: %v", ErrCorruptFile, err)
	}
	defer f.Close()

	scanner := newContactScanner()
	var (
		units   []models.StructuralUnit
		stats   []models.ColumnStats
		skipped int
	)

	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			logger.Warn("Skipping unreadable sheet", "sheet", sheet, "error", err)
			continue
		}
		if len(rows) == 0 {
			continue
		}

		su, st, sk := tabularToUnits(sheet, rows[0], rows[1:], scanner)
		units = append(units, su...)
		stats = append(stats, st...)
		skipped += sk
	}

	return units, scanner.contacts, stats, skipped, nil
}

// parseCSV treats the file as a single sheet with a header row. Rows the CSV
// reader cannot parse are counted as skipped, not fatal.
func parseCSV(data []byte) ([]models.StructuralUnit, []models.ContactRecord, []models.ColumnStats, int, error) {
	text, err := decodeText(data)
	if err != nil {
		return nil, nil, nil, 0, err
	}

	reader := csv.NewReader(strings.NewReader(text))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var (
		rows    [][]string
		skipped int
	)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				skipped++
				continue
			}
			return nil, nil, nil, 0, fmt.Errorf("%w: %v", ErrCorruptFile, err)
		}
		rows = append(rows, record)
	}
	if len(rows) == 0 {
		return nil, nil, nil, skipped, nil
	}

	scanner := newContactScanner()
	units, stats, sk := tabularToUnits("", rows[0], rows[1:], scanner)
	return units, scanner.contacts, stats, skipped + sk, nil
}

type columnTracker struct {
	stats models.ColumnStats
	seen  bool
}

// tabularToUnits renders data rows as "Header: value" lines, batched into
// row-range units. Row numbers follow spreadsheet convention: the header is
// row 1, data starts at row 2.
func tabularToUnits(sheet string, header []string, dataRows [][]string, scanner *contactScanner) ([]models.StructuralUnit, []models.ColumnStats, int) {
	trackers := make([]*columnTracker, len(header))
	for i, name := range header {
		name = strings.TrimSpace(name)
		if name == "" {
			name = fmt.Sprintf("column %d", i+1)
		}
		trackers[i] = &columnTracker{stats: models.ColumnStats{Name: name}}
	}

	var (
		units      []models.StructuralUnit
		lines      []string
		batchStart int
		skipped    int
	)

	flush := func(lastRow int) {
		if len(lines) == 0 {
			return
		}
		units = append(units, models.StructuralUnit{
			Text: strings.Join(lines, "\n"),
			Location: models.Location{
				Kind:     models.LocationSheet,
				Sheet:    sheet,
				RowStart: batchStart,
				RowEnd:   lastRow,
			},
		})
		lines = nil
	}

	for i, row := range dataRows {
		rowNum := i + 2
		if len(lines) == 0 {
			batchStart = rowNum
		}

		var pairs []string
		for j, cell := range row {
			cell = strings.TrimSpace(cell)
			if cell == "" {
				continue
			}
			if !utf8.ValidString(cell) || strings.ContainsRune(cell, 0) {
				skipped++
				continue
			}

			cellLoc := models.Location{Kind: models.LocationSheet, Sheet: sheet, RowStart: rowNum}
			scanner.scan(cell, cellLoc.String())

			name := fmt.Sprintf("column %d", j+1)
			if j < len(trackers) {
				t := trackers[j]
				name = t.stats.Name
				t.stats.NonEmpty++
				if v, err := strconv.ParseFloat(strings.ReplaceAll(cell, ",", ""), 64); err == nil {
					if !t.seen || v < t.stats.Min {
						t.stats.Min = v
					}
					if !t.seen || v > t.stats.Max {
						t.stats.Max = v
					}
					t.seen = true
					t.stats.Numeric++
				}
			}
			pairs = append(pairs, fmt.Sprintf("%s: %s", name, cell))
		}

		if len(pairs) > 0 {
			lines = append(lines, strings.Join(pairs, "; "))
		}
		if len(lines) >= sheetRowBatch {
			flush(rowNum)
		}
	}
	flush(len(dataRows) + 1)

	stats := make([]models.ColumnStats, 0, len(trackers))
	for _, t := range trackers {
		if t.stats.NonEmpty > 0 {
			stats = append(stats, t.stats)
		}
	}
	return units, stats, skipped
}
