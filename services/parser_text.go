package services

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"document-qa-platform/models"
)

// decodeText interprets raw bytes as UTF-8, falling back to Latin-1 for
// legacy exports. NUL bytes mean the content is binary, not mis-encoded text,
// so those are rejected outright.
func decodeText(data []byte) (string, error) {
	if bytes.IndexByte(data, 0) >= 0 {
		return "", fmt.Errorf("%w: content contains NUL bytes", ErrEncoding)
	}

	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF}) // UTF-8 BOM

	if utf8.Valid(data) {
		return string(data), nil
	}

	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	return string(decoded), nil
}

// parsePlainText splits text files into paragraph units on blank lines.
func parsePlainText(data []byte) ([]models.StructuralUnit, error) {
	text, err := decodeText(data)
	if err != nil {
		return nil, err
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")

	var units []models.StructuralUnit
	paragraph := 0
	for _, block := range strings.Split(text, "\n\n") {
		if strings.TrimSpace(block) == "" {
			continue
		}
		paragraph++
		units = append(units, models.StructuralUnit{
			Text:     block,
			Location: models.Location{Kind: models.LocationParagraph, Paragraph: paragraph},
		})
	}
	return units, nil
}
