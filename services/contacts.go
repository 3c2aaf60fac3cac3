package services

import (
	"regexp"
	"strings"

	"document-qa-platform/models"
)

var (
	emailRe = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)

	// Tolerant of common separators; validity is decided after normalization
	// by digit count, so "555-1234" style fragments don't match.
	phoneRe = regexp.MustCompile(`\+?\d[\d\-\s().]{7,}\d`)

	// Street number followed by a name and a street-type keyword.
	addressRe = regexp.MustCompile(`(?i)\b\d{1,6}\s+[A-Za-z][A-Za-z0-9.\s]{1,50}?\b(?:street|st|avenue|ave|road|rd|boulevard|blvd|lane|ln|drive|dr|court|ct|place|pl|way)\b\.?`)
)

// contactScanner accumulates detected contacts across the cells of one file,
// deduplicating by (kind, normalized value). The first sighting's location
// wins.
type contactScanner struct {
	seen     map[string]struct{}
	contacts []models.ContactRecord
}

func newContactScanner() *contactScanner {
	return &contactScanner{seen: make(map[string]struct{})}
}

func (s *contactScanner) add(kind, value, location string) {
	key := kind + "\x00" + value
	if _, ok := s.seen[key]; ok {
		return
	}
	s.seen[key] = struct{}{}
	s.contacts = append(s.contacts, models.ContactRecord{
		Kind:           kind,
		Value:          value,
		SourceLocation: location,
	})
}

// scan inspects one cell's text for emails, phone numbers, and street
// addresses.
func (s *contactScanner) scan(cell, location string) {
	for _, m := range emailRe.FindAllString(cell, -1) {
		s.add(models.ContactEmail, strings.ToLower(m), location)
	}
	for _, m := range phoneRe.FindAllString(cell, -1) {
		if normalized, ok := normalizePhone(m); ok {
			s.add(models.ContactPhone, normalized, location)
		}
	}
	for _, m := range addressRe.FindAllString(cell, -1) {
		s.add(models.ContactAddress, normalizeAddress(m), location)
	}
}

// normalizePhone strips separators keeping a leading +, and accepts 10 to 15
// digits (NANP through full E.164).
func normalizePhone(raw string) (string, bool) {
	var b strings.Builder
	for i, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	normalized := b.String()
	digits := strings.TrimPrefix(normalized, "+")
	if len(digits) < 10 || len(digits) > 15 {
		return "", false
	}
	return normalized, true
}

func normalizeAddress(raw string) string {
	return strings.Join(strings.Fields(strings.TrimSuffix(raw, ".")), " ")
}
