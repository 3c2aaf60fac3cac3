package services

import (
	"errors"
	"fmt"
	"unicode"

	"document-qa-platform/models"
)

// ErrInvalidChunkConfig reports a window/overlap combination that cannot make
// forward progress.
var ErrInvalidChunkConfig = errors.New("invalid chunking configuration")

// ChunkDocument slices the parsed text into overlapping windows of at most
// maxChars characters, preferring to end each window on a sentence boundary.
// Offsets are rune-based so multi-byte text splits cleanly.
//
// The window end may drift from the hard cut by up to maxChars/5 characters
// in either direction to land after a sentence terminator or before a
// paragraph break; the boundary closest to the hard cut wins. The next window
// starts overlap characters before the previous one ended, with a one
// character minimum advance so degenerate boundaries still terminate.
func ChunkDocument(doc *models.ParsedDocument, maxChars, overlap int) ([]models.DocumentChunk, error) {
	if maxChars <= 0 {
		return nil, fmt.Errorf("%w: max chunk size %d", ErrInvalidChunkConfig, maxChars)
	}
	if overlap < 0 || overlap >= maxChars {
		return nil, fmt.Errorf("%w: overlap %d with max chunk size %d", ErrInvalidChunkConfig, overlap, maxChars)
	}

	runes := []rune(doc.FullText)
	n := len(runes)
	tolerance := maxChars / 5

	var chunks []models.DocumentChunk
	start, seq := 0, 0

	for start < n {
		end := start + maxChars
		if end >= n {
			end = n
		} else {
			end = adjustChunkEnd(runes, start, end, tolerance)
		}

		// Trim the window to its non-whitespace core; spans reflect the
		// trimmed text.
		ts, te := start, end
		for ts < te && unicode.IsSpace(runes[ts]) {
			ts++
		}
		for te > ts && unicode.IsSpace(runes[te-1]) {
			te--
		}

		if ts < te {
			chunks = append(chunks, models.DocumentChunk{
				ID:            models.ChunkID(doc.SourceFile, seq),
				Text:          string(runes[ts:te]),
				SourceFile:    doc.SourceFile,
				Location:      locateSpan(doc.StructuralUnits, ts, te),
				SequenceIndex: seq,
				CharSpan:      models.CharSpan{Start: ts, End: te},
			})
			seq++
		}

		if end >= n {
			break
		}
		next := end - overlap
		if next <= start {
			next = start + 1
		}
		start = next
	}

	return chunks, nil
}

// adjustChunkEnd looks for a sentence terminator or paragraph break within
// tolerance of the hard cut at end, returning the closest such boundary, or
// end unchanged when none is in range.
func adjustChunkEnd(runes []rune, start, end, tolerance int) int {
	n := len(runes)
	lo := end - tolerance
	if lo <= start {
		lo = start + 1
	}
	hi := end + tolerance
	if hi > n {
		hi = n
	}

	best := -1
	bestDist := tolerance + 1
	for i := lo - 1; i < hi; i++ {
		var candidate int
		switch {
		case isSentenceEnd(runes, i):
			candidate = i + 1
		case runes[i] == '\n' && i+1 < n && runes[i+1] == '\n':
			candidate = i
		default:
			continue
		}
		if candidate <= start || candidate > hi {
			continue
		}
		dist := candidate - end
		if dist < 0 {
			dist = -dist
		}
		if dist < bestDist {
			bestDist = dist
			best = candidate
		}
	}

	if best > 0 {
		return best
	}
	return end
}

// isSentenceEnd reports whether runes[i] terminates a sentence: one of .!?
// followed by whitespace or the end of the text.
func isSentenceEnd(runes []rune, i int) bool {
	switch runes[i] {
	case '.', '!', '?':
	default:
		return false
	}
	return i+1 >= len(runes) || unicode.IsSpace(runes[i+1])
}

// locateSpan attributes a chunk to the structural unit it overlaps the most,
// preferring the earlier unit on ties.
func locateSpan(units []models.StructuralUnit, start, end int) models.Location {
	var (
		best        models.Location
		bestOverlap int
	)
	for _, u := range units {
		lo, hi := u.Span.Start, u.Span.End
		if start > lo {
			lo = start
		}
		if end < hi {
			hi = end
		}
		if overlap := hi - lo; overlap > bestOverlap {
			bestOverlap = overlap
			best = u.Location
		}
	}
	return best
}
