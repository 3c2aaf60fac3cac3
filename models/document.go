package models

import (
	"fmt"
	"strings"
)

// Location points at the structural unit a chunk was extracted from. The zero
// value means the source format has no internal structure (flat text).
type Location struct {
	Kind      string `json:"kind,omitempty"` // page, slide, sheet, paragraph
	Page      int    `json:"page,omitempty"`
	Slide     int    `json:"slide,omitempty"`
	Sheet     string `json:"sheet,omitempty"`
	RowStart  int    `json:"row_start,omitempty"`
	RowEnd    int    `json:"row_end,omitempty"`
	Paragraph int    `json:"paragraph,omitempty"`
}

const (
	LocationPage      = "page"
	LocationSlide     = "slide"
	LocationSheet     = "sheet"
	LocationParagraph = "paragraph"
)

// String renders a human-readable locator used for source attribution.
func (l Location) String() string {
	switch l.Kind {
	case LocationPage:
		return fmt.Sprintf("page %d", l.Page)
	case LocationSlide:
		return fmt.Sprintf("slide %d", l.Slide)
	case LocationSheet:
		prefix := ""
		if l.Sheet != "" {
			prefix = fmt.Sprintf("sheet %q ", l.Sheet)
		}
		if l.RowEnd > l.RowStart {
			return fmt.Sprintf("%srows %d-%d", prefix, l.RowStart, l.RowEnd)
		}
		return fmt.Sprintf("%srow %d", prefix, l.RowStart)
	case LocationParagraph:
		return fmt.Sprintf("paragraph %d", l.Paragraph)
	default:
		return ""
	}
}

// CharSpan is a half-open [Start, End) character range within the parsed
// document text.
type CharSpan struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// DocumentChunk is one retrievable unit of extracted text.
type DocumentChunk struct {
	ID            string   `json:"id"`
	Text          string   `json:"text"`
	SourceFile    string   `json:"source_file"`
	Location      Location `json:"location"`
	SequenceIndex int      `json:"sequence_index"`
	CharSpan      CharSpan `json:"char_span"`
}

// ChunkID derives the stable chunk identifier from the source file and the
// chunk's position within it.
func ChunkID(sourceFile string, sequenceIndex int) string {
	return fmt.Sprintf("%s_%d", sourceFile, sequenceIndex)
}

// Attribution renders the chunk's origin for display alongside answers.
func (c DocumentChunk) Attribution() string {
	if loc := c.Location.String(); loc != "" {
		return fmt.Sprintf("%s (%s)", c.SourceFile, loc)
	}
	return c.SourceFile
}

// StructuralUnit is one page/slide/paragraph/row-group of a parsed document,
// with its span inside the assembled full text.
type StructuralUnit struct {
	Text     string   `json:"text"`
	Location Location `json:"location"`
	Span     CharSpan `json:"span"`
}

// ColumnStats carries basic per-column statistics for delimited-text files.
type ColumnStats struct {
	Name     string  `json:"name"`
	NonEmpty int     `json:"non_empty"`
	Numeric  int     `json:"numeric"`
	Min      float64 `json:"min,omitempty"`
	Max      float64 `json:"max,omitempty"`
}

// ParsedDocument is the intermediate artifact between parsing and chunking.
// It is consumed immediately by the chunker and never persisted.
type ParsedDocument struct {
	SourceFile       string           `json:"source_file"`
	FullText         string           `json:"full_text"`
	StructuralUnits  []StructuralUnit `json:"structural_units"`
	DetectedContacts []ContactRecord  `json:"detected_contacts,omitempty"`
	ColumnStats      []ColumnStats    `json:"column_stats,omitempty"`
	SkippedCells     int              `json:"skipped_cells,omitempty"`
}

// ContactKind enumerates detectable contact categories.
const (
	ContactEmail   = "email"
	ContactPhone   = "phone"
	ContactAddress = "address"
)

// ContactRecord is a detected contact value from spreadsheet content,
// normalized and deduplicated per file by (Kind, Value).
type ContactRecord struct {
	Kind           string `json:"kind"`
	Value          string `json:"value"`
	SourceLocation string `json:"source_location"`
}

// IngestFileResult reports the outcome of processing one uploaded file.
type IngestFileResult struct {
	Filename    string `json:"filename"`
	ChunksAdded int    `json:"chunks_added"`
	Error       string `json:"error,omitempty"`
}

// IngestReport aggregates per-file outcomes for one upload batch. A single
// file's failure never aborts the batch.
type IngestReport struct {
	PerFile          []IngestFileResult `json:"per_file"`
	ContactsNotified []string           `json:"contacts_notified,omitempty"`
}

// Failed returns the filenames that could not be ingested.
func (r *IngestReport) Failed() []string {
	var out []string
	for _, f := range r.PerFile {
		if f.Error != "" {
			out = append(out, f.Filename)
		}
	}
	return out
}

// UploadFile is the (bytes, name) pair handed over by the upload boundary.
type UploadFile struct {
	Name string
	Data []byte
}

// QueryRequest is the query boundary payload.
type QueryRequest struct {
	Query      string `json:"query" binding:"required"`
	SearchK    int    `json:"search_k,omitempty"`
	FileFilter string `json:"file_filter,omitempty"`
}

// QueryResponse packages the generated answer with the context actually used.
type QueryResponse struct {
	Answer         string   `json:"answer"`
	SourceChunks   []string `json:"source_chunks"`
	Confidence     float64  `json:"confidence"`
	CollectionSize int      `json:"collection_size"`
	ProcessingMS   int64    `json:"processing_ms"`
	Cached         bool     `json:"cached,omitempty"`
}

// NormalizeFilename strips directory components that some browsers include in
// multipart uploads.
func NormalizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return strings.TrimSpace(name)
}
