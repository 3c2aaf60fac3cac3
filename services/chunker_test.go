package services

import (
	"errors"
	"strings"
	"testing"

	"document-qa-platform/models"
)

func textDoc(t *testing.T, name, text string) *models.ParsedDocument {
	t.Helper()
	doc, err := NewDocumentParser().Parse(name, []byte(text))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	return doc
}

func TestChunkSentenceBoundaries(t *testing.T) {
	doc := textDoc(t, "sky.txt", "The sky is blue. Grass is green.")

	chunks, err := ChunkDocument(doc, 20, 5)
	if err != nil {
		t.Fatalf("ChunkDocument failed: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d: %+v", len(chunks), chunks)
	}

	if chunks[0].Text != "The sky is blue." {
		t.Errorf("chunk 0 text = %q", chunks[0].Text)
	}
	if chunks[0].CharSpan != (models.CharSpan{Start: 0, End: 16}) {
		t.Errorf("chunk 0 span = %+v", chunks[0].CharSpan)
	}

	if chunks[1].Text != "blue. Grass is green." {
		t.Errorf("chunk 1 text = %q", chunks[1].Text)
	}
	if chunks[1].CharSpan != (models.CharSpan{Start: 11, End: 32}) {
		t.Errorf("chunk 1 span = %+v", chunks[1].CharSpan)
	}
}

func TestChunkSizeAndOverlap(t *testing.T) {
	// No sentence terminators, so every cut is a hard cut.
	doc := textDoc(t, "flat.txt", strings.Repeat("lorem ipsum dolor sit amet ", 40))

	maxChars, overlap := 100, 20
	chunks, err := ChunkDocument(doc, maxChars, overlap)
	if err != nil {
		t.Fatalf("ChunkDocument failed: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}

	tolerance := maxChars / 5
	for i, c := range chunks {
		if n := len([]rune(c.Text)); n > maxChars+tolerance {
			t.Errorf("chunk %d has %d chars, limit %d", i, n, maxChars+tolerance)
		}
		if c.SequenceIndex != i {
			t.Errorf("chunk %d has sequence index %d", i, c.SequenceIndex)
		}
		if c.ID != models.ChunkID(doc.SourceFile, i) {
			t.Errorf("chunk %d has id %q", i, c.ID)
		}
		if i > 0 && chunks[i].CharSpan.Start >= chunks[i-1].CharSpan.End {
			t.Errorf("chunks %d and %d do not overlap: %+v %+v",
				i-1, i, chunks[i-1].CharSpan, chunks[i].CharSpan)
		}
	}
}

func TestChunkShortDocument(t *testing.T) {
	doc := textDoc(t, "short.txt", "Just one short line.")

	chunks, err := ChunkDocument(doc, 1000, 200)
	if err != nil {
		t.Fatalf("ChunkDocument failed: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected a single chunk, got %d", len(chunks))
	}
	if chunks[0].Text != "Just one short line." {
		t.Errorf("unexpected chunk text %q", chunks[0].Text)
	}
}

func TestChunkInvalidConfig(t *testing.T) {
	doc := textDoc(t, "x.txt", "some text")

	cases := []struct{ max, overlap int }{
		{0, 0},
		{-5, 0},
		{100, -1},
		{100, 100},
		{100, 150},
	}
	for _, tc := range cases {
		if _, err := ChunkDocument(doc, tc.max, tc.overlap); !errors.Is(err, ErrInvalidChunkConfig) {
			t.Errorf("max=%d overlap=%d: expected ErrInvalidChunkConfig, got %v", tc.max, tc.overlap, err)
		}
	}
}

func TestChunkLocationAttribution(t *testing.T) {
	// Two paragraphs; a small window keeps each chunk inside one paragraph.
	first := strings.Repeat("alpha bravo charlie. ", 10)
	second := strings.Repeat("delta echo foxtrot. ", 10)
	doc := textDoc(t, "two.txt", first+"\n\n"+second)

	chunks, err := ChunkDocument(doc, 80, 10)
	if err != nil {
		t.Fatalf("ChunkDocument failed: %v", err)
	}

	sawSecond := false
	for _, c := range chunks {
		if c.Location.Kind != models.LocationParagraph {
			t.Fatalf("chunk %d has location kind %q", c.SequenceIndex, c.Location.Kind)
		}
		if c.Location.Paragraph == 2 {
			sawSecond = true
			if !strings.Contains(c.Text, "delta") && !strings.Contains(c.Text, "foxtrot") {
				t.Errorf("chunk attributed to paragraph 2 but reads %q", c.Text)
			}
		}
	}
	if !sawSecond {
		t.Error("no chunk attributed to the second paragraph")
	}
}

func TestChunkForwardProgressWithDenseBoundaries(t *testing.T) {
	// Terminator-heavy text exercises the minimum-advance guard.
	doc := textDoc(t, "dots.txt", strings.Repeat("A. ", 200))

	chunks, err := ChunkDocument(doc, 10, 8)
	if err != nil {
		t.Fatalf("ChunkDocument failed: %v", err)
	}
	if len(chunks) == 0 {
		t.Fatal("expected chunks")
	}
	for i := 1; i < len(chunks); i++ {
		if chunks[i].CharSpan.Start <= chunks[i-1].CharSpan.Start {
			t.Fatalf("no forward progress between chunks %d and %d", i-1, i)
		}
	}
}
