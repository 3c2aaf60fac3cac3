package services

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"document-qa-platform/models"
)

// DOCX and PPTX are OOXML zip containers. Text lives in well-known XML parts:
// word/document.xml for Word, ppt/slides/slideN.xml for PowerPoint. Only
// local element names are matched, which tolerates namespace prefix changes
// across producers.

func openOOXML(data []byte) (*zip.Reader, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptFile, err)
	}
	return zr, nil
}

func readZipPart(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptFile, err)
		}
		defer rc.Close()
		content, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptFile, err)
		}
		return content, nil
	}
	return nil, fmt.Errorf("%w: missing part %s", ErrCorruptFile, name)
}

// parseDOCX yields one structural unit per non-empty paragraph.
func parseDOCX(data []byte) ([]models.StructuralUnit, error) {
	zr, err := openOOXML(data)
	if err != nil {
		return nil, err
	}
	doc, err := readZipPart(zr, "word/document.xml")
	if err != nil {
		return nil, err
	}

	paragraphs, err := extractParagraphs(doc, "p", "t")
	if err != nil {
		return nil, err
	}

	var units []models.StructuralUnit
	n := 0
	for _, text := range paragraphs {
		if strings.TrimSpace(text) == "" {
			continue
		}
		n++
		units = append(units, models.StructuralUnit{
			Text:     text,
			Location: models.Location{Kind: models.LocationParagraph, Paragraph: n},
		})
	}
	return units, nil
}

var slidePartRe = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

// parsePPTX yields one structural unit per slide, in slide order.
func parsePPTX(data []byte) ([]models.StructuralUnit, error) {
	zr, err := openOOXML(data)
	if err != nil {
		return nil, err
	}

	type slidePart struct {
		number int
		name   string
	}
	var parts []slidePart
	for _, f := range zr.File {
		m := slidePartRe.FindStringSubmatch(f.Name)
		if m == nil {
			continue
		}
		num, _ := strconv.Atoi(m[1])
		parts = append(parts, slidePart{number: num, name: f.Name})
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].number < parts[j].number })

	var units []models.StructuralUnit
	for _, part := range parts {
		content, err := readZipPart(zr, part.name)
		if err != nil {
			return nil, err
		}
		paragraphs, err := extractParagraphs(content, "p", "t")
		if err != nil {
			return nil, err
		}
		text := strings.TrimSpace(strings.Join(paragraphs, "\n"))
		if text == "" {
			continue
		}
		units = append(units, models.StructuralUnit{
			Text:     text,
			Location: models.Location{Kind: models.LocationSlide, Slide: part.number},
		})
	}
	return units, nil
}

// extractParagraphs walks the XML stream collecting character data from
// text elements (textLocal), grouped by enclosing paragraph elements
// (paraLocal).
func extractParagraphs(content []byte, paraLocal, textLocal string) ([]string, error) {
	decoder := xml.NewDecoder(bytes.NewReader(content))

	var (
		paragraphs []string
		current    strings.Builder
		depth      int // nesting inside a paragraph element
		inText     bool
	)

	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptFile, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case paraLocal:
				depth++
			case textLocal:
				if depth > 0 {
					inText = true
				}
			}
		case xml.EndElement:
			switch t.Name.Local {
			case paraLocal:
				if depth > 0 {
					depth--
					if depth == 0 {
						paragraphs = append(paragraphs, current.String())
						current.Reset()
					}
				}
			case textLocal:
				inText = false
			}
		case xml.CharData:
			if inText {
				current.Write(t)
			}
		}
	}

	if current.Len() > 0 {
		paragraphs = append(paragraphs, current.String())
	}
	return paragraphs, nil
}
