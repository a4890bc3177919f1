package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"iqbot/internal/logger"
	"iqbot/models"

	"github.com/ledongthuc/pdf"
)

// pageSeparator sits between the text of consecutive pages.
const pageSeparator = "\n\n"

// ErrNoText is returned when a source yields only whitespace.
var ErrNoText = errors.New("no text could be extracted")

// PDFExtractor reads the text layer of a PDF page by page.
type PDFExtractor struct{}

func NewPDFExtractor() *PDFExtractor { return &PDFExtractor{} }

// Extract returns the pages of up as one section with page offsets.
func (e *PDFExtractor) Extract(ctx context.Context, up Upload) (doc *Document, err error) {
	fail := func(err error) error {
		return &ExtractionError{Kind: models.SourceKindPDF, Source: up.Name, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return nil, fail(err)
	}

	// The PDF reader panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			doc = nil
			err = fail(fmt.Errorf("malformed PDF: %v", r))
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(up.Data), int64(len(up.Data)))
	if err != nil {
		return nil, fail(fmt.Errorf("failed to open PDF: %w", err))
	}

	pages := reader.NumPage()
	var sb strings.Builder
	starts := make([]int, 0, pages)
	for i := 1; i <= pages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, fail(err)
		}
		if i > 1 {
			sb.WriteString(pageSeparator)
		}
		starts = append(starts, sb.Len())

		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		// Font resource names are scoped to the page that declares them.
		fonts := make(map[string]*pdf.Font)
		for _, name := range page.Fonts() {
			f := page.Font(name)
			fonts[name] = &f
		}
		text, err := page.GetPlainText(fonts)
		if err != nil {
			logger.Warn("PDF page has no readable text", "source", up.Name, "page", i, "error", err)
			continue
		}
		sb.WriteString(text)
	}

	full := sb.String()
	if strings.TrimSpace(full) == "" {
		return nil, fail(ErrNoText)
	}

	return &Document{
		Name:     up.Name,
		Kind:     models.SourceKindPDF,
		Sections: []Section{{Name: up.Name, Text: full, PageStarts: starts}},
	}, nil
}
