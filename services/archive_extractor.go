package services

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"unicode/utf8"

	"iqbot/internal/logger"
	"iqbot/models"

	"github.com/PuerkitoBio/goquery"
	"github.com/yuin/goldmark"
)

// maxNoteSize bounds how much of a single archive entry is read.
const maxNoteSize = 32 << 20

// ArchiveExtractor reads the Markdown notes of a zip export. Each note
// becomes its own section.
type ArchiveExtractor struct {
	markdown goldmark.Markdown
}

func NewArchiveExtractor() *ArchiveExtractor {
	return &ArchiveExtractor{markdown: goldmark.New()}
}

// IsNote reports whether an archive entry is a Markdown note.
func IsNote(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ".md", ".markdown":
		return true
	}
	return false
}

func (e *ArchiveExtractor) Extract(ctx context.Context, up Upload) (*Document, error) {
	fail := func(err error) error {
		return &ExtractionError{Kind: models.SourceKindArchive, Source: up.Name, Err: err}
	}

	zr, err := zip.NewReader(bytes.NewReader(up.Data), int64(len(up.Data)))
	if err != nil {
		return nil, fail(fmt.Errorf("failed to open archive: %w", err))
	}

	doc := &Document{Name: up.Name, Kind: models.SourceKindArchive}
	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return nil, fail(err)
		}
		if f.FileInfo().IsDir() || !IsNote(f.Name) {
			continue
		}

		raw, err := readEntry(f)
		if err != nil {
			logger.Warn("Skipping unreadable note", "source", up.Name, "entry", f.Name, "error", err)
			continue
		}
		if !utf8.Valid(raw) {
			logger.Warn("Skipping note that is not UTF-8", "source", up.Name, "entry", f.Name)
			continue
		}

		text, err := e.noteText(raw)
		if err != nil {
			logger.Warn("Skipping note that failed to render", "source", up.Name, "entry", f.Name, "error", err)
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		doc.Sections = append(doc.Sections, Section{Name: f.Name, Text: text})
	}

	if len(doc.Sections) == 0 {
		return nil, fail(fmt.Errorf("no readable content found in archive"))
	}
	return doc, nil
}

// noteText renders Markdown to HTML and keeps the text nodes, so headings
// and paragraphs stay on separate lines.
func (e *ArchiveExtractor) noteText(src []byte) (string, error) {
	var html bytes.Buffer
	if err := e.markdown.Convert(src, &html); err != nil {
		return "", err
	}
	dom, err := goquery.NewDocumentFromReader(&html)
	if err != nil {
		return "", err
	}
	return dom.Text(), nil
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, maxNoteSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxNoteSize {
		return nil, fmt.Errorf("note larger than %d bytes", maxNoteSize)
	}
	return data, nil
}
