package services

import (
	"fmt"
	"sort"

	"iqbot/models"
)

// ExtractionError reports why one upload or URL produced no text. Other
// items in the same batch are unaffected.
type ExtractionError struct {
	Kind       models.SourceKind
	Source     string
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *ExtractionError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("extract %s %q: HTTP %d: %v", e.Kind, e.Source, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("extract %s %q: %v", e.Kind, e.Source, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Section is one independently chunked unit of a document: the whole text of
// a PDF or web page, or one note of an archive.
type Section struct {
	Name string
	Text string
	// PageStarts[i] is the byte offset in Text where page i+1 begins.
	PageStarts []int
}

// PageAt maps a byte offset to a 1-based page number, or 0 when the section
// has no pages.
func (s Section) PageAt(offset int) int {
	if len(s.PageStarts) == 0 {
		return 0
	}
	i := sort.Search(len(s.PageStarts), func(i int) bool { return s.PageStarts[i] > offset })
	if i == 0 {
		return 1
	}
	return i
}

// Document is the extracted text of one source.
type Document struct {
	Name      string
	Kind      models.SourceKind
	OriginURL string
	Sections  []Section
}

// Upload is a named file body handed to an extractor.
type Upload struct {
	Name string
	Data []byte
}
