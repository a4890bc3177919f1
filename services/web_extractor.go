package services

import (
	"context"
	"errors"
	"net/url"
	"path"
	"strings"

	"iqbot/internal/crawler"
	"iqbot/models"
)

// PageFetcher downloads one page and returns its readable text.
type PageFetcher interface {
	Fetch(ctx context.Context, rawURL string) (*crawler.Page, error)
}

// WebExtractor turns a single URL into a one-section document.
type WebExtractor struct {
	fetcher PageFetcher
}

func NewWebExtractor(fetcher PageFetcher) *WebExtractor {
	return &WebExtractor{fetcher: fetcher}
}

func (e *WebExtractor) Extract(ctx context.Context, rawURL string) (*Document, error) {
	u, err := normalizeSourceURL(rawURL)
	if err != nil {
		return nil, err
	}
	target := u.String()
	name := WebSourceName(u)

	page, err := e.fetcher.Fetch(ctx, target)
	if err != nil {
		xerr := &ExtractionError{Kind: models.SourceKindWeb, Source: target, Err: err}
		var fe *crawler.FetchError
		if errors.As(err, &fe) {
			xerr.StatusCode = fe.StatusCode
			xerr.Retryable = fe.Retryable
		}
		return nil, xerr
	}
	if strings.TrimSpace(page.Text) == "" {
		return nil, &ExtractionError{Kind: models.SourceKindWeb, Source: target, Err: crawler.ErrNoContent}
	}

	section := page.Title
	if section == "" {
		section = name
	}
	return &Document{
		Name:      name,
		Kind:      models.SourceKindWeb,
		OriginURL: target,
		Sections:  []Section{{Name: section, Text: page.Text}},
	}, nil
}

// WebSourceName names a page after the last non-empty path segment, or the
// host when the path is empty.
func WebSourceName(u *url.URL) string {
	p := strings.TrimRight(u.EscapedPath(), "/")
	if p != "" {
		if seg := path.Base(p); seg != "" && seg != "/" && seg != "." {
			if unescaped, err := url.PathUnescape(seg); err == nil {
				return unescaped
			}
			return seg
		}
	}
	return u.Hostname()
}

func normalizeSourceURL(rawURL string) (*url.URL, error) {
	u, err := crawler.NormalizeURL(rawURL)
	if err != nil {
		return nil, &ExtractionError{Kind: models.SourceKindWeb, Source: rawURL, Err: err}
	}
	return u, nil
}
