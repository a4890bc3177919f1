package crawler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"iqbot/internal/logger"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/brotli"
	colly "github.com/gocolly/colly/v2"
	"golang.org/x/net/html/charset"
)

// FetchConfig controls how a single page is fetched.
type FetchConfig struct {
	UserAgent     string
	Timeout       time.Duration
	RenderJS      bool
	RenderTimeout time.Duration
}

// Page is the readable content of one fetched URL.
type Page struct {
	URL        string
	FinalURL   string
	Title      string
	Text       string
	StatusCode int
	Rendered   bool
}

// FetchError describes a failed fetch. StatusCode is zero for network
// failures.
type FetchError struct {
	URL        string
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: HTTP %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ErrNoContent is returned when a page has no readable text.
var ErrNoContent = errors.New("page has no readable text")

// Fetcher downloads single pages. Each call uses a fresh collector so no
// visited-URL state leaks between fetches.
type Fetcher struct {
	cfg       FetchConfig
	transport http.RoundTripper
	render    func(ctx context.Context, pageURL, userAgent string, timeout time.Duration) (string, error)
}

func NewFetcher(cfg FetchConfig) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RenderTimeout <= 0 {
		cfg.RenderTimeout = 20 * time.Second
	}
	return &Fetcher{
		cfg: cfg,
		transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			TLSHandshakeTimeout:   cfg.Timeout,
			ResponseHeaderTimeout: cfg.Timeout,
		},
		render: renderPageHTML,
	}
}

// NormalizeURL adds a missing scheme and rejects anything but http(s).
func NormalizeURL(rawURL string) (*url.URL, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, fmt.Errorf("empty URL")
	}
	if !strings.Contains(rawURL, "://") {
		rawURL = "https://" + rawURL
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	parsed.Scheme = strings.ToLower(parsed.Scheme)
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("unsupported URL scheme %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("URL %q has no host", rawURL)
	}
	parsed.Fragment = ""
	return parsed, nil
}

// Fetch downloads rawURL and extracts its main text.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	parsed, err := NormalizeURL(rawURL)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}
	target := parsed.String()

	c := colly.NewCollector(
		colly.StdlibContext(ctx),
		colly.UserAgent(f.cfg.UserAgent),
	)
	c.WithTransport(f.transport)
	c.SetRequestTimeout(f.cfg.Timeout)
	// Non-2xx responses reach OnResponse so their status can be reported.
	c.ParseHTTPErrorResponse = true

	var (
		page     *Page
		fetchErr error
	)

	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.5")
		r.Headers.Set("Accept-Language", "en-US,en;q=0.9")
		r.Headers.Set("Accept-Encoding", "gzip, br")
	})

	c.OnResponse(func(r *colly.Response) {
		if r.StatusCode < 200 || r.StatusCode > 299 {
			fetchErr = &FetchError{
				URL:        target,
				StatusCode: r.StatusCode,
				Retryable:  retryableStatus(r.StatusCode),
				Err:        errors.New(http.StatusText(r.StatusCode)),
			}
			return
		}

		contentType := r.Headers.Get("Content-Type")
		body, err := decodeBody(r.Body, r.Headers.Get("Content-Encoding"), contentType)
		if err != nil {
			fetchErr = &FetchError{URL: target, StatusCode: r.StatusCode, Err: err}
			return
		}

		p := &Page{URL: target, FinalURL: r.Request.URL.String(), StatusCode: r.StatusCode}
		switch {
		case isHTML(contentType, body):
			doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
			if err != nil {
				fetchErr = &FetchError{URL: target, StatusCode: r.StatusCode, Err: fmt.Errorf("parse HTML: %w", err)}
				return
			}
			p.Title, p.Text = ExtractContent(doc)
		case strings.HasPrefix(strings.ToLower(contentType), "text/"):
			p.Text = strings.Join(strings.Fields(string(body)), " ")
		default:
			fetchErr = &FetchError{URL: target, StatusCode: r.StatusCode, Err: fmt.Errorf("unsupported content type %q", contentType)}
			return
		}
		page = p
	})

	c.OnError(func(r *colly.Response, err error) {
		if fetchErr != nil {
			return
		}
		status := 0
		if r != nil {
			status = r.StatusCode
		}
		fetchErr = &FetchError{URL: target, StatusCode: status, Retryable: isRetryableNetErr(err) || retryableStatus(status), Err: err}
	})

	visitErr := c.Visit(target)
	if fetchErr == nil && visitErr != nil {
		fetchErr = &FetchError{URL: target, Retryable: isRetryableNetErr(visitErr), Err: visitErr}
	}
	if fetchErr != nil {
		logger.Warn("Page fetch failed", "url", target, "error", fetchErr)
		return nil, fetchErr
	}
	if page == nil {
		return nil, &FetchError{URL: target, Err: errors.New("no response received")}
	}

	if page.Text == "" && f.cfg.RenderJS && f.render != nil {
		f.renderInto(ctx, page)
	}
	if page.Text == "" {
		return nil, &FetchError{URL: target, StatusCode: page.StatusCode, Err: ErrNoContent}
	}
	return page, nil
}

// renderInto retries extraction on a browser-rendered copy of the page.
// Render failures keep the static result.
func (f *Fetcher) renderInto(ctx context.Context, page *Page) {
	html, err := f.render(ctx, page.FinalURL, f.cfg.UserAgent, f.cfg.RenderTimeout)
	if err != nil {
		logger.Warn("JS render failed, keeping static result", "url", page.URL, "error", err)
		return
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return
	}
	title, text := ExtractContent(doc)
	if text == "" {
		return
	}
	if title != "" {
		page.Title = title
	}
	page.Text = text
	page.Rendered = true
}

// decodeBody undoes brotli encoding, which colly leaves alone, and converts
// bodies whose charset is only declared in-document. colly already converts
// header-declared charsets.
func decodeBody(body []byte, contentEncoding, contentType string) ([]byte, error) {
	if strings.Contains(strings.ToLower(contentEncoding), "br") {
		decompressed, err := io.ReadAll(brotli.NewReader(bytes.NewReader(body)))
		if err != nil {
			return nil, fmt.Errorf("brotli decode: %w", err)
		}
		body = decompressed
	}
	if len(body) == 0 || strings.Contains(strings.ToLower(contentType), "charset") {
		return body, nil
	}
	utf8Reader, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		return body, nil
	}
	decoded, err := io.ReadAll(utf8Reader)
	if err != nil || len(decoded) == 0 {
		return body, nil
	}
	return decoded, nil
}

func isHTML(contentType string, body []byte) bool {
	ct := strings.ToLower(contentType)
	if strings.Contains(ct, "html") {
		return true
	}
	if ct != "" {
		return false
	}
	return strings.Contains(strings.ToLower(http.DetectContentType(body)), "html")
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= http.StatusInternalServerError
}

func isRetryableNetErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
