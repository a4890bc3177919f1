package crawler

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFetcher() *Fetcher {
	return NewFetcher(FetchConfig{UserAgent: "IQBot/1.0 (test)", Timeout: 2 * time.Second})
}

func docFrom(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc
}

func TestExtractContentPrefersWikiBody(t *testing.T) {
	doc := docFrom(t, `<html><head><title>Go (language)</title></head><body>
		<header>Site header</header>
		<nav>Main menu</nav>
		<main>Generic main</main>
		<div id="mw-content-text"><p>Go is a   statically typed</p><p>compiled language.</p>
		<script>var x = 1;</script></div>
		<footer>Footer links</footer>
	</body></html>`)

	title, text := ExtractContent(doc)
	assert.Equal(t, "Go (language)", title)
	assert.Equal(t, "Go is a   statically typed compiled language.", text)
}

func TestExtractContentFallsThroughEmptySelectors(t *testing.T) {
	doc := docFrom(t, `<html><body>
		<main>   </main>
		<article><h1>Title</h1><p>Body text</p></article>
	</body></html>`)

	_, text := ExtractContent(doc)
	assert.Equal(t, "Title Body text", text)
}

func TestExtractContentWholePageFallback(t *testing.T) {
	doc := docFrom(t, `<html><body><nav>menu</nav><div>alpha</div><div> beta </div><style>p{}</style></body></html>`)

	_, text := ExtractContent(doc)
	assert.Equal(t, "alpha beta", text)
}

func TestFetchSendsUserAgent(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.UserAgent()
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><head><title>T</title></head><body><article>Hello world</article></body></html>`))
	}))
	defer srv.Close()

	page, err := newTestFetcher().Fetch(context.Background(), srv.URL+"/wiki/Hello")
	require.NoError(t, err)
	assert.Equal(t, "IQBot/1.0 (test)", gotUA)
	assert.Equal(t, "Hello world", page.Text)
	assert.Equal(t, "T", page.Title)
	assert.Equal(t, http.StatusOK, page.StatusCode)
}

func TestFetchNotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := newTestFetcher().Fetch(context.Background(), srv.URL+"/missing")
	require.Error(t, err)

	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, http.StatusNotFound, fe.StatusCode)
	assert.False(t, fe.Retryable)
}

func TestFetchServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newTestFetcher().Fetch(context.Background(), srv.URL)
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, http.StatusServiceUnavailable, fe.StatusCode)
	assert.True(t, fe.Retryable)
}

func TestFetchTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	f := NewFetcher(FetchConfig{UserAgent: "t", Timeout: 200 * time.Millisecond})
	_, err := f.Fetch(context.Background(), srv.URL)
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Zero(t, fe.StatusCode)
	assert.True(t, fe.Retryable)
}

func TestFetchDecodesBrotli(t *testing.T) {
	var buf bytes.Buffer
	bw := brotli.NewWriter(&buf)
	_, err := bw.Write([]byte(`<html><body><main>compressed content</main></body></html>`))
	require.NoError(t, err)
	require.NoError(t, bw.Close())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Content-Encoding", "br")
		_, _ = w.Write(buf.Bytes())
	}))
	defer srv.Close()

	page, err := newTestFetcher().Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "compressed content", page.Text)
}

func TestFetchMetaDeclaredCharset(t *testing.T) {
	// "café" in ISO-8859-1, declared only in a meta tag.
	body := []byte("<html><head><meta charset=\"iso-8859-1\"></head><body><main>caf\xe9</main></body></html>")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	page, err := newTestFetcher().Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "café", page.Text)
}

func TestFetchPlainText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("line one\n\nline   two\n"))
	}))
	defer srv.Close()

	page, err := newTestFetcher().Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "line one line two", page.Text)
}

func TestFetchEmptyPageRendersWhenEnabled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body><div id="app"></div><script>render()</script></body></html>`))
	}))
	defer srv.Close()

	f := NewFetcher(FetchConfig{UserAgent: "t", Timeout: time.Second, RenderJS: true})
	f.render = func(ctx context.Context, pageURL, ua string, timeout time.Duration) (string, error) {
		return `<html><body><div id="app"><article>rendered text</article></div></body></html>`, nil
	}
	page, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.True(t, page.Rendered)
	assert.Equal(t, "rendered text", page.Text)

	f.render = func(ctx context.Context, pageURL, ua string, timeout time.Duration) (string, error) {
		return "", errors.New("no chrome")
	}
	_, err = f.Fetch(context.Background(), srv.URL)
	assert.ErrorIs(t, err, ErrNoContent)
}

func TestNormalizeURL(t *testing.T) {
	u, err := NormalizeURL("en.wikipedia.org/wiki/Go#History")
	require.NoError(t, err)
	assert.Equal(t, "https://en.wikipedia.org/wiki/Go", u.String())

	_, err = NormalizeURL("ftp://example.com/file")
	assert.Error(t, err)
	_, err = NormalizeURL("   ")
	assert.Error(t, err)
}

func TestRenderLive(t *testing.T) {
	if testing.Short() {
		t.Skip("short mode")
	}
	html, err := renderPageHTML(context.Background(), "https://example.com/", "IQBot/1.0", 10*time.Second)
	if err != nil {
		t.Skipf("headless Chrome unavailable: %v", err)
	}
	assert.Contains(t, html, "<body")
}
