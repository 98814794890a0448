package extractor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/dyatlov/go-opengraph/opengraph"
	"github.com/rasha-hantash/locscout/steps/types"
	"golang.org/x/net/html/charset"
)

const (
	defaultUserAgent = "locscout/1.0 (+https://github.com/rasha-hantash/locscout)"
	maxPageBytes     = 10 * 1024 * 1024
)

// blockedPrefixes are pages a browser will not let an extension read.
var blockedPrefixes = []string{"chrome://", "edge://", "about:", "chrome-extension://", "view-source:"}

// Extractor turns a page into a types.PageContent.
type Extractor struct {
	httpClient *http.Client
}

// NewExtractor creates an extractor whose fetches time out after httpTimeout.
func NewExtractor(httpTimeout time.Duration) *Extractor {
	return &Extractor{
		httpClient: &http.Client{Timeout: httpTimeout},
	}
}

// Name implements the Step interface
func (e *Extractor) Name() string {
	return "extractor"
}

// Run implements the Step interface. A snapshot that cannot be read, or
// that has no visible text, is retried once by fetching the page directly.
func (e *Extractor) Run(ctx context.Context, run *types.Run) error {
	page, err := e.Extract(ctx, run.URL, run.HTML)
	if len(run.HTML) > 0 && !errors.Is(err, types.ErrUnsupportedPage) && (err != nil || page.Text == "") {
		slog.Warn("snapshot unreadable, fetching page",
			slog.String("url", run.URL),
			slog.Any("error", err))
		page, err = e.Extract(ctx, run.URL, nil)
	}
	if err != nil {
		return err
	}

	run.Page = page
	slog.Info("extracted page",
		slog.String("url", page.URL),
		slog.String("title", page.Title),
		slog.Int("text_chars", len([]rune(page.Text))),
		slog.Int("images", len(page.Images)),
		slog.Bool("address", page.Address != ""),
		slog.Bool("phone", page.Phone != ""))
	return nil
}

// Extract reads rawHTML, or fetches rawURL when rawHTML is empty.
func (e *Extractor) Extract(ctx context.Context, rawURL string, rawHTML []byte) (*types.PageContent, error) {
	if err := CheckURL(rawURL); err != nil {
		return nil, &types.ExtractionError{URL: rawURL, Err: err}
	}

	if len(rawHTML) == 0 {
		body, err := e.fetch(ctx, rawURL)
		if err != nil {
			return nil, &types.ExtractionError{URL: rawURL, Err: err}
		}
		rawHTML = body
	}

	page, err := Parse(rawURL, rawHTML)
	if err != nil {
		return nil, &types.ExtractionError{URL: rawURL, Err: err}
	}
	return page, nil
}

// CheckURL rejects browser-internal and non-web pages.
func CheckURL(rawURL string) error {
	if rawURL == "" {
		return types.ErrUnsupportedPage
	}
	for _, p := range blockedPrefixes {
		if strings.HasPrefix(rawURL, p) {
			return types.ErrUnsupportedPage
		}
	}
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return types.ErrUnsupportedPage
	}
	return nil
}

// Parse builds the PageContent for an HTML document.
func Parse(pageURL string, rawHTML []byte) (*types.PageContent, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(rawHTML))
	if err != nil {
		return nil, fmt.Errorf("parsing HTML: %w", err)
	}
	doc.Find(strings.Join(noiseSelectors, ",")).Remove()

	base, _ := url.Parse(pageURL)

	page := &types.PageContent{
		Title:  strings.TrimSpace(doc.Find("title").First().Text()),
		URL:    pageURL,
		Meta:   extractMeta(doc),
		Text:   extractText(doc),
		Images: extractImages(doc, base),
	}
	if page.Title == "" {
		page.Title = openGraphTitle(rawHTML)
	}
	page.Address = detectAddress(doc)
	page.Phone = detectPhone(doc)
	page.Hours = detectHours(doc)
	return page, nil
}

func openGraphTitle(rawHTML []byte) string {
	og := opengraph.NewOpenGraph()
	if err := og.ProcessHTML(bytes.NewReader(rawHTML)); err != nil {
		return ""
	}
	return strings.TrimSpace(og.Title)
}

func extractMeta(doc *goquery.Document) map[string]string {
	meta := make(map[string]string)
	doc.Find("meta").Each(func(_ int, s *goquery.Selection) {
		name, ok := s.Attr("name")
		if !ok || name == "" {
			name, _ = s.Attr("property")
		}
		content, _ := s.Attr("content")
		if name != "" && content != "" {
			meta[name] = content
		}
	})
	return meta
}

// -------------------- HTTP ------------------

func (e *Extractor) fetch(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", defaultUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("GET %s: %s", u, resp.Status)
	}

	// Many Japanese venue sites still serve Shift_JIS or EUC-JP.
	body, err := charset.NewReader(io.LimitReader(resp.Body, maxPageBytes), resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, fmt.Errorf("detecting charset: %w", err)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("reading content: %w", err)
	}
	return data, nil
}
