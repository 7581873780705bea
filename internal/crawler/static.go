package crawler

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

const maxPageBodyBytes = 1 << 20 // 1 MB

// StaticFetcher fetches pages with plain net/http and extracts content from
// the raw HTML. Free, no API calls. Pages behind bot challenges or JS-only
// shells return ErrNeedsRender so the chain can fall through.
type StaticFetcher struct {
	client    *http.Client
	userAgent string
}

// NewStaticFetcher creates a StaticFetcher with sensible transport defaults.
// The per-page deadline comes from the crawl context, not the client.
func NewStaticFetcher(userAgent string) *StaticFetcher {
	return &StaticFetcher{
		client: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 10 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
				MaxIdleConnsPerHost: 10,
				MaxConnsPerHost:     20,
			},
		},
		userAgent: userAgent,
	}
}

func (f *StaticFetcher) Name() string { return "static" }

// Fetch retrieves a URL and extracts its content.
func (f *StaticFetcher) Fetch(ctx context.Context, pageURL string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "static: create request")
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "static: fetch")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBodyBytes))
	if err != nil {
		return nil, eris.Wrap(err, "static: read body")
	}

	if blocked, blockType := detectBlock(resp.StatusCode, resp.Header, body); blocked {
		return nil, eris.Wrapf(ErrNeedsRender, "static: blocked (%s)", blockType)
	}

	if resp.StatusCode >= 400 {
		return &Page{URL: pageURL, StatusCode: resp.StatusCode}, nil
	}

	page, err := parsePage(pageURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	page.StatusCode = resp.StatusCode

	// A tiny body with no extractable signal is usually a client-rendered
	// shell; hand it to the rendering fallback.
	if len(body) < 512 && page.Title == "" && page.H1 == "" {
		return nil, eris.Wrap(ErrNeedsRender, "static: empty shell")
	}

	return page, nil
}

// blockType describes the kind of anti-bot block detected.
type blockType string

const (
	blockNone       blockType = ""
	blockCloudflare blockType = "cloudflare"
	blockCaptcha    blockType = "captcha"
	blockJSShell    blockType = "js_shell"
)

// detectBlock checks a response for signs of anti-bot protection.
func detectBlock(statusCode int, header http.Header, body []byte) (bool, blockType) {
	// Cloudflare: 403/503 with cf-* headers.
	if statusCode == 403 || statusCode == 503 {
		if header.Get("cf-ray") != "" || header.Get("cf-cache-status") != "" {
			return true, blockCloudflare
		}
		if header.Get("server") == "cloudflare" {
			return true, blockCloudflare
		}
	}

	lower := strings.ToLower(string(body))

	// Cloudflare challenge page markers.
	if strings.Contains(lower, "checking your browser") ||
		strings.Contains(lower, "cf-browser-verification") ||
		strings.Contains(lower, "cloudflare") && strings.Contains(lower, "challenge") {
		return true, blockCloudflare
	}

	// Captcha interstitials. Only trip on small bodies so a marketing page
	// that merely mentions a captcha product doesn't count.
	if len(body) < 4000 {
		if strings.Contains(lower, "recaptcha") || strings.Contains(lower, "hcaptcha") {
			return true, blockCaptcha
		}
	}

	// JS-only shell: very small body with noscript or meta refresh.
	if len(body) < 2000 {
		if strings.Contains(lower, "<noscript") && strings.Contains(lower, "javascript") {
			return true, blockJSShell
		}
		if strings.Contains(lower, "meta http-equiv=\"refresh\"") {
			return true, blockJSShell
		}
	}

	return false, blockNone
}
