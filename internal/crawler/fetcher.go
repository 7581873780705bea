// Package crawler implements the bounded site crawl that feeds tenant
// analysis: seed page plus a limited same-host frontier, robots-compliant,
// with static and rendered fetch strategies.
package crawler

import (
	"context"
	"io"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
)

// ErrNeedsRender signals that a static fetch came back as a script shell or
// bot challenge and the page should be retried through the rendering service.
var ErrNeedsRender = eris.New("crawler: page needs rendering")

// Page is the extracted content of one fetched URL.
type Page struct {
	URL             string
	StatusCode      int
	Title           string
	MetaDescription string
	H1              string

	// Same-host outbound links, grouped by where they appear in the
	// document. Navigation and content links are expanded before footer
	// links when choosing the crawl frontier.
	NavLinks     []string
	ContentLinks []string
	FooterLinks  []string
}

// Links returns all same-host links in frontier priority order.
func (p *Page) Links() []string {
	out := make([]string, 0, len(p.NavLinks)+len(p.ContentLinks)+len(p.FooterLinks))
	out = append(out, p.NavLinks...)
	out = append(out, p.ContentLinks...)
	out = append(out, p.FooterLinks...)
	return out
}

// Fetcher fetches a single URL and extracts its content. Implementations
// return an error only for transport-level failures; HTTP error statuses come
// back as a Page with StatusCode set.
type Fetcher interface {
	Fetch(ctx context.Context, pageURL string) (*Page, error)
	Name() string
}

// parsePage extracts title, meta description, first H1, and same-host links
// from an HTML document.
func parsePage(pageURL string, r io.Reader) (*Page, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, eris.Wrapf(err, "crawler: parse url %s", pageURL)
	}

	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, eris.Wrapf(err, "crawler: parse html %s", pageURL)
	}

	page := &Page{
		URL:             pageURL,
		Title:           strings.TrimSpace(doc.Find("title").First().Text()),
		MetaDescription: strings.TrimSpace(doc.Find(`meta[name="description"]`).AttrOr("content", "")),
		H1:              strings.TrimSpace(doc.Find("h1").First().Text()),
	}

	seen := make(map[string]bool)
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		link, ok := resolveSameHost(base, href)
		if !ok || seen[link] {
			return
		}
		seen[link] = true

		switch {
		case s.Closest("nav, header").Length() > 0:
			page.NavLinks = append(page.NavLinks, link)
		case s.Closest("footer").Length() > 0:
			page.FooterLinks = append(page.FooterLinks, link)
		default:
			page.ContentLinks = append(page.ContentLinks, link)
		}
	})

	return page, nil
}

// resolveSameHost resolves href against base and returns it normalized if it
// stays on the same host. Fragments, mailto/tel, and cross-host links are
// dropped.
func resolveSameHost(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return "", false
	}

	u, err := base.Parse(href)
	if err != nil {
		return "", false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	if !strings.EqualFold(u.Host, base.Host) {
		return "", false
	}

	u.Fragment = ""
	return u.String(), true
}

// hostOf returns the lowercase host of a URL, or "" if it cannot be parsed.
func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}
