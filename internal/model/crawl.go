package model

import (
	"strings"
	"time"
)

// TargetKind distinguishes the tenant's own site from competitor sites.
type TargetKind string

const (
	TargetSite       TargetKind = "site"
	TargetCompetitor TargetKind = "competitor"
)

// CrawlTarget is one seed URL to crawl, with its identity.
type CrawlTarget struct {
	Kind TargetKind `json:"kind"`
	URL  string     `json:"url"`
}

// CrawlStatus is the per-URL outcome of a fetch attempt.
type CrawlStatus string

const (
	CrawlOK       CrawlStatus = "ok"
	CrawlBlocked  CrawlStatus = "blocked"
	CrawlTimedOut CrawlStatus = "timed_out"
	CrawlError    CrawlStatus = "error"
)

// CrawlResult is the extracted content of one fetched URL. Results are owned
// by a single job and keyed by (target, url).
type CrawlResult struct {
	Target    CrawlTarget `json:"target"`
	URL       string      `json:"url"`
	Depth     int         `json:"depth"` // 0 = seed page
	FetchedAt time.Time   `json:"fetched_at"`
	Status    CrawlStatus `json:"status"`

	Title           string   `json:"title,omitempty"`
	MetaDescription string   `json:"meta_description,omitempty"`
	H1              string   `json:"h1,omitempty"`
	Links           []string `json:"links,omitempty"`        // same-host outbound
	BrokenLinks     []string `json:"broken_links,omitempty"` // links that returned >= 400
}

// TargetSummary condenses one target's crawl results for retrieval queries
// and the generation prompt.
type TargetSummary struct {
	Target      CrawlTarget `json:"target"`
	Topics      []string    `json:"topics,omitempty"` // page titles and H1s, deduplicated
	Description string      `json:"description,omitempty"`
	PagesOK     int         `json:"pages_ok"`
	PagesFailed int         `json:"pages_failed"`
	BrokenLinks int         `json:"broken_links"`
}

// SummarizeCrawl condenses raw crawl results into per-target summaries.
// Topic order follows result order so identical inputs summarize identically.
func SummarizeCrawl(results []CrawlResult) []TargetSummary {
	byTarget := make(map[CrawlTarget]*TargetSummary)
	var order []CrawlTarget

	for _, r := range results {
		s, ok := byTarget[r.Target]
		if !ok {
			s = &TargetSummary{Target: r.Target}
			byTarget[r.Target] = s
			order = append(order, r.Target)
		}
		if r.Status != CrawlOK {
			s.PagesFailed++
			continue
		}
		s.PagesOK++
		s.BrokenLinks += len(r.BrokenLinks)
		if r.Depth == 0 && r.MetaDescription != "" {
			s.Description = r.MetaDescription
		}
		for _, topic := range []string{r.Title, r.H1} {
			topic = strings.TrimSpace(topic)
			if topic == "" {
				continue
			}
			if !containsFold(s.Topics, topic) {
				s.Topics = append(s.Topics, topic)
			}
		}
	}

	out := make([]TargetSummary, 0, len(order))
	for _, t := range order {
		out = append(out, *byTarget[t])
	}
	return out
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
