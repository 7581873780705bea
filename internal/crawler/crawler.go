package crawler

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/beaconhq/growth-engine/internal/model"
)

// Beyond the seed's frontier, each page only contributes a handful of links
// so the deepest level stays bounded.
const maxChildLinksDeep = 5

// Config bounds one crawl.
type Config struct {
	MaxDepth           int           // 0 = seed only
	MaxDepthOneLinks   int           // frontier cap from the seed page
	PageTimeout        time.Duration // per-page fetch deadline
	PoolSize           int           // concurrent fetches across the crawl
	PerHostConcurrency int
	HostRate           float64 // requests per second per host
	HostBurst          int
}

func (c Config) withDefaults() Config {
	if c.MaxDepth <= 0 {
		c.MaxDepth = 2
	}
	if c.MaxDepthOneLinks <= 0 {
		c.MaxDepthOneLinks = 20
	}
	if c.PageTimeout <= 0 {
		c.PageTimeout = 15 * time.Second
	}
	if c.PoolSize <= 0 {
		c.PoolSize = 8
	}
	return c
}

// Crawler fetches a seed URL and a bounded same-host frontier around it.
type Crawler struct {
	fetcher Fetcher
	robots  *RobotsChecker
	cfg     Config
	hosts   *hostLimiters

	nowFunc func() time.Time
}

// New creates a Crawler.
func New(fetcher Fetcher, robots *RobotsChecker, cfg Config) *Crawler {
	cfg = cfg.withDefaults()
	return &Crawler{
		fetcher: fetcher,
		robots:  robots,
		cfg:     cfg,
		hosts:   newHostLimiters(cfg.HostRate, cfg.HostBurst, cfg.PerHostConcurrency),
		nowFunc: time.Now,
	}
}

type fetchOutcome struct {
	result model.CrawlResult
	page   *Page
}

// Crawl fetches the target's seed page and its frontier, breadth-first up to
// the configured depth. Every attempted URL yields exactly one result; an
// unreachable seed yields a single non-ok result rather than an error, so a
// dead competitor site degrades the analysis instead of failing the stage.
func (c *Crawler) Crawl(ctx context.Context, target model.CrawlTarget) []model.CrawlResult {
	seed := c.fetchPage(ctx, target, target.URL, 0)
	all := []*fetchOutcome{seed}

	if seed.result.Status != model.CrawlOK {
		zap.L().Warn("seed page not crawlable",
			zap.String("url", target.URL),
			zap.String("status", string(seed.result.Status)),
		)
		return collectResults(all)
	}

	host := hostOf(target.URL)
	visited := map[string]bool{seed.result.URL: true, target.URL: true}
	level := []*fetchOutcome{seed}

	for depth := 1; depth <= c.cfg.MaxDepth; depth++ {
		linkCap := maxChildLinksDeep
		if depth == 1 {
			linkCap = c.cfg.MaxDepthOneLinks
		}

		type job struct {
			parent *fetchOutcome
			url    string
		}
		var jobs []job
		for _, p := range level {
			taken := 0
			for _, link := range p.page.Links() {
				if taken >= linkCap {
					break
				}
				if visited[link] || hostOf(link) != host {
					continue
				}
				visited[link] = true
				jobs = append(jobs, job{parent: p, url: link})
				taken++
			}
		}
		if len(jobs) == 0 {
			break
		}

		outcomes := make([]*fetchOutcome, len(jobs))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(c.cfg.PoolSize)
		for i, j := range jobs {
			g.Go(func() error {
				outcomes[i] = c.fetchPage(gctx, target, j.url, depth)
				return nil
			})
		}
		_ = g.Wait()

		level = level[:0]
		for i, o := range outcomes {
			all = append(all, o)
			// Flag links that resolved to an HTTP error on the page that
			// referenced them.
			if o.page != nil && o.page.StatusCode >= 400 {
				jobs[i].parent.result.BrokenLinks = append(jobs[i].parent.result.BrokenLinks, o.result.URL)
			}
			if o.result.Status == model.CrawlOK {
				level = append(level, o)
			}
		}
	}

	results := collectResults(all)
	zap.L().Info("crawl complete",
		zap.String("target", string(target.Kind)),
		zap.String("url", target.URL),
		zap.Int("pages", len(results)),
	)
	return results
}

// CrawlAll crawls every target, bounded by the global pool, and returns the
// results in target order.
func (c *Crawler) CrawlAll(ctx context.Context, targets []model.CrawlTarget) []model.CrawlResult {
	perTarget := make([][]model.CrawlResult, len(targets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(len(targets))
	for i, t := range targets {
		g.Go(func() error {
			perTarget[i] = c.Crawl(gctx, t)
			return nil
		})
	}
	_ = g.Wait()

	var out []model.CrawlResult
	for _, rs := range perTarget {
		out = append(out, rs...)
	}
	return out
}

func (c *Crawler) fetchPage(ctx context.Context, target model.CrawlTarget, pageURL string, depth int) *fetchOutcome {
	out := &fetchOutcome{result: model.CrawlResult{
		Target:    target,
		URL:       pageURL,
		Depth:     depth,
		FetchedAt: c.nowFunc().UTC(),
	}}

	allowed, err := c.robots.Allowed(ctx, pageURL)
	if err != nil {
		out.result.Status = model.CrawlError
		return out
	}
	if !allowed {
		out.result.Status = model.CrawlBlocked
		zap.L().Debug("url disallowed by robots.txt", zap.String("url", pageURL))
		return out
	}
	if delay := c.robots.CrawlDelay(hostOf(pageURL)); delay > 0 {
		c.hosts.slow(hostOf(pageURL), delay)
	}

	release, err := c.hosts.acquire(ctx, hostOf(pageURL))
	if err != nil {
		out.result.Status = classifyFetchError(err)
		return out
	}
	defer release()

	fetchCtx, cancel := context.WithTimeout(ctx, c.cfg.PageTimeout)
	defer cancel()

	page, err := c.fetcher.Fetch(fetchCtx, pageURL)
	if err != nil {
		out.result.Status = classifyFetchError(err)
		zap.L().Debug("page fetch failed",
			zap.String("url", pageURL),
			zap.String("status", string(out.result.Status)),
			zap.Error(err),
		)
		return out
	}

	out.page = page
	if page.StatusCode >= 400 {
		out.result.Status = model.CrawlError
		return out
	}

	out.result.Status = model.CrawlOK
	out.result.Title = page.Title
	out.result.MetaDescription = page.MetaDescription
	out.result.H1 = page.H1
	out.result.Links = page.Links()
	return out
}

func classifyFetchError(err error) model.CrawlStatus {
	if eris.Is(err, context.DeadlineExceeded) {
		return model.CrawlTimedOut
	}
	return model.CrawlError
}

func collectResults(outcomes []*fetchOutcome) []model.CrawlResult {
	results := make([]model.CrawlResult, len(outcomes))
	for i, o := range outcomes {
		results[i] = o.result
	}
	return results
}
