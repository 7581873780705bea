package crawler

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ChainFetcher tries the static fetcher first and falls through to the
// rendered fetcher when the static pass reports a page that needs rendering.
type ChainFetcher struct {
	static   Fetcher
	rendered Fetcher // nil disables the fallback
}

// NewChainFetcher creates a ChainFetcher. rendered may be nil, in which case
// pages that need rendering surface as fetch errors.
func NewChainFetcher(static, rendered Fetcher) *ChainFetcher {
	return &ChainFetcher{static: static, rendered: rendered}
}

func (c *ChainFetcher) Name() string { return "chain" }

// Fetch tries each strategy in order, returning the first success.
func (c *ChainFetcher) Fetch(ctx context.Context, pageURL string) (*Page, error) {
	page, err := c.static.Fetch(ctx, pageURL)
	if err == nil {
		return page, nil
	}
	if !eris.Is(err, ErrNeedsRender) || c.rendered == nil {
		return nil, err
	}

	zap.L().Debug("static fetch needs rendering, falling through",
		zap.String("url", pageURL),
		zap.Error(err),
	)

	page, rerr := c.rendered.Fetch(ctx, pageURL)
	if rerr != nil {
		return nil, eris.Wrap(rerr, "chain: rendered fallback failed")
	}
	return page, nil
}
