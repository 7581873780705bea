package crawler

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/beaconhq/growth-engine/internal/resilience"
	"github.com/beaconhq/growth-engine/pkg/render"
)

// RenderedFetcher fetches pages through the rendering service. Used as the
// fallback when a static fetch hits a JS shell or bot challenge. A circuit
// breaker skips the service entirely after repeated failures so a flaky
// upstream degrades to static-only crawling instead of stalling every page.
type RenderedFetcher struct {
	client  render.Client
	breaker *resilience.CircuitBreaker
}

// NewRenderedFetcher creates a RenderedFetcher from a render client.
func NewRenderedFetcher(client render.Client) *RenderedFetcher {
	return &RenderedFetcher{
		client: client,
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			FailureThreshold: 3,
			ResetTimeout:     60 * time.Second,
		}),
	}
}

func (f *RenderedFetcher) Name() string { return "rendered" }

// Fetch renders a URL and extracts its content from the rendered HTML.
func (f *RenderedFetcher) Fetch(ctx context.Context, pageURL string) (*Page, error) {
	return resilience.ExecuteVal(ctx, f.breaker, func(ctx context.Context) (*Page, error) {
		resp, err := f.client.Render(ctx, pageURL)
		if err != nil {
			return nil, err
		}
		if resp.Code != 0 && resp.Code != 200 {
			return nil, eris.Errorf("rendered: service code %d for %s", resp.Code, pageURL)
		}
		if strings.TrimSpace(resp.Data.HTML) == "" {
			return nil, eris.Errorf("rendered: empty html for %s", pageURL)
		}

		page, err := parsePage(pageURL, strings.NewReader(resp.Data.HTML))
		if err != nil {
			return nil, err
		}
		page.StatusCode = 200
		if page.Title == "" {
			page.Title = strings.TrimSpace(resp.Data.Title)
		}
		return page, nil
	})
}
