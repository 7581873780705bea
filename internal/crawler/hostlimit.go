package crawler

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// hostLimiter bounds one host: a token bucket for request rate and a
// semaphore for in-flight concurrency.
type hostLimiter struct {
	limiter *rate.Limiter
	sem     chan struct{}
}

// hostLimiters hands out per-host limiters, creating them on first use.
type hostLimiters struct {
	mu          sync.Mutex
	hosts       map[string]*hostLimiter
	rate        rate.Limit
	burst       int
	concurrency int
}

func newHostLimiters(r float64, burst, concurrency int) *hostLimiters {
	if r <= 0 {
		r = 2
	}
	if burst <= 0 {
		burst = 2
	}
	if concurrency <= 0 {
		concurrency = 2
	}
	return &hostLimiters{
		hosts:       make(map[string]*hostLimiter),
		rate:        rate.Limit(r),
		burst:       burst,
		concurrency: concurrency,
	}
}

func (h *hostLimiters) forHost(host string) *hostLimiter {
	h.mu.Lock()
	defer h.mu.Unlock()

	hl, ok := h.hosts[host]
	if !ok {
		hl = &hostLimiter{
			limiter: rate.NewLimiter(h.rate, h.burst),
			sem:     make(chan struct{}, h.concurrency),
		}
		h.hosts[host] = hl
	}
	return hl
}

// slow caps the host's request rate to one request per interval. Used for
// hosts whose robots.txt sets a crawl-delay; a host is never sped up past the
// configured rate.
func (h *hostLimiters) slow(host string, interval time.Duration) {
	if interval <= 0 {
		return
	}
	hl := h.forHost(host)
	want := rate.Every(interval)
	if want < hl.limiter.Limit() {
		hl.limiter.SetLimit(want)
		hl.limiter.SetBurst(1)
	}
}

// acquire blocks until the host has both a concurrency slot and a rate token,
// returning a release func for the slot.
func (h *hostLimiters) acquire(ctx context.Context, host string) (func(), error) {
	hl := h.forHost(host)

	select {
	case hl.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, eris.Wrap(ctx.Err(), "crawler: host slot wait")
	}

	if err := hl.limiter.Wait(ctx); err != nil {
		<-hl.sem
		return nil, eris.Wrap(err, "crawler: host rate wait")
	}

	return func() { <-hl.sem }, nil
}
