package crawler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func TestHostLimiters_SlowAppliesCrawlDelay(t *testing.T) {
	h := newHostLimiters(100, 10, 2)
	h.slow("acme.example", 500*time.Millisecond)

	hl := h.forHost("acme.example")
	assert.Equal(t, rate.Every(500*time.Millisecond), hl.limiter.Limit())
	assert.Equal(t, 1, hl.limiter.Burst())

	// Other hosts keep the configured rate.
	assert.Equal(t, rate.Limit(100), h.forHost("other.example").limiter.Limit())
}

func TestHostLimiters_SlowNeverSpeedsUp(t *testing.T) {
	h := newHostLimiters(2, 2, 2)
	hl := h.forHost("acme.example")

	// A crawl-delay shorter than the configured interval changes nothing.
	h.slow("acme.example", time.Millisecond)
	assert.Equal(t, rate.Limit(2), hl.limiter.Limit())

	h.slow("acme.example", 0)
	assert.Equal(t, rate.Limit(2), hl.limiter.Limit())
}
