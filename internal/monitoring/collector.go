// Package monitoring watches pipeline health: job failure rates and dead
// letter growth, with webhook alerting when thresholds are breached.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/beaconhq/growth-engine/internal/model"
	"github.com/beaconhq/growth-engine/internal/store"
)

// MetricsSnapshot holds a point-in-time view of pipeline health.
type MetricsSnapshot struct {
	// Job metrics within the lookback window.
	JobsTotal     int     `json:"jobs_total"`
	JobsCompleted int     `json:"jobs_completed"`
	JobsFailed    int     `json:"jobs_failed"`
	JobsActive    int     `json:"jobs_active"`
	JobFailRate   float64 `json:"job_fail_rate"`

	// DLQ depth (re-evaluation dead letters, not windowed).
	DLQDepth int64 `json:"dlq_depth"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// DLQDepther reports the dead letter queue length.
type DLQDepther interface {
	Len(ctx context.Context) (int64, error)
}

// Collector gathers metrics from the job store and the DLQ.
type Collector struct {
	store store.Store
	dlq   DLQDepther
}

// NewCollector creates a metrics collector. dlq may be nil.
func NewCollector(st store.Store, dlq DLQDepther) *Collector {
	return &Collector{store: st, dlq: dlq}
}

// Collect gathers a snapshot of pipeline metrics over the lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   time.Now().UTC(),
	}

	cutoff := time.Now().UTC().Add(-time.Duration(lookbackHours) * time.Hour)

	jobs, err := c.store.ListJobs(ctx, model.JobFilter{Limit: 10000})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list jobs")
	}

	for _, j := range jobs {
		if j.RequestedAt.Before(cutoff) {
			continue
		}
		snap.JobsTotal++
		switch j.State {
		case model.JobStateCompleted:
			snap.JobsCompleted++
		case model.JobStateFailed:
			snap.JobsFailed++
		default:
			snap.JobsActive++
		}
	}

	finished := snap.JobsCompleted + snap.JobsFailed
	if finished > 0 {
		snap.JobFailRate = float64(snap.JobsFailed) / float64(finished)
	}

	if c.dlq != nil {
		depth, err := c.dlq.Len(ctx)
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: dlq depth")
		}
		snap.DLQDepth = depth
	}

	return snap, nil
}
