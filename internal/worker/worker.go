// Package worker runs the queue consumer pool: goroutines claim job IDs,
// hand them to the orchestrator, and ack on success. Side pumps promote
// delayed retries and requeue claims abandoned by crashed or failed workers.
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/beaconhq/growth-engine/internal/queue"
)

// Processor executes one claimed job. Returning nil means the claim may be
// acked; the orchestrator satisfies this.
type Processor interface {
	Process(ctx context.Context, jobID string) error
}

// Config sizes the pool and its maintenance pumps.
type Config struct {
	Workers    int
	ClaimWait  time.Duration
	StaleAfter time.Duration
	// PromoteEvery and ReapEvery are the pump intervals.
	PromoteEvery time.Duration
	ReapEvery    time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.ClaimWait <= 0 {
		c.ClaimWait = 5 * time.Second
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 15 * time.Minute
	}
	if c.PromoteEvery <= 0 {
		c.PromoteEvery = time.Second
	}
	if c.ReapEvery <= 0 {
		c.ReapEvery = time.Minute
	}
	return c
}

// Pool consumes the job queue with a fixed number of workers.
type Pool struct {
	queue     queue.Queue
	processor Processor
	cfg       Config
}

// NewPool creates a Pool.
func NewPool(q queue.Queue, processor Processor, cfg Config) *Pool {
	return &Pool{queue: q, processor: processor, cfg: cfg.withDefaults()}
}

// Run blocks until ctx is cancelled. Workers and pumps share the lifetime.
func (p *Pool) Run(ctx context.Context) error {
	zap.L().Info("worker pool started", zap.Int("workers", p.cfg.Workers))

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.Workers; i++ {
		n := i + 1
		g.Go(func() error {
			p.consume(gctx, n)
			return nil
		})
	}
	g.Go(func() error {
		p.promoteLoop(gctx)
		return nil
	})
	g.Go(func() error {
		p.reapLoop(gctx)
		return nil
	})

	err := g.Wait()
	zap.L().Info("worker pool stopped")
	if err != nil && !errors.Is(err, context.Canceled) {
		return eris.Wrap(err, "worker: pool")
	}
	return nil
}

// consume claims and processes jobs until the context ends.
func (p *Pool) consume(ctx context.Context, n int) {
	for {
		if ctx.Err() != nil {
			return
		}
		jobID, err := p.queue.ClaimBlocking(ctx, p.cfg.ClaimWait)
		if err != nil {
			if errors.Is(err, queue.ErrEmpty) || ctx.Err() != nil {
				continue
			}
			zap.L().Warn("claim failed", zap.Int("worker", n), zap.Error(err))
			continue
		}

		if err := p.processor.Process(ctx, jobID); err != nil {
			// Process returns an error only when it could not persist the
			// outcome or schedule the retry. Keep the claim: the stale-claim
			// reaper is the only path that redelivers this job.
			zap.L().Error("process job, leaving claim for reaper",
				zap.Int("worker", n), zap.String("job_id", jobID), zap.Error(err))
			continue
		}

		if err := p.queue.Ack(context.WithoutCancel(ctx), jobID); err != nil {
			zap.L().Warn("ack job",
				zap.Int("worker", n), zap.String("job_id", jobID), zap.Error(err))
		}
	}
}

// promoteLoop moves due delayed jobs into the ready queue.
func (p *Pool) promoteLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.PromoteEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.queue.PromoteDelayed(ctx)
			if err != nil {
				zap.L().Warn("promote delayed jobs", zap.Error(err))
				continue
			}
			if n > 0 {
				zap.L().Debug("promoted delayed jobs", zap.Int("count", n))
			}
		}
	}
}

// reapLoop returns claims abandoned by crashed workers to the ready queue.
func (p *Pool) reapLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.ReapEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.queue.RequeueStale(ctx, p.cfg.StaleAfter)
			if err != nil {
				zap.L().Warn("requeue stale claims", zap.Error(err))
				continue
			}
			if n > 0 {
				zap.L().Info("requeued stale claims", zap.Int("count", n))
			}
		}
	}
}
