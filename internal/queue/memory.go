package queue

import (
	"context"
	"sync"
	"time"

	"github.com/beaconhq/growth-engine/internal/model"
	"github.com/beaconhq/growth-engine/internal/resilience"
)

// MemoryQueue is an in-process Queue for tests and single-node development.
// It mirrors RedisQueue's at-least-once semantics, including stale claim
// recovery.
type MemoryQueue struct {
	mu      sync.Mutex
	ready   []string
	claims  map[string]time.Time
	delayed map[string]time.Time
	nowFunc func() time.Time
}

// NewMemoryQueue creates a MemoryQueue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		claims:  make(map[string]time.Time),
		delayed: make(map[string]time.Time),
		nowFunc: time.Now,
	}
}

func (q *MemoryQueue) Enqueue(_ context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ready = append(q.ready, jobID)
	return nil
}

func (q *MemoryQueue) EnqueueDelayed(_ context.Context, jobID string, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.delayed[jobID] = q.nowFunc().Add(delay)
	return nil
}

func (q *MemoryQueue) ClaimBlocking(ctx context.Context, wait time.Duration) (string, error) {
	deadline := time.Now().Add(wait)

	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.ready) == 0 {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if time.Now().After(deadline) {
			return "", ErrEmpty
		}
		// Poll so context cancellation and the deadline are honored.
		q.mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		q.mu.Lock()
	}

	jobID := q.ready[0]
	q.ready = q.ready[1:]
	q.claims[jobID] = q.nowFunc()
	return jobID, nil
}

func (q *MemoryQueue) Ack(_ context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.claims, jobID)
	return nil
}

func (q *MemoryQueue) PromoteDelayed(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.nowFunc()
	promoted := 0
	for jobID, readyAt := range q.delayed {
		if readyAt.After(now) {
			continue
		}
		delete(q.delayed, jobID)
		q.ready = append(q.ready, jobID)
		promoted++
	}
	return promoted, nil
}

func (q *MemoryQueue) RequeueStale(_ context.Context, olderThan time.Duration) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	cutoff := q.nowFunc().Add(-olderThan)
	moved := 0
	for jobID, claimedAt := range q.claims {
		if claimedAt.After(cutoff) {
			continue
		}
		delete(q.claims, jobID)
		q.ready = append(q.ready, jobID)
		moved++
	}
	return moved, nil
}

// Depth reports ready, claimed, and delayed counts.
func (q *MemoryQueue) Depth() (ready, claimed, delayed int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready), len(q.claims), len(q.delayed)
}

// MemoryLocker is an in-process Locker for tests and single-node development.
type MemoryLocker struct {
	mu      sync.Mutex
	held    map[string]time.Time
	nowFunc func() time.Time
}

// NewMemoryLocker creates a MemoryLocker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]time.Time), nowFunc: time.Now}
}

// Acquire takes the lock unless it is held and unexpired.
func (l *MemoryLocker) Acquire(_ context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if expiry, ok := l.held[key]; ok && expiry.After(l.nowFunc()) {
		return nil, false, nil
	}
	l.held[key] = l.nowFunc().Add(ttl)

	release := func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
		return nil
	}
	return release, true, nil
}

// Holder reports whether the key is locked and unexpired.
func (l *MemoryLocker) Holder(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	expiry, ok := l.held[key]
	return ok && expiry.After(l.nowFunc()), nil
}

// MemoryEvents collects published events for assertions.
type MemoryEvents struct {
	mu     sync.Mutex
	events []model.PipelineEvent
}

// NewMemoryEvents creates a MemoryEvents publisher.
func NewMemoryEvents() *MemoryEvents {
	return &MemoryEvents{}
}

func (e *MemoryEvents) Publish(_ context.Context, event model.PipelineEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
	return nil
}

// Events returns a copy of everything published so far.
func (e *MemoryEvents) Events() []model.PipelineEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]model.PipelineEvent, len(e.events))
	copy(out, e.events)
	return out
}

// MemoryDLQ collects dead-lettered re-evaluation entries.
type MemoryDLQ struct {
	mu      sync.Mutex
	entries []resilience.ReevalDLQEntry
}

// NewMemoryDLQ creates a MemoryDLQ.
func NewMemoryDLQ() *MemoryDLQ {
	return &MemoryDLQ{}
}

func (d *MemoryDLQ) Push(_ context.Context, entry resilience.ReevalDLQEntry) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = append(d.entries, entry)
	return nil
}

// Entries returns a copy of all dead-lettered entries.
func (d *MemoryDLQ) Entries() []resilience.ReevalDLQEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]resilience.ReevalDLQEntry, len(d.entries))
	copy(out, d.entries)
	return out
}
