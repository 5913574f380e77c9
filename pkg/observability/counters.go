package observability

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Counters tallies events for an end-of-run summary. It implements every
// hook interface and is safe for concurrent use.
type Counters struct {
	jobsOK     atomic.Int64
	jobsFailed atomic.Int64
	cacheHits  atomic.Int64
	cacheMiss  atomic.Int64
	requests   atomic.Int64
	httpErrors atomic.Int64

	mu         sync.Mutex
	stageTimes map[string]time.Duration
}

// NewCounters returns zeroed counters.
func NewCounters() *Counters {
	return &Counters{stageTimes: make(map[string]time.Duration)}
}

// Snapshot is a point-in-time copy of [Counters].
type Snapshot struct {
	JobsSucceeded int64
	JobsFailed    int64
	CacheHits     int64
	CacheMisses   int64
	Requests      int64
	RequestErrors int64
	// StageTime is the summed wall time spent entering each stage.
	StageTime map[string]time.Duration
}

// Snapshot copies the current totals.
func (c *Counters) Snapshot() Snapshot {
	c.mu.Lock()
	stages := make(map[string]time.Duration, len(c.stageTimes))
	for k, v := range c.stageTimes {
		stages[k] = v
	}
	c.mu.Unlock()

	return Snapshot{
		JobsSucceeded: c.jobsOK.Load(),
		JobsFailed:    c.jobsFailed.Load(),
		CacheHits:     c.cacheHits.Load(),
		CacheMisses:   c.cacheMiss.Load(),
		Requests:      c.requests.Load(),
		RequestErrors: c.httpErrors.Load(),
		StageTime:     stages,
	}
}

func (c *Counters) OnStageStart(context.Context, string, string) {}

func (c *Counters) OnStageComplete(_ context.Context, _, stage string, d time.Duration, _ error) {
	c.mu.Lock()
	c.stageTimes[stage] += d
	c.mu.Unlock()
}

func (c *Counters) OnJobComplete(_ context.Context, _ string, _ time.Duration, err error) {
	if err != nil {
		c.jobsFailed.Add(1)
		return
	}
	c.jobsOK.Add(1)
}

func (c *Counters) OnCacheHit(context.Context, string)      { c.cacheHits.Add(1) }
func (c *Counters) OnCacheMiss(context.Context, string)     { c.cacheMiss.Add(1) }
func (c *Counters) OnCacheSet(context.Context, string, int) {}

func (c *Counters) OnRequest(context.Context, string, string, string) { c.requests.Add(1) }

func (c *Counters) OnResponse(context.Context, string, string, string, int, time.Duration) {}

func (c *Counters) OnError(context.Context, string, string, string, error) { c.httpErrors.Add(1) }
