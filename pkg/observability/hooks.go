// Package observability lets a binary watch packaging without the
// libraries depending on a metrics backend.
//
// The pipeline runner, the index cache and the HTTP client report events
// through the hook interfaces below. Nothing is reported anywhere until the
// binary installs an implementation with [Register]; the defaults discard
// every event. [Counters] is the implementation the command line uses to
// summarise a batch.
//
//	stats := observability.NewCounters()
//	observability.Register(observability.Hooks{Pipeline: stats, Cache: stats, HTTP: stats})
//	defer observability.Reset()
package observability

import (
	"context"
	"sync"
	"time"
)

// PipelineHooks receives job and stage events from the packaging runner.
// stage is the name of the state the job is moving into, e.g. "FETCHED".
type PipelineHooks interface {
	OnStageStart(ctx context.Context, jobID, stage string)
	OnStageComplete(ctx context.Context, jobID, stage string, duration time.Duration, err error)
	OnJobComplete(ctx context.Context, jobID string, duration time.Duration, err error)
}

// CacheHooks receives lookups and writes made against the index cache.
// keyType is the key namespace, e.g. "index".
type CacheHooks interface {
	OnCacheHit(ctx context.Context, keyType string)
	OnCacheMiss(ctx context.Context, keyType string)
	OnCacheSet(ctx context.Context, keyType string, size int)
}

// HTTPHooks receives outgoing requests made while listing indexes and
// downloading archives.
type HTTPHooks interface {
	OnRequest(ctx context.Context, method, host, path string)
	OnResponse(ctx context.Context, method, host, path string, statusCode int, duration time.Duration)
	// OnError is called when no response arrived at all.
	OnError(ctx context.Context, method, host, path string, err error)
}

// Hooks groups the implementations installed by [Register]. Nil fields
// leave the current implementation in place.
type Hooks struct {
	Pipeline PipelineHooks
	Cache    CacheHooks
	HTTP     HTTPHooks
}

// NoopPipelineHooks discards pipeline events.
type NoopPipelineHooks struct{}

func (NoopPipelineHooks) OnStageStart(context.Context, string, string)                          {}
func (NoopPipelineHooks) OnStageComplete(context.Context, string, string, time.Duration, error) {}
func (NoopPipelineHooks) OnJobComplete(context.Context, string, time.Duration, error)           {}

// NoopCacheHooks discards cache events.
type NoopCacheHooks struct{}

func (NoopCacheHooks) OnCacheHit(context.Context, string)      {}
func (NoopCacheHooks) OnCacheMiss(context.Context, string)     {}
func (NoopCacheHooks) OnCacheSet(context.Context, string, int) {}

// NoopHTTPHooks discards HTTP events.
type NoopHTTPHooks struct{}

func (NoopHTTPHooks) OnRequest(context.Context, string, string, string)                      {}
func (NoopHTTPHooks) OnResponse(context.Context, string, string, string, int, time.Duration) {}
func (NoopHTTPHooks) OnError(context.Context, string, string, string, error)                 {}

func defaults() Hooks {
	return Hooks{Pipeline: NoopPipelineHooks{}, Cache: NoopCacheHooks{}, HTTP: NoopHTTPHooks{}}
}

var (
	mu      sync.RWMutex
	current = defaults()
)

// Register installs the non-nil members of h. Call it before work starts;
// events already in flight may still reach the previous implementation.
func Register(h Hooks) {
	mu.Lock()
	defer mu.Unlock()
	if h.Pipeline != nil {
		current.Pipeline = h.Pipeline
	}
	if h.Cache != nil {
		current.Cache = h.Cache
	}
	if h.HTTP != nil {
		current.HTTP = h.HTTP
	}
}

// Reset puts the discarding defaults back.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	current = defaults()
}

// Pipeline returns the installed pipeline hooks.
func Pipeline() PipelineHooks {
	mu.RLock()
	defer mu.RUnlock()
	return current.Pipeline
}

// Cache returns the installed cache hooks.
func Cache() CacheHooks {
	mu.RLock()
	defer mu.RUnlock()
	return current.Cache
}

// HTTP returns the installed HTTP hooks.
func HTTP() HTTPHooks {
	mu.RLock()
	defer mu.RUnlock()
	return current.HTTP
}
