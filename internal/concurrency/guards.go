// Package concurrency implements the scheduler's concurrency guards (C6):
// a global request semaphore, lazily-created per-origin semaphores, and an
// optional per-origin pacing limiter layered on top of the hard caps.
package concurrency

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// OriginLimits describes the concurrency and optional pacing policy for one
// origin (lowercased host). MaxConcurrent defaults to 1 when an origin has
// no explicit entry.
type OriginLimits struct {
	MaxConcurrent int
	MinIntervalMs int // 0 disables pacing
}

// Guards holds the global semaphore plus the lazily-created per-origin
// semaphores and optional pacing limiters. Acquisition order is always
// global first, then per-origin, to avoid deadlocks between two callers
// acquiring in opposite orders.
type Guards struct {
	global chan struct{} // nil means unlimited

	mu            sync.RWMutex
	origins       map[string]chan struct{}
	limiters      map[string]*rate.Limiter
	defaultLimits map[string]OriginLimits
}

// New builds Guards. globalMax<=0 means no global cap. perOrigin supplies
// the configured per-origin caps/pacing; an origin absent from the map gets
// a default cap of 1.
func New(globalMax int, perOrigin map[string]OriginLimits) *Guards {
	g := &Guards{
		origins:       make(map[string]chan struct{}),
		limiters:      make(map[string]*rate.Limiter),
		defaultLimits: perOrigin,
	}
	if globalMax > 0 {
		g.global = make(chan struct{}, globalMax)
	}
	return g
}

// Release is returned by Acquire; calling it returns the held permits.
type Release func()

// Acquire blocks until both the global permit (if configured) and the
// per-origin permit for origin are available, or ctx is cancelled. The
// returned Release must be called exactly once to free the permits.
func (g *Guards) Acquire(ctx context.Context, origin string) (Release, error) {
	if g.global != nil {
		select {
		case g.global <- struct{}{}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	sem := g.originSemaphore(origin)
	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		if g.global != nil {
			<-g.global
		}
		return nil, ctx.Err()
	}

	if limiter := g.originLimiter(origin); limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			<-sem
			if g.global != nil {
				<-g.global
			}
			return nil, err
		}
	}

	return func() {
		<-sem
		if g.global != nil {
			<-g.global
		}
	}, nil
}

func (g *Guards) originSemaphore(origin string) chan struct{} {
	g.mu.RLock()
	sem, ok := g.origins[origin]
	g.mu.RUnlock()
	if ok {
		return sem
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if sem, ok := g.origins[origin]; ok {
		return sem
	}

	cap := 1
	if lim, ok := g.defaultLimits[origin]; ok && lim.MaxConcurrent > 0 {
		cap = lim.MaxConcurrent
	}
	sem = make(chan struct{}, cap)
	g.origins[origin] = sem
	return sem
}

func (g *Guards) originLimiter(origin string) *rate.Limiter {
	g.mu.RLock()
	lim, ok := g.limiters[origin]
	g.mu.RUnlock()
	if ok {
		return lim
	}

	conf, hasConf := g.defaultLimits[origin]
	if !hasConf || conf.MinIntervalMs <= 0 {
		g.mu.Lock()
		g.limiters[origin] = nil
		g.mu.Unlock()
		return nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if lim, ok := g.limiters[origin]; ok {
		return lim
	}
	perSecond := 1000.0 / float64(conf.MinIntervalMs)
	lim = rate.NewLimiter(rate.Limit(perSecond), 1)
	g.limiters[origin] = lim
	return lim
}
