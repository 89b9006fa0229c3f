// Package poll keeps local mirrors of backend resources fresh through
// timer-driven full refreshes. Each resource runs one loop; each tick fetches
// the complete remote state and replaces the local snapshot, so a missed
// update can never leave permanent drift. Failures degrade per-resource
// instead of crashing anything.
package poll

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Xardimods/ainomaly/internal/metrics"
)

// tick performs one fetch-and-apply cycle for a resource. It must apply the
// result (success or degraded) before returning; the loop will not start the
// next tick until it has.
type tick func(ctx context.Context) error

// loop runs ticks at a fixed interval until ctx ends. Ticks are strictly
// sequential: the ticker only fires between completed cycles because the
// fetch happens on the loop goroutine itself. A refresh signal forces an
// immediate cycle, used after user-initiated mutations.
type loop struct {
	resource  string
	interval  time.Duration
	fn        tick
	logger    *zap.SugaredLogger
	metrics   *metrics.Metrics
	refreshCh chan struct{}
	done      chan struct{}
}

func newLoop(resource string, interval time.Duration, fn tick, logger *zap.SugaredLogger, m *metrics.Metrics) *loop {
	return &loop{
		resource:  resource,
		interval:  interval,
		fn:        fn,
		logger:    logger,
		metrics:   m,
		refreshCh: make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

func (l *loop) run(ctx context.Context) {
	defer close(l.done)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	// First cycle immediately so views are not blank for one interval.
	l.cycle(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.cycle(ctx)
		case <-l.refreshCh:
			l.cycle(ctx)
		}
	}
}

func (l *loop) cycle(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if err := l.fn(ctx); err != nil {
		if l.metrics != nil {
			l.metrics.PollTicks.WithLabelValues(l.resource, "failure").Inc()
		}
		l.logger.Debugw("Poll tick failed", "resource", l.resource, "error", err)
		return
	}
	if l.metrics != nil {
		l.metrics.PollTicks.WithLabelValues(l.resource, "success").Inc()
	}
}

// requestRefresh schedules an immediate cycle. Coalesces when one is already
// pending.
func (l *loop) requestRefresh() {
	select {
	case l.refreshCh <- struct{}{}:
	default:
	}
}

// Registry enforces one active loop per resource key. Views start their
// resource's loop on mount and stop it on unmount; a second start for a live
// key is a programming error, not a race to tolerate.
type Registry struct {
	logger  *zap.SugaredLogger
	metrics *metrics.Metrics

	mu     sync.Mutex
	active map[string]*registered
}

type registered struct {
	cancel context.CancelFunc
	loop   *loop
}

// NewRegistry creates an empty loop registry.
func NewRegistry(logger *zap.SugaredLogger, m *metrics.Metrics) *Registry {
	return &Registry{
		logger:  logger,
		metrics: m,
		active:  make(map[string]*registered),
	}
}

// start registers and launches a loop under key.
func (r *Registry) start(ctx context.Context, key string, interval time.Duration, fn tick) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.active[key]; exists {
		return fmt.Errorf("poll loop for %q already active", key)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	l := newLoop(key, interval, fn, r.logger, r.metrics)
	r.active[key] = &registered{cancel: cancel, loop: l}
	go func() {
		l.run(loopCtx)
		r.mu.Lock()
		if reg, ok := r.active[key]; ok && reg.loop == l {
			delete(r.active, key)
		}
		r.mu.Unlock()
	}()
	return nil
}

// Stop cancels the loop for key and waits until its goroutine has finished,
// so no tick can outlive the view that started it.
func (r *Registry) Stop(key string) {
	r.mu.Lock()
	reg, ok := r.active[key]
	if ok {
		delete(r.active, key)
	}
	r.mu.Unlock()

	if !ok {
		return
	}
	reg.cancel()
	<-reg.loop.done
}

// StopAll stops every active loop; used on application shutdown.
func (r *Registry) StopAll() {
	r.mu.Lock()
	regs := make([]*registered, 0, len(r.active))
	for key, reg := range r.active {
		regs = append(regs, reg)
		delete(r.active, key)
	}
	r.mu.Unlock()

	for _, reg := range regs {
		reg.cancel()
		<-reg.loop.done
	}
}

// Refresh forces an immediate cycle on the loop for key, if one is active.
func (r *Registry) Refresh(key string) {
	r.mu.Lock()
	reg, ok := r.active[key]
	r.mu.Unlock()
	if ok {
		reg.loop.requestRefresh()
	}
}

// Active reports whether a loop is registered under key.
func (r *Registry) Active(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[key]
	return ok
}
