// Package events turns the backend's SSE alert stream into the two
// user-visible surfaces the shell owns: a single transient in-app banner and
// a native OS notification. Only the most recent alert is visible; there is
// no queue of simultaneous banners.
package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gen2brain/beeep"
	"go.uber.org/zap"

	"github.com/Xardimods/ainomaly/internal/backend"
	"github.com/Xardimods/ainomaly/internal/metrics"
)

// DefaultDisplayDuration is used when an event carries no duration and the
// backend settings have not supplied one yet.
const DefaultDisplayDuration = 5 * time.Second

const nativeTitle = "🚨 AInomaly Alert"

// Notification is the current banner's content. Transient, never persisted;
// overwritten by the next alert or cleared by its own timer.
type Notification struct {
	Message  string
	Camera   string
	Duration time.Duration
	At       time.Time
}

// notifyFunc raises a native OS notification. Swappable for tests.
type notifyFunc func(title, message string) error

// Channel consumes parsed envelopes and owns the banner slot. Reconnection is
// not its business: the backend client's transport handles that, and Close
// simply stops consuming.
type Channel struct {
	logger  *zap.SugaredLogger
	metrics *metrics.Metrics

	mu              sync.Mutex
	current         *Notification
	timer           *time.Timer
	defaultDuration time.Duration
	nativeEnabled   bool
	notify          notifyFunc

	cancel context.CancelFunc
	done   chan struct{}
}

// Option adjusts channel construction.
type Option func(*Channel)

// WithNotifier substitutes the native notification call.
func WithNotifier(fn func(title, message string) error) Option {
	return func(c *Channel) { c.notify = fn }
}

// WithoutNative disables OS notifications entirely.
func WithoutNative() Option {
	return func(c *Channel) { c.nativeEnabled = false }
}

// New creates a channel. Native notification capability is probed exactly
// once, here; a failed probe downgrades to banner-only operation.
func New(logger *zap.SugaredLogger, m *metrics.Metrics, opts ...Option) *Channel {
	c := &Channel{
		logger:          logger,
		metrics:         m,
		defaultDuration: DefaultDisplayDuration,
		nativeEnabled:   true,
		notify: func(title, message string) error {
			return beeep.Notify(title, message, "")
		},
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start consumes events until the stream closes or ctx ends.
func (c *Channel) Start(ctx context.Context, events <-chan backend.Event) {
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	go func() {
		defer close(c.done)
		for {
			select {
			case <-runCtx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					c.logger.Info("Event stream closed")
					return
				}
				c.handle(ev)
			}
		}
	}()
}

// Close stops consuming and clears any pending banner timer. The SSE
// connection itself belongs to the backend client. Safe to call without a
// prior Start; the consumer wait only applies when one is running.
func (c *Channel) Close() {
	if c.cancel != nil {
		c.cancel()
		<-c.done
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.current = nil
}

// SetDefaultDuration applies the backend-configured on-screen duration.
func (c *Channel) SetDefaultDuration(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.defaultDuration = d
}

// Current returns the banner now visible, or nil.
func (c *Channel) Current() *Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil
	}
	n := *c.current
	return &n
}

// Dismiss clears the banner before its timer fires.
func (c *Channel) Dismiss() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearLocked()
}

func (c *Channel) handle(ev backend.Event) {
	if ev.Type != backend.EventAlert {
		return
	}
	if c.metrics != nil {
		c.metrics.AlertsReceived.Inc()
	}

	duration := c.displayDuration(ev.Duration)
	n := &Notification{
		Message:  ev.Message,
		Camera:   ev.Camera,
		Duration: duration,
		At:       time.Now(),
	}

	c.mu.Lock()
	// Replace the banner and its pending timer together: the first event's
	// timer must never dismiss the second event's banner.
	if c.timer != nil {
		c.timer.Stop()
	}
	c.current = n
	c.timer = time.AfterFunc(duration, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		// Another alert may have replaced us while the timer was in flight.
		if c.current == n {
			c.clearLocked()
		}
	})
	c.mu.Unlock()

	c.logger.Infow("Alert received", "camera", ev.Camera, "message", ev.Message)
	c.raiseNative(ev)
}

func (c *Channel) displayDuration(seconds float64) time.Duration {
	if seconds > 0 {
		return time.Duration(seconds * float64(time.Second))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.defaultDuration
}

// clearLocked drops the banner and its timer. Caller holds mu.
func (c *Channel) clearLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.current = nil
}

func (c *Channel) raiseNative(ev backend.Event) {
	c.mu.Lock()
	enabled := c.nativeEnabled
	c.mu.Unlock()
	if !enabled {
		return
	}

	body := ev.Message
	if ev.Camera != "" {
		body = fmt.Sprintf("%s - %s", ev.Message, ev.Camera)
	}
	if err := c.notify(nativeTitle, body); err != nil {
		// One failed delivery means the platform refused us; stop asking.
		c.logger.Warnw("Native notification unavailable, disabling", "error", err)
		c.mu.Lock()
		c.nativeEnabled = false
		c.mu.Unlock()
	}
}
