package watch

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// RunFunc performs one full pass over all packages
type RunFunc func(ctx context.Context)

// coalescer runs fn with single-flight semantics. If a run is already in
// progress, at most one additional run is queued; further requests are
// dropped.
type coalescer struct {
	fn     RunFunc
	logger *slog.Logger

	mu      sync.Mutex // guards running, pending and stopped
	running bool
	pending bool
	stopped bool
	wg      sync.WaitGroup
}

func newCoalescer(fn RunFunc, logger *slog.Logger) *coalescer {
	return &coalescer{fn: fn, logger: logger}
}

// trigger blocks until the run it started, and any run queued meanwhile, has
// finished. It returns immediately if a run is already in flight.
func (c *coalescer) trigger(ctx context.Context, reason string) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	if c.running {
		c.pending = true
		c.mu.Unlock()
		c.logger.Info("run already in progress, queuing pending re-run", "reason", reason)
		return
	}
	c.running = true
	c.wg.Add(1)
	c.mu.Unlock()
	defer c.wg.Done()

	for {
		if ctx.Err() != nil {
			c.mu.Lock()
			c.running = false
			c.pending = false
			c.mu.Unlock()
			return
		}

		c.logger.Info("starting run", "reason", reason)
		start := time.Now()
		c.fn(ctx)
		c.logger.Info("run finished", "reason", reason, "duration", time.Since(start))

		c.mu.Lock()
		if !c.pending || c.stopped {
			c.running = false
			c.pending = false
			c.mu.Unlock()
			return
		}
		c.pending = false
		c.mu.Unlock()

		reason = "pending"
		c.logger.Info("re-running due to pending request")
	}
}

// stop rejects new triggers and waits for the run in flight
func (c *coalescer) stop() {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()
	c.wg.Wait()
}

// debouncer delays a callback until triggers have been quiet for delay
type debouncer struct {
	mu       sync.Mutex
	delay    time.Duration
	timer    *time.Timer
	callback func()
}

// trigger schedules the callback to run after the debounce delay
func (d *debouncer) trigger(callback func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.callback = callback

	if d.timer != nil {
		d.timer.Stop()
	}

	d.timer = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		cb := d.callback
		d.mu.Unlock()

		if cb != nil {
			cb()
		}
	})
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.callback = nil
}
