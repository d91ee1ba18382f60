// Package idle detects when all outstanding background work has drained
// and then runs the registered teardown callbacks exactly once.
package idle

import (
	"context"
	"sync"
	"time"

	"github.com/conneroisu/wpbuilder/internal/logging"
)

// DefaultInterval is the polling period used when none is configured.
const DefaultInterval = 200 * time.Millisecond

// Teardown releases a long lived resource.
type Teardown func(ctx context.Context) error

type teardown struct {
	name string
	fn   Teardown
}

// Detector tracks in-flight work and fires teardowns once it reaches zero.
type Detector struct {
	mu        sync.Mutex
	inFlight  int
	teardowns []teardown
	fired     bool
	done      chan struct{}
	logger    logging.Logger
}

// New creates a Detector.
func New(logger logging.Logger) *Detector {
	return &Detector{
		done:   make(chan struct{}),
		logger: logger.WithComponent("idle"),
	}
}

// Add records delta units of pending work.
func (d *Detector) Add(delta int) {
	d.mu.Lock()
	d.inFlight += delta
	if d.inFlight < 0 {
		d.inFlight = 0
	}
	d.mu.Unlock()
}

// Done records one unit of completed work.
func (d *Detector) Done() {
	d.Add(-1)
}

// Hold keeps the detector busy until release is called. Watch mode holds
// for its whole lifetime.
func (d *Detector) Hold() (release func()) {
	d.Add(1)
	var once sync.Once
	return func() { once.Do(d.Done) }
}

// Pending returns the amount of in-flight work.
func (d *Detector) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inFlight
}

// OnIdle registers a teardown. Registration after firing is ignored.
func (d *Detector) OnIdle(name string, fn Teardown) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fired {
		return
	}
	d.teardowns = append(d.teardowns, teardown{name: name, fn: fn})
}

// Drained is closed after the teardowns ran.
func (d *Detector) Drained() <-chan struct{} {
	return d.done
}

// Start polls every interval until nothing is pending, runs the teardowns
// in registration order and returns. It returns ctx.Err() if ctx ends first.
func (d *Detector) Start(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if d.tryFire(ctx) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (d *Detector) tryFire(ctx context.Context) bool {
	d.mu.Lock()
	if d.fired {
		d.mu.Unlock()
		return true
	}
	if d.inFlight > 0 {
		d.mu.Unlock()
		return false
	}
	d.fired = true
	teardowns := d.teardowns
	d.teardowns = nil
	d.mu.Unlock()

	for _, td := range teardowns {
		if err := td.fn(ctx); err != nil {
			d.logger.Warn(ctx, err, "teardown failed", "resource", td.name)
			continue
		}
		d.logger.Debug(ctx, "released resource", "resource", td.name)
	}
	close(d.done)
	return true
}
