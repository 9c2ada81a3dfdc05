package debounce

import (
	"sync"
	"time"
)

// afterFunc is swappable in tests.
var afterFunc = time.AfterFunc

// Debouncer coalesces bursts of Trigger calls into a single invocation
// of fn after delay of quiet.
type Debouncer struct {
	mu    sync.Mutex
	delay time.Duration
	timer *time.Timer
	gen   uint64
	fn    func()
}

func New(delay time.Duration, fn func()) *Debouncer {
	return &Debouncer{delay: delay, fn: fn}
}

// Ensure initializes *d lazily and returns the stored debouncer. The
// handler of an already initialized debouncer is kept.
func Ensure(d **Debouncer, delay time.Duration, fn func()) *Debouncer {
	if *d == nil {
		*d = New(delay, fn)
	}
	return *d
}

func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.timer = afterFunc(d.delay, func() {
		d.mu.Lock()
		if gen != d.gen {
			// A later Trigger, Stop, or Flush superseded this timer
			// between firing and acquiring the lock.
			d.mu.Unlock()
			return
		}
		d.timer = nil
		d.mu.Unlock()
		d.fn()
	})
}

func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.gen++
}

// Flush runs the pending invocation immediately instead of waiting out
// the delay. A no-op when nothing is pending.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	pending := d.timer != nil
	if pending {
		d.timer.Stop()
		d.timer = nil
		d.gen++
	}
	d.mu.Unlock()
	if pending {
		d.fn()
	}
}
