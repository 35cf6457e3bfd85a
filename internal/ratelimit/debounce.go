package ratelimit

import (
	"sync"
	"time"
)

// Debouncer runs a task per key once no new Schedule call for that key has
// arrived for the configured delay. Each Schedule replaces the pending task.
// With a max wait, a task runs no later than maxWait after the first
// Schedule that armed it, even while calls keep arriving.
type Debouncer struct {
	delay   time.Duration
	maxWait time.Duration

	mu      sync.Mutex
	seq     uint64
	pending map[string]*pendingTask
}

type pendingTask struct {
	timer *time.Timer
	gen   uint64
	armed time.Time
}

// NewDebouncer creates a Debouncer with the given quiet period. A maxWait of
// zero or less lets a steady stream of calls postpone the task indefinitely.
func NewDebouncer(delay, maxWait time.Duration) *Debouncer {
	return &Debouncer{
		delay:   delay,
		maxWait: maxWait,
		pending: make(map[string]*pendingTask),
	}
}

// Schedule arms (or re-arms) the timer for key. Only the most recently
// scheduled fn runs; a timer that fired after being superseded is a no-op.
func (d *Debouncer) Schedule(key string, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	armed := now
	if p, ok := d.pending[key]; ok {
		p.timer.Stop()
		armed = p.armed
	}
	wait := d.delay
	if d.maxWait > 0 {
		wait = max(min(wait, armed.Add(d.maxWait).Sub(now)), 0)
	}

	d.seq++
	gen := d.seq
	d.pending[key] = &pendingTask{
		gen:   gen,
		armed: armed,
		timer: time.AfterFunc(wait, func() {
			d.mu.Lock()
			cur, ok := d.pending[key]
			if !ok || cur.gen != gen {
				d.mu.Unlock()
				return
			}
			delete(d.pending, key)
			d.mu.Unlock()
			fn()
		}),
	}
}

// Cancel drops the pending task for key. It reports whether one was armed.
func (d *Debouncer) Cancel(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.pending[key]
	if !ok {
		return false
	}
	p.timer.Stop()
	delete(d.pending, key)
	return true
}

// Pending reports whether a task is armed for key.
func (d *Debouncer) Pending(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.pending[key]
	return ok
}

// Stop cancels every pending task.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for key, p := range d.pending {
		p.timer.Stop()
		delete(d.pending, key)
	}
}
