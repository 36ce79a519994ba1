package notify

import (
	"sync"
	"time"

	"vigia/internal/logging"
	"vigia/internal/metrics"
)

// WriteFunc persists a feed snapshot.
type WriteFunc func([]Notification) error

// Debouncer collapses bursts of feed mutations into a single delayed write
// of the latest state. There is at most one pending write; a Schedule
// inside the window cancels the pending timer and reschedules with the
// newer snapshot. Write failures are logged and swallowed: the in-memory
// feed stays authoritative and the next write recovers durability.
type Debouncer struct {
	delay   time.Duration
	write   WriteFunc
	metrics *metrics.Metrics

	mu         sync.Mutex
	timer      *time.Timer
	pending    []Notification
	hasPending bool
}

// NewDebouncer creates a debouncer with the given window.
func NewDebouncer(delay time.Duration, write WriteFunc, m *metrics.Metrics) *Debouncer {
	return &Debouncer{delay: delay, write: write, metrics: m}
}

// Schedule records state as the snapshot to persist and (re)arms the
// timer. Last state wins.
func (d *Debouncer) Schedule(state []Notification) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending = state
	d.hasPending = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.flush)
}

// FlushNow writes any pending snapshot immediately and disarms the timer.
// Used on shutdown so the final state is not lost to the window.
func (d *Debouncer) FlushNow() {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.mu.Unlock()
	d.flush()
}

// Cancel drops any pending write.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.pending = nil
	d.hasPending = false
}

func (d *Debouncer) flush() {
	d.mu.Lock()
	if !d.hasPending {
		d.mu.Unlock()
		return
	}
	state := d.pending
	d.pending = nil
	d.hasPending = false
	d.mu.Unlock()

	if err := d.write(state); err != nil {
		logging.Warn("[Notify] Feed persistence failed: %v", err)
		if d.metrics != nil {
			d.metrics.PersistErrors.Inc()
		}
	}
}
