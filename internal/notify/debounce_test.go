package notify

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type captureWriter struct {
	mu     sync.Mutex
	writes [][]Notification
	err    error
}

func (c *captureWriter) write(state []Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, state)
	return c.err
}

func (c *captureWriter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.writes)
}

func (c *captureWriter) last() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.writes) == 0 {
		return nil
	}
	return c.writes[len(c.writes)-1]
}

func TestDebouncerCollapsesBurst(t *testing.T) {
	w := &captureWriter{}
	d := NewDebouncer(30*time.Millisecond, w.write, nil)

	now := time.Now()
	for i := 0; i < 5; i++ {
		d.Schedule([]Notification{{ID: "latest", Message: "m", Timestamp: now}})
	}

	time.Sleep(100 * time.Millisecond)
	if got := w.count(); got != 1 {
		t.Fatalf("writes = %d, want 1", got)
	}
	if last := w.last(); len(last) != 1 || last[0].ID != "latest" {
		t.Errorf("persisted snapshot = %v, want the last scheduled state", last)
	}
}

func TestDebouncerLastStateWins(t *testing.T) {
	w := &captureWriter{}
	d := NewDebouncer(30*time.Millisecond, w.write, nil)

	now := time.Now()
	d.Schedule([]Notification{{ID: "old", Message: "m", Timestamp: now}})
	time.Sleep(10 * time.Millisecond)
	d.Schedule([]Notification{{ID: "new", Message: "m", Timestamp: now}})

	time.Sleep(100 * time.Millisecond)
	if got := w.count(); got != 1 {
		t.Fatalf("writes = %d, want 1", got)
	}
	if last := w.last(); last[0].ID != "new" {
		t.Errorf("persisted %q, want the rescheduled snapshot", last[0].ID)
	}
}

func TestDebouncerFlushNow(t *testing.T) {
	w := &captureWriter{}
	d := NewDebouncer(time.Hour, w.write, nil)

	d.Schedule([]Notification{{ID: "a", Message: "m", Timestamp: time.Now()}})
	d.FlushNow()

	if got := w.count(); got != 1 {
		t.Fatalf("writes = %d, want 1 after FlushNow", got)
	}

	// The timer was disarmed; nothing further arrives.
	time.Sleep(50 * time.Millisecond)
	if got := w.count(); got != 1 {
		t.Errorf("writes = %d, want still 1", got)
	}

	// FlushNow with nothing pending is a no-op.
	d.FlushNow()
	if got := w.count(); got != 1 {
		t.Errorf("writes = %d after empty flush, want 1", got)
	}
}

func TestDebouncerCancel(t *testing.T) {
	w := &captureWriter{}
	d := NewDebouncer(20*time.Millisecond, w.write, nil)

	d.Schedule([]Notification{{ID: "a", Message: "m", Timestamp: time.Now()}})
	d.Cancel()

	time.Sleep(60 * time.Millisecond)
	if got := w.count(); got != 0 {
		t.Errorf("writes = %d after cancel, want 0", got)
	}
}

func TestDebouncerSwallowsWriteErrors(t *testing.T) {
	w := &captureWriter{err: errors.New("disk full")}
	d := NewDebouncer(10*time.Millisecond, w.write, nil)

	d.Schedule([]Notification{{ID: "a", Message: "m", Timestamp: time.Now()}})
	d.FlushNow()

	// The failed write is retried on the next schedule, not replayed.
	w.err = nil
	d.Schedule([]Notification{{ID: "b", Message: "m", Timestamp: time.Now()}})
	d.FlushNow()

	if got := w.count(); got != 2 {
		t.Fatalf("writes = %d, want 2", got)
	}
	if last := w.last(); last[0].ID != "b" {
		t.Errorf("persisted %q, want the newer snapshot", last[0].ID)
	}
}
