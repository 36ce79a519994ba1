package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"vigia/internal/metrics"
)

// Notification types.
const (
	TypeViolence = "violence"
	TypeStatus   = "status"
	TypeInfo     = "info"
)

// Notification is one entry in the feed. Entries are never updated in
// place except through MarkAllRead.
type Notification struct {
	ID         string
	Type       string
	Message    string
	Details    string
	Timestamp  time.Time
	Read       bool
	IncidentID int64 // 0 when not linked to an incident
}

// Feed is the bounded, time-boxed notification log: most-recent-first,
// capped, entries older than the retention window pruned on every
// mutation. The feed is the single writer of its own invariants; all
// consumers go through these methods.
type Feed struct {
	mu        sync.Mutex
	entries   []Notification
	unread    int
	capacity  int
	retention time.Duration
	now       func() time.Time
	onChange  func([]Notification)
	metrics   *metrics.Metrics
}

// NewFeed creates an empty feed. capacity and retention must be positive.
func NewFeed(capacity int, retention time.Duration, m *metrics.Metrics) *Feed {
	return &Feed{
		capacity:  capacity,
		retention: retention,
		now:       time.Now,
		metrics:   m,
	}
}

// SetClock overrides the wall clock, for tests.
func (f *Feed) SetClock(now func() time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = now
}

// OnChange registers the persistence hook. It receives a copy of the feed
// after every mutation and is expected to debounce its writes.
func (f *Feed) OnChange(fn func([]Notification)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onChange = fn
}

// Add prepends a notification. Entries without a message or timestamp are
// rejected. Returns whether the entry was accepted.
func (f *Feed) Add(n Notification) bool {
	if n.Message == "" || n.Timestamp.IsZero() {
		return false
	}
	if n.ID == "" {
		n.ID = uuid.New().String()
	}

	f.mu.Lock()
	f.entries = append([]Notification{n}, f.entries...)
	if len(f.entries) > f.capacity {
		f.entries = f.entries[:f.capacity]
	}
	f.settleLocked()
	snapshot := f.copyLocked()
	fn := f.onChange
	f.mu.Unlock()

	if f.metrics != nil {
		f.metrics.NotificationsAdded.Inc()
	}
	if fn != nil {
		fn(snapshot)
	}
	return true
}

// MarkAllRead marks every entry read.
func (f *Feed) MarkAllRead() {
	f.mu.Lock()
	for i := range f.entries {
		f.entries[i].Read = true
	}
	f.settleLocked()
	snapshot := f.copyLocked()
	fn := f.onChange
	f.mu.Unlock()

	if fn != nil {
		fn(snapshot)
	}
}

// Remove deletes the entry at the given position in the current order.
// Returns false when the index is out of range.
func (f *Feed) Remove(index int) bool {
	f.mu.Lock()
	if index < 0 || index >= len(f.entries) {
		f.mu.Unlock()
		return false
	}
	f.entries = append(f.entries[:index], f.entries[index+1:]...)
	f.settleLocked()
	snapshot := f.copyLocked()
	fn := f.onChange
	f.mu.Unlock()

	if fn != nil {
		fn(snapshot)
	}
	return true
}

// Rehydrate replaces the feed content from persisted entries, re-applying
// the retention filter so an entry that aged out while the process was not
// running never becomes visible. No persistence is scheduled.
func (f *Feed) Rehydrate(entries []Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append([]Notification(nil), entries...)
	if len(f.entries) > f.capacity {
		f.entries = f.entries[:f.capacity]
	}
	f.settleLocked()
}

// Entries returns a copy of the feed, most recent first.
func (f *Feed) Entries() []Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.copyLocked()
}

// Unread returns the unread count.
func (f *Feed) Unread() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unread
}

// Len returns the feed length.
func (f *Feed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

// settleLocked prunes entries past the retention window against the
// current wall clock and re-derives the unread counter from the sequence.
func (f *Feed) settleLocked() {
	cutoff := f.now().Add(-f.retention)
	kept := f.entries[:0]
	for _, n := range f.entries {
		if n.Timestamp.After(cutoff) {
			kept = append(kept, n)
		}
	}
	f.entries = kept

	unread := 0
	for _, n := range f.entries {
		if !n.Read {
			unread++
		}
	}
	f.unread = unread

	if f.metrics != nil {
		f.metrics.FeedSize.Set(float64(len(f.entries)))
		f.metrics.FeedUnread.Set(float64(unread))
	}
}

func (f *Feed) copyLocked() []Notification {
	return append([]Notification(nil), f.entries...)
}
