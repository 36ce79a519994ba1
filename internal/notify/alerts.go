package notify

import (
	"fmt"
	"time"

	"vigia/internal/stream"
)

// FrameAlerter turns qualifying frame detections into feed entries. It is
// called synchronously from the frame sink, so notification order matches
// frame arrival order.
type FrameAlerter struct {
	feed      *Feed
	threshold float64
	now       func() time.Time
}

// NewFrameAlerter creates an alerter feeding the given feed for violence
// scores above threshold.
func NewFrameAlerter(feed *Feed, threshold float64) *FrameAlerter {
	return &FrameAlerter{feed: feed, threshold: threshold, now: time.Now}
}

// SetClock overrides the wall clock, for tests.
func (a *FrameAlerter) SetClock(now func() time.Time) { a.now = now }

// HandleFrame enqueues exactly one violence notification for a frame whose
// classification crossed the threshold.
func (a *FrameAlerter) HandleFrame(snap stream.Snapshot) {
	if !snap.Violence.Detected || snap.Violence.Score <= a.threshold {
		return
	}
	a.feed.Add(Notification{
		Type:      TypeViolence,
		Message:   "Violencia detectada",
		Details:   fmt.Sprintf("Confianza: %.1f%%", snap.Violence.Score*100),
		Timestamp: a.now(),
	})
}
