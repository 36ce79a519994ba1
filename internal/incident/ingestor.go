package incident

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"vigia/internal/logging"
	"vigia/internal/metrics"
	"vigia/internal/notify"
)

// Record is one recent incident kept in memory. The list is capped and
// ordered by arrival, not by timestamp: a replayed backend event is not
// re-sorted.
type Record struct {
	ID            int64
	Timestamp     time.Time
	ViolenceScore float64
	ViolenceClass string
	Location      string
	PersonIDs     []int
	FramePath     string
}

// Event is the wire payload of an incident event.
type Event struct {
	ID            int64   `json:"id"`
	Timestamp     string  `json:"timestamp"`
	ViolenceScore float64 `json:"violence_score"`
	ViolenceClass string  `json:"violence_class"`
	Location      string  `json:"location"`
	PersonIDs     []int   `json:"person_ids"`
	FramePath     string  `json:"frame_path"`
}

// Ingestor merges inbound incident events into the capped recent list and
// forwards qualifying ones to the notification feed. Repeated delivery of
// an id is kept (and re-notified) but counted, so a reconnect-triggered
// replay storm shows up in metrics.
type Ingestor struct {
	capacity  int
	threshold float64
	feed      *notify.Feed
	metrics   *metrics.Metrics
	now       func() time.Time

	mu     sync.Mutex
	recent []Record
	seen   map[int64]struct{}
}

// NewIngestor creates an ingestor forwarding incidents scoring above
// threshold to feed. feed may be nil.
func NewIngestor(capacity int, threshold float64, feed *notify.Feed, m *metrics.Metrics) *Ingestor {
	if capacity <= 0 {
		capacity = 50
	}
	return &Ingestor{
		capacity:  capacity,
		threshold: threshold,
		feed:      feed,
		metrics:   m,
		now:       time.Now,
		seen:      make(map[int64]struct{}),
	}
}

// SetClock overrides the wall clock, for tests.
func (g *Ingestor) SetClock(now func() time.Time) { g.now = now }

// Handle ingests one raw incident event payload.
func (g *Ingestor) Handle(data json.RawMessage) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		logging.Warn("[Incidents] Malformed incident event: %v", err)
		return
	}

	rec := Record{
		ID:            ev.ID,
		Timestamp:     parseTimestamp(ev.Timestamp, g.now()),
		ViolenceScore: ev.ViolenceScore,
		ViolenceClass: ev.ViolenceClass,
		Location:      ev.Location,
		PersonIDs:     ev.PersonIDs,
		FramePath:     ev.FramePath,
	}

	g.mu.Lock()
	if _, dup := g.seen[rec.ID]; dup {
		if g.metrics != nil {
			g.metrics.DuplicateIncidents.Inc()
		}
	} else {
		g.seen[rec.ID] = struct{}{}
	}
	g.recent = append([]Record{rec}, g.recent...)
	if len(g.recent) > g.capacity {
		evicted := g.recent[g.capacity:]
		g.recent = g.recent[:g.capacity]
		for _, e := range evicted {
			// An id stays known while any copy of it survives.
			if !g.containsLocked(e.ID) {
				delete(g.seen, e.ID)
			}
		}
	}
	g.mu.Unlock()

	if g.metrics != nil {
		g.metrics.IncidentsReceived.Inc()
	}
	logging.Info("[Incidents] Incident %d (%s, score %.2f)", rec.ID, rec.ViolenceClass, rec.ViolenceScore)

	if g.feed != nil && rec.ViolenceScore > g.threshold {
		g.feed.Add(notify.Notification{
			Type:       notify.TypeViolence,
			Message:    "Nuevo incidente",
			Details:    fmt.Sprintf("Violencia detectada (%.1f%%)", rec.ViolenceScore*100),
			Timestamp:  rec.Timestamp,
			IncidentID: rec.ID,
		})
	}
}

func (g *Ingestor) containsLocked(id int64) bool {
	for _, r := range g.recent {
		if r.ID == id {
			return true
		}
	}
	return false
}

// Recent returns a copy of the recent incident list, newest arrival first.
func (g *Ingestor) Recent() []Record {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Record(nil), g.recent...)
}

// parseTimestamp accepts RFC 3339 and the backend's naive ISO format.
func parseTimestamp(s string, fallback time.Time) time.Time {
	if s == "" {
		return fallback
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	logging.Debug("[Incidents] Unparseable timestamp %q", s)
	return fallback
}
