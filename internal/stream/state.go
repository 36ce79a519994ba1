package stream

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// State is the connection lifecycle state of the manager.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Below this fps the feed is flagged unhealthy for display purposes.
const lowFPSThreshold = 10.0

// DefaultViolenceClass is the classifier label used when the backend omits
// the class field.
const DefaultViolenceClass = "no_violencia"

// Detection is a single tracked person's bounding box in source-frame
// pixel space.
type Detection struct {
	ID int
	X  float64
	Y  float64
	W  float64
	H  float64
}

// ViolenceState is the per-frame classification result.
type ViolenceState struct {
	Detected bool
	Score    float64
	Class    string
}

// Snapshot is the full detection state at a point in time. Frame events
// replace the frame-derived fields as a unit; a snapshot never mixes a new
// frame with stale detections.
type Snapshot struct {
	Connection State
	LastError  string

	Frame      []byte // JPEG bytes, decoded from the wire base64
	FrameID    int64
	FrameAt    time.Time
	Detections []Detection
	Violence   ViolenceState
	FPS        float64
	FPSLow     bool

	IsStreaming bool
	StreamURL   string
}

// LiveState holds the latest Snapshot. The manager is the only writer; the
// status server and renderer read copies.
type LiveState struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewLiveState returns an empty state in the disconnected connection state.
func NewLiveState() *LiveState {
	return &LiveState{snap: Snapshot{
		Connection: StateDisconnected,
		Violence:   ViolenceState{Class: DefaultViolenceClass},
	}}
}

// Snapshot returns a copy of the current state.
func (l *LiveState) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s := l.snap
	s.Detections = append([]Detection(nil), l.snap.Detections...)
	s.Frame = l.snap.Frame // frames are never mutated in place
	return s
}

// ApplyFrame replaces the frame-derived fields atomically from a frame
// event and returns the resulting snapshot.
func (l *LiveState) ApplyFrame(ev FrameEvent, at time.Time) Snapshot {
	dets := make([]Detection, 0, len(ev.Persons))
	for _, p := range ev.Persons {
		if len(p.BBox) != 4 {
			continue
		}
		dets = append(dets, Detection{ID: p.ID, X: p.BBox[0], Y: p.BBox[1], W: p.BBox[2], H: p.BBox[3]})
	}

	class := ev.ViolenceClass
	if class == "" {
		class = DefaultViolenceClass
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.snap.Frame = ev.frameBytes
	l.snap.FrameID = ev.FrameID
	l.snap.FrameAt = at
	l.snap.Detections = dets
	l.snap.Violence = ViolenceState{Detected: ev.ViolenceDetected, Score: ev.ViolenceScore, Class: class}
	l.snap.FPS = ev.FPS
	l.snap.FPSLow = ev.FPS > 0 && ev.FPS < lowFPSThreshold
	return l.copyLocked()
}

// ApplyStatus sets the derived streaming fields from a stream_status event.
func (l *LiveState) ApplyStatus(ev StatusEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.snap.IsStreaming = ev.Status == "active"
	l.snap.StreamURL = ev.URL
}

// SetConnection records a connection state transition.
func (l *LiveState) SetConnection(s State, lastError string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.snap.Connection = s
	l.snap.LastError = lastError
}

// SetLastError records a non-fatal error without a state change.
func (l *LiveState) SetLastError(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.snap.LastError = msg
}

func (l *LiveState) copyLocked() Snapshot {
	s := l.snap
	s.Detections = append([]Detection(nil), l.snap.Detections...)
	return s
}

// Person is the wire shape of a tracked person.
type Person struct {
	ID   int       `json:"id"`
	BBox []float64 `json:"bbox"`
}

// FrameEvent is the wire payload of a frame event.
type FrameEvent struct {
	Frame            string   `json:"frame"`
	FrameID          int64    `json:"frame_id"`
	Persons          []Person `json:"persons"`
	ViolenceDetected bool     `json:"violence_detected"`
	ViolenceScore    float64  `json:"violence_score"`
	ViolenceClass    string   `json:"violence_class"`
	FPS              float64  `json:"fps"`

	frameBytes []byte
}

// ParseFrameEvent decodes a frame event payload, including the base64
// frame. A payload that cannot be decoded is a protocol error; the caller
// drops the event and keeps the previous state.
func ParseFrameEvent(data json.RawMessage) (FrameEvent, error) {
	var ev FrameEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return FrameEvent{}, fmt.Errorf("stream: malformed frame event: %w", err)
	}
	if ev.Frame != "" {
		b, err := base64.StdEncoding.DecodeString(ev.Frame)
		if err != nil {
			return FrameEvent{}, fmt.Errorf("stream: undecodable frame payload: %w", err)
		}
		ev.frameBytes = b
	}
	return ev, nil
}

// StatusEvent is the wire payload of a stream_status event.
type StatusEvent struct {
	Status string `json:"status"`
	URL    string `json:"url"`
}

// ErrorEvent is the wire payload of an error event.
type ErrorEvent struct {
	Message string `json:"message"`
}
