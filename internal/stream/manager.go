package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"vigia/internal/logging"
	"vigia/internal/metrics"
	"vigia/internal/transport"
)

// ErrNotConnected is returned by stream commands issued while the
// connection is not established. Commands are never queued or retried.
var ErrNotConnected = errors.New("stream: not connected")

// DialFunc creates a fresh Transport for a connection attempt. The manager
// never reuses a Transport across attempts.
type DialFunc func() (transport.Transport, error)

// FrameSink receives the snapshot produced by each applied frame event, in
// arrival order.
type FrameSink func(Snapshot)

// IncidentSink receives raw incident event payloads.
type IncidentSink func(data json.RawMessage)

// StatusListener is told about connection state transitions so the
// notification surface can report them. It must not call back into the
// manager.
type StatusListener func(s State, lastError string)

// Config is the manager's connection policy.
type Config struct {
	ReconnectInterval time.Duration
	MaxReconnects     int
}

// Manager owns the single Transport instance and drives the connection
// state machine: Disconnected → Connecting → Connected, with a fixed
// reconnect interval on drops and a terminal Failed state once the retry
// budget is spent. Late events from a discarded Transport are fenced off by
// a session counter that is bumped on every Connect/Disconnect.
type Manager struct {
	dial    DialFunc
	cfg     Config
	live    *LiveState
	metrics *metrics.Metrics

	onFrame    FrameSink
	onIncident IncidentSink
	onStatus   StatusListener

	mu         sync.Mutex
	state      State
	session    uint64
	transport  transport.Transport
	attempts   int
	retryTimer *time.Timer

	// dispatchMu makes a handler's session check and the apply it
	// guards atomic with respect to Disconnect, so a late event can
	// never mutate the live state after Disconnect has returned.
	dispatchMu sync.Mutex
}

// NewManager creates a manager around the given dial function. live must
// not be nil; the sinks and listener may be.
func NewManager(dial DialFunc, cfg Config, live *LiveState, m *metrics.Metrics) *Manager {
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = 5 * time.Second
	}
	if cfg.MaxReconnects <= 0 {
		cfg.MaxReconnects = 10
	}
	return &Manager{
		dial:    dial,
		cfg:     cfg,
		live:    live,
		metrics: m,
		state:   StateDisconnected,
	}
}

// SetFrameSink registers the consumer of applied frame snapshots.
func (m *Manager) SetFrameSink(sink FrameSink) { m.onFrame = sink }

// SetIncidentSink registers the consumer of incident events.
func (m *Manager) SetIncidentSink(sink IncidentSink) { m.onIncident = sink }

// SetStatusListener registers the connection status listener.
func (m *Manager) SetStatusListener(l StatusListener) { m.onStatus = l }

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect starts a connection attempt. It is idempotent: while Connecting,
// Connected or Reconnecting it is a no-op and never creates a second
// Transport. From Failed it starts a fresh attempt with a reset retry
// budget.
func (m *Manager) Connect() error {
	m.mu.Lock()
	switch m.state {
	case StateConnecting, StateConnected, StateReconnecting:
		m.mu.Unlock()
		return nil
	}

	t, err := m.dial()
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("stream: dial: %w", err)
	}

	m.session++
	session := m.session
	m.attempts = 0
	m.transport = t
	m.attach(t, session)
	m.setStateLocked(StateConnecting, "")
	m.mu.Unlock()

	go m.open(t, session)
	return nil
}

// Disconnect tears everything down from any state: the retry timer is
// cancelled, the Transport is discarded, and events still in flight from it
// are ignored.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.session++
	m.cancelRetryLocked()
	t := m.transport
	m.transport = nil
	m.attempts = 0
	m.setStateLocked(StateDisconnected, "")
	m.mu.Unlock()

	if t != nil {
		if err := t.Close(); err != nil {
			logging.Debug("[Manager] Transport close: %v", err)
		}
	}

	// Barrier: wait out any event application that passed its session
	// check before the bump. Handlers starting after this see the stale
	// session and discard.
	m.dispatchMu.Lock()
	m.dispatchMu.Unlock()
}

// StartStream asks the backend to start pushing frames.
func (m *Manager) StartStream() error {
	return m.emit(transport.CommandStartStream, nil)
}

// StopStream asks the backend to stop pushing frames.
func (m *Manager) StopStream() error {
	return m.emit(transport.CommandStopStream, nil)
}

// PushConfig sends a runtime configuration update to the backend.
func (m *Manager) PushConfig(cfg map[string]interface{}) error {
	return m.emit(transport.CommandUpdateConfig, cfg)
}

func (m *Manager) emit(cmd string, payload interface{}) error {
	m.mu.Lock()
	if m.state != StateConnected || m.transport == nil {
		m.mu.Unlock()
		return ErrNotConnected
	}
	t := m.transport
	m.mu.Unlock()
	return t.Emit(cmd, payload)
}

// attach registers the event handlers for one Transport. Every handler
// carries the session it was attached under and is a no-op once that
// session is stale.
func (m *Manager) attach(t transport.Transport, session uint64) {
	t.On(transport.EventFrame, func(data json.RawMessage) { m.handleFrame(session, data) })
	t.On(transport.EventStreamStatus, func(data json.RawMessage) { m.handleStreamStatus(session, data) })
	t.On(transport.EventIncident, func(data json.RawMessage) { m.handleIncident(session, data) })
	t.On(transport.EventError, func(data json.RawMessage) { m.handleError(session, data) })
	t.On(transport.EventDisconnect, func(data json.RawMessage) { m.handleDrop(session, data) })
}

// open runs one connection attempt. It is the only goroutine that calls
// Transport.Connect for its session.
func (m *Manager) open(t transport.Transport, session uint64) {
	err := t.Connect(context.Background())

	m.mu.Lock()
	if session != m.session || m.transport != t {
		// Overtaken: a Disconnect/Connect bumped the session, or the
		// connection dropped before this goroutine recorded the result
		// and the drop path already owns recovery. Never enter
		// Connected on a transport that is no longer the live one.
		m.mu.Unlock()
		t.Close()
		return
	}
	if err != nil {
		logging.Warn("[Manager] Connection attempt failed: %v", err)
		m.failureLocked(err)
		m.mu.Unlock()
		return
	}
	m.attempts = 0
	m.cancelRetryLocked()
	m.setStateLocked(StateConnected, "")
	m.mu.Unlock()
	logging.Info("[Manager] Connected")
}

// failureLocked applies the retry policy after a failed attempt or a drop.
func (m *Manager) failureLocked(cause error) {
	if m.metrics != nil {
		m.metrics.ReconnectAttempts.Inc()
	}
	if m.attempts >= m.cfg.MaxReconnects {
		m.transport = nil
		m.cancelRetryLocked()
		msg := fmt.Sprintf("connection failed after %d attempts: %v", m.attempts, cause)
		m.setStateLocked(StateFailed, msg)
		logging.Error("[Manager] %s", msg)
		return
	}
	m.attempts++
	m.setStateLocked(StateReconnecting, cause.Error())
	m.scheduleRetryLocked(m.session)
	logging.Warn("[Manager] Reconnecting (attempt %d/%d) in %s",
		m.attempts, m.cfg.MaxReconnects, m.cfg.ReconnectInterval)
}

// scheduleRetryLocked arms the single retry timer, cancelling any pending
// one first so there is never more than one scheduled attempt.
func (m *Manager) scheduleRetryLocked(session uint64) {
	m.cancelRetryLocked()
	m.retryTimer = time.AfterFunc(m.cfg.ReconnectInterval, func() {
		m.retry(session)
	})
}

func (m *Manager) cancelRetryLocked() {
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
}

// retry executes one scheduled reconnection attempt.
func (m *Manager) retry(session uint64) {
	m.mu.Lock()
	if session != m.session || m.state != StateReconnecting {
		m.mu.Unlock()
		return
	}
	t, err := m.dial()
	if err != nil {
		m.failureLocked(err)
		m.mu.Unlock()
		return
	}
	m.transport = t
	m.attach(t, session)
	m.mu.Unlock()

	go m.open(t, session)
}

func (m *Manager) sessionCurrent(session uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return session == m.session
}

func (m *Manager) handleFrame(session uint64, data json.RawMessage) {
	m.dispatchMu.Lock()
	defer m.dispatchMu.Unlock()
	if !m.sessionCurrent(session) {
		return
	}
	ev, err := ParseFrameEvent(data)
	if err != nil {
		// Protocol error: drop the event, keep the previous state.
		logging.Warn("[Manager] %v", err)
		m.live.SetLastError(err.Error())
		if m.metrics != nil {
			m.metrics.FramesDropped.Inc()
		}
		return
	}
	snap := m.live.ApplyFrame(ev, time.Now())
	if m.metrics != nil {
		m.metrics.FramesReceived.Inc()
	}
	if m.onFrame != nil {
		m.onFrame(snap)
	}
}

func (m *Manager) handleStreamStatus(session uint64, data json.RawMessage) {
	m.dispatchMu.Lock()
	defer m.dispatchMu.Unlock()
	if !m.sessionCurrent(session) {
		return
	}
	var ev StatusEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		logging.Warn("[Manager] Malformed stream_status event: %v", err)
		return
	}
	m.live.ApplyStatus(ev)
}

func (m *Manager) handleIncident(session uint64, data json.RawMessage) {
	m.dispatchMu.Lock()
	defer m.dispatchMu.Unlock()
	if !m.sessionCurrent(session) {
		return
	}
	if m.onIncident != nil {
		m.onIncident(data)
	}
}

func (m *Manager) handleError(session uint64, data json.RawMessage) {
	m.dispatchMu.Lock()
	defer m.dispatchMu.Unlock()
	if !m.sessionCurrent(session) {
		return
	}
	var ev ErrorEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		logging.Warn("[Manager] Malformed error event: %v", err)
		return
	}
	logging.Warn("[Manager] Backend error: %s", ev.Message)
	m.live.SetLastError(ev.Message)
}

// handleDrop reacts to the transport losing its connection while Connected.
func (m *Manager) handleDrop(session uint64, data json.RawMessage) {
	m.mu.Lock()
	if session != m.session {
		m.mu.Unlock()
		return
	}
	var ev ErrorEvent
	json.Unmarshal(data, &ev)
	cause := errors.New("connection lost")
	if ev.Message != "" {
		cause = errors.New(ev.Message)
	}
	m.transport = nil
	m.failureLocked(cause)
	m.mu.Unlock()
}

// setStateLocked records a transition on the live state and notifies the
// status listener.
func (m *Manager) setStateLocked(s State, lastError string) {
	m.state = s
	m.live.SetConnection(s, lastError)
	if m.metrics != nil {
		m.metrics.ConnectionState.Set(float64(s))
	}
	if m.onStatus != nil {
		m.onStatus(s, lastError)
	}
}
