package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"vigia/internal/logging"
)

const (
	writeTimeout = 10 * time.Second
	// Base64 encoded JPEG frames can get large
	maxMessageSize = 8 * 1024 * 1024
)

// ErrClosed is returned by Emit after Close or before Connect.
var ErrClosed = errors.New("transport: connection closed")

// TokenSource supplies the bearer token attached to the handshake.
// An empty token means anonymous operation.
type TokenSource interface {
	Token() string
}

// WebSocket is a Transport over a gorilla websocket connection speaking the
// backend's JSON envelope protocol on /ws.
type WebSocket struct {
	url    string
	tokens TokenSource

	mu       sync.Mutex
	conn     *websocket.Conn
	writeMu  sync.Mutex
	handlers map[string][]Handler
	closed   bool
}

// NewWebSocket creates a transport dialing the /ws endpoint of serverURL.
// tokens may be nil.
func NewWebSocket(serverURL string, tokens TokenSource) (*WebSocket, error) {
	wsURL, err := toWebSocketURL(serverURL)
	if err != nil {
		return nil, err
	}
	return &WebSocket{
		url:      wsURL,
		tokens:   tokens,
		handlers: make(map[string][]Handler),
	}, nil
}

// toWebSocketURL converts an http(s) base URL into the ws(s) /ws endpoint.
func toWebSocketURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("transport: invalid server URL %q: %w", serverURL, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("transport: unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}

// On registers a handler for an event type. All registration happens before
// Connect; handlers are invoked sequentially from the read pump goroutine.
func (w *WebSocket) On(event string, h Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[event] = append(w.handlers[event], h)
}

// Connect dials the backend. On success the read pump starts and the
// registered handlers begin receiving events.
func (w *WebSocket) Connect(ctx context.Context) error {
	header := http.Header{}
	if w.tokens != nil {
		if tok := w.tokens.Token(); tok != "" {
			header.Set("Authorization", "Bearer "+tok)
		}
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, w.url, header)
	if err != nil {
		return fmt.Errorf("transport: dial %s: %w", w.url, err)
	}
	conn.SetReadLimit(maxMessageSize)

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	w.conn = conn
	w.mu.Unlock()

	logging.Debug("[Transport] Connected to %s", w.url)
	go w.readPump(conn)
	return nil
}

// Emit sends a fire-and-forget command to the backend.
func (w *WebSocket) Emit(cmd string, payload interface{}) error {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn == nil {
		return ErrClosed
	}

	msg := command{Command: cmd, Config: payload}
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("transport: emit %s: %w", cmd, err)
	}
	return nil
}

// Close tears down the connection. The read pump exits without firing the
// disconnect handler, so a deliberate teardown is never mistaken for a drop.
func (w *WebSocket) Close() error {
	w.mu.Lock()
	w.closed = true
	conn := w.conn
	w.conn = nil
	w.mu.Unlock()

	if conn == nil {
		return nil
	}
	// Best-effort close frame; the peer may already be gone.
	w.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(time.Second))
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	w.writeMu.Unlock()
	return conn.Close()
}

// readPump decodes inbound envelopes and dispatches them until the
// connection drops or Close is called.
func (w *WebSocket) readPump(conn *websocket.Conn) {
	defer conn.Close()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			w.mu.Lock()
			deliberate := w.closed || w.conn != conn
			w.mu.Unlock()
			if deliberate {
				return
			}
			logging.Debug("[Transport] Read pump exit: %v", err)
			w.dispatch(EventDisconnect, errorPayload(err))
			return
		}

		var env envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			logging.Warn("[Transport] Dropping malformed message: %v", err)
			w.dispatch(EventError, errorPayload(err))
			continue
		}
		if env.Type == "" {
			logging.Warn("[Transport] Dropping message without type")
			continue
		}
		w.dispatch(env.Type, env.Data)
	}
}

func (w *WebSocket) dispatch(event string, data json.RawMessage) {
	w.mu.Lock()
	hs := w.handlers[event]
	w.mu.Unlock()
	for _, h := range hs {
		h(data)
	}
}

func errorPayload(err error) json.RawMessage {
	b, _ := json.Marshal(map[string]string{"message": err.Error()})
	return b
}
