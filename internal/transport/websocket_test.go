package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type staticTokens string

func (s staticTokens) Token() string { return string(s) }

// wsHarness is a one-connection websocket backend for transport tests.
type wsHarness struct {
	t      *testing.T
	srv    *httptest.Server
	mu     sync.Mutex
	conn   *websocket.Conn
	header http.Header
	connCh chan struct{}
}

func newWSHarness(t *testing.T) *wsHarness {
	h := &wsHarness{t: t, connCh: make(chan struct{}, 4)}
	upgrader := websocket.Upgrader{}
	h.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ws" {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		h.mu.Lock()
		h.conn = conn
		h.header = r.Header.Clone()
		h.mu.Unlock()
		h.connCh <- struct{}{}
	}))
	t.Cleanup(h.srv.Close)
	return h
}

func (h *wsHarness) waitConn() *websocket.Conn {
	select {
	case <-h.connCh:
	case <-time.After(2 * time.Second):
		h.t.Fatal("no websocket connection arrived")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conn
}

func (h *wsHarness) push(conn *websocket.Conn, typ string, data interface{}) {
	b, err := json.Marshal(map[string]interface{}{"type": typ, "data": data})
	if err != nil {
		h.t.Fatal(err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		h.t.Fatalf("push: %v", err)
	}
}

func collect(events chan json.RawMessage) json.RawMessage {
	select {
	case data := <-events:
		return data
	case <-time.After(2 * time.Second):
		return nil
	}
}

func TestWebSocketURLDerivation(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"http://backend:8000", "ws://backend:8000/ws"},
		{"https://backend", "wss://backend/ws"},
		{"http://backend:8000/", "ws://backend:8000/ws"},
		{"ws://backend/ws", "ws://backend/ws/ws"},
	}
	for _, tc := range cases {
		got, err := toWebSocketURL(tc.in)
		if err != nil {
			t.Errorf("%s: %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("%s = %s, want %s", tc.in, got, tc.want)
		}
	}

	if _, err := toWebSocketURL("ftp://backend"); err == nil {
		t.Error("accepted a non-http scheme")
	}
}

func TestWebSocketDispatchesEvents(t *testing.T) {
	h := newWSHarness(t)
	ws, err := NewWebSocket(h.srv.URL, nil)
	if err != nil {
		t.Fatal(err)
	}

	frames := make(chan json.RawMessage, 4)
	ws.On(EventFrame, func(data json.RawMessage) { frames <- data })

	if err := ws.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer ws.Close()
	conn := h.waitConn()

	h.push(conn, EventFrame, map[string]interface{}{"frame_id": 42, "fps": 25.0})

	data := collect(frames)
	if data == nil {
		t.Fatal("frame event not dispatched")
	}
	var payload struct {
		FrameID int64 `json:"frame_id"`
	}
	if err := json.Unmarshal(data, &payload); err != nil || payload.FrameID != 42 {
		t.Errorf("payload = %s", data)
	}
}

func TestWebSocketBearerHeader(t *testing.T) {
	h := newWSHarness(t)
	ws, err := NewWebSocket(h.srv.URL, staticTokens("tok456"))
	if err != nil {
		t.Fatal(err)
	}
	if err := ws.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer ws.Close()
	h.waitConn()

	h.mu.Lock()
	got := h.header.Get("Authorization")
	h.mu.Unlock()
	if got != "Bearer tok456" {
		t.Errorf("authorization = %q", got)
	}
}

func TestWebSocketEmit(t *testing.T) {
	h := newWSHarness(t)
	ws, err := NewWebSocket(h.srv.URL, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := ws.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer ws.Close()
	conn := h.waitConn()

	if err := ws.Emit(CommandStartStream, nil); err != nil {
		t.Fatalf("emit: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("server read: %v", err)
	}
	var cmd struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(msg, &cmd); err != nil || cmd.Command != CommandStartStream {
		t.Errorf("command message = %s", msg)
	}
}

func TestWebSocketEmitBeforeConnect(t *testing.T) {
	ws, err := NewWebSocket("http://backend.invalid", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := ws.Emit(CommandStartStream, nil); err != ErrClosed {
		t.Errorf("emit = %v, want ErrClosed", err)
	}
}

func TestWebSocketDisconnectEventOnDrop(t *testing.T) {
	h := newWSHarness(t)
	ws, err := NewWebSocket(h.srv.URL, nil)
	if err != nil {
		t.Fatal(err)
	}

	drops := make(chan json.RawMessage, 1)
	ws.On(EventDisconnect, func(data json.RawMessage) { drops <- data })

	if err := ws.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	conn := h.waitConn()

	// The backend goes away without a close handshake.
	conn.Close()

	data := collect(drops)
	if data == nil {
		t.Fatal("disconnect event not fired after a drop")
	}
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &payload); err != nil || payload.Message == "" {
		t.Errorf("disconnect payload = %s", data)
	}
}

func TestWebSocketCloseSuppressesDisconnect(t *testing.T) {
	h := newWSHarness(t)
	ws, err := NewWebSocket(h.srv.URL, nil)
	if err != nil {
		t.Fatal(err)
	}

	drops := make(chan json.RawMessage, 1)
	ws.On(EventDisconnect, func(data json.RawMessage) { drops <- data })

	if err := ws.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	h.waitConn()

	if err := ws.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	select {
	case <-drops:
		t.Error("deliberate close fired the disconnect event")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWebSocketMalformedMessage(t *testing.T) {
	h := newWSHarness(t)
	ws, err := NewWebSocket(h.srv.URL, nil)
	if err != nil {
		t.Fatal(err)
	}

	errs := make(chan json.RawMessage, 1)
	frames := make(chan json.RawMessage, 1)
	ws.On(EventError, func(data json.RawMessage) { errs <- data })
	ws.On(EventFrame, func(data json.RawMessage) { frames <- data })

	if err := ws.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer ws.Close()
	conn := h.waitConn()

	conn.WriteMessage(websocket.TextMessage, []byte("{this is not json"))
	if collect(errs) == nil {
		t.Error("malformed message did not surface as an error event")
	}

	// The pump keeps running after a bad message.
	h.push(conn, EventFrame, map[string]interface{}{"frame_id": 1})
	if collect(frames) == nil {
		t.Error("pump stopped after a malformed message")
	}
}

func TestWebSocketDialFailure(t *testing.T) {
	ws, err := NewWebSocket("http://127.0.0.1:1", nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := ws.Connect(ctx); err == nil {
		t.Error("dial to a dead port did not fail")
	}
	if !strings.Contains(ws.url, "/ws") {
		t.Errorf("url = %s", ws.url)
	}
}
