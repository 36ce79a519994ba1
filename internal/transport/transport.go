package transport

import (
	"context"
	"encoding/json"
)

// Server-pushed event types carried in the {"type": ..., "data": ...}
// envelope, plus the disconnect signal synthesized when the read pump exits.
const (
	EventFrame        = "frame"
	EventStreamStatus = "stream_status"
	EventIncident     = "incident"
	EventError        = "error"
	EventDisconnect   = "disconnect"
)

// Client commands sent as {"command": ..., "config": ...}.
const (
	CommandStartStream  = "start_stream"
	CommandStopStream   = "stop_stream"
	CommandUpdateConfig = "update_config"
)

// Handler receives the raw data payload of a single event.
type Handler func(data json.RawMessage)

// Transport is a bidirectional real-time event channel to the detection
// backend. Connect establishes the channel; a dial failure is reported as
// the returned error (the caller owns the reconnection policy). After a
// successful Connect the registered handlers receive inbound events until
// the channel drops, at which point the EventDisconnect handler fires once.
// Close tears the channel down without firing EventDisconnect.
type Transport interface {
	Connect(ctx context.Context) error
	On(event string, h Handler)
	Emit(command string, payload interface{}) error
	Close() error
}

// envelope is the server→client message framing.
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// command is the client→server message framing.
type command struct {
	Command string      `json:"command"`
	Config  interface{} `json:"config,omitempty"`
}
