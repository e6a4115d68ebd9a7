package types

import (
	"encoding/json"
	"time"
)

// State mirrors the readiness of the underlying transport.
// The numeric values match the conventional websocket readyState codes.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Envelope is the decoded wire unit exchanged over a transport.
// Data is kept raw so listeners can unmarshal into their own types.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Lifecycle event kinds recorded by the journal.
const (
	LifecycleConnected = "connected"
	LifecycleClosed    = "closed"
	LifecycleJoined    = "joined"
	LifecycleLeft      = "left"
)

// LifecycleEvent is one journal row describing a change in a connection's life.
type LifecycleEvent struct {
	ConnectionID string    `json:"connection_id"`
	Kind         string    `json:"kind"`
	Detail       string    `json:"detail,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// ConnectionInfo is a read-only view of a live connection for the admin API.
type ConnectionInfo struct {
	ID         string   `json:"id"`
	State      string   `json:"state"`
	RemoteAddr string   `json:"remote_addr,omitempty"`
	Rooms      []string `json:"rooms"`
	Listeners  int      `json:"listeners"`
}
