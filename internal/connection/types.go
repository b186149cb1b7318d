package connection

import (
	"encoding/json"
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected  = errors.New("not connected")
	ErrAlreadyClosed = errors.New("already closed")
)

// State is the lifecycle state of the managed connection.
type State int

const (
	// StateDisconnected means no transport exists and none is scheduled.
	StateDisconnected State = iota

	// StateConnecting means a dial is in flight.
	StateConnecting

	// StateConnected means the transport is live and delivering messages.
	StateConnected

	// StateReconnectPending means the transport died and a retry is scheduled.
	StateReconnectPending
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnectPending:
		return "reconnect_pending"
	default:
		return "unknown"
	}
}

// TimestampedFrame wraps raw frame bytes with a receive timestamp.
type TimestampedFrame struct {
	Data       []byte    // Raw frame bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// Message is a decoded inbound frame handed to consumers.
// Raw holds the full frame; consumers must not mutate it.
type Message struct {
	Type       string          // Envelope discriminator ("presence", "comment", ...)
	Raw        json.RawMessage // Full frame as received
	Epoch      uint64          // Connection epoch that delivered this message
	ReceivedAt time.Time       // Local timestamp when the frame was read
}

// Consumer receives every decoded inbound message, in arrival order.
// Consumers run on the manager loop and must not block.
type Consumer func(Message)

// envelope is used for fast type extraction.
type envelope struct {
	Type string `json:"type"`
}

// keepaliveFrame is the application-level ping sent while connected.
var keepaliveFrame = []byte(`{"type":"ping"}`)

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL              string        // WebSocket URL (e.g. wss://realtime.scholarsync.io/ws)
	Token            string        // Bearer credential, sent as ?token= query parameter
	HandshakeTimeout time.Duration // Dial handshake deadline
	WriteTimeout     time.Duration // Write deadline for sends
	BufferSize       int           // Frame channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		BufferSize:       256,
	}
}

// ManagerConfig configures the Connection Manager.
type ManagerConfig struct {
	WSURL              string        // WebSocket URL
	KeepaliveInterval  time.Duration // Cadence of the {"type":"ping"} frame
	ReconnectBaseDelay time.Duration // First reconnect wait
	ReconnectMaxDelay  time.Duration // Reconnect wait cap
	DialTimeout        time.Duration // Per-attempt dial deadline
	WriteTimeout       time.Duration // Write deadline passed to the client
	FrameBufferSize    int           // Client frame channel buffer size
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		KeepaliveInterval:  30 * time.Second,
		ReconnectBaseDelay: 1 * time.Second,
		ReconnectMaxDelay:  30 * time.Second,
		DialTimeout:        10 * time.Second,
		WriteTimeout:       5 * time.Second,
		FrameBufferSize:    256,
	}
}
