package connection

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Errors
var (
	ErrNotOpen    = errors.New("connection not open")
	ErrDisposed   = errors.New("connection disposed")
	ErrSuperseded = errors.New("request superseded by newer send")
	ErrCanceled   = errors.New("request canceled")
)

// ProtocolError is an explicit error event received from the service.
type ProtocolError struct {
	Code    string
	Message string
}

func (e *ProtocolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("protocol error %s: %s", e.Code, e.Message)
	}
	return "protocol error: " + e.Message
}

// CloseError is an abrupt socket closure while a request was pending.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("socket closed: %s (%d)", e.Reason, e.Code)
}

// Event is one parsed inbound frame.
type Event struct {
	Type       string          // "type" discriminator from the frame
	Raw        json.RawMessage // full frame bytes
	ReceivedAt time.Time       // local timestamp when the frame was read
}

// Frame type discriminators with special handling. Everything else is
// forwarded opaquely.
const (
	eventTypeError     = "error"
	eventTypeCompleted = "response.completed"
	envelopeType       = "response.create"
)

// errorEvent is the payload of an "error" frame.
type errorEvent struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Config configures a single connection.
type Config struct {
	URL              string        // streaming endpoint (wss://...)
	Credential       string        // bearer credential, supplied per call
	IntegrationID    string        // integration identifier header
	HandshakeTimeout time.Duration // max wait for the dial handshake
	WriteTimeout     time.Duration // write deadline for sends
	EventBufferSize  int           // per-request event channel buffer
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		EventBufferSize:  256,
	}
}

func (c *Config) applyDefaults() {
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.EventBufferSize == 0 {
		c.EventBufferSize = 256
	}
}

// State is the connection lifecycle state. Closed is terminal.
type State int

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}
