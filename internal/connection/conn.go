package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn owns a single WebSocket connection to the streaming endpoint and at
// most one outstanding Request at a time. State moves Connecting -> Open ->
// Closed; Closed is terminal.
type Conn struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	state   State
	ws      *websocket.Conn
	current *Request

	// Write serialization
	writeMu sync.Mutex

	done        chan struct{}
	disposeOnce sync.Once
	onDispose   func() // one-shot disposal notification, set by the Registry
}

// NewConn creates a connection in the Connecting state. Connect must be
// called before Send.
func NewConn(cfg Config, logger *slog.Logger) *Conn {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Conn{
		cfg:    cfg,
		logger: logger,
		state:  StateConnecting,
		done:   make(chan struct{}),
	}
}

// Connect performs the WebSocket handshake. Calling it again while already
// Open is a no-op; calling it after disposal returns ErrDisposed. On
// handshake failure the connection is left disposed.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateOpen:
		c.mu.Unlock()
		return nil
	case StateClosed:
		c.mu.Unlock()
		return ErrDisposed
	}
	c.mu.Unlock()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.cfg.Credential)
	if c.cfg.IntegrationID != "" {
		header.Set("X-Integration-Id", c.cfg.IntegrationID)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}

	ws, _, err := dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		c.Dispose()
		return fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}

	c.mu.Lock()
	if c.state == StateClosed {
		// Disposed while the dial was in flight.
		c.mu.Unlock()
		ws.Close()
		return ErrDisposed
	}
	c.ws = ws
	c.state = StateOpen
	c.mu.Unlock()

	go c.readLoop(ws)

	c.logger.Debug("websocket connected", "url", c.cfg.URL)
	return nil
}

// IsOpen reports whether the connection is Open with a live socket.
func (c *Conn) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateOpen && c.ws != nil
}

// State returns the current lifecycle state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Send serializes body into the outbound envelope and writes it to the
// socket, returning the handle for the new exchange. Requires an Open
// connection. Any request still outstanding is settled with ErrSuperseded
// first. Cancelling ctx before the request settles fails it with
// ErrCanceled; the cancellation watch detaches once settled.
func (c *Conn) Send(ctx context.Context, body map[string]any) (*Request, error) {
	c.mu.Lock()
	if c.state != StateOpen || c.ws == nil {
		c.mu.Unlock()
		return nil, ErrNotOpen
	}
	prev := c.current
	req := newRequest(c.cfg.EventBufferSize, c.logger)
	c.current = req
	ws := c.ws
	c.mu.Unlock()

	// Single-flight: never interleave two requests' events.
	if prev != nil {
		prev.fail(ErrSuperseded)
	}

	data, err := encodeEnvelope(body)
	if err != nil {
		c.clearCurrent(req)
		req.fail(err)
		return nil, err
	}

	c.writeMu.Lock()
	ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	err = ws.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()

	if err != nil {
		c.clearCurrent(req)
		err = fmt.Errorf("write request: %w", err)
		req.fail(err)
		return nil, err
	}

	go func() {
		select {
		case <-ctx.Done():
			req.fail(fmt.Errorf("%w: %v", ErrCanceled, ctx.Err()))
		case <-req.done:
		}
	}()

	return req, nil
}

// Dispose fails the current request, closes the socket, transitions to
// Closed, and fires the disposal notification. Safe to call multiple times.
func (c *Conn) Dispose() {
	c.disposeOnce.Do(func() {
		c.mu.Lock()
		c.state = StateClosed
		ws := c.ws
		req := c.current
		c.current = nil
		c.mu.Unlock()

		close(c.done)

		if req != nil {
			req.fail(ErrDisposed)
		}

		if ws != nil {
			ws.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second),
			)
			ws.Close()
		}

		if c.onDispose != nil {
			c.onDispose()
		}

		c.logger.Debug("connection disposed")
	})
}

// encodeEnvelope wraps the caller body in the outbound message envelope.
// The transport is inherently streaming, so any caller-supplied "stream"
// flag is stripped before the protocol discriminator is added.
func encodeEnvelope(body map[string]any) ([]byte, error) {
	envelope := maps.Clone(body)
	if envelope == nil {
		envelope = make(map[string]any, 1)
	}
	delete(envelope, "stream")
	envelope["type"] = envelopeType

	data, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("encode request envelope: %w", err)
	}
	return data, nil
}

// readLoop reads frames until the socket dies and dispatches each one to
// the current request. The transport delivers frames serially, so no
// locking is needed around frame classification itself.
func (c *Conn) readLoop(ws *websocket.Conn) {
	for {
		_, data, err := ws.ReadMessage()
		receivedAt := time.Now()

		if err != nil {
			c.handleReadError(err)
			return
		}

		var head struct {
			Type string `json:"type"`
		}
		if jerr := json.Unmarshal(data, &head); jerr != nil {
			// A bad frame must never abort an otherwise healthy exchange.
			c.logger.Debug("dropping unparsable frame", "error", jerr)
			continue
		}

		c.dispatch(Event{
			Type:       head.Type,
			Raw:        data,
			ReceivedAt: receivedAt,
		})
	}
}

// dispatch classifies a parsed frame and forwards it to the current request.
func (c *Conn) dispatch(ev Event) {
	c.mu.Lock()
	req := c.current
	c.mu.Unlock()

	if req == nil {
		c.logger.Debug("frame with no outstanding request", "type", ev.Type)
		return
	}

	switch ev.Type {
	case eventTypeError:
		var e errorEvent
		if err := json.Unmarshal(ev.Raw, &e); err != nil {
			c.logger.Debug("malformed error event", "error", err)
		}
		req.fail(&ProtocolError{Code: e.Code, Message: e.Message})
		c.clearCurrent(req)

	case eventTypeCompleted:
		req.complete()
		c.clearCurrent(req)

	default:
		req.deliver(ev)
	}
}

// handleReadError translates a dead socket into a request failure and the
// terminal Closed state.
func (c *Conn) handleReadError(err error) {
	select {
	case <-c.done:
		// Local dispose already closed the socket; nothing to report.
		return
	default:
	}

	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		reason := CloseReason(ce.Code)
		c.logger.Debug("socket closed by peer", "code", ce.Code, "reason", reason)
		c.failCurrent(&CloseError{Code: ce.Code, Reason: reason})
	} else {
		// Transport-level error. The socket is unusable once a read fails,
		// so the close transition follows immediately.
		c.logger.Debug("socket read error", "error", err)
		c.failCurrent(fmt.Errorf("transport error: %w", err))
	}

	c.Dispose()
}

// failCurrent fails and clears the outstanding request, if any.
func (c *Conn) failCurrent(err error) {
	c.mu.Lock()
	req := c.current
	c.current = nil
	c.mu.Unlock()

	if req != nil {
		req.fail(err)
	}
}

// clearCurrent drops the current-request reference if it still points at req.
func (c *Conn) clearCurrent(req *Request) {
	c.mu.Lock()
	if c.current == req {
		c.current = nil
	}
	c.mu.Unlock()
}
