package connection

import (
	"context"
	"log/slog"
	"sync"
)

// Request is the caller's view of one outstanding exchange. It settles
// exactly once: either a "response.completed" frame (success) or the first
// failure (protocol error, socket closure, cancellation, supersession,
// disposal). After settling all channels are closed and further inbound
// frames are no-ops.
type Request struct {
	logger *slog.Logger

	events chan Event
	errs   chan error
	done   chan struct{}

	mu      sync.Mutex
	settled bool
	err     error
}

func newRequest(bufferSize int, logger *slog.Logger) *Request {
	if logger == nil {
		logger = slog.Default()
	}
	return &Request{
		logger: logger,
		events: make(chan Event, bufferSize),
		errs:   make(chan error, 1),
		done:   make(chan struct{}),
	}
}

// Events returns the stream of non-terminal inbound events, in arrival
// order. Closed when the request settles.
func (r *Request) Events() <-chan Event {
	return r.events
}

// Errors emits exactly one error if the request settles via a failure path.
// Closed when the request settles.
func (r *Request) Errors() <-chan error {
	return r.errs
}

// Done is closed when the request settles, success or failure.
func (r *Request) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the request settles or ctx expires. Returns nil on
// success, the settle error on failure.
func (r *Request) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the settle error, or nil if pending or completed.
func (r *Request) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Settled reports whether the request has reached its terminal state.
func (r *Request) Settled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.settled
}

// deliver forwards a pass-through event. No-op once settled. Sends and
// channel closes are serialized under r.mu so a late frame can never race
// a concurrent settle.
func (r *Request) deliver(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.settled {
		return
	}

	select {
	case r.events <- ev:
	default:
		r.logger.Warn("event buffer full, dropping event", "type", ev.Type)
	}
}

// settle transitions Pending -> Settled. Returns false if already settled.
func (r *Request) settle(err error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.settled {
		return false
	}
	r.settled = true
	r.err = err

	if err != nil {
		r.errs <- err
	}
	close(r.errs)
	close(r.events)
	close(r.done)
	return true
}

// complete settles the request successfully.
func (r *Request) complete() {
	if r.settle(nil) {
		r.logger.Debug("request completed")
	}
}

// fail settles the request with an error.
func (r *Request) fail(err error) {
	if r.settle(err) {
		r.logger.Debug("request failed", "error", err)
	}
}
