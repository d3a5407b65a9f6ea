package connection

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func testEvent(typ string) Event {
	return Event{
		Type:       typ,
		Raw:        json.RawMessage(`{"type":"` + typ + `"}`),
		ReceivedAt: time.Now(),
	}
}

func TestRequest_CompleteSettlesOnce(t *testing.T) {
	req := newRequest(10, nil)

	req.complete()

	if !req.Settled() {
		t.Fatal("expected request to be settled")
	}
	if err := req.Err(); err != nil {
		t.Errorf("Err = %v, want nil", err)
	}

	// Every later settle path must be a no-op.
	req.fail(errors.New("late error"))
	req.fail(ErrSuperseded)
	req.complete()

	if err := req.Err(); err != nil {
		t.Errorf("Err after late settles = %v, want nil", err)
	}

	select {
	case <-req.Done():
	default:
		t.Error("Done should be closed after settle")
	}
}

func TestRequest_FailWinsOverLaterComplete(t *testing.T) {
	req := newRequest(10, nil)

	want := &ProtocolError{Code: "overloaded", Message: "try later"}
	req.fail(want)
	req.complete()

	var perr *ProtocolError
	if !errors.As(req.Err(), &perr) {
		t.Fatalf("Err = %v, want ProtocolError", req.Err())
	}
	if perr.Code != "overloaded" {
		t.Errorf("Code = %q, want overloaded", perr.Code)
	}
}

func TestRequest_ErrorsEmitsExactlyOne(t *testing.T) {
	req := newRequest(10, nil)

	req.fail(ErrSuperseded)
	req.fail(errors.New("second"))

	var got []error
	for err := range req.Errors() {
		got = append(got, err)
	}
	if len(got) != 1 {
		t.Fatalf("received %d errors, want 1", len(got))
	}
	if !errors.Is(got[0], ErrSuperseded) {
		t.Errorf("error = %v, want ErrSuperseded", got[0])
	}
}

func TestRequest_DeliverAfterSettleIsNoop(t *testing.T) {
	req := newRequest(10, nil)

	req.deliver(testEvent("response.output_text.delta"))
	req.complete()
	req.deliver(testEvent("late"))

	var got []Event
	for ev := range req.Events() {
		got = append(got, ev)
	}
	if len(got) != 1 {
		t.Fatalf("received %d events, want 1", len(got))
	}
	if got[0].Type != "response.output_text.delta" {
		t.Errorf("event type = %q", got[0].Type)
	}
}

func TestRequest_DeliverPreservesOrder(t *testing.T) {
	req := newRequest(10, nil)

	types := []string{"a", "b", "c", "d"}
	for _, typ := range types {
		req.deliver(testEvent(typ))
	}
	req.complete()

	i := 0
	for ev := range req.Events() {
		if ev.Type != types[i] {
			t.Errorf("event %d type = %q, want %q", i, ev.Type, types[i])
		}
		i++
	}
	if i != len(types) {
		t.Errorf("received %d events, want %d", i, len(types))
	}
}

func TestRequest_WaitSuccess(t *testing.T) {
	req := newRequest(10, nil)

	go func() {
		time.Sleep(10 * time.Millisecond)
		req.complete()
	}()

	if err := req.Wait(context.Background()); err != nil {
		t.Errorf("Wait = %v, want nil", err)
	}
}

func TestRequest_WaitFailure(t *testing.T) {
	req := newRequest(10, nil)

	go func() {
		time.Sleep(10 * time.Millisecond)
		req.fail(ErrDisposed)
	}()

	if err := req.Wait(context.Background()); !errors.Is(err, ErrDisposed) {
		t.Errorf("Wait = %v, want ErrDisposed", err)
	}
}

func TestRequest_WaitContextExpiry(t *testing.T) {
	req := newRequest(10, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := req.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait = %v, want DeadlineExceeded", err)
	}

	// The request itself is still pending; only the wait gave up.
	if req.Settled() {
		t.Error("request should still be pending")
	}
}

func TestRequest_BufferFullDropsInsteadOfBlocking(t *testing.T) {
	req := newRequest(2, nil)

	// Third deliver overflows the buffer and must not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			req.deliver(testEvent("e"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("deliver blocked on full buffer")
	}
}
