package transcript

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/mkarlsen/chatstream/internal/connection"
)

func TestRecorder_Transform(t *testing.T) {
	r := NewRecorder(DefaultRecorderConfig(), nil, nil)

	receivedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ev := connection.Event{
		Type:       "response.output_text.delta",
		Raw:        json.RawMessage(`{"type":"response.output_text.delta","delta":"hi"}`),
		ReceivedAt: receivedAt,
	}

	row := r.transform("conv-1", "turn-1", ev)

	if row.ConversationID != "conv-1" {
		t.Errorf("ConversationID = %q, want conv-1", row.ConversationID)
	}
	if row.TurnID != "turn-1" {
		t.Errorf("TurnID = %q, want turn-1", row.TurnID)
	}
	if row.EventType != "response.output_text.delta" {
		t.Errorf("EventType = %q", row.EventType)
	}
	if string(row.Payload) != string(ev.Raw) {
		t.Errorf("Payload = %s", row.Payload)
	}
	if row.ReceivedAt != receivedAt.UnixMicro() {
		t.Errorf("ReceivedAt = %d, want %d", row.ReceivedAt, receivedAt.UnixMicro())
	}
	if row.ID.String() == "00000000-0000-0000-0000-000000000000" {
		t.Error("ID should be generated")
	}
}

func TestRecorder_BatchAccumulates(t *testing.T) {
	cfg := RecorderConfig{BatchSize: 100, FlushInterval: time.Hour}
	r := NewRecorder(cfg, nil, nil)

	for i := 0; i < 10; i++ {
		r.Record("conv-1", "turn-1", connection.Event{
			Type:       "response.output_text.delta",
			Raw:        json.RawMessage(`{}`),
			ReceivedAt: time.Now(),
		})
	}

	r.batchMu.Lock()
	pending := len(r.batch)
	r.batchMu.Unlock()

	if pending != 10 {
		t.Errorf("pending rows = %d, want 10", pending)
	}

	stats := r.Stats()
	if stats.Flushes != 0 || stats.Inserts != 0 {
		t.Errorf("unexpected flush activity: %+v", stats)
	}
}
