package transcript

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mkarlsen/chatstream/internal/connection"
)

// RecorderConfig configures the transcript recorder.
type RecorderConfig struct {
	BatchSize     int           // rows per insert batch
	FlushInterval time.Duration // max time a row waits before flush
}

// DefaultRecorderConfig returns sensible defaults.
func DefaultRecorderConfig() RecorderConfig {
	return RecorderConfig{
		BatchSize:     100,
		FlushInterval: time.Second,
	}
}

// eventRow is one row in the chat_events table.
type eventRow struct {
	ID             uuid.UUID
	ConversationID string
	TurnID         string
	EventType      string
	Payload        []byte
	ReceivedAt     int64 // microseconds
}

// RecorderMetrics counts recorder activity.
type RecorderMetrics struct {
	Inserts int64
	Flushes int64
	Errors  int64
}

// Recorder batches stream events and writes them to PostgreSQL.
type Recorder struct {
	cfg    RecorderConfig
	db     *pgxpool.Pool
	logger *slog.Logger

	batch       []eventRow
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics RecorderMetrics
}

// NewRecorder creates a Recorder writing to db.
func NewRecorder(cfg RecorderConfig, db *pgxpool.Pool, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		cfg:    cfg,
		db:     db,
		logger: logger,
		batch:  make([]eventRow, 0, cfg.BatchSize),
	}
}

// Start begins the periodic flush loop.
func (r *Recorder) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.flushTicker = time.NewTicker(r.cfg.FlushInterval)

	r.wg.Add(1)
	go r.flushLoop()

	r.logger.Info("transcript recorder started",
		"batch_size", r.cfg.BatchSize,
		"flush_interval", r.cfg.FlushInterval,
	)
	return nil
}

// Stop shuts down the recorder and flushes any remaining rows.
func (r *Recorder) Stop(ctx context.Context) error {
	r.logger.Info("stopping transcript recorder")

	if r.cancel != nil {
		r.cancel()
	}
	if r.flushTicker != nil {
		r.flushTicker.Stop()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		r.logger.Warn("transcript recorder stop timed out")
	}

	// Final flush
	r.flush()
	return nil
}

// Record appends one stream event to the pending batch.
func (r *Recorder) Record(conversationID, turnID string, ev connection.Event) {
	row := r.transform(conversationID, turnID, ev)

	r.batchMu.Lock()
	r.batch = append(r.batch, row)
	shouldFlush := len(r.batch) >= r.cfg.BatchSize
	r.batchMu.Unlock()

	if shouldFlush {
		r.flush()
	}
}

// Stats returns current metrics.
func (r *Recorder) Stats() RecorderMetrics {
	r.batchMu.Lock()
	defer r.batchMu.Unlock()
	return r.metrics
}

// transform converts an event into a table row.
func (r *Recorder) transform(conversationID, turnID string, ev connection.Event) eventRow {
	return eventRow{
		ID:             uuid.New(),
		ConversationID: conversationID,
		TurnID:         turnID,
		EventType:      ev.Type,
		Payload:        ev.Raw,
		ReceivedAt:     ev.ReceivedAt.UnixMicro(),
	}
}

// flushLoop periodically flushes the batch.
func (r *Recorder) flushLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-r.flushTicker.C:
			r.flush()
		}
	}
}

// flush writes the current batch to the database.
func (r *Recorder) flush() {
	r.batchMu.Lock()
	if len(r.batch) == 0 {
		r.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := r.batch
	r.batch = make([]eventRow, 0, r.cfg.BatchSize)
	r.batchMu.Unlock()

	start := time.Now()

	if err := r.batchInsert(batch); err != nil {
		r.logger.Error("batch insert failed", "error", err, "count", len(batch))
		r.batchMu.Lock()
		r.metrics.Errors++
		r.batchMu.Unlock()
		return
	}

	r.batchMu.Lock()
	r.metrics.Inserts += int64(len(batch))
	r.metrics.Flushes++
	r.batchMu.Unlock()

	r.logger.Debug("flushed events",
		"count", len(batch),
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (r *Recorder) batchInsert(rows []eventRow) error {
	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(`
			INSERT INTO chat_events (id, conversation_id, turn_id, event_type, payload, received_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO NOTHING
		`, row.ID, row.ConversationID, row.TurnID, row.EventType, row.Payload, row.ReceivedAt)
	}

	// The final flush runs after Stop cancels r.ctx; the insert itself
	// must still go through.
	results := r.db.SendBatch(context.WithoutCancel(r.ctx), batch)
	defer results.Close()

	for range rows {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}

	return nil
}
