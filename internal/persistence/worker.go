package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/rs/zerolog"

	"SimLedger/internal/core"
	"SimLedger/internal/observability"
)

// Worker drains executed transactions from a channel and batch-writes
// them to Postgres. It runs outside the deterministic core; the core
// never blocks on it unless the feeding channel is unbuffered by
// choice.
type Worker struct {
	writer       *LogWriter
	inputChan    <-chan core.Transaction
	batchSize    int
	flushTimeout time.Duration
	logger       zerolog.Logger
	metrics      *observability.Metrics
}

func NewWorker(db *sql.DB, inputChan <-chan core.Transaction, batchSize int, flushTimeout time.Duration) *Worker {
	if batchSize <= 0 {
		batchSize = 50
	}
	if flushTimeout <= 0 {
		flushTimeout = 10 * time.Millisecond
	}
	return &Worker{
		writer:       NewLogWriter(db),
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		logger:       zerolog.Nop(),
	}
}

// SetLogger attaches a structured logger.
func (w *Worker) SetLogger(logger zerolog.Logger) { w.logger = logger }

// SetMetrics attaches Prometheus instrumentation.
func (w *Worker) SetMetrics(m *observability.Metrics) { w.metrics = m }

// Run batches incoming transactions and flushes when the batch is full
// or the flush timeout expires. Blocks until ctx is cancelled or the
// channel closes; remaining rows are flushed on the way out.
func (w *Worker) Run(ctx context.Context) error {
	batch := make([]TransactionRow, 0, w.batchSize)

	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if len(batch) > 0 {
				w.flush(context.Background(), batch)
			}
			return ctx.Err()

		case tx, ok := <-w.inputChan:
			if !ok {
				if len(batch) > 0 {
					w.flush(context.Background(), batch)
				}
				return nil
			}

			row, err := RowFromTransaction(tx)
			if err != nil {
				w.logger.Error().Err(err).Str("exec_id", tx.ExecID).Msg("encode transaction row")
				if w.metrics != nil {
					w.metrics.PersistErrors.Inc()
				}
				continue
			}
			batch = append(batch, row)

			if len(batch) >= w.batchSize {
				w.flush(ctx, batch)
				batch = batch[:0]
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.flushTimeout)
			}

		case <-timer.C:
			if len(batch) > 0 {
				w.flush(ctx, batch)
				batch = batch[:0]
			}
			timer.Reset(w.flushTimeout)
		}
	}
}

func (w *Worker) flush(ctx context.Context, batch []TransactionRow) {
	if err := w.writer.WriteBatch(ctx, batch); err != nil {
		w.logger.Error().Err(err).Int("rows", len(batch)).Msg("persist batch failed")
		if w.metrics != nil {
			w.metrics.PersistErrors.Inc()
		}
		return
	}
	if w.metrics != nil {
		w.metrics.PersistRowsWritten.Add(float64(len(batch)))
	}
}
