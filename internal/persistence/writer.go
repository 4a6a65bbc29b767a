package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"SimLedger/internal/core"
	"SimLedger/internal/export"
)

// TransactionRow is one row in ledger_log.transactions. The payload is
// the persisted JSON form (export.TransactionRecord), so a consumer can
// rebuild and re-verify any transaction from the database alone.
type TransactionRow struct {
	Sequence          int64
	LedgerName        string
	ExecID            string
	IntentID          string
	ExecutionTime     time.Time
	ProposedTimestamp time.Time
	Payload           []byte
}

// RowFromTransaction builds the database row for one executed
// transaction.
func RowFromTransaction(tx core.Transaction) (TransactionRow, error) {
	payload, err := export.Marshal(tx)
	if err != nil {
		return TransactionRow{}, err
	}
	return TransactionRow{
		Sequence:          tx.SequenceNumber,
		LedgerName:        tx.LedgerName,
		ExecID:            tx.ExecID,
		IntentID:          tx.IntentID,
		ExecutionTime:     tx.ExecutionTime,
		ProposedTimestamp: tx.ProposedTimestamp,
		Payload:           payload,
	}, nil
}

// LogWriter writes transaction rows to Postgres using multi-row INSERT.
// Conflicts on (ledger_name, sequence) are ignored so replays and
// restarts are harmless.
type LogWriter struct {
	db *sql.DB
}

func NewLogWriter(db *sql.DB) *LogWriter {
	return &LogWriter{db: db}
}

// WriteBatch inserts a batch of rows under a shared batch id.
func (w *LogWriter) WriteBatch(ctx context.Context, rows []TransactionRow) error {
	if len(rows) == 0 {
		return nil
	}

	batchID := uuid.New()

	query := `INSERT INTO ledger_log.transactions
		(sequence, ledger_name, exec_id, intent_id, execution_time, proposed_timestamp, batch_id, payload)
		VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*8)

	for i, r := range rows {
		base := i * 8
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8,
		))
		args = append(args,
			r.Sequence, r.LedgerName, r.ExecID, r.IntentID,
			r.ExecutionTime, r.ProposedTimestamp, batchID, r.Payload,
		)
	}

	query += strings.Join(values, ", ")
	query += ` ON CONFLICT (ledger_name, sequence) DO NOTHING`

	if _, err := w.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert transaction batch (%d rows): %w", len(rows), err)
	}
	return nil
}

// MaxSequence returns the highest persisted sequence for a ledger, or
// -1 when nothing is stored yet.
func (w *LogWriter) MaxSequence(ctx context.Context, ledgerName string) (int64, error) {
	var max sql.NullInt64
	err := w.db.QueryRowContext(ctx,
		`SELECT MAX(sequence) FROM ledger_log.transactions WHERE ledger_name = $1`,
		ledgerName,
	).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("max sequence for %s: %w", ledgerName, err)
	}
	if !max.Valid {
		return -1, nil
	}
	return max.Int64, nil
}
