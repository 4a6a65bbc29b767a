package export

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"SimLedger/internal/core"
	"SimLedger/internal/observability"
)

// DefaultSubjectPrefix is the JetStream subject prefix for executed
// transactions. Subjects follow the pattern
// ledger.transactions.{ledger_name}.
const DefaultSubjectPrefix = "ledger.transactions"

// Publisher ships executed transactions to NATS JetStream for
// downstream consumers. It lives strictly outside the deterministic
// core: a failed publish never affects ledger state, since consumers
// can rebuild from the transaction log.
type Publisher struct {
	js            jetstream.JetStream
	subjectPrefix string
	logger        zerolog.Logger
	metrics       *observability.Metrics
}

// NewPublisher wraps a NATS connection in a JetStream publisher.
func NewPublisher(nc *nats.Conn, subjectPrefix string) (*Publisher, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("jetstream init: %w", err)
	}
	if subjectPrefix == "" {
		subjectPrefix = DefaultSubjectPrefix
	}
	return &Publisher{
		js:            js,
		subjectPrefix: subjectPrefix,
		logger:        zerolog.Nop(),
	}, nil
}

// SetLogger attaches a structured logger.
func (p *Publisher) SetLogger(logger zerolog.Logger) { p.logger = logger }

// SetMetrics attaches Prometheus instrumentation.
func (p *Publisher) SetMetrics(m *observability.Metrics) { p.metrics = m }

// PublishTransaction publishes one transaction in its persisted form.
// The message id is the exec id, so JetStream deduplicates redeliveries.
func (p *Publisher) PublishTransaction(ctx context.Context, tx core.Transaction) error {
	payload, err := Marshal(tx)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", tx.ExecID, err)
	}

	subject := fmt.Sprintf("%s.%s", p.subjectPrefix, tx.LedgerName)
	_, err = p.js.Publish(ctx, subject, payload, jetstream.WithMsgID(tx.ExecID))
	if err != nil {
		if p.metrics != nil {
			p.metrics.PublishErrors.Inc()
		}
		return fmt.Errorf("publish %s: %w", tx.ExecID, err)
	}
	if p.metrics != nil {
		p.metrics.TransactionsPublished.Inc()
	}
	return nil
}

// Run drains transactions from in and publishes each until the channel
// closes or the context is cancelled. Publish failures are logged and
// skipped — downstream consumers reconcile from the log.
func (p *Publisher) Run(ctx context.Context, in <-chan core.Transaction) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case tx, ok := <-in:
			if !ok {
				return nil
			}
			if err := p.PublishTransaction(ctx, tx); err != nil {
				p.logger.Warn().Err(err).Str("exec_id", tx.ExecID).Msg("outbound publish failed")
			}
		}
	}
}
