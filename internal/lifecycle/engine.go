package lifecycle

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"SimLedger/internal/core"
	"SimLedger/internal/ledger"
	"SimLedger/internal/observability"
	"SimLedger/internal/schedule"
)

// ErrUnboundedCascade is returned when a step still makes progress after
// the configured maximum number of cascade passes. It indicates a
// handler or contract set that keeps producing work for the same
// timestamp — a configuration error, not a transient condition.
var ErrUnboundedCascade = errors.New("unbounded cascade: max passes exceeded")

// Engine drives the ledger's temporal lifecycle: each Step advances the
// clock, drains due scheduled events, polls registered smart contracts,
// and repeats within the step until a fixed point.
type Engine struct {
	ledger    *ledger.Ledger
	scheduler *schedule.Scheduler
	contracts map[string]core.SmartContract // unit_type -> contract
	maxPasses int

	logger  zerolog.Logger
	metrics *observability.Metrics
}

// NewEngine wires an engine to a ledger and scheduler. The pass bound
// comes from the ledger's configuration.
func NewEngine(l *ledger.Ledger, s *schedule.Scheduler) *Engine {
	if s == nil {
		s = schedule.NewScheduler()
	}
	return &Engine{
		ledger:    l,
		scheduler: s,
		contracts: make(map[string]core.SmartContract),
		maxPasses: l.Config().MaxCascadePasses,
		logger:    zerolog.Nop(),
	}
}

// SetLogger attaches a structured logger.
func (e *Engine) SetLogger(logger zerolog.Logger) { e.logger = logger }

// SetMetrics attaches Prometheus instrumentation.
func (e *Engine) SetMetrics(m *observability.Metrics) { e.metrics = m }

// Scheduler exposes the engine's event queue.
func (e *Engine) Scheduler() *schedule.Scheduler { return e.scheduler }

// RegisterContract installs a smart contract for a unit type. Every
// registered unit of that type is polled once per pass.
func (e *Engine) RegisterContract(unitType string, contract core.SmartContract) {
	e.contracts[unitType] = contract
}

// Schedule enqueues an event on the engine's scheduler.
func (e *Engine) Schedule(event schedule.Event) string {
	return e.scheduler.Schedule(event)
}

// Step advances the ledger clock to timestamp and runs lifecycle
// processing to a fixed point: scheduled events first, then contract
// polling, repeated while progress is made, bounded by the configured
// maximum passes. Events scheduled during the step with trigger times
// at or before timestamp become visible in the next pass of the same
// step.
func (e *Engine) Step(timestamp time.Time, prices core.Prices) ([]core.Transaction, error) {
	if err := e.ledger.AdvanceTime(timestamp); err != nil {
		return nil, err
	}

	var executed []core.Transaction

	for pass := 1; ; pass++ {
		if pass > e.maxPasses {
			return executed, fmt.Errorf("%w after %d passes at %s",
				ErrUnboundedCascade, e.maxPasses, core.CanonicalTimestamp(timestamp))
		}

		progress := false

		// Phase 1: scheduled events, already totally ordered by
		// (time, priority, symbol, event_id).
		for _, event := range e.scheduler.GetDue(timestamp) {
			handler, ok := e.scheduler.HandlerFor(event.Action)
			if !ok {
				return executed, fmt.Errorf("no handler registered for action %q (event %s)",
					event.Action, event.EventID)
			}

			pending, err := handler(event, e.ledger, prices)
			if err != nil {
				return executed, fmt.Errorf("handler %s for %s: %w", event.Action, event.Symbol, err)
			}

			if !pending.IsEmpty() {
				result := e.ledger.Execute(pending)
				switch result.Status {
				case core.StatusApplied:
					if result.Tx != nil {
						executed = append(executed, *result.Tx)
						progress = true
					}
				case core.StatusRejected:
					e.logger.Warn().
						Str("event_id", event.EventID).
						Str("action", event.Action).
						Str("reason", string(result.Rejection.Code)).
						Msg("scheduled event transaction rejected")
				}
			}
			e.scheduler.MarkExecuted(event.EventID)
		}

		// Phase 2: contract polling, unit types and symbols both in
		// ascending order for a deterministic total order.
		unitTypes := make([]string, 0, len(e.contracts))
		for unitType := range e.contracts {
			unitTypes = append(unitTypes, unitType)
		}
		sort.Strings(unitTypes)

		for _, unitType := range unitTypes {
			contract := e.contracts[unitType]
			for _, symbol := range e.unitsOfType(unitType) {
				pending, err := contract.CheckLifecycle(e.ledger, symbol, timestamp, prices)
				if err != nil {
					return executed, fmt.Errorf("contract %s for %s: %w", unitType, symbol, err)
				}
				if pending.IsEmpty() {
					continue
				}

				result := e.ledger.Execute(pending)
				switch result.Status {
				case core.StatusApplied:
					if result.Tx != nil {
						executed = append(executed, *result.Tx)
						progress = true
					}
				case core.StatusRejected:
					return executed, fmt.Errorf("lifecycle transaction for %s rejected: %w",
						symbol, result.Rejection)
				}
			}
		}

		if e.metrics != nil {
			e.metrics.SchedulerPending.Set(float64(e.scheduler.PendingCount()))
		}

		if !progress {
			if e.metrics != nil {
				e.metrics.CascadePasses.Observe(float64(pass))
			}
			break
		}
	}

	return executed, nil
}

// Run drives the engine through a sequence of timestamps, fetching
// prices for each from pricesAt.
func (e *Engine) Run(timestamps []time.Time, pricesAt func(time.Time) core.Prices) ([]core.Transaction, error) {
	var all []core.Transaction
	for _, ts := range timestamps {
		executed, err := e.Step(ts, pricesAt(ts))
		all = append(all, executed...)
		if err != nil {
			return all, err
		}
	}
	return all, nil
}

// PendingEventCount returns the scheduler queue depth.
func (e *Engine) PendingEventCount() int { return e.scheduler.PendingCount() }

// unitsOfType returns the registered symbols of one unit type, sorted.
func (e *Engine) unitsOfType(unitType string) []string {
	var symbols []string
	for _, symbol := range e.ledger.ListUnits() {
		if u, ok := e.ledger.GetUnit(symbol); ok && u.UnitType == unitType {
			symbols = append(symbols, u.Symbol)
		}
	}
	return symbols
}
