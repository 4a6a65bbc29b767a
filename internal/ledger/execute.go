package ledger

import (
	"errors"
	"fmt"
	"sort"

	"SimLedger/internal/core"
	"SimLedger/internal/num"
)

// Execute validates and atomically applies a pending transaction. It is
// the sole mutation point for balances, units, and the log.
//
// Validation performs no writes except tentative unit registration,
// which is rolled back on any rejection. Once apply begins every
// sub-step completes; partial application is impossible.
func (l *Ledger) Execute(pending core.PendingTransaction) core.ExecuteResult {
	if pending.IsEmpty() {
		// Applied no-op: nothing to validate, nothing to log.
		return core.Applied(nil)
	}

	if execID, seen := l.seenIntentIDs[pending.IntentID]; seen {
		l.logger.Debug().Str("intent_id", pending.IntentID).Msg("duplicate intent")
		if l.metrics != nil {
			l.metrics.ExecutesDuplicate.Inc()
		}
		return core.AlreadyApplied(execID)
	}

	// Tentative unit registration. Symbols recorded here are removed
	// again if any later validation step rejects.
	var created []string
	rollback := func() {
		for _, symbol := range created {
			delete(l.units, symbol)
		}
	}
	reject := func(r *core.Rejection) core.ExecuteResult {
		rollback()
		l.logger.Debug().
			Str("intent_id", pending.IntentID).
			Str("reason", string(r.Code)).
			Msg("transaction rejected")
		if l.metrics != nil {
			l.metrics.ExecutesRejected.WithLabelValues(string(r.Code)).Inc()
		}
		return core.Rejected(r)
	}

	for _, u := range pending.UnitsToCreate {
		existing, ok := l.units[u.Symbol]
		if !ok {
			l.units[u.Symbol] = u
			created = append(created, u.Symbol)
			continue
		}
		if !existing.SameDefinition(u) {
			return reject(&core.Rejection{Code: core.ReasonUnitConflict, UnitSymbol: u.Symbol})
		}
	}

	// Defensive: Move construction already enforces these.
	for _, m := range pending.Moves {
		if m.Source == m.Dest {
			return reject(&core.Rejection{
				Code:    core.ReasonDegenerateMove,
				Message: fmt.Sprintf("source equals dest: %s", m.Source),
			})
		}
		if m.Quantity.IsZero() {
			return reject(&core.Rejection{
				Code:    core.ReasonDegenerateMove,
				Message: fmt.Sprintf("zero quantity for %s", m.UnitSymbol),
			})
		}
	}

	// Registration checks for every referenced unit and wallet.
	for _, m := range pending.Moves {
		if _, ok := l.units[m.UnitSymbol]; !ok {
			return reject(&core.Rejection{Code: core.ReasonUnknownUnit, UnitSymbol: m.UnitSymbol})
		}
		if !l.IsRegistered(m.Source) {
			return reject(&core.Rejection{Code: core.ReasonUnknownWallet, Wallet: m.Source})
		}
		if !l.IsRegistered(m.Dest) {
			return reject(&core.Rejection{Code: core.ReasonUnknownWallet, Wallet: m.Dest})
		}
	}
	for _, sc := range pending.StateChanges {
		if _, ok := l.units[sc.UnitSymbol]; !ok {
			return reject(&core.Rejection{Code: core.ReasonUnknownUnit, UnitSymbol: sc.UnitSymbol})
		}
	}

	// Net delta per (wallet, unit), accumulated exactly and rounded once
	// per cell with the unit's precision cap. Move quantities are the
	// caller's responsibility to pre-round.
	net := make(map[balanceKey]num.Decimal)
	for _, m := range pending.Moves {
		src := balanceKey{m.Source, m.UnitSymbol}
		dst := balanceKey{m.Dest, m.UnitSymbol}
		net[src] = net[src].Sub(m.Quantity)
		net[dst] = net[dst].Add(m.Quantity)
	}
	netKeys := make([]balanceKey, 0, len(net))
	for key := range net {
		netKeys = append(netKeys, key)
	}
	sort.Slice(netKeys, func(i, j int) bool {
		if netKeys[i].Wallet != netKeys[j].Wallet {
			return netKeys[i].Wallet < netKeys[j].Wallet
		}
		return netKeys[i].Unit < netKeys[j].Unit
	})

	// Proposed post-transaction balances, validated against the unit's
	// range for every non-system wallet.
	proposed := make(map[balanceKey]num.Decimal, len(net))
	for _, key := range netKeys {
		unit := l.units[key.Unit]
		delta := unit.Round(net[key])
		next := unit.Round(l.balances[key].Add(delta))
		proposed[key] = next

		if key.Wallet == core.SystemWallet {
			continue
		}
		if next.Cmp(unit.MinBalance) < 0 || next.Cmp(unit.MaxBalance) > 0 {
			return reject(&core.Rejection{
				Code:       core.ReasonBalanceOutOfRange,
				Wallet:     key.Wallet,
				UnitSymbol: key.Unit,
				Proposed:   next,
				Min:        unit.MinBalance,
				Max:        unit.MaxBalance,
			})
		}
	}

	// Transfer rules. The only caught failure is RuleViolation; any
	// other error from a rule is a broken rule and propagates as a
	// panic.
	for _, m := range pending.Moves {
		unit := l.units[m.UnitSymbol]
		if unit.TransferRule == nil {
			continue
		}
		if err := unit.TransferRule(l, m); err != nil {
			var violation *core.RuleViolation
			if errors.As(err, &violation) {
				return reject(&core.Rejection{
					Code:       core.ReasonTransferRule,
					UnitSymbol: m.UnitSymbol,
					Message:    violation.Message,
				})
			}
			rollback()
			panic(fmt.Sprintf("transfer rule for %s returned non-violation error: %v", m.UnitSymbol, err))
		}
	}

	if pending.ProposedTimestamp.Before(l.currentTime) {
		return reject(&core.Rejection{
			Code:         core.ReasonInvalidTimestamp,
			ProposedTime: pending.ProposedTimestamp,
			CurrentTime:  l.currentTime,
		})
	}

	// Stale-state policy: compare each change's recorded old state to
	// the unit's current state. Strict mode rejects on the first
	// mismatch; warn mode emits advisories during apply.
	if l.cfg.StrictStaleState {
		for _, sc := range pending.StateChanges {
			if adv, stale := l.detectStaleState(sc, pending.IntentID); stale {
				return reject(&core.Rejection{
					Code:       core.ReasonStaleState,
					UnitSymbol: adv.UnitSymbol,
					Key:        adv.Key,
					Expected:   adv.Expected,
					Actual:     adv.Actual,
				})
			}
		}
	}

	// ---- Apply phase. All validation passed; every sub-step completes. ----

	if !l.cfg.StrictStaleState {
		for _, sc := range pending.StateChanges {
			if adv, stale := l.detectStaleState(sc, pending.IntentID); stale {
				l.logger.Warn().
					Str("unit", adv.UnitSymbol).
					Str("key", adv.Key).
					Interface("expected", adv.Expected).
					Interface("actual", adv.Actual).
					Str("intent_id", adv.IntentID).
					Msg("stale state detected")
				if l.metrics != nil {
					l.metrics.StaleStateWarnings.Inc()
				}
				if l.staleObserver != nil {
					l.staleObserver(adv)
				}
			}
		}
	}

	for _, key := range netKeys {
		l.setBalance(key, proposed[key])
	}

	for _, sc := range pending.StateChanges {
		unit := l.units[sc.UnitSymbol]
		l.units[sc.UnitSymbol] = unit.WithState(sc.NewState)
	}

	sequence := l.nextSequence
	executionTime := l.currentTime
	if pending.ProposedTimestamp.After(executionTime) {
		executionTime = pending.ProposedTimestamp
	}

	tx := core.Transaction{
		PendingTransaction: pending,
		ExecID:             execID(l.name, sequence, pending.IntentID),
		LedgerName:         l.name,
		ExecutionTime:      executionTime,
		SequenceNumber:     sequence,
		CreatedUnits:       created,
	}

	l.log = append(l.log, tx)
	l.seenIntentIDs[pending.IntentID] = tx.ExecID
	l.nextSequence++
	l.currentTime = executionTime

	l.logger.Info().
		Str("exec_id", tx.ExecID).
		Int64("sequence", sequence).
		Str("intent_id", pending.IntentID).
		Int("moves", len(pending.Moves)).
		Int("state_changes", len(pending.StateChanges)).
		Int("units_created", len(created)).
		Msg("transaction applied")
	if l.metrics != nil {
		l.metrics.ExecutesApplied.Inc()
		l.metrics.Sequence.Set(float64(l.nextSequence))
		l.metrics.LogLength.Set(float64(len(l.log)))
	}

	return core.Applied(&tx)
}

// detectStaleState compares a state change's recorded old state to the
// unit's current state key by key and reports the first mismatch.
func (l *Ledger) detectStaleState(sc core.UnitStateChange, intentID string) (core.StaleStateAdvisory, bool) {
	if sc.OldState == nil {
		return core.StaleStateAdvisory{}, false
	}
	current := l.GetUnitState(sc.UnitSymbol)

	keys := make([]string, 0, len(sc.OldState)+len(current))
	seen := map[string]bool{}
	for k := range sc.OldState {
		keys = append(keys, k)
		seen[k] = true
	}
	for k := range current {
		if !seen[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	for _, k := range keys {
		if !core.ValueEqual(sc.OldState[k], current[k]) {
			return core.StaleStateAdvisory{
				UnitSymbol: sc.UnitSymbol,
				Key:        k,
				Expected:   sc.OldState[k],
				Actual:     current[k],
				IntentID:   intentID,
			}, true
		}
	}
	return core.StaleStateAdvisory{}, false
}

// execID derives the deterministic execution id from the ledger name,
// the claimed sequence, and the intent hash.
func execID(name string, sequence int64, intentID string) string {
	prefix := intentID
	if len(prefix) > 12 {
		prefix = prefix[:12]
	}
	return fmt.Sprintf("exec:%s:%012d:%s", name, sequence, prefix)
}
