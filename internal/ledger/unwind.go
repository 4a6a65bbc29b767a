package ledger

import (
	"fmt"
	"time"

	"SimLedger/internal/core"
	"SimLedger/internal/num"
)

// Clone returns a deep copy of the ledger. The copy is fully
// independent: mutations on either side never leak across.
func (l *Ledger) Clone() *Ledger {
	cloned := &Ledger{
		cfg:           l.cfg,
		name:          l.name,
		balances:      make(map[balanceKey]num.Decimal, len(l.balances)),
		units:         make(map[string]core.Unit, len(l.units)),
		wallets:       make(map[string]struct{}, len(l.wallets)),
		log:           append([]core.Transaction(nil), l.log...),
		seenIntentIDs: make(map[string]string, len(l.seenIntentIDs)),
		positions:     make(map[string]map[string]num.Decimal, len(l.positions)),
		currentTime:   l.currentTime,
		nextSequence:  l.nextSequence,
		staleObserver: l.staleObserver,
		logger:        l.logger,
		metrics:       l.metrics,
	}
	for key, q := range l.balances {
		cloned.balances[key] = q
	}
	for symbol, u := range l.units {
		// WithState deep-copies the state mapping; identity fields are
		// immutable values.
		cloned.units[symbol] = u.WithState(u.State())
	}
	for w := range l.wallets {
		cloned.wallets[w] = struct{}{}
	}
	for id, execID := range l.seenIntentIDs {
		cloned.seenIntentIDs[id] = execID
	}
	for symbol, holders := range l.positions {
		copied := make(map[string]num.Decimal, len(holders))
		for w, q := range holders {
			copied[w] = q
		}
		cloned.positions[symbol] = copied
	}
	return cloned
}

// CloneAt reconstructs the ledger as it stood at target by cloning the
// current state and unwinding the log in reverse. Initial balances and
// registrations that predate the log survive because the walk starts
// from current state rather than replaying forward from empty.
func (l *Ledger) CloneAt(target time.Time) (*Ledger, error) {
	if target.After(l.currentTime) {
		return nil, fmt.Errorf("target time %s is in the future (current %s)",
			core.CanonicalTimestamp(target), core.CanonicalTimestamp(l.currentTime))
	}

	cloned := l.Clone()
	cloned.currentTime = target

	// The log is sorted by execution time, so the retained prefix ends
	// at the first transaction past target.
	cut := len(l.log)
	for cut > 0 && l.log[cut-1].ExecutionTime.After(target) {
		cut--
	}
	cloned.log = append([]core.Transaction(nil), l.log[:cut]...)
	cloned.seenIntentIDs = make(map[string]string, cut)
	for _, tx := range cloned.log {
		cloned.seenIntentIDs[tx.IntentID] = tx.ExecID
	}
	if cut == 0 {
		cloned.nextSequence = 0
	} else {
		cloned.nextSequence = cloned.log[cut-1].SequenceNumber + 1
	}

	// Unwind everything past the cut, newest first.
	for i := len(l.log) - 1; i >= cut; i-- {
		tx := l.log[i]

		for _, m := range tx.Moves {
			unit, ok := cloned.units[m.UnitSymbol]
			if !ok {
				return nil, fmt.Errorf("cannot unwind %s: unit %s missing", tx.ExecID, m.UnitSymbol)
			}
			src := balanceKey{m.Source, m.UnitSymbol}
			dst := balanceKey{m.Dest, m.UnitSymbol}
			cloned.setBalance(src, unit.Round(cloned.balances[src].Add(m.Quantity)))
			cloned.setBalance(dst, unit.Round(cloned.balances[dst].Sub(m.Quantity)))
		}

		for j := len(tx.StateChanges) - 1; j >= 0; j-- {
			sc := tx.StateChanges[j]
			if unit, ok := cloned.units[sc.UnitSymbol]; ok {
				cloned.units[sc.UnitSymbol] = unit.WithState(sc.OldState)
			}
		}

		for _, symbol := range tx.CreatedUnits {
			delete(cloned.units, symbol)
			for key := range cloned.balances {
				if key.Unit == symbol {
					delete(cloned.balances, key)
				}
			}
			delete(cloned.positions, symbol)
		}
	}

	return cloned, nil
}

// Replay rebuilds a ledger by re-executing the log in order on a fresh
// instance. Wallets are pre-registered; units the log itself creates are
// not. Units registered outside the log are carried over with their
// declarative definition and empty state (their historical state is not
// recoverable from the log).
func (l *Ledger) Replay() (*Ledger, error) {
	fresh := New(l.cfg)
	fresh.logger = l.logger
	fresh.staleObserver = l.staleObserver

	createdInLog := map[string]bool{}
	for _, tx := range l.log {
		for _, symbol := range tx.CreatedUnits {
			createdInLog[symbol] = true
		}
	}
	for symbol, u := range l.units {
		if createdInLog[symbol] {
			continue
		}
		fresh.units[symbol] = u.WithState(nil)
	}
	for w := range l.wallets {
		if w == core.SystemWallet {
			continue
		}
		if err := fresh.RegisterWallet(w); err != nil {
			return nil, err
		}
	}

	for _, tx := range l.log {
		if tx.ProposedTimestamp.After(fresh.currentTime) {
			if err := fresh.AdvanceTime(tx.ProposedTimestamp); err != nil {
				return nil, err
			}
		}
		result := fresh.Execute(tx.PendingTransaction)
		if result.Status == core.StatusRejected {
			return nil, fmt.Errorf("replay failed at %s: %w", tx.ExecID, result.Rejection)
		}
	}

	return fresh, nil
}
