package core

import (
	"fmt"
	"time"

	"SimLedger/internal/num"
)

// Prices maps unit symbols to prices in the base currency. Prices are
// always passed explicitly; the core never observes them from any other
// source.
type Prices = map[string]num.Decimal

// LedgerView is the read-only contract handed to pure code: transfer
// rules, event handlers, and smart contracts. Every returned value is a
// snapshot — mutating it never affects the ledger, and it survives
// subsequent ledger mutation.
type LedgerView interface {
	// CurrentTime returns the ledger's logical clock.
	CurrentTime() time.Time

	// GetBalance returns the balance of unitSymbol in wallet.
	// Missing keys read as zero.
	GetBalance(wallet, unitSymbol string) num.Decimal

	// GetUnitState returns a fresh copy of the unit's state mapping,
	// empty if the unit has none or is not registered.
	GetUnitState(unitSymbol string) UnitState

	// GetPositions returns the non-zero holders of a unit as a
	// materialized snapshot mapping wallet to quantity.
	GetPositions(unitSymbol string) map[string]num.Decimal

	// ListWallets returns all registered wallets sorted ascending.
	ListWallets() []string

	// GetUnit returns the unit definition for symbol.
	GetUnit(symbol string) (Unit, bool)
}

// RuleViolation is the only failure kind a TransferRule may report and
// the only error the execution core catches. Anything else a rule
// returns is treated as a programming error and propagates.
type RuleViolation struct {
	UnitSymbol string
	Message    string
}

func (v *RuleViolation) Error() string {
	return fmt.Sprintf("transfer rule violation for %s: %s", v.UnitSymbol, v.Message)
}

// Violation builds a RuleViolation error.
func Violation(unitSymbol, format string, args ...any) error {
	return &RuleViolation{UnitSymbol: unitSymbol, Message: fmt.Sprintf(format, args...)}
}

// TransferRule validates a single move against a unit's constraints.
// A nil return permits the move; a *RuleViolation rejects it.
type TransferRule func(view LedgerView, move Move) error

// SmartContract is the lifecycle interface polled by the engine once per
// unit of the registered type per pass. Implementations must be pure and
// deterministic: same view, symbol, timestamp, and prices always produce
// the same PendingTransaction.
type SmartContract interface {
	CheckLifecycle(view LedgerView, symbol string, timestamp time.Time, prices Prices) (PendingTransaction, error)
}

// ContractFunc adapts a plain function to SmartContract.
type ContractFunc func(view LedgerView, symbol string, timestamp time.Time, prices Prices) (PendingTransaction, error)

func (f ContractFunc) CheckLifecycle(view LedgerView, symbol string, timestamp time.Time, prices Prices) (PendingTransaction, error) {
	return f(view, symbol, timestamp, prices)
}
