package core

import (
	"fmt"
	"time"

	"SimLedger/internal/num"
)

// ExecuteStatus discriminates the outcome of Execute.
type ExecuteStatus int

const (
	StatusApplied ExecuteStatus = iota
	StatusAlreadyApplied
	StatusRejected
)

func (s ExecuteStatus) String() string {
	switch s {
	case StatusApplied:
		return "applied"
	case StatusAlreadyApplied:
		return "already_applied"
	case StatusRejected:
		return "rejected"
	}
	return "unknown"
}

// ReasonCode is the stable, programmatic rejection taxonomy. Tests may
// assert on these codes; they do not change across versions.
type ReasonCode string

const (
	ReasonUnknownUnit       ReasonCode = "unknown_unit"
	ReasonUnitConflict      ReasonCode = "unit_conflict"
	ReasonUnknownWallet     ReasonCode = "unknown_wallet"
	ReasonBalanceOutOfRange ReasonCode = "balance_out_of_range"
	ReasonTransferRule      ReasonCode = "transfer_rule_violation"
	ReasonStaleState        ReasonCode = "stale_state"
	ReasonInvalidTimestamp  ReasonCode = "invalid_timestamp"
	ReasonDegenerateMove    ReasonCode = "degenerate_move"
)

// Rejection carries a rejection code plus enough context to diagnose
// without logs. Only the fields relevant to the code are set.
type Rejection struct {
	Code ReasonCode

	UnitSymbol string
	Wallet     string

	// Balance-range context.
	Proposed num.Decimal
	Min      num.Decimal
	Max      num.Decimal

	// Stale-state context.
	Key      string
	Expected any
	Actual   any

	// Timestamp context.
	ProposedTime time.Time
	CurrentTime  time.Time

	Message string
}

func (r *Rejection) Error() string {
	switch r.Code {
	case ReasonUnknownUnit:
		return fmt.Sprintf("unknown unit: %s", r.UnitSymbol)
	case ReasonUnitConflict:
		return fmt.Sprintf("unit conflict: %s already registered with a different definition", r.UnitSymbol)
	case ReasonUnknownWallet:
		return fmt.Sprintf("unknown wallet: %s", r.Wallet)
	case ReasonBalanceOutOfRange:
		return fmt.Sprintf("balance out of range: %s %s would be %s, allowed [%s, %s]",
			r.Wallet, r.UnitSymbol, r.Proposed, r.Min, r.Max)
	case ReasonTransferRule:
		return fmt.Sprintf("transfer rule violation for %s: %s", r.UnitSymbol, r.Message)
	case ReasonStaleState:
		return fmt.Sprintf("stale state for %s.%s: expected %v, found %v",
			r.UnitSymbol, r.Key, r.Expected, r.Actual)
	case ReasonInvalidTimestamp:
		return fmt.Sprintf("invalid timestamp: proposed %s precedes current %s",
			CanonicalTimestamp(r.ProposedTime), CanonicalTimestamp(r.CurrentTime))
	case ReasonDegenerateMove:
		return fmt.Sprintf("degenerate move: %s", r.Message)
	}
	return fmt.Sprintf("rejected: %s", r.Message)
}

// ExecuteResult is the tagged outcome of Execute. Exactly the field for
// the active status is populated: Tx for Applied (nil for an empty
// no-op), ExecID for AlreadyApplied, Rejection for Rejected.
type ExecuteResult struct {
	Status    ExecuteStatus
	Tx        *Transaction
	ExecID    string
	Rejection *Rejection
}

// Applied wraps a successfully executed transaction.
func Applied(tx *Transaction) ExecuteResult {
	return ExecuteResult{Status: StatusApplied, Tx: tx}
}

// AlreadyApplied reports an idempotent duplicate by the original exec id.
func AlreadyApplied(execID string) ExecuteResult {
	return ExecuteResult{Status: StatusAlreadyApplied, ExecID: execID}
}

// Rejected wraps a validation failure.
func Rejected(r *Rejection) ExecuteResult {
	return ExecuteResult{Status: StatusRejected, Rejection: r}
}

func (r ExecuteResult) String() string {
	switch r.Status {
	case StatusApplied:
		if r.Tx == nil {
			return "applied (empty)"
		}
		return "applied " + r.Tx.ExecID
	case StatusAlreadyApplied:
		return "already_applied " + r.ExecID
	case StatusRejected:
		return "rejected: " + r.Rejection.Error()
	}
	return "unknown"
}

// StaleStateAdvisory is emitted when a state change's recorded old state
// disagrees with the unit's current state at apply time. In the default
// warn mode it is delivered to the observer; in strict mode the
// transaction is rejected instead.
type StaleStateAdvisory struct {
	UnitSymbol string
	Key        string
	Expected   any
	Actual     any
	IntentID   string
}

// StaleStateObserver receives stale-state advisories.
type StaleStateObserver func(StaleStateAdvisory)
