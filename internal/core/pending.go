package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Hash widths for intent identifiers, in bits. 128 keeps ids short;
// 256 uses the full SHA-256 digest.
const (
	HashBits128 = 128
	HashBits256 = 256

	// DefaultHashBits is the width used by the plain constructors.
	DefaultHashBits = HashBits128
)

// PendingTransaction is a validated description of a proposed atomic
// state change, identified by its content hash. Build one through
// NewPendingTransaction or BuildTransaction; the constructors sort
// state changes and unit registrations and compute IntentID.
type PendingTransaction struct {
	Moves             []Move
	StateChanges      []UnitStateChange // ascending by UnitSymbol
	UnitsToCreate     []Unit            // ascending by Symbol
	Origin            Origin
	ProposedTimestamp time.Time
	IntentID          string
}

// NewPendingTransaction assembles and hashes a pending transaction with
// the default 128-bit intent id.
func NewPendingTransaction(moves []Move, stateChanges []UnitStateChange, unitsToCreate []Unit, origin Origin, proposedTimestamp time.Time) (PendingTransaction, error) {
	return NewPendingTransactionHashBits(moves, stateChanges, unitsToCreate, origin, proposedTimestamp, DefaultHashBits)
}

// NewPendingTransactionHashBits assembles a pending transaction with an
// explicit intent-id width (128 or 256 bits).
func NewPendingTransactionHashBits(moves []Move, stateChanges []UnitStateChange, unitsToCreate []Unit, origin Origin, proposedTimestamp time.Time, hashBits int) (PendingTransaction, error) {
	p := PendingTransaction{
		Moves:             append([]Move(nil), moves...),
		StateChanges:      append([]UnitStateChange(nil), stateChanges...),
		UnitsToCreate:     append([]Unit(nil), unitsToCreate...),
		Origin:            origin,
		ProposedTimestamp: proposedTimestamp,
	}
	sort.SliceStable(p.StateChanges, func(i, j int) bool {
		return p.StateChanges[i].UnitSymbol < p.StateChanges[j].UnitSymbol
	})
	sort.SliceStable(p.UnitsToCreate, func(i, j int) bool {
		return p.UnitsToCreate[i].Symbol < p.UnitsToCreate[j].Symbol
	})

	id, err := ComputeIntentID(p, hashBits)
	if err != nil {
		return PendingTransaction{}, err
	}
	p.IntentID = id
	return p, nil
}

// BuildTransaction is the standard way for handlers and contracts to
// assemble a pending transaction: the proposed timestamp comes from the
// view's logical clock.
func BuildTransaction(view LedgerView, moves []Move, stateChanges []UnitStateChange, origin Origin, unitsToCreate ...Unit) (PendingTransaction, error) {
	return NewPendingTransaction(moves, stateChanges, unitsToCreate, origin, view.CurrentTime())
}

// EmptyPending returns an empty pending transaction for handlers and
// contracts with nothing to do. Executing it is an applied no-op that
// is not logged.
func EmptyPending(view LedgerView) PendingTransaction {
	p, err := NewPendingTransaction(nil, nil, nil, Origin{Type: OriginContract, SourceID: "noop"}, view.CurrentTime())
	if err != nil {
		panic(err) // empty content always canonicalizes
	}
	return p
}

// IsEmpty reports whether the transaction carries no moves, no state
// changes, and no unit registrations.
func (p PendingTransaction) IsEmpty() bool {
	return len(p.Moves) == 0 && len(p.StateChanges) == 0 && len(p.UnitsToCreate) == 0
}

// ComputeIntentID derives the content-addressed identifier. It is a pure
// function of the transaction's fields: moves in a stable sort order,
// state changes and unit registrations by symbol, the canonical
// timestamp, and the canonicalized origin, concatenated and hashed with
// SHA-256. Equal content always yields an equal id; the canonicalizer is
// the only serialization allowed to feed it.
func ComputeIntentID(p PendingTransaction, hashBits int) (string, error) {
	if hashBits != HashBits128 && hashBits != HashBits256 {
		return "", fmt.Errorf("unsupported intent hash width: %d bits", hashBits)
	}

	sortedMoves := append([]Move(nil), p.Moves...)
	sort.SliceStable(sortedMoves, func(i, j int) bool {
		a, b := sortedMoves[i], sortedMoves[j]
		if a.UnitSymbol != b.UnitSymbol {
			return a.UnitSymbol < b.UnitSymbol
		}
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		if a.Dest != b.Dest {
			return a.Dest < b.Dest
		}
		if a.ContractID != b.ContractID {
			return a.ContractID < b.ContractID
		}
		return a.Quantity.Canonical() < b.Quantity.Canonical()
	})

	var parts []string

	originCanonical, err := p.Origin.Canonical()
	if err != nil {
		return "", err
	}
	parts = append(parts, originCanonical)

	for _, u := range p.UnitsToCreate {
		parts = append(parts, u.DeclarativeCanonical())
	}

	for _, m := range sortedMoves {
		parts = append(parts, fmt.Sprintf("move:%s|%s|%s|%s|%s",
			m.Quantity.Canonical(), m.UnitSymbol, m.Source, m.Dest, m.ContractID))
	}

	for _, sc := range p.StateChanges {
		oldCanonical, err := CanonicalState(sc.OldState)
		if err != nil {
			return "", fmt.Errorf("state change %s: %w", sc.UnitSymbol, err)
		}
		newCanonical, err := CanonicalState(sc.NewState)
		if err != nil {
			return "", fmt.Errorf("state change %s: %w", sc.UnitSymbol, err)
		}
		parts = append(parts, fmt.Sprintf("sc:%s|%s|%s", sc.UnitSymbol, oldCanonical, newCanonical))
	}

	parts = append(parts, "ts:"+CanonicalTimestamp(p.ProposedTimestamp))

	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:])[:hashBits/4], nil
}

func (p PendingTransaction) String() string {
	return fmt.Sprintf("PendingTransaction(%d moves, %d state changes, %d units, %s)",
		len(p.Moves), len(p.StateChanges), len(p.UnitsToCreate), p.Origin)
}

// Transaction is an executed, immutable log record: the pending content
// plus the ledger-assigned execution fields.
type Transaction struct {
	PendingTransaction

	ExecID         string
	LedgerName     string
	ExecutionTime  time.Time
	SequenceNumber int64

	// CreatedUnits lists the symbols this transaction actually
	// registered (units in UnitsToCreate that did not exist yet).
	// Unwind removes exactly these.
	CreatedUnits []string
}

// ContractIDs returns the distinct contract ids across the moves,
// sorted ascending.
func (t Transaction) ContractIDs() []string {
	seen := map[string]bool{}
	for _, m := range t.Moves {
		seen[m.ContractID] = true
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (t Transaction) String() string {
	return fmt.Sprintf("Transaction(%s seq=%d intent=%s %d moves)",
		t.ExecID, t.SequenceNumber, t.IntentID, len(t.Moves))
}
