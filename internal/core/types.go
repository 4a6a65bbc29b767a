package core

import (
	"fmt"
	"strings"

	"SimLedger/internal/num"
)

// SystemWallet is the reserved wallet for issuance and redemption.
// It is exempt from balance-range validation and always registered.
const SystemWallet = "system"

// Move is a single transfer of one unit between two distinct wallets.
// Constructed via NewMove; a Move obtained any other way is not
// guaranteed to satisfy the construction invariants.
type Move struct {
	Quantity   num.Decimal
	UnitSymbol string
	Source     string
	Dest       string
	ContractID string
}

// NewMove validates and builds a Move. Quantity must be non-zero (it is
// finite by construction of num.Decimal), wallets must be distinct, and
// all identifiers non-empty.
func NewMove(quantity num.Decimal, unitSymbol, source, dest, contractID string) (Move, error) {
	if strings.TrimSpace(unitSymbol) == "" {
		return Move{}, fmt.Errorf("move unit symbol cannot be empty")
	}
	if strings.TrimSpace(source) == "" {
		return Move{}, fmt.Errorf("move source cannot be empty")
	}
	if strings.TrimSpace(dest) == "" {
		return Move{}, fmt.Errorf("move dest cannot be empty")
	}
	if strings.TrimSpace(contractID) == "" {
		return Move{}, fmt.Errorf("move contract id cannot be empty")
	}
	if source == dest {
		return Move{}, fmt.Errorf("move source and dest must differ: %q", source)
	}
	if quantity.IsZero() {
		return Move{}, fmt.Errorf("%w: move quantity is zero", num.ErrInvalidQuantity)
	}
	return Move{
		Quantity:   quantity,
		UnitSymbol: unitSymbol,
		Source:     source,
		Dest:       dest,
		ContractID: contractID,
	}, nil
}

// MustMove builds a Move and panics on invalid input. For tests and fixtures.
func MustMove(quantity num.Decimal, unitSymbol, source, dest, contractID string) Move {
	m, err := NewMove(quantity, unitSymbol, source, dest, contractID)
	if err != nil {
		panic(err)
	}
	return m
}

func (m Move) String() string {
	return fmt.Sprintf("Move(%s %s: %s→%s)", m.Quantity, m.UnitSymbol, m.Source, m.Dest)
}

// Unit is the immutable definition of an asset type. State replacement
// produces a new Unit via WithState; identity fields never change.
type Unit struct {
	Symbol     string
	Name       string
	UnitType   string
	MinBalance num.Decimal
	MaxBalance num.Decimal
	// DecimalPlaces caps the precision of accumulated balances during
	// validation and apply. nil means no rounding.
	DecimalPlaces *int32
	TransferRule  TransferRule

	state UnitState
}

// NewUnit validates and builds a Unit. The initial state (may be nil)
// must contain only canonicalizable values.
func NewUnit(symbol, name, unitType string, minBalance, maxBalance num.Decimal, decimalPlaces *int32, rule TransferRule, state UnitState) (Unit, error) {
	if strings.TrimSpace(symbol) == "" {
		return Unit{}, fmt.Errorf("unit symbol cannot be empty")
	}
	if strings.TrimSpace(unitType) == "" {
		return Unit{}, fmt.Errorf("unit type cannot be empty for %s", symbol)
	}
	if minBalance.Cmp(maxBalance) > 0 {
		return Unit{}, fmt.Errorf("unit %s: min balance %s exceeds max balance %s", symbol, minBalance, maxBalance)
	}
	if err := ValidateState(state); err != nil {
		return Unit{}, fmt.Errorf("unit %s state: %w", symbol, err)
	}
	return Unit{
		Symbol:        symbol,
		Name:          name,
		UnitType:      unitType,
		MinBalance:    minBalance,
		MaxBalance:    maxBalance,
		DecimalPlaces: decimalPlaces,
		TransferRule:  rule,
		state:         CopyState(state),
	}, nil
}

// MustUnit builds a Unit and panics on invalid input.
func MustUnit(symbol, name, unitType string, minBalance, maxBalance num.Decimal, decimalPlaces *int32, rule TransferRule, state UnitState) Unit {
	u, err := NewUnit(symbol, name, unitType, minBalance, maxBalance, decimalPlaces, rule, state)
	if err != nil {
		panic(err)
	}
	return u
}

// State returns a deep copy of the unit's state mapping.
func (u Unit) State() UnitState {
	if u.state == nil {
		return UnitState{}
	}
	return CopyState(u.state)
}

// WithState returns a new Unit carrying the replacement state. Identity
// fields (symbol, name, type, bounds, rule) are preserved.
func (u Unit) WithState(state UnitState) Unit {
	u.state = CopyState(state)
	return u
}

// Round applies the unit's precision cap to a balance using banker's
// rounding. Values pass through unchanged when no cap is set.
func (u Unit) Round(v num.Decimal) num.Decimal {
	if u.DecimalPlaces == nil {
		return v
	}
	return v.Round(*u.DecimalPlaces)
}

// DeclarativeCanonical is the unit's canonical form for intent hashing:
// identity fields only, never the mutable execution state.
func (u Unit) DeclarativeCanonical() string {
	places := "null"
	if u.DecimalPlaces != nil {
		places = fmt.Sprintf("%d", *u.DecimalPlaces)
	}
	return fmt.Sprintf("unit:%s|%s|%s|%s|%s|%s",
		u.Symbol, u.Name, u.UnitType, u.MinBalance.Canonical(), u.MaxBalance.Canonical(), places)
}

// SameDefinition reports whether two units agree on their declarative
// fields. Used to detect conflicting re-registrations.
func (u Unit) SameDefinition(other Unit) bool {
	return u.DeclarativeCanonical() == other.DeclarativeCanonical()
}

// UnitStateChange is a declarative full replacement of a unit's state.
// OldState records the proposer's belief at build time; NewState is the
// complete replacement.
type UnitStateChange struct {
	UnitSymbol string
	OldState   UnitState
	NewState   UnitState
}

// NewUnitStateChange validates and builds a state change. Both snapshots
// are deep-copied so later caller mutation cannot leak in.
func NewUnitStateChange(unitSymbol string, oldState, newState UnitState) (UnitStateChange, error) {
	if strings.TrimSpace(unitSymbol) == "" {
		return UnitStateChange{}, fmt.Errorf("state change unit symbol cannot be empty")
	}
	if err := ValidateState(oldState); err != nil {
		return UnitStateChange{}, fmt.Errorf("state change %s old state: %w", unitSymbol, err)
	}
	if err := ValidateState(newState); err != nil {
		return UnitStateChange{}, fmt.Errorf("state change %s new state: %w", unitSymbol, err)
	}
	return UnitStateChange{
		UnitSymbol: unitSymbol,
		OldState:   CopyState(oldState),
		NewState:   CopyState(newState),
	}, nil
}

// ChangedKeys returns the keys whose values differ between old and new
// state, for advisory reporting.
func (sc UnitStateChange) ChangedKeys() []string {
	seen := map[string]bool{}
	for k := range sc.OldState {
		seen[k] = true
	}
	for k := range sc.NewState {
		seen[k] = true
	}
	var changed []string
	for k := range seen {
		if !ValueEqual(sc.OldState[k], sc.NewState[k]) {
			changed = append(changed, k)
		}
	}
	return changed
}

// OriginType classifies where a transaction came from.
type OriginType string

const (
	OriginUser      OriginType = "user_action"
	OriginContract  OriginType = "contract"
	OriginLifecycle OriginType = "lifecycle"
	OriginSystem    OriginType = "system"
	OriginExternal  OriginType = "external"
)

// Origin is the opaque provenance record carried by every transaction.
type Origin struct {
	Type       OriginType
	SourceID   string
	UnitSymbol string // optional
	EventType  string // optional
	Seed       *int64 // optional random seed used to derive the transaction
	Inputs     UnitState
}

// Canonical returns the origin's deterministic form for hashing.
func (o Origin) Canonical() (string, error) {
	inputs, err := CanonicalState(o.Inputs)
	if err != nil {
		return "", fmt.Errorf("origin inputs: %w", err)
	}
	seed := "null"
	if o.Seed != nil {
		seed = fmt.Sprintf("%d", *o.Seed)
	}
	return fmt.Sprintf("origin:%s:%s|unit=%s|event=%s|seed=%s|inputs=%s",
		o.Type, o.SourceID, o.UnitSymbol, o.EventType, seed, inputs), nil
}

func (o Origin) String() string {
	parts := []string{fmt.Sprintf("%s:%s", o.Type, o.SourceID)}
	if o.UnitSymbol != "" {
		parts = append(parts, "unit="+o.UnitSymbol)
	}
	if o.EventType != "" {
		parts = append(parts, "event="+o.EventType)
	}
	return "Origin(" + strings.Join(parts, ", ") + ")"
}
