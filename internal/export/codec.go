// Package export serializes executed transactions to their persisted
// form and ships them to downstream consumers. The persisted form
// round-trips: parse → re-canonicalize → identical intent_id.
package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"SimLedger/internal/core"
	"SimLedger/internal/num"
)

// MoveRecord is the wire form of one move. Quantities are canonical
// decimal strings.
type MoveRecord struct {
	Quantity   string `json:"quantity"`
	UnitSymbol string `json:"unit_symbol"`
	Source     string `json:"source"`
	Dest       string `json:"dest"`
	ContractID string `json:"contract_id"`
}

// StateChangeRecord is the wire form of one state replacement. State
// trees use tagged decimals ({"$dec": "..."}); plain JSON numbers are
// integers.
type StateChangeRecord struct {
	UnitSymbol string `json:"unit_symbol"`
	OldState   any    `json:"old_state"`
	NewState   any    `json:"new_state"`
}

// UnitRecord carries the declarative unit fields only — never the
// mutable execution state, matching what the intent hash covers.
type UnitRecord struct {
	Symbol        string `json:"symbol"`
	Name          string `json:"name"`
	UnitType      string `json:"unit_type"`
	MinBalance    string `json:"min_balance"`
	MaxBalance    string `json:"max_balance"`
	DecimalPlaces *int32 `json:"decimal_places,omitempty"`
}

// OriginRecord is the wire form of transaction provenance.
type OriginRecord struct {
	Type       string `json:"type"`
	SourceID   string `json:"source_id"`
	UnitSymbol string `json:"unit_symbol,omitempty"`
	EventType  string `json:"event_type,omitempty"`
	Seed       *int64 `json:"seed,omitempty"`
	Inputs     any    `json:"inputs,omitempty"`
}

// TransactionRecord is the persisted form of one executed transaction.
type TransactionRecord struct {
	ExecID            string              `json:"exec_id"`
	LedgerName        string              `json:"ledger_name"`
	SequenceNumber    int64               `json:"sequence_number"`
	ExecutionTime     string              `json:"execution_time"`
	ProposedTimestamp string              `json:"proposed_timestamp"`
	IntentID          string              `json:"intent_id"`
	Origin            OriginRecord        `json:"origin"`
	Moves             []MoveRecord        `json:"moves"`
	StateChanges      []StateChangeRecord `json:"state_changes"`
	UnitsToCreate     []UnitRecord        `json:"units_to_create"`
	CreatedUnits      []string            `json:"created_units,omitempty"`
}

// EncodeTransaction builds the persisted record for a transaction.
func EncodeTransaction(tx core.Transaction) TransactionRecord {
	record := TransactionRecord{
		ExecID:            tx.ExecID,
		LedgerName:        tx.LedgerName,
		SequenceNumber:    tx.SequenceNumber,
		ExecutionTime:     core.CanonicalTimestamp(tx.ExecutionTime),
		ProposedTimestamp: core.CanonicalTimestamp(tx.ProposedTimestamp),
		IntentID:          tx.IntentID,
		Origin: OriginRecord{
			Type:       string(tx.Origin.Type),
			SourceID:   tx.Origin.SourceID,
			UnitSymbol: tx.Origin.UnitSymbol,
			EventType:  tx.Origin.EventType,
			Seed:       tx.Origin.Seed,
			Inputs:     encodeState(tx.Origin.Inputs),
		},
		CreatedUnits: tx.CreatedUnits,
	}
	for _, m := range tx.Moves {
		record.Moves = append(record.Moves, MoveRecord{
			Quantity:   m.Quantity.Canonical(),
			UnitSymbol: m.UnitSymbol,
			Source:     m.Source,
			Dest:       m.Dest,
			ContractID: m.ContractID,
		})
	}
	for _, sc := range tx.StateChanges {
		record.StateChanges = append(record.StateChanges, StateChangeRecord{
			UnitSymbol: sc.UnitSymbol,
			OldState:   encodeState(sc.OldState),
			NewState:   encodeState(sc.NewState),
		})
	}
	for _, u := range tx.UnitsToCreate {
		record.UnitsToCreate = append(record.UnitsToCreate, UnitRecord{
			Symbol:        u.Symbol,
			Name:          u.Name,
			UnitType:      u.UnitType,
			MinBalance:    u.MinBalance.Canonical(),
			MaxBalance:    u.MaxBalance.Canonical(),
			DecimalPlaces: u.DecimalPlaces,
		})
	}
	return record
}

// Marshal serializes a transaction to its persisted JSON form.
func Marshal(tx core.Transaction) ([]byte, error) {
	return json.Marshal(EncodeTransaction(tx))
}

// Unmarshal parses the persisted form and rebuilds the transaction.
// The intent id is recomputed from the parsed content and must match
// the recorded one; a mismatch means the serialization lost identity.
func Unmarshal(data []byte) (core.Transaction, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var record TransactionRecord
	if err := dec.Decode(&record); err != nil {
		return core.Transaction{}, fmt.Errorf("parse transaction record: %w", err)
	}
	return DecodeTransaction(record)
}

// DecodeTransaction rebuilds a transaction from its persisted record and
// verifies the intent id round-trips.
func DecodeTransaction(record TransactionRecord) (core.Transaction, error) {
	executionTime, err := core.ParseTimestamp(record.ExecutionTime)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("execution_time: %w", err)
	}
	proposedTimestamp, err := core.ParseTimestamp(record.ProposedTimestamp)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("proposed_timestamp: %w", err)
	}

	var moves []core.Move
	for i, mr := range record.Moves {
		qty, err := num.FromString(mr.Quantity)
		if err != nil {
			return core.Transaction{}, fmt.Errorf("move %d quantity: %w", i, err)
		}
		move, err := core.NewMove(qty, mr.UnitSymbol, mr.Source, mr.Dest, mr.ContractID)
		if err != nil {
			return core.Transaction{}, fmt.Errorf("move %d: %w", i, err)
		}
		moves = append(moves, move)
	}

	var changes []core.UnitStateChange
	for i, sr := range record.StateChanges {
		oldState, err := decodeState(sr.OldState)
		if err != nil {
			return core.Transaction{}, fmt.Errorf("state change %d old state: %w", i, err)
		}
		newState, err := decodeState(sr.NewState)
		if err != nil {
			return core.Transaction{}, fmt.Errorf("state change %d new state: %w", i, err)
		}
		sc, err := core.NewUnitStateChange(sr.UnitSymbol, oldState, newState)
		if err != nil {
			return core.Transaction{}, fmt.Errorf("state change %d: %w", i, err)
		}
		changes = append(changes, sc)
	}

	var unitsToCreate []core.Unit
	for i, ur := range record.UnitsToCreate {
		minBalance, err := num.FromString(ur.MinBalance)
		if err != nil {
			return core.Transaction{}, fmt.Errorf("unit %d min balance: %w", i, err)
		}
		maxBalance, err := num.FromString(ur.MaxBalance)
		if err != nil {
			return core.Transaction{}, fmt.Errorf("unit %d max balance: %w", i, err)
		}
		u, err := core.NewUnit(ur.Symbol, ur.Name, ur.UnitType, minBalance, maxBalance, ur.DecimalPlaces, nil, nil)
		if err != nil {
			return core.Transaction{}, fmt.Errorf("unit %d: %w", i, err)
		}
		unitsToCreate = append(unitsToCreate, u)
	}

	inputs, err := decodeState(record.Origin.Inputs)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("origin inputs: %w", err)
	}
	origin := core.Origin{
		Type:       core.OriginType(record.Origin.Type),
		SourceID:   record.Origin.SourceID,
		UnitSymbol: record.Origin.UnitSymbol,
		EventType:  record.Origin.EventType,
		Seed:       record.Origin.Seed,
		Inputs:     inputs,
	}

	hashBits := len(record.IntentID) * 4
	pending, err := core.NewPendingTransactionHashBits(moves, changes, unitsToCreate, origin, proposedTimestamp, hashBits)
	if err != nil {
		return core.Transaction{}, err
	}
	if pending.IntentID != record.IntentID {
		return core.Transaction{}, fmt.Errorf("intent id mismatch after round-trip: recorded %s, recomputed %s",
			record.IntentID, pending.IntentID)
	}

	return core.Transaction{
		PendingTransaction: pending,
		ExecID:             record.ExecID,
		LedgerName:         record.LedgerName,
		ExecutionTime:      executionTime,
		SequenceNumber:     record.SequenceNumber,
		CreatedUnits:       record.CreatedUnits,
	}, nil
}

// encodeState / decodeState translate between core state trees and the
// JSON-safe form. Decimals become {"$dec": "<canonical>"} so they are
// distinguishable from integers on the way back in.

const decimalTag = "$dec"

func encodeState(s core.UnitState) any {
	if s == nil {
		return nil
	}
	return encodeValue(s)
}

func encodeValue(v any) any {
	switch x := v.(type) {
	case num.Decimal:
		return map[string]any{decimalTag: x.Canonical()}
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			out[k] = encodeValue(item)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = encodeValue(item)
		}
		return out
	default:
		return v
	}
}

func decodeState(v any) (core.UnitState, error) {
	if v == nil {
		return nil, nil
	}
	decoded, err := decodeValue(v)
	if err != nil {
		return nil, err
	}
	state, ok := decoded.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("state is not a mapping: %T", decoded)
	}
	return state, nil
}

func decodeValue(v any) (any, error) {
	switch x := v.(type) {
	case nil, bool, string, int64:
		return x, nil
	case json.Number:
		s := x.String()
		if strings.ContainsAny(s, ".eE") {
			return nil, fmt.Errorf("non-integer bare number %q (decimals must be tagged)", s)
		}
		n, err := x.Int64()
		if err != nil {
			return nil, fmt.Errorf("integer %q: %w", s, err)
		}
		return n, nil
	case map[string]any:
		if raw, ok := x[decimalTag]; ok && len(x) == 1 {
			s, ok := raw.(string)
			if !ok {
				return nil, fmt.Errorf("decimal tag holds %T, want string", raw)
			}
			d, err := num.FromString(s)
			if err != nil {
				return nil, err
			}
			return d, nil
		}
		out := make(map[string]any, len(x))
		for k, item := range x {
			decoded, err := decodeValue(item)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}
			out[k] = decoded
		}
		return out, nil
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			decoded, err := decodeValue(item)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			out[i] = decoded
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported wire value type %T", v)
	}
}
