package core_test

import (
	"testing"
	"time"

	"SimLedger/internal/core"
	"SimLedger/internal/num"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func mustMove(t *testing.T, qty, unit, source, dest, contractID string) core.Move {
	t.Helper()
	m, err := core.NewMove(num.MustParse(qty), unit, source, dest, contractID)
	if err != nil {
		t.Fatalf("NewMove: %v", err)
	}
	return m
}

// ============================================================================
// Test: Move construction invariants
// ============================================================================

func TestNewMove_Valid(t *testing.T) {
	m := mustMove(t, "100", "USD", "alice", "bob", "payment")
	if m.Quantity.Canonical() != "100" {
		t.Errorf("quantity: got %s", m.Quantity)
	}
}

func TestNewMove_RejectsZeroQuantity(t *testing.T) {
	if _, err := core.NewMove(num.Zero, "USD", "alice", "bob", "p"); err == nil {
		t.Error("zero quantity should be rejected")
	}
}

func TestNewMove_RejectsSameSourceDest(t *testing.T) {
	if _, err := core.NewMove(num.FromInt(1), "USD", "alice", "alice", "p"); err == nil {
		t.Error("source == dest should be rejected")
	}
	if _, err := core.NewMove(num.FromInt(1), "USD", core.SystemWallet, core.SystemWallet, "p"); err == nil {
		t.Error("system → system should be rejected")
	}
}

func TestNewMove_RejectsEmptyFields(t *testing.T) {
	if _, err := core.NewMove(num.FromInt(1), "", "alice", "bob", "p"); err == nil {
		t.Error("empty unit should be rejected")
	}
	if _, err := core.NewMove(num.FromInt(1), "USD", " ", "bob", "p"); err == nil {
		t.Error("blank source should be rejected")
	}
	if _, err := core.NewMove(num.FromInt(1), "USD", "alice", "bob", ""); err == nil {
		t.Error("empty contract id should be rejected")
	}
}

// ============================================================================
// Test: intent id canonical identity
// ============================================================================

func newPending(t *testing.T, moves []core.Move, changes []core.UnitStateChange) core.PendingTransaction {
	t.Helper()
	p, err := core.NewPendingTransaction(moves, changes, nil,
		core.Origin{Type: core.OriginUser, SourceID: "test"}, t0)
	if err != nil {
		t.Fatalf("NewPendingTransaction: %v", err)
	}
	return p
}

func TestIntentID_StateKeyOrderIrrelevant(t *testing.T) {
	scA, err := core.NewUnitStateChange("U",
		core.UnitState{"x": int64(1), "y": int64(2)},
		core.UnitState{"x": int64(1), "y": int64(3)})
	if err != nil {
		t.Fatal(err)
	}
	scB, err := core.NewUnitStateChange("U",
		core.UnitState{"y": int64(2), "x": int64(1)},
		core.UnitState{"y": int64(3), "x": int64(1)})
	if err != nil {
		t.Fatal(err)
	}

	a := newPending(t, nil, []core.UnitStateChange{scA})
	b := newPending(t, nil, []core.UnitStateChange{scB})
	if a.IntentID != b.IntentID {
		t.Errorf("key insertion order changed intent id: %s vs %s", a.IntentID, b.IntentID)
	}
}

func TestIntentID_DecimalRepresentationIrrelevant(t *testing.T) {
	a := newPending(t, []core.Move{mustMove(t, "100", "USD", "alice", "bob", "p")}, nil)
	b := newPending(t, []core.Move{mustMove(t, "100.00", "USD", "alice", "bob", "p")}, nil)
	if a.IntentID != b.IntentID {
		t.Errorf("decimal representation changed intent id: %s vs %s", a.IntentID, b.IntentID)
	}
}

func TestIntentID_MoveOrderIrrelevant(t *testing.T) {
	m1 := mustMove(t, "10", "USD", "alice", "bob", "p1")
	m2 := mustMove(t, "20", "EUR", "bob", "alice", "p2")
	a := newPending(t, []core.Move{m1, m2}, nil)
	b := newPending(t, []core.Move{m2, m1}, nil)
	if a.IntentID != b.IntentID {
		t.Errorf("move order changed intent id: %s vs %s", a.IntentID, b.IntentID)
	}
}

func TestIntentID_ContentSensitive(t *testing.T) {
	base := newPending(t, []core.Move{mustMove(t, "10", "USD", "alice", "bob", "p")}, nil)

	differentQty := newPending(t, []core.Move{mustMove(t, "11", "USD", "alice", "bob", "p")}, nil)
	if base.IntentID == differentQty.IntentID {
		t.Error("different quantity must change intent id")
	}

	differentTime, err := core.NewPendingTransaction(
		[]core.Move{mustMove(t, "10", "USD", "alice", "bob", "p")}, nil, nil,
		core.Origin{Type: core.OriginUser, SourceID: "test"}, t0.Add(time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if base.IntentID == differentTime.IntentID {
		t.Error("different proposed timestamp must change intent id")
	}

	differentOrigin, err := core.NewPendingTransaction(
		[]core.Move{mustMove(t, "10", "USD", "alice", "bob", "p")}, nil, nil,
		core.Origin{Type: core.OriginContract, SourceID: "test"}, t0)
	if err != nil {
		t.Fatal(err)
	}
	if base.IntentID == differentOrigin.IntentID {
		t.Error("different origin must change intent id")
	}
}

func TestIntentID_HashBits(t *testing.T) {
	moves := []core.Move{mustMove(t, "10", "USD", "alice", "bob", "p")}
	origin := core.Origin{Type: core.OriginUser, SourceID: "test"}

	p128, err := core.NewPendingTransactionHashBits(moves, nil, nil, origin, t0, core.HashBits128)
	if err != nil {
		t.Fatal(err)
	}
	if len(p128.IntentID) != 32 {
		t.Errorf("128-bit intent id length: got %d, want 32", len(p128.IntentID))
	}

	p256, err := core.NewPendingTransactionHashBits(moves, nil, nil, origin, t0, core.HashBits256)
	if err != nil {
		t.Fatal(err)
	}
	if len(p256.IntentID) != 64 {
		t.Errorf("256-bit intent id length: got %d, want 64", len(p256.IntentID))
	}
	if p256.IntentID[:32] != p128.IntentID {
		t.Error("256-bit id should extend the 128-bit id")
	}

	if _, err := core.NewPendingTransactionHashBits(moves, nil, nil, origin, t0, 64); err == nil {
		t.Error("unsupported hash width should be rejected")
	}
}

func TestPending_SortsChangesAndUnits(t *testing.T) {
	scB, _ := core.NewUnitStateChange("B", nil, core.UnitState{"v": int64(1)})
	scA, _ := core.NewUnitStateChange("A", nil, core.UnitState{"v": int64(1)})
	uB := core.MustUnit("UB", "B unit", "CASH", num.Zero, num.FromInt(10), nil, nil, nil)
	uA := core.MustUnit("UA", "A unit", "CASH", num.Zero, num.FromInt(10), nil, nil, nil)

	p, err := core.NewPendingTransaction(nil, []core.UnitStateChange{scB, scA},
		[]core.Unit{uB, uA}, core.Origin{Type: core.OriginUser, SourceID: "t"}, t0)
	if err != nil {
		t.Fatal(err)
	}
	if p.StateChanges[0].UnitSymbol != "A" || p.StateChanges[1].UnitSymbol != "B" {
		t.Error("state changes not sorted by unit symbol")
	}
	if p.UnitsToCreate[0].Symbol != "UA" || p.UnitsToCreate[1].Symbol != "UB" {
		t.Error("units to create not sorted by symbol")
	}
}

func TestIsEmpty(t *testing.T) {
	empty, err := core.NewPendingTransaction(nil, nil, nil,
		core.Origin{Type: core.OriginContract, SourceID: "noop"}, t0)
	if err != nil {
		t.Fatal(err)
	}
	if !empty.IsEmpty() {
		t.Error("transaction with no content should be empty")
	}

	nonEmpty := newPending(t, []core.Move{mustMove(t, "1", "USD", "a", "b", "p")}, nil)
	if nonEmpty.IsEmpty() {
		t.Error("transaction with a move should not be empty")
	}
}
