package export_test

import (
	"strings"
	"testing"
	"time"

	"SimLedger/internal/core"
	"SimLedger/internal/export"
	"SimLedger/internal/num"
	"SimLedger/internal/testutil"
)

// executedFixture builds a ledger and returns a transaction carrying
// moves, a state change, and a unit registration all at once.
func executedFixture(t *testing.T) core.Transaction {
	t.Helper()
	l := testutil.NewLedger(t)
	for _, w := range []string{"alice", "bob"} {
		if err := l.RegisterWallet(w); err != nil {
			t.Fatal(err)
		}
	}
	if result := l.RegisterUnit(testutil.CashUnit(t, "USD", "1000000000000")); result.Status != core.StatusApplied {
		t.Fatal(result)
	}

	if err := l.AdvanceTime(testutil.At(time.Hour)); err != nil {
		t.Fatal(err)
	}

	places := int32(6)
	newUnit, err := core.NewUnit("WIDGET", "Widget token", "TOKEN",
		num.Zero, num.MustParse("1000000"), &places, nil,
		core.UnitState{"series": int64(1)})
	if err != nil {
		t.Fatal(err)
	}

	move, err := core.NewMove(num.MustParse("12.50"), "USD", core.SystemWallet, "alice", "fixture_pay")
	if err != nil {
		t.Fatal(err)
	}

	oldState := l.GetUnitState("USD")
	newState := core.CopyState(oldState)
	newState["limits"] = map[string]any{"daily": num.MustParse("100.5"), "enabled": true}
	newState["tags"] = []any{"cash", int64(7), nil}
	sc, err := core.NewUnitStateChange("USD", oldState, newState)
	if err != nil {
		t.Fatal(err)
	}

	seed := int64(99)
	pending, err := core.NewPendingTransaction(
		[]core.Move{move},
		[]core.UnitStateChange{sc},
		[]core.Unit{newUnit},
		core.Origin{
			Type:     core.OriginSystem,
			SourceID: "fixture",
			Seed:     &seed,
			Inputs:   core.UnitState{"run": "r1"},
		},
		l.CurrentTime(),
	)
	if err != nil {
		t.Fatal(err)
	}
	return testutil.MustApply(t, l, pending)
}

// ============================================================================
// Test: round-trip
// ============================================================================

func TestCodec_RoundTripPreservesIntentID(t *testing.T) {
	tx := executedFixture(t)

	data, err := export.Marshal(tx)
	if err != nil {
		t.Fatal(err)
	}

	decoded, err := export.Unmarshal(data)
	if err != nil {
		t.Fatalf("round-trip failed: %v", err)
	}

	if decoded.IntentID != tx.IntentID {
		t.Errorf("intent id: got %s, want %s", decoded.IntentID, tx.IntentID)
	}
	if decoded.ExecID != tx.ExecID {
		t.Errorf("exec id: got %s, want %s", decoded.ExecID, tx.ExecID)
	}
	if decoded.SequenceNumber != tx.SequenceNumber {
		t.Errorf("sequence: got %d, want %d", decoded.SequenceNumber, tx.SequenceNumber)
	}
	if !decoded.ExecutionTime.Equal(tx.ExecutionTime) {
		t.Errorf("execution time: got %s, want %s", decoded.ExecutionTime, tx.ExecutionTime)
	}
	if len(decoded.Moves) != len(tx.Moves) {
		t.Fatalf("moves: got %d, want %d", len(decoded.Moves), len(tx.Moves))
	}
	if !decoded.Moves[0].Quantity.Equal(tx.Moves[0].Quantity) {
		t.Errorf("move quantity: got %s, want %s", decoded.Moves[0].Quantity, tx.Moves[0].Quantity)
	}
	if !core.StateEqual(decoded.StateChanges[0].NewState, tx.StateChanges[0].NewState) {
		t.Error("state change did not survive the round-trip")
	}
	if decoded.Origin.Seed == nil || *decoded.Origin.Seed != 99 {
		t.Error("origin seed did not survive the round-trip")
	}
}

func TestCodec_DecimalsStayExact(t *testing.T) {
	tx := executedFixture(t)
	data, err := export.Marshal(tx)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := export.Unmarshal(data)
	if err != nil {
		t.Fatal(err)
	}

	limits := decoded.StateChanges[0].NewState["limits"].(map[string]any)
	daily, ok := limits["daily"].(num.Decimal)
	if !ok {
		t.Fatalf("daily limit decoded as %T, want num.Decimal", limits["daily"])
	}
	if daily.Canonical() != "100.5" {
		t.Errorf("daily limit: got %s, want 100.5", daily)
	}

	tags := decoded.StateChanges[0].NewState["tags"].([]any)
	if tags[1] != int64(7) {
		t.Errorf("integer tag decoded as %T %v, want int64 7", tags[1], tags[1])
	}
	if tags[2] != nil {
		t.Errorf("null tag decoded as %v", tags[2])
	}
}

func TestCodec_TamperedContentFailsVerification(t *testing.T) {
	tx := executedFixture(t)
	data, err := export.Marshal(tx)
	if err != nil {
		t.Fatal(err)
	}

	tampered := strings.Replace(string(data), `"12.5"`, `"13.5"`, 1)
	if tampered == string(data) {
		t.Fatal("fixture quantity not found in payload")
	}
	if _, err := export.Unmarshal([]byte(tampered)); err == nil {
		t.Error("tampered payload must fail intent verification")
	}
}

func TestCodec_TimestampCanonicalForm(t *testing.T) {
	tx := executedFixture(t)
	record := export.EncodeTransaction(tx)
	if !strings.HasSuffix(record.ExecutionTime, "Z") || !strings.Contains(record.ExecutionTime, ".") {
		t.Errorf("execution time not in canonical fixed-precision form: %q", record.ExecutionTime)
	}
	parsed, err := core.ParseTimestamp(record.ExecutionTime)
	if err != nil {
		t.Fatal(err)
	}
	if !parsed.Equal(tx.ExecutionTime) {
		t.Error("canonical timestamp does not parse back to the same instant")
	}
}
