package persistence_test

import (
	"testing"

	"SimLedger/internal/core"
	"SimLedger/internal/export"
	"SimLedger/internal/persistence"
	"SimLedger/internal/testutil"
)

func TestRowFromTransaction(t *testing.T) {
	l := testutil.NewLedger(t)
	if err := l.RegisterWallet("alice"); err != nil {
		t.Fatal(err)
	}
	if result := l.RegisterUnit(testutil.CashUnit(t, "USD", "1000000")); result.Status != core.StatusApplied {
		t.Fatal(result)
	}
	tx := testutil.MustApply(t, l, testutil.Transfer(t, l, "100", "USD", core.SystemWallet, "alice", "row_test"))

	row, err := persistence.RowFromTransaction(tx)
	if err != nil {
		t.Fatal(err)
	}
	if row.Sequence != tx.SequenceNumber {
		t.Errorf("sequence: got %d, want %d", row.Sequence, tx.SequenceNumber)
	}
	if row.LedgerName != "test" || row.ExecID != tx.ExecID || row.IntentID != tx.IntentID {
		t.Errorf("identity columns: %+v", row)
	}
	if !row.ExecutionTime.Equal(tx.ExecutionTime) {
		t.Error("execution time column mismatch")
	}

	// The payload is the persisted form and must round-trip.
	decoded, err := export.Unmarshal(row.Payload)
	if err != nil {
		t.Fatalf("payload round-trip: %v", err)
	}
	if decoded.IntentID != tx.IntentID {
		t.Errorf("payload intent id: got %s, want %s", decoded.IntentID, tx.IntentID)
	}
}
