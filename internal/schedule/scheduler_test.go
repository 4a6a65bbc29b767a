package schedule_test

import (
	"testing"
	"time"

	"SimLedger/internal/core"
	"SimLedger/internal/schedule"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// ============================================================================
// Test: event identity
// ============================================================================

func TestEventID_Deterministic(t *testing.T) {
	a := schedule.MustEvent(t0, 0, "AAPL", "dividend", core.UnitState{"amount": "0.25", "ccy": "USD"})
	b := schedule.MustEvent(t0, 0, "AAPL", "dividend", core.UnitState{"ccy": "USD", "amount": "0.25"})
	if a.EventID != b.EventID {
		t.Errorf("param insertion order changed event id: %s vs %s", a.EventID, b.EventID)
	}

	c := schedule.MustEvent(t0, 0, "AAPL", "dividend", core.UnitState{"amount": "0.30", "ccy": "USD"})
	if a.EventID == c.EventID {
		t.Error("different params must change event id")
	}

	d := schedule.MustEvent(t0.Add(time.Hour), 0, "AAPL", "dividend", core.UnitState{"amount": "0.25", "ccy": "USD"})
	if a.EventID == d.EventID {
		t.Error("different trigger time must change event id")
	}
}

func TestEventID_PriorityNotPartOfIdentity(t *testing.T) {
	a := schedule.MustEvent(t0, 0, "AAPL", "dividend", nil)
	b := schedule.MustEvent(t0, 5, "AAPL", "dividend", nil)
	if a.EventID != b.EventID {
		t.Error("priority is ordering metadata, not identity")
	}
}

// ============================================================================
// Test: ordering (property 7)
// ============================================================================

func TestGetDue_TotalOrder(t *testing.T) {
	s := schedule.NewScheduler()

	late := schedule.MustEvent(t0.Add(2*time.Hour), 0, "A", "x", nil)
	earlyPrio10A := schedule.MustEvent(t0, 10, "A", "x", nil)
	earlyPrio0Z := schedule.MustEvent(t0, 0, "Z", "x", nil)
	earlyPrio10B := schedule.MustEvent(t0, 10, "B", "x", nil)
	notDue := schedule.MustEvent(t0.Add(48*time.Hour), 0, "A", "x", nil)

	// Schedule in scrambled order.
	for _, e := range []schedule.Event{late, earlyPrio10A, notDue, earlyPrio10B, earlyPrio0Z} {
		s.Schedule(e)
	}

	due := s.GetDue(t0.Add(3 * time.Hour))
	if len(due) != 4 {
		t.Fatalf("due: got %d events, want 4", len(due))
	}

	// (time asc, priority asc, symbol asc)
	want := []schedule.Event{earlyPrio0Z, earlyPrio10A, earlyPrio10B, late}
	for i := range want {
		if due[i].EventID != want[i].EventID {
			t.Errorf("due[%d]: got %s/%d/%s, want %s/%d/%s",
				i, due[i].Symbol, due[i].Priority, due[i].Action,
				want[i].Symbol, want[i].Priority, want[i].Action)
		}
	}

	if s.PendingCount() != 1 {
		t.Errorf("pending after drain: got %d, want 1", s.PendingCount())
	}
}

func TestGetDue_OnlyDueEvents(t *testing.T) {
	s := schedule.NewScheduler()
	s.Schedule(schedule.MustEvent(t0.Add(time.Hour), 0, "A", "x", nil))

	if due := s.GetDue(t0); len(due) != 0 {
		t.Errorf("nothing should be due at t0, got %d", len(due))
	}
	if due := s.GetDue(t0.Add(time.Hour)); len(due) != 1 {
		t.Errorf("event due exactly at trigger time, got %d", len(due))
	}
}

// ============================================================================
// Test: dedup
// ============================================================================

func TestSchedule_DedupesByEventID(t *testing.T) {
	s := schedule.NewScheduler()
	e := schedule.MustEvent(t0, 0, "A", "x", nil)

	s.Schedule(e)
	s.Schedule(e)
	if s.PendingCount() != 1 {
		t.Errorf("double schedule: got %d pending, want 1", s.PendingCount())
	}

	due := s.GetDue(t0)
	if len(due) != 1 {
		t.Fatalf("due: got %d, want 1", len(due))
	}
}

func TestSchedule_ExecutedEventsNeverRequeue(t *testing.T) {
	s := schedule.NewScheduler()
	e := schedule.MustEvent(t0, 0, "A", "x", nil)

	s.Schedule(e)
	s.GetDue(t0)
	s.MarkExecuted(e.EventID)

	s.Schedule(e)
	if s.PendingCount() != 0 {
		t.Error("executed event should not re-enter the queue")
	}
	if due := s.GetDue(t0.Add(time.Hour)); len(due) != 0 {
		t.Errorf("executed event should never come due again, got %d", len(due))
	}
}

func TestGetDue_SkipsExecutedInQueue(t *testing.T) {
	s := schedule.NewScheduler()
	e := schedule.MustEvent(t0, 0, "A", "x", nil)
	other := schedule.MustEvent(t0, 1, "B", "x", nil)

	s.Schedule(e)
	s.Schedule(other)
	// Executed elsewhere while still queued here.
	s.MarkExecuted(e.EventID)

	due := s.GetDue(t0)
	if len(due) != 1 || due[0].EventID != other.EventID {
		t.Errorf("queued-but-executed event should be dropped, got %d", len(due))
	}
}

// ============================================================================
// Test: clone
// ============================================================================

func TestClone_IndependentQueues(t *testing.T) {
	s := schedule.NewScheduler()
	s.Schedule(schedule.MustEvent(t0, 0, "A", "x", nil))

	cloned := s.Clone()
	cloned.Schedule(schedule.MustEvent(t0, 0, "B", "x", nil))

	if s.PendingCount() != 1 {
		t.Errorf("original queue grew through clone: %d", s.PendingCount())
	}
	if cloned.PendingCount() != 2 {
		t.Errorf("clone queue: got %d, want 2", cloned.PendingCount())
	}
}
