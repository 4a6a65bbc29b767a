package lifecycle_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"SimLedger/internal/core"
	"SimLedger/internal/ledger"
	"SimLedger/internal/lifecycle"
	"SimLedger/internal/num"
	"SimLedger/internal/schedule"
	"SimLedger/internal/testutil"
)

func setupEngine(t *testing.T, maxPasses int) (*ledger.Ledger, *schedule.Scheduler, *lifecycle.Engine) {
	t.Helper()
	l := ledger.New(ledger.Config{Name: "engine_test", InitialTime: testutil.T0, MaxCascadePasses: maxPasses})
	for _, w := range []string{"alice", "bob"} {
		if err := l.RegisterWallet(w); err != nil {
			t.Fatal(err)
		}
	}
	if result := l.RegisterUnit(testutil.CashUnit(t, "USD", "1000000000000")); result.Status != core.StatusApplied {
		t.Fatal(result)
	}
	testutil.MustApply(t, l, testutil.Transfer(t, l, "10000", "USD", core.SystemWallet, "alice", "seed"))

	s := schedule.NewScheduler()
	engine := lifecycle.NewEngine(l, s)
	return l, s, engine
}

// payment returns a handler producing a unique single-move transaction
// per event.
func payment(qty string) schedule.Handler {
	return func(event schedule.Event, view core.LedgerView, prices core.Prices) (core.PendingTransaction, error) {
		move, err := core.NewMove(num.MustParse(qty), "USD", "alice", "bob", "pay_"+event.EventID[:8])
		if err != nil {
			return core.PendingTransaction{}, err
		}
		return core.BuildTransaction(view, []core.Move{move}, nil,
			core.Origin{Type: core.OriginLifecycle, SourceID: event.Action})
	}
}

// ============================================================================
// Test: basic step
// ============================================================================

func TestStep_ExecutesDueEvents(t *testing.T) {
	l, s, engine := setupEngine(t, 10)
	s.Register("pay", payment("100"))
	s.Schedule(schedule.MustEvent(testutil.At(time.Hour), 0, "USD", "pay", nil))

	// Before the trigger time: nothing fires.
	executed, err := engine.Step(testutil.At(time.Minute), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(executed) != 0 {
		t.Fatalf("premature execution: %d transactions", len(executed))
	}

	executed, err = engine.Step(testutil.At(time.Hour), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(executed) != 1 {
		t.Fatalf("executed: got %d, want 1", len(executed))
	}
	if got := l.GetBalance("bob", "USD").Canonical(); got != "100" {
		t.Errorf("bob after event: got %s, want 100", got)
	}
}

func TestStep_TimeCannotMoveBackward(t *testing.T) {
	_, _, engine := setupEngine(t, 10)
	if _, err := engine.Step(testutil.At(time.Hour), nil); err != nil {
		t.Fatal(err)
	}
	if _, err := engine.Step(testutil.At(time.Minute), nil); err == nil {
		t.Error("stepping backward must fail")
	}
}

func TestStep_UnknownActionPropagates(t *testing.T) {
	_, s, engine := setupEngine(t, 10)
	s.Schedule(schedule.MustEvent(testutil.T0, 0, "USD", "unregistered_action", nil))
	if _, err := engine.Step(testutil.T0, nil); err == nil {
		t.Error("unknown action is a programming error and must propagate")
	}
}

func TestStep_HandlerErrorPropagates(t *testing.T) {
	_, s, engine := setupEngine(t, 10)
	s.Register("boom", func(event schedule.Event, view core.LedgerView, prices core.Prices) (core.PendingTransaction, error) {
		return core.PendingTransaction{}, fmt.Errorf("handler exploded")
	})
	s.Schedule(schedule.MustEvent(testutil.T0, 0, "USD", "boom", nil))
	if _, err := engine.Step(testutil.T0, nil); err == nil {
		t.Error("handler failures are never swallowed")
	}
}

// ============================================================================
// Test: cascade (scenario S7)
// ============================================================================

func TestStep_CascadeWithinStep(t *testing.T) {
	l, s, engine := setupEngine(t, 3)

	stepTime := testutil.At(time.Hour)

	// E1's handler schedules E2 at the same timestamp; both must
	// execute within one Step.
	s.Register("first", func(event schedule.Event, view core.LedgerView, prices core.Prices) (core.PendingTransaction, error) {
		s.Schedule(schedule.MustEvent(stepTime, 0, "USD", "second", nil))
		return payment("100")(event, view, prices)
	})
	s.Register("second", payment("50"))
	s.Schedule(schedule.MustEvent(stepTime, 0, "USD", "first", nil))

	executed, err := engine.Step(stepTime, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(executed) != 2 {
		t.Fatalf("cascade executed: got %d, want 2", len(executed))
	}
	if got := l.GetBalance("bob", "USD").Canonical(); got != "150" {
		t.Errorf("bob after cascade: got %s, want 150", got)
	}
}

func TestStep_CascadeDefersFutureEvents(t *testing.T) {
	_, s, engine := setupEngine(t, 10)

	stepTime := testutil.At(time.Hour)
	laterTime := testutil.At(2 * time.Hour)

	s.Register("first", func(event schedule.Event, view core.LedgerView, prices core.Prices) (core.PendingTransaction, error) {
		s.Schedule(schedule.MustEvent(laterTime, 0, "USD", "second", nil))
		return payment("100")(event, view, prices)
	})
	s.Register("second", payment("50"))
	s.Schedule(schedule.MustEvent(stepTime, 0, "USD", "first", nil))

	executed, err := engine.Step(stepTime, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(executed) != 1 {
		t.Fatalf("step 1 executed: got %d, want 1 (second awaits a future step)", len(executed))
	}

	executed, err = engine.Step(laterTime, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(executed) != 1 {
		t.Fatalf("step 2 executed: got %d, want 1", len(executed))
	}
}

func TestStep_UnboundedCascadeFails(t *testing.T) {
	_, s, engine := setupEngine(t, 3)

	stepTime := testutil.At(time.Hour)
	counter := 0

	// Each firing schedules a fresh event (new params, new id) at the
	// same timestamp: a cycle the pass bound must cut off.
	s.Register("loop", func(event schedule.Event, view core.LedgerView, prices core.Prices) (core.PendingTransaction, error) {
		counter++
		s.Schedule(schedule.MustEvent(stepTime, 0, "USD", "loop",
			core.UnitState{"generation": int64(counter)}))
		return payment("1")(event, view, prices)
	})
	s.Schedule(schedule.MustEvent(stepTime, 0, "USD", "loop", nil))

	_, err := engine.Step(stepTime, nil)
	if !errors.Is(err, lifecycle.ErrUnboundedCascade) {
		t.Fatalf("want ErrUnboundedCascade, got %v", err)
	}
}

// ============================================================================
// Test: contract polling
// ============================================================================

// pollOnce flips a "done" flag in unit state the first time it is
// polled and stays quiet afterwards.
type pollOnce struct{}

func (c *pollOnce) CheckLifecycle(view core.LedgerView, symbol string, timestamp time.Time, prices core.Prices) (core.PendingTransaction, error) {
	state := view.GetUnitState(symbol)
	if done, _ := state["done"].(bool); done {
		return core.EmptyPending(view), nil
	}
	newState := core.CopyState(state)
	newState["done"] = true
	sc, err := core.NewUnitStateChange(symbol, state, newState)
	if err != nil {
		return core.PendingTransaction{}, err
	}
	return core.BuildTransaction(view, nil, []core.UnitStateChange{sc},
		core.Origin{Type: core.OriginContract, SourceID: "poll_once", UnitSymbol: symbol})
}

func TestStep_ContractPolling(t *testing.T) {
	l, _, engine := setupEngine(t, 10)

	places := int32(2)
	note, err := core.NewUnit("NOTE1", "Note", "POLLED",
		num.Zero, num.FromInt(1000), &places, nil, core.UnitState{"done": false})
	if err != nil {
		t.Fatal(err)
	}
	if result := l.RegisterUnit(note); result.Status != core.StatusApplied {
		t.Fatal(result)
	}

	engine.RegisterContract("POLLED", &pollOnce{})

	executed, err := engine.Step(testutil.At(time.Hour), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(executed) != 1 {
		t.Fatalf("contract transactions: got %d, want 1", len(executed))
	}
	if done, _ := l.GetUnitState("NOTE1")["done"].(bool); !done {
		t.Error("contract state change not applied")
	}

	// Second step: contract reports nothing to do.
	executed, err = engine.Step(testutil.At(2*time.Hour), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(executed) != 0 {
		t.Errorf("settled contract fired again: %d", len(executed))
	}
}
