package schedule

import (
	"container/heap"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"SimLedger/internal/core"
)

// Event is an immutable scheduled lifecycle event. EventID is a
// canonical hash of (action, symbol, trigger time, params) computed at
// construction; it is the dedup key.
type Event struct {
	TriggerTime time.Time
	Priority    int
	Symbol      string
	Action      string
	Params      core.UnitState
	EventID     string
}

// NewEvent validates params and computes the event id.
func NewEvent(triggerTime time.Time, priority int, symbol, action string, params core.UnitState) (Event, error) {
	if action == "" {
		return Event{}, fmt.Errorf("event action cannot be empty")
	}
	canonicalParams, err := core.CanonicalState(params)
	if err != nil {
		return Event{}, fmt.Errorf("event params for %s/%s: %w", action, symbol, err)
	}
	content := fmt.Sprintf("event:%s|%s|%s|%s",
		action, symbol, core.CanonicalTimestamp(triggerTime), canonicalParams)
	sum := sha256.Sum256([]byte(content))
	return Event{
		TriggerTime: triggerTime,
		Priority:    priority,
		Symbol:      symbol,
		Action:      action,
		Params:      core.CopyState(params),
		EventID:     hex.EncodeToString(sum[:16]),
	}, nil
}

// MustEvent builds an event and panics on invalid params. For fixtures.
func MustEvent(triggerTime time.Time, priority int, symbol, action string, params core.UnitState) Event {
	e, err := NewEvent(triggerTime, priority, symbol, action, params)
	if err != nil {
		panic(err)
	}
	return e
}

// less is the total ordering key: trigger time, then priority, then
// symbol, with event id as the final tiebreak.
func (e Event) less(other Event) bool {
	if !e.TriggerTime.Equal(other.TriggerTime) {
		return e.TriggerTime.Before(other.TriggerTime)
	}
	if e.Priority != other.Priority {
		return e.Priority < other.Priority
	}
	if e.Symbol != other.Symbol {
		return e.Symbol < other.Symbol
	}
	return e.EventID < other.EventID
}

func (e Event) String() string {
	return fmt.Sprintf("Event(%s %s@%s prio=%d)", e.Action, e.Symbol,
		core.CanonicalTimestamp(e.TriggerTime), e.Priority)
}

// Handler turns a due event into a pending transaction. Handlers are
// pure: same event, view, and prices always produce the same result.
// Handler failures propagate unchanged; they are never swallowed.
type Handler func(event Event, view core.LedgerView, prices core.Prices) (core.PendingTransaction, error)

type eventHeap []Event

func (h eventHeap) Len() int            { return len(h) }
func (h eventHeap) Less(i, j int) bool  { return h[i].less(h[j]) }
func (h eventHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *eventHeap) Push(x any)         { *h = append(*h, x.(Event)) }
func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// Scheduler is an ordered priority queue of events with dedup by event
// id, plus the action-to-handler registry.
//
// Not safe for concurrent use; it lives inside a single-writer ledger
// instance.
type Scheduler struct {
	heap      eventHeap
	scheduled map[string]struct{}
	executed  map[string]struct{}
	handlers  map[string]Handler
}

// NewScheduler creates an empty scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{
		scheduled: make(map[string]struct{}),
		executed:  make(map[string]struct{}),
		handlers:  make(map[string]Handler),
	}
}

// Register installs the handler for an action type.
func (s *Scheduler) Register(action string, handler Handler) {
	s.handlers[action] = handler
}

// HandlerFor looks up the handler for an action. A missing handler is a
// programming error the caller must propagate.
func (s *Scheduler) HandlerFor(action string) (Handler, bool) {
	h, ok := s.handlers[action]
	return h, ok
}

// Schedule enqueues an event. Scheduling an event that is already
// pending or already executed is a no-op. Returns the event id.
func (s *Scheduler) Schedule(e Event) string {
	if _, done := s.executed[e.EventID]; done {
		return e.EventID
	}
	if _, pending := s.scheduled[e.EventID]; pending {
		return e.EventID
	}
	s.scheduled[e.EventID] = struct{}{}
	heap.Push(&s.heap, e)
	return e.EventID
}

// ScheduleMany enqueues events in order and returns their ids.
func (s *Scheduler) ScheduleMany(events []Event) []string {
	ids := make([]string, 0, len(events))
	for _, e := range events {
		ids = append(ids, s.Schedule(e))
	}
	return ids
}

// GetDue pops and returns every event with trigger time at or before
// asOf, in the ordering key's total order. Already-executed events are
// dropped silently.
func (s *Scheduler) GetDue(asOf time.Time) []Event {
	var due []Event
	for len(s.heap) > 0 && !s.heap[0].TriggerTime.After(asOf) {
		e := heap.Pop(&s.heap).(Event)
		delete(s.scheduled, e.EventID)
		if _, done := s.executed[e.EventID]; done {
			continue
		}
		due = append(due, e)
	}
	return due
}

// MarkExecuted records an event id so future Schedule calls with the
// same id are no-ops.
func (s *Scheduler) MarkExecuted(eventID string) {
	s.executed[eventID] = struct{}{}
}

// PendingCount returns the number of queued events.
func (s *Scheduler) PendingCount() int { return len(s.heap) }

// PeekNext returns the next event without removing it.
func (s *Scheduler) PeekNext() (Event, bool) {
	if len(s.heap) == 0 {
		return Event{}, false
	}
	return s.heap[0], true
}

// Clone returns an independent copy of the scheduler. Handler functions
// are shared; queue and dedup state are copied.
func (s *Scheduler) Clone() *Scheduler {
	cloned := &Scheduler{
		heap:      append(eventHeap(nil), s.heap...),
		scheduled: make(map[string]struct{}, len(s.scheduled)),
		executed:  make(map[string]struct{}, len(s.executed)),
		handlers:  make(map[string]Handler, len(s.handlers)),
	}
	for id := range s.scheduled {
		cloned.scheduled[id] = struct{}{}
	}
	for id := range s.executed {
		cloned.executed[id] = struct{}{}
	}
	for action, h := range s.handlers {
		cloned.handlers[action] = h
	}
	return cloned
}
