package tick

import (
	"fmt"

	"github.com/emirpasic/gods/trees/redblacktree"
)

// An EventCallback runs when a scheduled event's trigger tick is reached.
// The argument is the tick at which the event actually fired.
type EventCallback func(currentTick uint64)

type eventKey struct {
	tick uint64
	seq  uint64
}

// compareEventKeys orders events by trigger tick, breaking ties by
// insertion sequence so that same-tick events fire deterministically.
func compareEventKeys(a, b interface{}) int {
	ka := a.(eventKey)
	kb := b.(eventKey)

	switch {
	case ka.tick < kb.tick:
		return -1
	case ka.tick > kb.tick:
		return 1
	case ka.seq < kb.seq:
		return -1
	case ka.seq > kb.seq:
		return 1
	default:
		return 0
	}
}

type scheduledEvent struct {
	id            string
	callback      EventCallback
	recurring     bool
	intervalTicks uint64
}

// EventSchedule is a registry of tick-indexed callbacks, consulted once per
// tick. Events are ordered by (trigger tick, insertion order).
type EventSchedule struct {
	tree    *redblacktree.Tree
	byID    map[string]eventKey
	nextSeq uint64
	sink    ErrorSink
}

// NewEventSchedule creates an empty schedule. Callback panics are reported
// through sink; a nil sink discards them after recovery.
func NewEventSchedule(sink ErrorSink) *EventSchedule {
	if sink == nil {
		sink = NopSink{}
	}

	s := new(EventSchedule)
	s.tree = redblacktree.NewWith(compareEventKeys)
	s.byID = make(map[string]eventKey)
	s.sink = sink

	return s
}

// Schedule registers a one-shot callback at triggerTick, replacing any
// existing event with the same id.
func (s *EventSchedule) Schedule(id string, triggerTick uint64, cb EventCallback) {
	s.put(id, triggerTick, cb, false, 0)
}

// ScheduleRecurring registers a callback at triggerTick that reschedules
// itself every intervalTicks after firing. A zero interval degenerates to a
// one-shot. Replaces any existing event with the same id.
func (s *EventSchedule) ScheduleRecurring(
	id string,
	triggerTick uint64,
	intervalTicks uint64,
	cb EventCallback,
) {
	s.put(id, triggerTick, cb, true, intervalTicks)
}

func (s *EventSchedule) put(
	id string,
	triggerTick uint64,
	cb EventCallback,
	recurring bool,
	intervalTicks uint64,
) {
	s.Cancel(id)

	s.nextSeq++
	key := eventKey{tick: triggerTick, seq: s.nextSeq}
	s.tree.Put(key, &scheduledEvent{
		id:            id,
		callback:      cb,
		recurring:     recurring,
		intervalTicks: intervalTicks,
	})
	s.byID[id] = key
}

// Cancel removes the event with the given id. It returns false if no such
// event is pending.
func (s *EventSchedule) Cancel(id string) bool {
	key, ok := s.byID[id]
	if !ok {
		return false
	}

	s.tree.Remove(key)
	delete(s.byID, id)

	return true
}

// Pending returns the next trigger tick for id, if the event is scheduled.
func (s *EventSchedule) Pending(id string) (uint64, bool) {
	key, ok := s.byID[id]
	return key.tick, ok
}

// Len returns the number of scheduled events.
func (s *EventSchedule) Len() int {
	return s.tree.Size()
}

// ProcessDue fires every event whose trigger tick is at or before
// currentTick, in (tick, insertion) order. One callback's failure does not
// prevent the others from firing this tick. Recurring events are
// rescheduled at currentTick + interval; one-shots are removed.
func (s *EventSchedule) ProcessDue(currentTick uint64) {
	for {
		node := s.tree.Left()
		if node == nil {
			return
		}

		key := node.Key.(eventKey)
		if key.tick > currentTick {
			return
		}

		evt := node.Value.(*scheduledEvent)
		s.tree.Remove(key)
		delete(s.byID, evt.id)

		if evt.recurring && evt.intervalTicks > 0 {
			s.put(evt.id, currentTick+evt.intervalTicks,
				evt.callback, true, evt.intervalTicks)
		}

		s.invoke(evt, currentTick)
	}
}

func (s *EventSchedule) invoke(evt *scheduledEvent, currentTick uint64) {
	defer func() {
		if p := recover(); p != nil {
			s.sink.Report(Report{
				Category: SchedulerError,
				Severity: SeverityError,
				Message:  "scheduled event callback panicked",
				Context: map[string]any{
					"event_id": evt.id,
					"tick":     currentTick,
				},
				Err: fmt.Errorf("%v", p),
			})
		}
	}()

	evt.callback(currentTick)
}
