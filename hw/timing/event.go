package timing

import "container/heap"

// EventType is the handle of a registered event type. Handles are dense
// indices into the scheduler's registry, they're only meaningful for the
// scheduler instance that returned them.
type EventType int32

// InvalidEvent is never returned by RegisterEvent.
const InvalidEvent EventType = -1

// Callback is invoked when an event fires. cyclesLate is the number of cycles
// elapsed between the time the event was scheduled for, and the time it
// actually fired.
type Callback[C any] func(ctx C, userdata uint64, cyclesLate int64)

type eventTypeInfo[C any] struct {
	name     string
	callback Callback[C]
}

type event struct {
	time     int64  // absolute, in cycles
	seq      uint64 // insertion order, breaks ties between equal times
	userdata uint64
	typ      EventType
}

// eventQueue is a min-heap of events ordered by (time, seq).
type eventQueue []event

func (q eventQueue) Len() int { return len(q) }

func (q eventQueue) Less(i, j int) bool {
	if q[i].time != q[j].time {
		return q[i].time < q[j].time
	}
	return q[i].seq < q[j].seq
}

func (q eventQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *eventQueue) Push(x any) { *q = append(*q, x.(event)) }

func (q *eventQueue) Pop() any {
	old := *q
	n := len(old)
	ev := old[n-1]
	*q = old[:n-1]
	return ev
}

func (q *eventQueue) push(ev event) { heap.Push(q, ev) }
func (q *eventQueue) pop() event    { return heap.Pop(q).(event) }

// removeType deletes all events of type et, and reports how many were removed.
func (q *eventQueue) removeType(et EventType) int {
	old := *q
	n := 0
	for _, ev := range old {
		if ev.typ != et {
			old[n] = ev
			n++
		}
	}
	removed := len(old) - n
	if removed != 0 {
		clear(old[n:])
		*q = old[:n]
		heap.Init(q)
	}
	return removed
}
