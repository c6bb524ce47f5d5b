package timing

import (
	"container/heap"
	"errors"
	"fmt"

	"cubecore/emu/log"
	"cubecore/hw/snapshot"
)

// ErrUnknownEvent is returned when loading a state referencing an event type
// that's not registered.
var ErrUnknownEvent = errors.New("timing: unknown event type")

// maxSavedEvents bounds the number of events accepted from a state, to avoid
// huge allocations on corrupted input.
const maxSavedEvents = 1 << 20

type savedEvent struct {
	time     int64
	seq      uint64
	userdata uint64
	name     string
}

type savedState struct {
	sliceLength       int64
	globalTimer       int64
	downcount         int32
	idledCycles       int64
	fakeDecStartValue uint32
	fakeDecStartTicks uint64
	fakeTBStartValue  uint64
	fakeTBStartTicks  uint64
	lastOCFactor      float64
	seq               uint64
	events            []savedEvent
}

// DoState saves or restores the scheduler state. Events are identified by
// their type name, not by handle, so that a state can be loaded by a build
// registering event types in a different order.
//
// Loading is all or nothing: if the archive is corrupted or references an
// unregistered event type, an error is returned and the scheduler is left
// untouched.
func (ct *CoreTiming[C]) DoState(a *snapshot.Archive) error {
	ct.moveEvents()

	var st savedState
	if !a.IsReading() {
		st = ct.save()
	}

	a.Marker("CoreTimingData")
	a.Int64(&st.sliceLength)
	a.Int64(&st.globalTimer)
	a.Int32(&st.downcount)
	a.Int64(&st.idledCycles)
	a.Uint32(&st.fakeDecStartValue)
	a.Uint64(&st.fakeDecStartTicks)
	a.Uint64(&st.fakeTBStartValue)
	a.Uint64(&st.fakeTBStartTicks)
	a.Float64(&st.lastOCFactor)
	a.Uint64(&st.seq)

	n := len(st.events)
	a.Len(&n)
	if a.IsReading() {
		if a.Err() == nil && (n < 0 || n > maxSavedEvents) {
			a.Fail(fmt.Errorf("timing: too many events in state (%d)", n))
		}
		if a.Err() == nil {
			st.events = make([]savedEvent, n)
		}
	}
	for i := range st.events {
		ev := &st.events[i]
		a.Int64(&ev.time)
		a.Uint64(&ev.seq)
		a.Uint64(&ev.userdata)
		a.String(&ev.name)
	}
	a.Marker("CoreTimingEvents")

	if err := a.Err(); err != nil {
		return fmt.Errorf("timing: %w", err)
	}
	if a.IsReading() {
		return ct.load(&st)
	}
	return nil
}

func (ct *CoreTiming[C]) save() savedState {
	st := savedState{
		sliceLength:       ct.sliceLength,
		globalTimer:       ct.globalTimer,
		downcount:         ct.downcount,
		idledCycles:       ct.idledCycles,
		fakeDecStartValue: ct.fakeDecStartValue,
		fakeDecStartTicks: ct.fakeDecStartTicks,
		fakeTBStartValue:  ct.fakeTBStartValue,
		fakeTBStartTicks:  ct.fakeTBStartTicks,
		lastOCFactor:      ct.lastOCFactor,
		seq:               ct.seq,
		events:            make([]savedEvent, len(ct.queue)),
	}
	for i, ev := range ct.queue {
		st.events[i] = savedEvent{
			time:     ev.time,
			seq:      ev.seq,
			userdata: ev.userdata,
			name:     ct.types[ev.typ].name,
		}
	}
	return st
}

func (ct *CoreTiming[C]) load(st *savedState) error {
	if err := CheckOCFactor(st.lastOCFactor); err != nil {
		return fmt.Errorf("timing: %w", err)
	}

	queue := make(eventQueue, len(st.events))
	for i, sev := range st.events {
		et, ok := ct.byName[sev.name]
		if !ok {
			log.ModState.ErrorZ("state references unregistered event type").
				String("name", sev.name).
				End()
			return fmt.Errorf("%w: %q", ErrUnknownEvent, sev.name)
		}
		queue[i] = event{time: sev.time, seq: sev.seq, userdata: sev.userdata, typ: et}
	}
	heap.Init(&queue)

	ct.sliceLength = st.sliceLength
	ct.globalTimer = st.globalTimer
	ct.downcount = st.downcount
	ct.idledCycles = st.idledCycles
	ct.fakeDecStartValue = st.fakeDecStartValue
	ct.fakeDecStartTicks = st.fakeDecStartTicks
	ct.fakeTBStartValue = st.fakeTBStartValue
	ct.fakeTBStartTicks = st.fakeTBStartTicks
	ct.lastOCFactor = st.lastOCFactor
	ct.lastOCFactorInv = 1 / st.lastOCFactor
	ct.seq = st.seq
	ct.queue = queue
	ct.isGlobalTimerSane = false
	ct.lastTimer.Store(ct.globalTimer)
	return nil
}
