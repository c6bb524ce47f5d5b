// Package timing implements the emulator event scheduler.
//
// All emulated time is counted in CPU cycles. The CPU decrements the downcount
// register while executing; when it reaches zero it calls Advance, which
// fires every due event and computes the length of the next slice, that is
// the number of cycles the CPU may run before the next mandatory check.
//
// Event firing order only depends on the sequence of calls made to the
// scheduler: events due at the same cycle fire in the order they were
// scheduled.
package timing

import (
	"cmp"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"sync/atomic"

	"cubecore/emu/log"
)

// MaxSliceLength is the maximum number of cycles the CPU runs between two
// calls to Advance.
const MaxSliceLength = 20000

// CoreTiming is the event scheduler. C is the type of the context passed to
// event callbacks, usually the emulation instance owning the scheduler.
//
// Unless stated otherwise, methods must be called from the CPU goroutine.
type CoreTiming[C any] struct {
	ctx C

	types  []eventTypeInfo[C]
	byName map[string]EventType

	queue   eventQueue
	seq     uint64 // next insertion sequence number
	tsQueue chan message

	globalTimer int64
	sliceLength int64
	downcount   int32
	idledCycles int64

	// Set while Advance fires events: globalTimer is then exactly the current
	// time and the downcount can't be trusted.
	isGlobalTimerSane bool

	// globalTimer as of the last Advance, readable from any goroutine.
	lastTimer atomic.Int64

	// Overclock factor in effect for the current slice, and the requested one,
	// taking effect at the next Advance.
	lastOCFactor    float64
	lastOCFactorInv float64
	configOCFactor  atomic.Uint64 // float64 bits

	fakeDecStartValue uint32
	fakeDecStartTicks uint64
	fakeTBStartValue  uint64
	fakeTBStartTicks  uint64

	deterministic atomic.Bool
	cpuGoroutine  atomic.Uint64
}

// New returns a scheduler passing ctx to all event callbacks.
func New[C any](ctx C) *CoreTiming[C] {
	ct := &CoreTiming[C]{
		ctx:             ctx,
		byName:          make(map[string]EventType),
		tsQueue:         make(chan message, tsQueueSize),
		lastOCFactor:    1,
		lastOCFactorInv: 1,
	}
	ct.configOCFactor.Store(math.Float64bits(1))
	ct.sliceLength = MaxSliceLength
	ct.downcount = ct.cyclesToDowncount(MaxSliceLength)
	return ct
}

func (ct *CoreTiming[C]) cyclesToDowncount(cycles int64) int32 {
	return int32(float64(cycles) * ct.lastOCFactor)
}

func (ct *CoreTiming[C]) downcountToCycles(downcount int32) int64 {
	return int64(float64(downcount) * ct.lastOCFactorInv)
}

// RegisterEvent registers a new event type. Event types should only be
// registered during initialization, the set of names must be the same
// between the instance saving a state and the one loading it.
//
// Registering an already registered name is an error: it's logged and the
// handle of the first registration is returned.
func (ct *CoreTiming[C]) RegisterEvent(name string, callback Callback[C]) EventType {
	if et, ok := ct.byName[name]; ok {
		log.ModTiming.ErrorZ("event type already registered").
			String("name", name).
			End()
		return et
	}

	et := EventType(len(ct.types))
	ct.types = append(ct.types, eventTypeInfo[C]{name: name, callback: callback})
	ct.byName[name] = et
	return et
}

// UnregisterAllEvents empties the registry. Pending events are dropped.
func (ct *CoreTiming[C]) UnregisterAllEvents() {
	ct.moveEvents()
	if len(ct.queue) != 0 {
		log.ModTiming.ErrorZ("unregistering event types with events pending").
			Int("pending", len(ct.queue)).
			End()
		ct.ClearPendingEvents()
	}
	ct.types = nil
	clear(ct.byName)
}

// LookupEvent returns the handle of the event type registered under name.
func (ct *CoreTiming[C]) LookupEvent(name string) (EventType, bool) {
	et, ok := ct.byName[name]
	return et, ok
}

// EventName returns the name et was registered with. Safe to call from any
// goroutine once registration is done.
func (ct *CoreTiming[C]) EventName(et EventType) string {
	if !ct.valid(et) {
		return fmt.Sprintf("<invalid event %d>", et)
	}
	return ct.types[et].name
}

func (ct *CoreTiming[C]) valid(et EventType) bool {
	return et >= 0 && int(et) < len(ct.types)
}

// Shutdown drops all pending events and registered event types.
func (ct *CoreTiming[C]) Shutdown() {
	ct.moveEvents()
	ct.ClearPendingEvents()
	ct.UnregisterAllEvents()
}

// Overclock factor bounds. Below MinOCFactor a short slice translates into a
// null downcount; above MaxOCFactor a full slice overflows it.
const (
	MinOCFactor = 0.01
	MaxOCFactor = 4
)

// CheckOCFactor reports whether f is a usable overclock factor.
func CheckOCFactor(f float64) error {
	if !(f >= MinOCFactor && f <= MaxOCFactor) {
		return fmt.Errorf("overclock factor %v out of range [%v, %v]", f, MinOCFactor, MaxOCFactor)
	}
	return nil
}

// SetOverclock sets the CPU clock multiplier. The new factor only affects the
// translation of cycles into downcount, starting from the next Advance. Can
// be called from any goroutine. Out of range factors are clamped.
func (ct *CoreTiming[C]) SetOverclock(enabled bool, factor float64) {
	if !enabled {
		factor = 1
	}
	if err := CheckOCFactor(factor); err != nil {
		log.ModTiming.WarnZ("clamping overclock factor").Error("err", err).End()
		if math.IsNaN(factor) {
			factor = 1
		}
		factor = min(max(factor, MinOCFactor), MaxOCFactor)
	}
	ct.configOCFactor.Store(math.Float64bits(factor))
}

// OCFactor returns the overclock factor in effect for the current slice.
func (ct *CoreTiming[C]) OCFactor() float64 { return ct.lastOCFactor }

// SetDeterministic should be set while determinism matters (movie recording
// or playback, netplay). Events scheduled from non-CPU goroutines are then
// reported, since their timing depends on the host.
func (ct *CoreTiming[C]) SetDeterministic(v bool) { ct.deterministic.Store(v) }

// GetTicks returns the current time, in cycles, including the cycles
// executed so far in the current slice.
func (ct *CoreTiming[C]) GetTicks() uint64 {
	ticks := ct.globalTimer
	if !ct.isGlobalTimerSane {
		ticks += ct.sliceLength - ct.downcountToCycles(ct.downcount)
	}
	return uint64(ticks)
}

// GetIdleTicks returns the number of cycles skipped by Idle.
func (ct *CoreTiming[C]) GetIdleTicks() uint64 { return uint64(ct.idledCycles) }

// GlobalTimer returns the time at the beginning of the current slice.
func (ct *CoreTiming[C]) GlobalTimer() int64 { return ct.globalTimer }

// SliceLength returns the length, in cycles, of the current slice.
func (ct *CoreTiming[C]) SliceLength() int64 { return ct.sliceLength }

// Downcount returns the CPU downcount register.
func (ct *CoreTiming[C]) Downcount() int32 { return ct.downcount }

// SetDowncount sets the CPU downcount register.
func (ct *CoreTiming[C]) SetDowncount(v int32) { ct.downcount = v }

// DowncountPtr returns the address of the downcount register, for callers
// decrementing it in a hot loop.
func (ct *CoreTiming[C]) DowncountPtr() *int32 { return &ct.downcount }

// ClearPendingEvents drops all pending events.
func (ct *CoreTiming[C]) ClearPendingEvents() {
	clear(ct.queue)
	ct.queue = ct.queue[:0]
}

// ScheduleEvent schedules an event of type et to fire in cycles cycles from
// now. Equivalent to ScheduleEventFrom(FromCPU, ...).
func (ct *CoreTiming[C]) ScheduleEvent(cycles int64, et EventType, userdata uint64) {
	ct.ScheduleEventFrom(FromCPU, cycles, et, userdata)
}

// ScheduleEventFrom schedules an event of type et to fire in cycles cycles.
//
// From the CPU goroutine, the event is inserted right away, and the current
// slice is shortened if the event is due before its end. From any other
// goroutine, the request is handed off to the CPU goroutine and the event is
// inserted at the next Advance, its time being relative to the time of the
// last Advance. The hand-off blocks while tsQueueSize requests are waiting,
// that is until the CPU goroutine calls Advance; callers that can't wait
// should use TryScheduleEvent.
func (ct *CoreTiming[C]) ScheduleEventFrom(from FromThread, cycles int64, et EventType, userdata uint64) {
	if !ct.checkSchedule(from, cycles, et) {
		return
	}

	if from == FromCPU {
		time := int64(ct.GetTicks()) + cycles

		// If this event needs to be scheduled before the next Advance, force
		// one early.
		if !ct.isGlobalTimerSane {
			ct.ForceExceptionCheck(cycles)
		}

		ct.queue.push(event{time: time, seq: ct.seq, userdata: userdata, typ: et})
		ct.seq++
		return
	}

	ct.tsQueue <- message{typ: et, time: ct.lastTimer.Load() + cycles, userdata: userdata}
}

// ErrQueueFull is returned by TryScheduleEvent when the hand-off queue is
// full.
var ErrQueueFull = errors.New("timing: non-CPU event queue is full")

// TryScheduleEvent is ScheduleEventFrom(FromNonCPU, ...) without blocking:
// the request is dropped, and ErrQueueFull returned, when the hand-off queue
// is full.
func (ct *CoreTiming[C]) TryScheduleEvent(cycles int64, et EventType, userdata uint64) error {
	if !ct.checkSchedule(FromNonCPU, cycles, et) {
		return fmt.Errorf("timing: invalid event type %d", et)
	}
	select {
	case ct.tsQueue <- message{typ: et, time: ct.lastTimer.Load() + cycles, userdata: userdata}:
		return nil
	default:
		return ErrQueueFull
	}
}

func (ct *CoreTiming[C]) checkSchedule(from FromThread, cycles int64, et EventType) bool {
	if !ct.valid(et) {
		log.ModTiming.ErrorZ("scheduling invalid event type").
			Int64("type", int64(et)).
			End()
		return false
	}
	ct.assertThread(from, et)

	if cycles < 0 {
		log.ModTiming.WarnZ("event scheduled in the past").
			String("name", ct.types[et].name).
			Int64("cycles", cycles).
			End()
	}
	if from == FromNonCPU && ct.deterministic.Load() {
		log.ModTiming.ErrorZ("off-thread event scheduled while determinism is required, this is likely to cause a desync").
			String("name", ct.types[et].name).
			End()
	}
	return true
}

// RemoveEvent removes all pending events of type et. Events scheduled from
// other goroutines and not yet handed off are left untouched.
func (ct *CoreTiming[C]) RemoveEvent(et EventType) {
	ct.queue.removeType(et)
}

// RemoveAllEvents removes all events of type et, including those scheduled
// by other goroutines since the last Advance.
func (ct *CoreTiming[C]) RemoveAllEvents(et EventType) {
	ct.moveEvents()
	ct.queue.removeType(et)
}

// RemoveEventFrom removes all events of type et. From a non-CPU goroutine the
// removal is handed off, and happens at the next Advance.
func (ct *CoreTiming[C]) RemoveEventFrom(from FromThread, et EventType) {
	ct.assertThread(from, et)
	if from == FromCPU {
		ct.RemoveEvent(et)
		return
	}
	ct.tsQueue <- message{remove: true, typ: et}
}

// ForceExceptionCheck shortens the current slice so that Advance gets called
// in at most cycles cycles.
func (ct *CoreTiming[C]) ForceExceptionCheck(cycles int64) {
	cycles = max(0, cycles)
	if cur := ct.downcountToCycles(ct.downcount); cur > cycles {
		ct.sliceLength -= cur - cycles
		ct.downcount = ct.cyclesToDowncount(cycles)
	}
}

// Advance accounts for the cycles executed by the CPU during the slice, fires
// all due events and starts a new slice.
//
// Callbacks may schedule new events; those already due fire during the same
// call.
func (ct *CoreTiming[C]) Advance() {
	if debugChecks {
		ct.cpuGoroutine.Store(goid())
	}
	ct.moveEvents()

	executed := ct.sliceLength - ct.downcountToCycles(ct.downcount)
	ct.globalTimer += executed
	ct.lastTimer.Store(ct.globalTimer)

	ct.lastOCFactor = math.Float64frombits(ct.configOCFactor.Load())
	ct.lastOCFactorInv = 1 / ct.lastOCFactor
	ct.sliceLength = MaxSliceLength

	ct.isGlobalTimerSane = true
	for len(ct.queue) != 0 && ct.queue[0].time <= ct.globalTimer {
		ev := ct.queue.pop()
		ct.types[ev.typ].callback(ct.ctx, ev.userdata, ct.globalTimer-ev.time)
	}
	ct.isGlobalTimerSane = false

	// Still events left (not all are processed this cycle)
	if len(ct.queue) != 0 {
		ct.sliceLength = min(ct.queue[0].time-ct.globalTimer, MaxSliceLength)
	}
	ct.downcount = ct.cyclesToDowncount(ct.sliceLength)
}

// Idle skips the rest of the current slice, accounting the remaining cycles
// as idle. The CPU calls it when waiting for an interrupt.
func (ct *CoreTiming[C]) Idle() {
	ct.idledCycles += ct.downcountToCycles(ct.downcount)
	ct.downcount = 0
}

// Fake decrementer and time base anchors. The decrementer and time base
// registers aren't emulated cycle by cycle, their value is derived from the
// time elapsed since they were last written.

func (ct *CoreTiming[C]) FakeDecStartValue() uint32     { return ct.fakeDecStartValue }
func (ct *CoreTiming[C]) SetFakeDecStartValue(v uint32) { ct.fakeDecStartValue = v }
func (ct *CoreTiming[C]) FakeDecStartTicks() uint64     { return ct.fakeDecStartTicks }
func (ct *CoreTiming[C]) SetFakeDecStartTicks(v uint64) { ct.fakeDecStartTicks = v }
func (ct *CoreTiming[C]) FakeTBStartValue() uint64      { return ct.fakeTBStartValue }
func (ct *CoreTiming[C]) SetFakeTBStartValue(v uint64)  { ct.fakeTBStartValue = v }
func (ct *CoreTiming[C]) FakeTBStartTicks() uint64      { return ct.fakeTBStartTicks }
func (ct *CoreTiming[C]) SetFakeTBStartTicks(v uint64)  { ct.fakeTBStartTicks = v }

// PendingEvent describes an event waiting in the queue.
type PendingEvent struct {
	Name     string
	Type     EventType
	Time     int64
	Seq      uint64
	Userdata uint64
}

// PendingEvents returns the pending events, in firing order.
func (ct *CoreTiming[C]) PendingEvents() []PendingEvent {
	evs := slices.Clone(ct.queue)
	slices.SortFunc(evs, func(a, b event) int {
		if a.time != b.time {
			return cmp.Compare(a.time, b.time)
		}
		return cmp.Compare(a.seq, b.seq)
	})

	pending := make([]PendingEvent, len(evs))
	for i, ev := range evs {
		pending[i] = PendingEvent{
			Name:     ct.types[ev.typ].name,
			Type:     ev.typ,
			Time:     ev.time,
			Seq:      ev.seq,
			Userdata: ev.userdata,
		}
	}
	return pending
}

// ScheduledEventsSummary returns a human readable list of pending events.
func (ct *CoreTiming[C]) ScheduledEventsSummary() string {
	var sb strings.Builder
	sb.WriteString("Scheduled events\n")
	sb.WriteString("================\n")
	for _, ev := range ct.PendingEvents() {
		fmt.Fprintf(&sb, "%s : %d %016x\n", ev.Name, ev.Time, ev.Userdata)
	}
	return sb.String()
}

// LogPendingEvents logs all pending events at info level.
func (ct *CoreTiming[C]) LogPendingEvents() {
	for _, ev := range ct.PendingEvents() {
		log.ModTiming.InfoZ("pending event").
			Int64("now", ct.globalTimer).
			Int64("time", ev.Time).
			String("type", ev.Name).
			Hex64("userdata", ev.Userdata).
			End()
	}
}

// AddLogContext implements log.Context, stamping log entries with the time of
// the last Advance.
func (ct *CoreTiming[C]) AddLogContext(z *log.EntryZ) {
	z.Int64("cycle", ct.lastTimer.Load())
}
