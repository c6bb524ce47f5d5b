package hw

import (
	"cubecore/emu/log"
	"cubecore/hw/timing"
)

const (
	gcCPUClock  = 486000000
	wiiCPUClock = 729000000

	// TimerRatio is the number of CPU cycles per time base tick.
	TimerRatio = 12
)

// SystemTimers provides the CPU clock, and the decrementer and time base
// registers, derived from the scheduler time.
type SystemTimers struct {
	sys *System

	cpuClock uint64

	decEvent timing.EventType
}

func (t *SystemTimers) init(s *System) {
	t.sys = s
	t.cpuClock = gcCPUClock
	if s.cfg.Wii {
		t.cpuClock = wiiCPUClock
	}
	t.decEvent = s.Timing.RegisterEvent("DecCallback", decrementerCallback)
}

// TicksPerSecond returns the CPU clock frequency.
func (t *SystemTimers) TicksPerSecond() uint64 { return t.cpuClock }

func decrementerCallback(s *System, _ uint64, cyclesLate int64) {
	log.ModTiming.DebugZ("decrementer underflow").
		Int64("late", cyclesLate).
		End()
	s.CPU.State.Exceptions |= ExceptionDecrementer
}

// DecrementerSet is called when the CPU writes the decrementer register. An
// exception is scheduled for when it reaches zero, unless the value is
// negative.
func (t *SystemTimers) DecrementerSet(val uint32) {
	ct := t.sys.Timing
	ct.RemoveEvent(t.decEvent)
	if val&0x80000000 == 0 {
		ct.SetFakeDecStartTicks(ct.GetTicks())
		ct.SetFakeDecStartValue(val)
		ct.ScheduleEvent(int64(val)*TimerRatio, t.decEvent, 0)
	}
}

// FakeDecrementer returns the current decrementer value.
func (t *SystemTimers) FakeDecrementer() uint32 {
	ct := t.sys.Timing
	return ct.FakeDecStartValue() - uint32((ct.GetTicks()-ct.FakeDecStartTicks())/TimerRatio)
}

// TimeBaseSet is called when the CPU writes the time base register.
func (t *SystemTimers) TimeBaseSet(tb uint64) {
	ct := t.sys.Timing
	ct.SetFakeTBStartTicks(ct.GetTicks())
	ct.SetFakeTBStartValue(tb)
}

// FakeTimeBase returns the current time base value.
func (t *SystemTimers) FakeTimeBase() uint64 {
	ct := t.sys.Timing
	return ct.FakeTBStartValue() + (ct.GetTicks()-ct.FakeTBStartTicks())/TimerRatio
}
