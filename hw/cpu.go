package hw

import (
	"cubecore/emu/log"
	"cubecore/hw/snapshot"
)

// Pending exceptions.
const (
	ExceptionDecrementer uint32 = 1 << iota
	ExceptionSyscall
	ExceptionExternalInt
)

// PPCState is the part of the CPU state the hardware interacts with.
type PPCState struct {
	Exceptions uint32
	MSREE      bool // external interrupts enabled

	// Exception return address, saved when an interrupt is taken.
	SRR0 uint32
	PC   uint32
}

// CPU is the boundary of the emulated processor. Instructions aren't
// interpreted, the CPU only consumes cycles and takes interrupts.
type CPU struct {
	sys *System

	State PPCState

	idle bool

	// Interrupts taken so far.
	ExternalInts   uint64
	DecrementerInt uint64
}

func (c *CPU) init(s *System) {
	c.sys = s
	c.State = PPCState{MSREE: true, PC: 0x80003100}
}

// Idle makes the CPU wait for the next interrupt. The remaining of the
// current slice is skipped.
func (c *CPU) Idle() {
	c.idle = true
}

func (c *CPU) IsIdle() bool { return c.idle }

// ReturnFromInterrupt re-enables external interrupts, as the interrupt
// handler would when it's done.
func (c *CPU) ReturnFromInterrupt() {
	c.State.MSREE = true
	c.State.PC = c.State.SRR0
}

// RunCycles runs the CPU for n downcount units, advancing the scheduler each
// time the downcount expires.
func (c *CPU) RunCycles(n int64) {
	ct := c.sys.Timing
	dc := ct.DowncountPtr()

	for n > 0 {
		if c.idle {
			// Idle cycles count as run.
			n -= int64(max(*dc, 0))
			ct.Idle()
		}
		step := min(n, int64(max(*dc, 0)))
		*dc -= int32(step)
		n -= step
		c.State.PC += 4 * uint32(step)

		if *dc <= 0 {
			ct.Advance()
			c.checkExceptions()
		}
	}
}

// checkExceptions takes pending exceptions, in priority order.
func (c *CPU) checkExceptions() {
	st := &c.State
	if st.Exceptions == 0 || !st.MSREE {
		return
	}

	switch {
	case st.Exceptions&ExceptionExternalInt != 0:
		// Level triggered, stays pending until the cause is acknowledged.
		c.ExternalInts++
		c.takeInterrupt(0x500)
	case st.Exceptions&ExceptionDecrementer != 0:
		st.Exceptions &^= ExceptionDecrementer
		c.DecrementerInt++
		c.takeInterrupt(0x900)
	}
}

func (c *CPU) takeInterrupt(vector uint32) {
	log.ModCPU.DebugZ("interrupt").
		Hex32("vector", vector).
		Hex32("exceptions", c.State.Exceptions).
		Hex32("pc", c.State.PC).
		End()

	c.State.SRR0 = c.State.PC
	c.State.PC = 0x80000000 | vector
	c.State.MSREE = false
	c.idle = false
}

func (c *CPU) doState(a *snapshot.Archive) {
	a.Marker("CPU")
	a.Uint32(&c.State.Exceptions)
	a.Bool(&c.State.MSREE)
	a.Uint32(&c.State.SRR0)
	a.Uint32(&c.State.PC)
	a.Bool(&c.idle)
	a.Uint64(&c.ExternalInts)
	a.Uint64(&c.DecrementerInt)
}
