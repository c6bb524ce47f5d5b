package hw

import (
	"cubecore/emu/log"
	"cubecore/hw/mmio"
	"cubecore/hw/snapshot"
	"cubecore/hw/timing"
)

// VI registers, relative to the VI base. All registers are 16-bit wide.
const (
	viVerticalTiming    = 0x00
	viControl           = 0x02
	viVerticalBeamPos   = 0x2C
	viHorizontalBeamPos = 0x2E
	viInterruptHi       = 0x30 // DI0, DI1... 4 bytes apart
	viInterruptLo       = 0x32

	viRegsSize   = 0x100
	numInterrupt = 4
)

// Display control register bits.
const (
	dcrEnable = 1 << 0
	dcrReset  = 1 << 1
	dcrFmt    = 3 << 8 // 0: NTSC, 1: PAL, 2: MPAL, 3: debug
)

// Display interrupt register, high half.
const (
	diVCT    = 0x7FF
	diIRMask = 1 << 12
	diIRInt  = 1 << 15
)

// Horizontal beam positions per line.
const hTotal = 858

// VideoInterface generates the beam position and display interrupts, and
// notifies the host at the beginning of each field.
type VideoInterface struct {
	sys *System

	regs  [viRegsSize / 2]uint16
	intHi [numInterrupt]uint16
	intLo [numInterrupt]uint16

	halfLine      uint32 // within the frame, a field spans linesPerFrame half lines
	halfLineStart uint64 // ticks
	fields        uint64

	linesPerFrame    uint32 // both interlaced fields
	ticksPerHalfLine uint64

	event  timing.EventType
	vblank chan uint64
}

func (vi *VideoInterface) init(s *System) {
	vi.sys = s
	vi.vblank = make(chan uint64, 1)
	vi.updateTiming()

	vi.event = s.Timing.RegisterEvent("VICallback", viCallback)
	s.Timing.ScheduleEvent(int64(vi.ticksPerHalfLine), vi.event, 0)
}

func (vi *VideoInterface) registerMMIO(m *mmio.Mapping[*System], base uint32) {
	// Plain storage by default.
	for i := range vi.regs {
		addr := base | uint32(2*i)
		mmio.Register(m, addr, mmio.DirectRead[*System](&vi.regs[i]), mmio.DirectWrite[*System](&vi.regs[i]))
	}

	mmio.Register(m, base|viControl,
		mmio.DirectRead[*System](&vi.regs[viControl/2]),
		mmio.ComplexWrite(func(s *System, _ uint32, val uint16) {
			s.VI.writeControl(val)
		}))

	mmio.Register(m, base|viVerticalBeamPos,
		mmio.ComplexRead(func(s *System, _ uint32) uint16 {
			return s.VI.verticalBeamPos()
		}),
		mmio.Nop[*System, uint16]())

	mmio.Register(m, base|viHorizontalBeamPos,
		mmio.ComplexRead(func(s *System, _ uint32) uint16 {
			return s.VI.horizontalBeamPos()
		}),
		mmio.Nop[*System, uint16]())

	for i := range numInterrupt {
		off := uint32(4 * i)
		mmio.Register(m, base|(viInterruptHi+off),
			mmio.DirectRead[*System](&vi.intHi[i]),
			mmio.ComplexWrite(func(s *System, _ uint32, val uint16) {
				s.VI.intHi[i] = val
				s.VI.updateInterrupts()
			}))
		mmio.Register(m, base|(viInterruptLo+off),
			mmio.DirectRead[*System](&vi.intLo[i]),
			mmio.DirectWrite[*System](&vi.intLo[i]))
	}

	// 8-bit reads (not writes) are based on 16-bit reads.
	for i := uint32(0); i < viRegsSize; i += 2 {
		mmio.Register(m, base|i, mmio.ReadToLarger[uint8, uint16](m, base|i, 8), mmio.InvalidWrite[*System, uint8]())
		mmio.Register(m, base|(i+1), mmio.ReadToLarger[uint8, uint16](m, base|i, 0), mmio.InvalidWrite[*System, uint8]())
	}

	// 32-bit accesses are split into 16-bit ones.
	for i := uint32(0); i < viRegsSize; i += 4 {
		mmio.Register(m, base|i,
			mmio.ReadToSmaller[uint32, uint16](m, base|i, base|(i+2)),
			mmio.WriteToSmaller[uint32, uint16](m, base|i, base|(i+2)))
	}
}

func (vi *VideoInterface) writeControl(val uint16) {
	if val&dcrReset != 0 {
		// Reset clears the display interrupts.
		log.ModVI.InfoZ("reset").End()
		clear(vi.intHi[:])
		clear(vi.intLo[:])
		val &^= dcrReset
	}

	old := vi.regs[viControl/2]
	vi.regs[viControl/2] = val
	if (old^val)&dcrFmt != 0 {
		vi.updateTiming()
	}
	vi.updateInterrupts()
}

// updateTiming derives the field geometry from the video format.
func (vi *VideoInterface) updateTiming() {
	tps := vi.sys.Timers.TicksPerSecond()
	switch (vi.regs[viControl/2] & dcrFmt) >> 8 {
	case 1: // PAL
		vi.linesPerFrame = 625
		vi.ticksPerHalfLine = tps / (50 * 625)
	default:
		vi.linesPerFrame = 525
		vi.ticksPerHalfLine = tps * 1001 / (60000 * 525)
	}
	if vi.halfLine >= 2*vi.linesPerFrame {
		vi.halfLine = 0
	}
	log.ModVI.DebugZ("timing").
		Uint64("lines", uint64(vi.linesPerFrame)).
		Uint64("ticks/halfline", vi.ticksPerHalfLine).
		End()
}

// TicksPerHalfLine returns the duration of a half line in CPU cycles.
func (vi *VideoInterface) TicksPerHalfLine() uint64 { return vi.ticksPerHalfLine }

// VBlank returns a channel receiving the field count at the beginning of
// each field. Fields are dropped when the receiver lags behind.
func (vi *VideoInterface) VBlank() <-chan uint64 { return vi.vblank }

func (vi *VideoInterface) Fields() uint64 { return vi.fields }

// verticalBeamPos returns the current line within the field, 1-based.
func (vi *VideoInterface) verticalBeamPos() uint16 {
	return uint16(vi.halfLine%vi.linesPerFrame/2 + 1)
}

func (vi *VideoInterface) horizontalBeamPos() uint16 {
	into := vi.sys.Timing.GetTicks() - vi.halfLineStart
	if vi.halfLine%2 != 0 {
		into += vi.ticksPerHalfLine
	}
	return uint16(1 + into*hTotal/(2*vi.ticksPerHalfLine))
}

func (vi *VideoInterface) updateInterrupts() {
	set := false
	for _, hi := range vi.intHi {
		if hi&diIRInt != 0 && hi&diIRMask != 0 {
			set = true
		}
	}
	vi.sys.PI.SetInterrupt(IntCauseVI, set)
}

// nextHalfLine moves the beam to the next half line.
func (vi *VideoInterface) nextHalfLine(now uint64) {
	vi.halfLine++
	if vi.halfLine >= 2*vi.linesPerFrame {
		vi.halfLine = 0
	}
	vi.halfLineStart = now

	// Field boundary.
	if vi.halfLine%vi.linesPerFrame == 0 {
		vi.fields++
		select {
		case vi.vblank <- vi.fields:
		default:
		}
	}

	if vi.halfLine%2 == 0 {
		line := vi.verticalBeamPos()
		for i, hi := range vi.intHi {
			if hi&diVCT == line {
				vi.intHi[i] |= diIRInt
			}
		}
		vi.updateInterrupts()
	}
}

func viCallback(s *System, _ uint64, cyclesLate int64) {
	vi := &s.VI
	vi.nextHalfLine(s.Timing.GetTicks() - uint64(cyclesLate))
	s.Timing.ScheduleEvent(int64(vi.ticksPerHalfLine)-cyclesLate, vi.event, 0)
}

func (vi *VideoInterface) doState(a *snapshot.Archive) {
	a.Marker("VI")
	for i := range vi.regs {
		a.Uint16(&vi.regs[i])
	}
	for i := range numInterrupt {
		a.Uint16(&vi.intHi[i])
		a.Uint16(&vi.intLo[i])
	}
	a.Uint32(&vi.halfLine)
	a.Uint64(&vi.halfLineStart)
	a.Uint64(&vi.fields)

	if a.IsReading() && a.Err() == nil {
		vi.updateTiming()
	}
}
