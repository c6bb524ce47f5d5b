package hw

import (
	"strings"

	"cubecore/emu/log"
	"cubecore/hw/mmio"
	"cubecore/hw/snapshot"
	"cubecore/hw/timing"
)

// PI registers, relative to the PI base.
const (
	piInterruptCause = 0x00
	piInterruptMask  = 0x04
	piFIFOBase       = 0x0C
	piFIFOEnd        = 0x10
	piFIFOWptr       = 0x14
	piFIFOReset      = 0x18
	piResetCode      = 0x24
	piFlipperRev     = 0x2C
	piFlipperUnk     = 0x30
)

// InterruptCause is a set of interrupt sources, as reported in the PI
// interrupt cause register.
type InterruptCause uint32

const (
	IntCausePI        InterruptCause = 1 << iota // GP runtime error
	IntCauseRSW                                  // reset switch
	IntCauseDI                                   // DVD interface
	IntCauseSI                                   // serial interface
	IntCauseEXI                                  // expansion interface
	IntCauseAI                                   // audio interface streaming
	IntCauseDSP                                  // DSP interface
	IntCauseMemory                               // memory interface
	IntCauseVI                                   // video interface
	IntCausePEToken                              // GP token
	IntCausePEFinish                             // GP finished
	IntCauseCP                                   // command FIFO
	IntCauseDebug                                // debugger
	IntCauseHSP                                  // high speed port
	IntCauseWiiIPC                               // Wii IPC

	numCauses = iota

	// IntCauseRstButton is the reset button state (1 = released). It's a
	// state, not an interrupt source.
	IntCauseRstButton InterruptCause = 0x10000
)

var causeNames = [numCauses]string{
	"PI", "RSW", "DI", "SI", "EXI", "AI", "DSP", "MEM", "VI", "PE_TOKEN", "PE_FINISH", "CP", "DEBUG", "HSP", "WII_IPC",
}

func (c InterruptCause) String() string {
	var names []string
	for i := range numCauses {
		if c&(1<<i) != 0 {
			names = append(names, causeNames[i])
		}
	}
	if c&IntCauseRstButton != 0 {
		names = append(names, "RST_BUTTON")
	}
	return strings.Join(names, "|")
}

// Flipper revision C.
const flipperRev = 0x246500B1

// ProcessorInterface routes hardware interrupts to the CPU. It also holds
// the CPU side graphics FIFO pointers.
type ProcessorInterface struct {
	sys *System

	cause uint32
	mask  uint32

	fifoBase     uint32
	fifoEnd      uint32
	fifoWritePtr uint32

	resetCode  uint32
	flipperRev uint32
	unknown    uint32

	toggleResetButton timing.EventType
}

func (pi *ProcessorInterface) init(s *System) {
	pi.sys = s
	pi.cause = uint32(IntCauseRstButton | IntCauseVI)
	pi.flipperRev = flipperRev
	pi.unknown = 0x20000000 // 16 MiB of external RAM

	pi.toggleResetButton = s.Timing.RegisterEvent("ToggleResetButton", toggleResetButtonCallback)
}

func (pi *ProcessorInterface) registerMMIO(m *mmio.Mapping[*System], base uint32) {
	mmio.Register(m, base|piInterruptCause,
		mmio.DirectRead[*System](&pi.cause),
		mmio.ComplexWrite(func(s *System, _ uint32, val uint32) {
			// Write 1 to clear.
			s.PI.cause &^= val
			s.PI.updateException()
		}))

	mmio.Register(m, base|piInterruptMask,
		mmio.DirectRead[*System](&pi.mask),
		mmio.ComplexWrite(func(s *System, _ uint32, val uint32) {
			s.PI.mask = val
			s.PI.updateException()
		}))

	mmio.Register(m, base|piFIFOBase,
		mmio.DirectRead[*System](&pi.fifoBase),
		mmio.DirectWriteMasked[*System](&pi.fifoBase, 0xFFFFFFE0))

	mmio.Register(m, base|piFIFOEnd,
		mmio.DirectRead[*System](&pi.fifoEnd),
		mmio.DirectWriteMasked[*System](&pi.fifoEnd, 0xFFFFFFE0))

	mmio.Register(m, base|piFIFOWptr,
		mmio.DirectRead[*System](&pi.fifoWritePtr),
		mmio.DirectWriteMasked[*System](&pi.fifoWritePtr, 0xFFFFFFE0))

	mmio.Register(m, base|piFIFOReset,
		mmio.InvalidRead[*System, uint32](),
		mmio.ComplexWrite(func(_ *System, _ uint32, val uint32) {
			log.ModPI.WarnZ("FIFO reset").Hex32("val", val).End()
		}))

	mmio.Register(m, base|piResetCode,
		mmio.ComplexRead(func(s *System, _ uint32) uint32 {
			log.ModPI.DebugZ("read reset code").Hex32("code", s.PI.resetCode).End()
			return s.PI.resetCode
		}),
		mmio.ComplexWrite(func(s *System, _ uint32, val uint32) {
			s.PI.resetCode = val
			log.ModPI.InfoZ("wrote reset code").Hex32("code", val).End()
		}))

	mmio.Register(m, base|piFlipperRev,
		mmio.Constant[*System](pi.flipperRev),
		mmio.InvalidWrite[*System, uint32]())

	mmio.Register(m, base|piFlipperUnk,
		mmio.DirectRead[*System](&pi.unknown),
		mmio.Nop[*System, uint32]())

	// 16-bit reads are based on 32-bit reads.
	for i := uint32(0); i < 0x1000; i += 4 {
		mmio.Register(m, base|i, mmio.ReadToLarger[uint16, uint32](m, base|i, 16), mmio.InvalidWrite[*System, uint16]())
		mmio.Register(m, base|(i+2), mmio.ReadToLarger[uint16, uint32](m, base|i, 0), mmio.InvalidWrite[*System, uint16]())
	}
}

func (pi *ProcessorInterface) updateException() {
	mmio.SetBits(&pi.sys.CPU.State.Exceptions, ExceptionExternalInt, pi.cause&pi.mask != 0)
}

// SetInterrupt raises or clears the interrupt sources in cause.
func (pi *ProcessorInterface) SetInterrupt(cause InterruptCause, set bool) {
	if set && pi.cause&uint32(cause) == 0 {
		log.ModPI.DebugZ("setting interrupt").
			Stringer("cause", cause).
			Bool("enabled", pi.mask&uint32(cause) != 0).
			End()
	}
	if !set && pi.cause&uint32(cause) != 0 {
		log.ModPI.DebugZ("clearing interrupt").
			Stringer("cause", cause).
			End()
	}

	mmio.SetBits(&pi.cause, uint32(cause), set)
	pi.updateException()
}

// Cause returns the current interrupt cause register.
func (pi *ProcessorInterface) Cause() InterruptCause { return InterruptCause(pi.cause) }

// Mask returns the current interrupt mask register.
func (pi *ProcessorInterface) Mask() InterruptCause { return InterruptCause(pi.mask) }

func (pi *ProcessorInterface) setResetButton(pressed bool) {
	// Active low.
	mmio.SetBits(&pi.cause, uint32(IntCauseRstButton), !pressed)
}

// The release is scheduled half a second after the press.
func toggleResetButtonCallback(s *System, userdata uint64, late int64) {
	pressed := userdata != 0
	s.PI.setResetButton(pressed)
	if pressed {
		s.Timing.ScheduleEvent(int64(s.Timers.TicksPerSecond()/2)-late, s.PI.toggleResetButton, 0)
	}
}

// ResetButtonTap simulates a press and release of the reset button. Can be
// called from any goroutine. It returns timing.ErrQueueFull, and the tap is
// dropped, when the CPU goroutine isn't picking up requests.
func (pi *ProcessorInterface) ResetButtonTap() error {
	return pi.sys.Timing.TryScheduleEvent(0, pi.toggleResetButton, 1)
}

func (pi *ProcessorInterface) doState(a *snapshot.Archive) {
	a.Marker("PI")
	a.Uint32(&pi.cause)
	a.Uint32(&pi.mask)
	a.Uint32(&pi.fifoBase)
	a.Uint32(&pi.fifoEnd)
	a.Uint32(&pi.fifoWritePtr)
	a.Uint32(&pi.resetCode)
}
