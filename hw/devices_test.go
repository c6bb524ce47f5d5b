package hw

import (
	"errors"
	"testing"

	"golang.org/x/sync/errgroup"

	"cubecore/hw/timing"
)

// uncached addresses, as seen by the CPU.
const (
	ucPI = 0xC0000000 | piBase
	ucVI = 0xC0000000 | viBase
	ucPE = 0xC0000000 | peBase
	ucAI = 0xC0000000 | aiBase
)

func newTestSystem(tb testing.TB) *System {
	tb.Helper()
	s := NewSystem(Config{AudioSampleRate: 48000})
	tb.Cleanup(s.Shutdown)
	return s
}

func wantCause(t *testing.T, s *System, cause InterruptCause, want bool) {
	t.Helper()
	if got := s.PI.Cause()&cause != 0; got != want {
		t.Errorf("PI cause %v = %t, want %t (cause=%v)", cause, got, want, s.PI.Cause())
	}
}

func TestPIInterrupts(t *testing.T) {
	s := newTestSystem(t)

	// VI is pending at power on, but masked.
	wantCause(t, s, IntCauseVI, true)
	if s.CPU.State.Exceptions&ExceptionExternalInt != 0 {
		t.Fatalf("external interrupt pending while masked")
	}

	s.Write32(ucPI|piInterruptMask, uint32(IntCauseVI))
	if s.Read32(ucPI|piInterruptMask) != uint32(IntCauseVI) {
		t.Errorf("mask = %08X, want %08X", s.Read32(ucPI|piInterruptMask), uint32(IntCauseVI))
	}
	if s.CPU.State.Exceptions&ExceptionExternalInt == 0 {
		t.Fatalf("external interrupt not pending")
	}

	// Write 1 to clear.
	s.Write32(ucPI|piInterruptCause, uint32(IntCauseVI))
	wantCause(t, s, IntCauseVI, false)
	wantCause(t, s, IntCauseRstButton, true)
	if s.CPU.State.Exceptions&ExceptionExternalInt != 0 {
		t.Fatalf("external interrupt still pending")
	}

	s.PI.SetInterrupt(IntCauseDSP, true)
	wantCause(t, s, IntCauseDSP, true)
	if s.CPU.State.Exceptions&ExceptionExternalInt != 0 {
		t.Fatalf("masked interrupt made external interrupt pending")
	}
}

func TestPIRegisters(t *testing.T) {
	s := newTestSystem(t)

	if got := s.Read32(ucPI | piFlipperRev); got != flipperRev {
		t.Errorf("FLIPPER_REV = %08X, want %08X", got, flipperRev)
	}
	// 16-bit reads
	if got := s.Read16(ucPI | piFlipperRev); got != flipperRev>>16 {
		t.Errorf("FLIPPER_REV hi = %04X, want %04X", got, flipperRev>>16)
	}
	if got := s.Read16(ucPI | piFlipperRev + 2); got != flipperRev&0xFFFF {
		t.Errorf("FLIPPER_REV lo = %04X, want %04X", got, flipperRev&0xFFFF)
	}

	// Read-only
	s.Write32(ucPI|piFlipperRev, 0)
	if got := s.Read32(ucPI | piFlipperRev); got != flipperRev {
		t.Errorf("FLIPPER_REV = %08X after write, want %08X", got, flipperRev)
	}

	// FIFO pointers are 32-byte aligned.
	s.Write32(ucPI|piFIFOBase, 0x00100013)
	if got := s.Read32(ucPI | piFIFOBase); got != 0x00100000 {
		t.Errorf("FIFO base = %08X, want 0x00100000", got)
	}

	s.Write32(ucPI|piResetCode, 0x7)
	if got := s.Read32(ucPI | piResetCode); got != 7 {
		t.Errorf("reset code = %X, want 7", got)
	}
}

func TestResetButton(t *testing.T) {
	s := newTestSystem(t)

	var g errgroup.Group
	g.Go(s.PI.ResetButtonTap)
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	s.CPU.RunCycles(timing.MaxSliceLength)
	wantCause(t, s, IntCauseRstButton, false) // pressed

	s.CPU.RunCycles(int64(s.Timers.TicksPerSecond() / 2))
	wantCause(t, s, IntCauseRstButton, true) // released
}

func TestResetButtonQueueFull(t *testing.T) {
	s := newTestSystem(t)

	var err error
	for range 1000 {
		if err = s.PI.ResetButtonTap(); err != nil {
			break
		}
	}
	if !errors.Is(err, timing.ErrQueueFull) {
		t.Fatalf("ResetButtonTap without Advance = %v, want %v", err, timing.ErrQueueFull)
	}

	s.CPU.RunCycles(timing.MaxSliceLength)
	wantCause(t, s, IntCauseRstButton, false)
	if err := s.PI.ResetButtonTap(); err != nil {
		t.Errorf("ResetButtonTap after Advance = %v, want nil", err)
	}
}

func TestOverclockClamped(t *testing.T) {
	s := newTestSystem(t)

	// A factor this low would leave the CPU with no downcount.
	s.Timing.SetOverclock(true, 1e-5)
	start := s.Timing.GetTicks()
	s.CPU.RunCycles(100_000)
	if got := s.Timing.OCFactor(); got != timing.MinOCFactor {
		t.Errorf("OCFactor() = %v, want %v", got, timing.MinOCFactor)
	}
	if got := s.Timing.GetTicks() - start; got < 100_000 {
		t.Errorf("ran %d cycles, want at least 100000", got)
	}
}

func TestGatherPipe(t *testing.T) {
	s := newTestSystem(t)

	const base, end = 0x00100000, 0x00100040
	s.Write32(ucPI|piFIFOBase, base)
	s.Write32(ucPI|piFIFOEnd, end)
	s.Write32(ucPI|piFIFOWptr, base)

	s.Write8(0xCC008000, 0x61)
	for i := range 23 {
		s.Write32(0xCC008000, uint32(i))
	}
	s.Write16(0xCC008000, 0xBEEF)
	s.Write8(0xCC008000, 0x62)

	// 1+92+2+1 bytes: 3 bursts written and the FIFO wrapped once.
	if s.Memory.FIFOBytes != 96 {
		t.Errorf("FIFOBytes = %d, want 96", s.Memory.FIFOBytes)
	}
	if got := s.Read32(ucPI | piFIFOWptr); got != base+32 {
		t.Errorf("FIFO wptr = %08X, want %08X", got, base+32)
	}
	// The 3rd burst overwrote the 1st one.
	if got := s.Read8(0x80000000 | base); got != 0x0F {
		t.Errorf("RAM[%08X] = %02X, want 0x0F", base, got)
	}
	if got := s.Read32(0x80000000 | base + 1); got != 16 {
		t.Errorf("RAM[%08X] = %08X, want 16", base+1, got)
	}
	if got := s.Read16(0x80000000 | base + 29); got != 0xBEEF {
		t.Errorf("RAM[%08X] = %04X, want 0xBEEF", base+29, got)
	}
	if got := s.Read32(0x80000000 | base + 33); got != 0x00000008 {
		t.Errorf("RAM[%08X] = %08X, want 8", base+33, got)
	}
}

func TestMemory(t *testing.T) {
	s := newTestSystem(t)

	s.Write32(0x80001000, 0x11223344)
	if got := s.Read8(0xC0001001); got != 0x22 {
		t.Errorf("Read8 = %02X, want 0x22", got)
	}
	if got := s.Read16(0x00001002); got != 0x3344 {
		t.Errorf("Read16 = %04X, want 0x3344", got)
	}

	// Out of RAM
	s.Write32(0x81800000, 0xFFFFFFFF)
	if got := s.Read32(0x81800000); got != 0 {
		t.Errorf("Read32 out of RAM = %08X, want 0", got)
	}

	// The Wii only block isn't MMIO on GameCube.
	if got := s.Read32(0xCD006000); got != 0 {
		t.Errorf("Read32(0xCD006000) = %08X, want 0", got)
	}
}

func TestDecrementer(t *testing.T) {
	s := newTestSystem(t)

	s.Timers.DecrementerSet(100)
	s.CPU.RunCycles(600)
	if got := s.Timers.FakeDecrementer(); got != 50 {
		t.Errorf("FakeDecrementer() = %d, want 50", got)
	}

	s.CPU.RunCycles(700)
	if s.CPU.DecrementerInt != 1 {
		t.Errorf("DecrementerInt = %d, want 1", s.CPU.DecrementerInt)
	}
	if s.CPU.State.Exceptions&ExceptionDecrementer != 0 {
		t.Errorf("decrementer exception still pending")
	}

	// Negative values don't trigger exceptions.
	s.CPU.ReturnFromInterrupt()
	s.Timers.DecrementerSet(0x80000000)
	s.CPU.RunCycles(100000)
	if s.CPU.DecrementerInt != 1 {
		t.Errorf("DecrementerInt = %d, want 1", s.CPU.DecrementerInt)
	}
}

func TestTimeBase(t *testing.T) {
	s := newTestSystem(t)

	s.Timers.TimeBaseSet(1000)
	s.CPU.RunCycles(120)
	if got := s.Timers.FakeTimeBase(); got != 1010 {
		t.Errorf("FakeTimeBase() = %d, want 1010", got)
	}
}

func TestVIDisplayInterrupt(t *testing.T) {
	s := newTestSystem(t)
	tph := int64(s.VI.TicksPerHalfLine())

	s.Write32(ucPI|piInterruptMask, uint32(IntCauseVI))
	s.Write32(ucPI|piInterruptCause, uint32(IntCauseVI))

	// DI0 at line 10, through a 32-bit write.
	const hi = diIRMask | 10
	s.Write32(ucVI|viInterruptHi, hi<<16|0x0123)
	if got := s.Read16(ucVI | viInterruptLo); got != 0x0123 {
		t.Errorf("DI0 lo = %04X, want 0x0123", got)
	}
	if got := s.Read32(ucVI | viInterruptHi); got != hi<<16|0x0123 {
		t.Errorf("DI0 = %08X, want %08X", got, hi<<16|0x0123)
	}

	// Line 10 starts at half line 18.
	s.CPU.RunCycles(17 * tph)
	wantCause(t, s, IntCauseVI, false)

	s.CPU.RunCycles(tph)
	if got := s.VI.verticalBeamPos(); got != 10 {
		t.Errorf("vertical beam position = %d, want 10", got)
	}
	if got := s.Read16(ucVI | viVerticalBeamPos); got != 10 {
		t.Errorf("VCT = %d, want 10", got)
	}
	if got := s.Read16(ucVI | viInterruptHi); got&diIRInt == 0 {
		t.Errorf("DI0 hi = %04X, IR_INT not set", got)
	}
	if got := s.Read8(ucVI | viInterruptHi); got != uint8((hi|diIRInt)>>8) {
		t.Errorf("DI0 hi byte = %02X, want %02X", got, uint8((hi|diIRInt)>>8))
	}
	wantCause(t, s, IntCauseVI, true)
	if s.CPU.ExternalInts != 1 {
		t.Errorf("ExternalInts = %d, want 1", s.CPU.ExternalInts)
	}

	// Acknowledge.
	s.Write16(ucVI|viInterruptHi, hi)
	wantCause(t, s, IntCauseVI, false)
}

func TestVIFields(t *testing.T) {
	s := newTestSystem(t)
	tph := int64(s.VI.TicksPerHalfLine())

	s.CPU.RunCycles(int64(s.VI.linesPerFrame) * tph)
	select {
	case n := <-s.VI.VBlank():
		if n != 1 {
			t.Errorf("got field %d, want 1", n)
		}
	default:
		t.Fatalf("no vblank notification")
	}

	// A frame is made of two fields.
	s.CPU.RunCycles(int64(s.VI.linesPerFrame) * tph)
	if got := s.VI.Fields(); got != 2 {
		t.Errorf("Fields() = %d after a frame, want 2", got)
	}
	if s.VI.halfLine != 0 {
		t.Errorf("halfLine = %d after a frame, want 0", s.VI.halfLine)
	}

	// Switch to PAL.
	s.Write16(ucVI|viControl, 1<<8|dcrEnable)
	if s.VI.linesPerFrame != 625 {
		t.Errorf("linesPerFrame = %d, want 625", s.VI.linesPerFrame)
	}
}

func TestAISampleCounter(t *testing.T) {
	s := newTestSystem(t)
	cps := int64(s.AI.cpuCyclesPerSample)

	s.Write32(ucPI|piInterruptMask, uint32(IntCauseAI))
	s.Write32(ucAI|aiVolume, 0xFFFF)
	s.Write32(ucAI|aiInterruptTiming, 100)
	s.Write32(ucAI|aiControl, aicrPSTAT|aicrAISFR|aicrAIINTMSK)

	s.CPU.RunCycles(50 * cps)
	if got := s.Read32(ucAI | aiSampleCounter); got != 50 {
		t.Errorf("sample counter = %d, want 50", got)
	}
	wantCause(t, s, IntCauseAI, false)

	s.CPU.RunCycles(51 * cps)
	wantCause(t, s, IntCauseAI, true)
	if got := s.Read32(ucAI | aiControl); got&aicrAIINT == 0 {
		t.Errorf("AICR = %08X, AIINT not set", got)
	}
	if s.AI.Resampler.Available() == 0 {
		t.Errorf("no samples were streamed")
	}

	// Acknowledge.
	s.Write32(ucAI|aiControl, aicrPSTAT|aicrAISFR|aicrAIINTMSK|aicrAIINT)
	wantCause(t, s, IntCauseAI, false)

	// Changing the sample rate keeps the counter value.
	before := s.Read32(ucAI | aiSampleCounter)
	s.Write32(ucAI|aiControl, aicrPSTAT|aicrAIINTMSK)
	if got := s.Read32(ucAI | aiSampleCounter); got != before {
		t.Errorf("sample counter = %d after rate change, want %d", got, before)
	}
	if s.AI.aisSampleRate != 32000 {
		t.Errorf("sample rate = %d, want 32000", s.AI.aisSampleRate)
	}

	// Counter reset
	s.Write32(ucAI|aiControl, aicrPSTAT|aicrAIINTMSK|aicrSCRESET)
	if got := s.Read32(ucAI | aiSampleCounter); got != 0 {
		t.Errorf("sample counter = %d after reset, want 0", got)
	}
}

func TestAIStoppedCounter(t *testing.T) {
	s := newTestSystem(t)
	cps := int64(s.AI.cpuCyclesPerSample)

	wantCounter := func(want uint32) {
		t.Helper()
		if got := s.Read32(ucAI | aiSampleCounter); got != want {
			t.Errorf("sample counter = %d, want %d", got, want)
		}
	}

	// Stopped at power on.
	wantCounter(0)
	s.CPU.RunCycles(10_000_000)
	wantCounter(0)

	s.Write32(ucAI|aiControl, aicrPSTAT|aicrAISFR)
	s.CPU.RunCycles(50 * cps)
	wantCounter(50)

	// Stopping keeps the samples streamed so far.
	s.Write32(ucAI|aiControl, aicrAISFR)
	wantCounter(50)
	s.CPU.RunCycles(1_000_000)
	wantCounter(50)

	// Nor does a sample rate change while stopped.
	s.Write32(ucAI|aiControl, 0)
	wantCounter(50)
	if s.AI.aisSampleRate != 32000 {
		t.Errorf("sample rate = %d, want 32000", s.AI.aisSampleRate)
	}

	cps = int64(s.AI.cpuCyclesPerSample)
	s.Write32(ucAI|aiControl, aicrPSTAT)
	s.CPU.RunCycles(10 * cps)
	wantCounter(60)
}

func TestPEFromGraphicsGoroutine(t *testing.T) {
	s := newTestSystem(t)

	s.Write32(ucPI|piInterruptMask, uint32(IntCausePEToken|IntCausePEFinish))
	s.Write16(ucPE|peCtrl, peCtrlTokenEnable|peCtrlFinishEnable)

	var g errgroup.Group
	g.Go(func() error {
		s.PE.SetToken(0x1234, true)
		s.PE.SetFinish()
		return nil
	})
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	// Nothing happens until the next Advance.
	wantCause(t, s, IntCausePEToken, false)
	s.CPU.RunCycles(timing.MaxSliceLength)

	if got := s.Read16(ucPE | peToken); got != 0x1234 {
		t.Errorf("token = %04X, want 0x1234", got)
	}
	wantCause(t, s, IntCausePEToken, true)
	wantCause(t, s, IntCausePEFinish, true)
	if got := s.Read16(ucPE | peCtrl); got != 0xF {
		t.Errorf("PE_CTRL = %04X, want 0xF", got)
	}

	s.Write16(ucPE|peCtrl, peCtrlTokenEnable|peCtrlFinishEnable|peCtrlToken)
	wantCause(t, s, IntCausePEToken, false)
	wantCause(t, s, IntCausePEFinish, true)
}

func TestPEConfigRegs(t *testing.T) {
	s := newTestSystem(t)

	s.Write16(ucPE|peZConf, 0x17)
	if got := s.Read16(ucPE | peZConf); got != 0x17 {
		t.Errorf("ZCONF = %04X, want 0x17", got)
	}
	s.Write16(ucPE|peAlphaRead, 0xFFFF)
	if got := s.Read16(ucPE | peAlphaRead); got != 0x7 {
		t.Errorf("ALPHAREAD = %04X, want 0x7", got)
	}
}
