package hw

import (
	"fmt"

	"cubecore/emu/log"
	"cubecore/hw/mmio"
	"cubecore/hw/snapshot"
	"cubecore/hw/timing"
)

// AI registers, relative to the AI base.
const (
	aiControl         = 0x00
	aiVolume          = 0x04
	aiSampleCounter   = 0x08
	aiInterruptTiming = 0x0C
)

// AI control register bits.
const (
	aicrPSTAT    uint32 = 1 << iota // playing
	aicrAISFR                       // streaming sample rate (0: 32kHz, 1: 48kHz)
	aicrAIINTMSK                    // interrupt enabled
	aicrAIINT                       // interrupt status
	aicrAIINTVLD                    // interrupt timing valid
	aicrSCRESET                     // sample counter reset
	aicrAIDFR                       // DMA sample rate (0: 48kHz, 1: 32kHz)
)

// StreamSource provides the streamed audio samples. Decoding the disc
// stream isn't emulated, without a source the stream is silent.
type StreamSource interface {
	NextFrame() StereoFrame
}

// AudioInterface emulates the streaming audio sample counter and its
// interrupt.
type AudioInterface struct {
	sys *System

	control         uint32
	volume          uint32 // left in bits 0-7, right in bits 8-15
	sampleCounter   uint32
	interruptTiming uint32

	lastCPUTime        uint64
	aisSampleRate      uint32
	cpuCyclesPerSample uint64

	event timing.EventType

	Source    StreamSource
	Resampler *Resampler
	frames    []StereoFrame
}

func (ai *AudioInterface) init(s *System) {
	ai.sys = s
	ai.control = aicrAISFR
	ai.aisSampleRate = 48000
	ai.cpuCyclesPerSample = s.Timers.TicksPerSecond() / uint64(ai.aisSampleRate)

	outRate := s.cfg.AudioSampleRate
	if outRate <= 0 {
		outRate = 48000
	}
	ai.Resampler = NewResampler(int(ai.aisSampleRate), outRate)

	ai.event = s.Timing.RegisterEvent("AICallback", aiCallback)
}

func (ai *AudioInterface) registerMMIO(m *mmio.Mapping[*System], base uint32) {
	mmio.Register(m, base|aiControl,
		mmio.DirectRead[*System](&ai.control),
		mmio.ComplexWrite(func(s *System, _ uint32, val uint32) {
			s.AI.writeControl(val)
		}))

	mmio.Register(m, base|aiVolume,
		mmio.DirectRead[*System](&ai.volume),
		mmio.DirectWriteMasked[*System](&ai.volume, 0xFFFF))

	ai.armSampleCounter(m, base)

	mmio.Register(m, base|aiInterruptTiming,
		mmio.DirectRead[*System](&ai.interruptTiming),
		mmio.ComplexWrite(func(s *System, _ uint32, val uint32) {
			log.ModAI.DebugZ("write interrupt timing").
				Uint64("counter", uint64(s.AI.sampleCounter)).
				Uint64("timing", uint64(val)).
				End()
			s.AI.interruptTiming = val
			s.AI.reschedule()
		}))
}

// armSampleCounter (re)arms the sample counter register, which depends on
// the current sample rate.
func (ai *AudioInterface) armSampleCounter(m *mmio.Mapping[*System], base uint32) {
	cps := ai.cpuCyclesPerSample
	mmio.Register(m, base|aiSampleCounter,
		mmio.ComplexRead(func(s *System, _ uint32) uint32 {
			ai := &s.AI
			if !ai.IsPlaying() {
				return ai.sampleCounter
			}
			return ai.sampleCounter + uint32((s.Timing.GetTicks()-ai.lastCPUTime)/cps)
		}),
		mmio.ComplexWrite(func(s *System, _ uint32, val uint32) {
			ai := &s.AI
			ai.sampleCounter = val
			ai.lastCPUTime = s.Timing.GetTicks()
			ai.reschedule()
		}))
}

func (ai *AudioInterface) writeControl(val uint32) {
	ct := ai.sys.Timing

	ai.control = ai.control&^(aicrAIINTMSK|aicrAIINTVLD) | val&(aicrAIINTMSK|aicrAIINTVLD)

	// Streaming sample rate
	if (val^ai.control)&aicrAISFR != 0 {
		ai.control ^= aicrAISFR
		rate := uint32(32000)
		if ai.control&aicrAISFR != 0 {
			rate = 48000
		}
		ai.setAISSampleRate(rate)
	}

	// DMA sample rate, only the bit is kept
	ai.control = ai.control&^aicrAIDFR | val&aicrAIDFR

	// Sample counter
	if (val^ai.control)&aicrPSTAT != 0 {
		now := ct.GetTicks()
		ai.catchUp(now)
		ai.control ^= aicrPSTAT
		ai.lastCPUTime = now
		ai.reschedule()
	}

	// Writing 1 acknowledges the interrupt.
	if val&aicrAIINT != 0 {
		ai.control &^= aicrAIINT
	}

	if val&aicrSCRESET != 0 {
		ai.sampleCounter = 0
		ai.lastCPUTime = ct.GetTicks()
	}

	ai.updateInterrupts()
}

func (ai *AudioInterface) setAISSampleRate(rate uint32) {
	log.ModAI.InfoZ("streaming sample rate").
		Uint64("rate", uint64(rate)).
		End()

	// Keep the counter exact across the change.
	now := ai.sys.Timing.GetTicks()
	ai.catchUp(now)
	ai.lastCPUTime = now

	ai.aisSampleRate = rate
	ai.cpuCyclesPerSample = ai.sys.Timers.TicksPerSecond() / uint64(rate)
	ai.armSampleCounter(ai.sys.MMIO, aiBase)
	ai.Resampler.SetInputRate(int(rate))
}

func (ai *AudioInterface) IsPlaying() bool { return ai.control&aicrPSTAT != 0 }

// catchUp accounts for the samples streamed between lastCPUTime and now. The
// counter only runs while playing.
func (ai *AudioInterface) catchUp(now uint64) {
	if !ai.IsPlaying() || now <= ai.lastCPUTime {
		return
	}
	if n := (now - ai.lastCPUTime) / ai.cpuCyclesPerSample; n > 0 {
		ai.lastCPUTime += n * ai.cpuCyclesPerSample
		ai.increaseSampleCount(uint32(n))
	}
}

func (ai *AudioInterface) updateInterrupts() {
	set := ai.control&aicrAIINT != 0 && ai.control&aicrAIINTMSK != 0
	ai.sys.PI.SetInterrupt(IntCauseAI, set)
}

func (ai *AudioInterface) generateInterrupt() {
	ai.control |= aicrAIINT
	ai.updateInterrupts()
}

func (ai *AudioInterface) increaseSampleCount(amount uint32) {
	if !ai.IsPlaying() {
		return
	}

	old := ai.sampleCounter
	ai.sampleCounter += amount
	ai.stream(amount)

	if ai.interruptTiming-old <= ai.sampleCounter-old {
		log.ModAI.DebugZ("interrupt timing reached").
			Uint64("counter", uint64(ai.sampleCounter)).
			Uint64("timing", uint64(ai.interruptTiming)).
			End()
		ai.generateInterrupt()
	}
}

// stream feeds n streamed frames to the resampler, after volume
// attenuation.
func (ai *AudioInterface) stream(n uint32) {
	ai.frames = ai.frames[:0]
	lvol, rvol := int32(ai.volume&0xFF), int32(ai.volume>>8&0xFF)
	for range n {
		var f StereoFrame
		if ai.Source != nil {
			f = ai.Source.NextFrame()
		}
		f[0] = int16(int32(f[0]) * lvol / 255)
		f[1] = int16(int32(f[1]) * rvol / 255)
		ai.frames = append(ai.frames, f)
	}
	ai.Resampler.Push(ai.frames)
}

// period returns the number of cycles until the next sample counter update.
func (ai *AudioInterface) period() int64 {
	period := ai.cpuCyclesPerSample * uint64(ai.interruptTiming-ai.sampleCounter)
	maxPeriod := ai.cpuCyclesPerSample * uint64(ai.aisSampleRate)
	if period == 0 {
		return int64(maxPeriod)
	}
	return int64(min(period, maxPeriod))
}

func (ai *AudioInterface) reschedule() {
	ct := ai.sys.Timing
	ct.RemoveEvent(ai.event)
	ct.ScheduleEvent(ai.period(), ai.event, 0)
}

func aiCallback(s *System, _ uint64, cyclesLate int64) {
	ai := &s.AI
	if !ai.IsPlaying() {
		return
	}

	ai.catchUp(s.Timing.GetTicks())
	s.Timing.ScheduleEvent(ai.period()-cyclesLate, ai.event, 0)
}

func (ai *AudioInterface) doState(a *snapshot.Archive) {
	a.Marker("AI")
	a.Uint32(&ai.control)
	a.Uint32(&ai.volume)
	a.Uint32(&ai.sampleCounter)
	a.Uint32(&ai.interruptTiming)
	a.Uint64(&ai.lastCPUTime)
	a.Uint32(&ai.aisSampleRate)

	if a.IsReading() && a.Err() == nil {
		switch ai.aisSampleRate {
		case 32000, 48000:
		default:
			a.Fail(fmt.Errorf("ai: invalid sample rate %d", ai.aisSampleRate))
			return
		}
		ai.cpuCyclesPerSample = ai.sys.Timers.TicksPerSecond() / uint64(ai.aisSampleRate)
		ai.armSampleCounter(ai.sys.MMIO, aiBase)
		ai.Resampler.SetInputRate(int(ai.aisSampleRate))
	}
}
