package hw

import (
	"cubecore/emu/log"
	"cubecore/hw/mmio"
	"cubecore/hw/snapshot"
	"cubecore/hw/timing"
)

// PE registers, relative to the PE base.
const (
	peZConf         = 0x00
	peAlphaConf     = 0x02
	peDstAlphaConf  = 0x04
	peAlphaMode     = 0x06
	peAlphaRead     = 0x08
	peCtrl          = 0x0A
	peToken         = 0x0E
	numPEConfigRegs = 5
)

// PE control register bits.
const (
	peCtrlTokenEnable  = 1 << 0
	peCtrlFinishEnable = 1 << 1
	peCtrlToken        = 1 << 2 // status, write 1 to acknowledge
	peCtrlFinish       = 1 << 3 // status, write 1 to acknowledge
)

// PixelEngine receives draw done and token notifications from the graphics
// backend, and turns them into interrupts.
type PixelEngine struct {
	sys *System

	Config [numPEConfigRegs]mmio.Reg[uint16]

	ctrl         uint16
	token        uint16
	signalToken  bool
	signalFinish bool

	setTokenEvent  timing.EventType
	setFinishEvent timing.EventType
}

var peConfigNames = [numPEConfigRegs]string{"ZCONF", "ALPHACONF", "DSTALPHACONF", "ALPHAMODE", "ALPHAREAD"}

func (pe *PixelEngine) init(s *System) {
	pe.sys = s
	for i := range pe.Config {
		pe.Config[i] = mmio.Reg[uint16]{Name: peConfigNames[i]}
	}
	pe.Config[peAlphaRead/2].RoMask = 0xFFF8 // only the mode bits are writable

	pe.setTokenEvent = s.Timing.RegisterEvent("SetToken", setTokenCallback)
	pe.setFinishEvent = s.Timing.RegisterEvent("SetFinish", setFinishCallback)
}

func (pe *PixelEngine) registerMMIO(m *mmio.Mapping[*System], base uint32) {
	for i := range pe.Config {
		mmio.MapReg(m, base|uint32(2*i), &pe.Config[i])
	}

	mmio.Register(m, base|peCtrl,
		mmio.ComplexRead(func(s *System, _ uint32) uint16 {
			return s.PE.readCtrl()
		}),
		mmio.ComplexWrite(func(s *System, _ uint32, val uint16) {
			s.PE.writeCtrl(val)
		}))

	mmio.Register(m, base|peToken,
		mmio.DirectRead[*System](&pe.token),
		mmio.InvalidWrite[*System, uint16]())
}

func (pe *PixelEngine) readCtrl() uint16 {
	v := pe.ctrl
	mmio.SetBits(&v, peCtrlToken, pe.signalToken)
	mmio.SetBits(&v, peCtrlFinish, pe.signalFinish)
	return v
}

func (pe *PixelEngine) writeCtrl(val uint16) {
	if val&peCtrlToken != 0 {
		pe.signalToken = false
	}
	if val&peCtrlFinish != 0 {
		pe.signalFinish = false
	}
	pe.ctrl = val & (peCtrlTokenEnable | peCtrlFinishEnable)
	pe.updateInterrupts()
}

func (pe *PixelEngine) updateInterrupts() {
	pe.sys.PI.SetInterrupt(IntCausePEToken, pe.signalToken && pe.ctrl&peCtrlTokenEnable != 0)
	pe.sys.PI.SetInterrupt(IntCausePEFinish, pe.signalFinish && pe.ctrl&peCtrlFinishEnable != 0)
}

// Token returns the last token received.
func (pe *PixelEngine) Token() uint16 { return pe.token }

// SetToken is called by the graphics backend when it processes a token
// command. Must be called from the graphics goroutine.
func (pe *PixelEngine) SetToken(token uint16, interrupt bool) {
	ud := uint64(token)
	if interrupt {
		ud |= 1 << 16
	}
	pe.sys.Timing.ScheduleEventFrom(timing.FromNonCPU, 0, pe.setTokenEvent, ud)
}

// SetFinish is called by the graphics backend when it's done drawing. Must
// be called from the graphics goroutine.
func (pe *PixelEngine) SetFinish() {
	pe.sys.Timing.ScheduleEventFrom(timing.FromNonCPU, 0, pe.setFinishEvent, 0)
}

func setTokenCallback(s *System, userdata uint64, _ int64) {
	pe := &s.PE
	pe.token = uint16(userdata)
	if userdata&(1<<16) != 0 {
		pe.signalToken = true
	}
	log.ModPE.DebugZ("token").
		Hex16("token", pe.token).
		Bool("interrupt", pe.signalToken).
		End()
	pe.updateInterrupts()
}

func setFinishCallback(s *System, _ uint64, _ int64) {
	s.PE.signalFinish = true
	s.PE.updateInterrupts()
}

func (pe *PixelEngine) doState(a *snapshot.Archive) {
	a.Marker("PE")
	for i := range pe.Config {
		a.Uint16(&pe.Config[i].Value)
	}
	a.Uint16(&pe.ctrl)
	a.Uint16(&pe.token)
	a.Bool(&pe.signalToken)
	a.Bool(&pe.signalFinish)
}
