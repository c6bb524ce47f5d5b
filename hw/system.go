package hw

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"cubecore/emu/log"
	"cubecore/hw/mmio"
	"cubecore/hw/snapshot"
	"cubecore/hw/timing"
)

// Config holds the hardware settings of a System.
type Config struct {
	Wii bool

	Overclock bool
	OCFactor  float64

	// Output sample rate of the host audio device.
	AudioSampleRate int

	// Deterministic reports events scheduled from host goroutines, which
	// would break movies and netplay.
	Deterministic bool
}

// MMIO base addresses.
const (
	peBase = 0x0C001000
	viBase = 0x0C002000
	piBase = 0x0C003000
	aiBase = 0x0C006C00
)

// System is an emulation instance. It's passed to all event callbacks and
// complex MMIO handlers.
type System struct {
	cfg Config

	Timing *timing.CoreTiming[*System]
	MMIO   *mmio.Mapping[*System]

	CPU    CPU
	Memory Memory
	PI     ProcessorInterface
	Timers SystemTimers
	AI     AudioInterface
	VI     VideoInterface
	PE     PixelEngine
}

// NewSystem creates a powered-on system.
func NewSystem(cfg Config) *System {
	s := &System{cfg: cfg}
	s.Timing = timing.New(s)
	s.Timing.SetOverclock(cfg.Overclock, cfg.OCFactor)
	s.Timing.SetDeterministic(cfg.Deterministic)
	s.MMIO = mmio.NewMapping[*System]()

	s.CPU.init(s)
	s.Memory.init(s)
	s.PI.init(s)
	s.Timers.init(s)
	s.VI.init(s)
	s.PE.init(s)
	s.AI.init(s)

	s.PI.registerMMIO(s.MMIO, piBase)
	s.VI.registerMMIO(s.MMIO, viBase)
	s.PE.registerMMIO(s.MMIO, peBase)
	s.AI.registerMMIO(s.MMIO, aiBase)

	log.ModEmu.InfoZ("system created").
		Bool("wii", cfg.Wii).
		Uint64("ticks/s", s.Timers.TicksPerSecond()).
		Float64("oc", s.Timing.OCFactor()).
		End()
	return s
}

func (s *System) Config() Config { return s.cfg }
func (s *System) IsWii() bool    { return s.cfg.Wii }

// Shutdown releases the scheduler resources.
func (s *System) Shutdown() {
	s.Timing.Shutdown()
}

// DoState saves or restores the whole system.
func (s *System) DoState(a *snapshot.Archive) error {
	a.Marker("System")
	if err := s.Timing.DoState(a); err != nil {
		return err
	}
	s.CPU.doState(a)
	s.Memory.doState(a)
	s.PI.doState(a)
	s.VI.doState(a)
	s.PE.doState(a)
	s.AI.doState(a)
	a.Marker("SystemEnd")
	return a.Err()
}

// SaveState writes a complete save-state to w.
func (s *System) SaveState(w io.Writer) error {
	a := snapshot.NewWriter(w)
	a.Header()
	if err := s.DoState(a); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	if err := a.Flush(); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

// StateSize returns the size of a save-state of the system in its current
// state.
func (s *System) StateSize() (int64, error) {
	a := snapshot.NewMeasurer()
	a.Header()
	if err := s.DoState(a); err != nil {
		return 0, err
	}
	return a.Size(), nil
}

// LoadState restores a save-state from r. On failure, the system is
// restored to the state it had before the call.
func (s *System) LoadState(r io.Reader) error {
	var undo bytes.Buffer
	if err := s.SaveState(&undo); err != nil {
		return fmt.Errorf("load state: can't create undo state: %w", err)
	}

	a := snapshot.NewReader(r)
	a.Header()
	err := a.Err()
	if err == nil {
		err = s.DoState(a)
	}
	if err == nil {
		return nil
	}

	log.ModState.ErrorZ("failed to load state, restoring previous state").
		Error("err", err).
		End()
	if uerr := s.loadUndo(&undo); uerr != nil {
		return fmt.Errorf("load state: %w", errors.Join(err, uerr))
	}
	return fmt.Errorf("load state: %w", err)
}

func (s *System) loadUndo(undo io.Reader) error {
	a := snapshot.NewReader(undo)
	a.Header()
	if err := a.Err(); err != nil {
		return err
	}
	return s.DoState(a)
}
