package emu

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"cubecore/emu/log"
	"cubecore/hw"
	"cubecore/hw/timing"
)

// Emulator runs a System on the CPU goroutine, along with the host
// goroutines it talks to: graphics and audio.
type Emulator struct {
	Sys *hw.System
	cfg Config

	// AudioOut receives the host audio stream. Audio is discarded when
	// nil.
	AudioOut AudioSink

	// These are accessed concurrently by the emulator goroutines and the
	// front-end.
	quit    atomic.Bool
	paused  atomic.Bool
	ticks   atomic.Uint64 // CPU time at the end of the last slice
	drawn   atomic.Uint64 // fields processed by the graphics goroutine
	samples atomic.Uint64 // stereo samples sent to AudioOut
}

// New powers up a system with the given configuration.
func New(cfg Config) *Emulator {
	cfg.Check()
	e := &Emulator{
		Sys: hw.NewSystem(cfg.HW()),
		cfg: cfg,
	}
	log.AddContext(e.Sys.Timing)
	return e
}

// Close releases the system. The emulator can't be used afterwards.
func (e *Emulator) Close() {
	log.RemoveContext(e.Sys.Timing)
	e.Sys.Shutdown()
}

// Run runs the emulation for the given number of CPU cycles, or until ctx is
// canceled or Stop is called. A negative cycle count runs forever.
func (e *Emulator) Run(ctx context.Context, cycles int64) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return e.cpuLoop(gctx, cycles)
	})
	if !e.cfg.Video.DisableGPU {
		g.Go(func() error { return e.gpuLoop(gctx) })
	}
	if !e.cfg.Audio.DisableAudio {
		g.Go(func() error { return e.audioLoop(gctx) })
	}

	start := time.Now()
	err := g.Wait()
	log.ModEmu.InfoZ("Emulation loop exited").
		Uint64("ticks", e.Sys.Timing.GetTicks()).
		Uint64("fields", e.Sys.VI.Fields()).
		Duration("elapsed", time.Since(start)).
		End()
	return err
}

func (e *Emulator) cpuLoop(ctx context.Context, cycles int64) error {
	cpu := &e.Sys.CPU
	for cycles != 0 {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		if e.quit.Load() {
			return nil
		}
		if e.paused.Load() {
			// Don't burn cpu while paused.
			time.Sleep(10 * time.Millisecond)
			continue
		}

		n := int64(timing.MaxSliceLength)
		if cycles > 0 {
			n = min(n, cycles)
			cycles -= n
		}
		cpu.RunCycles(n)
		e.ticks.Store(e.Sys.Timing.GetTicks())

		// No guest code runs, so interrupt handlers return immediately.
		if !cpu.State.MSREE {
			cpu.ReturnFromInterrupt()
		}
	}
	return nil
}

// gpuLoop plays the graphics backend: each field is 'drawn', and the pixel
// engine is told when it's done.
func (e *Emulator) gpuLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case field := <-e.Sys.VI.VBlank():
			e.Sys.PE.SetToken(uint16(field), false)
			e.Sys.PE.SetFinish()
			e.drawn.Add(1)
		}
	}
}

const audioPeriod = 5 * time.Millisecond

func (e *Emulator) audioLoop(ctx context.Context) error {
	rs := e.Sys.AI.Resampler
	samples := make([]int16, 2*4096)

	tick := time.NewTicker(audioPeriod)
	defer tick.Stop()

	drain := func() error {
		for {
			n := rs.Read(samples)
			if n == 0 {
				return nil
			}
			e.samples.Add(uint64(n))
			if e.AudioOut == nil {
				continue
			}
			if err := e.AudioOut.WriteSamples(samples[:2*n]); err != nil {
				return fmt.Errorf("audio output: %w", err)
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return drain()
		case <-tick.C:
			if err := drain(); err != nil {
				return err
			}
		}
	}
}

// SetPause, Stop, TapReset and SetOverclock control the emulator in a
// concurrent-safe way.

func (e *Emulator) SetPause(pause bool) { e.paused.CompareAndSwap(!pause, pause) }
func (e *Emulator) IsPaused() bool      { return e.paused.Load() }
func (e *Emulator) Stop()               { e.quit.Store(true) }

// TapReset presses and releases the reset button. It fails rather than
// blocks when too many requests are waiting for the CPU goroutine, as it
// happens while paused.
func (e *Emulator) TapReset() error { return e.Sys.PI.ResetButtonTap() }

// SetOverclock changes the CPU clock multiplier, effective at the next slice.
func (e *Emulator) SetOverclock(enabled bool, factor float64) error {
	if enabled {
		if err := timing.CheckOCFactor(factor); err != nil {
			return err
		}
	}
	e.Sys.Timing.SetOverclock(enabled, factor)
	return nil
}

// Ticks returns the CPU time reached by the last executed slice.
func (e *Emulator) Ticks() uint64 { return e.ticks.Load() }

// DrawnFields returns the number of fields processed by the graphics
// goroutine.
func (e *Emulator) DrawnFields() uint64 { return e.drawn.Load() }

// AudioSamples returns the number of stereo samples played.
func (e *Emulator) AudioSamples() uint64 { return e.samples.Load() }
