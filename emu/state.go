package emu

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"os"

	"cubecore/emu/log"
	"cubecore/hw"
)

// SaveStateFile writes a gzip compressed save-state of the system to path.
// Must not be called while the emulator runs.
func (e *Emulator) SaveStateFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	zw := gzip.NewWriter(f)
	if err := e.Sys.SaveState(zw); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("save state: %w", err)
	}

	log.ModState.InfoZ("State saved").String("path", path).End()
	return nil
}

// LoadStateFile loads a save-state written by SaveStateFile. On failure the
// system is left untouched. Must not be called while the emulator runs.
func (e *Emulator) LoadStateFile(path string) error {
	if err := loadStateFile(e.Sys, path); err != nil {
		return err
	}
	e.ticks.Store(e.Sys.Timing.GetTicks())
	return nil
}

func loadStateFile(sys *hw.System, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	zr, err := gzip.NewReader(bufio.NewReader(f))
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	defer zr.Close()

	if err := sys.LoadState(zr); err != nil {
		return err
	}
	log.ModState.InfoZ("State loaded").String("path", path).End()
	return nil
}
