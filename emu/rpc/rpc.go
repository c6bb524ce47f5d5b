// Package rpc exposes emulator controls over net/rpc, so that a running
// emulator can be driven from another process.
package rpc

import (
	"cubecore/emu/log"
)

var modRPC = log.NewModule("rpc")

// Status is a snapshot of the emulator progress.
type Status struct {
	Ticks        uint64
	Paused       bool
	DrawnFields  uint64
	AudioSamples uint64
}

// Overclock holds the arguments of the SetOverclock call.
type Overclock struct {
	Enabled bool
	Factor  float64
}
