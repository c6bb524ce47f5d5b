// Package log provides per-module logging over logrus.
//
// Warnings and errors are always emitted. Debug and info entries are only
// emitted for the modules enabled with EnableDebugModules.
package log

import (
	"io"

	"gopkg.in/Sirupsen/logrus.v0"
)

type Level = logrus.Level

const (
	ErrorLevel = logrus.ErrorLevel
	WarnLevel  = logrus.WarnLevel
	InfoLevel  = logrus.InfoLevel
	DebugLevel = logrus.DebugLevel
)

type ModuleMask uint64
type Module uint

const ModuleMaskAll ModuleMask = 0xFFFFFFFFFFFFFFFF

// Hardware and front-end modules. Packages that need their own verbosity
// switch declare extra modules with NewModule.
const (
	ModEmu Module = iota + 1
	ModCPU
	ModMem
	ModMMIO
	ModTiming
	ModState
	ModPI
	ModAI
	ModVI
	ModPE

	endStandardMods
)

var (
	modCount     = endStandardMods
	modDebugMask ModuleMask
	modNames     = []string{
		"<error>", "emu", "cpu", "mem", "mmio", "timing", "state", "pi", "ai", "vi", "pe",
	}
)

// NewModule registers a module. Must be called during package
// initialization.
func NewModule(name string) Module {
	mod := modCount
	modCount++
	modNames = append(modNames, name)
	return mod
}

func ModuleByName(name string) (Module, bool) {
	for idx, s := range modNames[1:] {
		if s == name {
			return Module(idx + 1), true
		}
	}
	return 0, false
}

// ModuleNames returns the names of all the registered modules.
func ModuleNames() []string {
	return append([]string(nil), modNames[1:]...)
}

func (mod Module) String() string {
	if int(mod) < len(modNames) {
		return modNames[mod]
	}
	return modNames[0]
}

func (mod Module) Mask() ModuleMask {
	return 1 << ModuleMask(mod)
}

// EnableDebugModules turns on debug and info logs for the modules in mask.
func EnableDebugModules(mask ModuleMask) {
	modDebugMask |= mask
	if modDebugMask != 0 {
		logrus.SetLevel(DebugLevel)
	}
}

func DisableDebugModules(mask ModuleMask) {
	modDebugMask &^= mask
}

// Disable discards all logs, whatever their level.
func Disable() {
	logrus.SetOutput(io.Discard)
}

// SetOutput redirects all logs to w.
func SetOutput(w io.Writer) {
	logrus.SetOutput(w)
}

func (mod Module) Enabled(level Level) bool {
	return level <= WarnLevel || modDebugMask&mod.Mask() != 0
}

// entry returns a logrus entry tagged with the module and the context fields.
func (mod Module) entry() *logrus.Entry {
	return logrus.StandardLogger().
		WithField("_mod", mod.String()).
		WithFields(contextFields())
}

// Warnf and Fatalf are for the front-end, where messages are meant to be
// read by the user. Hardware code uses the XxxZ family.

func (mod Module) Warnf(format string, args ...any) {
	mod.entry().Warnf(format, args...)
}

// Fatalf logs and exits the process.
func (mod Module) Fatalf(format string, args ...any) {
	mod.entry().Fatalf(format, args...)
}

// Zero-allocation family: returns nil when the level is disabled for the
// module, so that building the fields costs nothing.

func (mod Module) logz(lvl Level, msg string) *EntryZ {
	if !mod.Enabled(lvl) {
		return nil
	}
	z := NewEntryZ()
	z.lvl = lvl
	z.msg = msg
	z.mod = mod
	return z
}

func (mod Module) DebugZ(msg string) *EntryZ { return mod.logz(DebugLevel, msg) }
func (mod Module) InfoZ(msg string) *EntryZ  { return mod.logz(InfoLevel, msg) }
func (mod Module) WarnZ(msg string) *EntryZ  { return mod.logz(WarnLevel, msg) }
func (mod Module) ErrorZ(msg string) *EntryZ { return mod.logz(ErrorLevel, msg) }
