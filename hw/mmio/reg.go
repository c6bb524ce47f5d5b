package mmio

import (
	"fmt"

	"cubecore/emu/log"
)

type RWFlags uint8

const (
	ReadWriteFlag RWFlags = 0
	ReadOnlyFlag  RWFlags = (1 << iota)
	WriteOnlyFlag
)

// Reg is a device register backed by a variable. Bits set in RoMask are
// preserved on writes. Without callbacks, the register is mapped with direct
// methods.
type Reg[T Width] struct {
	Name   string
	Value  T
	RoMask T

	Flags   RWFlags
	ReadCb  func(val T) T
	WriteCb func(old, val T)
}

func (reg *Reg[T]) String() string {
	s := fmt.Sprintf("%s{%0*x", reg.Name, 2*sizeOf[T](), reg.Value)
	if reg.ReadCb != nil {
		s += ",r!"
	}
	if reg.WriteCb != nil {
		s += ",w!"
	}
	return s + "}"
}

func (reg *Reg[T]) write(val T) {
	old := reg.Value
	reg.Value = (reg.Value & reg.RoMask) | (val &^ reg.RoMask)
	if reg.WriteCb != nil {
		reg.WriteCb(old, reg.Value)
	}
}

// RegReadMethod returns the method mapping reads of reg.
func RegReadMethod[C any, T Width](reg *Reg[T]) ReadMethod[C, T] {
	switch {
	case reg.Flags&WriteOnlyFlag != 0:
		return ComplexRead(func(_ C, addr uint32) T {
			log.ModMMIO.ErrorZ("invalid read from writeonly reg").
				String("name", reg.Name).
				Hex32("addr", addr).
				End()
			return 0
		})
	case reg.ReadCb != nil:
		return ComplexRead(func(C, uint32) T { return reg.ReadCb(reg.Value) })
	}
	return DirectRead[C](&reg.Value)
}

// RegWriteMethod returns the method mapping writes to reg.
func RegWriteMethod[C any, T Width](reg *Reg[T]) WriteMethod[C, T] {
	switch {
	case reg.Flags&ReadOnlyFlag != 0:
		return ComplexWrite(func(_ C, addr uint32, val T) {
			log.ModMMIO.ErrorZ("invalid write to readonly reg").
				String("name", reg.Name).
				Hex32("addr", addr).
				Hex32("val", uint32(val)).
				End()
		})
	case reg.WriteCb == nil && reg.RoMask == 0:
		return DirectWrite[C](&reg.Value)
	}
	return ComplexWrite(func(_ C, _ uint32, val T) { reg.write(val) })
}

// MapReg registers reg at addr.
func MapReg[T Width, C any](m *Mapping[C], addr uint32, reg *Reg[T]) {
	log.ModMMIO.DebugZ("mapping reg").
		Hex32("addr", addr).
		String("name", reg.Name).
		Int("bits", bitsOf[T]()).
		End()
	Register(m, addr, RegReadMethod[C](reg), RegWriteMethod[C](reg))
}
