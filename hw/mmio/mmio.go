// Package mmio dispatches CPU accesses to memory mapped hardware registers.
//
// Each register address owns one read and one write handler cell per access
// width. Devices arm cells at init time with a handling method (constant,
// direct, complex...), afterwards an access is an array lookup followed by a
// call.
package mmio

// Width is the set of supported access sizes.
type Width interface {
	uint8 | uint16 | uint32
}

const (
	// BlockSize is the number of addresses in a MMIO block.
	BlockSize = 0x10000

	// NumBlocks is the number of distinct blocks: 0x0C00xxxx on one hand and
	// 0x0D00xxxx (mirrored at 0x0D80xxxx) on the other.
	NumBlocks = 2

	// NumMMIOs is the number of addressable MMIO bytes.
	NumMMIOs = NumBlocks * BlockSize
)

const gatherPipe = 0x0C008000

// UniqueID compacts a MMIO address into an index in [0, NumMMIOs). Addresses
// of the 0x0D00xxxx and 0x0D80xxxx blocks share the same ids.
func UniqueID(addr uint32) uint32 {
	var block uint32 = 1
	if addr&0xFFFF0000 == 0x0C000000 {
		block = 0
	}
	return block<<16 | addr&0xFFFF
}

// IsMMIOAddress reports whether a physical address belongs to the MMIO
// address space. The gather pipe is a special case, its accesses don't go
// through the MMIO mapping.
func IsMMIOAddress(addr uint32, wii bool) bool {
	if addr == gatherPipe {
		return false
	}
	switch addr & 0xFFFF0000 {
	case 0x0C000000:
		return true
	case 0x0D000000, 0x0D800000:
		return wii
	}
	return false
}

// Mapping holds all handler cells. C is the context type passed to complex
// handlers, usually the emulation instance.
//
// A Mapping is large, allocate it with NewMapping. It must only be used from
// the CPU goroutine.
type Mapping[C any] struct {
	read8   [NumMMIOs]ReadHandler[C, uint8]
	read16  [NumMMIOs / 2]ReadHandler[C, uint16]
	read32  [NumMMIOs / 4]ReadHandler[C, uint32]
	write8  [NumMMIOs]WriteHandler[C, uint8]
	write16 [NumMMIOs / 2]WriteHandler[C, uint16]
	write32 [NumMMIOs / 4]WriteHandler[C, uint32]

	// registered addresses, by unique id
	registered Bitset
}

func NewMapping[C any]() *Mapping[C] {
	return new(Mapping[C])
}

// ReadHandlerFor returns the cell handling T-sized reads at addr.
func ReadHandlerFor[T Width, C any](m *Mapping[C], addr uint32) *ReadHandler[C, T] {
	id := UniqueID(addr)
	var h any
	switch any(T(0)).(type) {
	case uint8:
		h = &m.read8[id]
	case uint16:
		h = &m.read16[id>>1]
	case uint32:
		h = &m.read32[id>>2]
	}
	return readCell(m, h.(*ReadHandler[C, T]))
}

// WriteHandlerFor returns the cell handling T-sized writes at addr.
func WriteHandlerFor[T Width, C any](m *Mapping[C], addr uint32) *WriteHandler[C, T] {
	id := UniqueID(addr)
	var h any
	switch any(T(0)).(type) {
	case uint8:
		h = &m.write8[id]
	case uint16:
		h = &m.write16[id>>1]
	case uint32:
		h = &m.write32[id>>2]
	}
	return writeCell(m, h.(*WriteHandler[C, T]))
}

// readCell and writeCell bind never armed cells of m to invalid methods
// reporting whether the address is mapped at another width.

func readCell[T Width, C any](m *Mapping[C], h *ReadHandler[C, T]) *ReadHandler[C, T] {
	if h.read == nil {
		h.ResetMethod(ReadMethod[C, T]{kind: ReadInvalid, registered: &m.registered})
	}
	return h
}

func writeCell[T Width, C any](m *Mapping[C], h *WriteHandler[C, T]) *WriteHandler[C, T] {
	if h.write == nil {
		h.ResetMethod(WriteMethod[C, T]{kind: WriteInvalid, registered: &m.registered})
	}
	return h
}

// Register arms both the read and write cells for T-sized accesses at addr.
// Cells may be re-armed at any time, the previous methods are dropped.
func Register[T Width, C any](m *Mapping[C], addr uint32, r ReadMethod[C, T], w WriteMethod[C, T]) {
	if r.kind == ReadInvalid {
		r.registered = &m.registered
	}
	if w.kind == WriteInvalid {
		w.registered = &m.registered
	}
	ReadHandlerFor[T](m, addr).ResetMethod(r)
	WriteHandlerFor[T](m, addr).ResetMethod(w)

	id := uint(UniqueID(addr))
	m.registered.SetRange(id, min(id+uint(sizeOf[T]()), NumBits))
}

// Read performs a T-sized read at addr.
func Read[T Width, C any](m *Mapping[C], ctx C, addr uint32) T {
	return ReadHandlerFor[T](m, addr).Read(ctx, addr)
}

// Write performs a T-sized write at addr.
func Write[T Width, C any](m *Mapping[C], ctx C, addr uint32, val T) {
	WriteHandlerFor[T](m, addr).Write(ctx, addr, val)
}

// Registered reports whether any handler has been registered for a range
// including addr.
func (m *Mapping[C]) Registered(addr uint32) bool {
	return m.registered.Test(uint(UniqueID(addr)))
}

func (m *Mapping[C]) Read8(ctx C, addr uint32) uint8 {
	return readCell(m, &m.read8[UniqueID(addr)]).Read(ctx, addr)
}

func (m *Mapping[C]) Read16(ctx C, addr uint32) uint16 {
	return readCell(m, &m.read16[UniqueID(addr)>>1]).Read(ctx, addr)
}

func (m *Mapping[C]) Read32(ctx C, addr uint32) uint32 {
	return readCell(m, &m.read32[UniqueID(addr)>>2]).Read(ctx, addr)
}

func (m *Mapping[C]) Write8(ctx C, addr uint32, val uint8) {
	writeCell(m, &m.write8[UniqueID(addr)]).Write(ctx, addr, val)
}

func (m *Mapping[C]) Write16(ctx C, addr uint32, val uint16) {
	writeCell(m, &m.write16[UniqueID(addr)>>1]).Write(ctx, addr, val)
}

func (m *Mapping[C]) Write32(ctx C, addr uint32, val uint32) {
	writeCell(m, &m.write32[UniqueID(addr)>>2]).Write(ctx, addr, val)
}

// sizeOf returns the size in bytes of T.
func sizeOf[T Width]() int {
	switch any(T(0)).(type) {
	case uint8:
		return 1
	case uint16:
		return 2
	}
	return 4
}

func bitsOf[T Width]() int { return 8 * sizeOf[T]() }
