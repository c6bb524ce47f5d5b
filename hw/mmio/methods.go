package mmio

import "cubecore/emu/log"

//go:generate go tool stringer -type=ReadKind,WriteKind -output=kind_string.go

// ReadKind identifies how a read handler computes its value.
type ReadKind uint8

const (
	ReadInvalid  ReadKind = iota // logs an error and returns 0
	ReadConstant                 // always returns the same value
	ReadDirect                   // returns a masked variable
	ReadComplex                  // calls a function
)

// WriteKind identifies what a write handler does with the value.
type WriteKind uint8

const (
	WriteInvalid WriteKind = iota // logs an error
	WriteNop                      // ignores the value
	WriteDirect                   // stores the masked value into a variable
	WriteComplex                  // calls a function
)

// ReadFunc is the signature of complex read handlers.
type ReadFunc[C any, T Width] func(ctx C, addr uint32) T

// WriteFunc is the signature of complex write handlers.
type WriteFunc[C any, T Width] func(ctx C, addr uint32, val T)

// ReadMethod describes how reads of a register are handled. Use one of the
// constructors to build one, the zero value is an invalid read.
type ReadMethod[C any, T Width] struct {
	kind  ReadKind
	value T // constant value, or mask for direct reads
	ptr   *T
	fn    ReadFunc[C, T]

	registered *Bitset // invalid reads: addresses of the owning Mapping
}

// WriteMethod describes how writes to a register are handled. Use one of the
// constructors to build one, the zero value is an invalid write.
type WriteMethod[C any, T Width] struct {
	kind WriteKind
	mask T
	ptr  *T
	fn   WriteFunc[C, T]

	registered *Bitset // invalid writes: addresses of the owning Mapping
}

func (m ReadMethod[C, T]) Kind() ReadKind   { return m.kind }
func (m WriteMethod[C, T]) Kind() WriteKind { return m.kind }

// Constant returns a read method always returning v.
func Constant[C any, T Width](v T) ReadMethod[C, T] {
	return ReadMethod[C, T]{kind: ReadConstant, value: v}
}

// DirectRead returns a read method returning the value stored at ptr.
func DirectRead[C any, T Width](ptr *T) ReadMethod[C, T] {
	return DirectReadMasked[C](ptr, ^T(0))
}

// DirectReadMasked returns a read method returning the value stored at ptr,
// and-ed with mask.
func DirectReadMasked[C any, T Width](ptr *T, mask T) ReadMethod[C, T] {
	return ReadMethod[C, T]{kind: ReadDirect, ptr: ptr, value: mask}
}

// ComplexRead returns a read method calling fn.
func ComplexRead[C any, T Width](fn ReadFunc[C, T]) ReadMethod[C, T] {
	return ReadMethod[C, T]{kind: ReadComplex, fn: fn}
}

// InvalidRead returns a read method reporting an error and returning 0. Cells
// which were never armed behave this way.
func InvalidRead[C any, T Width]() ReadMethod[C, T] {
	return ReadMethod[C, T]{kind: ReadInvalid}
}

// Nop returns a write method ignoring the written value.
func Nop[C any, T Width]() WriteMethod[C, T] {
	return WriteMethod[C, T]{kind: WriteNop}
}

// DirectWrite returns a write method storing the value at ptr.
func DirectWrite[C any, T Width](ptr *T) WriteMethod[C, T] {
	return DirectWriteMasked[C](ptr, ^T(0))
}

// DirectWriteMasked returns a write method storing the value and-ed with mask
// at ptr.
func DirectWriteMasked[C any, T Width](ptr *T, mask T) WriteMethod[C, T] {
	return WriteMethod[C, T]{kind: WriteDirect, ptr: ptr, mask: mask}
}

// ComplexWrite returns a write method calling fn.
func ComplexWrite[C any, T Width](fn WriteFunc[C, T]) WriteMethod[C, T] {
	return WriteMethod[C, T]{kind: WriteComplex, fn: fn}
}

// InvalidWrite returns a write method reporting an error. Cells which were
// never armed behave this way.
func InvalidWrite[C any, T Width]() WriteMethod[C, T] {
	return WriteMethod[C, T]{kind: WriteInvalid}
}

// compile returns the function implementing the method.
func (m ReadMethod[C, T]) compile() ReadFunc[C, T] {
	switch m.kind {
	case ReadConstant:
		v := m.value
		return func(C, uint32) T { return v }
	case ReadDirect:
		ptr, mask := m.ptr, m.value
		return func(C, uint32) T { return *ptr & mask }
	case ReadComplex:
		return m.fn
	}
	if reg := m.registered; reg != nil {
		return func(_ C, addr uint32) T {
			invalidAccess("read from invalid MMIO", bitsOf[T](), addr, reg).End()
			return 0
		}
	}
	return invalidRead[C, T]
}

func (m WriteMethod[C, T]) compile() WriteFunc[C, T] {
	switch m.kind {
	case WriteNop:
		return func(C, uint32, T) {}
	case WriteDirect:
		ptr, mask := m.ptr, m.mask
		return func(_ C, _ uint32, val T) { *ptr = val & mask }
	case WriteComplex:
		return m.fn
	}
	if reg := m.registered; reg != nil {
		return func(_ C, addr uint32, val T) {
			invalidAccess("write to invalid MMIO", bitsOf[T](), addr, reg).
				Hex32("val", uint32(val)).
				End()
		}
	}
	return invalidWrite[C, T]
}

func invalidRead[C any, T Width](_ C, addr uint32) T {
	invalidAccess("read from invalid MMIO", bitsOf[T](), addr, nil).End()
	return 0
}

func invalidWrite[C any, T Width](_ C, addr uint32, val T) {
	invalidAccess("write to invalid MMIO", bitsOf[T](), addr, nil).
		Hex32("val", uint32(val)).
		End()
}

// invalidAccess starts the log entry of an invalid access. With the set of
// registered addresses, it tells unmapped addresses apart from registers not
// supporting the access.
func invalidAccess(msg string, bits int, addr uint32, registered *Bitset) *log.EntryZ {
	z := log.ModMMIO.ErrorZ(msg).
		Int("bits", bits).
		Hex32("addr", addr)
	if registered != nil {
		reason := "unmapped"
		if registered.Test(uint(UniqueID(addr))) {
			reason = "unsupported"
		}
		z = z.String("reason", reason)
	}
	return z
}
