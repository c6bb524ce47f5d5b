package mmio

// ReadVisitor inspects a read handler, for example to emit specialized code
// for the access. Exactly one method is called per visit.
type ReadVisitor[C any, T Width] interface {
	VisitConstant(value T)
	VisitDirect(ptr *T, mask T)
	VisitComplex(fn ReadFunc[C, T])
}

// WriteVisitor inspects a write handler. Exactly one method is called per
// visit.
type WriteVisitor[C any, T Width] interface {
	VisitNop()
	VisitDirect(ptr *T, mask T)
	VisitComplex(fn WriteFunc[C, T])
}

// readCompiler builds a specialized accessor from the handler description.
type readCompiler[C any, T Width] struct {
	fn ReadFunc[C, T]
}

func (c *readCompiler[C, T]) VisitConstant(value T) {
	c.fn = func(C, uint32) T { return value }
}

func (c *readCompiler[C, T]) VisitDirect(ptr *T, mask T) {
	if mask == ^T(0) {
		c.fn = func(C, uint32) T { return *ptr }
		return
	}
	c.fn = func(C, uint32) T { return *ptr & mask }
}

func (c *readCompiler[C, T]) VisitComplex(fn ReadFunc[C, T]) { c.fn = fn }

type writeCompiler[C any, T Width] struct {
	fn WriteFunc[C, T]
}

func (c *writeCompiler[C, T]) VisitNop() {
	c.fn = func(C, uint32, T) {}
}

func (c *writeCompiler[C, T]) VisitDirect(ptr *T, mask T) {
	if mask == ^T(0) {
		c.fn = func(_ C, _ uint32, val T) { *ptr = val }
		return
	}
	c.fn = func(_ C, _ uint32, val T) { *ptr = val & mask }
}

func (c *writeCompiler[C, T]) VisitComplex(fn WriteFunc[C, T]) { c.fn = fn }

// CompileRead returns a function performing T-sized reads at addr, bypassing
// the cell lookup. It remains valid until the cell is re-armed.
func CompileRead[T Width, C any](m *Mapping[C], addr uint32) ReadFunc[C, T] {
	var c readCompiler[C, T]
	ReadHandlerFor[T](m, addr).Visit(&c)
	return c.fn
}

// CompileWrite returns a function performing T-sized writes at addr,
// bypassing the cell lookup. It remains valid until the cell is re-armed.
func CompileWrite[T Width, C any](m *Mapping[C], addr uint32) WriteFunc[C, T] {
	var c writeCompiler[C, T]
	WriteHandlerFor[T](m, addr).Visit(&c)
	return c.fn
}
