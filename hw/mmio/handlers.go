package mmio

// ReadHandler is the cell handling reads of one register, for one width.
// The zero value behaves as an invalid read.
type ReadHandler[C any, T Width] struct {
	method ReadMethod[C, T]
	read   ReadFunc[C, T]
}

// init lazily binds a never armed cell to the invalid method.
func (h *ReadHandler[C, T]) init() {
	if h.read == nil {
		h.ResetMethod(InvalidRead[C, T]())
	}
}

// Read performs a read through the cell.
func (h *ReadHandler[C, T]) Read(ctx C, addr uint32) T {
	h.init()
	return h.read(ctx, addr)
}

// Method returns the method the cell is armed with.
func (h *ReadHandler[C, T]) Method() ReadMethod[C, T] {
	h.init()
	return h.method
}

// ResetMethod re-arms the cell. Functions previously returned by CompileRead
// for this cell are stale once it's called.
func (h *ReadHandler[C, T]) ResetMethod(m ReadMethod[C, T]) {
	h.method = m
	h.read = m.compile()
}

// Visit calls the visitor method matching the kind of the cell method.
// Invalid reads are presented as complex reads.
func (h *ReadHandler[C, T]) Visit(v ReadVisitor[C, T]) {
	h.init()
	switch m := h.method; m.kind {
	case ReadConstant:
		v.VisitConstant(m.value)
	case ReadDirect:
		v.VisitDirect(m.ptr, m.value)
	default:
		v.VisitComplex(h.read)
	}
}

// WriteHandler is the cell handling writes to one register, for one width.
// The zero value behaves as an invalid write.
type WriteHandler[C any, T Width] struct {
	method WriteMethod[C, T]
	write  WriteFunc[C, T]
}

func (h *WriteHandler[C, T]) init() {
	if h.write == nil {
		h.ResetMethod(InvalidWrite[C, T]())
	}
}

// Write performs a write through the cell.
func (h *WriteHandler[C, T]) Write(ctx C, addr uint32, val T) {
	h.init()
	h.write(ctx, addr, val)
}

// Method returns the method the cell is armed with.
func (h *WriteHandler[C, T]) Method() WriteMethod[C, T] {
	h.init()
	return h.method
}

// ResetMethod re-arms the cell. Functions previously returned by
// CompileWrite for this cell are stale once it's called.
func (h *WriteHandler[C, T]) ResetMethod(m WriteMethod[C, T]) {
	h.method = m
	h.write = m.compile()
}

// Visit calls the visitor method matching the kind of the cell method.
// Invalid writes are presented as complex writes.
func (h *WriteHandler[C, T]) Visit(v WriteVisitor[C, T]) {
	h.init()
	switch m := h.method; m.kind {
	case WriteNop:
		v.VisitNop()
	case WriteDirect:
		v.VisitDirect(m.ptr, m.mask)
	default:
		v.VisitComplex(h.write)
	}
}
