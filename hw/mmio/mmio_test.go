package mmio_test

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"cubecore/emu/log"
	"cubecore/hw/mmio"
)

// testCtx is the context passed to complex handlers.
type testCtx struct {
	calls []string
}

func (c *testCtx) record(s string) { c.calls = append(c.calls, s) }

type mapping = mmio.Mapping[*testCtx]

func wantRead[T mmio.Width](t *testing.T, m *mapping, ctx *testCtx, addr uint32, want T) {
	t.Helper()
	if got := mmio.Read[T](m, ctx, addr); got != want {
		t.Errorf("Read%d(%08X) = %X, want %X", 8*sizeOfT[T](), addr, got, want)
	}
}

func sizeOfT[T mmio.Width]() int {
	switch any(T(0)).(type) {
	case uint8:
		return 1
	case uint16:
		return 2
	}
	return 4
}

func TestUniqueID(t *testing.T) {
	tests := []struct {
		addr uint32
		want uint32
	}{
		{0x0C000000, 0x00000},
		{0x0C003000, 0x03000},
		{0x0C00FFFF, 0x0FFFF},
		{0x0D000000, 0x10000},
		{0x0D006000, 0x16000},
		{0x0D806000, 0x16000},
	}
	for _, tt := range tests {
		if got := mmio.UniqueID(tt.addr); got != tt.want {
			t.Errorf("UniqueID(%08X) = %05X, want %05X", tt.addr, got, tt.want)
		}
	}
}

func TestIsMMIOAddress(t *testing.T) {
	tests := []struct {
		addr uint32
		wii  bool
		want bool
	}{
		{0x0C003000, false, true},
		{0x0C003000, true, true},
		{0x0C008000, false, false}, // gather pipe
		{0x0C008000, true, false},
		{0x0D006000, false, false},
		{0x0D006000, true, true},
		{0x0D806000, true, true},
		{0x0C010000, true, false},
		{0x00001234, true, false},
		{0x80003000, false, false},
	}
	for _, tt := range tests {
		if got := mmio.IsMMIOAddress(tt.addr, tt.wii); got != tt.want {
			t.Errorf("IsMMIOAddress(%08X, wii=%t) = %t, want %t", tt.addr, tt.wii, got, tt.want)
		}
	}
}

func TestInvalidCells(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })

	m := mmio.NewMapping[*testCtx]()
	ctx := &testCtx{}

	wantRead[uint32](t, m, ctx, 0x0C001000, 0)
	m.Write16(ctx, 0x0C001002, 0x1234)

	if k := mmio.ReadHandlerFor[uint32](m, 0x0C001000).Method().Kind(); k != mmio.ReadInvalid {
		t.Errorf("read kind = %v, want %v", k, mmio.ReadInvalid)
	}
	if k := mmio.WriteHandlerFor[uint16](m, 0x0C001002).Method().Kind(); k != mmio.WriteInvalid {
		t.Errorf("write kind = %v, want %v", k, mmio.WriteInvalid)
	}
	for _, msg := range []string{"read from invalid MMIO", "write to invalid MMIO"} {
		if !strings.Contains(buf.String(), msg) {
			t.Errorf("log output doesn't contain %q:\n%s", msg, buf.String())
		}
	}
	if m.Registered(0x0C001000) {
		t.Errorf("Registered(%08X) = true, want false", 0x0C001000)
	}
	if !strings.Contains(buf.String(), "reason=unmapped") {
		t.Errorf("invalid access to an unmapped address not reported as such:\n%s", buf.String())
	}

	// Mapped, but not for this width.
	var reg uint32
	mmio.Register(m, 0x0C002000, mmio.DirectRead[*testCtx](&reg), mmio.Nop[*testCtx, uint32]())
	mmio.Register(m, 0x0C002004, mmio.DirectRead[*testCtx](&reg), mmio.InvalidWrite[*testCtx, uint32]())
	for _, access := range []func(){
		func() { m.Read16(ctx, 0x0C002002) },
		func() { m.Write8(ctx, 0x0C002001, 1) },
		func() { m.Write32(ctx, 0x0C002004, 1) },
	} {
		buf.Reset()
		access()
		if out := buf.String(); !strings.Contains(out, "reason=unsupported") {
			t.Errorf("invalid access to a mapped address not reported as such:\n%s", out)
		}
	}
}

func TestConstant(t *testing.T) {
	m := mmio.NewMapping[*testCtx]()
	mmio.Register(m, 0x0C00300C, mmio.Constant[*testCtx](uint32(0x46500001)), mmio.Nop[*testCtx, uint32]())

	wantRead[uint32](t, m, nil, 0x0C00300C, 0x46500001)
	m.Write32(nil, 0x0C00300C, 0)
	wantRead[uint32](t, m, nil, 0x0C00300C, 0x46500001)
}

func testDirect[T mmio.Width](t *testing.T, addr uint32, mask T) {
	m := mmio.NewMapping[*testCtx]()

	var reg T
	mmio.Register(m, addr, mmio.DirectReadMasked[*testCtx](&reg, mask), mmio.DirectWriteMasked[*testCtx](&reg, mask))

	mmio.Write(m, nil, addr, ^T(0))
	if reg != mask {
		t.Errorf("reg = %X, want %X", reg, mask)
	}
	wantRead(t, m, nil, addr, mask)

	reg = ^T(0)
	wantRead(t, m, nil, addr, mask)

	if !m.Registered(addr) {
		t.Errorf("Registered(%08X) = false, want true", addr)
	}
}

func TestDirect(t *testing.T) {
	t.Run("8", func(t *testing.T) { testDirect(t, 0x0C006C01, uint8(0x7F)) })
	t.Run("16", func(t *testing.T) { testDirect(t, 0x0C002002, uint16(0x03FF)) })
	t.Run("32", func(t *testing.T) { testDirect(t, 0x0C003014, uint32(0x03FFFFE0)) })
}

func TestComplex(t *testing.T) {
	m := mmio.NewMapping[*testCtx]()
	ctx := &testCtx{}

	var reg uint16
	mmio.Register(m, 0x0C00100A,
		mmio.ComplexRead(func(ctx *testCtx, addr uint32) uint16 {
			ctx.record("read")
			return reg + 1
		}),
		mmio.ComplexWrite(func(ctx *testCtx, addr uint32, val uint16) {
			ctx.record("write")
			reg = val
		}),
	)

	m.Write16(ctx, 0x0C00100A, 0x41)
	wantRead[uint16](t, m, ctx, 0x0C00100A, 0x42)
	if diff := cmp.Diff([]string{"write", "read"}, ctx.calls); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
}

func TestMirroredBlocks(t *testing.T) {
	m := mmio.NewMapping[*testCtx]()

	reg := uint32(0xCAFE)
	mmio.Register(m, 0x0D006000, mmio.DirectRead[*testCtx](&reg), mmio.DirectWrite[*testCtx](&reg))

	wantRead[uint32](t, m, nil, 0x0D806000, 0xCAFE)
	m.Write32(nil, 0x0D806000, 0xBEEF)
	wantRead[uint32](t, m, nil, 0x0D006000, 0xBEEF)

	// 0x0C00xxxx is a different block.
	if m.Registered(0x0C006000) {
		t.Errorf("Registered(%08X) = true, want false", 0x0C006000)
	}
}

func TestReadToSmaller(t *testing.T) {
	m := mmio.NewMapping[*testCtx]()

	hi, lo := uint16(0x1234), uint16(0x5678)
	mmio.Register(m, 0x0C002000, mmio.DirectRead[*testCtx](&hi), mmio.Nop[*testCtx, uint16]())
	mmio.Register(m, 0x0C002002, mmio.DirectRead[*testCtx](&lo), mmio.Nop[*testCtx, uint16]())
	mmio.Register(m, 0x0C002000,
		mmio.ReadToSmaller[uint32, uint16](m, 0x0C002000, 0x0C002002),
		mmio.Nop[*testCtx, uint32]())

	wantRead[uint32](t, m, nil, 0x0C002000, 0x12345678)

	// Halves are looked up at each access.
	lo = 0x9ABC
	wantRead[uint32](t, m, nil, 0x0C002000, 0x12349ABC)
	mmio.ReadHandlerFor[uint16](m, 0x0C002000).ResetMethod(mmio.Constant[*testCtx](uint16(0xFFFF)))
	wantRead[uint32](t, m, nil, 0x0C002000, 0xFFFF9ABC)
}

func TestWriteToSmaller(t *testing.T) {
	m := mmio.NewMapping[*testCtx]()
	ctx := &testCtx{}

	half := func(name string) mmio.WriteMethod[*testCtx, uint8] {
		return mmio.ComplexWrite(func(ctx *testCtx, addr uint32, val uint8) {
			ctx.record(name + ":" + string("0123456789ABCDEF"[val>>4]) + string("0123456789ABCDEF"[val&0xF]))
		})
	}
	mmio.Register(m, 0x0C006C00, mmio.InvalidRead[*testCtx, uint8](), half("hi"))
	mmio.Register(m, 0x0C006C01, mmio.InvalidRead[*testCtx, uint8](), half("lo"))
	mmio.Register(m, 0x0C006C00,
		mmio.InvalidRead[*testCtx, uint16](),
		mmio.WriteToSmaller[uint16, uint8](m, 0x0C006C00, 0x0C006C01))

	m.Write16(ctx, 0x0C006C00, 0xA55A)
	if diff := cmp.Diff([]string{"hi:A5", "lo:5A"}, ctx.calls); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
}

func TestReadToLarger(t *testing.T) {
	m := mmio.NewMapping[*testCtx]()

	reg := uint32(0xAABBCCDD)
	mmio.Register(m, 0x0C003000, mmio.DirectRead[*testCtx](&reg), mmio.DirectWrite[*testCtx](&reg))
	mmio.Register(m, 0x0C003000, mmio.ReadToLarger[uint16, uint32](m, 0x0C003000, 16), mmio.Nop[*testCtx, uint16]())
	mmio.Register(m, 0x0C003002, mmio.ReadToLarger[uint16, uint32](m, 0x0C003000, 0), mmio.Nop[*testCtx, uint16]())
	mmio.Register(m, 0x0C003000, mmio.ReadToLarger[uint8, uint32](m, 0x0C003000, 24), mmio.Nop[*testCtx, uint8]())

	wantRead[uint16](t, m, nil, 0x0C003000, 0xAABB)
	wantRead[uint16](t, m, nil, 0x0C003002, 0xCCDD)
	wantRead[uint8](t, m, nil, 0x0C003000, 0xAA)
}

func TestCompositionPanics(t *testing.T) {
	m := mmio.NewMapping[*testCtx]()
	tests := map[string]func(){
		"ReadToSmaller 32/8": func() { mmio.ReadToSmaller[uint32, uint8](m, 0, 1) },
		"WriteToSmaller 8/8": func() { mmio.WriteToSmaller[uint8, uint8](m, 0, 1) },
		"ReadToLarger 32/16": func() { mmio.ReadToLarger[uint32, uint16](m, 0, 0) },
	}
	for name, f := range tests {
		t.Run(name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Errorf("no panic")
				}
			}()
			f()
		})
	}
}

type visitRecorder struct {
	visited string
	value   uint16
	ptr     *uint16
	mask    uint16
}

func (v *visitRecorder) VisitConstant(value uint16) {
	v.visited, v.value = "constant", value
}

func (v *visitRecorder) VisitDirect(ptr *uint16, mask uint16) {
	v.visited, v.ptr, v.mask = "direct", ptr, mask
}

func (v *visitRecorder) VisitComplex(mmio.ReadFunc[*testCtx, uint16]) { v.visited = "complex" }
func (v *visitRecorder) VisitNop()                                     { v.visited = "nop" }

type writeVisitRecorder struct{ visitRecorder }

func (v *writeVisitRecorder) VisitComplex(mmio.WriteFunc[*testCtx, uint16]) { v.visited = "complex" }

func TestVisit(t *testing.T) {
	m := mmio.NewMapping[*testCtx]()
	var reg uint16

	readTests := []struct {
		name   string
		method mmio.ReadMethod[*testCtx, uint16]
		want   visitRecorder
	}{
		{"constant", mmio.Constant[*testCtx](uint16(7)), visitRecorder{visited: "constant", value: 7}},
		{"direct", mmio.DirectReadMasked[*testCtx](&reg, 0xF0), visitRecorder{visited: "direct", ptr: &reg, mask: 0xF0}},
		{"complex", mmio.ComplexRead(func(*testCtx, uint32) uint16 { return 0 }), visitRecorder{visited: "complex"}},
		{"invalid", mmio.InvalidRead[*testCtx, uint16](), visitRecorder{visited: "complex"}},
	}
	for _, tt := range readTests {
		t.Run("read/"+tt.name, func(t *testing.T) {
			h := mmio.ReadHandlerFor[uint16](m, 0x0C002000)
			h.ResetMethod(tt.method)

			var got visitRecorder
			h.Visit(&got)
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}

	writeTests := []struct {
		name   string
		method mmio.WriteMethod[*testCtx, uint16]
		want   visitRecorder
	}{
		{"nop", mmio.Nop[*testCtx, uint16](), visitRecorder{visited: "nop"}},
		{"direct", mmio.DirectWrite[*testCtx](&reg), visitRecorder{visited: "direct", ptr: &reg, mask: 0xFFFF}},
		{"complex", mmio.ComplexWrite(func(*testCtx, uint32, uint16) {}), visitRecorder{visited: "complex"}},
		{"invalid", mmio.InvalidWrite[*testCtx, uint16](), visitRecorder{visited: "complex"}},
	}
	for _, tt := range writeTests {
		t.Run("write/"+tt.name, func(t *testing.T) {
			h := mmio.WriteHandlerFor[uint16](m, 0x0C002000)
			h.ResetMethod(tt.method)

			var got writeVisitRecorder
			h.Visit(&got)
			if got.visitRecorder != tt.want {
				t.Errorf("got %+v, want %+v", got.visitRecorder, tt.want)
			}
		})
	}

	// Never armed cells are invalid, thus complex.
	var got visitRecorder
	mmio.ReadHandlerFor[uint16](m, 0x0C00F000).Visit(&got)
	if got.visited != "complex" {
		t.Errorf("unarmed cell visited as %q, want complex", got.visited)
	}
}

func TestCompile(t *testing.T) {
	m := mmio.NewMapping[*testCtx]()

	var reg uint32
	mmio.Register(m, 0x0C006C04, mmio.DirectReadMasked[*testCtx](&reg, 0xFF), mmio.DirectWrite[*testCtx](&reg))

	read := mmio.CompileRead[uint32](m, 0x0C006C04)
	write := mmio.CompileWrite[uint32](m, 0x0C006C04)

	write(nil, 0x0C006C04, 0x1234)
	if reg != 0x1234 {
		t.Errorf("reg = %X, want 0x1234", reg)
	}
	if got := read(nil, 0x0C006C04); got != 0x34 {
		t.Errorf("compiled read = %X, want 0x34", got)
	}

	// A compiled accessor reflects the method at the time of compilation.
	mmio.Register(m, 0x0C006C04, mmio.Constant[*testCtx](uint32(5)), mmio.Nop[*testCtx, uint32]())
	if got := read(nil, 0x0C006C04); got != 0x34 {
		t.Errorf("stale compiled read = %X, want 0x34", got)
	}
	read = mmio.CompileRead[uint32](m, 0x0C006C04)
	if got := read(nil, 0x0C006C04); got != 5 {
		t.Errorf("recompiled read = %X, want 5", got)
	}
}

func TestKindString(t *testing.T) {
	if s := mmio.ReadDirect.String(); s != "ReadDirect" {
		t.Errorf("ReadDirect.String() = %q", s)
	}
	if s := mmio.WriteKind(9).String(); s != "WriteKind(9)" {
		t.Errorf("WriteKind(9).String() = %q", s)
	}
}
