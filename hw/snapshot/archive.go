// Package snapshot implements the save-state archive. Every component exposes
// a single DoState method taking an Archive: the same code path serializes
// and deserializes, depending on the archive mode.
package snapshot

import (
	"errors"
	"fmt"
	"io"

	"github.com/tinylib/msgp/msgp"
)

const (
	Magic   = "CCST"
	Version = 1
)

var (
	ErrBadMagic    = errors.New("snapshot: bad magic")
	ErrBadVersion  = errors.New("snapshot: unsupported version")
	ErrWrongMarker = errors.New("snapshot: wrong marker")
	ErrLength      = errors.New("snapshot: length mismatch")
)

type Mode uint8

const (
	ModeWrite   Mode = iota // state is serialized
	ModeRead                // state is restored
	ModeMeasure             // state is serialized to nowhere, only counting bytes
)

// Archive wraps a msgpack stream. The first error encountered is latched and
// all later operations become no-ops, so DoState implementations only need to
// check Err once they're done.
type Archive struct {
	mode Mode
	r    *msgp.Reader
	w    *msgp.Writer
	cnt  *counter
	err  error
}

// NewWriter returns an archive serializing state to w. Flush must be called
// once done.
func NewWriter(w io.Writer) *Archive {
	return &Archive{mode: ModeWrite, w: msgp.NewWriter(w)}
}

// NewReader returns an archive restoring state from r.
func NewReader(r io.Reader) *Archive {
	return &Archive{mode: ModeRead, r: msgp.NewReader(r)}
}

// NewMeasurer returns an archive which only counts the number of bytes
// the state would occupy.
func NewMeasurer() *Archive {
	cnt := &counter{}
	return &Archive{mode: ModeMeasure, w: msgp.NewWriter(cnt), cnt: cnt}
}

func (a *Archive) Mode() Mode      { return a.mode }
func (a *Archive) IsReading() bool { return a.mode == ModeRead }
func (a *Archive) Err() error      { return a.err }

// Fail latches err, unless an error has already been latched.
func (a *Archive) Fail(err error) {
	if a.err == nil {
		a.err = err
	}
}

// Flush flushes buffered data to the underlying writer. It's a no-op in read
// mode.
func (a *Archive) Flush() error {
	if a.err == nil && a.w != nil {
		a.Fail(a.w.Flush())
	}
	return a.err
}

// Size returns the number of bytes measured so far (measure mode only).
func (a *Archive) Size() int64 {
	if a.cnt == nil {
		return 0
	}
	a.Flush()
	return a.cnt.n
}

func do[T any](a *Archive, v *T, write func(*msgp.Writer, T) error, read func(*msgp.Reader) (T, error)) {
	if a.err != nil {
		return
	}
	if a.mode == ModeRead {
		got, err := read(a.r)
		if err != nil {
			a.err = err
			return
		}
		*v = got
		return
	}
	a.err = write(a.w, *v)
}

func (a *Archive) Bool(v *bool) {
	do(a, v, (*msgp.Writer).WriteBool, (*msgp.Reader).ReadBool)
}

func (a *Archive) Uint8(v *uint8) {
	do(a, v, (*msgp.Writer).WriteUint8, (*msgp.Reader).ReadUint8)
}

func (a *Archive) Uint16(v *uint16) {
	do(a, v, (*msgp.Writer).WriteUint16, (*msgp.Reader).ReadUint16)
}

func (a *Archive) Uint32(v *uint32) {
	do(a, v, (*msgp.Writer).WriteUint32, (*msgp.Reader).ReadUint32)
}

func (a *Archive) Uint64(v *uint64) {
	do(a, v, (*msgp.Writer).WriteUint64, (*msgp.Reader).ReadUint64)
}

func (a *Archive) Int32(v *int32) {
	do(a, v, (*msgp.Writer).WriteInt32, (*msgp.Reader).ReadInt32)
}

func (a *Archive) Int64(v *int64) {
	do(a, v, (*msgp.Writer).WriteInt64, (*msgp.Reader).ReadInt64)
}

func (a *Archive) Float64(v *float64) {
	do(a, v, (*msgp.Writer).WriteFloat64, (*msgp.Reader).ReadFloat64)
}

func (a *Archive) String(v *string) {
	do(a, v, (*msgp.Writer).WriteString, (*msgp.Reader).ReadString)
}

// Len serializes the length of a variable-sized sequence. Elements must then
// be processed one by one, in read mode *n holds the number of elements to
// restore.
func (a *Archive) Len(n *int) {
	sz := uint32(*n)
	do(a, &sz, (*msgp.Writer).WriteArrayHeader, (*msgp.Reader).ReadArrayHeader)
	*n = int(sz)
}

// Bytes serializes a fixed-size buffer. In read mode, the stored buffer must
// have exactly the same length as buf.
func (a *Archive) Bytes(buf []byte) {
	if a.err != nil {
		return
	}
	if a.mode != ModeRead {
		a.err = a.w.WriteBytes(buf)
		return
	}
	got, err := a.r.ReadBytes(nil)
	if err != nil {
		a.err = err
		return
	}
	if len(got) != len(buf) {
		a.err = fmt.Errorf("%w: got %d bytes, want %d", ErrLength, len(got), len(buf))
		return
	}
	copy(buf, got)
}

// Marker writes a section name, or checks it's there when reading. Markers
// catch components which don't read back what they wrote.
func (a *Archive) Marker(name string) {
	got := name
	a.String(&got)
	if a.err == nil && got != name {
		a.err = fmt.Errorf("%w: got %q, want %q", ErrWrongMarker, got, name)
	}
}

// Header processes the archive magic and version.
func (a *Archive) Header() {
	magic, version := Magic, uint32(Version)
	a.String(&magic)
	a.Uint32(&version)
	if a.err != nil || a.mode != ModeRead {
		return
	}
	switch {
	case magic != Magic:
		a.err = fmt.Errorf("%w: %q", ErrBadMagic, magic)
	case version != Version:
		a.err = fmt.Errorf("%w: %d", ErrBadVersion, version)
	}
}

type counter struct{ n int64 }

func (c *counter) Write(p []byte) (int, error) {
	c.n += int64(len(p))
	return len(p), nil
}
