package log

import (
	"fmt"
	"sync"
	"time"

	"gopkg.in/Sirupsen/logrus.v0"
)

const maxZFields = 16

// EntryZ is a log entry built field by field. All methods accept a nil
// receiver, which is what disabled levels return, so that a disabled log line
// boils down to a chain of nil checks.
type EntryZ struct {
	lvl Level
	mod Module
	msg string

	zfbuf [maxZFields]ZField
	zfidx int
}

var entryzPool = sync.Pool{
	New: func() any { return new(EntryZ) },
}

func NewEntryZ() *EntryZ {
	e := entryzPool.Get().(*EntryZ)
	e.zfidx = 0
	return e
}

func (z *EntryZ) field(typ FieldType, key string) *ZField {
	if z.zfidx == len(z.zfbuf) {
		// Silently drop extra fields.
		return &ZField{}
	}
	f := &z.zfbuf[z.zfidx]
	*f = ZField{Type: typ, Key: key}
	z.zfidx++
	return f
}

func (z *EntryZ) String(key, val string) *EntryZ {
	if z != nil {
		z.field(FieldTypeString, key).String = val
	}
	return z
}

func (z *EntryZ) Bool(key string, val bool) *EntryZ {
	if z != nil {
		z.field(FieldTypeBool, key).Boolean = val
	}
	return z
}

func (z *EntryZ) hex(key string, val uint64, digits int) *EntryZ {
	if z != nil {
		f := z.field(FieldTypeHex, key)
		f.Integer = val
		f.Digits = digits
	}
	return z
}

func (z *EntryZ) Hex16(key string, val uint16) *EntryZ { return z.hex(key, uint64(val), 4) }
func (z *EntryZ) Hex32(key string, val uint32) *EntryZ { return z.hex(key, uint64(val), 8) }
func (z *EntryZ) Hex64(key string, val uint64) *EntryZ { return z.hex(key, val, 16) }

func (z *EntryZ) Int(key string, val int) *EntryZ {
	return z.Int64(key, int64(val))
}

func (z *EntryZ) Int64(key string, val int64) *EntryZ {
	if z != nil {
		z.field(FieldTypeInt, key).Integer = uint64(val)
	}
	return z
}

func (z *EntryZ) Uint64(key string, val uint64) *EntryZ {
	if z != nil {
		z.field(FieldTypeUint, key).Integer = val
	}
	return z
}

func (z *EntryZ) Float64(key string, val float64) *EntryZ {
	if z != nil {
		z.field(FieldTypeFloat, key).Float = val
	}
	return z
}

func (z *EntryZ) Error(key string, err error) *EntryZ {
	if z != nil {
		z.field(FieldTypeError, key).Error = err
	}
	return z
}

func (z *EntryZ) Duration(key string, d time.Duration) *EntryZ {
	if z != nil {
		z.field(FieldTypeDuration, key).Duration = d
	}
	return z
}

func (z *EntryZ) Stringer(key string, s fmt.Stringer) *EntryZ {
	if z != nil {
		z.field(FieldTypeStringer, key).Interface = s
	}
	return z
}

// End emits the entry and recycles it. The entry must not be used afterwards.
func (z *EntryZ) End() {
	if z == nil {
		return
	}

	fields := make(logrus.Fields, z.zfidx+1)
	fields["_mod"] = modNames[z.mod]
	for k, v := range contextFields() {
		fields[k] = v
	}
	for i := range z.zfbuf[:z.zfidx] {
		fields[z.zfbuf[i].Key] = z.zfbuf[i].Value()
	}

	lvl, msg := z.lvl, z.msg
	clear(z.zfbuf[:z.zfidx])
	entryzPool.Put(z)

	entry := logrus.StandardLogger().WithFields(fields)
	switch lvl {
	case DebugLevel:
		entry.Debug(msg)
	case InfoLevel:
		entry.Info(msg)
	case WarnLevel:
		entry.Warn(msg)
	case ErrorLevel:
		entry.Error(msg)
	}
}
