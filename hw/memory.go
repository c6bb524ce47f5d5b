package hw

import (
	"encoding/binary"
	"fmt"

	"cubecore/emu/log"
	"cubecore/hw/mmio"
	"cubecore/hw/snapshot"
)

const (
	// Mem1Size is the size of the main RAM.
	Mem1Size = 24 << 20

	// physMask translates cached (0x8xxxxxxx) and uncached (0xCxxxxxxx)
	// addresses into physical ones.
	physMask = 0x3FFFFFFF

	gatherPipeAddr  = 0x0C008000
	gatherPipeBurst = 32
	gatherPipeSize  = 16 * gatherPipeBurst
)

// Memory is the main RAM, plus the write gather pipe feeding the graphics
// FIFO.
type Memory struct {
	sys *System

	RAM []byte

	gather      [gatherPipeSize + 8]byte
	gatherCount int

	// Bytes sent to the graphics FIFO.
	FIFOBytes uint64
}

func (m *Memory) init(s *System) {
	m.sys = s
	m.RAM = make([]byte, Mem1Size)
}

// ram returns the size bytes at physical address phys, if they're backed by
// RAM.
func (m *Memory) ram(phys uint32, size uint32) ([]byte, bool) {
	if phys >= Mem1Size || Mem1Size-phys < size {
		return nil, false
	}
	return m.RAM[phys : phys+size], true
}

func (m *Memory) invalid(op string, bits int, addr uint32) {
	log.ModMem.ErrorZ("invalid memory access").
		String("op", op).
		Int("bits", bits).
		Hex32("addr", addr).
		End()
}

func (m *Memory) gatherPipeWrite(buf []byte) {
	m.gatherCount += copy(m.gather[m.gatherCount:], buf)
	for m.gatherCount >= gatherPipeBurst {
		m.flushBurst()
	}
}

// flushBurst copies the first burst of the gather pipe to the graphics FIFO,
// at the FIFO write pointer.
func (m *Memory) flushBurst() {
	pi := &m.sys.PI
	if dst, ok := m.ram(pi.fifoWritePtr&physMask, gatherPipeBurst); ok {
		copy(dst, m.gather[:gatherPipeBurst])
	} else {
		log.ModMem.WarnZ("gather pipe burst to invalid FIFO address").
			Hex32("wptr", pi.fifoWritePtr).
			End()
	}

	pi.fifoWritePtr += gatherPipeBurst
	if pi.fifoWritePtr >= pi.fifoEnd {
		pi.fifoWritePtr = pi.fifoBase
	}
	m.FIFOBytes += gatherPipeBurst

	m.gatherCount = copy(m.gather[:], m.gather[gatherPipeBurst:m.gatherCount])
}

func (m *Memory) doState(a *snapshot.Archive) {
	a.Marker("Memory")
	a.Bytes(m.RAM)
	a.Bytes(m.gather[:])

	count := int64(m.gatherCount)
	a.Int64(&count)
	if a.IsReading() && a.Err() == nil {
		if count < 0 || count >= gatherPipeBurst {
			a.Fail(fmt.Errorf("memory: invalid gather pipe count %d", count))
			return
		}
		m.gatherCount = int(count)
	}
	a.Uint64(&m.FIFOBytes)
}

// Read8 reads a byte at addr, from RAM or a MMIO register.
func (s *System) Read8(addr uint32) uint8 {
	phys := addr & physMask
	if mmio.IsMMIOAddress(phys, s.cfg.Wii) {
		return s.MMIO.Read8(s, phys)
	}
	if b, ok := s.Memory.ram(phys, 1); ok {
		return b[0]
	}
	s.Memory.invalid("read", 8, addr)
	return 0
}

func (s *System) Read16(addr uint32) uint16 {
	phys := addr & physMask
	if mmio.IsMMIOAddress(phys, s.cfg.Wii) {
		return s.MMIO.Read16(s, phys)
	}
	if b, ok := s.Memory.ram(phys, 2); ok {
		return binary.BigEndian.Uint16(b)
	}
	s.Memory.invalid("read", 16, addr)
	return 0
}

func (s *System) Read32(addr uint32) uint32 {
	phys := addr & physMask
	if mmio.IsMMIOAddress(phys, s.cfg.Wii) {
		return s.MMIO.Read32(s, phys)
	}
	if b, ok := s.Memory.ram(phys, 4); ok {
		return binary.BigEndian.Uint32(b)
	}
	s.Memory.invalid("read", 32, addr)
	return 0
}

// Write8 writes a byte at addr, to RAM, a MMIO register or the gather pipe.
func (s *System) Write8(addr uint32, val uint8) {
	phys := addr & physMask
	switch {
	case phys == gatherPipeAddr:
		s.Memory.gatherPipeWrite([]byte{val})
	case mmio.IsMMIOAddress(phys, s.cfg.Wii):
		s.MMIO.Write8(s, phys, val)
	default:
		if b, ok := s.Memory.ram(phys, 1); ok {
			b[0] = val
			return
		}
		s.Memory.invalid("write", 8, addr)
	}
}

func (s *System) Write16(addr uint32, val uint16) {
	phys := addr & physMask
	switch {
	case phys == gatherPipeAddr:
		s.Memory.gatherPipeWrite(binary.BigEndian.AppendUint16(nil, val))
	case mmio.IsMMIOAddress(phys, s.cfg.Wii):
		s.MMIO.Write16(s, phys, val)
	default:
		if b, ok := s.Memory.ram(phys, 2); ok {
			binary.BigEndian.PutUint16(b, val)
			return
		}
		s.Memory.invalid("write", 16, addr)
	}
}

func (s *System) Write32(addr uint32, val uint32) {
	phys := addr & physMask
	switch {
	case phys == gatherPipeAddr:
		s.Memory.gatherPipeWrite(binary.BigEndian.AppendUint32(nil, val))
	case mmio.IsMMIOAddress(phys, s.cfg.Wii):
		s.MMIO.Write32(s, phys, val)
	default:
		if b, ok := s.Memory.ram(phys, 4); ok {
			binary.BigEndian.PutUint32(b, val)
			return
		}
		s.Memory.invalid("write", 32, addr)
	}
}
