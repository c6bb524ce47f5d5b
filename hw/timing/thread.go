package timing

import (
	"bytes"
	"fmt"
	"runtime"
	"strconv"
)

// FromThread tells the scheduler which goroutine a call originates from.
type FromThread uint8

const (
	// FromCPU is the goroutine running the emulated CPU, the only one allowed
	// to touch the event queue directly.
	FromCPU FromThread = iota
	// FromNonCPU is any other goroutine (video backend, audio, UI). Requests
	// are handed off to the CPU goroutine and take effect at its next Advance.
	FromNonCPU
)

func (f FromThread) String() string {
	if f == FromCPU {
		return "CPU"
	}
	return "non-CPU"
}

// debugChecks enables assertions checking scheduler calls are made from the
// goroutine they claim to come from. Retrieving goroutine ids is slow, only
// turn this on while chasing threading bugs.
const debugChecks = false

// tsQueueSize is the capacity of the channel carrying requests from non-CPU
// goroutines. Producers block when it's full, until the next Advance, or
// get ErrQueueFull from TryScheduleEvent.
const tsQueueSize = 256

type message struct {
	remove   bool
	typ      EventType
	time     int64
	userdata uint64
}

func (ct *CoreTiming[C]) assertThread(from FromThread, et EventType) {
	if !debugChecks {
		return
	}
	cpu := ct.cpuGoroutine.Load()
	if cpu == 0 {
		// No Advance yet, can't tell.
		return
	}
	if isCPU := goid() == cpu; isCPU != (from == FromCPU) {
		panic(fmt.Sprintf("a %q event was scheduled from the wrong goroutine (%s)", ct.EventName(et), from))
	}
}

// goid returns the current goroutine id, parsed from the stack header
// "goroutine N [running]:".
func goid() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := bytes.TrimPrefix(buf[:n], []byte("goroutine "))
	if i := bytes.IndexByte(b, ' '); i >= 0 {
		b = b[:i]
	}
	id, _ := strconv.ParseUint(string(b), 10, 64)
	return id
}

// moveEvents drains the hand-off channel into the event queue. Events coming
// from other goroutines get their insertion sequence number now, in the order
// they were sent.
func (ct *CoreTiming[C]) moveEvents() {
	for {
		select {
		case m := <-ct.tsQueue:
			if m.remove {
				ct.queue.removeType(m.typ)
				continue
			}
			ct.queue.push(event{time: m.time, seq: ct.seq, userdata: m.userdata, typ: m.typ})
			ct.seq++
		default:
			return
		}
	}
}
