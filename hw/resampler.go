package hw

import (
	"sync"

	"github.com/arl/blip"

	"cubecore/emu/log"
)

const (
	resamplerBufSize = 16384 // output samples per channel
	maxPushFrames    = 2048  // input frames per blip frame
	resamplerMargin  = 8192  // free space required before ending a frame
)

// StereoFrame is a pair of left and right samples.
type StereoFrame [2]int16

// Resampler converts the audio stream from the emulated sample rate to the
// host one. Frames are pushed from the CPU goroutine, and read from the host
// audio goroutine.
type Resampler struct {
	mu sync.Mutex

	left  *blip.Buffer
	right *blip.Buffer

	prevLeft  int32
	prevRight int32

	inRate  int
	outRate int

	overruns int
}

func NewResampler(inRate, outRate int) *Resampler {
	r := &Resampler{
		left:    blip.NewBuffer(resamplerBufSize),
		right:   blip.NewBuffer(resamplerBufSize),
		inRate:  inRate,
		outRate: outRate,
	}
	r.setRates()
	return r
}

func (r *Resampler) setRates() {
	r.left.SetRates(float64(r.inRate), float64(r.outRate))
	r.right.SetRates(float64(r.inRate), float64(r.outRate))
}

// SetInputRate changes the emulated sample rate.
func (r *Resampler) SetInputRate(rate int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rate == r.inRate {
		return
	}
	r.inRate = rate
	r.setRates()
}

// Push appends frames at the emulated sample rate.
func (r *Resampler) Push(frames []StereoFrame) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for len(frames) > 0 {
		n := min(len(frames), maxPushFrames)
		r.pushFrame(frames[:n])
		frames = frames[n:]
	}
}

func (r *Resampler) pushFrame(frames []StereoFrame) {
	if r.left.SamplesAvailable() > resamplerBufSize-resamplerMargin {
		// Nobody reads, drop everything.
		r.overruns++
		log.ModAI.DebugZ("resampler overrun").
			Int("count", r.overruns).
			End()
		r.left.Clear()
		r.right.Clear()
		r.prevLeft, r.prevRight = 0, 0
	}

	for i, f := range frames {
		if d := int32(f[0]) - r.prevLeft; d != 0 {
			r.left.AddDelta(uint64(i), d)
			r.prevLeft = int32(f[0])
		}
		if d := int32(f[1]) - r.prevRight; d != 0 {
			r.right.AddDelta(uint64(i), d)
			r.prevRight = int32(f[1])
		}
	}
	r.left.EndFrame(len(frames))
	r.right.EndFrame(len(frames))
}

// Available returns the number of stereo samples ready to be read.
func (r *Resampler) Available() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.left.SamplesAvailable()
}

// Read reads at most len(out)/2 interleaved stereo samples into out, at the
// host sample rate. It returns the number of stereo samples read.
func (r *Resampler) Read(out []int16) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.left.ReadSamples(out, len(out)/2, blip.Stereo)
	if n > 0 {
		r.right.ReadSamples(out[1:], n, blip.Stereo)
	}
	return n
}

// Overruns returns how many times pushed audio was dropped because it
// wasn't read fast enough.
func (r *Resampler) Overruns() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.overruns
}
