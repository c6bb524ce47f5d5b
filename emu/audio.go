package emu

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// An AudioSink receives the host audio stream, as interleaved stereo
// samples.
type AudioSink interface {
	WriteSamples(samples []int16) error
}

// PCMSink writes raw 16-bit little-endian stereo samples.
type PCMSink struct {
	w   io.Writer
	buf []byte
}

func NewPCMSink(w io.Writer) *PCMSink {
	return &PCMSink{w: w}
}

func (s *PCMSink) WriteSamples(samples []int16) error {
	s.buf = s.buf[:0]
	for _, v := range samples {
		s.buf = binary.LittleEndian.AppendUint16(s.buf, uint16(v))
	}
	_, err := s.w.Write(s.buf)
	return err
}

// WAVSink writes a 16-bit stereo WAV file.
type WAVSink struct {
	f   *os.File
	enc *wav.Encoder
	buf audio.IntBuffer
}

const wavFormatPCM = 1

// CreateWAV creates the WAV file at path. Close must be called to finalize
// the file.
func CreateWAV(path string, sampleRate int) (*WAVSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("wav: %w", err)
	}
	return &WAVSink{
		f:   f,
		enc: wav.NewEncoder(f, sampleRate, 16, 2, wavFormatPCM),
		buf: audio.IntBuffer{
			Format:         &audio.Format{NumChannels: 2, SampleRate: sampleRate},
			SourceBitDepth: 16,
		},
	}, nil
}

func (s *WAVSink) WriteSamples(samples []int16) error {
	s.buf.Data = s.buf.Data[:0]
	for _, v := range samples {
		s.buf.Data = append(s.buf.Data, int(v))
	}
	if err := s.enc.Write(&s.buf); err != nil {
		return fmt.Errorf("wav: %w", err)
	}
	return nil
}

// Close writes the WAV header and closes the file.
func (s *WAVSink) Close() error {
	if err := s.enc.Close(); err != nil {
		s.f.Close()
		return fmt.Errorf("wav: %w", err)
	}
	return s.f.Close()
}
