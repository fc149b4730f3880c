// SPDX-License-Identifier: MIT
package audio

import (
	"errors"
	"io"
	"math"
	"os"

	"spectro/internal/producer"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/flac"
	"github.com/gopxl/beep/v2/mp3"
)

// beepStream adapts a beep streamer to mono 16-bit samples. beep always
// yields stereo pairs; they are averaged.
type beepStream struct {
	streamer beep.StreamSeekCloser
	format   beep.Format
	file     *os.File
	scratch  [][2]float64
}

// Compile-time check for interface implementation.
var _ producer.Stream = (*beepStream)(nil)

func newMP3Stream(f *os.File) (*beepStream, error) {
	s, format, err := mp3.Decode(f)
	if err != nil {
		return nil, err
	}
	return &beepStream{streamer: s, format: format, file: f}, nil
}

func newFLACStream(f *os.File) (*beepStream, error) {
	s, format, err := flac.Decode(f)
	if err != nil {
		return nil, err
	}
	return &beepStream{streamer: s, format: format, file: f}, nil
}

func (b *beepStream) SampleRate() int { return int(b.format.SampleRate) }
func (b *beepStream) Channels() int   { return 1 }
func (b *beepStream) Len() int64      { return int64(b.streamer.Len()) }

// Close closes the decoder and the file. Decoders that already closed the
// file are fine.
func (b *beepStream) Close() error {
	err := b.streamer.Close()
	if cerr := b.file.Close(); err == nil && !errors.Is(cerr, os.ErrClosed) {
		err = cerr
	}
	return err
}

func (b *beepStream) Read(buf []int16) (int, error) {
	if cap(b.scratch) < len(buf) {
		b.scratch = make([][2]float64, len(buf))
	}
	samples := b.scratch[:len(buf)]

	n, ok := b.streamer.Stream(samples)
	for i := range n {
		buf[i] = floatTo16((samples[i][0] + samples[i][1]) / 2)
	}
	if !ok {
		if err := b.streamer.Err(); err != nil {
			return n, err
		}
		return n, io.EOF
	}
	return n, nil
}

func floatTo16(v float64) int16 {
	v = math.Max(-1, math.Min(1, v))
	return int16(math.Round(v * math.MaxInt16))
}
