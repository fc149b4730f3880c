// SPDX-License-Identifier: MIT
package audio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"spectro/internal/apperr"
	"spectro/internal/producer"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// SupportedExtensions lists the file extensions OpenFile can decode.
var SupportedExtensions = []string{".wav", ".mp3", ".flac"}

// IsSupported reports whether path has a decodable extension.
func IsSupported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range SupportedExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// OpenFile opens an audio file and returns a stream of interleaved 16-bit
// samples. Errors carry InputNotFound, PermissionDenied,
// InputUnsupportedFormat or FilesystemError kinds.
func OpenFile(path string) (producer.Stream, error) {
	if !IsSupported(path) {
		return nil, apperr.WithPath(apperr.InputUnsupportedFormat, "open audio", path,
			fmt.Errorf("unsupported extension %q", filepath.Ext(path)))
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, apperr.Classify("open audio", path, err)
	}

	var s producer.Stream
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		s, err = newWAVStream(f)
	case ".mp3":
		s, err = newMP3Stream(f)
	case ".flac":
		s, err = newFLACStream(f)
	}
	if err != nil {
		f.Close()
		return nil, apperr.WithPath(apperr.InputUnsupportedFormat, "decode audio", path, err)
	}
	return s, nil
}

// wavStream decodes PCM WAV files of 8, 16, 24 or 32 bits.
type wavStream struct {
	file     *os.File
	dec      *wav.Decoder
	buf      *goaudio.IntBuffer
	bitDepth int
	frames   int64
}

// Compile-time check for interface implementation.
var _ producer.Stream = (*wavStream)(nil)

func newWAVStream(f *os.File) (*wavStream, error) {
	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, errors.New("not a valid WAV file")
	}
	if dec.WavAudioFormat != 1 {
		return nil, fmt.Errorf("WAV audio format %d is not PCM", dec.WavAudioFormat)
	}
	switch dec.BitDepth {
	case 8, 16, 24, 32:
	default:
		return nil, fmt.Errorf("unsupported bit depth %d", dec.BitDepth)
	}
	if err := dec.FwdToPCM(); err != nil {
		return nil, fmt.Errorf("locate PCM data: %w", err)
	}

	bytesPerFrame := int64(dec.BitDepth/8) * int64(dec.NumChans)
	return &wavStream{
		file:     f,
		dec:      dec,
		bitDepth: int(dec.BitDepth),
		frames:   dec.PCMLen() / bytesPerFrame,
		buf: &goaudio.IntBuffer{
			Format: &goaudio.Format{NumChannels: int(dec.NumChans), SampleRate: int(dec.SampleRate)},
		},
	}, nil
}

func (w *wavStream) SampleRate() int { return int(w.dec.SampleRate) }
func (w *wavStream) Channels() int   { return int(w.dec.NumChans) }
func (w *wavStream) Len() int64      { return w.frames }
func (w *wavStream) Close() error    { return w.file.Close() }

// Read decodes up to len(buf) samples, scaling them to 16 bits.
func (w *wavStream) Read(buf []int16) (int, error) {
	if cap(w.buf.Data) < len(buf) {
		w.buf.Data = make([]int, len(buf))
	}
	w.buf.Data = w.buf.Data[:len(buf)]

	n, err := w.dec.PCMBuffer(w.buf)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, io.EOF
	}
	for i, v := range w.buf.Data[:n] {
		buf[i] = scaleTo16(v, w.bitDepth)
	}
	return n, nil
}

// scaleTo16 maps a decoded sample of the given bit depth onto int16.
// 8-bit WAV samples are unsigned.
func scaleTo16(v, bitDepth int) int16 {
	switch bitDepth {
	case 8:
		return int16((v - 128) << 8)
	case 24:
		return int16(v >> 8)
	case 32:
		return int16(v >> 16)
	default:
		return int16(v)
	}
}
