// SPDX-License-Identifier: MIT
package producer

import (
	"context"
	"errors"
	"fmt"
	"io"

	"spectro/internal/apperr"
	"spectro/internal/frame"
	"spectro/internal/spectral"
)

// DefaultChunkSize is the number of samples per channel analyzed per frame
// in file mode.
const DefaultChunkSize = 2048

// Stream is a decoded, file-backed PCM source.
type Stream interface {
	Reader
	// SampleRate and Channels describe the interleaved samples Read returns.
	SampleRate() int
	Channels() int
	// Len returns the stream length in samples per channel, or 0 if unknown.
	Len() int64
	Close() error
}

// Run analyzes s chunk by chunk until the end of the stream and returns
// the number of frames emitted. Frames are timestamped at their chunk
// offset in milliseconds. The final short chunk is zero-padded to the full
// chunk size. onProgress, when set, receives non-decreasing fractions
// ending with exactly 1.0 on success. Run checks ctx between chunks and
// returns a Cancelled error once it is done.
func (p *Producer) Run(ctx context.Context, s Stream, chunkSize int, onFrame func(frame.Frame), onProgress func(float64)) (int, error) {
	cfg := AudioConfig{SampleRate: s.SampleRate(), Channels: s.Channels(), SampleFormat: FormatS16LE}
	if err := cfg.Validate(); err != nil {
		return 0, err
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if chunkSize < spectral.MinChunkSamples {
		return 0, apperr.New(apperr.InvalidAudioConfig, "analyze stream",
			fmt.Errorf("chunk size %d is too small", chunkSize))
	}

	buf := make([]int16, chunkSize*cfg.Channels)
	mono := make([]int16, chunkSize)
	pcm := make([]byte, chunkSize*bytesPerSample)
	total := s.Len()

	var (
		offset   int64 // samples per channel consumed
		emitted  int
		reported float64
	)
	report := func(fraction float64) {
		if onProgress == nil || fraction <= reported {
			return
		}
		reported = min(fraction, 1)
		onProgress(reported)
	}

	for {
		if err := ctx.Err(); err != nil {
			return emitted, apperr.New(apperr.Cancelled, "analyze stream", err)
		}

		n, readErr := readFull(s, buf)
		frames := n / cfg.Channels
		if frames > 0 {
			clear(buf[frames*cfg.Channels:])
			samples := Downmix(mono, buf, cfg.Channels)
			f, err := p.engine.Analyze(encodePCM(pcm, samples), cfg.SampleRate)
			if err != nil {
				return emitted, wrapEngineError(err)
			}
			f.Timestamp = offset * 1000 / int64(cfg.SampleRate)
			onFrame(f)
			emitted++
			offset += int64(frames)
			if total > 0 {
				// Hold back the final 1.0 until the stream has really ended.
				report(min(float64(offset)/float64(total), 0.999))
			}
		}

		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			if apperr.KindOf(readErr) == apperr.Unknown {
				readErr = apperr.New(apperr.InputUnsupportedFormat, "decode stream", readErr)
			}
			return emitted, readErr
		}
	}

	report(1)
	return emitted, nil
}

// readFull fills buf unless the stream ends first. A zero-length read is
// treated as the end of the stream.
func readFull(r Reader, buf []int16) (int, error) {
	filled := 0
	for filled < len(buf) {
		n, err := r.Read(buf[filled:])
		if n < 0 {
			return filled, fmt.Errorf("read returned %d", n)
		}
		filled += n
		if err != nil {
			return filled, err
		}
		if n == 0 {
			return filled, io.EOF
		}
	}
	return filled, nil
}
