// SPDX-License-Identifier: MIT
package producer

import (
	"context"
	"errors"
	"io"
	"testing"

	"spectro/internal/apperr"
	"spectro/internal/frame"
	"spectro/internal/testsignal"
)

// sliceStream serves interleaved samples in reads of at most step samples.
type sliceStream struct {
	samples  []int16
	rate     int
	channels int
	step     int
	unknown  bool
	tailErr  error
	pos      int
	closed   bool
}

func (s *sliceStream) Read(buf []int16) (int, error) {
	if s.pos >= len(s.samples) {
		if s.tailErr != nil {
			return 0, s.tailErr
		}
		return 0, io.EOF
	}
	end := len(s.samples)
	if s.step > 0 {
		end = min(end, s.pos+s.step)
	}
	n := copy(buf, s.samples[s.pos:end])
	s.pos += n
	return n, nil
}

func (s *sliceStream) SampleRate() int { return s.rate }
func (s *sliceStream) Channels() int   { return s.channels }
func (s *sliceStream) Close() error    { s.closed = true; return nil }

func (s *sliceStream) Len() int64 {
	if s.unknown {
		return 0
	}
	return int64(len(s.samples) / s.channels)
}

type failingAnalyzer struct{}

func (failingAnalyzer) Analyze([]byte, int) (frame.Frame, error) {
	return frame.Frame{}, errors.New("corrupt chunk")
}

func TestRunChunksFile(t *testing.T) {
	const chunk = 512
	samples := testsignal.Sine(chunk*4+100, testSampleRate, 1000, 0.5)
	s := &sliceStream{samples: samples, rate: testSampleRate, channels: 1, step: 300}

	var (
		frames   []frame.Frame
		progress []float64
	)
	n, err := newTestProducer().Run(context.Background(), s, chunk,
		func(f frame.Frame) { frames = append(frames, f) },
		func(v float64) { progress = append(progress, v) })
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n != 5 || len(frames) != 5 {
		t.Fatalf("emitted %d frames (%d delivered), want 5", n, len(frames))
	}

	for i, f := range frames {
		if err := f.Validate(); err != nil {
			t.Fatalf("frame %d invalid: %v", i, err)
		}
		if f.FFTSize != chunk {
			t.Errorf("frame %d fft size %d, want %d", i, f.FFTSize, chunk)
		}
		want := int64(i*chunk) * 1000 / testSampleRate
		if f.Timestamp != want {
			t.Errorf("frame %d timestamp %d, want %d", i, f.Timestamp, want)
		}
	}

	if len(progress) == 0 || progress[len(progress)-1] != 1.0 {
		t.Fatalf("progress must end at 1.0, got %v", progress)
	}
	for i := 1; i < len(progress); i++ {
		if progress[i] < progress[i-1] {
			t.Fatalf("progress decreased: %v", progress)
		}
	}
}

func TestRunDownmixesStereo(t *testing.T) {
	mono := testsignal.Sine(1024, testSampleRate, 1000, 0.5)
	s := &sliceStream{samples: testsignal.Interleave(mono, 2), rate: testSampleRate, channels: 2, unknown: true}

	var got []frame.Frame
	var progress []float64
	_, err := newTestProducer().Run(context.Background(), s, 1024,
		func(f frame.Frame) { got = append(got, f) },
		func(v float64) { progress = append(progress, v) })
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d frames, want 1", len(got))
	}
	peak := testsignal.PeakBin(got[0].Magnitudes, 1, got[0].Bins())
	if hz := got[0].Frequencies[peak]; hz < 980 || hz > 1020 {
		t.Errorf("peak at %v Hz, want ~1000", hz)
	}
	// Unknown length: only the final completion is reported.
	if len(progress) != 1 || progress[0] != 1 {
		t.Errorf("progress = %v, want [1]", progress)
	}
}

func TestRunEmptyStream(t *testing.T) {
	s := &sliceStream{rate: testSampleRate, channels: 1}
	n, err := newTestProducer().Run(context.Background(), s, 0, func(frame.Frame) {}, nil)
	if err != nil || n != 0 {
		t.Errorf("Run(empty) = %d, %v; want 0, nil", n, err)
	}
}

func TestRunErrors(t *testing.T) {
	samples := testsignal.Sine(4096, testSampleRate, 440, 0.5)
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name   string
		ctx    context.Context
		p      *Producer
		stream *sliceStream
		want   apperr.Kind
	}{
		{"cancelled", cancelled, newTestProducer(), &sliceStream{samples: samples, rate: testSampleRate, channels: 1}, apperr.Cancelled},
		{"engine failure", context.Background(), New(failingAnalyzer{}), &sliceStream{samples: samples, rate: testSampleRate, channels: 1}, apperr.EngineExecutionFailed},
		{"decode failure", context.Background(), newTestProducer(), &sliceStream{samples: samples, rate: testSampleRate, channels: 1, tailErr: errors.New("bad block")}, apperr.InputUnsupportedFormat},
		{"bad format", context.Background(), newTestProducer(), &sliceStream{samples: samples, channels: 1}, apperr.InvalidAudioConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.p.Run(tt.ctx, tt.stream, 1024, func(frame.Frame) {}, nil)
			if got := apperr.KindOf(err); got != tt.want {
				t.Errorf("kind = %v, want %v (err %v)", got, tt.want, err)
			}
		})
	}
}

func TestRunCancelBetweenChunks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := &sliceStream{samples: testsignal.Sine(8192, testSampleRate, 440, 0.5), rate: testSampleRate, channels: 1}

	frames := 0
	_, err := newTestProducer().Run(ctx, s, 1024, func(frame.Frame) {
		frames++
		if frames == 2 {
			cancel()
		}
	}, nil)
	if apperr.KindOf(err) != apperr.Cancelled {
		t.Fatalf("kind = %v, want Cancelled", apperr.KindOf(err))
	}
	if frames != 2 {
		t.Errorf("emitted %d frames after cancel, want 2", frames)
	}
}
