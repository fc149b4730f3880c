// SPDX-License-Identifier: MIT
package audio

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"spectro/internal/producer"
	"spectro/internal/testsignal"
)

const testSampleRate = 16000

func monoConfig(sampleRate int) producer.AudioConfig {
	return producer.AudioConfig{SampleRate: sampleRate, Channels: 1, BufferSizeBytes: 2 * 256}
}

// loopDevice replays a signal in buffer-sized reads.
type loopDevice struct {
	signal  []int16
	pos     int
	opened  bool
	closed  bool
	openErr error
}

func (d *loopDevice) MinBufferSize(producer.AudioConfig) int { return 0 }

func (d *loopDevice) Open(producer.AudioConfig) error {
	if d.openErr != nil {
		return d.openErr
	}
	d.opened = true
	return nil
}

func (d *loopDevice) Read(buf []int16) (int, error) {
	for i := range buf {
		buf[i] = d.signal[d.pos%len(d.signal)]
		d.pos++
	}
	return len(buf), nil
}

func (d *loopDevice) Close() error {
	d.closed = true
	return nil
}

func TestRecorderWritesWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.wav")
	dev := &loopDevice{signal: testsignal.Sine(256, testSampleRate, 440, 0.5)}
	rec := NewRecorder(dev, path)
	cfg := monoConfig(testSampleRate)

	if err := rec.Open(cfg); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !rec.IsRecording() {
		t.Fatal("recorder should be recording after Open")
	}

	buf := make([]int16, cfg.FramesPerBuffer())
	for range 4 {
		if _, err := rec.Read(buf); err != nil {
			t.Fatal(err)
		}
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if rec.IsRecording() || !dev.closed {
		t.Fatal("Close should stop recording and close the device")
	}

	s, err := OpenFile(path)
	if err != nil {
		t.Fatalf("reopening recording: %v", err)
	}
	defer s.Close()
	if s.SampleRate() != testSampleRate || s.Channels() != 1 {
		t.Errorf("format = %d Hz %d ch", s.SampleRate(), s.Channels())
	}
	if s.Len() != 4*256 {
		t.Errorf("recorded %d samples, want %d", s.Len(), 4*256)
	}
}

func TestRecordingErrorCases(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		desc          string
		path          string
		twice         bool
		expectError   bool
		errorContains string
	}{
		{"Already recording", filepath.Join(dir, "twice.wav"), true, true, "already recording"},
		{"Invalid path", "/nonexistent/path/file.wav", false, true, ""},
		{"Valid path", filepath.Join(dir, "ok.wav"), false, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			rec := NewRecorder(&loopDevice{signal: []int16{0}}, tt.path)
			err := rec.StartRecording(monoConfig(testSampleRate))
			if err == nil && tt.twice {
				err = rec.StartRecording(monoConfig(testSampleRate))
			}
			defer rec.StopRecording()

			if tt.expectError && err == nil {
				t.Errorf("Expected error but got none")
			}
			if !tt.expectError && err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
			if tt.errorContains != "" && err != nil && !strings.Contains(err.Error(), tt.errorContains) {
				t.Errorf("Error %q does not contain %q", err.Error(), tt.errorContains)
			}
		})
	}
}

func TestStopWhenNotRecording(t *testing.T) {
	rec := NewRecorder(&loopDevice{signal: []int16{0}}, filepath.Join(t.TempDir(), "x.wav"))
	if err := rec.StopRecording(); err != nil {
		t.Errorf("StopRecording when idle: %v", err)
	}
}

func TestRecorderOpenFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "never.wav")
	rec := NewRecorder(&loopDevice{openErr: errors.New("busy")}, path)
	if err := rec.Open(monoConfig(testSampleRate)); err == nil {
		t.Fatal("expected open error")
	}
	if rec.IsRecording() {
		t.Error("recorder should not record when the device failed to open")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("no file should be created when the device failed to open")
	}
}

func BenchmarkRecorderRead(b *testing.B) {
	path := filepath.Join(b.TempDir(), "bench.wav")
	rec := NewRecorder(&loopDevice{signal: testsignal.Sine(256, testSampleRate, 440, 0.5)}, path)
	if err := rec.Open(monoConfig(testSampleRate)); err != nil {
		b.Fatal(err)
	}
	defer rec.Close()

	buf := make([]int16, 256)
	b.ReportAllocs()
	for b.Loop() {
		_, _ = rec.Read(buf)
	}
}
