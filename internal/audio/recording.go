// SPDX-License-Identifier: MIT
package audio

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"spectro/internal/apperr"
	"spectro/internal/producer"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Recorder wraps a capture device and writes every buffer it reads to a
// 16-bit PCM WAV file. Recording starts when the device is opened and ends
// when it is closed.
type Recorder struct {
	producer.Device
	path string

	isRecording atomic.Bool
	mu          sync.Mutex
	outputFile  *os.File
	wavEncoder  *wav.Encoder
	sampleBuf   *goaudio.IntBuffer // Reusable buffer for format conversion
}

// Compile-time check for interface implementation.
var _ producer.Device = (*Recorder)(nil)

// NewRecorder returns a Recorder teeing dev into the WAV file at path.
func NewRecorder(dev producer.Device, path string) *Recorder {
	return &Recorder{Device: dev, path: path}
}

// Open opens the wrapped device, then starts recording.
func (r *Recorder) Open(cfg producer.AudioConfig) error {
	if err := r.Device.Open(cfg); err != nil {
		return err
	}
	if err := r.StartRecording(cfg); err != nil {
		r.Device.Close()
		return err
	}
	return nil
}

// Read reads from the wrapped device and appends the samples to the file.
// A write failure stops recording but not capture.
func (r *Recorder) Read(buf []int16) (int, error) {
	n, err := r.Device.Read(buf)
	if n > 0 && r.isRecording.Load() {
		if werr := r.write(buf[:min(n, len(buf))]); werr != nil {
			logger.Errorf("writing recording, stopping: %v", werr)
			if serr := r.StopRecording(); serr != nil {
				logger.Warnf("closing recording: %v", serr)
			}
		}
	}
	return n, err
}

// Close stops recording and closes the wrapped device.
func (r *Recorder) Close() error {
	return errors.Join(r.StopRecording(), r.Device.Close())
}

// IsRecording reports whether samples are being written.
func (r *Recorder) IsRecording() bool { return r.isRecording.Load() }

// StartRecording creates the output file for the given session format.
func (r *Recorder) StartRecording(cfg producer.AudioConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.isRecording.Load() {
		return fmt.Errorf("already recording to %s", r.path)
	}

	file, err := os.Create(r.path)
	if err != nil {
		return apperr.ClassifyWrite("create recording", r.path, err)
	}
	r.outputFile = file
	r.wavEncoder = wav.NewEncoder(file, cfg.SampleRate, 16, cfg.Channels, 1)
	r.sampleBuf = &goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: cfg.Channels,
			SampleRate:  cfg.SampleRate,
		},
		Data:           make([]int, cfg.FramesPerBuffer()*cfg.Channels),
		SourceBitDepth: 16,
	}

	r.isRecording.Store(true)
	logger.Infof("recording to %s", r.path)
	return nil
}

// StopRecording finalizes the WAV header and closes the file. It is a
// no-op when not recording.
func (r *Recorder) StopRecording() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.isRecording.Swap(false) {
		return nil
	}

	var errs []error
	if r.wavEncoder != nil {
		errs = append(errs, r.wavEncoder.Close())
		r.wavEncoder = nil
	}
	if r.outputFile != nil {
		errs = append(errs, r.outputFile.Close())
		r.outputFile = nil
	}
	return errors.Join(errs...)
}

func (r *Recorder) write(samples []int16) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.wavEncoder == nil {
		return nil
	}

	if cap(r.sampleBuf.Data) < len(samples) {
		r.sampleBuf.Data = make([]int, len(samples))
	}
	r.sampleBuf.Data = r.sampleBuf.Data[:len(samples)]
	for i, s := range samples {
		r.sampleBuf.Data[i] = int(s)
	}
	return r.wavEncoder.Write(r.sampleBuf)
}
