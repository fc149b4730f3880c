// SPDX-License-Identifier: MIT

/*
Package audio provides the PCM sources the producer reads from:

  - DeviceSource: live capture from a PortAudio input using a blocking stream
  - file streams: WAV through go-audio, MP3 and FLAC through beep
  - Recorder: a capture tee that writes everything read to a WAV file

All sources deliver interleaved signed 16-bit samples.
*/
package audio

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"spectro/internal/log"
	"spectro/internal/producer"

	"github.com/gordonklaus/portaudio"
)

var logger = log.New("Audio")

// DeviceSource captures from a PortAudio input device.
type DeviceSource struct {
	deviceID   int
	lowLatency bool

	mu     sync.Mutex
	stream *portaudio.Stream
	buf    []int16 // bound to the stream by OpenStream
}

// Compile-time check for interface implementation.
var _ producer.Device = (*DeviceSource)(nil)

// NewDeviceSource returns a source for deviceID; DefaultDeviceID selects
// the system default input.
func NewDeviceSource(deviceID int, lowLatency bool) *DeviceSource {
	return &DeviceSource{deviceID: deviceID, lowLatency: lowLatency}
}

// MinBufferSize derives the platform minimum from the device's default
// input latency. It returns 0 when the device cannot be queried.
func (d *DeviceSource) MinBufferSize(cfg producer.AudioConfig) int {
	info, err := InputDevice(d.deviceID)
	if err != nil {
		return 0
	}
	return int(d.latency(info).Seconds() * float64(cfg.SampleRate))
}

func (d *DeviceSource) latency(info *portaudio.DeviceInfo) time.Duration {
	if d.lowLatency {
		return info.DefaultLowInputLatency
	}
	return info.DefaultHighInputLatency
}

// Open opens and starts a blocking input stream sized to one capture buffer.
func (d *DeviceSource) Open(cfg producer.AudioConfig) error {
	info, err := InputDevice(d.deviceID)
	if err != nil {
		return err
	}
	if cfg.Channels > info.MaxInputChannels {
		return fmt.Errorf("device %s supports %d input channels, %d requested",
			info.Name, info.MaxInputChannels, cfg.Channels)
	}

	frames := cfg.FramesPerBuffer()
	buf := make([]int16, frames*cfg.Channels)
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   info,
			Channels: cfg.Channels,
			Latency:  d.latency(info),
		},
		Output: portaudio.StreamDeviceParameters{
			Channels: 0, // No output device
			Device:   nil,
		},
		FramesPerBuffer: frames,
		SampleRate:      float64(cfg.SampleRate),
	}

	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return fmt.Errorf("open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("start input stream: %w", err)
	}

	d.mu.Lock()
	d.stream, d.buf = stream, buf
	d.mu.Unlock()

	logger.Debugf("opened %s: %d ch @ %d Hz, %d frames per buffer", info.Name, cfg.Channels, cfg.SampleRate, frames)
	return nil
}

// Read blocks until one stream buffer is available and copies it into buf.
// Input overflows are logged and tolerated.
func (d *DeviceSource) Read(buf []int16) (int, error) {
	d.mu.Lock()
	stream, src := d.stream, d.buf
	d.mu.Unlock()
	if stream == nil {
		return -1, errors.New("input stream is not open")
	}

	if err := stream.Read(); err != nil {
		if !errors.Is(err, portaudio.InputOverflowed) {
			return -1, err
		}
		logger.Debugf("input overflowed")
	}
	return copy(buf, src), nil
}

// Close stops and closes the stream. It is safe to call more than once.
func (d *DeviceSource) Close() error {
	d.mu.Lock()
	stream := d.stream
	d.stream, d.buf = nil, nil
	d.mu.Unlock()

	if stream == nil {
		return nil
	}
	if err := stream.Stop(); err != nil {
		stream.Close()
		return err
	}
	return stream.Close()
}
