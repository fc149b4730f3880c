// SPDX-License-Identifier: MIT

/*
Package producer drives a PCM source through the spectral engine and emits
spectrogram frames.

Live capture runs as a single background loop per Producer:

	Idle -> Initializing -> Running -> Stopping -> Idle

Initialization applies the buffer policy to the device's reported minimum
and opens the device. The loop checks the stop flag at the top of every
iteration, never mid-read, and pauses briefly between reads so it cannot
outrun the device. A failed read ends the session and is reported once
through the error handler; nothing is retried.

File analysis (Run) is synchronous and does not touch the live session, so
one Producer can analyze many files concurrently.
*/
package producer

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"spectro/internal/apperr"
	"spectro/internal/frame"
	"spectro/internal/log"
	"spectro/internal/spectral"
)

// DefaultReadPause is the pause between live capture reads.
const DefaultReadPause = 10 * time.Millisecond

var logger = log.New("Producer")

// State is the live capture lifecycle state.
type State int32

const (
	Idle State = iota
	Initializing
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Initializing:
		return "initializing"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Reader reads interleaved 16-bit samples. It returns the number of
// samples written to buf; io.EOF marks the end of the stream.
type Reader interface {
	Read(buf []int16) (int, error)
}

// Device is a live capture source.
type Device interface {
	Reader
	// MinBufferSize reports the platform minimum buffer, in samples per
	// channel, for the requested configuration. Zero or less means unknown.
	MinBufferSize(cfg AudioConfig) int
	Open(cfg AudioConfig) error
	Close() error
}

// Producer turns PCM into frames. The zero value is not usable; call New.
type Producer struct {
	engine    spectral.Analyzer
	policy    BufferPolicy
	readPause time.Duration
	now       func() time.Time
	onError   func(error)
	gate      atomic.Int32

	mu       sync.Mutex // serializes Start and Stop; never held while waiting for a loop
	state    atomic.Int32
	current  *session     // nil once a stop is requested
	last     *session     // most recent session, possibly still draining
	config   AudioConfig
}

// session is one live capture loop.
type session struct {
	stop atomic.Bool
	loop atomic.Uint64 // goroutine running the loop and onFrame
	done chan struct{}
}

// inLoop reports whether the caller is the session's own goroutine.
func (s *session) inLoop() bool {
	id := s.loop.Load()
	return id != 0 && id == goroutineID()
}

func (s *session) finished() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Option configures a Producer.
type Option func(*Producer)

// WithBufferPolicy replaces the default buffer policy.
func WithBufferPolicy(p BufferPolicy) Option {
	return func(pr *Producer) { pr.policy = p }
}

// WithReadPause sets the pause between live reads.
func WithReadPause(d time.Duration) Option {
	return func(pr *Producer) { pr.readPause = d }
}

// WithErrorHandler registers the callback that receives the single error
// ending a live session.
func WithErrorHandler(fn func(error)) Option {
	return func(pr *Producer) { pr.onError = fn }
}

// WithClock overrides the wall clock used for live timestamps.
func WithClock(now func() time.Time) Option {
	return func(pr *Producer) { pr.now = now }
}

// WithGateThreshold enables the noise gate; see SetGateThreshold.
func WithGateThreshold(threshold float64) Option {
	return func(pr *Producer) { pr.SetGateThreshold(threshold) }
}

// New returns an idle Producer using engine for analysis.
func New(engine spectral.Analyzer, opts ...Option) *Producer {
	p := &Producer{
		engine:    engine,
		policy:    DefaultBufferPolicy(),
		readPause: DefaultReadPause,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SetGateThreshold sets the live noise gate in the range 0.0-1.0 of full
// scale. Buffers whose peak does not exceed it produce no frame. Zero
// disables the gate.
func (p *Producer) SetGateThreshold(threshold float64) {
	p.gate.Store(gateLevel(threshold))
}

// GateThreshold returns the current gate threshold as a fraction of full scale.
func (p *Producer) GateThreshold() float64 {
	return float64(p.gate.Load()) / float64(1<<15-1)
}

// State returns the current live capture state.
func (p *Producer) State() State { return State(p.state.Load()) }

// IsRunning reports whether a live session is capturing.
func (p *Producer) IsRunning() bool { return p.State() == Running }

// Config returns the configuration of the current or last live session.
func (p *Producer) Config() AudioConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.config
}

// Start opens dev and begins capturing on a background goroutine. Each
// analyzed buffer is passed to onFrame, timestamped with the wall clock at
// emission. A running session is stopped first. A zero BufferSizeBytes in
// want is derived from the buffer policy.
func (p *Producer) Start(dev Device, want AudioConfig, onFrame func(frame.Frame)) error {
	if onFrame == nil {
		return errors.New("producer: onFrame callback is required")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		p.requestStopLocked()
		prev := p.last
		if prev == nil || prev.finished() || prev.inLoop() {
			break
		}
		p.mu.Unlock()
		<-prev.done
		p.mu.Lock()
	}

	p.state.Store(int32(Initializing))
	cfg, err := p.initialize(dev, want)
	if err != nil {
		p.state.Store(int32(Idle))
		return err
	}

	p.config = cfg
	s := &session{done: make(chan struct{})}
	p.current, p.last = s, s
	p.state.Store(int32(Running))

	logger.Infof("capture started: %d Hz, %d ch, %d samples per read",
		cfg.SampleRate, cfg.Channels, cfg.FramesPerBuffer())

	go p.captureLoop(dev, cfg, onFrame, s)
	return nil
}

// Stop ends the live session and waits for the loop to release the device.
// It is a no-op when idle. Called from inside onFrame it only requests the
// stop; the loop releases the device as soon as the callback returns.
func (p *Producer) Stop() {
	p.mu.Lock()
	p.requestStopLocked()
	s := p.last
	p.mu.Unlock()
	p.await(s)
}

// requestStopLocked flags the current loop to exit.
func (p *Producer) requestStopLocked() {
	if p.current == nil {
		return
	}
	p.state.CompareAndSwap(int32(Running), int32(Stopping))
	p.current.stop.Store(true)
	p.current = nil
}

// await waits for s to finish unless called from inside onFrame, where the
// wait would never end.
func (p *Producer) await(s *session) {
	if s == nil || s.inLoop() {
		return
	}
	<-s.done
}

func (p *Producer) initialize(dev Device, want AudioConfig) (AudioConfig, error) {
	if err := want.Validate(); err != nil {
		return AudioConfig{}, err
	}
	if err := p.policy.Validate(); err != nil {
		return AudioConfig{}, err
	}

	cfg := want
	cfg.SampleFormat = FormatS16LE
	if cfg.BufferSizeBytes == 0 {
		frames := p.policy.Effective(dev.MinBufferSize(cfg))
		cfg.BufferSizeBytes = frames * cfg.Channels * bytesPerSample
	}
	if cfg.FramesPerBuffer() < spectral.MinChunkSamples {
		return AudioConfig{}, apperr.New(apperr.InvalidAudioConfig, "initialize capture",
			fmt.Errorf("buffer of %d bytes is too small", cfg.BufferSizeBytes))
	}

	if err := dev.Open(cfg); err != nil {
		return AudioConfig{}, apperr.New(apperr.CaptureInitFailed, "open capture device", err)
	}
	return cfg, nil
}

func (p *Producer) captureLoop(dev Device, cfg AudioConfig, onFrame func(frame.Frame), s *session) {
	s.loop.Store(goroutineID())
	var failure error
	defer func() {
		if err := dev.Close(); err != nil {
			logger.Warnf("closing capture device: %v", err)
		}
		p.mu.Lock()
		if p.current == s {
			p.current = nil
		}
		// A newer session owns the state once Start has replaced current.
		if p.current == nil {
			p.state.Store(int32(Idle))
		}
		p.mu.Unlock()
		close(s.done)
		if failure != nil {
			logger.Errorf("capture stopped: %v", failure)
			if p.onError != nil {
				p.onError(failure)
			}
		} else {
			logger.Infof("capture stopped")
		}
	}()

	frames := cfg.FramesPerBuffer()
	buf := make([]int16, frames*cfg.Channels)
	mono := make([]int16, frames)
	pcm := make([]byte, frames*bytesPerSample)

	for {
		if s.stop.Load() {
			return
		}

		n, err := dev.Read(buf)
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil || n < 0 {
			if err == nil {
				err = fmt.Errorf("read returned %d", n)
			}
			failure = apperr.New(apperr.CaptureReadFailed, "read capture device", err)
			return
		}

		samples := Downmix(mono, buf[:min(n, len(buf))], cfg.Channels)
		if len(samples) >= spectral.MinChunkSamples && gateOpen(samples, p.gate.Load()) {
			f, err := p.engine.Analyze(encodePCM(pcm, samples), cfg.SampleRate)
			if err != nil {
				failure = wrapEngineError(err)
				return
			}
			f.Timestamp = p.now().UnixMilli()
			onFrame(f)
		}

		if p.readPause > 0 {
			time.Sleep(p.readPause)
		}
	}
}

func wrapEngineError(err error) error {
	if apperr.KindOf(err) != apperr.Unknown {
		return err
	}
	return apperr.New(apperr.EngineExecutionFailed, "analyze chunk", err)
}
