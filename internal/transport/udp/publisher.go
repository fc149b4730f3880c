// SPDX-License-Identifier: MIT

/*
Package udp publishes the most recent live frame as a compact binary
datagram at a fixed rate.

Packet layout, big-endian:

	+-----------------+--------+-------+----------------------------+
	| Field           | Type   | Bytes | Description                |
	+-----------------+--------+-------+----------------------------+
	| Sequence        | uint32 | 4     | Increments per packet      |
	| Timestamp       | int64  | 8     | Frame timestamp, ms        |
	| Sample rate     | uint32 | 4     | Hz                         |
	| Count           | uint16 | 2     | Number of magnitudes (N)   |
	| Magnitudes      | f32[N] | N*4   | dB per bin                 |
	+-----------------+--------+-------+----------------------------+

A packet never exceeds MaxDatagramSize. Frames with more than
MaxMagnitudes bins are decimated: each magnitude is the peak of a group of
adjacent bins, so N still spans 0 Hz to Nyquist.

Frames arriving faster than the interval are coalesced; only the newest
is sent. A tick without a new frame sends nothing.
*/
package udp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"spectro/internal/frame"
	"spectro/internal/transport"
)

// HeaderSize is the fixed packet prefix before the magnitudes.
const HeaderSize = 4 + 8 + 4 + 2

// DefaultInterval sends at roughly 60Hz.
const DefaultInterval = 16 * time.Millisecond

// MaxDatagramSize is the largest UDP payload over IPv4.
const MaxDatagramSize = 65507

// MaxMagnitudes is the most magnitudes that fit in one datagram.
const MaxMagnitudes = (MaxDatagramSize - HeaderSize) / 4

// Packet is a decoded datagram.
type Packet struct {
	Sequence   uint32
	Timestamp  int64
	SampleRate uint32
	Magnitudes []float32
}

// AppendPacket appends the encoding of f to dst, decimating frames with
// more than MaxMagnitudes bins.
func AppendPacket(dst []byte, seq uint32, f frame.Frame) []byte {
	mags := f.Magnitudes
	group := (len(mags) + MaxMagnitudes - 1) / MaxMagnitudes
	count := len(mags)
	if group > 1 {
		count = (len(mags) + group - 1) / group
	}
	dst = binary.BigEndian.AppendUint32(dst, seq)
	dst = binary.BigEndian.AppendUint64(dst, uint64(f.Timestamp))
	dst = binary.BigEndian.AppendUint32(dst, uint32(f.SampleRate))
	dst = binary.BigEndian.AppendUint16(dst, uint16(count))
	if group <= 1 {
		for _, m := range mags {
			dst = binary.BigEndian.AppendUint32(dst, math.Float32bits(m))
		}
		return dst
	}
	for start := 0; start < len(mags); start += group {
		peak := float32(math.Inf(-1))
		for _, m := range mags[start:min(start+group, len(mags))] {
			peak = max(peak, m)
		}
		dst = binary.BigEndian.AppendUint32(dst, math.Float32bits(peak))
	}
	return dst
}

// DecodePacket parses a datagram produced by AppendPacket.
func DecodePacket(b []byte) (Packet, error) {
	if len(b) < HeaderSize {
		return Packet{}, fmt.Errorf("packet too short: %d bytes", len(b))
	}
	p := Packet{
		Sequence:   binary.BigEndian.Uint32(b[0:]),
		Timestamp:  int64(binary.BigEndian.Uint64(b[4:])),
		SampleRate: binary.BigEndian.Uint32(b[12:]),
	}
	n := int(binary.BigEndian.Uint16(b[16:]))
	body := b[HeaderSize:]
	if len(body) != n*4 {
		return Packet{}, fmt.Errorf("packet declares %d magnitudes but carries %d bytes", n, len(body))
	}
	p.Magnitudes = make([]float32, n)
	for i := range p.Magnitudes {
		p.Magnitudes[i] = math.Float32frombits(binary.BigEndian.Uint32(body[i*4:]))
	}
	return p, nil
}

// Publisher is a transport.Sink that sends the newest frame on each tick.
type Publisher struct {
	sender   *Sender
	interval time.Duration

	ticker   *time.Ticker   // Triggers packet sending.
	doneChan chan struct{}  // Signals the publisher goroutine to stop.
	stopOnce sync.Once      // Stop logic runs once per Start/Stop cycle.
	wg       sync.WaitGroup // Waits for the publisher goroutine.
	mu       sync.Mutex     // Protects ticker and doneChan.

	latestMu sync.Mutex
	latest   frame.Frame
	fresh    bool

	sequenceNum uint32
	packet      []byte
	sent        uint64
	failing     bool // the last send failed; only the first failure is a warning
}

// Compile-time check for interface implementation.
var _ transport.Sink = (*Publisher)(nil)

// NewPublisher returns a stopped publisher. An interval <= 0 means
// DefaultInterval.
func NewPublisher(interval time.Duration, sender *Sender) (*Publisher, error) {
	if sender == nil {
		return nil, errors.New("udp publisher: sender cannot be nil")
	}
	if interval <= 0 {
		logger.Warnf("invalid interval %s, defaulting to %s", interval, DefaultInterval)
		interval = DefaultInterval
	}
	return &Publisher{sender: sender, interval: interval}, nil
}

// Publish implements transport.Sink by replacing the pending frame.
func (p *Publisher) Publish(f frame.Frame) error {
	p.latestMu.Lock()
	p.latest, p.fresh = f, true
	p.latestMu.Unlock()
	return nil
}

// Start launches the send loop. Calling Start while running is a no-op.
func (p *Publisher) Start() {
	p.mu.Lock()
	if p.ticker != nil {
		p.mu.Unlock()
		logger.Warnf("Start called but already running")
		return
	}
	p.ticker = time.NewTicker(p.interval)
	p.doneChan = make(chan struct{})
	p.stopOnce = sync.Once{}
	ticker, doneChan := p.ticker, p.doneChan
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		logger.Infof("publisher started (interval %s)", p.interval)
		for {
			select {
			case <-ticker.C:
				p.sendLatest()
			case <-doneChan:
				return
			}
		}
	}()
}

// Stop ends the send loop and waits for it. It is safe to call repeatedly.
func (p *Publisher) Stop() {
	p.mu.Lock()
	if p.ticker == nil {
		p.mu.Unlock()
		return
	}
	p.stopOnce.Do(func() {
		close(p.doneChan)
		p.ticker.Stop()
		p.ticker = nil
	})
	p.mu.Unlock()
	p.wg.Wait()
	logger.Infof("publisher stopped after %d packets", p.sent)
}

// sendLatest runs only on the publisher goroutine.
func (p *Publisher) sendLatest() {
	p.latestMu.Lock()
	f, fresh := p.latest, p.fresh
	p.fresh = false
	p.latestMu.Unlock()
	if !fresh {
		return
	}

	p.sequenceNum++
	p.packet = AppendPacket(p.packet[:0], p.sequenceNum, f)
	if err := p.sender.Send(p.packet); err != nil {
		if !p.failing {
			logger.Warnf("sending %d byte packet: %v", len(p.packet), err)
		}
		p.failing = true
		return
	}
	if p.failing {
		logger.Infof("sending again after failures")
		p.failing = false
	}
	p.sent++
	logger.Debugf("sent packet %d (%d bytes)", p.sequenceNum, len(p.packet))
}

// Close stops the publisher and closes its sender.
func (p *Publisher) Close() error {
	p.Stop()
	return p.sender.Close()
}
