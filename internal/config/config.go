// SPDX-License-Identifier: MIT

// Package config loads the spectro configuration: built-in defaults, then
// a YAML file, then SPECTRO_* environment overrides, then validation.
package config

import (
	"errors"
	"fmt"
	"net"
	"time"

	"spectro/internal/audio"
	"spectro/internal/batch"
	"spectro/internal/log"
	"spectro/internal/producer"
	"spectro/internal/render"
	"spectro/internal/store"
	"spectro/internal/transport/udp"
)

// Audio limits accepted by Validate.
const (
	MinSampleRate = 8000
	MaxSampleRate = 192000
	MaxChannels   = 32
)

// Defaults not owned by another package.
const (
	DefaultSampleRate    = 44100
	DefaultChannels      = 1
	DefaultLogLevel      = "info"
	DefaultWebSocketAddr = ""
	DefaultUDPTarget     = "127.0.0.1:9090"
	DefaultRecordingDir  = "./recordings"
)

// Config is the complete runtime configuration.
type Config struct {
	LogLevel  string          `yaml:"log_level"` // debug, info, warn or error.
	Audio     AudioConfig     `yaml:"audio"`
	Store     StoreConfig     `yaml:"store"`
	Batch     BatchConfig     `yaml:"batch"`
	Render    RenderConfig    `yaml:"render"`
	Transport TransportConfig `yaml:"transport"`
	Recording RecordingConfig `yaml:"recording"`

	// Path is the file the configuration was read from, if any.
	Path string `yaml:"-"`
}

// AudioConfig holds live capture settings.
type AudioConfig struct {
	Device           int           `yaml:"device"`      // PortAudio device index, -1 for the default input.
	LowLatency       bool          `yaml:"low_latency"` // Size the minimum buffer from the low input latency.
	SampleRate       int           `yaml:"sample_rate"`
	Channels         int           `yaml:"channels"`
	MinBuffer        int           `yaml:"min_buffer"` // Samples per channel.
	MaxBuffer        int           `yaml:"max_buffer"`
	BufferMultiplier int           `yaml:"buffer_multiplier"`
	ReadPause        time.Duration `yaml:"read_pause"`
	GateThreshold    float64       `yaml:"gate_threshold"` // 0 disables the noise gate.
}

// StoreConfig sizes the paged frame store.
type StoreConfig struct {
	PageSize         int           `yaml:"page_size"`
	CapBytes         int64         `yaml:"cap_bytes"`
	FrameHeaderBytes int           `yaml:"frame_header_bytes"`
	MaxCachedPages   int           `yaml:"max_cached_pages"` // 0 derives it from cap_bytes.
	MonitorInterval  time.Duration `yaml:"monitor_interval"`
	WarnRatio        float64       `yaml:"warn_ratio"`
}

// BatchConfig holds batch and watch mode settings.
type BatchConfig struct {
	Concurrency   int    `yaml:"concurrency"`
	MaxInputBytes int64  `yaml:"max_input_bytes"`
	ChunkSize     int    `yaml:"chunk_size"` // Samples per channel per frame.
	OutputDir     string `yaml:"output_dir"` // Empty writes artifacts next to their inputs.
	Embed         bool   `yaml:"embed"`
	Backup        bool   `yaml:"backup"`
}

// RenderConfig sizes spectrogram artifacts.
type RenderConfig struct {
	Rows       int     `yaml:"rows"`
	MaxColumns int     `yaml:"max_columns"`
	MinDB      float64 `yaml:"min_db"`
	MaxDB      float64 `yaml:"max_db"`
}

// TransportConfig holds live frame sink settings.
type TransportConfig struct {
	WebSocketAddr string        `yaml:"websocket_addr"` // Empty disables the WebSocket sink.
	UDPEnabled    bool          `yaml:"udp_enabled"`
	UDPTarget     string        `yaml:"udp_target"`
	UDPInterval   time.Duration `yaml:"udp_interval"`
}

// RecordingConfig holds the live recording tee settings.
type RecordingConfig struct {
	Enabled   bool   `yaml:"enabled"`
	OutputDir string `yaml:"output_dir"`
}

// Default returns the built-in configuration.
func Default() Config {
	so := store.DefaultOptions()
	return Config{
		LogLevel: DefaultLogLevel,
		Audio: AudioConfig{
			Device:           audio.DefaultDeviceID,
			SampleRate:       DefaultSampleRate,
			Channels:         DefaultChannels,
			MinBuffer:        producer.DefaultMinBuffer,
			MaxBuffer:        producer.DefaultMaxBuffer,
			BufferMultiplier: producer.DefaultBufferMultiplier,
			ReadPause:        producer.DefaultReadPause,
		},
		Store: StoreConfig{
			PageSize:         so.PageSize,
			CapBytes:         so.CapBytes,
			FrameHeaderBytes: so.FrameHeaderBytes,
			MonitorInterval:  so.MonitorInterval,
			WarnRatio:        so.WarnRatio,
		},
		Batch: BatchConfig{
			Concurrency:   batch.DefaultConcurrency,
			MaxInputBytes: batch.DefaultMaxInputBytes,
			ChunkSize:     producer.DefaultChunkSize,
		},
		Render: RenderConfig{
			Rows:       render.DefaultRows,
			MaxColumns: render.DefaultMaxColumns,
			MinDB:      render.DefaultMinDB,
			MaxDB:      render.DefaultMaxDB,
		},
		Transport: TransportConfig{
			WebSocketAddr: DefaultWebSocketAddr,
			UDPTarget:     DefaultUDPTarget,
			UDPInterval:   udp.DefaultInterval,
		},
		Recording: RecordingConfig{
			OutputDir: DefaultRecordingDir,
		},
	}
}

// Validate reports every invalid setting, joined.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	_, ok := log.ParseLevel(c.LogLevel)
	check(ok, "log_level %q is not one of debug, info, warn, error", c.LogLevel)

	a := c.Audio
	check(a.Device >= audio.DefaultDeviceID, "audio.device must be >= %d, got %d", audio.DefaultDeviceID, a.Device)
	check(a.SampleRate >= MinSampleRate && a.SampleRate <= MaxSampleRate,
		"audio.sample_rate must be in [%d, %d], got %d", MinSampleRate, MaxSampleRate, a.SampleRate)
	check(a.Channels >= 1 && a.Channels <= MaxChannels, "audio.channels must be in [1, %d], got %d", MaxChannels, a.Channels)
	if err := a.BufferPolicy().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("audio buffer: %w", err))
	}
	check(a.ReadPause >= 0, "audio.read_pause must not be negative")
	check(a.GateThreshold >= 0 && a.GateThreshold <= 1, "audio.gate_threshold must be in [0, 1], got %g", a.GateThreshold)

	s := c.Store
	check(s.PageSize > 0, "store.page_size must be positive, got %d", s.PageSize)
	check(s.CapBytes > 0, "store.cap_bytes must be positive, got %d", s.CapBytes)
	check(s.FrameHeaderBytes >= 0, "store.frame_header_bytes must not be negative")
	check(s.MaxCachedPages >= 0, "store.max_cached_pages must not be negative")
	check(s.MonitorInterval > 0, "store.monitor_interval must be positive")
	check(s.WarnRatio > 0 && s.WarnRatio <= 1, "store.warn_ratio must be in (0, 1], got %g", s.WarnRatio)

	b := c.Batch
	check(b.Concurrency >= 1, "batch.concurrency must be at least 1, got %d", b.Concurrency)
	check(b.MaxInputBytes > 0, "batch.max_input_bytes must be positive")
	check(b.ChunkSize >= 2, "batch.chunk_size must be at least 2, got %d", b.ChunkSize)
	check(!b.Backup || b.Embed, "batch.backup requires batch.embed")

	r := c.Render
	check(r.Rows > 0, "render.rows must be positive")
	check(r.MaxColumns > 1, "render.max_columns must be greater than 1")
	check(r.MaxDB > r.MinDB, "render.max_db must exceed render.min_db")

	t := c.Transport
	if t.WebSocketAddr != "" {
		_, _, err := net.SplitHostPort(t.WebSocketAddr)
		check(err == nil, "transport.websocket_addr %q is not host:port", t.WebSocketAddr)
	}
	if t.UDPEnabled {
		_, _, err := net.SplitHostPort(t.UDPTarget)
		check(err == nil, "transport.udp_target %q is not host:port", t.UDPTarget)
		check(t.UDPInterval > 0, "transport.udp_interval must be positive when UDP is enabled")
	}

	check(!c.Recording.Enabled || c.Recording.OutputDir != "", "recording.output_dir must be set when recording is enabled")

	return errors.Join(errs...)
}

// BufferPolicy returns the producer buffer policy.
func (a AudioConfig) BufferPolicy() producer.BufferPolicy {
	return producer.BufferPolicy{Min: a.MinBuffer, Max: a.MaxBuffer, Multiplier: a.BufferMultiplier}
}

// Capture returns the requested capture configuration. The buffer size is
// left for the producer to derive.
func (a AudioConfig) Capture() producer.AudioConfig {
	return producer.AudioConfig{SampleRate: a.SampleRate, Channels: a.Channels, SampleFormat: producer.FormatS16LE}
}

// Options returns the store options.
func (s StoreConfig) Options() store.Options {
	return store.Options{
		PageSize:         s.PageSize,
		CapBytes:         s.CapBytes,
		FrameHeaderBytes: s.FrameHeaderBytes,
		MaxCachedPages:   s.MaxCachedPages,
		MonitorInterval:  s.MonitorInterval,
		WarnRatio:        s.WarnRatio,
	}
}

// Options returns the renderer options.
func (r RenderConfig) Options() render.Options {
	return render.Options{Rows: r.Rows, MaxColumns: r.MaxColumns, MinDB: r.MinDB, MaxDB: r.MaxDB}
}
