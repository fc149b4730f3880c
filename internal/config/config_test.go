// SPDX-License-Identifier: MIT
package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), FileName)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	t.Parallel()
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default configuration is invalid: %v", err)
	}
	if cfg.Batch.Concurrency != 3 || cfg.Store.PageSize != 100 || cfg.Store.CapBytes != 100<<20 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	t.Parallel()
	cfg, err := LoadConfig("nonexistent.yaml")
	if err == nil {
		t.Error("expected error for missing file, got nil")
	}
	if cfg != nil {
		t.Errorf("expected nil config on error, got %+v", cfg)
	}
}

func TestLoadConfig_UnmarshalError(t *testing.T) {
	t.Parallel()
	path := writeTempConfig(t, ":\n:bad")
	_, err := LoadConfig(path)
	if err == nil || !strings.Contains(err.Error(), "failed to parse config file") {
		t.Errorf("expected parse error, got %v", err)
	}
}

func TestLoadConfig_UnknownKey(t *testing.T) {
	t.Parallel()
	path := writeTempConfig(t, "batch:\n  concurency: 4\n")
	if _, err := LoadConfig(path); err == nil {
		t.Error("misspelled key should be rejected")
	}
}

func TestLoadConfig_File(t *testing.T) {
	t.Parallel()
	path := writeTempConfig(t, `
log_level: debug
audio:
  sample_rate: 48000
  channels: 2
  read_pause: 5ms
  gate_threshold: 0.1
store:
  page_size: 50
  cap_bytes: 1048576
batch:
  concurrency: 5
  output_dir: /tmp/art
  embed: true
  backup: true
transport:
  udp_enabled: true
  udp_target: 127.0.0.1:7000
  udp_interval: 20ms
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Path != path {
		t.Errorf("Path = %q", cfg.Path)
	}
	if cfg.Audio.SampleRate != 48000 || cfg.Audio.Channels != 2 || cfg.Audio.ReadPause != 5*time.Millisecond {
		t.Errorf("audio = %+v", cfg.Audio)
	}
	if cfg.Store.PageSize != 50 || cfg.Store.CapBytes != 1<<20 {
		t.Errorf("store = %+v", cfg.Store)
	}
	// Unset keys keep their defaults.
	if cfg.Store.WarnRatio != 0.8 || cfg.Audio.MinBuffer != 2048 {
		t.Errorf("defaults lost: %+v %+v", cfg.Store, cfg.Audio)
	}
	if cfg.Batch.Concurrency != 5 || !cfg.Batch.Embed || cfg.Batch.OutputDir != "/tmp/art" {
		t.Errorf("batch = %+v", cfg.Batch)
	}
	if !cfg.Transport.UDPEnabled || cfg.Transport.UDPInterval != 20*time.Millisecond {
		t.Errorf("transport = %+v", cfg.Transport)
	}

	p := cfg.Audio.BufferPolicy()
	if p.Effective(100) != 2048 {
		t.Errorf("buffer policy = %+v", p)
	}
	if got := cfg.Audio.Capture(); got.SampleRate != 48000 || got.Channels != 2 || got.BufferSizeBytes != 0 {
		t.Errorf("capture = %+v", got)
	}
	if got := cfg.Store.Options(); got.PageSize != 50 {
		t.Errorf("store options = %+v", got)
	}
}

func TestEmptyFile(t *testing.T) {
	t.Parallel()
	cfg, err := LoadConfig(writeTempConfig(t, ""))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Batch.Concurrency != Default().Batch.Concurrency {
		t.Error("empty file should keep defaults")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"log level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
		{"sample rate", func(c *Config) { c.Audio.SampleRate = 100 }, "audio.sample_rate"},
		{"channels", func(c *Config) { c.Audio.Channels = 0 }, "audio.channels"},
		{"buffer policy", func(c *Config) { c.Audio.MaxBuffer = 10 }, "audio buffer"},
		{"gate", func(c *Config) { c.Audio.GateThreshold = 2 }, "audio.gate_threshold"},
		{"page size", func(c *Config) { c.Store.PageSize = 0 }, "store.page_size"},
		{"cap", func(c *Config) { c.Store.CapBytes = -1 }, "store.cap_bytes"},
		{"warn ratio", func(c *Config) { c.Store.WarnRatio = 1.5 }, "store.warn_ratio"},
		{"concurrency", func(c *Config) { c.Batch.Concurrency = 0 }, "batch.concurrency"},
		{"chunk", func(c *Config) { c.Batch.ChunkSize = 1 }, "batch.chunk_size"},
		{"backup without embed", func(c *Config) { c.Batch.Backup = true }, "batch.backup"},
		{"render range", func(c *Config) { c.Render.MaxDB = c.Render.MinDB }, "render.max_db"},
		{"websocket addr", func(c *Config) { c.Transport.WebSocketAddr = "nope" }, "websocket_addr"},
		{"udp target", func(c *Config) { c.Transport.UDPEnabled = true; c.Transport.UDPTarget = "x" }, "udp_target"},
		{"recording dir", func(c *Config) { c.Recording.Enabled = true; c.Recording.OutputDir = "" }, "recording.output_dir"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Parallel()
	env := map[string]string{
		"SPECTRO_BATCH_CONCURRENCY": "7",
		"SPECTRO_UDP_ENABLED":       "true",
		"SPECTRO_UDP_INTERVAL":      "50ms",
		"SPECTRO_STORE_CAP_BYTES":   "2048",
		"SPECTRO_LOG_LEVEL":         "warn",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	if err := cfg.applyEnvOverrides(lookup); err != nil {
		t.Fatal(err)
	}
	if cfg.Batch.Concurrency != 7 || !cfg.Transport.UDPEnabled || cfg.Transport.UDPInterval != 50*time.Millisecond {
		t.Errorf("overrides not applied: %+v %+v", cfg.Batch, cfg.Transport)
	}
	if cfg.Store.CapBytes != 2048 || cfg.LogLevel != "warn" {
		t.Errorf("overrides not applied: %+v %q", cfg.Store, cfg.LogLevel)
	}

	bad := func(k string) (string, bool) {
		if k == "SPECTRO_AUDIO_SAMPLE_RATE" {
			return "fast", true
		}
		return "", false
	}
	if err := cfg.applyEnvOverrides(bad); err == nil || !strings.Contains(err.Error(), "SPECTRO_AUDIO_SAMPLE_RATE") {
		t.Errorf("bad value error = %v", err)
	}
}

func TestLoadConfigEnv(t *testing.T) {
	t.Setenv("SPECTRO_BATCH_CONCURRENCY", "2")
	cfg, err := LoadConfig(writeTempConfig(t, "batch:\n  concurrency: 9\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Batch.Concurrency != 2 {
		t.Errorf("environment should win over the file, got %d", cfg.Batch.Concurrency)
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	t.Parallel()
	cfg := Default()
	cfg.Transport.UDPInterval = 25 * time.Millisecond
	data, err := cfg.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "udp_interval: 25ms") {
		t.Errorf("durations should be written as strings:\n%s", data)
	}
	loaded, err := LoadConfig(writeTempConfig(t, string(data)))
	if err != nil {
		t.Fatal(err)
	}
	loaded.Path = ""
	if *loaded != cfg {
		t.Errorf("round trip changed the configuration:\n%+v\n%+v", *loaded, cfg)
	}
}

func TestReloadBatch(t *testing.T) {
	t.Parallel()
	b, r, err := ReloadBatch(writeTempConfig(t, "batch:\n  concurrency: 4\nrender:\n  rows: 128\n"))
	if err != nil {
		t.Fatal(err)
	}
	if b.Concurrency != 4 || r.Rows != 128 {
		t.Errorf("batch = %+v, render = %+v", b, r)
	}
}

func TestEnvNames(t *testing.T) {
	t.Parallel()
	for _, n := range EnvNames() {
		if !strings.HasPrefix(n, EnvPrefix) {
			t.Errorf("%s lacks the prefix", n)
		}
	}
}
