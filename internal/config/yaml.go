// SPDX-License-Identifier: MIT
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"spectro/internal/log"

	"gopkg.in/yaml.v3"
)

// FileName is the configuration file searched for when no path is given.
const FileName = "spectro.yaml"

// EnvPrefix starts every environment override.
const EnvPrefix = "SPECTRO_"

var logger = log.New("Config")

// SearchPaths returns the locations tried, in order, when LoadConfig is
// given no path: the working directory, then the user config directory.
func SearchPaths() []string {
	paths := []string{FileName}
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, "spectro", FileName))
	}
	return paths
}

// LoadConfig builds the configuration from defaults, the YAML file at path
// and the environment. With an empty path the SearchPaths are tried and a
// missing file is not an error. Unknown YAML keys are rejected.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		for _, candidate := range SearchPaths() {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := decode(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
		cfg.Path = path
		logger.Debugf("loaded %s", path)
	}

	if err := cfg.applyEnvOverrides(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ReloadBatch re-reads path and returns its batch and render sections.
// The rest of a running configuration cannot change without a restart.
func ReloadBatch(path string) (BatchConfig, RenderConfig, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return BatchConfig{}, RenderConfig{}, err
	}
	return cfg.Batch, cfg.Render, nil
}

// Marshal returns cfg as YAML.
func (c *Config) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type envVar struct {
	name string
	set  func(c *Config, v string) error
}

func envString(dst func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*dst(c) = v
		return nil
	}
}

func envInt(dst func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst(c) = n
		return nil
	}
}

func envInt64(dst func(*Config) *int64) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return err
		}
		*dst(c) = n
		return nil
	}
}

func envBool(dst func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*dst(c) = b
		return nil
	}
}

func envFloat(dst func(*Config) *float64) func(*Config, string) error {
	return func(c *Config, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*dst(c) = f
		return nil
	}
}

func envDuration(dst func(*Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*dst(c) = d
		return nil
	}
}

var envVars = []envVar{
	{"LOG_LEVEL", envString(func(c *Config) *string { return &c.LogLevel })},
	{"AUDIO_DEVICE", envInt(func(c *Config) *int { return &c.Audio.Device })},
	{"AUDIO_SAMPLE_RATE", envInt(func(c *Config) *int { return &c.Audio.SampleRate })},
	{"AUDIO_CHANNELS", envInt(func(c *Config) *int { return &c.Audio.Channels })},
	{"AUDIO_GATE_THRESHOLD", envFloat(func(c *Config) *float64 { return &c.Audio.GateThreshold })},
	{"STORE_CAP_BYTES", envInt64(func(c *Config) *int64 { return &c.Store.CapBytes })},
	{"STORE_PAGE_SIZE", envInt(func(c *Config) *int { return &c.Store.PageSize })},
	{"BATCH_CONCURRENCY", envInt(func(c *Config) *int { return &c.Batch.Concurrency })},
	{"BATCH_OUTPUT_DIR", envString(func(c *Config) *string { return &c.Batch.OutputDir })},
	{"BATCH_EMBED", envBool(func(c *Config) *bool { return &c.Batch.Embed })},
	{"WEBSOCKET_ADDR", envString(func(c *Config) *string { return &c.Transport.WebSocketAddr })},
	{"UDP_ENABLED", envBool(func(c *Config) *bool { return &c.Transport.UDPEnabled })},
	{"UDP_TARGET", envString(func(c *Config) *string { return &c.Transport.UDPTarget })},
	{"UDP_INTERVAL", envDuration(func(c *Config) *time.Duration { return &c.Transport.UDPInterval })},
}

// EnvNames returns every supported environment variable.
func EnvNames() []string {
	names := make([]string, len(envVars))
	for i, e := range envVars {
		names[i] = EnvPrefix + e.name
	}
	return names
}

// applyEnvOverrides applies SPECTRO_* variables found by lookup. A value
// that does not parse is an error.
func (c *Config) applyEnvOverrides(lookup func(string) (string, bool)) error {
	var errs []error
	for _, e := range envVars {
		name := EnvPrefix + e.name
		val, ok := lookup(name)
		if !ok {
			continue
		}
		if err := e.set(c, val); err != nil {
			errs = append(errs, fmt.Errorf("%s=%q: %w", name, val, err))
			continue
		}
		logger.Debugf("overriding from %s", name)
	}
	return errors.Join(errs...)
}
