package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/sensorbridge/pkg/sensor"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. An empty document yields the default config.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. It expects
// defaults to have been applied and returns a joined error listing all
// validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr is required"))
	}
	if tls := cfg.Server.TLS; tls != nil {
		if tls.CertFile == "" {
			errs = append(errs, errors.New("server.tls.cert_file is required when tls is set"))
		}
		if tls.KeyFile == "" {
			errs = append(errs, errors.New("server.tls.key_file is required when tls is set"))
		}
	}

	// Device
	if cfg.Device.Driver == "" {
		errs = append(errs, errors.New("device.driver is required"))
	}
	if cfg.Device.StartupAttempts < 1 {
		errs = append(errs, fmt.Errorf("device.startup_attempts %d must be at least 1", cfg.Device.StartupAttempts))
	}
	errs = appendPositive(errs, "device.startup_interval", cfg.Device.StartupInterval)

	// Streams
	errs = validateStream(errs, "streams.color", cfg.Streams.Color)
	errs = validateStream(errs, "streams.infrared", cfg.Streams.Infrared)
	errs = validateStream(errs, "streams.audio", cfg.Streams.Audio.StreamConfig)
	if cfg.Streams.Audio.ChunkSamples <= 0 {
		errs = append(errs, fmt.Errorf("streams.audio.chunk_samples %d must be positive", cfg.Streams.Audio.ChunkSamples))
	}
	if cfg.Streams.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("streams.audio.sample_rate %d must be positive", cfg.Streams.Audio.SampleRate))
	}
	if len(cfg.Streams.Audio.GateStreams) == 0 {
		errs = append(errs, errors.New("streams.audio.gate_streams must name at least one video stream"))
	}
	for i, s := range cfg.Streams.Audio.GateStreams {
		if s != sensor.StreamColor && s != sensor.StreamInfrared {
			errs = append(errs, fmt.Errorf("streams.audio.gate_streams[%d] %q is invalid; valid values: color, infrared", i, s))
		}
	}

	// Tone map
	if cfg.ToneMap.Path == "" {
		errs = append(errs, errors.New("tonemap.path is required"))
	}
	errs = appendPositive(errs, "tonemap.poll_interval", cfg.ToneMap.PollInterval)
	errs = appendPositive(errs, "tonemap.refresh_interval", cfg.ToneMap.RefreshInterval)

	// Relay
	if cfg.Relay.SubscriberBuffer <= 0 {
		errs = append(errs, fmt.Errorf("relay.subscriber_buffer %d must be positive", cfg.Relay.SubscriberBuffer))
	}
	for i, p := range cfg.Relay.OriginPatterns {
		if _, err := path.Match(p, ""); err != nil {
			errs = append(errs, fmt.Errorf("relay.origin_patterns[%d] %q: %w", i, p, err))
		}
	}

	return errors.Join(errs...)
}

func validateStream(errs []error, prefix string, s StreamConfig) []error {
	if s.Capacity <= 0 {
		errs = append(errs, fmt.Errorf("%s.capacity %d must be positive", prefix, s.Capacity))
	}
	errs = appendPositive(errs, prefix+".idle_interval", s.IdleInterval)
	errs = appendPositive(errs, prefix+".no_frame_interval", s.NoFrameInterval)
	errs = appendPositive(errs, prefix+".drain_interval", s.DrainInterval)
	errs = appendPositive(errs, prefix+".starvation_warn", s.StarvationWarn)
	return errs
}

func appendPositive(errs []error, field string, d time.Duration) []error {
	if d <= 0 {
		return append(errs, fmt.Errorf("%s %v must be positive", field, d))
	}
	return errs
}
