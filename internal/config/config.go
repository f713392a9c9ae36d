// Package config provides the configuration schema, loader, hot-reload
// watcher and device driver registry for sensorbridge.
package config

import (
	"log/slog"
	"time"

	"github.com/MrWong99/sensorbridge/pkg/sensor"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SlogLevel maps l to the equivalent [slog.Level]. Unknown and empty values
// map to [slog.LevelInfo].
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Config is the root configuration structure for sensorbridge.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader],
// which fill unset fields with [ApplyDefaults].
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Device  DeviceConfig  `yaml:"device"`
	Streams StreamsConfig `yaml:"streams"`
	ToneMap ToneMapConfig `yaml:"tonemap"`
	Relay   RelayConfig   `yaml:"relay"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP server listens on (e.g., ":8554").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. It is the only setting applied without a
	// restart.
	LogLevel LogLevel `yaml:"log_level"`

	// PublicURL overrides the base URL printed in the startup summary.
	PublicURL string `yaml:"public_url"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds paths to the PEM-encoded certificate and private key.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// DeviceConfig selects and tunes the sensor driver.
type DeviceConfig struct {
	// Driver is the registry name of the sensor driver (e.g., "synthetic").
	Driver string `yaml:"driver"`

	// StartupAttempts is how many times availability is checked before the
	// device is declared missing.
	StartupAttempts int `yaml:"startup_attempts"`

	// StartupInterval is the pause between availability checks.
	StartupInterval time.Duration `yaml:"startup_interval"`

	// Options holds driver-specific settings passed verbatim to the factory.
	Options map[string]any `yaml:"options"`
}

// StreamConfig tunes the capture and publish loops of one modality.
type StreamConfig struct {
	// Capacity is the frame channel size between capture and publish.
	Capacity int `yaml:"capacity"`

	// IdleInterval is how often an idle capture loop re-checks its gate.
	IdleInterval time.Duration `yaml:"idle_interval"`

	// NoFrameInterval is the wait after the device reports no frame ready.
	NoFrameInterval time.Duration `yaml:"no_frame_interval"`

	// DrainInterval is the wait after the publish loop finds no frame.
	DrainInterval time.Duration `yaml:"drain_interval"`

	// StarvationWarn is how long the device may deliver nothing before a
	// warning is logged.
	StarvationWarn time.Duration `yaml:"starvation_warn"`
}

// AudioStreamConfig extends [StreamConfig] with audio re-framing settings.
type AudioStreamConfig struct {
	StreamConfig `yaml:",inline"`

	// ChunkSamples is the fixed number of samples per published packet.
	ChunkSamples int `yaml:"chunk_samples"`

	// SampleRate is the microphone rate announced to subscribers.
	SampleRate int `yaml:"sample_rate"`

	// GateStreams lists the video streams whose subscribers keep the
	// microphone open.
	GateStreams []sensor.StreamID `yaml:"gate_streams"`
}

// StreamsConfig groups the per-modality settings.
type StreamsConfig struct {
	Color    StreamConfig      `yaml:"color"`
	Infrared StreamConfig      `yaml:"infrared"`
	Audio    AudioStreamConfig `yaml:"audio"`
}

// ToneMapConfig locates the infrared tone-map file.
type ToneMapConfig struct {
	// Path is the YAML or JSON tone-map document.
	Path string `yaml:"path"`

	// PollInterval is how often the file's mtime is checked.
	PollInterval time.Duration `yaml:"poll_interval"`

	// RefreshInterval is how often the infrared publisher picks up the
	// current table.
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

// RelayConfig tunes the WebSocket relay sink.
type RelayConfig struct {
	// SubscriberBuffer is the per-subscriber packet queue length.
	SubscriberBuffer int `yaml:"subscriber_buffer"`

	// Snapshot enables the /streams/{mount}/snapshot.png endpoint.
	// Defaults to true.
	Snapshot *bool `yaml:"snapshot"`

	// OriginPatterns lists the hosts of cross-origin web pages allowed to
	// open a stream, e.g. "dashboard.lan:*". Empty means same-origin only.
	OriginPatterns []string `yaml:"origin_patterns"`
}

// SnapshotEnabled reports whether snapshot rendering is on.
func (r RelayConfig) SnapshotEnabled() bool {
	return r.Snapshot == nil || *r.Snapshot
}

// Defaults for unset fields.
const (
	DefaultListenAddr       = ":8554"
	DefaultDriver           = "synthetic"
	DefaultStartupAttempts  = 10
	DefaultStartupInterval  = 200 * time.Millisecond
	DefaultNoFrameInterval  = 5 * time.Millisecond
	DefaultStarvationWarn   = 10 * time.Second
	DefaultChunkSamples     = 320
	DefaultSampleRate       = 16000
	DefaultToneMapPath      = "infrared.yaml"
	DefaultToneMapPoll      = time.Second
	DefaultToneMapRefresh   = time.Second
	DefaultSubscriberBuffer = 8
)

// ApplyDefaults fills every unset field of cfg with its default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	if cfg.Device.Driver == "" {
		cfg.Device.Driver = DefaultDriver
	}
	if cfg.Device.StartupAttempts == 0 {
		cfg.Device.StartupAttempts = DefaultStartupAttempts
	}
	if cfg.Device.StartupInterval == 0 {
		cfg.Device.StartupInterval = DefaultStartupInterval
	}

	streamDefaults(&cfg.Streams.Color, 16, 30*time.Millisecond, 30*time.Millisecond, DefaultStarvationWarn)
	streamDefaults(&cfg.Streams.Infrared, 32, 100*time.Millisecond, 5*time.Millisecond, DefaultStarvationWarn)
	streamDefaults(&cfg.Streams.Audio.StreamConfig, 32, 30*time.Millisecond, 30*time.Millisecond, 15*time.Second)
	if cfg.Streams.Audio.ChunkSamples == 0 {
		cfg.Streams.Audio.ChunkSamples = DefaultChunkSamples
	}
	if cfg.Streams.Audio.SampleRate == 0 {
		cfg.Streams.Audio.SampleRate = DefaultSampleRate
	}
	if cfg.Streams.Audio.GateStreams == nil {
		cfg.Streams.Audio.GateStreams = []sensor.StreamID{sensor.StreamColor, sensor.StreamInfrared}
	}

	if cfg.ToneMap.Path == "" {
		cfg.ToneMap.Path = DefaultToneMapPath
	}
	if cfg.ToneMap.PollInterval == 0 {
		cfg.ToneMap.PollInterval = DefaultToneMapPoll
	}
	if cfg.ToneMap.RefreshInterval == 0 {
		cfg.ToneMap.RefreshInterval = DefaultToneMapRefresh
	}

	if cfg.Relay.SubscriberBuffer == 0 {
		cfg.Relay.SubscriberBuffer = DefaultSubscriberBuffer
	}
}

func streamDefaults(s *StreamConfig, capacity int, idle, drain, starve time.Duration) {
	if s.Capacity == 0 {
		s.Capacity = capacity
	}
	if s.IdleInterval == 0 {
		s.IdleInterval = idle
	}
	if s.NoFrameInterval == 0 {
		s.NoFrameInterval = DefaultNoFrameInterval
	}
	if s.DrainInterval == 0 {
		s.DrainInterval = drain
	}
	if s.StarvationWarn == 0 {
		s.StarvationWarn = starve
	}
}
