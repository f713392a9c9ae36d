package config_test

import (
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/sensorbridge/internal/config"
)

func baseConfig() *config.Config {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	return cfg
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()

	d := config.Diff(baseConfig(), baseConfig())
	if d.HasChanges() {
		t.Errorf("expected no changes, got %+v", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()

	old, new := baseConfig(), baseConfig()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("NewLogLevel: got %q, want %q", d.NewLogLevel, config.LogDebug)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("log level alone should not require restart, got %v", d.RestartRequired)
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*config.Config)
		section string
	}{
		{"listen addr", func(c *config.Config) { c.Server.ListenAddr = ":1" }, "server"},
		{"driver", func(c *config.Config) { c.Device.Driver = "kinect" }, "device"},
		{"driver options", func(c *config.Config) { c.Device.Options = map[string]any{"fps": 60} }, "device"},
		{"capacity", func(c *config.Config) { c.Streams.Infrared.Capacity = 64 }, "streams"},
		{"audio gate", func(c *config.Config) { c.Streams.Audio.GateStreams = c.Streams.Audio.GateStreams[:1] }, "streams"},
		{"tonemap poll", func(c *config.Config) { c.ToneMap.PollInterval = time.Minute }, "tonemap"},
		{"relay buffer", func(c *config.Config) { c.Relay.SubscriberBuffer = 1 }, "relay"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			old, new := baseConfig(), baseConfig()
			tc.mutate(new)
			d := config.Diff(old, new)
			if d.LogLevelChanged {
				t.Error("LogLevelChanged should be false")
			}
			if !slices.Equal(d.RestartRequired, []string{tc.section}) {
				t.Errorf("RestartRequired = %v, want [%s]", d.RestartRequired, tc.section)
			}
		})
	}
}

func TestDiff_MultipleChanges(t *testing.T) {
	t.Parallel()

	old, new := baseConfig(), baseConfig()
	new.Server.LogLevel = config.LogError
	new.Device.StartupAttempts = 1
	new.ToneMap.Path = "other.yaml"

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if !slices.Equal(d.RestartRequired, []string{"device", "tonemap"}) {
		t.Errorf("RestartRequired = %v", d.RestartRequired)
	}
}
