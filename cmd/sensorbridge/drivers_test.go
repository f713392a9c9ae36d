package main

import (
	"errors"
	"strings"
	"testing"

	"github.com/MrWong99/sensorbridge/internal/config"
	"github.com/MrWong99/sensorbridge/pkg/sensor"
)

func TestSyntheticOptions(t *testing.T) {
	t.Parallel()

	opts, err := syntheticOptions(map[string]any{
		"fps":            15,
		"color_width":    640,
		"color_height":   480.0,
		"infrared_width": int64(256),
		"tone_hz":        1000,
		"unavailable":    true,
	}, 16000)
	if err != nil {
		t.Fatalf("syntheticOptions: %v", err)
	}
	if opts.FPS != 15 || opts.ColorWidth != 640 || opts.ColorHeight != 480 || opts.InfraredWidth != 256 {
		t.Errorf("opts = %+v", opts)
	}
	if opts.ToneHz != 1000 || !opts.Unavailable {
		t.Errorf("opts = %+v", opts)
	}
	if opts.SampleRate != 16000 {
		t.Errorf("SampleRate = %d, want the stream rate 16000", opts.SampleRate)
	}
}

func TestSyntheticOptions_SampleRate(t *testing.T) {
	t.Parallel()

	opts, err := syntheticOptions(map[string]any{"sample_rate": 48000}, 48000)
	if err != nil {
		t.Fatalf("matching rate: %v", err)
	}
	if opts.SampleRate != 48000 {
		t.Errorf("SampleRate = %d, want 48000", opts.SampleRate)
	}

	_, err = syntheticOptions(map[string]any{"sample_rate": 48000}, 16000)
	if err == nil || !strings.Contains(err.Error(), "streams.audio.sample_rate") {
		t.Errorf("mismatched rate: err = %v", err)
	}
}

func TestSyntheticOptions_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		opts map[string]any
		want string
	}{
		{"unknown key", map[string]any{"fsp": 30}, `unknown option "fsp"`},
		{"string int", map[string]any{"fps": "30"}, "want integer"},
		{"fractional int", map[string]any{"fps": 29.97}, "not an integer"},
		{"bad bool", map[string]any{"unavailable": "yes"}, "want bool"},
		{"bad float", map[string]any{"tone_hz": "440"}, "want number"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := syntheticOptions(tc.opts, 16000)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("err = %v, want containing %q", err, tc.want)
			}
		})
	}
}

func TestRegisterBuiltinDrivers(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	registerBuiltinDrivers(reg, 24000)

	drv, err := reg.CreateDriver(config.DeviceConfig{Driver: "synthetic", Options: map[string]any{"fps": 5}})
	if err != nil {
		t.Fatalf("CreateDriver: %v", err)
	}
	if drv.Name() != "synthetic" {
		t.Errorf("Name = %q", drv.Name())
	}
	if sr, ok := drv.(sensor.SampleRater); !ok || sr.SampleRate() != 24000 {
		t.Errorf("synthetic driver does not report the stream rate 24000")
	}

	_, err = reg.CreateDriver(config.DeviceConfig{Driver: "synthetic", Options: map[string]any{"nope": 1}})
	if err == nil || !strings.Contains(err.Error(), "synthetic") {
		t.Errorf("bad options: err = %v", err)
	}

	_, err = reg.CreateDriver(config.DeviceConfig{Driver: "kinect"})
	if !errors.Is(err, config.ErrDriverNotRegistered) {
		t.Errorf("unknown driver: err = %v", err)
	}
}
