package main

import (
	"fmt"
	"log/slog"

	"github.com/MrWong99/sensorbridge/internal/config"
	"github.com/MrWong99/sensorbridge/pkg/sensor"
	"github.com/MrWong99/sensorbridge/pkg/sensor/synthetic"
)

// registerBuiltinDrivers wires every driver that ships with sensorbridge
// into reg. sampleRate is the streams.audio.sample_rate announced to
// subscribers; drivers that generate audio themselves must match it.
func registerBuiltinDrivers(reg *config.Registry, sampleRate int) {
	reg.RegisterDriver("synthetic", func(dc config.DeviceConfig) (sensor.Driver, error) {
		opts, err := syntheticOptions(dc.Options, sampleRate)
		if err != nil {
			return nil, fmt.Errorf("synthetic: %w", err)
		}
		return synthetic.New(opts), nil
	})

	for _, name := range reg.Drivers() {
		slog.Debug("registered driver", "name", name)
	}
}

// syntheticOptions maps the device.options section onto [synthetic.Options].
// Unknown keys are rejected so typos do not silently fall back to defaults.
// The tone is generated at sampleRate unless options.sample_rate is set, in
// which case the two must agree.
func syntheticOptions(m map[string]any, sampleRate int) (synthetic.Options, error) {
	o := synthetic.Options{SampleRate: sampleRate}
	for key, v := range m {
		var err error
		switch key {
		case "fps":
			o.FPS, err = optInt(key, v)
		case "color_width":
			o.ColorWidth, err = optInt(key, v)
		case "color_height":
			o.ColorHeight, err = optInt(key, v)
		case "infrared_width":
			o.InfraredWidth, err = optInt(key, v)
		case "infrared_height":
			o.InfraredHeight, err = optInt(key, v)
		case "sample_rate":
			o.SampleRate, err = optInt(key, v)
		case "tone_hz":
			o.ToneHz, err = optFloat(key, v)
		case "unavailable":
			b, ok := v.(bool)
			if !ok {
				err = fmt.Errorf("option %q: want bool, got %T", key, v)
			}
			o.Unavailable = b
		default:
			err = fmt.Errorf("unknown option %q", key)
		}
		if err != nil {
			return synthetic.Options{}, err
		}
	}
	if sampleRate > 0 && o.SampleRate != sampleRate {
		return synthetic.Options{}, fmt.Errorf("option \"sample_rate\" %d disagrees with streams.audio.sample_rate %d", o.SampleRate, sampleRate)
	}
	return o, nil
}

// optInt accepts the integer forms a YAML decoder produces.
func optInt(key string, v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case uint64:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("option %q: %v is not an integer", key, n)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("option %q: want integer, got %T", key, v)
	}
}

func optFloat(key string, v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("option %q: want number, got %T", key, v)
	}
}
