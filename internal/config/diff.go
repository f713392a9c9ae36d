package config

import "reflect"

// ConfigDiff describes what changed between two configs.
// Only the log level can be applied live; every other change is reported
// so the caller can ask for a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired lists the top-level sections whose changes only take
	// effect after a restart.
	RestartRequired []string
}

// HasChanges reports whether anything differs.
func (d ConfigDiff) HasChanges() bool {
	return d.LogLevelChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	if !reflect.DeepEqual(oldServer, newServer) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !reflect.DeepEqual(old.Device, new.Device) {
		d.RestartRequired = append(d.RestartRequired, "device")
	}
	if !reflect.DeepEqual(old.Streams, new.Streams) {
		d.RestartRequired = append(d.RestartRequired, "streams")
	}
	if old.ToneMap != new.ToneMap {
		d.RestartRequired = append(d.RestartRequired, "tonemap")
	}
	if !reflect.DeepEqual(old.Relay, new.Relay) {
		d.RestartRequired = append(d.RestartRequired, "relay")
	}

	return d
}
