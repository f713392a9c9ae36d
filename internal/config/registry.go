package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/sensorbridge/pkg/sensor"
)

// ErrDriverNotRegistered is returned by [Registry.CreateDriver] when no
// factory has been registered under the requested driver name.
var ErrDriverNotRegistered = errors.New("config: driver not registered")

// DriverFactory builds a sensor driver from its config section.
type DriverFactory func(DeviceConfig) (sensor.Driver, error)

// Registry maps driver names to their constructor functions. It is safe for
// concurrent use.
type Registry struct {
	mu      sync.RWMutex
	drivers map[string]DriverFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{drivers: make(map[string]DriverFactory)}
}

// RegisterDriver registers a driver factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterDriver(name string, factory DriverFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drivers[name] = factory
}

// Drivers returns the registered driver names in sorted order.
func (r *Registry) Drivers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.drivers))
	for name := range r.drivers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// CreateDriver instantiates the driver registered under cfg.Driver.
// Returns [ErrDriverNotRegistered] if no factory has been registered for
// that name.
func (r *Registry) CreateDriver(cfg DeviceConfig) (sensor.Driver, error) {
	r.mu.RLock()
	factory, ok := r.drivers[cfg.Driver]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrDriverNotRegistered, cfg.Driver)
	}
	d, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("config: create driver %q: %w", cfg.Driver, err)
	}
	return d, nil
}
