// Package mock provides a scriptable [sensor.Driver] for unit tests.
//
// All mocks are safe for concurrent use. Tests queue frames or errors on a
// [Source] with [Source.Push] and [Source.PushErr]; the iterator returns them
// in order and reports [sensor.ErrNoFrame] once the queue is empty. Call
// counters record how often each resource was acquired and released.
//
// Typical usage:
//
//	drv := mock.NewDriver()
//	drv.InfraredSource.Push(sensor.InfraredFrame{Width: 2, Height: 1, Samples: []uint16{0, 65535}})
//	h, _ := drv.Infrared().Open()
package mock

import (
	"sync"

	"github.com/MrWong99/sensorbridge/pkg/sensor"
)

// ─── Driver ───────────────────────────────────────────────────────────────────

// Driver is a mock implementation of [sensor.Driver].
type Driver struct {
	mu sync.Mutex

	// AvailableResult and AvailableErr are returned by [Driver.Available].
	// AvailableResults, when non-empty, is consumed one value per call
	// before falling back to AvailableResult.
	AvailableResult  bool
	AvailableResults []bool
	AvailableErr     error

	// CallCountAvailable records how many times Available was called.
	CallCountAvailable int

	ColorSource    *Source[sensor.ColorFrame]
	InfraredSource *Source[sensor.InfraredFrame]
	AudioSource    *Source[sensor.AudioFrame]
}

var _ sensor.Driver = (*Driver)(nil)

// NewDriver returns an available driver with empty sources.
func NewDriver() *Driver {
	return &Driver{
		AvailableResult: true,
		ColorSource:     &Source[sensor.ColorFrame]{},
		InfraredSource:  &Source[sensor.InfraredFrame]{},
		AudioSource:     &Source[sensor.AudioFrame]{},
	}
}

// Name implements [sensor.Driver].
func (d *Driver) Name() string { return "mock" }

// Available implements [sensor.Driver].
func (d *Driver) Available() (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountAvailable++
	if len(d.AvailableResults) > 0 {
		v := d.AvailableResults[0]
		d.AvailableResults = d.AvailableResults[1:]
		return v, d.AvailableErr
	}
	return d.AvailableResult, d.AvailableErr
}

// Color implements [sensor.Driver].
func (d *Driver) Color() sensor.Source[sensor.ColorFrame] { return d.ColorSource }

// Infrared implements [sensor.Driver].
func (d *Driver) Infrared() sensor.Source[sensor.InfraredFrame] { return d.InfraredSource }

// Audio implements [sensor.Driver].
func (d *Driver) Audio() sensor.Source[sensor.AudioFrame] { return d.AudioSource }

// ─── Source ───────────────────────────────────────────────────────────────────

type result[F any] struct {
	frame F
	err   error
}

// Source is a mock implementation of [sensor.Source]. A Source hands out one
// handle at a time; Open while a handle is held returns [sensor.ErrDeviceBusy].
type Source[F any] struct {
	mu sync.Mutex

	// OpenErr is returned by Open when non-nil.
	OpenErr error

	// FramesErr is returned by Handle.Frames when non-nil.
	FramesErr error

	// CallCountOpen and CallCountClose count resource acquisitions and
	// releases. CallCountFrames counts iterator creations.
	CallCountOpen   int
	CallCountClose  int
	CallCountFrames int

	queue []result[F]
	held  bool
}

// Push queues a frame for the iterator.
func (s *Source[F]) Push(frames ...F) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range frames {
		s.queue = append(s.queue, result[F]{frame: f})
	}
}

// PushErr queues a transient error for the iterator.
func (s *Source[F]) PushErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, result[F]{err: err})
}

// Pending returns the number of queued results not yet consumed.
func (s *Source[F]) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Held reports whether a handle is currently open.
func (s *Source[F]) Held() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.held
}

// Counts returns the open, close and frames call counts atomically.
func (s *Source[F]) Counts() (open, close, frames int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountOpen, s.CallCountClose, s.CallCountFrames
}

// Open implements [sensor.Source].
func (s *Source[F]) Open() (sensor.Handle[F], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountOpen++
	if s.OpenErr != nil {
		return nil, s.OpenErr
	}
	if s.held {
		return nil, sensor.ErrDeviceBusy
	}
	s.held = true
	return &handle[F]{src: s}, nil
}

func (s *Source[F]) pop() (F, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		var zero F
		return zero, sensor.ErrNoFrame
	}
	r := s.queue[0]
	s.queue = s.queue[1:]
	return r.frame, r.err
}

type handle[F any] struct {
	src    *Source[F]
	closed bool
}

func (h *handle[F]) Frames() (sensor.Iterator[F], error) {
	h.src.mu.Lock()
	defer h.src.mu.Unlock()
	h.src.CallCountFrames++
	if h.src.FramesErr != nil {
		return nil, h.src.FramesErr
	}
	return &iterator[F]{src: h.src}, nil
}

func (h *handle[F]) Close() error {
	h.src.mu.Lock()
	defer h.src.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	h.src.held = false
	h.src.CallCountClose++
	return nil
}

type iterator[F any] struct {
	src *Source[F]
}

func (it *iterator[F]) Next() (F, error) { return it.src.pop() }

func (it *iterator[F]) Close() error { return nil }
