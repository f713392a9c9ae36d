// Package sensor defines the capture-side contract between the bridge and a
// multi-modal sensor: the frame types each modality produces and the
// [Driver] / [Source] / [Handle] / [Iterator] chain used to acquire them.
//
// Driver implementations (hardware bindings, the synthetic test pattern in
// sensor/synthetic, the scripted driver in sensor/mock) live in their own
// packages. The pipeline only ever sees these interfaces.
package sensor

import "errors"

var (
	// ErrNoFrame is returned by [Iterator.Next] when no frame is ready yet.
	// It is not end-of-stream; callers should wait briefly and poll again.
	ErrNoFrame = errors.New("sensor: no frame ready")

	// ErrDeviceBusy is returned by [Source.Open] when the resource is
	// already held by another handle.
	ErrDeviceBusy = errors.New("sensor: device busy")

	// ErrDeviceUnavailable is returned when the device is absent or not
	// yet ready.
	ErrDeviceUnavailable = errors.New("sensor: device unavailable")

	// ErrClosed is returned by operations on a closed handle or iterator.
	ErrClosed = errors.New("sensor: closed")
)

// Driver is the entry point for one physical sensor. Each modality is
// exposed as an independent [Source] so that it can be opened and released
// on its own.
//
// Implementations must be safe for concurrent use.
type Driver interface {
	// Name returns a short identifier used in logs.
	Name() string

	// Available reports whether the device is present and ready to open.
	Available() (bool, error)

	Color() Source[ColorFrame]
	Infrared() Source[InfraredFrame]
	Audio() Source[AudioFrame]
}

// SampleRater is implemented by drivers whose microphone runs at a fixed,
// known rate. The bridge refuses to start when it disagrees with the rate
// announced to subscribers.
type SampleRater interface {
	SampleRate() int
}

// Source opens the device resource for one modality.
type Source[F any] interface {
	// Open acquires the underlying resource. It fails with [ErrDeviceBusy]
	// or [ErrDeviceUnavailable] (possibly wrapped) when it cannot.
	Open() (Handle[F], error)
}

// Handle is an acquired device resource. Close releases it; calling Close
// more than once is a no-op.
type Handle[F any] interface {
	// Frames creates an iterator over captured frames.
	Frames() (Iterator[F], error)

	Close() error
}

// Iterator yields frames from an open [Handle].
//
// Next never blocks for long: it returns [ErrNoFrame] when nothing is ready.
// Any other error is a transient per-frame failure and the caller may keep
// polling. Iterators are used from a single goroutine.
type Iterator[F any] interface {
	Next() (F, error)
	Close() error
}
