// Package synthetic provides a [sensor.Driver] that generates test patterns
// instead of talking to hardware: SMPTE-style color bars in YUY2, a drifting
// infrared gradient, and a sine tone on the microphone. Frames are paced at
// a fixed rate so the pipeline sees the same "no frame yet" behaviour as with
// a real device.
package synthetic

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/MrWong99/sensorbridge/pkg/sensor"
)

// Options configures the generated streams. Zero values select defaults.
type Options struct {
	// FPS is the video frame rate for both cameras. Default: 30.
	FPS int

	// ColorWidth and ColorHeight size the color frames. Default: 1920x1080.
	// ColorWidth must be even for YUY2.
	ColorWidth  int
	ColorHeight int

	// InfraredWidth and InfraredHeight size the infrared frames. Default: 512x424.
	InfraredWidth  int
	InfraredHeight int

	// SampleRate of the generated audio in Hz. Default: 16000.
	SampleRate int

	// ToneHz is the frequency of the generated sine. Default: 440.
	ToneHz float64

	// Unavailable makes [Driver.Available] report false, for exercising
	// the startup wait.
	Unavailable bool
}

func (o *Options) applyDefaults() {
	if o.FPS <= 0 {
		o.FPS = 30
	}
	if o.ColorWidth <= 0 || o.ColorHeight <= 0 {
		o.ColorWidth, o.ColorHeight = 1920, 1080
	}
	if o.ColorWidth%2 != 0 {
		o.ColorWidth++
	}
	if o.InfraredWidth <= 0 || o.InfraredHeight <= 0 {
		o.InfraredWidth, o.InfraredHeight = 512, 424
	}
	if o.SampleRate <= 0 {
		o.SampleRate = 16000
	}
	if o.ToneHz <= 0 {
		o.ToneHz = 440
	}
}

// Driver is the synthetic sensor. Each modality can be opened by one handle
// at a time; a second Open returns [sensor.ErrDeviceBusy].
type Driver struct {
	opts Options

	colorBusy    atomic.Bool
	infraredBusy atomic.Bool
	audioBusy    atomic.Bool

	// now is replaceable in tests.
	now func() time.Time
}

var (
	_ sensor.Driver      = (*Driver)(nil)
	_ sensor.SampleRater = (*Driver)(nil)
)

// New returns a synthetic driver.
func New(opts Options) *Driver {
	opts.applyDefaults()
	return &Driver{opts: opts, now: time.Now}
}

// Name implements [sensor.Driver].
func (d *Driver) Name() string { return "synthetic" }

// Available implements [sensor.Driver].
func (d *Driver) Available() (bool, error) {
	return !d.opts.Unavailable, nil
}

// SampleRate implements [sensor.SampleRater].
func (d *Driver) SampleRate() int { return d.opts.SampleRate }

// Color implements [sensor.Driver].
func (d *Driver) Color() sensor.Source[sensor.ColorFrame] {
	bars := colorBars(d.opts.ColorWidth, d.opts.ColorHeight)
	w, h := d.opts.ColorWidth, d.opts.ColorHeight
	return &source[sensor.ColorFrame]{
		drv:  d,
		busy: &d.colorBusy,
		name: "color",
		next: func(int) (sensor.ColorFrame, time.Duration) {
			// Bars never change, so every frame shares the same immutable buffer.
			return sensor.ColorFrame{Width: w, Height: h, Format: sensor.FormatYUY2, Data: bars}, d.frameInterval()
		},
	}
}

// Infrared implements [sensor.Driver].
func (d *Driver) Infrared() sensor.Source[sensor.InfraredFrame] {
	w, h := d.opts.InfraredWidth, d.opts.InfraredHeight
	return &source[sensor.InfraredFrame]{
		drv:  d,
		busy: &d.infraredBusy,
		name: "infrared",
		next: func(seq int) (sensor.InfraredFrame, time.Duration) {
			return sensor.InfraredFrame{Width: w, Height: h, Samples: gradient(w, h, seq)}, d.frameInterval()
		},
	}
}

// audioChunkSizes cycles to mimic a device that delivers sub-frames of
// varying length.
var audioChunkSizes = []int{256, 160, 512, 96}

// Audio implements [sensor.Driver].
func (d *Driver) Audio() sensor.Source[sensor.AudioFrame] {
	rate := float64(d.opts.SampleRate)
	step := 2 * math.Pi * d.opts.ToneHz / rate
	var phase float64
	return &source[sensor.AudioFrame]{
		drv:  d,
		busy: &d.audioBusy,
		name: "audio",
		next: func(seq int) (sensor.AudioFrame, time.Duration) {
			n := audioChunkSizes[seq%len(audioChunkSizes)]
			buf := make([]byte, n*4)
			for i := range n {
				v := float32(0.5 * math.Sin(phase))
				binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
				phase += step
				if phase > 2*math.Pi {
					phase -= 2 * math.Pi
				}
			}
			return sensor.AudioFrame{Data: buf}, time.Duration(float64(n) / rate * float64(time.Second))
		},
	}
}

func (d *Driver) frameInterval() time.Duration {
	return time.Second / time.Duration(d.opts.FPS)
}

// source is the shared Open/Frames/Next machinery for all three modalities.
// next returns the frame for sequence number seq and the delay until the
// following frame is due.
type source[F any] struct {
	drv  *Driver
	busy *atomic.Bool
	name string
	next func(seq int) (F, time.Duration)
}

func (s *source[F]) Open() (sensor.Handle[F], error) {
	if !s.busy.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("synthetic %s: %w", s.name, sensor.ErrDeviceBusy)
	}
	return &handle[F]{src: s}, nil
}

type handle[F any] struct {
	src    *source[F]
	closed atomic.Bool
}

func (h *handle[F]) Frames() (sensor.Iterator[F], error) {
	if h.closed.Load() {
		return nil, fmt.Errorf("synthetic %s: %w", h.src.name, sensor.ErrClosed)
	}
	return &iterator[F]{h: h, due: h.src.drv.now()}, nil
}

func (h *handle[F]) Close() error {
	if h.closed.CompareAndSwap(false, true) {
		h.src.busy.Store(false)
	}
	return nil
}

type iterator[F any] struct {
	h   *handle[F]
	seq int
	due time.Time
}

func (it *iterator[F]) Next() (F, error) {
	var zero F
	if it.h.closed.Load() {
		return zero, sensor.ErrClosed
	}
	now := it.h.src.drv.now()
	if now.Before(it.due) {
		return zero, sensor.ErrNoFrame
	}
	frame, wait := it.h.src.next(it.seq)
	it.seq++
	it.due = it.due.Add(wait)
	// A stalled consumer must not cause a burst of catch-up frames.
	if it.due.Before(now) {
		it.due = now.Add(wait)
	}
	return frame, nil
}

func (it *iterator[F]) Close() error { return nil }

// colorBars renders eight vertical bars (white, yellow, cyan, green,
// magenta, red, blue, black) as YUY2.
func colorBars(w, h int) []byte {
	type yuv struct{ y, u, v byte }
	bars := []yuv{
		{235, 128, 128}, {210, 16, 146}, {170, 166, 16}, {145, 54, 34},
		{106, 202, 222}, {81, 90, 240}, {41, 240, 110}, {16, 128, 128},
	}
	row := make([]byte, w*2)
	for x := 0; x < w; x += 2 {
		c := bars[x*len(bars)/w]
		row[x*2] = c.y
		row[x*2+1] = c.u
		row[x*2+2] = c.y
		row[x*2+3] = c.v
	}
	out := make([]byte, w*h*2)
	for y := range h {
		copy(out[y*w*2:], row)
	}
	return out
}

// gradient produces a horizontal ramp that drifts one step per frame.
func gradient(w, h, seq int) []uint16 {
	out := make([]uint16, w*h)
	shift := seq * 256
	for y := range h {
		for x := range w {
			out[y*w+x] = uint16((x*65535/w + shift) & 0xFFFF)
		}
	}
	return out
}
