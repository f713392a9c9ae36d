package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/sensorbridge/internal/observe"
	"github.com/MrWong99/sensorbridge/pkg/sensor"
)

// Default capture timings.
const (
	DefaultNoFrameInterval = 5 * time.Millisecond
	DefaultStarvationWarn  = 10 * time.Second
	DefaultLogEvery        = 30
	DefaultLogInterval     = 5 * time.Second
)

// CaptureConfig tunes a [CaptureLoop].
type CaptureConfig struct {
	// Stream labels logs, metrics and stats.
	Stream sensor.StreamID

	// IdleInterval is the gate re-check period while no device is held.
	IdleInterval time.Duration

	// NoFrameInterval is the wait after the iterator reports no frame.
	NoFrameInterval time.Duration

	// StarvationWarn is how long the iterator may go without delivering a
	// frame before a warning is logged. Repeated every StarvationWarn.
	StarvationWarn time.Duration

	// LogEvery and LogInterval control the debug progress log: it is emitted
	// every LogEvery frames or LogInterval, whichever comes first.
	LogEvery    int
	LogInterval time.Duration
}

func (c *CaptureConfig) applyDefaults() {
	if c.IdleInterval <= 0 {
		c.IdleInterval = 30 * time.Millisecond
	}
	if c.NoFrameInterval <= 0 {
		c.NoFrameInterval = DefaultNoFrameInterval
	}
	if c.StarvationWarn <= 0 {
		c.StarvationWarn = DefaultStarvationWarn
	}
	if c.LogEvery <= 0 {
		c.LogEvery = DefaultLogEvery
	}
	if c.LogInterval <= 0 {
		c.LogInterval = DefaultLogInterval
	}
}

// Option configures the instrumentation shared by [CaptureLoop] and
// [PublishLoop].
type Option func(*instruments)

// WithMetrics records loop activity on met.
func WithMetrics(met *observe.Metrics) Option {
	return func(in *instruments) { in.metrics = met }
}

// WithStats records loop activity on st.
func WithStats(st *Stats) Option {
	return func(in *instruments) { in.stats = st }
}

type instruments struct {
	metrics *observe.Metrics
	stats   *Stats
}

func newInstruments(opts []Option) instruments {
	var in instruments
	for _, opt := range opts {
		opt(&in)
	}
	if in.metrics == nil {
		in.metrics = observe.DefaultMetrics()
	}
	return in
}

// CaptureLoop pulls frames from one modality's device into a [FrameChannel]
// while its gate is active.
//
// The loop is either idle, holding no device resource, or capturing, holding
// both a handle and an iterator. It opens the device when the gate turns
// active and releases both when the gate turns inactive, so an unwatched
// modality costs nothing beyond a periodic gate check.
type CaptureLoop[F any] struct {
	cfg    CaptureConfig
	source sensor.Source[F]
	out    *FrameChannel[F]
	active ActiveFunc
	instruments

	handle sensor.Handle[F]
	iter   sensor.Iterator[F]
}

// NewCaptureLoop creates a loop reading from src into out, gated by active.
func NewCaptureLoop[F any](cfg CaptureConfig, src sensor.Source[F], out *FrameChannel[F], active ActiveFunc, opts ...Option) *CaptureLoop[F] {
	cfg.applyDefaults()
	return &CaptureLoop[F]{
		cfg:         cfg,
		source:      src,
		out:         out,
		active:      active,
		instruments: newInstruments(opts),
	}
}

// Run captures until ctx is cancelled, then releases the device and returns
// nil. A failure to open the device or its iterator ends the loop with an
// error; per-frame errors are logged and retried.
func (c *CaptureLoop[F]) Run(ctx context.Context) error {
	defer c.release(ctx)

	log := slog.With("stream", c.cfg.Stream)
	attr := observe.Stream(string(c.cfg.Stream))

	var (
		lastFrame time.Time
		lastWarn  time.Time
		lastLog   time.Time
		sinceLog  int
		frames    int64
	)

	for ctx.Err() == nil {
		active := c.active()

		if c.iter == nil {
			if !active {
				sleep(ctx, c.cfg.IdleInterval)
				continue
			}
			if err := c.acquire(ctx); err != nil {
				return err
			}
			now := time.Now()
			lastFrame, lastWarn, lastLog = now, now, now
			sinceLog, frames = 0, 0
			log.Info("capture started")
			continue
		}

		if !active {
			c.release(ctx)
			log.Info("capture stopped", "frames", frames)
			continue
		}

		frame, err := c.iter.Next()
		switch {
		case errors.Is(err, sensor.ErrNoFrame):
			now := time.Now()
			if now.Sub(lastFrame) >= c.cfg.StarvationWarn && now.Sub(lastWarn) >= c.cfg.StarvationWarn {
				log.Warn("no frames from device", "since", now.Sub(lastFrame).Round(time.Second))
				lastWarn = now
			}
			sleep(ctx, c.cfg.NoFrameInterval)

		case err != nil:
			c.metrics.CaptureErrors.Add(ctx, 1, attr)
			c.stats.IncrCaptureErrors(c.cfg.Stream)
			log.Warn("capture error", "err", err)
			sleep(ctx, c.cfg.NoFrameInterval)

		default:
			frames++
			sinceLog++
			lastFrame = time.Now()
			lastWarn = lastFrame
			c.metrics.FramesCaptured.Add(ctx, 1, attr)
			c.stats.IncrCaptured(c.cfg.Stream)

			if !c.out.Push(frame) {
				c.metrics.FramesDropped.Add(ctx, 1, attr)
				c.stats.IncrDropped(c.cfg.Stream)
				log.Debug("frame channel full, frame dropped", "drops", c.out.Drops())
			}

			if sinceLog >= c.cfg.LogEvery || lastFrame.Sub(lastLog) >= c.cfg.LogInterval {
				log.Debug("capture progress",
					"frames", frames,
					"queued", c.out.Len(),
					"drops", c.out.Drops(),
				)
				sinceLog = 0
				lastLog = lastFrame
			}
		}
	}
	return nil
}

// acquire opens the device and an iterator over it.
func (c *CaptureLoop[F]) acquire(ctx context.Context) error {
	h, err := c.source.Open()
	if err != nil {
		return fmt.Errorf("pipeline: %s capture: open device: %w", c.cfg.Stream, err)
	}
	it, err := h.Frames()
	if err != nil {
		if cerr := h.Close(); cerr != nil {
			slog.Warn("pipeline: close device after iterator failure", "stream", c.cfg.Stream, "err", cerr)
		}
		return fmt.Errorf("pipeline: %s capture: open frame iterator: %w", c.cfg.Stream, err)
	}
	c.handle, c.iter = h, it
	c.metrics.DevicesOpen.Add(ctx, 1, observe.Stream(string(c.cfg.Stream)))
	c.stats.SetCapturing(c.cfg.Stream, true)
	return nil
}

// release closes the iterator and the device handle if held.
func (c *CaptureLoop[F]) release(ctx context.Context) {
	if c.iter == nil && c.handle == nil {
		return
	}
	if c.iter != nil {
		if err := c.iter.Close(); err != nil {
			slog.Warn("pipeline: close frame iterator", "stream", c.cfg.Stream, "err", err)
		}
		c.iter = nil
	}
	if c.handle != nil {
		if err := c.handle.Close(); err != nil {
			slog.Warn("pipeline: close device", "stream", c.cfg.Stream, "err", err)
		}
		c.handle = nil
	}
	// ctx may already be cancelled; the gauge must still come down.
	c.metrics.DevicesOpen.Add(context.WithoutCancel(ctx), -1, observe.Stream(string(c.cfg.Stream)))
	c.stats.SetCapturing(c.cfg.Stream, false)
}
