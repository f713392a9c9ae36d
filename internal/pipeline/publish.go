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

// ErrFrameRejected is wrapped by converters for a malformed frame that
// should be skipped without stopping the stream.
var ErrFrameRejected = errors.New("pipeline: frame rejected")

// Track identifies the media track a packet belongs to within a mount.
type Track uint8

const (
	TrackVideo Track = 0
	TrackAudio Track = 1
)

// String returns "video" or "audio".
func (t Track) String() string {
	switch t {
	case TrackVideo:
		return "video"
	case TrackAudio:
		return "audio"
	}
	return fmt.Sprintf("track(%d)", uint8(t))
}

// Packet is one converted unit handed to the [Sink].
//
// Data may alias a buffer the converter reuses for the next frame; a sink
// that keeps it past Submit must copy it.
type Packet struct {
	Stream sensor.StreamID
	Track  Track
	Data   []byte

	// Width, Height and Format describe video packets.
	Width  int
	Height int
	Format sensor.PixelFormat
}

// Sink accepts converted packets. Submit must not block for long; a sink that
// cannot keep up should drop.
type Sink interface {
	Submit(Packet) error
}

// Converter turns one raw frame into zero or more packets passed to emit.
// Returning an error wrapping [ErrFrameRejected] skips the frame; any other
// error stops the publish loop.
type Converter[F any] interface {
	Convert(frame F, emit func(Packet)) error
}

// PublishConfig tunes a [PublishLoop].
type PublishConfig struct {
	Stream sensor.StreamID

	// DrainInterval is the wait after finding the channel empty.
	DrainInterval time.Duration
}

// PublishLoop drains a [FrameChannel], converts each frame and submits the
// result to a [Sink].
type PublishLoop[F any] struct {
	cfg  PublishConfig
	in   *FrameChannel[F]
	conv Converter[F]
	sink Sink
	instruments

	ctx context.Context
	log *slog.Logger
}

// NewPublishLoop creates a loop from in through conv to sink.
func NewPublishLoop[F any](cfg PublishConfig, in *FrameChannel[F], conv Converter[F], sink Sink, opts ...Option) *PublishLoop[F] {
	if cfg.DrainInterval <= 0 {
		cfg.DrainInterval = 30 * time.Millisecond
	}
	return &PublishLoop[F]{
		cfg:         cfg,
		in:          in,
		conv:        conv,
		sink:        sink,
		instruments: newInstruments(opts),
		log:         slog.With("stream", cfg.Stream),
	}
}

// Run publishes until ctx is cancelled and then returns nil. It returns an
// error only when the converter reports a non-recoverable frame.
func (p *PublishLoop[F]) Run(ctx context.Context) error {
	p.ctx = ctx
	attr := observe.Stream(string(p.cfg.Stream))

	for ctx.Err() == nil {
		frame, ok := p.in.Pop()
		if !ok {
			sleep(ctx, p.cfg.DrainInterval)
			continue
		}

		start := time.Now()
		err := p.conv.Convert(frame, p.emit)
		elapsed := time.Since(start)
		p.metrics.ConvertDuration.Record(ctx, elapsed.Seconds(), attr)
		p.stats.RecordConvert(p.cfg.Stream, elapsed)

		switch {
		case err == nil:
		case errors.Is(err, ErrFrameRejected):
			p.metrics.FramesRejected.Add(ctx, 1, attr)
			p.stats.IncrRejected(p.cfg.Stream)
			p.log.Warn("frame skipped", "err", err)
		default:
			return fmt.Errorf("pipeline: %s publish: %w", p.cfg.Stream, err)
		}
	}
	return nil
}

func (p *PublishLoop[F]) emit(pkt Packet) {
	if err := p.sink.Submit(pkt); err != nil {
		p.log.Warn("sink submit failed", "err", err)
		return
	}
	p.metrics.FramesPublished.Add(p.ctx, 1, observe.Stream(string(p.cfg.Stream)))
	p.stats.IncrPublished(p.cfg.Stream)
}
