package pipeline

import (
	"fmt"
	"time"

	"github.com/MrWong99/sensorbridge/internal/tonemap"
	"github.com/MrWong99/sensorbridge/pkg/audio"
	"github.com/MrWong99/sensorbridge/pkg/sensor"
)

// ColorConverter forwards YUY2 frames unchanged after checking their layout.
// A frame in any other format or with a size that does not match its
// dimensions is a contract violation that stops the color publisher.
type ColorConverter struct{}

// Convert implements [Converter].
func (ColorConverter) Convert(f sensor.ColorFrame, emit func(Packet)) error {
	if len(f.Data) == 0 {
		return nil
	}
	if f.Format != sensor.FormatYUY2 {
		return fmt.Errorf("color frame format %q, want %s", f.Format, sensor.FormatYUY2)
	}
	if want := f.Width * f.Height * 2; f.Width <= 0 || f.Height <= 0 || len(f.Data) != want {
		return fmt.Errorf("color frame %dx%d has %d bytes, want %d", f.Width, f.Height, len(f.Data), want)
	}
	emit(Packet{
		Stream: sensor.StreamColor,
		Track:  TrackVideo,
		Data:   f.Data,
		Width:  f.Width,
		Height: f.Height,
		Format: f.Format,
	})
	return nil
}

// LUTSource supplies the current tone-map table.
type LUTSource interface {
	LUT() *tonemap.LUT
}

// InfraredConverter tone-maps 16-bit infrared frames to grayscale BGRA.
//
// The table is fetched from its source at most once per refresh interval,
// so a reload takes effect within that interval. The output buffer is
// allocated from the first frame and reused; emitted packets alias it.
type InfraredConverter struct {
	src     LUTSource
	refresh time.Duration

	lut       *tonemap.LUT
	fetchedAt time.Time
	buf       []byte
}

// NewInfraredConverter returns a converter reading tables from src every
// refresh interval (1s when refresh is not positive).
func NewInfraredConverter(src LUTSource, refresh time.Duration) *InfraredConverter {
	if refresh <= 0 {
		refresh = time.Second
	}
	return &InfraredConverter{src: src, refresh: refresh}
}

// Convert implements [Converter].
func (c *InfraredConverter) Convert(f sensor.InfraredFrame, emit func(Packet)) error {
	n := f.Width * f.Height
	if f.Width <= 0 || f.Height <= 0 || len(f.Samples) != n {
		return fmt.Errorf("%w: infrared frame %dx%d has %d samples", ErrFrameRejected, f.Width, f.Height, len(f.Samples))
	}

	if now := time.Now(); c.lut == nil || now.Sub(c.fetchedAt) >= c.refresh {
		c.lut = c.src.LUT()
		c.fetchedAt = now
	}

	if cap(c.buf) < n*4 {
		c.buf = make([]byte, n*4)
	}
	out := c.buf[:n*4]
	lut := c.lut
	for i, s := range f.Samples {
		v := lut[s]
		o := out[i*4 : i*4+4 : i*4+4]
		o[0], o[1], o[2], o[3] = v, v, v, 0xff
	}

	emit(Packet{
		Stream: sensor.StreamInfrared,
		Track:  TrackVideo,
		Data:   out,
		Width:  f.Width,
		Height: f.Height,
		Format: sensor.FormatBGRA,
	})
	return nil
}

// AudioConverter re-frames float32 audio into fixed chunks of 16-bit PCM.
type AudioConverter struct {
	reframer *audio.Reframer
	samples  []float32
	out      []byte
}

// NewAudioConverter returns a converter emitting chunks of chunkSamples.
func NewAudioConverter(chunkSamples int) *AudioConverter {
	return &AudioConverter{
		reframer: audio.NewReframer(chunkSamples),
		out:      make([]byte, 0, chunkSamples*2),
	}
}

// Buffered returns the number of samples held back waiting for a full chunk.
func (c *AudioConverter) Buffered() int { return c.reframer.Buffered() }

// Reset discards any partial chunk.
func (c *AudioConverter) Reset() { c.reframer.Reset() }

// Convert implements [Converter].
func (c *AudioConverter) Convert(f sensor.AudioFrame, emit func(Packet)) error {
	var err error
	c.samples, err = audio.DecodeFloat32LE(c.samples[:0], f.Data)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFrameRejected, err)
	}
	c.reframer.Append(c.samples)

	for chunk, ok := c.reframer.Next(); ok; chunk, ok = c.reframer.Next() {
		c.out = audio.EncodePCM16LE(c.out[:0], chunk)
		emit(Packet{
			Stream: sensor.StreamAudio,
			Track:  TrackAudio,
			Data:   c.out,
		})
	}
	return nil
}
