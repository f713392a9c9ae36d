package sensor

import "fmt"

// StreamID names one modality of the sensor.
type StreamID string

const (
	StreamColor    StreamID = "color"
	StreamInfrared StreamID = "infrared"
	StreamAudio    StreamID = "audio"
)

// Streams lists every modality in startup order.
var Streams = []StreamID{StreamColor, StreamInfrared, StreamAudio}

// IsValid reports whether s is a known modality.
func (s StreamID) IsValid() bool {
	switch s {
	case StreamColor, StreamInfrared, StreamAudio:
		return true
	}
	return false
}

// PixelFormat identifies the memory layout of a color frame.
type PixelFormat string

const (
	// FormatYUY2 is packed 4:2:2 (Y0 U Y1 V), two bytes per pixel.
	FormatYUY2 PixelFormat = "YUY2"

	// FormatBGRA is packed 8-bit BGRA, four bytes per pixel.
	FormatBGRA PixelFormat = "BGRA"
)

// BytesPerPixel returns the packed size of one pixel, or 0 for unknown formats.
func (f PixelFormat) BytesPerPixel() int {
	switch f {
	case FormatYUY2:
		return 2
	case FormatBGRA:
		return 4
	}
	return 0
}

// ColorFrame is one frame from the color camera in the sensor's native layout.
type ColorFrame struct {
	Width  int
	Height int
	Format PixelFormat
	Data   []byte
}

// String implements fmt.Stringer for log output.
func (f ColorFrame) String() string {
	return fmt.Sprintf("%dx%d %s (%d bytes)", f.Width, f.Height, f.Format, len(f.Data))
}

// InfraredFrame is one frame from the infrared camera. Samples holds
// Width*Height raw 16-bit intensities in row-major order.
type InfraredFrame struct {
	Width   int
	Height  int
	Samples []uint16
}

// AudioFrame is a raw chunk from the microphone array. Data holds
// little-endian IEEE-754 float32 samples; its length varies per chunk.
type AudioFrame struct {
	Data []byte
}
