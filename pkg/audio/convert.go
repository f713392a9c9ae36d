// Package audio holds the sample-level conversions used on the audio path:
// decoding the sensor's float32 payloads, re-framing them into fixed chunks,
// and encoding chunks as 16-bit PCM for the sink.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrMisaligned is returned when a float32 payload's byte length is not a
// multiple of four.
var ErrMisaligned = errors.New("audio: payload length not a multiple of 4")

// DecodeFloat32LE reinterprets data as little-endian float32 samples and
// appends them to dst. On a misaligned payload dst is returned unchanged
// together with an error wrapping [ErrMisaligned].
func DecodeFloat32LE(dst []float32, data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return dst, fmt.Errorf("%w: %d bytes", ErrMisaligned, len(data))
	}
	for i := 0; i < len(data); i += 4 {
		dst = append(dst, math.Float32frombits(binary.LittleEndian.Uint32(data[i:])))
	}
	return dst, nil
}

// FloatToPCM16 converts one normalised sample to int16 as
// round(clamp(s, -1, 1) * 32767). NaN maps to silence.
func FloatToPCM16(s float32) int16 {
	v := float64(s)
	if math.IsNaN(v) {
		return 0
	}
	v = max(-1, min(1, v))
	return int16(math.Round(v * math.MaxInt16))
}

// EncodePCM16LE converts samples with [FloatToPCM16] and appends them to dst
// as little-endian bytes. Pass a reused buffer sliced to zero length to
// avoid per-chunk allocation.
func EncodePCM16LE(dst []byte, samples []float32) []byte {
	for _, s := range samples {
		dst = binary.LittleEndian.AppendUint16(dst, uint16(FloatToPCM16(s)))
	}
	return dst
}
