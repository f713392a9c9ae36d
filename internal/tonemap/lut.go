package tonemap

import "math"

// sourceMax is the largest raw infrared sample.
const sourceMax = math.MaxUint16

// LUT maps every raw 16-bit infrared sample to a grayscale byte.
// A LUT is immutable once generated and may be shared between goroutines.
type LUT [sourceMax + 1]byte

// Generate builds the table for cfg. For each sample s:
//
//	f       = (s / 65535) * scale * (1 - output_min) + output_min
//	clamped = min(output_max, f)
//	byte    = round(clamp(clamped * 255, 0, 255))
//
// Generate is a pure function of cfg; it does not validate it.
func Generate(cfg Config) *LUT {
	var lut LUT
	for s := range lut {
		f := float64(s)/sourceMax*cfg.SourceScale*(1-cfg.OutputMin) + cfg.OutputMin
		clamped := min(cfg.OutputMax, f)
		lut[s] = byte(math.Round(max(0, min(255, clamped*255))))
	}
	return &lut
}

// Map returns the grayscale value for sample s.
func (l *LUT) Map(s uint16) byte { return l[s] }
