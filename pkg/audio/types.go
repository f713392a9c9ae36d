package audio

import "fmt"

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns a human-readable form such as "16000Hz mono".
func (f Format) String() string {
	ch := "mono"
	if f.Channels == 2 {
		ch = "stereo"
	} else if f.Channels > 2 {
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

// SamplesFor returns the number of samples per channel covering d
// milliseconds at this format's rate.
func (f Format) SamplesFor(ms int) int {
	return f.SampleRate * ms / 1000
}
