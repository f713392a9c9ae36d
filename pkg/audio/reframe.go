package audio

// Reframer accumulates variable-length runs of samples and releases them as
// fixed-size frames, in arrival order. Samples that do not fill a whole frame
// stay buffered until more arrive or [Reframer.Reset] is called.
//
// A Reframer is owned by a single goroutine.
type Reframer struct {
	size int
	buf  []float32
	head int
}

// NewReframer returns a Reframer emitting frames of size samples.
// It panics if size is not positive.
func NewReframer(size int) *Reframer {
	if size <= 0 {
		panic("audio: reframer size must be positive")
	}
	return &Reframer{size: size, buf: make([]float32, 0, size*4)}
}

// Size returns the configured frame size.
func (r *Reframer) Size() int { return r.size }

// Buffered returns the number of samples waiting for a full frame.
func (r *Reframer) Buffered() int { return len(r.buf) - r.head }

// Append queues samples behind any already buffered.
func (r *Reframer) Append(samples []float32) {
	if r.head > 0 && r.head >= len(r.buf)/2 {
		// Compact consumed space so the backing array does not grow without bound.
		n := copy(r.buf, r.buf[r.head:])
		r.buf = r.buf[:n]
		r.head = 0
	}
	r.buf = append(r.buf, samples...)
}

// Next returns the next full frame, or false when fewer than Size samples
// are buffered. The returned slice aliases internal storage and is only
// valid until the next call to Append or Reset.
func (r *Reframer) Next() ([]float32, bool) {
	if r.Buffered() < r.size {
		return nil, false
	}
	f := r.buf[r.head : r.head+r.size : r.head+r.size]
	r.head += r.size
	return f, true
}

// Remainder returns a copy of the buffered partial frame.
func (r *Reframer) Remainder() []float32 {
	out := make([]float32, r.Buffered())
	copy(out, r.buf[r.head:])
	return out
}

// Reset discards all buffered samples.
func (r *Reframer) Reset() {
	r.buf = r.buf[:0]
	r.head = 0
}
