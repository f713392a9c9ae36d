package pipeline

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/MrWong99/sensorbridge/internal/observe"
	"github.com/MrWong99/sensorbridge/pkg/sensor"
)

// SessionObserver is notified by the sink when subscriber sessions begin and
// end on a stream.
type SessionObserver interface {
	SessionStarted(stream sensor.StreamID)
	SessionEnded(stream sensor.StreamID)
}

// ActiveFunc reports whether a capture loop should hold its device right now.
type ActiveFunc func() bool

// Gates tracks live subscriber counts per stream. A stream is active while
// its count is above zero. Counts never go negative: an end without a
// matching start is ignored and logged.
//
// Gates implements [SessionObserver] and is safe for concurrent use.
type Gates struct {
	counts  map[sensor.StreamID]*atomic.Int64
	metrics *observe.Metrics
}

var _ SessionObserver = (*Gates)(nil)

// NewGates creates a gate for each stream. met may be nil.
func NewGates(met *observe.Metrics, streams ...sensor.StreamID) *Gates {
	g := &Gates{
		counts:  make(map[sensor.StreamID]*atomic.Int64, len(streams)),
		metrics: met,
	}
	for _, s := range streams {
		g.counts[s] = new(atomic.Int64)
	}
	return g
}

// SessionStarted increments the subscriber count for stream.
func (g *Gates) SessionStarted(stream sensor.StreamID) {
	c, ok := g.counts[stream]
	if !ok {
		slog.Warn("pipeline: session started on unknown stream", "stream", stream)
		return
	}
	n := c.Add(1)
	if g.metrics != nil {
		g.metrics.Subscribers.Add(context.Background(), 1, observe.Stream(string(stream)))
	}
	slog.Debug("pipeline: session started", "stream", stream, "subscribers", n)
}

// SessionEnded decrements the subscriber count for stream, clamping at zero.
func (g *Gates) SessionEnded(stream sensor.StreamID) {
	c, ok := g.counts[stream]
	if !ok {
		slog.Warn("pipeline: session ended on unknown stream", "stream", stream)
		return
	}
	for {
		n := c.Load()
		if n <= 0 {
			slog.Warn("pipeline: unmatched session end ignored", "stream", stream)
			return
		}
		if c.CompareAndSwap(n, n-1) {
			if g.metrics != nil {
				g.metrics.Subscribers.Add(context.Background(), -1, observe.Stream(string(stream)))
			}
			slog.Debug("pipeline: session ended", "stream", stream, "subscribers", n-1)
			return
		}
	}
}

// Count returns the number of live sessions on stream.
func (g *Gates) Count(stream sensor.StreamID) int64 {
	if c, ok := g.counts[stream]; ok {
		return c.Load()
	}
	return 0
}

// IsActive reports whether stream has at least one live session.
func (g *Gates) IsActive(stream sensor.StreamID) bool {
	return g.Count(stream) > 0
}

// IsAnyActive reports whether any of streams is active. It is used for
// resources shared between streams, such as the microphone.
func (g *Gates) IsAnyActive(streams ...sensor.StreamID) bool {
	for _, s := range streams {
		if g.IsActive(s) {
			return true
		}
	}
	return false
}

// Gate returns an [ActiveFunc] that is true while any of streams is active.
func (g *Gates) Gate(streams ...sensor.StreamID) ActiveFunc {
	return func() bool { return g.IsAnyActive(streams...) }
}
