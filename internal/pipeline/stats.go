package pipeline

import (
	"math"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/sensorbridge/pkg/sensor"
)

// Stats collects per-stream counters and recent conversion latencies for the
// status endpoint. Conversion latencies are kept in a bounded ring from which
// percentiles are computed on demand.
//
// Safe for concurrent use.
type Stats struct {
	mu      sync.Mutex
	window  int
	streams map[sensor.StreamID]*streamStats
}

type streamStats struct {
	capturing     bool
	captured      int64
	dropped       int64
	published     int64
	rejected      int64
	captureErrors int64
	convert       latencyBuffer
}

// NewStats creates a Stats keeping up to windowSize conversion samples per
// stream. Streams not listed are added on first use.
func NewStats(windowSize int, streams ...sensor.StreamID) *Stats {
	if windowSize <= 0 {
		windowSize = 100
	}
	s := &Stats{
		window:  windowSize,
		streams: make(map[sensor.StreamID]*streamStats, len(streams)),
	}
	for _, id := range streams {
		s.streams[id] = &streamStats{convert: newLatencyBuffer(windowSize)}
	}
	return s
}

// get returns the entry for id, creating it if needed. Callers hold s.mu.
func (s *Stats) get(id sensor.StreamID) *streamStats {
	st, ok := s.streams[id]
	if !ok {
		st = &streamStats{convert: newLatencyBuffer(s.window)}
		s.streams[id] = st
	}
	return st
}

func (s *Stats) update(id sensor.StreamID, fn func(*streamStats)) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.get(id))
}

// SetCapturing records whether the stream currently holds its device.
func (s *Stats) SetCapturing(id sensor.StreamID, on bool) {
	s.update(id, func(st *streamStats) { st.capturing = on })
}

// IncrCaptured counts one captured frame.
func (s *Stats) IncrCaptured(id sensor.StreamID) {
	s.update(id, func(st *streamStats) { st.captured++ })
}

// IncrDropped counts one frame dropped on a full channel.
func (s *Stats) IncrDropped(id sensor.StreamID) {
	s.update(id, func(st *streamStats) { st.dropped++ })
}

// IncrPublished counts one packet accepted by the sink.
func (s *Stats) IncrPublished(id sensor.StreamID) {
	s.update(id, func(st *streamStats) { st.published++ })
}

// IncrRejected counts one frame skipped by a converter.
func (s *Stats) IncrRejected(id sensor.StreamID) {
	s.update(id, func(st *streamStats) { st.rejected++ })
}

// IncrCaptureErrors counts one transient capture error.
func (s *Stats) IncrCaptureErrors(id sensor.StreamID) {
	s.update(id, func(st *streamStats) { st.captureErrors++ })
}

// RecordConvert records the time spent converting one frame.
func (s *Stats) RecordConvert(id sensor.StreamID, d time.Duration) {
	s.update(id, func(st *streamStats) { st.convert.add(d) })
}

// LatencyPercentiles holds p50 and p95 values for a latency series.
type LatencyPercentiles struct {
	P50 time.Duration `json:"p50"`
	P95 time.Duration `json:"p95"`
}

// StreamSnapshot is a point-in-time view of one stream.
type StreamSnapshot struct {
	Capturing     bool               `json:"capturing"`
	Captured      int64              `json:"captured"`
	Dropped       int64              `json:"dropped"`
	Published     int64              `json:"published"`
	Rejected      int64              `json:"rejected"`
	CaptureErrors int64              `json:"capture_errors"`
	Convert       LatencyPercentiles `json:"convert"`
}

// Snapshot returns a point-in-time view of every stream.
func (s *Stats) Snapshot() map[sensor.StreamID]StreamSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[sensor.StreamID]StreamSnapshot, len(s.streams))
	for id, st := range s.streams {
		out[id] = StreamSnapshot{
			Capturing:     st.capturing,
			Captured:      st.captured,
			Dropped:       st.dropped,
			Published:     st.published,
			Rejected:      st.rejected,
			CaptureErrors: st.captureErrors,
			Convert:       st.convert.percentiles(),
		}
	}
	return out
}

// latencyBuffer is a bounded ring of duration samples.
type latencyBuffer struct {
	data []time.Duration
	pos  int
	full bool
}

func newLatencyBuffer(size int) latencyBuffer {
	return latencyBuffer{data: make([]time.Duration, size)}
}

func (lb *latencyBuffer) add(d time.Duration) {
	lb.data[lb.pos] = d
	lb.pos++
	if lb.pos == len(lb.data) {
		lb.pos = 0
		lb.full = true
	}
}

func (lb *latencyBuffer) percentiles() LatencyPercentiles {
	n := lb.pos
	if lb.full {
		n = len(lb.data)
	}
	if n == 0 {
		return LatencyPercentiles{}
	}
	sorted := slices.Clone(lb.data[:n])
	slices.Sort(sorted)
	return LatencyPercentiles{
		P50: percentile(sorted, 0.50),
		P95: percentile(sorted, 0.95),
	}
}

// percentile returns the nearest-rank value at p (0.0-1.0) of a sorted slice.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	return sorted[max(0, min(idx, len(sorted)-1))]
}
