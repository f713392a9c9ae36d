// Package relay is a WebSocket streaming sink for the capture pipeline.
//
// Each mount (color, infrared) is served at GET /streams/{mount}. A client
// connection is one subscriber session: it is announced to the configured
// [pipeline.SessionObserver] on connect and on disconnect, which is what
// turns capture on and off.
//
// After the handshake the server sends a JSON "caps" text message describing
// the mount's tracks, then binary messages of the form
//
//	[track byte][payload]
//
// where track 0 carries raw video frames and track 1 carries 16-bit
// little-endian PCM audio. Audio is shared by every mount. When the video
// geometry changes a fresh caps message precedes the next frame.
//
// Every subscriber has a bounded queue. A subscriber that cannot keep up
// loses packets; it never slows down [Relay.Submit] or other subscribers.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/sensorbridge/internal/pipeline"
	"github.com/MrWong99/sensorbridge/pkg/audio"
	"github.com/MrWong99/sensorbridge/pkg/sensor"
)

// ErrUnknownMount is returned by [Relay.Submit] for a video packet whose
// stream is not a configured mount.
var ErrUnknownMount = errors.New("relay: unknown mount")

// DefaultSubscriberBuffer is the per-subscriber queue length.
const DefaultSubscriberBuffer = 8

// writeTimeout bounds a single WebSocket write.
const writeTimeout = 5 * time.Second

// VideoCaps describes the video track of a mount.
type VideoCaps struct {
	Format sensor.PixelFormat `json:"format"`
	Width  int                `json:"width"`
	Height int                `json:"height"`
}

// AudioCaps describes the shared audio track.
type AudioCaps struct {
	Format   string `json:"format"`
	Rate     int    `json:"rate"`
	Channels int    `json:"channels"`
}

// capsMessage is the JSON text message announcing a mount's tracks.
type capsMessage struct {
	Type    string    `json:"type"`
	Session string    `json:"session"`
	Mount   string    `json:"mount"`
	Video   VideoCaps `json:"video"`
	Audio   AudioCaps `json:"audio"`
}

// Option configures a [Relay].
type Option func(*Relay)

// WithSubscriberBuffer sets the per-subscriber queue length.
func WithSubscriberBuffer(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.bufSize = n
		}
	}
}

// WithAudioFormat sets the format announced for the audio track.
func WithAudioFormat(f audio.Format) Option {
	return func(r *Relay) { r.audio = f }
}

// WithSnapshots keeps the most recent video frame of every mount so that it
// can be served by the snapshot handler.
func WithSnapshots(enabled bool) Option {
	return func(r *Relay) { r.snapshots = enabled }
}

// WithOriginPatterns sets the host patterns of cross-origin pages allowed to
// subscribe, in [path.Match] syntax (e.g. "dashboard.lan:*"). With none set
// only same-origin browsers and non-browser clients are accepted.
func WithOriginPatterns(patterns ...string) Option {
	return func(r *Relay) { r.origins = append([]string(nil), patterns...) }
}

// Relay fans converted packets out to WebSocket subscribers. It implements
// [pipeline.Sink]. All methods are safe for concurrent use.
type Relay struct {
	observer  pipeline.SessionObserver
	bufSize   int
	audio     audio.Format
	snapshots bool
	origins   []string

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	mounts map[sensor.StreamID]*mount
}

var _ pipeline.Sink = (*Relay)(nil)

// mount is the per-stream subscriber set and latest video state.
type mount struct {
	name sensor.StreamID
	subs map[*subscriber]struct{}
	caps VideoCaps
	last *frame
}

// frame is an immutable copy of a submitted video frame.
type frame struct {
	caps VideoCaps
	data []byte
	at   time.Time
}

// New creates a relay serving the given mounts. observer is notified of
// every session start and end.
func New(observer pipeline.SessionObserver, mounts []sensor.StreamID, opts ...Option) *Relay {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Relay{
		observer: observer,
		bufSize:  DefaultSubscriberBuffer,
		audio:    audio.Format{SampleRate: 16000, Channels: 1},
		ctx:      ctx,
		cancel:   cancel,
		mounts:   make(map[sensor.StreamID]*mount, len(mounts)),
	}
	for _, opt := range opts {
		opt(r)
	}
	for _, m := range mounts {
		r.mounts[m] = &mount{name: m, subs: make(map[*subscriber]struct{})}
	}
	return r
}

// Mounts returns the served mount names.
func (r *Relay) Mounts() []sensor.StreamID {
	out := make([]sensor.StreamID, 0, len(r.mounts))
	for _, s := range sensor.Streams {
		if _, ok := r.mounts[s]; ok {
			out = append(out, s)
		}
	}
	return out
}

// Subscribers returns the number of connected sessions on a mount.
func (r *Relay) Subscribers(name sensor.StreamID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if m, ok := r.mounts[name]; ok {
		return len(m.subs)
	}
	return 0
}

// Submit implements [pipeline.Sink]. The payload is copied, so the caller
// may reuse pkt.Data as soon as Submit returns.
func (r *Relay) Submit(pkt pipeline.Packet) error {
	msg := make([]byte, 1+len(pkt.Data))
	msg[0] = byte(pkt.Track)
	copy(msg[1:], pkt.Data)

	r.mu.Lock()
	defer r.mu.Unlock()

	if pkt.Track == pipeline.TrackAudio {
		for _, m := range r.mounts {
			r.broadcast(m, outbound{binary: true, data: msg})
		}
		return nil
	}

	m, ok := r.mounts[pkt.Stream]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMount, pkt.Stream)
	}

	caps := VideoCaps{Format: pkt.Format, Width: pkt.Width, Height: pkt.Height}
	if caps != m.caps {
		m.caps = caps
		for sub := range m.subs {
			sub.enqueue(outbound{data: r.capsJSON(m, sub.id)})
		}
	}
	if r.snapshots {
		m.last = &frame{caps: caps, data: msg[1:], at: time.Now()}
	}
	r.broadcast(m, outbound{binary: true, data: msg})
	return nil
}

// broadcast queues msg for every subscriber of m. Callers hold r.mu.
func (r *Relay) broadcast(m *mount, msg outbound) {
	for sub := range m.subs {
		sub.enqueue(msg)
	}
}

func (r *Relay) capsJSON(m *mount, session string) []byte {
	data, _ := json.Marshal(capsMessage{
		Type:    "caps",
		Session: session,
		Mount:   string(m.name),
		Video:   m.caps,
		Audio: AudioCaps{
			Format:   "S16LE",
			Rate:     r.audio.SampleRate,
			Channels: r.audio.Channels,
		},
	})
	return data
}

// attach registers a new subscriber on the named mount and queues its caps
// message.
func (r *Relay) attach(name sensor.StreamID) (*subscriber, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.mounts[name]
	if !ok {
		return nil, false
	}
	sub := newSubscriber(uuid.NewString(), r.bufSize)
	sub.enqueue(outbound{data: r.capsJSON(m, sub.id)})
	m.subs[sub] = struct{}{}
	return sub, true
}

func (r *Relay) detach(name sensor.StreamID, sub *subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.mounts[name]; ok {
		delete(m.subs, sub)
	}
}

// Snapshot returns the latest video frame of a mount, or false when none
// has been kept.
func (r *Relay) Snapshot(name sensor.StreamID) (VideoCaps, []byte, time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.mounts[name]
	if !ok || m.last == nil {
		return VideoCaps{}, nil, time.Time{}, false
	}
	return m.last.caps, m.last.data, m.last.at, true
}

// Close disconnects every subscriber. Sessions end through the normal path,
// so the observer sees a SessionEnded for each.
func (r *Relay) Close() {
	r.cancel()
}

// outbound is one queued WebSocket message. Text messages carry JSON.
type outbound struct {
	binary bool
	data   []byte
}

// subscriber is one connected session.
type subscriber struct {
	id    string
	queue chan outbound

	mu    sync.Mutex
	drops int64
}

func newSubscriber(id string, size int) *subscriber {
	return &subscriber{id: id, queue: make(chan outbound, size)}
}

// enqueue adds msg without blocking; a full queue drops it.
func (s *subscriber) enqueue(msg outbound) {
	select {
	case s.queue <- msg:
	default:
		s.mu.Lock()
		s.drops++
		n := s.drops
		s.mu.Unlock()
		if n == 1 || n%100 == 0 {
			slog.Debug("relay: subscriber queue full, packet dropped", "session", s.id, "drops", n)
		}
	}
}

func (s *subscriber) dropped() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drops
}
