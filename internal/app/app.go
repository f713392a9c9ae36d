// Package app wires all sensorbridge subsystems into a running application.
//
// The App struct owns the full lifecycle: New waits for the device and
// builds every subsystem, Run executes the capture and publish workers
// alongside the HTTP server, and Shutdown tears everything down in order.
//
// For testing, pass a mock driver to New and inject instruments via
// functional options (WithMetrics, WithLevelVar, etc.).
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/sensorbridge/internal/config"
	"github.com/MrWong99/sensorbridge/internal/health"
	"github.com/MrWong99/sensorbridge/internal/observe"
	"github.com/MrWong99/sensorbridge/internal/pipeline"
	"github.com/MrWong99/sensorbridge/internal/sink/relay"
	"github.com/MrWong99/sensorbridge/internal/tonemap"
	"github.com/MrWong99/sensorbridge/pkg/audio"
	"github.com/MrWong99/sensorbridge/pkg/sensor"
)

// statsWindow is the number of convert latencies kept per stream.
const statsWindow = 100

// serverStopTimeout bounds the HTTP server drain when Run's context ends.
const serverStopTimeout = 5 * time.Second

// videoMounts are the relay mount points. Audio has no mount of its own;
// it is muxed into both.
var videoMounts = []sensor.StreamID{sensor.StreamColor, sensor.StreamInfrared}

// worker is one long-lived goroutine run by [App.Run].
type worker struct {
	name string
	run  func(ctx context.Context) error
}

// App owns all subsystem lifetimes and orchestrates the sensor bridge.
type App struct {
	cfg    *config.Config
	driver sensor.Driver

	metrics    *observe.Metrics
	metricsH   http.Handler
	levelVar   *slog.LevelVar
	configPath string
	configPoll time.Duration

	// Subsystems, initialised in New and torn down in Shutdown.
	gates    *pipeline.Gates
	stats    *pipeline.Stats
	toneMap  *tonemap.Manager
	relay    *relay.Relay
	health   *health.Handler
	color    *pipeline.FrameChannel[sensor.ColorFrame]
	infrared *pipeline.FrameChannel[sensor.InfraredFrame]
	audio    *pipeline.FrameChannel[sensor.AudioFrame]
	workers  []worker
	listener net.Listener
	server   *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithMetrics sets the instruments used by every subsystem. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler sets the /metrics handler. Defaults to the default
// Prometheus registry.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsH = h }
}

// WithLevelVar sets the level variable that live log level changes are
// applied to.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.levelVar = lv }
}

// WithConfigWatch enables hot reload of the main config file at path,
// polled every interval. A non-positive interval uses the watcher default.
func WithConfigWatch(path string, interval time.Duration) Option {
	return func(a *App) {
		a.configPath = path
		a.configPoll = interval
	}
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together around driver.
//
// New performs all initialisation synchronously: it waits for the device
// to report availability, loads the tone map, builds the frame channels,
// loops and relay, and binds the HTTP listener. A device that never becomes
// available and a listener that cannot bind are both fatal.
func New(ctx context.Context, cfg *config.Config, driver sensor.Driver, opts ...Option) (*App, error) {
	a := &App{
		cfg:    cfg,
		driver: driver,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.metricsH == nil {
		a.metricsH = promhttp.Handler()
	}

	// ── 1. Device ────────────────────────────────────────────────────────
	if err := waitForDevice(ctx, driver, cfg.Device.StartupAttempts, cfg.Device.StartupInterval); err != nil {
		return nil, err
	}

	if sr, ok := driver.(sensor.SampleRater); ok && sr.SampleRate() != cfg.Streams.Audio.SampleRate {
		return nil, fmt.Errorf("app: driver %q captures audio at %d Hz but streams.audio.sample_rate is %d",
			driver.Name(), sr.SampleRate(), cfg.Streams.Audio.SampleRate)
	}

	// ── 2. Tone map ──────────────────────────────────────────────────────
	a.toneMap = tonemap.NewManager(cfg.ToneMap.Path,
		tonemap.WithPollInterval(cfg.ToneMap.PollInterval),
		tonemap.WithMetrics(a.metrics),
	)

	// ── 3. Gates, stats and relay ────────────────────────────────────────
	a.gates = pipeline.NewGates(a.metrics, videoMounts...)
	a.stats = pipeline.NewStats(statsWindow, sensor.Streams...)
	a.relay = relay.New(a.gates, videoMounts,
		relay.WithSubscriberBuffer(cfg.Relay.SubscriberBuffer),
		relay.WithAudioFormat(audio.Format{SampleRate: cfg.Streams.Audio.SampleRate, Channels: 1}),
		relay.WithSnapshots(cfg.Relay.SnapshotEnabled()),
		relay.WithOriginPatterns(cfg.Relay.OriginPatterns...),
	)
	a.closers = append(a.closers, func() error {
		a.relay.Close()
		return nil
	})

	// ── 4. Pipelines ─────────────────────────────────────────────────────
	a.initPipelines()

	// ── 5. Config watcher ────────────────────────────────────────────────
	if a.configPath != "" {
		var wopts []config.WatcherOption
		if a.configPoll > 0 {
			wopts = append(wopts, config.WithInterval(a.configPoll))
		}
		w, err := config.NewWatcher(a.configPath, a.onConfigChange, wopts...)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		a.workers = append(a.workers, worker{name: "config-watcher", run: w.Run})
	}

	// ── 6. HTTP ──────────────────────────────────────────────────────────
	if err := a.initHTTP(); err != nil {
		return nil, err
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// waitForDevice polls Available up to attempts times, pausing interval
// between checks.
func waitForDevice(ctx context.Context, d sensor.Driver, attempts int, interval time.Duration) error {
	attempts = max(attempts, 1)
	var lastErr error
	for i := range attempts {
		ok, err := d.Available()
		if ok && err == nil {
			slog.Info("device available", "driver", d.Name(), "attempt", i+1)
			return nil
		}
		lastErr = err
		slog.Debug("device not ready", "driver", d.Name(), "attempt", i+1, "err", err)

		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("app: wait for device: %w", ctx.Err())
		case <-time.After(interval):
		}
	}
	if lastErr != nil {
		return fmt.Errorf("app: device %q after %d attempts: %w", d.Name(), attempts, errors.Join(sensor.ErrDeviceUnavailable, lastErr))
	}
	return fmt.Errorf("app: device %q after %d attempts: %w", d.Name(), attempts, sensor.ErrDeviceUnavailable)
}

// initPipelines builds the frame channel, capture loop and publish loop of
// every modality.
func (a *App) initPipelines() {
	s := a.cfg.Streams
	instr := []pipeline.Option{pipeline.WithMetrics(a.metrics), pipeline.WithStats(a.stats)}

	a.color = pipeline.NewFrameChannel[sensor.ColorFrame](s.Color.Capacity)
	a.infrared = pipeline.NewFrameChannel[sensor.InfraredFrame](s.Infrared.Capacity)
	a.audio = pipeline.NewFrameChannel[sensor.AudioFrame](s.Audio.Capacity)

	colorCapture := pipeline.NewCaptureLoop(captureConfig(sensor.StreamColor, s.Color),
		a.driver.Color(), a.color, a.gates.Gate(sensor.StreamColor), instr...)
	infraredCapture := pipeline.NewCaptureLoop(captureConfig(sensor.StreamInfrared, s.Infrared),
		a.driver.Infrared(), a.infrared, a.gates.Gate(sensor.StreamInfrared), instr...)
	audioCapture := pipeline.NewCaptureLoop(captureConfig(sensor.StreamAudio, s.Audio.StreamConfig),
		a.driver.Audio(), a.audio, a.gates.Gate(s.Audio.GateStreams...), instr...)

	colorPublish := pipeline.NewPublishLoop(publishConfig(sensor.StreamColor, s.Color),
		a.color, pipeline.ColorConverter{}, a.relay, instr...)
	infraredPublish := pipeline.NewPublishLoop(publishConfig(sensor.StreamInfrared, s.Infrared),
		a.infrared, pipeline.NewInfraredConverter(a.toneMap, a.cfg.ToneMap.RefreshInterval), a.relay, instr...)
	audioPublish := pipeline.NewPublishLoop(publishConfig(sensor.StreamAudio, s.Audio.StreamConfig),
		a.audio, pipeline.NewAudioConverter(s.Audio.ChunkSamples), a.relay, instr...)

	a.workers = append(a.workers,
		worker{name: "capture-color", run: colorCapture.Run},
		worker{name: "capture-infrared", run: infraredCapture.Run},
		worker{name: "capture-audio", run: audioCapture.Run},
		worker{name: "publish-color", run: colorPublish.Run},
		worker{name: "publish-infrared", run: infraredPublish.Run},
		worker{name: "publish-audio", run: audioPublish.Run},
		worker{name: "tonemap", run: a.toneMap.Run},
	)
}

func captureConfig(id sensor.StreamID, s config.StreamConfig) pipeline.CaptureConfig {
	return pipeline.CaptureConfig{
		Stream:          id,
		IdleInterval:    s.IdleInterval,
		NoFrameInterval: s.NoFrameInterval,
		StarvationWarn:  s.StarvationWarn,
	}
}

func publishConfig(id sensor.StreamID, s config.StreamConfig) pipeline.PublishConfig {
	return pipeline.PublishConfig{Stream: id, DrainInterval: s.DrainInterval}
}

// initHTTP builds the mux and binds the listener.
func (a *App) initHTTP() error {
	a.health = health.New(
		health.WithChecker(health.DeviceChecker(a.driver)),
		health.WithChecker(health.LoadedChecker("tonemap", a.toneMap.Loaded)),
		health.WithStatus(func() any { return a.Status() }),
	)

	mux := http.NewServeMux()
	a.relay.Register(mux)
	a.health.Register(mux)
	mux.Handle("GET /metrics", a.metricsH)

	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", a.cfg.Server.ListenAddr, err)
	}
	a.listener = ln
	a.server = &http.Server{
		Handler:           observe.Middleware(a.metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return nil
}

// ─── Status ──────────────────────────────────────────────────────────────────

// StreamStatus is the /streams entry for one modality.
type StreamStatus struct {
	Active      bool                    `json:"active"`
	Subscribers int64                   `json:"subscribers"`
	Depth       int                     `json:"depth"`
	Capacity    int                     `json:"capacity"`
	Drops       uint64                  `json:"drops"`
	Stats       pipeline.StreamSnapshot `json:"stats"`
}

// Status reports the gate, channel and counter state of every modality.
func (a *App) Status() map[sensor.StreamID]StreamStatus {
	snap := a.stats.Snapshot()
	out := make(map[sensor.StreamID]StreamStatus, len(sensor.Streams))

	out[sensor.StreamColor] = StreamStatus{
		Active:      a.gates.IsActive(sensor.StreamColor),
		Subscribers: a.gates.Count(sensor.StreamColor),
		Depth:       a.color.Len(),
		Capacity:    a.color.Cap(),
		Drops:       a.color.Drops(),
		Stats:       snap[sensor.StreamColor],
	}
	out[sensor.StreamInfrared] = StreamStatus{
		Active:      a.gates.IsActive(sensor.StreamInfrared),
		Subscribers: a.gates.Count(sensor.StreamInfrared),
		Depth:       a.infrared.Len(),
		Capacity:    a.infrared.Cap(),
		Drops:       a.infrared.Drops(),
		Stats:       snap[sensor.StreamInfrared],
	}

	var audioSubs int64
	for _, id := range a.cfg.Streams.Audio.GateStreams {
		audioSubs += a.gates.Count(id)
	}
	out[sensor.StreamAudio] = StreamStatus{
		Active:      a.gates.IsAnyActive(a.cfg.Streams.Audio.GateStreams...),
		Subscribers: audioSubs,
		Depth:       a.audio.Len(),
		Capacity:    a.audio.Cap(),
		Drops:       a.audio.Drops(),
		Stats:       snap[sensor.StreamAudio],
	}
	return out
}

// Addr returns the bound listener address.
func (a *App) Addr() net.Addr { return a.listener.Addr() }

// StreamURLs returns the subscription URL of every mount, in mount order.
// The base is server.public_url when set and the listener address otherwise.
func (a *App) StreamURLs() []string {
	base := a.baseURL()
	urls := make([]string, 0, len(videoMounts))
	for _, m := range videoMounts {
		urls = append(urls, base.JoinPath("streams", string(m)).String())
	}
	return urls
}

func (a *App) baseURL() *url.URL {
	if a.cfg.Server.PublicURL != "" {
		if u, err := url.Parse(a.cfg.Server.PublicURL); err == nil {
			return u
		}
	}
	scheme := "ws"
	if a.cfg.Server.TLS != nil {
		scheme = "wss"
	}
	host, port, err := net.SplitHostPort(a.listener.Addr().String())
	if err != nil {
		return &url.URL{Scheme: scheme, Host: a.listener.Addr().String()}
	}
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		host = "localhost"
	}
	return &url.URL{Scheme: scheme, Host: net.JoinHostPort(host, port)}
}

// ─── Config reload ───────────────────────────────────────────────────────────

// onConfigChange applies the live-reloadable subset of a new main config.
func (a *App) onConfigChange(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.LogLevelChanged {
		if a.levelVar != nil {
			a.levelVar.Set(d.NewLogLevel.SlogLevel())
		}
		slog.Info("config reloaded: log level applied", "log_level", d.NewLogLevel)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changed: restart required to apply", "sections", d.RestartRequired)
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts every worker and the HTTP server and blocks until ctx is
// cancelled. Worker errors are logged and contained; a sibling never stops
// because another failed. Run returns a non-nil error only when the HTTP
// server fails, which also stops every worker.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var g errgroup.Group

	for _, w := range a.workers {
		g.Go(func() error {
			if err := w.run(ctx); err != nil {
				slog.Error("worker stopped", "worker", w.name, "err", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ServeTLS(a.listener, tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.Serve(a.listener)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			cancel()
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		// Subscriber sessions are hijacked connections that server
		// shutdown does not wait for; end them first.
		a.relay.Close()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), serverStopTimeout)
		defer cancel()
		if err := a.server.Shutdown(sctx); err != nil {
			slog.Warn("http shutdown error", "err", err)
		}
		return nil
	})

	return g.Wait()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if err := a.server.Shutdown(ctx); err != nil {
			slog.Warn("http shutdown error", "err", err)
		}
		// Serve closes the listener itself; this covers Shutdown without Run.
		if err := a.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			slog.Warn("listener close error", "err", err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
