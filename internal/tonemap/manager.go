package tonemap

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/sensorbridge/internal/observe"
)

// DefaultPollInterval is how often [Manager.Run] checks the file's mtime.
const DefaultPollInterval = time.Second

// Reload outcomes recorded by the manager.
const (
	ReloadApplied   = "applied"
	ReloadUnchanged = "unchanged"
	ReloadRejected  = "rejected"
)

// Manager keeps a [LUT] in sync with a tone-map file on disk.
//
// The file is polled by mtime. A changed file that parses and validates
// replaces the current config; the table is only regenerated when the new
// config differs from the current one by at least [Tolerance]. Invalid files
// are logged and ignored, leaving the previous table in place.
//
// All methods are safe for concurrent use. Readers obtain the current table
// with [Manager.LUT], which never blocks on a reload in progress for longer
// than a pointer swap.
type Manager struct {
	path     string
	interval time.Duration
	metrics  *observe.Metrics

	mu        sync.RWMutex
	cfg       Config
	lut       *LUT
	lastMtime time.Time
	loaded    bool
	statFail  bool
}

// Option configures a [Manager].
type Option func(*Manager)

// WithPollInterval sets the polling interval. Non-positive values are ignored.
func WithPollInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithMetrics sets the metrics sink for reload outcomes. The default is
// [observe.DefaultMetrics].
func WithMetrics(met *observe.Metrics) Option {
	return func(m *Manager) {
		if met != nil {
			m.metrics = met
		}
	}
}

// NewManager creates a manager for the file at path and performs the initial
// load synchronously. When the file is missing or invalid the manager starts
// with [Default] and picks the file up on a later poll.
func NewManager(path string, opts ...Option) *Manager {
	m := &Manager{
		path:     path,
		interval: DefaultPollInterval,
		cfg:      Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}

	info, err := os.Stat(path)
	if err == nil {
		m.lastMtime = info.ModTime()
		cfg, lerr := Load(path)
		if lerr == nil {
			m.cfg = cfg
			m.loaded = true
		} else {
			err = lerr
		}
	}
	if err != nil {
		slog.Warn("tonemap: using default config", "path", path, "err", err)
	} else {
		slog.Info("tonemap: config loaded", "path", path,
			"output_min", m.cfg.OutputMin,
			"output_max", m.cfg.OutputMax,
			"source_scale", m.cfg.SourceScale,
		)
	}
	m.lut = Generate(m.cfg)
	return m
}

// Path returns the watched file path.
func (m *Manager) Path() string { return m.path }

// Current returns the config the current table was generated from.
func (m *Manager) Current() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// LUT returns the current table. The returned table is immutable; a reload
// swaps in a new one.
func (m *Manager) LUT() *LUT {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lut
}

// Loaded reports whether a config has ever been loaded from the file.
func (m *Manager) Loaded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loaded
}

// Run polls the file until ctx is cancelled. It always returns nil.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			_, _ = m.Check(ctx)
		}
	}
}

// Check performs one poll. It reports whether the table was regenerated.
// A non-nil error means the file changed but could not be applied; the
// previous table stays in effect.
func (m *Manager) Check(ctx context.Context) (bool, error) {
	info, err := os.Stat(m.path)
	if err != nil {
		m.mu.Lock()
		first := !m.statFail
		m.statFail = true
		m.mu.Unlock()
		if first {
			slog.Warn("tonemap: cannot stat file", "path", m.path, "err", err)
		}
		return false, nil
	}

	m.mu.Lock()
	if m.statFail {
		m.statFail = false
		slog.Info("tonemap: file is readable again", "path", m.path)
	}
	if info.ModTime().Equal(m.lastMtime) {
		m.mu.Unlock()
		return false, nil
	}
	// A rejected file is reported once per modification, not once per poll.
	m.lastMtime = info.ModTime()
	m.mu.Unlock()

	return m.reload(ctx)
}

func (m *Manager) reload(ctx context.Context) (bool, error) {
	ctx, span := observe.StartSpan(ctx, "tonemap.reload",
		trace.WithAttributes(attribute.String("tonemap.path", m.path)))
	defer span.End()
	log := observe.Logger(ctx, "path", m.path)

	cfg, err := Load(m.path)
	if err != nil {
		observe.FailSpan(span, ReloadRejected, err)
		m.metrics.RecordToneMapReload(ctx, ReloadRejected)
		log.Warn("tonemap: keeping previous config", "err", err)
		return false, err
	}

	m.mu.Lock()
	if ApproxEqual(cfg, m.cfg) {
		m.loaded = true
		m.mu.Unlock()
		m.metrics.RecordToneMapReload(ctx, ReloadUnchanged)
		log.Debug("tonemap: file touched, mapping unchanged")
		return false, nil
	}
	m.mu.Unlock()

	start := time.Now()
	lut := Generate(cfg)

	m.mu.Lock()
	m.cfg = cfg
	m.lut = lut
	m.loaded = true
	m.mu.Unlock()

	m.metrics.RecordToneMapReload(ctx, ReloadApplied)
	log.Info("tonemap: config applied",
		"output_min", cfg.OutputMin,
		"output_max", cfg.OutputMax,
		"source_scale", cfg.SourceScale,
		"generate", time.Since(start),
	)
	return true, nil
}
