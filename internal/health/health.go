// Package health provides HTTP health, readiness and stream status handlers.
//
// The package exposes three endpoints:
//
//   - /healthz: liveness probe; always returns 200 OK.
//   - /readyz: readiness probe; returns 200 only when all registered
//     [Checker] functions pass.
//   - /streams: per-stream pipeline status as reported by a [StatusFunc].
//
// Responses are JSON objects with a top-level "status" field ("ok" or "fail").
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MrWong99/sensorbridge/pkg/sensor"
)

// checkTimeout is the maximum time a single readiness check may take before
// the context is cancelled.
const checkTimeout = 5 * time.Second

// Checker is a named readiness check. Check returns nil when the dependency
// is ready and an error describing the problem otherwise.
type Checker struct {
	// Name is a short label for this check (e.g. "device", "tonemap"). It
	// appears as a key in the JSON response.
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// StatusFunc returns a JSON-encodable snapshot of the streams.
type StatusFunc func() any

// result is the JSON response body for the probe endpoints.
type result struct {
	Status  string            `json:"status"`
	Checks  map[string]string `json:"checks,omitempty"`
	Streams any               `json:"streams,omitempty"`
}

// Handler serves the health endpoints. It is safe for concurrent use; the
// checker list is fixed at construction time.
type Handler struct {
	checkers []Checker
	status   StatusFunc
}

// Option configures a [Handler].
type Option func(*Handler)

// WithChecker adds a readiness check. Checks run in the order added.
func WithChecker(c Checker) Option {
	return func(h *Handler) { h.checkers = append(h.checkers, c) }
}

// WithStatus sets the source for the /streams endpoint.
func WithStatus(fn StatusFunc) Option {
	return func(h *Handler) { h.status = fn }
}

// New creates a [Handler].
func New(opts ...Option) *Handler {
	h := &Handler{}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Healthz is a liveness probe that always returns 200 OK. A running process
// that can serve HTTP is considered alive.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz is a readiness probe that returns 200 only when every registered
// [Checker] passes. Each checker gets a [checkTimeout] deadline derived from
// the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.checkers))
	allOK := true

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			checks[c.Name] = "fail: " + err.Error()
			allOK = false
		} else {
			checks[c.Name] = "ok"
		}
	}

	res := result{Status: "ok", Checks: checks}
	status := http.StatusOK
	if !allOK {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Streams reports the current pipeline status.
func (h *Handler) Streams(w http.ResponseWriter, _ *http.Request) {
	if h.status == nil {
		writeJSON(w, http.StatusNotFound, result{Status: "fail"})
		return
	}
	writeJSON(w, http.StatusOK, result{Status: "ok", Streams: h.status()})
}

// Register adds the /healthz, /readyz and /streams routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	mux.HandleFunc("GET /streams", h.Streams)
}

// DeviceChecker reports whether the sensor is present.
func DeviceChecker(d sensor.Driver) Checker {
	return Checker{
		Name: "device",
		Check: func(ctx context.Context) error {
			ok, err := d.Available()
			if err != nil {
				return fmt.Errorf("%s: %w", d.Name(), err)
			}
			if !ok {
				return fmt.Errorf("%s: %w", d.Name(), sensor.ErrDeviceUnavailable)
			}
			return ctx.Err()
		},
	}
}

// LoadedChecker fails until loaded reports true. It is used for state that
// starts from a fallback, such as a tone map running on its defaults.
func LoadedChecker(name string, loaded func() bool) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			if !loaded() {
				return errors.New("not loaded, running on defaults")
			}
			return nil
		},
	}
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
