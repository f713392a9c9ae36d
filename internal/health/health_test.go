package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrWong99/sensorbridge/pkg/sensor/mock"
)

func decode(t *testing.T, rec *httptest.ResponseRecorder) result {
	t.Helper()
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return body
}

func TestHealthz_AlwaysReturns200(t *testing.T) {
	h := New()

	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest("GET", "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	if body := decode(t, rec); body.Status != "ok" {
		t.Errorf("status = %q, want %q", body.Status, "ok")
	}
}

func TestReadyz(t *testing.T) {
	ok := func(context.Context) error { return nil }
	fail := func(context.Context) error { return errors.New("connection refused") }

	tests := []struct {
		name       string
		checkers   []Checker
		wantStatus int
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantStatus: http.StatusOK,
		},
		{
			name:       "all pass",
			checkers:   []Checker{{Name: "device", Check: ok}, {Name: "tonemap", Check: ok}},
			wantStatus: http.StatusOK,
			wantChecks: map[string]string{"device": "ok", "tonemap": "ok"},
		},
		{
			name:       "one fails",
			checkers:   []Checker{{Name: "device", Check: fail}, {Name: "tonemap", Check: ok}},
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]string{"device": "fail: connection refused", "tonemap": "ok"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var opts []Option
			for _, c := range tc.checkers {
				opts = append(opts, WithChecker(c))
			}
			h := New(opts...)

			rec := httptest.NewRecorder()
			h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))

			if rec.Code != tc.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
			body := decode(t, rec)
			for name, want := range tc.wantChecks {
				if got := body.Checks[name]; got != want {
					t.Errorf("checks[%s] = %q, want %q", name, got, want)
				}
			}
		})
	}
}

func TestReadyz_RespectsContextCancellation(t *testing.T) {
	h := New(WithChecker(Checker{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestDeviceChecker(t *testing.T) {
	drv := mock.NewDriver()
	c := DeviceChecker(drv)
	if c.Name != "device" {
		t.Errorf("Name = %q", c.Name)
	}
	if err := c.Check(context.Background()); err != nil {
		t.Errorf("available device: %v", err)
	}

	drv.AvailableResult = false
	if err := c.Check(context.Background()); err == nil || !strings.Contains(err.Error(), "mock") {
		t.Errorf("unavailable device: err = %v", err)
	}

	drv.AvailableErr = errors.New("usb reset")
	if err := c.Check(context.Background()); err == nil || !strings.Contains(err.Error(), "usb reset") {
		t.Errorf("erroring device: err = %v", err)
	}
}

func TestLoadedChecker(t *testing.T) {
	loaded := false
	c := LoadedChecker("tonemap", func() bool { return loaded })
	if err := c.Check(context.Background()); err == nil {
		t.Error("expected failure before load")
	}
	loaded = true
	if err := c.Check(context.Background()); err != nil {
		t.Errorf("after load: %v", err)
	}
}

func TestStreams(t *testing.T) {
	h := New(WithStatus(func() any {
		return map[string]int{"color": 2}
	}))

	rec := httptest.NewRecorder()
	h.Streams(rec, httptest.NewRequest("GET", "/streams", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Status  string         `json:"status"`
		Streams map[string]int `json:"streams"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Streams["color"] != 2 {
		t.Errorf("streams = %v", body.Streams)
	}
}

func TestStreams_NoSource(t *testing.T) {
	rec := httptest.NewRecorder()
	New().Streams(rec, httptest.NewRequest("GET", "/streams", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestRegister_RoutesWork(t *testing.T) {
	h := New(
		WithChecker(Checker{Name: "device", Check: func(context.Context) error { return nil }}),
		WithStatus(func() any { return []string{} }),
	)
	mux := http.NewServeMux()
	h.Register(mux)

	for _, path := range []string{"/healthz", "/readyz", "/streams"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("%s: status = %d, want 200", path, rec.Code)
		}
	}
}
