package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/sensorbridge/internal/app"
	"github.com/MrWong99/sensorbridge/internal/config"
	"github.com/MrWong99/sensorbridge/internal/observe"
	"github.com/MrWong99/sensorbridge/pkg/sensor"
)

// shutdownTimeout bounds the graceful shutdown after a signal.
const shutdownTimeout = 15 * time.Second

// ServeOptions holds serve command options.
type ServeOptions struct {
	ConfigPath string
}

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	opts := &ServeOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge",
		Long: `Run the bridge: wait for the sensor, then serve the color and infrared
mounts over WebSocket. Each modality is opened only while it has subscribers.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return reportErr(runServe(cmd.Context(), opts))
		},
	}
	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "config.yaml", "path to the YAML configuration file")

	return cmd
}

func runServe(parent context.Context, opts *ServeOptions) error {
	if parent == nil {
		parent = context.Background()
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("config file %q not found, copy configs/sensorbridge.yaml to get started", opts.ConfigPath)
		}
		return err
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	levelVar := new(slog.LevelVar)
	levelVar.Set(cfg.Server.LogLevel.SlogLevel())
	slog.SetDefault(newLogger(levelVar))

	slog.Info("sensorbridge starting",
		"version", version,
		"config", opts.ConfigPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(parent, observe.ProviderConfig{
		ServiceName:    "sensorbridge",
		ServiceVersion: version,
		RuntimeMetrics: true,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(ctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Driver ────────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinDrivers(reg, cfg.Streams.Audio.SampleRate)

	drv, err := reg.CreateDriver(cfg.Device)
	if err != nil {
		if errors.Is(err, config.ErrDriverNotRegistered) {
			return fmt.Errorf("%w (available: %v)", err, reg.Drivers())
		}
		return err
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, drv,
		app.WithMetricsHandler(tel.Handler()),
		app.WithLevelVar(levelVar),
		app.WithConfigWatch(opts.ConfigPath, 0),
	)
	if err != nil {
		return err
	}

	printStartupSummary(os.Stdout, cfg, drv, application)
	slog.Info("server ready, press Ctrl+C to shut down")

	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	slog.Info("shutdown signal received, stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	slog.Info("goodbye")
	return nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(w io.Writer, cfg *config.Config, drv sensor.Driver, a *app.App) {
	fmt.Fprintln(w, "╔══════════════════════════════════════════════════════════╗")
	fmt.Fprintln(w, "║              sensorbridge: startup summary               ║")
	fmt.Fprintln(w, "╠══════════════════════════════════════════════════════════╣")
	fmt.Fprintf(w, "║  Driver          : %-38s ║\n", drv.Name())
	fmt.Fprintf(w, "║  Listen addr     : %-38s ║\n", a.Addr().String())
	fmt.Fprintf(w, "║  Tone map        : %-38s ║\n", truncate(cfg.ToneMap.Path, 38))
	fmt.Fprintf(w, "║  Audio           : %-38s ║\n",
		fmt.Sprintf("%d Hz, %d samples/packet", cfg.Streams.Audio.SampleRate, cfg.Streams.Audio.ChunkSamples))
	for _, u := range a.StreamURLs() {
		fmt.Fprintf(w, "║  Stream          : %-38s ║\n", truncate(u, 38))
	}
	fmt.Fprintln(w, "╚══════════════════════════════════════════════════════════╝")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
