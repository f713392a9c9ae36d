package pipeline_test

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/sensorbridge/internal/pipeline"
	"github.com/MrWong99/sensorbridge/pkg/sensor"
	"github.com/MrWong99/sensorbridge/pkg/sensor/mock"
)

var fastCapture = pipeline.CaptureConfig{
	Stream:          sensor.StreamColor,
	IdleInterval:    time.Millisecond,
	NoFrameInterval: time.Millisecond,
}

func colorFrame(tag byte) sensor.ColorFrame {
	return sensor.ColorFrame{Width: 1, Height: 1, Format: sensor.FormatYUY2, Data: []byte{tag, 0x80}}
}

func TestCaptureLoop_IdleNeverOpens(t *testing.T) {
	t.Parallel()

	src := &mock.Source[sensor.ColorFrame]{}
	ch := pipeline.NewFrameChannel[sensor.ColorFrame](4)
	loop := pipeline.NewCaptureLoop(fastCapture, src, ch, func() bool { return false })

	stop, _ := runLoop(t, loop.Run)
	time.Sleep(20 * time.Millisecond)
	if err := stop(); err != nil {
		t.Fatalf("Run = %v", err)
	}
	if open, _, _ := src.Counts(); open != 0 {
		t.Errorf("Open called %d times while idle", open)
	}
}

func TestCaptureLoop_FollowsGate(t *testing.T) {
	t.Parallel()

	src := &mock.Source[sensor.ColorFrame]{}
	ch := pipeline.NewFrameChannel[sensor.ColorFrame](4)
	stats := pipeline.NewStats(10, sensor.StreamColor)
	var active atomic.Bool
	loop := pipeline.NewCaptureLoop(fastCapture, src, ch, active.Load, pipeline.WithStats(stats))

	stop, _ := runLoop(t, loop.Run)

	active.Store(true)
	waitFor(t, "device open", src.Held)
	src.Push(colorFrame(1), colorFrame(2))
	waitFor(t, "frames queued", func() bool { return ch.Len() == 2 })

	if !stats.Snapshot()[sensor.StreamColor].Capturing {
		t.Error("stats do not report capturing")
	}

	active.Store(false)
	waitFor(t, "device released", func() bool { return !src.Held() })
	if open, closed, frames := src.Counts(); open != 1 || closed != 1 || frames != 1 {
		t.Errorf("Counts = (%d, %d, %d), want (1, 1, 1)", open, closed, frames)
	}

	active.Store(true)
	waitFor(t, "device reopened", src.Held)
	if err := stop(); err != nil {
		t.Fatalf("Run = %v", err)
	}
	if src.Held() {
		t.Error("device still held after cancellation")
	}
	if open, closed, _ := src.Counts(); open != 2 || closed != 2 {
		t.Errorf("open=%d close=%d, want 2 2", open, closed)
	}

	for i, want := range []byte{1, 2} {
		f, ok := ch.Pop()
		if !ok || f.Data[0] != want {
			t.Fatalf("frame %d = %v (ok=%v), want tag %d", i, f, ok, want)
		}
	}
	if got := stats.Snapshot()[sensor.StreamColor].Captured; got != 2 {
		t.Errorf("Captured = %d, want 2", got)
	}
}

func TestCaptureLoop_OpenFailureEndsLoop(t *testing.T) {
	t.Parallel()

	src := &mock.Source[sensor.ColorFrame]{OpenErr: sensor.ErrDeviceBusy}
	ch := pipeline.NewFrameChannel[sensor.ColorFrame](4)
	loop := pipeline.NewCaptureLoop(fastCapture, src, ch, func() bool { return true })

	_, done := runLoop(t, loop.Run)
	select {
	case err := <-done:
		if !errors.Is(err, sensor.ErrDeviceBusy) {
			t.Errorf("Run = %v, want ErrDeviceBusy", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestCaptureLoop_IteratorFailureReleasesHandle(t *testing.T) {
	t.Parallel()

	iterErr := errors.New("stream setup failed")
	src := &mock.Source[sensor.ColorFrame]{FramesErr: iterErr}
	ch := pipeline.NewFrameChannel[sensor.ColorFrame](4)
	loop := pipeline.NewCaptureLoop(fastCapture, src, ch, func() bool { return true })

	_, done := runLoop(t, loop.Run)
	select {
	case err := <-done:
		if !errors.Is(err, iterErr) {
			t.Errorf("Run = %v, want %v", err, iterErr)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	if src.Held() {
		t.Error("handle left open after iterator failure")
	}
}

func TestCaptureLoop_TransientErrorsContinue(t *testing.T) {
	t.Parallel()

	src := &mock.Source[sensor.ColorFrame]{}
	src.PushErr(errors.New("usb hiccup"))
	src.Push(colorFrame(7))
	ch := pipeline.NewFrameChannel[sensor.ColorFrame](4)
	stats := pipeline.NewStats(10)
	loop := pipeline.NewCaptureLoop(fastCapture, src, ch, func() bool { return true }, pipeline.WithStats(stats))

	stop, _ := runLoop(t, loop.Run)
	waitFor(t, "frame after error", func() bool { return ch.Len() == 1 })
	if err := stop(); err != nil {
		t.Fatalf("Run = %v", err)
	}

	snap := stats.Snapshot()[sensor.StreamColor]
	if snap.CaptureErrors != 1 || snap.Captured != 1 {
		t.Errorf("errors=%d captured=%d, want 1 1", snap.CaptureErrors, snap.Captured)
	}
}

func TestCaptureLoop_DropsWhenChannelFull(t *testing.T) {
	t.Parallel()

	src := &mock.Source[sensor.ColorFrame]{}
	for i := range 5 {
		src.Push(colorFrame(byte(i)))
	}
	ch := pipeline.NewFrameChannel[sensor.ColorFrame](2)
	stats := pipeline.NewStats(10)
	loop := pipeline.NewCaptureLoop(fastCapture, src, ch, func() bool { return true }, pipeline.WithStats(stats))

	stop, _ := runLoop(t, loop.Run)
	waitFor(t, "queue drained", func() bool { return src.Pending() == 0 })
	if err := stop(); err != nil {
		t.Fatalf("Run = %v", err)
	}

	if got := ch.Drops(); got != 3 {
		t.Errorf("channel drops = %d, want 3", got)
	}
	if got := stats.Snapshot()[sensor.StreamColor].Dropped; got != 3 {
		t.Errorf("stats dropped = %d, want 3", got)
	}
	// The oldest frames survive.
	for _, want := range []byte{0, 1} {
		f, _ := ch.Pop()
		if f.Data[0] != want {
			t.Errorf("kept frame %d, want %d", f.Data[0], want)
		}
	}
}
