// Package pipeline moves frames from a sensor to a streaming sink on demand.
//
// Each modality runs as a pair of goroutines: a [CaptureLoop] that holds the
// device only while its [Gates] entry reports live subscribers, and a
// [PublishLoop] that converts frames and hands them to a [Sink]. The two are
// joined by a [FrameChannel], a bounded single-producer single-consumer ring
// that drops new frames rather than block capture when publishing falls
// behind.
//
// Both loops poll with short fixed sleeps and stop when their context is
// cancelled.
package pipeline

import (
	"context"
	"time"
)

// sleep waits for d or until ctx is done. It reports whether the full
// duration elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
