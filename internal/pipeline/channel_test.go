package pipeline_test

import (
	"sync"
	"testing"

	"github.com/MrWong99/sensorbridge/internal/pipeline"
)

func TestFrameChannel_DropsNewestWhenFull(t *testing.T) {
	t.Parallel()

	const n = 16
	ch := pipeline.NewFrameChannel[int](n)
	for i := range n {
		if !ch.Push(i) {
			t.Fatalf("Push(%d) rejected below capacity", i)
		}
	}
	if ch.Push(n) {
		t.Fatal("Push accepted beyond capacity")
	}
	if got := ch.Drops(); got != 1 {
		t.Errorf("Drops = %d, want 1", got)
	}
	if got := ch.Len(); got != n {
		t.Errorf("Len = %d, want %d", got, n)
	}

	for i := range n {
		v, ok := ch.Pop()
		if !ok {
			t.Fatalf("Pop %d: empty", i)
		}
		if v != i {
			t.Fatalf("Pop %d = %d, want insertion order", i, v)
		}
	}
	if _, ok := ch.Pop(); ok {
		t.Error("Pop on empty channel returned an item")
	}
}

func TestFrameChannel_WrapsAround(t *testing.T) {
	t.Parallel()

	ch := pipeline.NewFrameChannel[int](3)
	next, want := 0, 0
	for round := range 10 {
		for range 2 {
			ch.Push(next)
			next++
		}
		for range 2 {
			v, ok := ch.Pop()
			if !ok {
				t.Fatalf("round %d: empty", round)
			}
			if v != want {
				t.Fatalf("round %d: Pop = %d, want %d", round, v, want)
			}
			want++
		}
	}
	if ch.Len() != 0 || ch.Drops() != 0 {
		t.Errorf("Len=%d Drops=%d, want 0 0", ch.Len(), ch.Drops())
	}
	if ch.Cap() != 3 {
		t.Errorf("Cap = %d, want 3", ch.Cap())
	}
}

func TestFrameChannel_ProducerConsumer(t *testing.T) {
	t.Parallel()

	const total = 100000
	ch := pipeline.NewFrameChannel[int](32)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := range total {
			ch.Push(i)
		}
	}()

	received := 0
	last := -1
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	for {
		v, ok := ch.Pop()
		if ok {
			if v <= last {
				t.Fatalf("out of order: %d after %d", v, last)
			}
			last = v
			received++
			continue
		}
		select {
		case <-done:
			// Drain what the producer left behind.
			for {
				v, ok := ch.Pop()
				if !ok {
					if got := uint64(received) + ch.Drops(); got != total {
						t.Fatalf("received %d + drops %d != %d", received, ch.Drops(), total)
					}
					return
				}
				if v <= last {
					t.Fatalf("out of order: %d after %d", v, last)
				}
				last = v
				received++
			}
		default:
		}
	}
}

func TestNewFrameChannel_PanicsOnZeroCapacity(t *testing.T) {
	t.Parallel()

	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	pipeline.NewFrameChannel[int](0)
}
