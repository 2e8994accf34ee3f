package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"leadflow_backend/platform/logger"
)

type countingLoop struct {
	starts atomic.Int32
}

func (l *countingLoop) Run(ctx context.Context) {
	l.starts.Add(1)
	<-ctx.Done()
}

func TestRegistryStartIsIdempotent(t *testing.T) {
	reg := NewRegistry(logger.New("test"))
	loop := &countingLoop{}
	reg.Register("poller", loop)

	ctx := context.Background()
	if !reg.Start(ctx, "poller") {
		t.Fatal("first start should launch the loop")
	}
	if reg.Start(ctx, "poller") {
		t.Fatal("second start should be a no-op")
	}

	reg.Stop("poller")
	if got := loop.starts.Load(); got != 1 {
		t.Fatalf("loop ran %d times, want 1", got)
	}
}

func TestRegistryStopWaitsForLoop(t *testing.T) {
	reg := NewRegistry(logger.New("test"))
	loop := &countingLoop{}
	reg.Register("poller", loop)

	reg.Start(context.Background(), "poller")
	done := make(chan struct{})
	go func() {
		reg.Stop("poller")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}

	// A stopped loop can be started again.
	if !reg.Start(context.Background(), "poller") {
		t.Fatal("restart after stop should launch the loop")
	}
	reg.StopAll()
	if got := loop.starts.Load(); got != 2 {
		t.Fatalf("loop ran %d times, want 2", got)
	}
}

func TestRegistryStopUnknownIsNoop(t *testing.T) {
	reg := NewRegistry(logger.New("test"))
	reg.Stop("missing")
}
