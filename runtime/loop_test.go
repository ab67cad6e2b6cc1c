package runtime

import (
	"context"
	stderrors "errors"
	"testing"
	"time"
)

func TestEventLoop_RunsInOrder(t *testing.T) {
	loop := NewEventLoop()
	var order []int
	for i := 1; i <= 3; i++ {
		i := i
		loop.Submit(func() error {
			order = append(order, i)
			return nil
		})
	}

	if err := loop.Run(context.Background(), nil, nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("order = %v", order)
	}
}

func TestEventLoop_HoldKeepsRunning(t *testing.T) {
	loop := NewEventLoop()
	release := loop.Hold()
	if loop.Pending() != 1 {
		t.Fatalf("pending = %d", loop.Pending())
	}

	done := false
	go func() {
		time.Sleep(10 * time.Millisecond)
		release(func() error {
			done = true
			return nil
		})
		release(func() error {
			t.Error("second release must be ignored")
			return nil
		})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := loop.Run(ctx, nil, nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !done || loop.Pending() != 0 {
		t.Fatalf("done = %v, pending = %d", done, loop.Pending())
	}
}

func TestEventLoop_TaskErrorStops(t *testing.T) {
	loop := NewEventLoop()
	boom := stderrors.New("boom")
	ranAfter := false
	loop.Submit(func() error { return boom })
	loop.Submit(func() error {
		ranAfter = true
		return nil
	})

	if err := loop.Run(context.Background(), nil, nil); !stderrors.Is(err, boom) {
		t.Fatalf("run = %v, want boom", err)
	}
	if ranAfter {
		t.Fatal("task after failure must not run")
	}
}

func TestEventLoop_CheckpointAfterEachTask(t *testing.T) {
	loop := NewEventLoop()
	checks := 0
	for i := 0; i < 3; i++ {
		loop.Submit(func() error { return nil })
	}
	stop := stderrors.New("stop")
	err := loop.Run(context.Background(), nil, func() error {
		checks++
		if checks == 2 {
			return stop
		}
		return nil
	})
	if !stderrors.Is(err, stop) || checks != 2 {
		t.Fatalf("err = %v, checks = %d", err, checks)
	}
}

func TestEventLoop_KeepAliveAndContext(t *testing.T) {
	loop := NewEventLoop()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := loop.Run(ctx, func() bool { return true }, nil)
	if !stderrors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("run = %v, want deadline exceeded", err)
	}
}

func TestEventLoop_StopFromOtherGoroutine(t *testing.T) {
	loop := NewEventLoop()
	time.AfterFunc(10*time.Millisecond, loop.Stop)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := loop.Run(ctx, func() bool { return true }, nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !loop.Stopped() {
		t.Fatal("loop should report stopped")
	}
}

func TestEventLoop_SubmitAfterClose(t *testing.T) {
	loop := NewEventLoop()
	loop.Submit(func() error {
		t.Error("queued task must be dropped by Close")
		return nil
	})
	loop.Close()
	if loop.Submit(func() error { return nil }) {
		t.Fatal("submit after close must be rejected")
	}
	if err := loop.Run(context.Background(), nil, nil); err != nil {
		t.Fatalf("run: %v", err)
	}
}
