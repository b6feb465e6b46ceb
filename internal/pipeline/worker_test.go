package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPool_SameKeyRunsInOrder(t *testing.T) {
	p := NewPool(3, 4, testLogger())
	p.Start(context.Background())
	defer p.Stop()

	var mu sync.Mutex
	var got []int
	var last <-chan error
	for i := range 50 {
		last = p.Submit(7, func(context.Context) error {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
			return nil
		})
	}
	if err := <-last; err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 50 || !slices.IsSorted(got) {
		t.Errorf("tasks for one key ran out of order: %v", got)
	}
}

func TestPool_ReturnsTaskError(t *testing.T) {
	p := NewPool(1, 1, testLogger())
	p.Start(context.Background())
	defer p.Stop()

	boom := errors.New("boom")
	if err := <-p.Submit(1, func(context.Context) error { return boom }); !errors.Is(err, boom) {
		t.Errorf("expected boom, got %v", err)
	}
}

func TestPool_RecoversPanics(t *testing.T) {
	p := NewPool(1, 1, testLogger())
	p.Start(context.Background())
	defer p.Stop()

	if err := <-p.Submit(1, func(context.Context) error { panic("bad") }); err == nil {
		t.Error("expected error from panicking task")
	}
	// The lane keeps working.
	if err := <-p.Submit(1, func(context.Context) error { return nil }); err != nil {
		t.Errorf("expected lane to survive, got %v", err)
	}
}

func TestPool_Flush(t *testing.T) {
	p := NewPool(4, 8, testLogger())
	p.Start(context.Background())
	defer p.Stop()

	var mu sync.Mutex
	done := 0
	for i := range 20 {
		p.Submit(i, func(context.Context) error {
			time.Sleep(time.Millisecond)
			mu.Lock()
			done++
			mu.Unlock()
			return nil
		})
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if done != 20 {
		t.Errorf("expected 20 tasks done after flush, got %d", done)
	}
}

func TestPool_StopDrainsAndRejects(t *testing.T) {
	p := NewPool(2, 16, testLogger())
	p.Start(context.Background())

	var mu sync.Mutex
	ran := 0
	for i := range 10 {
		p.Submit(i, func(context.Context) error {
			mu.Lock()
			ran++
			mu.Unlock()
			return nil
		})
	}
	p.Stop()
	if ran != 10 {
		t.Errorf("expected queued tasks drained, ran %d", ran)
	}
	if err := <-p.Submit(1, func(context.Context) error { return nil }); !errors.Is(err, ErrPoolStopped) {
		t.Errorf("expected ErrPoolStopped, got %v", err)
	}
	p.Stop()
}

func TestPool_NegativeKeys(t *testing.T) {
	p := NewPool(3, 1, testLogger())
	for _, key := range []int{-1, -3, -100, 0, 5} {
		if lane := p.lane(key); lane < 0 || lane >= 3 {
			t.Errorf("lane(%d) = %d out of range", key, lane)
		}
	}
}
