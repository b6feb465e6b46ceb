package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrPoolStopped is returned for tasks submitted after Stop.
var ErrPoolStopped = errors.New("worker pool stopped")

type task struct {
	run  func(ctx context.Context) error
	done chan error
}

// Pool runs background writes on a fixed set of lanes. Tasks with the same key
// always land on the same lane and run in submission order.
type Pool struct {
	lanes []chan task
	log   *slog.Logger

	mu      sync.RWMutex
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewPool(workers, depth int, log *slog.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if depth <= 0 {
		depth = 1
	}
	p := &Pool{
		lanes: make([]chan task, workers),
		log:   log,
	}
	for i := range p.lanes {
		p.lanes[i] = make(chan task, depth)
	}
	return p
}

// Start launches one worker goroutine per lane.
func (p *Pool) Start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	for i, lane := range p.lanes {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for t := range lane {
				p.run(workerCtx, i, t)
			}
		}()
	}
}

func (p *Pool) run(ctx context.Context, lane int, t task) {
	defer close(t.done)
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("worker task panicked", "lane", lane, "panic", r)
			t.done <- fmt.Errorf("task panicked: %v", r)
		}
	}()
	t.done <- t.run(ctx)
}

// Stop drains queued tasks and waits for the workers to exit.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	for _, lane := range p.lanes {
		close(lane)
	}
	p.mu.Unlock()

	p.wg.Wait()
	if p.cancel != nil {
		p.cancel()
	}
}

// Submit queues run on the lane for key. The returned channel receives the
// task's error and is then closed.
func (p *Pool) Submit(key int, run func(ctx context.Context) error) <-chan error {
	done := make(chan error, 1)

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		done <- ErrPoolStopped
		close(done)
		return done
	}
	p.lanes[p.lane(key)] <- task{run: run, done: done}
	return done
}

func (p *Pool) lane(key int) int {
	n := len(p.lanes)
	return ((key % n) + n) % n
}

// Flush waits until every task queued before the call has run.
func (p *Pool) Flush(ctx context.Context) error {
	waits := make([]<-chan error, len(p.lanes))
	for i := range p.lanes {
		waits[i] = p.Submit(i, func(context.Context) error { return nil })
	}
	for _, w := range waits {
		select {
		case err := <-w:
			if errors.Is(err, ErrPoolStopped) {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// QueueDepth is the number of tasks waiting across all lanes.
func (p *Pool) QueueDepth() int {
	n := 0
	for _, lane := range p.lanes {
		n += len(lane)
	}
	return n
}
