package worker

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

var (
	ErrLimiterConcurrency = errors.New("error running discovery, reached concurrency limit")
	ErrLimiterDrain       = errors.New("draining discoveries")
)

// requirements
// - limit running more funcs based on concurrency value
// - drain blocks adding more funcs to be run, waits until all running funcs are complete
// - accepts func() - all error handling must be wrapped in a closure by the caller
// - supports returning number of running funcs

// Limiter runs go routines limiting them by the defined concurrency.
type Limiter struct {
	// waitgroup for running routines.
	wg sync.WaitGroup
	// released receives a value each time a routine returns, DispatchWait listens on it for a free slot.
	released chan struct{}
	// concurrency is the maximum number of goroutines that can be running.
	concurrency int
	// mu is the guard for dispatched, drain.
	mu sync.Mutex
	// dispatched indicates the number of routines running.
	dispatched int
	// drain is the flag set when StopWait() invoked, with drain=true, no further funcs are accepted.
	drain bool
}

// NewLimiter returns a new limiting go routine runner.
// To ensure the routines spawned by Limiter are stopped, the StopWait() method should be invoked.
//
// concurrency is the limit on the number of running go routines, values below 1 are treated as 1.
func NewLimiter(concurrency int) *Limiter {
	if concurrency < 1 {
		concurrency = 1
	}

	return &Limiter{
		concurrency: concurrency,
		released:    make(chan struct{}, concurrency),
	}
}

// Dispatch runs the given routine when the concurrency limit allows it.
//
// The routine to be executed should be wrapped in a closure.
func (l *Limiter) Dispatch(f func()) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.drain {
		return ErrLimiterDrain
	}

	if l.dispatched >= l.concurrency {
		return ErrLimiterConcurrency
	}

	l.dispatched++
	l.wg.Add(1)

	go func() {
		defer l.wg.Done()
		defer l.done()

		f()
	}()

	return nil
}

// DispatchWait blocks until the routine could be dispatched, the limiter is drained or ctx is done.
func (l *Limiter) DispatchWait(ctx context.Context, f func()) error {
	for {
		err := l.Dispatch(f)
		if !errors.Is(err, ErrLimiterConcurrency) {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.released:
		}
	}
}

func (l *Limiter) done() {
	l.mu.Lock()
	l.dispatched--
	l.mu.Unlock()

	// a full channel already signals a free slot
	select {
	case l.released <- struct{}{}:
	default:
	}
}

// ActiveCount returns the count of running routines
func (l *Limiter) ActiveCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.dispatched
}

func (l *Limiter) draining() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.drain
}

// StopWait prevents any further routines from being added
// and waits until all the routines complete.
func (l *Limiter) StopWait() {
	l.mu.Lock()
	l.drain = true
	l.mu.Unlock()

	l.wg.Wait()
}
