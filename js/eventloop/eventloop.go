// Package eventloop implements the single-threaded loop a page runtime is
// driven by. Everything touching the runtime runs as a callback on the loop;
// other goroutines hand work to it through RegisterCallback or Do.
package eventloop

import (
	"context"
	"errors"
	"sync"
)

// ErrStopped is returned by Do when the loop is not running anymore.
var ErrStopped = errors.New("event loop stopped")

// EventLoop runs queued callbacks one at a time, in the order they were
// queued, until its context is done.
type EventLoop struct {
	lock       sync.Mutex
	queue      []func() error
	registered int
	stopped    bool

	wakeupCh chan struct{}
	done     chan struct{}
	onError  func(error)
}

// New creates a stopped loop. Errors returned by callbacks are passed to
// onError; the loop keeps running after them.
func New(onError func(error)) *EventLoop {
	if onError == nil {
		onError = func(error) {}
	}
	return &EventLoop{
		wakeupCh: make(chan struct{}, 1),
		done:     make(chan struct{}),
		onError:  onError,
	}
}

// RegisterCallback tells the loop that some asynchronous work will queue a
// callback later. The returned function queues it; only its first call has
// any effect, and callbacks queued after the loop stopped are dropped.
func (e *EventLoop) RegisterCallback() func(func() error) {
	e.lock.Lock()
	e.registered++
	e.lock.Unlock()

	var once sync.Once
	return func(f func() error) {
		once.Do(func() {
			e.lock.Lock()
			defer e.lock.Unlock()
			e.registered--
			if e.stopped {
				return
			}
			e.queue = append(e.queue, f)
			select {
			case e.wakeupCh <- struct{}{}:
			default:
			}
		})
	}
}

// Pending returns how many registered callbacks haven't been queued yet.
func (e *EventLoop) Pending() int {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.registered
}

// Run processes callbacks until ctx is done. It must be called once.
func (e *EventLoop) Run(ctx context.Context) {
	defer close(e.done)
	for {
		e.lock.Lock()
		queue := e.queue
		e.queue = nil
		e.lock.Unlock()

		for _, f := range queue {
			if err := f(); err != nil {
				e.onError(err)
			}
		}
		if len(queue) > 0 {
			continue
		}

		select {
		case <-e.wakeupCh:
		case <-ctx.Done():
			e.lock.Lock()
			e.stopped = true
			e.queue = nil
			e.lock.Unlock()
			return
		}
	}
}

// Done is closed once Run has returned.
func (e *EventLoop) Done() <-chan struct{} {
	return e.done
}

// Do runs fn on the loop and waits for its result. It must not be called
// from a callback running on the loop.
func (e *EventLoop) Do(ctx context.Context, fn func() error) error {
	res := make(chan error, 1)
	e.RegisterCallback()(func() error {
		res <- fn()
		return nil
	})

	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		select {
		case err := <-res:
			return err
		default:
			return ErrStopped
		}
	}
}
