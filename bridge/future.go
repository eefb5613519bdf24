package bridge

import (
	"context"
	"sync"
)

// Future is the outcome of loading the vendor script. It is either pending or
// resolved with a Vendor; it is never rejected, so a script that never loads
// leaves it pending for the lifetime of the page.
type Future struct {
	once   sync.Once
	done   chan struct{}
	vendor Vendor
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func resolvedFuture(v Vendor) *Future {
	f := newFuture()
	f.resolve(v)
	return f
}

// resolve reports whether this call resolved the future.
func (f *Future) resolve(v Vendor) bool {
	resolved := false
	f.once.Do(func() {
		f.vendor = v
		close(f.done)
		resolved = true
	})
	return resolved
}

// Done is closed once the future is resolved.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Resolved reports whether the vendor is available.
func (f *Future) Resolved() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the vendor is available or ctx is done. Giving up on a
// wait doesn't affect the future or other waiters.
func (f *Future) Wait(ctx context.Context) (Vendor, error) {
	select {
	case <-f.done:
		return f.vendor, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
