package rpcclient

import (
	"context"
	"sync"
)

// Pool tracks in-flight fire-and-forget goroutines so callers can Drain
// before shutting down or, in tests, before asserting on eventually
// consistent state.
type Pool struct {
	wg sync.WaitGroup
}

// NewPool creates an empty dispatcher.
func NewPool() *Pool {
	return &Pool{}
}

// Go runs fn on its own goroutine, tracked by the pool.
func (p *Pool) Go(fn func()) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		fn()
	}()
}

// Drain blocks until every dispatched goroutine has returned, or ctx is
// done first.
func (p *Pool) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
