package gpusched

import (
	"context"
	"sync/atomic"

	"github.com/local/minerudispatch/internal/parser"
)

// Future is the result handle returned by Submit. It is safe to await
// from any goroutine.
type Future struct {
	done      chan struct{}
	result    parser.Result
	err       error
	cancelled atomic.Bool
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) resolve(res parser.Result, err error) {
	f.result = res
	f.err = err
	close(f.done)
}

// Await blocks until the parse completes, fails or the context expires.
func (f *Future) Await(ctx context.Context) (parser.Result, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return parser.Result{}, ctx.Err()
	}
}

// Cancel is best-effort: a task that has not started is skipped, a
// running child is left to finish because interrupting the GPU mid-parse
// is unsafe. The result is discarded either way.
func (f *Future) Cancel() {
	f.cancelled.Store(true)
}
