// internal/regexguard/budget.go
package regexguard

import (
	"context"
	"errors"
	"time"

	"github.com/xkilldash9x/surveyfill/internal/apperr"
)

// Budget bounds a scan over page elements by wall-clock time and element count.
// It is not safe for concurrent use; each scan owns its budget.
type Budget struct {
	ctx     context.Context
	op      string
	timeout time.Duration
	limit   int
	seen    int
	visited map[any]struct{}
}

// NewBudget derives a budget from ctx using the guard's timeout and element cap. The returned
// cancel func must be called once the scan finishes.
func (g *Guard) NewBudget(ctx context.Context, op string) (*Budget, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	return &Budget{ctx: ctx, op: op, timeout: g.opts.Timeout, limit: g.opts.MaxElements}, cancel
}

// Visit records one examined element, identified by key. Only the first visit of a key counts
// against the element cap; the deadline is checked on every call. It returns a TimeoutError once
// the cap is exceeded or the deadline has passed, and the context's error if the caller cancelled.
func (b *Budget) Visit(key any) error {
	if _, ok := b.visited[key]; !ok {
		if b.visited == nil {
			b.visited = make(map[any]struct{})
		}
		b.visited[key] = struct{}{}
		b.seen++
		if b.seen > b.limit {
			return &apperr.TimeoutError{Op: b.op, Limit: b.limit}
		}
	}
	return b.check()
}

func (b *Budget) check() error {
	if err := b.ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return &apperr.TimeoutError{Op: b.op, Budget: b.timeout, Err: err}
		}
		return err
	}
	return nil
}

// Seen returns the number of elements examined so far.
func (b *Budget) Seen() int { return b.seen }

// Context returns the budget's deadline-bearing context.
func (b *Budget) Context() context.Context { return b.ctx }
