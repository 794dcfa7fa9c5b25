package exchange

import (
	"context"
	"sync/atomic"

	"github.com/pkg/errors"
)

// ErrCancelled is what a stream read yields once the exchange was cancelled.
var ErrCancelled = errors.New("exchange cancelled")

// CancelToken is created for one exchange and released when it resolves.
//
// Cancel only marks the token and cancels the context handed to the
// transport; the coordinator checks Err before each chunk read.
type CancelToken struct {
	parent    context.Context
	ctx       context.Context
	cancel    context.CancelFunc
	cancelled atomic.Bool
}

func NewCancelToken(parent context.Context) *CancelToken {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	return &CancelToken{
		parent: parent,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Cancel is safe to call multiple times and from any goroutine.
func (t *CancelToken) Cancel() {
	if t == nil {
		return
	}
	t.cancelled.Store(true)
	t.cancel()
}

// Cancelled reports whether Cancel was called or the parent context ended.
func (t *CancelToken) Cancelled() bool {
	if t == nil {
		return false
	}
	return t.cancelled.Load() || t.parent.Err() != nil
}

// Err returns ErrCancelled once the token is cancelled, nil before.
func (t *CancelToken) Err() error {
	if t.Cancelled() {
		return ErrCancelled
	}
	return nil
}

// Context is cancelled together with the token, and on release.
func (t *CancelToken) Context() context.Context {
	return t.ctx
}

// release frees the derived context without marking the token cancelled.
func (t *CancelToken) release() {
	t.cancel()
}
