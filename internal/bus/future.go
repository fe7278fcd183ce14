package bus

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/workforce-oss/workforce-sub002/pkg/stdx"
)

type Future[T any] interface {
	// Get blocks until the future resolves or ctx is done.
	Get(context.Context) (T, error)
}

type Promise[T any] interface {
	Complete(T)
	Error(error)
}

type CompletableFuture[T any] interface {
	Future[T]
	Promise[T]
}

type futResult[T any] struct {
	value T
	err   error
}

type future[T any] struct {
	result atomic.Pointer[futResult[T]]
	done   chan struct{}
	once   sync.Once
}

// NewFuture returns an unresolved future. Only the first Complete or Error
// call has any effect.
func NewFuture[T any]() CompletableFuture[T] {
	return &future[T]{done: make(chan struct{})}
}

func (f *future[T]) Get(ctx context.Context) (T, error) {
	if res := f.result.Load(); res != nil {
		return res.value, res.err
	}
	select {
	case <-f.done:
		res := f.result.Load()
		return res.value, res.err
	case <-ctx.Done():
		return stdx.Zero[T](), ctx.Err()
	}
}

func (f *future[T]) Complete(value T) {
	f.resolve(&futResult[T]{value: value})
}

func (f *future[T]) Error(err error) {
	f.resolve(&futResult[T]{err: err})
}

func (f *future[T]) resolve(res *futResult[T]) {
	f.once.Do(func() {
		f.result.Store(res)
		close(f.done)
	})
}

// Await subscribes to subject, calls publish, and returns the first value
// accepted by match. The subscription is removed before Await returns, so
// later values never reach this caller. Await waits for as long as ctx
// allows; a context without deadline waits indefinitely.
func Await[T any](ctx context.Context, subject Subject[T], match func(T) bool, publish func(context.Context) error) (T, error) {
	fut := NewFuture[T]()
	sub, err := subject.Subscribe(ctx, func(_ context.Context, value T) {
		if match(value) {
			fut.Complete(value)
		}
	})
	if err != nil {
		return stdx.Zero[T](), err
	}
	defer sub.Unsubscribe()

	if err := publish(ctx); err != nil {
		return stdx.Zero[T](), err
	}
	return fut.Get(ctx)
}
