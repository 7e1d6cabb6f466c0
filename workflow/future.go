package workflow

import (
	"context"
	"sync"
)

// Executor runs a function, possibly on another goroutine.
type Executor interface {
	Go(fn func())
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(fn func())

func (f ExecutorFunc) Go(fn func()) { f(fn) }

// GoExecutor starts a new goroutine per task.
var GoExecutor Executor = ExecutorFunc(func(fn func()) { go fn() })

// Future holds the eventual value or error of an asynchronous computation.
type Future[T any] struct {
	mu        sync.RWMutex
	value     T
	err       error
	stored    bool
	done      chan struct{}
	callbacks []func(T, error)
}

func NewFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolved returns an already completed future.
func Resolved[T any](value T, err error) *Future[T] {
	f := NewFuture[T]()
	f.complete(value, err)
	return f
}

// Store completes the future with a value. Only the first completion counts.
func (f *Future[T]) Store(value T) {
	f.complete(value, nil)
}

// StoreError completes the future with an error. Only the first completion counts.
func (f *Future[T]) StoreError(err error) {
	var zero T
	f.complete(zero, err)
}

func (f *Future[T]) complete(value T, err error) {
	f.mu.Lock()
	if f.stored {
		f.mu.Unlock()
		return
	}
	f.value = value
	f.err = err
	f.stored = true
	callbacks := f.callbacks
	f.callbacks = nil
	close(f.done)
	f.mu.Unlock()

	for _, cb := range callbacks {
		cb(value, err)
	}
}

// Load returns the value and whether the future completed.
func (f *Future[T]) Load() (T, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.value, f.stored
}

func (f *Future[T]) Error() error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.err
}

// Done is closed once the future completes.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Await blocks until the future completes or ctx is done.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-f.done:
		f.mu.RLock()
		defer f.mu.RUnlock()
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// OnComplete registers fn to run once the future completes. When it already
// has, fn runs immediately on the calling goroutine.
func (f *Future[T]) OnComplete(fn func(T, error)) {
	f.mu.Lock()
	if !f.stored {
		f.callbacks = append(f.callbacks, fn)
		f.mu.Unlock()
		return
	}
	value, err := f.value, f.err
	f.mu.Unlock()
	fn(value, err)
}

// Then chains next onto f. next runs on exec only when f succeeded; an error
// from f is passed through without invoking next.
func Then[T, U any](f *Future[T], exec Executor, next func(T) (U, error)) *Future[U] {
	if exec == nil {
		exec = GoExecutor
	}
	out := NewFuture[U]()
	f.OnComplete(func(value T, err error) {
		if err != nil {
			out.StoreError(err)
			return
		}
		exec.Go(func() {
			res, err := next(value)
			if err != nil {
				out.StoreError(err)
				return
			}
			out.Store(res)
		})
	})
	return out
}

// Compose chains a future-returning continuation onto f without blocking a
// goroutine while the inner future runs.
func Compose[T, U any](f *Future[T], next func(T) *Future[U]) *Future[U] {
	out := NewFuture[U]()
	f.OnComplete(func(value T, err error) {
		if err != nil {
			out.StoreError(err)
			return
		}
		inner := next(value)
		if inner == nil {
			var zero U
			out.Store(zero)
			return
		}
		inner.OnComplete(func(res U, err error) {
			if err != nil {
				out.StoreError(err)
				return
			}
			out.Store(res)
		})
	})
	return out
}
