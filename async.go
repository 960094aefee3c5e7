package adb

import (
	"context"
	"sync/atomic"
)

// Future is the result of an operation running in its own goroutine.
type Future[T any] struct {
	done chan struct{}
	val  T
	err  error
}

func goFuture[T any](fn func() (T, error)) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		f.val, f.err = fn()
	}()
	return f
}

// Done is closed when the operation has finished.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the operation has finished and returns its result.
func (f *Future[T]) Wait() (T, error) {
	<-f.done
	return f.val, f.err
}

// Await is Wait that gives up when ctx is done. The operation itself is
// only stopped by the context it was started with.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Transfer is a push or pull running in the background.
type Transfer struct {
	*Future[struct{}]

	completed atomic.Int64
	total     atomic.Int64
}

// BytesCompleted returns the total number of bytes which have been copied to the destination
func (t *Transfer) BytesCompleted() int64 {
	return t.completed.Load()
}

// Progress returns the completed fraction, 0 while the size is unknown.
func (t *Transfer) Progress() float64 {
	total := t.total.Load()
	if total <= 0 {
		return 0
	}
	return float64(t.completed.Load()) / float64(total)
}

func (t *Transfer) track(opts []TransferOption) []TransferOption {
	user := newTransferOptions(opts).progress
	return append(opts, WithProgress(func(done, total int64) {
		t.completed.Store(done)
		t.total.Store(total)
		if user != nil {
			user(done, total)
		}
	}))
}

func runTransfer(opts []TransferOption, fn func(opts []TransferOption) error) *Transfer {
	t := &Transfer{}
	opts = t.track(opts)
	t.Future = goFuture(func() (struct{}, error) { return struct{}{}, fn(opts) })
	return t
}

// GetStatusAsync is GetStatus in the background.
func (c *Client) GetStatusAsync(ctx context.Context) *Future[ServerStatus] {
	return goFuture(func() (ServerStatus, error) { return c.GetStatus(ctx) })
}

// GetDevicesAsync is GetDevices in the background.
func (c *Client) GetDevicesAsync(ctx context.Context) *Future[[]Device] {
	return goFuture(func() ([]Device, error) { return c.GetDevices(ctx) })
}

// ExecuteShellCommandAsync is ExecuteShellCommand in the background.
func (c *Client) ExecuteShellCommandAsync(ctx context.Context, serial, command string) *Future[string] {
	return goFuture(func() (string, error) { return c.ExecuteShellCommand(ctx, serial, command) })
}

// PushAsync is Push in the background.
func (c *Client) PushAsync(ctx context.Context, serial, localPath, remotePath string, opts ...TransferOption) *Transfer {
	return runTransfer(opts, func(opts []TransferOption) error {
		return c.Push(ctx, serial, localPath, remotePath, opts...)
	})
}

// PullAsync is Pull in the background.
func (c *Client) PullAsync(ctx context.Context, serial, remotePath, localPath string, opts ...TransferOption) *Transfer {
	return runTransfer(opts, func(opts []TransferOption) error {
		return c.Pull(ctx, serial, remotePath, localPath, opts...)
	})
}
