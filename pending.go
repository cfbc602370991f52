package xbroker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
)

// OperationStatus is the resolution state of a PendingOperation.
type OperationStatus int32

const (
	StatusRunning OperationStatus = iota
	StatusCompleted
	StatusFaulted
	StatusCanceled
)

func (s OperationStatus) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusFaulted:
		return "faulted"
	case StatusCanceled:
		return "canceled"
	}
	return fmt.Sprintf("status(%d)", int32(s))
}

// PendingOperation is an in-flight asynchronous action that a receive waits on.
type PendingOperation struct {
	name   string
	done   chan struct{}
	status atomic.Int32
	err    error
}

// Go runs fn in its own goroutine and returns the operation tracking it.
// A panic inside fn faults the operation instead of crashing the process.
func Go(ctx context.Context, name string, fn func(ctx context.Context) error) *PendingOperation {
	op := &PendingOperation{name: name, done: make(chan struct{})}
	go func() {
		var err error
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic recovered: %v", r)
			}
			op.resolve(err)
		}()
		err = fn(ctx)
	}()
	return op
}

// Resolved returns an operation that is already finished with err.
func Resolved(name string, err error) *PendingOperation {
	op := &PendingOperation{name: name, done: make(chan struct{})}
	op.resolve(err)
	return op
}

func (op *PendingOperation) resolve(err error) {
	status := StatusCompleted
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = StatusCanceled
	default:
		status = StatusFaulted
	}
	op.err = err
	op.status.Store(int32(status))
	close(op.done)
}

func (op *PendingOperation) Name() string { return op.name }

// Done is closed once the operation resolves.
func (op *PendingOperation) Done() <-chan struct{} { return op.done }

// Status reports the current resolution state.
func (op *PendingOperation) Status() OperationStatus {
	return OperationStatus(op.status.Load())
}

// Err returns the resolution error; nil while running or when completed.
func (op *PendingOperation) Err() error {
	select {
	case <-op.done:
		return op.err
	default:
		return nil
	}
}

// Wait blocks until the operation resolves or ctx is done.
func (op *PendingOperation) Wait(ctx context.Context) error {
	select {
	case <-op.done:
		return op.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
