// Copyright 2020 lesismal. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package taskpool

import (
	"errors"
	"sync/atomic"
)

const (
	runningFlag = iota
	closedFlag
)

var (
	// ErrStopped .
	ErrStopped = errors.New("taskpool stopped")

	// ErrPanic .
	ErrPanic = errors.New("task panicked")
)

// TaskPool runs functions on a bounded number of goroutines. Functions
// submitted while all goroutines are busy wait in a queue.
type TaskPool struct {
	concurrent    int64
	maxConcurrent int64
	closed        int64
	chQueue       chan func()
	chClose       chan struct{}
}

// Go runs f asynchronously. It returns false if the pool is stopped.
func (tp *TaskPool) Go(f func()) bool {
	if f == nil {
		return true
	}
	if tp.isClosed() {
		return false
	}

	if atomic.AddInt64(&tp.concurrent, 1) <= tp.maxConcurrent {
		go func() {
			defer atomic.AddInt64(&tp.concurrent, -1)
			tp.run(f)
			for {
				select {
				case f = <-tp.chQueue:
					tp.run(f)
				default:
					return
				}
			}
		}()
		return true
	}

	atomic.AddInt64(&tp.concurrent, -1)
	select {
	case tp.chQueue <- f:
		return true
	case <-tp.chClose:
		return false
	}
}

// Call runs f on the pool and waits for it to return. A panic in f is
// returned as an error wrapping ErrPanic.
func (tp *TaskPool) Call(f func() error) error {
	started := make(chan struct{})
	done := make(chan error, 1)
	if !tp.Go(func() {
		close(started)
		done <- call(f)
	}) {
		return ErrStopped
	}
	select {
	case <-started:
		return <-done
	case <-tp.chClose:
		// a task that already started is still joined
		select {
		case <-started:
			return <-done
		default:
			return ErrStopped
		}
	}
}

func (tp *TaskPool) run(f func()) {
	_ = call(func() error {
		f()
		return nil
	})
}

func (tp *TaskPool) isClosed() bool {
	return atomic.LoadInt64(&tp.closed) == closedFlag
}

func (tp *TaskPool) setClosed() bool {
	return atomic.CompareAndSwapInt64(&tp.closed, runningFlag, closedFlag)
}

// Stop stops accepting tasks. Queued tasks that have not started are dropped.
func (tp *TaskPool) Stop() {
	if !tp.setClosed() {
		return
	}

	close(tp.chClose)
}

// New .
func New(maxConcurrent int, queueSize int) *TaskPool {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	tp := &TaskPool{
		// the queue goroutine started below is one of the workers
		maxConcurrent: int64(maxConcurrent - 1),
		chQueue:       make(chan func(), queueSize),
		chClose:       make(chan struct{}),
	}
	go func() {
		for {
			select {
			case f := <-tp.chQueue:
				tp.run(f)
			case <-tp.chClose:
				return
			}
		}
	}()
	return tp
}
