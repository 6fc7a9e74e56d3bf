// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package stm

import (
	"sync"
	"time"
)

// CompletionQueue holds write completion routines until a goroutine performs
// an alertable wait on the queue: Poll, Run, Wait, or a Stream operation
// that waits on a stream bound to the queue (Shutdown, blocking Read).
//
// Binding streams to a queue reproduces the cooperative completion model:
// accepted writes only drain while the owner keeps checking in. Streams
// without a queue run their completion routines on the goroutine that
// finished the native write.
type CompletionQueue struct {
	mu       sync.Mutex
	routines []func()
	signal   *Event
	notify   chan struct{}
}

// NewCompletionQueue creates an empty queue.
func NewCompletionQueue() (*CompletionQueue, error) {
	ev, err := NewEvent(false)
	if err != nil {
		return nil, err
	}
	return &CompletionQueue{signal: ev, notify: make(chan struct{}, 1)}, nil
}

// Pending reports the number of routines waiting to run.
func (q *CompletionQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.routines)
}

// Run executes every queued routine on the calling goroutine, in posting
// order, and returns how many ran. Routines posted while Run executes are
// run too.
func (q *CompletionQueue) Run() int {
	ran := 0
	for {
		q.mu.Lock()
		batch := q.routines
		q.routines = nil
		if len(batch) == 0 {
			_ = q.signal.Reset()
		}
		q.mu.Unlock()
		if len(batch) == 0 {
			return ran
		}
		for _, fn := range batch {
			fn()
		}
		ran += len(batch)
	}
}

// Wait blocks until at least one routine is queued or timeout elapses,
// then runs the queue. A negative timeout waits forever.
func (q *CompletionQueue) Wait(timeout time.Duration) int {
	if n := q.Run(); n > 0 {
		return n
	}
	if timeout < 0 {
		<-q.notify
		return q.Run()
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-q.notify:
	case <-t.C:
	}
	return q.Run()
}

// Close releases the queue's signal. Routines still queued are dropped.
func (q *CompletionQueue) Close() error {
	q.mu.Lock()
	q.routines = nil
	q.mu.Unlock()
	return q.signal.Close()
}

func (q *CompletionQueue) post(fn func()) {
	q.mu.Lock()
	q.routines = append(q.routines, fn)
	_ = q.signal.Set()
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// waitFor runs routines until done is closed. It is the alertable form of
// <-done.
func (q *CompletionQueue) waitFor(done <-chan struct{}) {
	for {
		q.Run()
		select {
		case <-done:
			q.Run()
			return
		case <-q.notify:
		}
	}
}
