// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package stm

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// MaxPollEvents is the largest number of events one Poll call accepts.
// A 64-slot wait set is assumed, with one slot kept for the completion
// queue's own signal.
const MaxPollEvents = 63

// PollEvent pairs an event with the ready flag Poll reports through.
type PollEvent struct {
	Event *Event
	Ready bool
}

// Poll waits until one of the events is set or timeout elapses. A negative
// timeout waits forever.
//
// On success exactly one entry, the first set one, has Ready == true and
// Poll returns 1. On timeout it returns 0. A closed event fails the call
// with EBADF. Passing more than MaxPollEvents entries is a programming error
// and panics.
//
// Poll is not alertable: it never runs write completion routines. Use
// (*CompletionQueue).Poll in loops that own queue-bound streams.
func Poll(events []PollEvent, timeout time.Duration) (int, error) {
	return poll(nil, events, timeout)
}

// Poll is the alertable form of the package-level Poll. While waiting it
// also watches the queue; when completion routines are posted they run on
// the calling goroutine and, unless an event is also ready, Poll returns 0.
func (q *CompletionQueue) Poll(events []PollEvent, timeout time.Duration) (int, error) {
	return poll(q, events, timeout)
}

func poll(q *CompletionQueue, events []PollEvent, timeout time.Duration) (int, error) {
	if len(events) > MaxPollEvents {
		panic(fmt.Sprintf("stm: %d poll events > MaxPollEvents (%d)", len(events), MaxPollEvents))
	}

	fds := make([]unix.PollFd, len(events), len(events)+1)
	for i := range events {
		events[i].Ready = false
		fd := events[i].Event.pollFd()
		if fd < 0 {
			return -1, unix.EBADF
		}
		fds[i] = unix.PollFd{Fd: int32(fd), Events: unix.POLLIN}
	}
	if q != nil {
		fd := q.signal.pollFd()
		if fd < 0 {
			return -1, unix.EBADF
		}
		fds = append(fds, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN})
	}

	var deadline time.Time
	if timeout >= 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		ms := -1
		if timeout >= 0 {
			ms = int(max(time.Until(deadline), 0).Milliseconds())
		}
		n, err := unix.Poll(fds, ms)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return -1, Translate(err)
		}
		if n == 0 {
			return 0, nil
		}

		if q != nil && fds[len(events)].Revents != 0 {
			q.Run()
		}
		for i := range events {
			if fds[i].Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 {
				events[i].Ready = true
				return 1, nil
			}
			if fds[i].Revents&unix.POLLNVAL != 0 {
				return -1, unix.EBADF
			}
		}
		return 0, nil
	}
}
