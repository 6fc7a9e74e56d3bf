// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package stm

import (
	"encoding/binary"
	"sync"

	"golang.org/x/sys/unix"
)

// Event is a manual-reset signal. Once Set it stays set until Reset or
// TestAndClear, and every poller waiting on it observes it.
//
// An Event is readable (POLLIN) exactly while it is set, so it can be
// multiplexed with Poll alongside other events.
type Event struct {
	mu  sync.RWMutex
	rfd int
	wfd int
}

// NewEvent creates an event in the given initial state.
func NewEvent(signalled bool) (*Event, error) {
	e := &Event{rfd: -1, wfd: -1}
	switch DetectCapabilities().Event {
	case EventStrategyPipe:
		var p [2]int
		if err := unix.Pipe2(p[:], unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
			return nil, Translate(err)
		}
		e.rfd, e.wfd = p[0], p[1]
	default:
		fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
		if err != nil {
			return nil, Translate(err)
		}
		e.rfd, e.wfd = fd, fd
	}
	if signalled {
		if err := e.Set(); err != nil {
			_ = e.Close()
			return nil, err
		}
	}
	return e, nil
}

// Set signals the event. Setting an already set event is a no-op.
func (e *Event) Set() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.wfd < 0 {
		return ErrClosed
	}
	var err error
	if e.rfd == e.wfd {
		var one [8]byte
		binary.NativeEndian.PutUint64(one[:], 1)
		_, err = unix.Write(e.wfd, one[:])
	} else {
		_, err = unix.Write(e.wfd, []byte{1})
	}
	// EAGAIN: the counter or pipe is already saturated, so it is set.
	if err != nil && err != unix.EAGAIN {
		return Translate(err)
	}
	return nil
}

// Reset clears the event.
func (e *Event) Reset() error {
	_, err := e.drain()
	return err
}

// TestAndClear reports whether the event was set and clears it.
func (e *Event) TestAndClear() bool {
	was, _ := e.drain()
	return was
}

// IsSet reports whether the event is set without changing it.
func (e *Event) IsSet() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.rfd < 0 {
		return false
	}
	fds := []unix.PollFd{{Fd: int32(e.rfd), Events: unix.POLLIN}}
	for {
		n, err := unix.Poll(fds, 0)
		if err == unix.EINTR {
			continue
		}
		return err == nil && n > 0 && fds[0].Revents&unix.POLLIN != 0
	}
}

// Close releases the kernel objects. Further use returns ErrClosed.
func (e *Event) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rfd < 0 {
		return ErrClosed
	}
	err := unix.Close(e.rfd)
	if e.wfd != e.rfd {
		if werr := unix.Close(e.wfd); err == nil {
			err = werr
		}
	}
	e.rfd, e.wfd = -1, -1
	return Translate(err)
}

func (e *Event) drain() (bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.rfd < 0 {
		return false, ErrClosed
	}
	var buf [64]byte
	was := false
	for {
		n, err := unix.Read(e.rfd, buf[:])
		if n > 0 {
			was = true
			if e.rfd == e.wfd {
				// eventfd hands back the whole counter in one read.
				return true, nil
			}
			continue
		}
		if err == unix.EINTR {
			continue
		}
		if err == nil || err == unix.EAGAIN {
			return was, nil
		}
		return was, Translate(err)
	}
}

// pollFd is the descriptor that becomes readable while the event is set.
func (e *Event) pollFd() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.rfd
}
