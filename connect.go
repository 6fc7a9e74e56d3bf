// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package stm

import (
	"os"
	"time"

	"golang.org/x/sys/unix"
)

const (
	// MaxPipePathLen bounds the path Connect accepts.
	MaxPipePathLen = 255

	// connectGrace is how long Connect sleeps after finding no endpoint,
	// giving a server that is about to create it a chance to win the race.
	connectGrace = 10 * time.Millisecond
)

// Connect opens the pipe endpoint at path, retrying for up to timeout while
// the endpoint is busy or has not been created yet.
//
// A unix socket is connected; a FIFO or any other existing node is opened
// read-write. Any other failure, or running out of time, returns the
// translated error as an *os.PathError.
func Connect(path string, timeout time.Duration, opts ...Option) (*Stream, error) {
	if len(path) > MaxPipePathLen {
		return nil, &os.PathError{Op: "connect", Path: path, Err: unix.E2BIG}
	}
	deadline := time.Now().Add(timeout)
	var bo Backoff
	for {
		fd, err := dialPipe(path)
		if err == nil {
			return NewStream(uintptr(fd), opts...)
		}

		remaining := time.Until(deadline)
		if remaining <= 0 || !retryableDial(err) {
			return nil, &os.PathError{Op: "connect", Path: path, Err: Translate(err)}
		}
		if err := waitPipe(path, remaining, &bo); err != nil {
			if err == unix.ETIMEDOUT {
				return nil, &os.PathError{Op: "connect", Path: path, Err: err}
			}
			if err == unix.ENOENT {
				time.Sleep(min(connectGrace, remaining))
			}
		}
	}
}

// retryableDial reports whether err means "busy" or "not created yet".
func retryableDial(err error) bool {
	switch err {
	case unix.ENOENT, unix.EAGAIN, unix.ECONNREFUSED, unix.ENXIO:
		return true
	}
	return false
}

// waitPipe waits, bounded by timeout, for path to become connectable.
// A missing endpoint is reported at once with ENOENT; an existing busy one
// is given one backoff step, or ETIMEDOUT when no time is left.
func waitPipe(path string, timeout time.Duration, bo *Backoff) error {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return err
	}
	if bo.WaitAtMost(timeout) >= timeout {
		return unix.ETIMEDOUT
	}
	return nil
}

// dialPipe makes one attempt at opening path as a duplex endpoint.
func dialPipe(path string) (int, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return -1, err
	}
	if st.Mode&unix.S_IFMT != unix.S_IFSOCK {
		for {
			fd, err := unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
			if err != unix.EINTR {
				return fd, err
			}
		}
	}

	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, err
	}
	err = unix.Connect(fd, &unix.SockaddrUnix{Name: path})
	if err == unix.EINTR || err == unix.EINPROGRESS {
		// The handshake finishes asynchronously; the stream's first request
		// observes its outcome.
		err = nil
	}
	if err != nil {
		_ = unix.Close(fd)
		return -1, err
	}
	return fd, nil
}
