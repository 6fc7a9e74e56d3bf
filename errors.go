// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package stm

import (
	"errors"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// stm separates three classes of results:
//   - ErrWouldBlock: no progress without waiting. Not a failure.
//   - hard failures: portable errno values (see Translate), latched on the
//     stream when they happen asynchronously and delivered once.
//   - programmer errors: panics (poll capacity, short atomic write).

// ErrWouldBlock means “no further progress without waiting”.
// Next step: wait for the stream's Events signal (see Poll), then retry.
var ErrWouldBlock = errors.New("stm: would block")

// ErrClosed is returned by operations on a stream after Close.
var ErrClosed = errors.New("stm: stream closed")

// ErrInvalidHandle is returned when a stream is opened from a descriptor
// that cannot be valid.
var ErrInvalidHandle = errors.New("stm: invalid handle")

// Translate maps an error produced by the native layer to its portable form.
//
// Errno values pass through unchanged, EAGAIN becomes ErrWouldBlock, and the
// runtime poller's sentinels map to the errno a C caller would have seen.
// io.EOF and already-portable errors are returned as is.
func Translate(err error) error {
	if err == nil || err == io.EOF || err == ErrWouldBlock {
		return err
	}
	var errno unix.Errno
	if errors.As(err, &errno) {
		if errno == unix.EAGAIN {
			return ErrWouldBlock
		}
		return errno
	}
	switch {
	case errors.Is(err, os.ErrDeadlineExceeded):
		return unix.ECANCELED
	case errors.Is(err, os.ErrClosed):
		return unix.EBADF
	case errors.Is(err, os.ErrNoDeadline):
		return unix.ENOTSUP
	}
	return err
}
