// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package stm

import (
	"io"
	"os"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Kind classifies the endpoint behind a stream.
type Kind uint8

const (
	KindUnknown Kind = iota
	// KindFile is a regular file or directory.
	KindFile
	// KindChar is a character device such as a tty or /dev/null.
	KindChar
	// KindPipe is a pipe, FIFO or socket.
	KindPipe
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindChar:
		return "char"
	case KindPipe:
		return "pipe"
	default:
		return "unknown"
	}
}

// DirectWrites reports whether a blocking stream of this kind may write
// straight to the handle instead of going through the write queue.
// Pipes always queue so that one Write is one native request.
func (k Kind) DirectWrites() bool { return k != KindPipe }

// pollable kinds are driven through the runtime poller.
func (k Kind) pollable() bool { return k == KindPipe || k == KindChar }

func kindOf(mode uint32) Kind {
	switch mode & unix.S_IFMT {
	case unix.S_IFREG, unix.S_IFDIR:
		return KindFile
	case unix.S_IFCHR:
		return KindChar
	case unix.S_IFIFO, unix.S_IFSOCK:
		return KindPipe
	}
	return KindUnknown
}

// aLongTimeAgo is a deadline in the past; setting it cancels blocked I/O.
var aLongTimeAgo = time.Unix(1, 0)

// request is one asynchronous read. The token identifies it for its whole
// life; done is closed once n and err are final.
type request struct {
	token uint64
	done  chan struct{}
	n     int
	err   error
}

func (r *request) complete(n int, err error) {
	r.n, r.err = n, err
	close(r.done)
}

func (r *request) completed() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// handle is the native side of a stream: an *os.File registered with the
// runtime poller where the kind allows it, plus its raw connection for
// single-shot syscalls.
type handle struct {
	f    *os.File
	rc   syscall.RawConn
	kind Kind
}

func newHandle(f *os.File) (*handle, error) {
	rc, err := f.SyscallConn()
	if err != nil {
		return nil, err
	}
	h := &handle{f: f, rc: rc}
	var st unix.Stat_t
	var serr error
	if err := rc.Control(func(fd uintptr) { serr = unix.Fstat(int(fd), &st) }); err != nil {
		return nil, err
	}
	if serr != nil {
		return nil, serr
	}
	h.kind = kindOf(st.Mode)
	return h, nil
}

func (h *handle) fd() uintptr {
	var out uintptr
	_ = h.rc.Control(func(fd uintptr) { out = fd })
	return out
}

// read is a synchronous read; it parks the goroutine until data arrives.
func (h *handle) read(p []byte) (int, error) { return h.f.Read(p) }

// write is a synchronous write of all of p.
func (h *handle) write(p []byte) (int, error) { return h.f.Write(p) }

// readAsync starts an asynchronous read into p. When the kernel has data
// ready the request completes before readAsync returns; otherwise it is
// left pending, a goroutine finishes it, and onDone runs after completion.
// A non-nil error means the request failed immediately.
func (h *handle) readAsync(req *request, p []byte, onDone func(*request)) error {
	var (
		n    int
		rerr error
	)
	if err := h.rc.Read(func(fd uintptr) bool {
		for {
			n, rerr = unix.Read(int(fd), p)
			if rerr != unix.EINTR {
				return true
			}
		}
	}); err != nil {
		return err
	}
	switch {
	case rerr == nil && n == 0 && len(p) > 0:
		return io.EOF
	case rerr == nil:
		req.complete(n, nil)
		return nil
	case rerr != unix.EAGAIN:
		return rerr
	}

	go func() {
		n, err := h.f.Read(p)
		req.complete(n, err)
		onDone(req)
	}()
	return nil
}

// writeAsync starts an asynchronous write of all of p. The completion
// routine is handed to deliver once the native write finishes; deliver
// decides which goroutine runs it.
func (h *handle) writeAsync(p []byte, deliver func(func()), routine func(n int, err error)) error {
	// Fail fast on a handle that can no longer accept requests.
	if err := h.rc.Control(func(uintptr) {}); err != nil {
		return err
	}
	go func() {
		n, err := h.f.Write(p)
		deliver(func() { routine(n, err) })
	}()
	return nil
}

// cancelRead and cancelWrite abort the blocked direction. They fail for
// kinds the runtime poller does not manage, whose I/O cannot be interrupted.
func (h *handle) cancelRead() error  { return h.f.SetReadDeadline(aLongTimeAgo) }
func (h *handle) cancelWrite() error { return h.f.SetWriteDeadline(aLongTimeAgo) }

func (h *handle) seekStart() error {
	_, err := h.f.Seek(0, io.SeekStart)
	return err
}

func (h *handle) close() error { return h.f.Close() }
