// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package stm

import (
	"os"
	"sync"
	"sync/atomic"

	"github.com/pion/logging"
	"golang.org/x/sys/unix"
)

var leakedRequests atomic.Uint64

// LeakedRequests returns how many in-flight requests Close could not cancel
// in this process. Their goroutines are left to finish on their own against
// the closed handle instead of being torn down underneath the kernel.
func LeakedRequests() uint64 { return leakedRequests.Load() }

// Stream is a duplex byte stream over a native handle.
//
// A Stream starts in blocking mode: Read and Write park the caller until the
// native operation finishes. After SetNonblocking(true) they never park;
// Read returns ErrWouldBlock when nothing is buffered, and Write queues the
// payload and reports it written. Readiness is signalled through Events.
//
// Writes may come from several goroutines. Reads are expected from one
// goroutine at a time.
type Stream struct {
	mu       sync.Mutex
	h        *handle
	events   *Event
	blocking bool
	latched  error
	closed   bool

	rbuf        readBuffer
	readPending *request

	whead, wtail *writeNode
	queued       int
	writePending *writeOp

	token        uint64
	readsIssued  uint64
	writesIssued uint64

	queue        *CompletionQueue
	writeFailure WriteFailurePolicy
	log          logging.LeveledLogger
}

// Stats is a point-in-time view of a stream's request bookkeeping.
type Stats struct {
	ReadPending  bool
	WritePending bool
	Queued       int
	Buffered     int
	ReadsIssued  uint64
	WritesIssued uint64
}

// NewStream opens a stream over the native descriptor fd and takes
// ownership of it, also on failure. Pipes, sockets and character devices
// are switched to non-blocking mode so the runtime poller can drive them.
func NewStream(fd uintptr, opts ...Option) (*Stream, error) {
	if int(fd) < 0 {
		return nil, ErrInvalidHandle
	}
	var st unix.Stat_t
	if err := unix.Fstat(int(fd), &st); err != nil {
		if err == unix.EBADF {
			return nil, ErrInvalidHandle
		}
		_ = unix.Close(int(fd))
		return nil, Translate(err)
	}
	if kindOf(st.Mode).pollable() {
		if err := unix.SetNonblock(int(fd), true); err != nil {
			_ = unix.Close(int(fd))
			return nil, Translate(err)
		}
	}
	f := os.NewFile(fd, "stm")
	if f == nil {
		return nil, ErrInvalidHandle
	}
	return FromFile(f, opts...)
}

// FromFile opens a stream over f. The stream owns f from now on, also on
// failure: FromFile closes f when it returns an error. Close the stream, not
// f.
//
// A pipe, socket or character device still in blocking mode is moved to a
// non-blocking duplicate descriptor and f is closed, so Fd may differ from
// f.Fd().
func FromFile(f *os.File, opts ...Option) (*Stream, error) {
	if f == nil {
		return nil, ErrInvalidHandle
	}
	h, err := newHandle(f)
	if err == nil {
		h, err = pollerReady(h)
	}
	if err != nil {
		_ = f.Close()
		return nil, Translate(err)
	}
	// Signalled so the first read is attempted eagerly.
	ev, err := NewEvent(true)
	if err != nil {
		_ = h.close()
		return nil, err
	}
	c := newConfig(opts)
	s := &Stream{
		h:            h,
		events:       ev,
		blocking:     true,
		rbuf:         newReadBuffer(c.readBufferSize),
		queue:        c.queue,
		writeFailure: c.writeFailure,
		log:          c.loggerFactory.NewLogger("stm"),
	}
	s.log.Tracef("opened %s stream on fd %d", h.kind, h.fd())
	return s, nil
}

// pollerReady returns h unchanged unless it is a pollable descriptor in
// blocking mode. A read on such a descriptor never reports EAGAIN, so it is
// duplicated, the duplicate made non-blocking and h's file closed.
func pollerReady(h *handle) (*handle, error) {
	if !h.kind.pollable() {
		return h, nil
	}
	var (
		nb   bool
		nfd  = -1
		serr error
	)
	if err := h.rc.Control(func(fd uintptr) {
		if nb, serr = unix.IsNonblock(int(fd)); serr != nil || nb {
			return
		}
		nfd, serr = unix.Dup(int(fd))
	}); err != nil {
		return nil, err
	}
	if serr != nil {
		return nil, serr
	}
	if nfd < 0 {
		return h, nil
	}
	unix.CloseOnExec(nfd)
	name := h.f.Name()
	_ = h.f.Close()
	if err := unix.SetNonblock(nfd, true); err != nil {
		_ = unix.Close(nfd)
		return nil, err
	}
	nf := os.NewFile(uintptr(nfd), name)
	nh, err := newHandle(nf)
	if err != nil {
		_ = nf.Close()
		return nil, err
	}
	return nh, nil
}

// Close cancels in-flight requests, drops queued writes undelivered and
// releases the handle and its readiness signal. A request the native layer
// refuses to cancel is counted in LeakedRequests. Close is not idempotent:
// a second call returns ErrClosed.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.closed = true

	if req := s.readPending; req != nil {
		if err := s.h.cancelRead(); err != nil && !req.completed() {
			s.leak("read", req.token, err)
		}
		s.readPending = nil
	}
	if op := s.writePending; op != nil {
		if err := s.h.cancelWrite(); err != nil && !op.finished.Load() {
			s.leak("write", op.token, err)
		}
		s.writePending = nil
	}
	if s.queued > 0 {
		s.log.Debugf("dropping %d queued writes on close", s.queued)
	}
	s.whead, s.wtail, s.queued = nil, nil, 0

	err := s.h.close()
	if eerr := s.events.Close(); err == nil {
		err = eerr
	}
	return Translate(err)
}

// SetNonblocking switches between blocking and non-blocking mode. Requests
// already issued are not affected.
func (s *Stream) SetNonblocking(nonblocking bool) {
	s.mu.Lock()
	s.blocking = !nonblocking
	s.mu.Unlock()
}

// Rewind repositions the handle to its start and discards read-ahead.
// Non-seekable kinds fail with ESPIPE.
func (s *Stream) Rewind() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := s.h.seekStart(); err != nil {
		return Translate(err)
	}
	if s.readPending == nil {
		s.rbuf.reset()
	}
	return nil
}

// Shutdown switches the stream to blocking mode and waits until the write
// queue has drained, so no accepted write is lost by a following Close.
// When the stream is bound to a completion queue, Shutdown runs the queue's
// routines while it waits.
func (s *Stream) Shutdown() error {
	s.mu.Lock()
	s.blocking = true
	for s.writePending != nil && !s.closed {
		op := s.writePending
		s.mu.Unlock()
		// Unlocked phase: the completion routine needs mu.
		s.wait(op.done)
		s.mu.Lock()
	}
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return nil
}

// Events returns the readiness signal. It is set whenever a Read or Write
// may make progress (or report a failure) without blocking.
func (s *Stream) Events() *Event { return s.events }

// Kind returns the endpoint classification.
func (s *Stream) Kind() Kind { return s.h.kind }

// Fd returns the native descriptor. It stays owned by the stream.
func (s *Stream) Fd() uintptr { return s.h.fd() }

// Stats returns a snapshot of the request bookkeeping.
func (s *Stream) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		ReadPending:  s.readPending != nil,
		WritePending: s.writePending != nil,
		Queued:       s.queued,
		Buffered:     s.rbuf.buffered(),
		ReadsIssued:  s.readsIssued,
		WritesIssued: s.writesIssued,
	}
}

// latch records the first hard failure until a Read reports it.
// Must be called with mu held.
func (s *Stream) latch(err error) {
	if s.latched == nil {
		s.latched = err
	}
}

func (s *Stream) nextToken() uint64 {
	s.token++
	return s.token
}

// deliver hands a completion routine to the goroutine that will run it.
func (s *Stream) deliver(fn func()) {
	if s.queue != nil {
		s.queue.post(fn)
		return
	}
	fn()
}

// wait blocks until done is closed, alertably when bound to a queue.
func (s *Stream) wait(done <-chan struct{}) {
	if s.queue != nil {
		s.queue.waitFor(done)
		return
	}
	<-done
}

func (s *Stream) leak(dir string, token uint64, err error) {
	leakedRequests.Add(1)
	s.log.Warnf("could not cancel pending %s #%d: %v; leaving it to finish", dir, token, err)
}
