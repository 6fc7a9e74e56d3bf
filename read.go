// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package stm

// Read reads up to len(p) bytes.
//
// Order of service:
//  1. A pending asynchronous read is settled first. If it is still in
//     flight Read returns ErrWouldBlock (a blocking stream waits for it).
//  2. Buffered read-ahead is always delivered before a latched failure;
//     once the buffer is empty the failure is returned exactly once.
//  3. Blocking mode drains the buffer, then performs one synchronous read
//     into the rest of p. A failure there is only returned when nothing was
//     drained; otherwise it is latched for the next call.
//  4. Non-blocking mode drains the buffer, then issues one asynchronous read
//     sized to the buffer's free tail. If it completes at once its bytes are
//     delivered too; if it stays pending Read returns what it has, or
//     ErrWouldBlock when that is nothing.
//
// End of stream is reported as io.EOF.
func (s *Stream) Read(p []byte) (int, error) {
	pending, err := s.settleRead()
	if err != nil {
		return 0, err
	}
	if pending {
		return 0, ErrWouldBlock
	}
	if len(p) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, ErrClosed
	}
	if s.latched != nil && s.rbuf.buffered() == 0 {
		err := s.latched
		s.latched = nil
		s.mu.Unlock()
		return 0, Translate(err)
	}
	if s.blocking {
		return s.readBlocking(p)
	}
	defer s.mu.Unlock()
	return s.readNonBlocking(p)
}

// settleRead folds a completed asynchronous read into the buffer and
// reports whether one is still in flight.
func (s *Stream) settleRead() (bool, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false, ErrClosed
	}
	req := s.readPending
	if req == nil {
		s.mu.Unlock()
		return false, nil
	}
	blocking := s.blocking
	s.mu.Unlock()

	// Unlocked phase: a blocking stream parks here until the request
	// completes. Writers and write completions must not stall behind it.
	if blocking {
		s.wait(req.done)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}
	if s.readPending != req {
		return s.readPending != nil, nil
	}
	if !req.completed() {
		return true, nil
	}
	s.readPending = nil
	s.rbuf.fill(req.n)
	if req.err != nil {
		s.log.Tracef("pending read #%d failed: %v", req.token, req.err)
		s.latch(req.err)
	} else {
		s.log.Tracef("pending read #%d completed, %d bytes", req.token, req.n)
	}
	return false, nil
}

// readBlocking is entered with mu held and returns with it released.
func (s *Stream) readBlocking(p []byte) (int, error) {
	total := s.rbuf.drain(p)
	if total == len(p) || s.latched != nil {
		s.mu.Unlock()
		return total, nil
	}
	h := s.h
	s.mu.Unlock()

	// Unlocked phase: the synchronous read parks until data arrives.
	n, err := h.read(p[total:])
	total += n
	if err == nil {
		return total, nil
	}
	if total == 0 {
		return 0, Translate(err)
	}
	s.mu.Lock()
	s.latch(err)
	s.mu.Unlock()
	return total, nil
}

// readNonBlocking runs with mu held.
func (s *Stream) readNonBlocking(p []byte) (int, error) {
	total := s.rbuf.drain(p)
	if s.latched != nil {
		return total, nil
	}
	tail := s.rbuf.tail()
	if len(tail) == 0 {
		return total, nil
	}
	if s.rbuf.buffered() == 0 {
		// Nothing more until the request below resolves.
		_ = s.events.Reset()
	}

	req := &request{token: s.nextToken(), done: make(chan struct{})}
	s.readsIssued++
	err := s.h.readAsync(req, tail, s.readCompleted)
	switch {
	case err != nil:
		s.log.Tracef("async read #%d failed immediately: %v", req.token, err)
		if total == 0 {
			return 0, Translate(err)
		}
		s.latch(err)
		_ = s.events.Set()
		return total, nil
	case req.completed():
		s.rbuf.fill(req.n)
		_ = s.events.Set()
		total += s.rbuf.drain(p[total:])
		return total, nil
	}

	s.log.Tracef("async read #%d pending for %d bytes", req.token, len(tail))
	s.readPending = req
	if total == 0 {
		return 0, ErrWouldBlock
	}
	return total, nil
}

// readCompleted runs on the goroutine that finished a pending read.
func (s *Stream) readCompleted(*request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		_ = s.events.Set()
	}
}
