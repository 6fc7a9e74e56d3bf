// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package stm

import (
	"bytes"
	"fmt"
	"sync/atomic"
)

// writeNode is one queued Write: an owned copy of the payload and how much
// of it the native layer has acknowledged.
type writeNode struct {
	data []byte
	off  int
	next *writeNode
}

// writeOp is the in-flight write. The stream holds at most one, identified
// by token; done is closed after its completion routine has run.
type writeOp struct {
	token    uint64
	node     *writeNode
	done     chan struct{}
	finished atomic.Bool
}

// Write writes p.
//
// A blocking stream whose kind permits direct writes, with nothing queued
// or in flight, writes p synchronously and returns the native result; a
// failure is also latched and signalled so a waiting reader observes it.
//
// Otherwise p is copied onto the write queue and Write returns len(p)
// immediately. Queued writes reach the handle one at a time in submission
// order; a failure among them is latched and reported by a later Read.
func (s *Stream) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	if len(p) == 0 {
		return 0, nil
	}

	if s.blocking && s.h.kind.DirectWrites() && s.whead == nil && s.writePending == nil {
		n, err := s.h.write(p)
		if err == nil {
			return n, nil
		}
		s.log.Debugf("blocking write failed: %v", err)
		s.latch(err)
		_ = s.events.Set()
		return n, Translate(err)
	}

	node := &writeNode{data: bytes.Clone(p)}
	if s.wtail != nil {
		s.wtail.next = node
	} else {
		s.whead = node
	}
	s.wtail = node
	s.queued++
	s.pump()
	return len(p), nil
}

// pump issues the head of the queue when no write is in flight.
// Must be called with mu held.
func (s *Stream) pump() {
	node := s.whead
	if s.writePending != nil || node == nil {
		return
	}
	s.whead = node.next
	if s.whead == nil {
		s.wtail = nil
	}
	node.next = nil
	s.queued--

	op := &writeOp{token: s.nextToken(), node: node, done: make(chan struct{})}
	s.writePending = op
	s.writesIssued++
	deliver := func(fn func()) {
		op.finished.Store(true)
		s.deliver(fn)
	}
	err := s.h.writeAsync(node.data[node.off:], deliver, func(n int, err error) {
		s.writeCompleted(op, n, err)
	})
	if err != nil {
		// The node is lost with the request.
		s.log.Warnf("async write #%d of %d bytes failed to start: %v", op.token, len(node.data)-node.off, err)
		s.writePending = nil
		close(op.done)
		s.latch(err)
		_ = s.events.Set()
		return
	}
	s.log.Tracef("async write #%d queued for %d bytes", op.token, len(node.data)-node.off)
}

// writeCompleted is the completion routine of op. It runs wherever the
// stream's delivery strategy puts it, and re-pumps before op is released
// so the next request is already in flight when done closes.
func (s *Stream) writeCompleted(op *writeOp, n int, err error) {
	defer close(op.done)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.writePending != nil && s.writePending.token == op.token {
		s.writePending = nil
	}

	if err == nil {
		op.node.off += n
		if remain := len(op.node.data) - op.node.off; remain != 0 {
			s.log.Errorf("async write #%d: short write: %d written, %d remain", op.token, n, remain)
			panic(fmt.Sprintf("stm: short write: %d written, %d remain", n, remain))
		}
		op.node = nil
	} else {
		s.log.Debugf("async write #%d failed: %v", op.token, err)
		s.latch(err)
		_ = s.events.Set()
		if s.writeFailure == WriteFailureDiscard && s.queued > 0 {
			s.log.Debugf("discarding %d queued writes", s.queued)
			s.whead, s.wtail, s.queued = nil, nil, 0
		}
	}

	s.pump()
}
