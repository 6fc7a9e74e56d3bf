// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package stm

import (
	"runtime"
	"time"
)

// Op identifies which side of a copy hit ErrWouldBlock.
type Op uint8

const (
	OpCopyRead Op = iota
	OpCopyWrite
)

func (op Op) String() string {
	switch op {
	case OpCopyRead:
		return "CopyRead"
	case OpCopyWrite:
		return "CopyWrite"
	default:
		return "Op(unknown)"
	}
}

// PolicyAction tells the copy engine whether to return to the caller or
// attempt the operation again.
type PolicyAction uint8

const (
	// PolicyReturn means: return ErrWouldBlock to the caller.
	PolicyReturn PolicyAction = iota

	// PolicyRetry means: call Yield, then retry.
	PolicyRetry
)

// SemanticPolicy customizes how CopyPolicy reacts to ErrWouldBlock.
//
// If OnWouldBlock returns PolicyRetry the engine calls Yield(op) and then
// retries. A Yield that does not actually wait makes the engine spin.
type SemanticPolicy interface {
	Yield(op Op)
	OnWouldBlock(op Op) PolicyAction
}

// PolicyFunc adapts plain functions to SemanticPolicy.
//
// Nil fields default to runtime.Gosched for YieldFunc and PolicyReturn for
// WouldBlockFunc.
type PolicyFunc struct {
	YieldFunc      func(op Op)
	WouldBlockFunc func(op Op) PolicyAction
}

func (p PolicyFunc) Yield(op Op) {
	if p.YieldFunc != nil {
		p.YieldFunc(op)
		return
	}
	runtime.Gosched()
}

func (p PolicyFunc) OnWouldBlock(op Op) PolicyAction {
	if p.WouldBlockFunc != nil {
		return p.WouldBlockFunc(op)
	}
	return PolicyReturn
}

// ReturnPolicy never retries. Callers handle ErrWouldBlock themselves.
type ReturnPolicy struct{}

func (ReturnPolicy) Yield(Op) {}

func (ReturnPolicy) OnWouldBlock(Op) PolicyAction { return PolicyReturn }

// PollPolicy retries after waiting for readiness. Yield polls Events, for
// at most Timeout (negative: forever), through Queue when one is set so
// that write completions of queue-bound streams keep running.
type PollPolicy struct {
	Queue   *CompletionQueue
	Events  []*Event
	Timeout time.Duration
}

func (p PollPolicy) Yield(Op) {
	set := make([]PollEvent, len(p.Events))
	for i, ev := range p.Events {
		set[i].Event = ev
	}
	if p.Queue != nil {
		_, _ = p.Queue.Poll(set, p.Timeout)
		return
	}
	_, _ = Poll(set, p.Timeout)
}

func (PollPolicy) OnWouldBlock(Op) PolicyAction { return PolicyRetry }
