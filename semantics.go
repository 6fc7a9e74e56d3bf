// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package stm

import (
	"errors"
	"io"
)

// Outcome classifies a Read or Write result.
//
// OutcomeOK:         success.
// OutcomeWouldBlock: nothing could be done now; poll Events and retry.
// OutcomeEOF:        the peer finished; the stream stays usable best-effort.
// OutcomeFailure:    any other error (a latched or immediate hard failure).
type Outcome uint8

const (
	OutcomeFailure Outcome = iota
	OutcomeOK
	OutcomeWouldBlock
	OutcomeEOF
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "OK"
	case OutcomeWouldBlock:
		return "WouldBlock"
	case OutcomeEOF:
		return "EOF"
	default:
		return "Failure"
	}
}

// IsWouldBlock reports whether err carries the would-block semantic.
// It returns true for ErrWouldBlock and wrappers (via errors.Is).
func IsWouldBlock(err error) bool { return errors.Is(err, ErrWouldBlock) }

// IsNonFailure reports whether err should be treated as a non-failure in
// event-loop control flow: nil or ErrWouldBlock.
func IsNonFailure(err error) bool { return err == nil || IsWouldBlock(err) }

// Classify maps err to an Outcome.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeOK
	case IsWouldBlock(err):
		return OutcomeWouldBlock
	case errors.Is(err, io.EOF):
		return OutcomeEOF
	}
	return OutcomeFailure
}
