// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package stm

import (
	"sync"

	"github.com/pion/logging"
)

// WriteFailurePolicy decides what happens to queued writes after an
// asynchronous write fails.
type WriteFailurePolicy uint8

const (
	// WriteFailureContinue keeps the remaining queue and goes on draining
	// it. The failure is still latched and reported by the next Read.
	WriteFailureContinue WriteFailurePolicy = iota

	// WriteFailureDiscard drops every queued write once one fails.
	WriteFailureDiscard
)

func (p WriteFailurePolicy) String() string {
	if p == WriteFailureDiscard {
		return "discard"
	}
	return "continue"
}

// Option configures a Stream.
type Option func(*config)

type config struct {
	readBufferSize int
	queue          *CompletionQueue
	loggerFactory  logging.LoggerFactory
	writeFailure   WriteFailurePolicy
}

var defaultLoggerFactory = sync.OnceValue(func() logging.LoggerFactory {
	return logging.NewDefaultLoggerFactory()
})

func newConfig(opts []Option) config {
	c := config{readBufferSize: DefaultReadBufferSize}
	for _, opt := range opts {
		if opt != nil {
			opt(&c)
		}
	}
	if c.readBufferSize <= 0 {
		c.readBufferSize = DefaultReadBufferSize
	}
	if c.loggerFactory == nil {
		c.loggerFactory = defaultLoggerFactory()
	}
	return c
}

// WithReadBufferSize sets the read-ahead capacity. Default 8192.
func WithReadBufferSize(n int) Option {
	return func(c *config) { c.readBufferSize = n }
}

// WithCompletionQueue binds the stream's write completions to q. They then
// run only while some goroutine waits alertably on q.
func WithCompletionQueue(q *CompletionQueue) Option {
	return func(c *config) { c.queue = q }
}

// WithLoggerFactory sets where the stream logs. Default: pion's default
// factory, scope "stm", configured through PION_LOG_* variables.
func WithLoggerFactory(f logging.LoggerFactory) Option {
	return func(c *config) { c.loggerFactory = f }
}

// WithWriteFailurePolicy sets the queue behavior after a failed write.
func WithWriteFailurePolicy(p WriteFailurePolicy) Option {
	return func(c *config) { c.writeFailure = p }
}
