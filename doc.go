// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package stm provides a duplex byte stream over a native handle (pipe,
// FIFO, unix socket, regular file, character device) that offers ordinary
// blocking or non-blocking Read and Write on top of an asynchronous
// request/completion model.
//
// Per stream there is at most one asynchronous read and one asynchronous
// write in flight. Reads fill a fixed read-ahead buffer; writes queue and
// reach the handle strictly in submission order. A manual-reset Event
// signals when the stream may make progress, so an event loop can wait on
// many streams at once with Poll.
//
// Result semantics
//   - ErrWouldBlock: nothing can be done now. Poll the stream's Events and
//     retry.
//   - Asynchronous failures are latched and reported exactly once by a
//     later Read, after any bytes already buffered.
//
// Write completions are delivered either on the goroutine that finished the
// native write, or, for streams bound to a CompletionQueue, only while a
// goroutine waits alertably on that queue (its Poll, Run or Wait).
//
// Use the stm.Copy family instead of io.Copy to keep ErrWouldBlock intact.
package stm
