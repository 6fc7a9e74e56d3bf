// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package stm

// DefaultReadBufferSize is the read-ahead capacity of a stream.
const DefaultReadBufferSize = 8192

// readBuffer is a fixed-capacity read-ahead area.
//
// Invariant: cursor+avail <= len(data). Bytes in [cursor, cursor+avail)
// are valid and unread. drain repacks them to the front so the free space
// is one contiguous tail for the next asynchronous fill.
type readBuffer struct {
	data   []byte
	cursor int
	avail  int
}

func newReadBuffer(size int) readBuffer {
	if size <= 0 {
		size = DefaultReadBufferSize
	}
	return readBuffer{data: make([]byte, size)}
}

func (b *readBuffer) buffered() int { return b.avail }

// drain copies min(len(p), avail) bytes into p and repacks.
func (b *readBuffer) drain(p []byte) int {
	n := copy(p, b.data[b.cursor:b.cursor+b.avail])
	if n == 0 {
		return 0
	}
	b.cursor += n
	b.avail -= n
	if b.cursor > 0 {
		copy(b.data, b.data[b.cursor:b.cursor+b.avail])
		b.cursor = 0
	}
	return n
}

// tail is the free space after the valid bytes. A pending asynchronous
// read owns it until completion; nothing may repack in the meantime.
func (b *readBuffer) tail() []byte { return b.data[b.cursor+b.avail:] }

// fill accounts for n bytes written into tail.
func (b *readBuffer) fill(n int) { b.avail += n }

func (b *readBuffer) reset() { b.cursor, b.avail = 0, 0 }
