// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package stm

import (
	"io"
)

// Copy copies from src to dst until EOF or an error.
//
// Unlike io.Copy it keeps non-blocking control flow intact: when either side
// returns ErrWouldBlock, Copy returns immediately with the bytes written so
// far and ErrWouldBlock. Bytes already read from src are always written to
// dst before Copy returns, so nothing is lost between calls; a destination
// that would block in the middle of a chunk is retried until the chunk is
// out.
//
// A (0, nil) read stops the copy and returns (written, nil), so event-loop
// callers never spin inside Copy.
func Copy(dst io.Writer, src io.Reader) (written int64, err error) {
	return copyBuffer(dst, src, nil, ReturnPolicy{})
}

// CopyPolicy is like Copy but consults policy on ErrWouldBlock. With
// PolicyRetry the engine calls policy.Yield(op) and carries on; otherwise it
// returns. A nil policy behaves like Copy.
func CopyPolicy(dst io.Writer, src io.Reader, policy SemanticPolicy) (written int64, err error) {
	if policy == nil {
		policy = ReturnPolicy{}
	}
	return copyBuffer(dst, src, nil, policy)
}

// CopyBuffer is like CopyPolicy but stages through buf. If buf is nil a
// stack buffer is used; an empty non-nil buf panics.
func CopyBuffer(dst io.Writer, src io.Reader, buf []byte, policy SemanticPolicy) (written int64, err error) {
	if buf != nil && len(buf) == 0 {
		panic("empty buffer in CopyBuffer")
	}
	if policy == nil {
		policy = ReturnPolicy{}
	}
	return copyBuffer(dst, src, buf, policy)
}

// Buffer is the default stack buffer used when none is supplied. It matches
// a stream's default read-ahead.
type Buffer [DefaultReadBufferSize]byte

func copyBuffer(dst io.Writer, src io.Reader, buf []byte, policy SemanticPolicy) (written int64, err error) {
	var local Buffer
	if buf == nil {
		buf = local[:]
	}

	for {
		nr, er := src.Read(buf)
		if nr > 0 {
			off := 0
			for off < nr {
				nw, ew := dst.Write(buf[off:nr])
				if nw > 0 {
					written += int64(nw)
					off += nw
				}
				if ew != nil {
					if IsWouldBlock(ew) {
						// The chunk is already out of src; it has to go.
						if policy.OnWouldBlock(OpCopyWrite) == PolicyRetry || off < nr {
							policy.Yield(OpCopyWrite)
							continue
						}
						return written, ErrWouldBlock
					}
					return written, ew
				}
				if nw == 0 {
					return written, io.ErrShortWrite
				}
			}
		}

		if er != nil {
			if er == io.EOF {
				return written, nil
			}
			if IsWouldBlock(er) {
				if policy.OnWouldBlock(OpCopyRead) == PolicyRetry {
					policy.Yield(OpCopyRead)
					continue
				}
				return written, ErrWouldBlock
			}
			return written, er
		}

		if nr == 0 {
			return written, nil
		}
	}
}
