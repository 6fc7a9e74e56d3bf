// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package stm

import (
	"bytes"
	"errors"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/sys/unix"
)

func TestReadBuffer_DrainRepacks(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	b := newReadBuffer(64)
	var model []byte
	var next byte
	for range 2000 {
		if rng.IntN(2) == 0 {
			tail := b.tail()
			n := rng.IntN(len(tail) + 1)
			for i := range n {
				tail[i] = next
				next++
			}
			model = append(model, tail[:n]...)
			b.fill(n)
		} else {
			p := make([]byte, rng.IntN(80))
			n := b.drain(p)
			want := min(len(p), len(model))
			if n != want || !bytes.Equal(p[:n], model[:n]) {
				t.Fatalf("drain: n=%d want %d", n, want)
			}
			model = model[n:]
		}
		if b.cursor+b.avail > len(b.data) || b.avail != len(model) {
			t.Fatalf("invariant broken: cursor=%d avail=%d model=%d", b.cursor, b.avail, len(model))
		}
		if b.avail > 0 && b.cursor != 0 {
			t.Fatalf("valid bytes not at front after drain: cursor=%d", b.cursor)
		}
	}
}

func TestReadBuffer_DefaultSize(t *testing.T) {
	if got := len(newReadBuffer(0).data); got != DefaultReadBufferSize {
		t.Fatalf("size=%d", got)
	}
}

func pipeReader(t *testing.T, opts ...Option) *Stream {
	t.Helper()
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	s, err := FromFile(r, opts...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		_ = s.Close()
		_ = w.Close()
	})
	return s
}

func TestRead_LatchedErrorWaitsForBufferedBytes(t *testing.T) {
	s := pipeReader(t)
	s.SetNonblocking(true)
	s.mu.Lock()
	copy(s.rbuf.tail(), "abcdef")
	s.rbuf.fill(6)
	s.latch(unix.EIO)
	s.latch(unix.EPIPE) // first failure wins
	s.mu.Unlock()

	p := make([]byte, 4)
	if n, err := s.Read(p); n != 4 || err != nil || string(p) != "abcd" {
		t.Fatalf("n=%d err=%v data=%q", n, err, p[:n])
	}
	if n, err := s.Read(p); n != 2 || err != nil || string(p[:2]) != "ef" {
		t.Fatalf("n=%d err=%v data=%q", n, err, p[:n])
	}
	if n, err := s.Read(p); n != 0 || !errors.Is(err, unix.EIO) {
		t.Fatalf("n=%d err=%v", n, err)
	}
	// Reported once; the stream is usable again.
	if _, err := s.Read(p); !errors.Is(err, ErrWouldBlock) {
		t.Fatalf("err=%v", err)
	}
}

func TestRead_BlockingDoesNotReadPastLatchedError(t *testing.T) {
	s := pipeReader(t)
	s.mu.Lock()
	copy(s.rbuf.tail(), "xyz")
	s.rbuf.fill(3)
	s.latch(unix.ECONNRESET)
	s.mu.Unlock()

	p := make([]byte, 8)
	// Would park forever if it issued a synchronous read.
	if n, err := s.Read(p); n != 3 || err != nil {
		t.Fatalf("n=%d err=%v", n, err)
	}
	if _, err := s.Read(p); !errors.Is(err, unix.ECONNRESET) {
		t.Fatalf("err=%v", err)
	}
}

func TestRead_ZeroLength(t *testing.T) {
	s := pipeReader(t)
	s.SetNonblocking(true)
	if n, err := s.Read(nil); n != 0 || err != nil {
		t.Fatalf("n=%d err=%v", n, err)
	}
	if s.Stats().ReadsIssued != 0 {
		t.Fatal("zero-length read issued a request")
	}
}

func TestRead_SmallBufferOption(t *testing.T) {
	s := pipeReader(t, WithReadBufferSize(4))
	if len(s.rbuf.data) != 4 {
		t.Fatalf("size=%d", len(s.rbuf.data))
	}
}

func regularStream(t *testing.T) *Stream {
	t.Helper()
	s, err := OpenFile(filepath.Join(t.TempDir(), "f"), ORDWR|OCREATE, 0o600)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestClose_CountsUncancellableRequests(t *testing.T) {
	s := regularStream(t)
	// Regular files are outside the poller, so cancellation fails.
	s.mu.Lock()
	s.readPending = &request{token: 1, done: make(chan struct{})}
	s.writePending = &writeOp{token: 2, done: make(chan struct{})}
	s.mu.Unlock()

	before := LeakedRequests()
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := LeakedRequests() - before; got != 2 {
		t.Fatalf("leaked %d, want 2", got)
	}
}

func TestClose_FinishedRequestsAreNotLeaks(t *testing.T) {
	s := regularStream(t)
	req := &request{token: 1, done: make(chan struct{})}
	req.complete(0, nil)
	op := &writeOp{token: 2, done: make(chan struct{})}
	op.finished.Store(true)
	s.mu.Lock()
	s.readPending, s.writePending = req, op
	s.mu.Unlock()

	before := LeakedRequests()
	_ = s.Close()
	if got := LeakedRequests() - before; got != 0 {
		t.Fatalf("leaked %d", got)
	}
}

func TestWriteCompleted_StaleTokenKeepsCurrentRequest(t *testing.T) {
	s := regularStream(t)
	defer s.Close()
	current := &writeOp{token: 9, done: make(chan struct{})}
	stale := &writeOp{token: 3, node: &writeNode{data: []byte("ab")}, done: make(chan struct{})}
	s.mu.Lock()
	s.writePending = current
	s.mu.Unlock()

	s.writeCompleted(stale, 2, nil)
	select {
	case <-stale.done:
	default:
		t.Fatal("stale op not released")
	}
	if s.Stats().WritePending != true {
		t.Fatal("stale completion cleared the current request")
	}
	s.mu.Lock()
	s.writePending = nil
	s.mu.Unlock()
}

func TestWriteCompleted_ShortWritePanics(t *testing.T) {
	s := regularStream(t)
	defer s.Close()
	op := &writeOp{token: 1, node: &writeNode{data: []byte("0123456789")}, done: make(chan struct{})}
	s.mu.Lock()
	s.writePending = op
	s.mu.Unlock()

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
		select {
		case <-op.done:
		default:
			t.Fatal("op not released after panic")
		}
	}()
	s.writeCompleted(op, 4, nil)
}

func TestOpenFlag_Native(t *testing.T) {
	for _, tc := range []struct {
		in   OpenFlag
		want int
	}{
		{ORDONLY, unix.O_RDONLY},
		{OWRONLY, unix.O_WRONLY},
		{ORDWR, unix.O_RDWR},
		{ORDWR | OCREATE | OEXCL, unix.O_RDWR | unix.O_CREAT | unix.O_EXCL},
		{OWRONLY | OEXCL, unix.O_WRONLY}, // exclusive only means something with create
		{OWRONLY | OTRUNC | OAPPEND, unix.O_WRONLY | unix.O_TRUNC | unix.O_APPEND},
		{ORDONLY | OCLOEXEC | ODIRECTORY, unix.O_RDONLY | unix.O_CLOEXEC | unix.O_DIRECTORY},
	} {
		if got := tc.in.native(); got != tc.want {
			t.Errorf("%#x.native() = %#x, want %#x", uint32(tc.in), got, tc.want)
		}
	}
}

func TestOpenFlag_Bits(t *testing.T) {
	if OWRONLY != 1 || ORDWR != 2 {
		t.Fatalf("OWRONLY=%#x ORDWR=%#x", uint32(OWRONLY), uint32(ORDWR))
	}
	var seen OpenFlag
	for _, f := range []OpenFlag{OWRONLY, ORDWR, OCREATE, OEXCL, OTRUNC, OAPPEND, OCLOEXEC, ODIRECTORY} {
		if f == 0 || f&(f-1) != 0 {
			t.Fatalf("%#x is not a single bit", uint32(f))
		}
		if seen&f != 0 {
			t.Fatalf("%#x reused", uint32(f))
		}
		seen |= f
	}
}
