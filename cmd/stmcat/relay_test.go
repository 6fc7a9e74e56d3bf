// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"code.hybscloud.com/stm"
)

type relayMode struct {
	name     string
	nonblock bool
}

var relayModes = []relayMode{{"poll", true}, {"blocking", false}}

// newRelay wires a relay between a socketpair and a pipe standing in for
// stdin. It returns the relay, the far end of the socket and the stdin
// writer.
func newRelay(t *testing.T, m relayMode, out io.Writer) (*relay, *os.File, *os.File) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		t.Fatal(err)
	}
	peer := os.NewFile(uintptr(fds[1]), "peer")

	var q *stm.CompletionQueue
	var opts []stm.Option
	if m.nonblock {
		if q, err = stm.NewCompletionQueue(); err != nil {
			t.Fatal(err)
		}
		opts = append(opts, stm.WithCompletionQueue(q))
	}
	remote, err := stm.NewStream(uintptr(fds[0]), opts...)
	if err != nil {
		t.Fatal(err)
	}

	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	local, _, err := localStream(stdinR)
	if err != nil {
		t.Fatal(err)
	}
	_ = stdinR.Close()

	t.Cleanup(func() {
		_ = remote.Close()
		_ = local.Close()
		_ = peer.Close()
		_ = stdinW.Close()
		if q != nil {
			_ = q.Close()
		}
	})
	return &relay{
		remote:   remote,
		local:    local,
		queue:    q,
		out:      out,
		log:      zap.NewNop(),
		interval: 20 * time.Millisecond,
	}, peer, stdinW
}

func runRelay(t *testing.T, r *relay) error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- r.run(context.Background()) }()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("relay did not finish")
		return nil
	}
}

func TestRelay_RemoteToStdout(t *testing.T) {
	for _, m := range relayModes {
		t.Run(m.name, func(t *testing.T) {
			var out bytes.Buffer
			r, peer, _ := newRelay(t, m, &out)
			go func() {
				_, _ = peer.Write([]byte("greeting"))
				_ = peer.Close()
			}()
			if err := runRelay(t, r); err != nil {
				t.Fatalf("relay: %v", err)
			}
			if out.String() != "greeting" {
				t.Fatalf("out=%q", out.String())
			}
		})
	}
}

func TestRelay_StdinToRemote(t *testing.T) {
	for _, m := range relayModes {
		t.Run(m.name, func(t *testing.T) {
			r, peer, stdin := newRelay(t, m, io.Discard)
			r.exitOnLocalEOF = true

			got := make(chan []byte, 1)
			go func() {
				buf := make([]byte, len("payload-1payload-2"))
				n, _ := io.ReadFull(peer, buf)
				got <- buf[:n]
			}()
			_, _ = stdin.Write([]byte("payload-1"))
			_, _ = stdin.Write([]byte("payload-2"))
			_ = stdin.Close()

			if err := runRelay(t, r); err != nil {
				t.Fatalf("relay: %v", err)
			}
			select {
			case b := <-got:
				if string(b) != "payload-1payload-2" {
					t.Fatalf("peer got %q", b)
				}
			case <-time.After(2 * time.Second):
				t.Fatal("peer got nothing")
			}
		})
	}
}

func TestRelay_ContextCancel(t *testing.T) {
	r, _, _ := newRelay(t, relayModes[0], io.Discard)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := r.run(ctx); err != nil {
		t.Fatalf("relay: %v", err)
	}
}

func TestRun_UnixSocket(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "s")
	ln, err := net.Listen("unix", sock)
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		_, _ = c.Write([]byte("hi"))
		_ = c.Close()
	}()

	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer stdinR.Close()
	defer stdinW.Close()

	var out, stderr bytes.Buffer
	args := []string{"-path", sock, "-env", "", "-timeout", "1s", "-log-level", "error"}
	if err := run(context.Background(), args, stdinR, &out, &stderr); err != nil {
		t.Fatalf("run: %v (stderr %s)", err, stderr.String())
	}
	if out.String() != "hi" {
		t.Fatalf("out=%q", out.String())
	}
}

func TestRun_ConnectFailure(t *testing.T) {
	var out, stderr bytes.Buffer
	args := []string{"-path", filepath.Join(t.TempDir(), "absent"), "-env", "", "-timeout", "30ms", "-log-level", "error"}
	if err := run(context.Background(), args, os.Stdin, &out, &stderr); err == nil {
		t.Fatal("expected connect error")
	}
}

func TestLocalStream_RestoresBlockingMode(t *testing.T) {
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_CLOEXEC); err != nil {
		t.Fatal(err)
	}
	in := os.NewFile(uintptr(p[0]), "stdin")
	defer in.Close()
	defer unix.Close(p[1])

	local, restore, err := localStream(in)
	if err != nil {
		t.Fatal(err)
	}
	if nb, _ := unix.IsNonblock(p[0]); !nb {
		t.Fatal("stream descriptor left blocking")
	}
	_ = local.Close()
	restore()
	if nb, err := unix.IsNonblock(p[0]); err != nil || nb {
		t.Fatalf("stdin nonblocking=%v err=%v after restore", nb, err)
	}
}

func TestLocalStream_KeepsNonblockingInput(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	defer w.Close()

	local, restore, err := localStream(r)
	if err != nil {
		t.Fatal(err)
	}
	_ = local.Close()
	restore()
	if nb, err := unix.IsNonblock(int(fdOf(t, r))); err != nil || !nb {
		t.Fatalf("nonblocking=%v err=%v", nb, err)
	}
}

func fdOf(t *testing.T, f *os.File) uintptr {
	t.Helper()
	rc, err := f.SyscallConn()
	if err != nil {
		t.Fatal(err)
	}
	var out uintptr
	if err := rc.Control(func(fd uintptr) { out = fd }); err != nil {
		t.Fatal(err)
	}
	return out
}
