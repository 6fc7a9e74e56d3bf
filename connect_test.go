// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package stm_test

import (
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"code.hybscloud.com/stm"
	"golang.org/x/sys/unix"
)

// listenLater creates a unix socket listener at path after delay and echoes
// the first connection back.
func listenLater(t *testing.T, path string, delay time.Duration) {
	t.Helper()
	ready := make(chan net.Listener, 1)
	go func() {
		time.Sleep(delay)
		_ = os.Remove(path)
		ln, err := net.Listen("unix", path)
		if err != nil {
			close(ready)
			return
		}
		ready <- ln
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		_, _ = io.Copy(c, c)
	}()
	t.Cleanup(func() {
		if ln, ok := <-ready; ok {
			_ = ln.Close()
		}
	})
}

func TestConnect_EndpointCreatedLater(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sock")
	listenLater(t, path, 50*time.Millisecond)

	start := time.Now()
	s, err := stm.Connect(path, 200*time.Millisecond)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer s.Close()
	if elapsed := time.Since(start); elapsed >= 200*time.Millisecond {
		t.Fatalf("Connect took %v", elapsed)
	}
	if s.Kind() != stm.KindPipe {
		t.Fatalf("kind=%v", s.Kind())
	}

	if _, err := s.Write([]byte("echo")); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 4)
	if _, err := io.ReadFull(s, buf); err != nil || string(buf) != "echo" {
		t.Fatalf("err=%v data=%q", err, buf)
	}
}

func TestConnect_BusyEndpoint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sock")
	// A socket file without a listener refuses connections until a server
	// takes it over.
	stale, err := net.Listen("unix", path)
	if err != nil {
		t.Fatal(err)
	}
	stale.(*net.UnixListener).SetUnlinkOnClose(false)
	_ = stale.Close()
	listenLater(t, path, 50*time.Millisecond)

	start := time.Now()
	s, err := stm.Connect(path, 200*time.Millisecond)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer s.Close()
	if elapsed := time.Since(start); elapsed >= 200*time.Millisecond {
		t.Fatalf("Connect took %v", elapsed)
	}
}

func TestConnect_Timeout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "never")
	start := time.Now()
	_, err := stm.Connect(path, 40*time.Millisecond)
	if !errors.Is(err, unix.ENOENT) {
		t.Fatalf("want ENOENT got %v", err)
	}
	var pe *os.PathError
	if !errors.As(err, &pe) || pe.Op != "connect" {
		t.Fatalf("want *os.PathError op connect, got %#v", err)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond || elapsed > time.Second {
		t.Fatalf("gave up after %v", elapsed)
	}
}

func TestConnect_NonRetryableFailsFast(t *testing.T) {
	dir := t.TempDir()
	// Opening a directory read-write fails with EISDIR.
	start := time.Now()
	_, err := stm.Connect(dir, time.Second)
	if !errors.Is(err, unix.EISDIR) {
		t.Fatalf("want EISDIR got %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatal("non-retryable error was retried")
	}
}

func TestConnect_PathTooLong(t *testing.T) {
	_, err := stm.Connect("/tmp/"+strings.Repeat("p", stm.MaxPipePathLen), time.Second)
	if !errors.Is(err, unix.E2BIG) {
		t.Fatalf("want E2BIG got %v", err)
	}
}

func TestConnect_FIFO(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fifo")
	if err := unix.Mkfifo(path, 0o600); err != nil {
		t.Skipf("mkfifo: %v", err)
	}
	s, err := stm.Connect(path, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer s.Close()
	if s.Kind() != stm.KindPipe {
		t.Fatalf("kind=%v", s.Kind())
	}
	// A FIFO opened read-write loops back to itself.
	if _, err := s.Write([]byte("loop")); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 4)
	if _, err := io.ReadFull(s, buf); err != nil || string(buf) != "loop" {
		t.Fatalf("err=%v data=%q", err, buf)
	}
}
