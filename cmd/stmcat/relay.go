// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"cmp"
	"context"
	"io"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"code.hybscloud.com/stm"
)

// localStream opens a stream over a duplicate of f's descriptor. The
// duplicate shares f's file status flags, so the returned restore puts f
// back into the blocking mode it started in; call it after closing the
// stream.
func localStream(f *os.File, opts ...stm.Option) (*stm.Stream, func(), error) {
	rc, err := f.SyscallConn()
	if err != nil {
		return nil, nil, err
	}
	var (
		nfd        = -1
		nonblock   bool
		derr, nerr error
	)
	if err := rc.Control(func(fd uintptr) {
		if nonblock, nerr = unix.IsNonblock(int(fd)); nerr != nil {
			return
		}
		nfd, derr = unix.Dup(int(fd))
	}); err != nil {
		return nil, nil, err
	}
	if err := cmp.Or(nerr, derr); err != nil {
		return nil, nil, stm.Translate(err)
	}
	restore := func() {
		if nonblock {
			return
		}
		_ = rc.Control(func(fd uintptr) { _ = unix.SetNonblock(int(fd), false) })
	}
	unix.CloseOnExec(nfd)
	s, err := stm.NewStream(uintptr(nfd), opts...)
	if err != nil {
		restore()
		return nil, nil, err
	}
	return s, restore, nil
}

// relay moves bytes local→remote and remote→out.
type relay struct {
	remote, local  *stm.Stream
	queue          *stm.CompletionQueue
	out            io.Writer
	log            *zap.Logger
	interval       time.Duration
	exitOnLocalEOF bool
}

// run returns nil once the remote end closes, once local input ends when
// exitOnLocalEOF is set, or when ctx is cancelled.
func (r *relay) run(ctx context.Context) error {
	if r.queue != nil {
		return r.pollLoop(ctx)
	}
	return r.copyBoth(ctx)
}

// pollLoop owns both streams and the completion queue on one goroutine.
// Queued remote writes only drain while it waits in the queue's Poll.
func (r *relay) pollLoop(ctx context.Context) error {
	r.remote.SetNonblocking(true)
	r.local.SetNonblocking(true)
	events := []stm.PollEvent{{Event: r.remote.Events()}, {Event: r.local.Events()}}
	localDone := false

	for ctx.Err() == nil {
		set := events
		if localDone {
			set = events[:1]
		}
		n, err := r.queue.Poll(set, r.interval)
		if err != nil {
			return err
		}
		if n == 0 {
			continue
		}

		if set[0].Ready {
			_, err := stm.Copy(r.out, r.remote)
			switch {
			case err == nil:
				r.log.Debug("remote closed")
				return nil
			case !stm.IsWouldBlock(err):
				return err
			}
		}
		if !localDone && set[1].Ready {
			_, err := stm.Copy(r.remote, r.local)
			switch {
			case err == nil:
				r.log.Debug("stdin closed")
				localDone = true
				if r.exitOnLocalEOF {
					return r.remote.Shutdown()
				}
			case !stm.IsWouldBlock(err):
				return err
			}
		}
	}
	return nil
}

// copyBoth runs one blocking copy per direction. Whichever side finishes
// the relay closes both streams to release the other.
func (r *relay) copyBoth(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		_, err := stm.Copy(r.out, r.remote)
		if err == nil {
			r.log.Debug("remote closed")
		}
		return quiet(ctx, err)
	})
	g.Go(func() error {
		_, err := stm.Copy(r.remote, r.local)
		if err != nil {
			return quiet(ctx, err)
		}
		r.log.Debug("stdin closed")
		if !r.exitOnLocalEOF {
			return nil
		}
		defer cancel()
		return r.remote.Shutdown()
	})
	g.Go(func() error {
		<-ctx.Done()
		_ = r.local.Close()
		_ = r.remote.Close()
		return nil
	})
	return g.Wait()
}

// quiet drops the errors caused by tearing the relay down.
func quiet(ctx context.Context, err error) error {
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
