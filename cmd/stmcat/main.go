// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Command stmcat connects to a unix socket or FIFO and relays stdin to it
// and its output to stdout.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"code.hybscloud.com/stm"
	"code.hybscloud.com/stm/internal/observability"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "stmcat: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdin *os.File, stdout, stderr io.Writer) error {
	o, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	cfg := o.cfg

	logger, err := observability.SetupLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	var q *stm.CompletionQueue
	streamOpts := []stm.Option{
		stm.WithLoggerFactory(observability.NewLoggerFactory(logger)),
		stm.WithReadBufferSize(cfg.ReadBufferSize),
		stm.WithWriteFailurePolicy(cfg.WriteFailurePolicy()),
	}
	if cfg.Nonblocking {
		if q, err = stm.NewCompletionQueue(); err != nil {
			return err
		}
		defer q.Close()
		streamOpts = append(streamOpts, stm.WithCompletionQueue(q))
	}

	remote, err := stm.Connect(cfg.Path, cfg.ConnectTimeout, streamOpts...)
	if err != nil {
		return err
	}
	defer remote.Close()
	logger.Info("connected",
		zap.String("path", cfg.Path),
		zap.Stringer("kind", remote.Kind()),
		zap.Bool("nonblocking", cfg.Nonblocking),
	)

	local, restore, err := localStream(stdin, stm.WithLoggerFactory(observability.NewLoggerFactory(logger)))
	if err != nil {
		return fmt.Errorf("stdin: %w", err)
	}
	defer restore()
	defer local.Close()

	r := &relay{
		remote:         remote,
		local:          local,
		queue:          q,
		out:            stdout,
		log:            logger,
		interval:       cfg.PollInterval,
		exitOnLocalEOF: cfg.ExitOnStdinEOF,
	}
	err = r.run(ctx)
	st := remote.Stats()
	logger.Info("relay finished",
		zap.Uint64("reads", st.ReadsIssued),
		zap.Uint64("writes", st.WritesIssued),
		zap.Int("dropped", st.Queued),
		zap.Uint64("leaked", stm.LeakedRequests()),
		zap.Error(err),
	)
	return err
}
