// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"flag"
	"io"
	"strings"
	"time"

	"code.hybscloud.com/stm/internal/config"
)

// options is the parsed command line.
type options struct {
	configPath string
	envFiles   []string
	cfg        *config.Config
}

// parseFlags builds the effective configuration: defaults, then the YAML
// file named by -config, then any flag given explicitly.
func parseFlags(args []string, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("stmcat", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to a YAML config file")
	envFiles := fs.String("env", ".env", "comma-separated .env files loaded before the config")
	path := fs.String("path", "", "pipe endpoint: unix socket or FIFO")
	timeout := fs.Duration("timeout", 2*time.Second, "connect timeout")
	nonblock := fs.Bool("nonblock", true, "relay through a single poll loop instead of blocking copies")
	exitOnEOF := fs.Bool("exit-on-eof", false, "drain and exit once stdin ends")
	logLevel := fs.String("log-level", "info", "trace, debug, info, warn, error")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	o := &options{configPath: *configPath}
	for _, f := range strings.Split(*envFiles, ",") {
		if f = strings.TrimSpace(f); f != "" {
			o.envFiles = append(o.envFiles, f)
		}
	}
	config.LoadEnvFiles(o.envFiles)

	o.cfg = config.Default()
	if o.configPath != "" {
		cfg, err := config.LoadFromFile(o.configPath)
		if err != nil {
			return nil, err
		}
		o.cfg = cfg
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "path":
			o.cfg.Path = *path
		case "timeout":
			o.cfg.ConnectTimeout = *timeout
		case "nonblock":
			o.cfg.Nonblocking = *nonblock
		case "exit-on-eof":
			o.cfg.ExitOnStdinEOF = *exitOnEOF
		case "log-level":
			o.cfg.Log.Level = *logLevel
		}
	})
	if err := o.cfg.Validate(); err != nil {
		return nil, err
	}
	return o, nil
}
