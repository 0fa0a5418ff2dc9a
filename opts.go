// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

package zpipe

import (
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/zpipe-go/zpipe/metrics"
	"github.com/zpipe-go/zpipe/wire"
)

// Options control the behaviour of a pipe created by New, Open, or OpenRaw.
// A nil *Options provides sensible defaults.
type Options struct {
	// If not nil, send logs to this logger.
	Logger *zap.Logger

	// The framing used to talk to the gateway. If nil, wire.Canonical.
	Format wire.Format

	// If positive, at most this many handler calls may be in flight at once.
	// When the limit is reached, the dispatch loop stops decoding input until
	// a handler returns. Zero means there is no limit.
	//
	// With a limit, a handler that calls CloseZephyr or Close may deadlock if
	// all the other slots are held by handlers waiting for the same thing.
	Concurrency int

	// The number of bytes to request from the gateway on each read. If zero,
	// delim.DefaultReadSize is used.
	ReadSize int

	// If not nil, activity counters are recorded here.
	Metrics *metrics.M

	// These settings apply only to a gateway started by Open or OpenRaw.

	// The environment of the gateway process. If nil, the current process's
	// environment is used.
	Env []string

	// The working directory of the gateway process. If empty, the current
	// directory is used.
	Dir string

	// Where the gateway's standard error is sent. If nil, os.Stderr.
	Stderr io.Writer
}

func (o *Options) logger() *zap.Logger {
	if o == nil || o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger.Named("zpipe")
}

func (o *Options) format() wire.Format {
	if o == nil || o.Format == nil {
		return wire.Canonical
	}
	return o.Format
}

func (o *Options) concurrency() int64 {
	if o == nil || o.Concurrency < 1 {
		return 0
	}
	return int64(o.Concurrency)
}

func (o *Options) readSize() int {
	if o == nil {
		return 0
	}
	return o.ReadSize
}

func (o *Options) metrics() *metrics.M {
	if o == nil {
		return nil
	}
	return o.Metrics
}

func (o *Options) env() []string {
	if o == nil {
		return nil
	}
	return o.Env
}

func (o *Options) dir() string {
	if o == nil {
		return ""
	}
	return o.Dir
}

func (o *Options) stderr() io.Writer {
	if o == nil || o.Stderr == nil {
		return os.Stderr
	}
	return o.Stderr
}
