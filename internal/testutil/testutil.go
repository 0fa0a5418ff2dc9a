// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

// Package testutil defines internal support code for writing tests.
package testutil

import (
	"errors"
	"io"
	"sync"

	"github.com/creachadair/mds/mapset"

	"github.com/zpipe-go/zpipe/delim"
	"github.com/zpipe-go/zpipe/wire"
)

// ErrOutputClosed is reported by an attempt to send a record after the
// gateway's output has been closed.
var ErrOutputClosed = errors.New("gateway output is closed")

// A Gateway is a fake zpipe gateway. It records the commands it receives and
// sends records on request. If echo is enabled, each published notice that
// matches a current subscription is delivered back to the client, as the
// real messaging network would do.
type Gateway struct {
	format wire.Format
	echo   bool
	done   chan struct{}

	mu     sync.Mutex // protects the fields below
	out    io.WriteCloser
	closed bool // output has been closed
	reqs   []wire.Request
	subs   mapset.Set[wire.Subscription]
	err    error
}

// NewGateway constructs an unstarted gateway speaking the given format.
func NewGateway(format wire.Format, echo bool) *Gateway {
	return &Gateway{
		format: format,
		echo:   echo,
		done:   make(chan struct{}),
		subs:   mapset.New[wire.Subscription](),
	}
}

// Pipe starts g on a pair of in-memory pipes, and returns the client ends:
// the client reads gateway output from r and writes commands to wc.
func (g *Gateway) Pipe() (r io.Reader, wc io.WriteCloser) {
	cr, gw := io.Pipe()
	gr, cw := io.Pipe()
	g.Serve(gr, gw)
	return cr, cw
}

// Serve starts g reading commands from in and writing records to out. It does
// not block. Serve must be called at most once.
func (g *Gateway) Serve(in io.Reader, out io.WriteCloser) {
	g.out = out
	go func() {
		defer close(g.done)
		g.serve(delim.NewReader(in, 0))
	}()
}

func (g *Gateway) serve(rd *delim.Reader) {
	defer g.closeOutput()
	for {
		req, err := g.format.ReadCommand(rd)
		if err == io.EOF {
			return
		}
		g.mu.Lock()
		if err != nil {
			g.err = err
			g.mu.Unlock()
			return
		}
		g.reqs = append(g.reqs, req)
		var echo bool
		switch req.Command {
		case wire.CmdSubscribe:
			g.subs.Add(req.Subscription)
		case wire.CmdUnsubscribe:
			g.subs.Remove(req.Subscription)
		case wire.CmdZwrite:
			echo = g.echo && g.matchLocked(req.Notice)
		}
		g.mu.Unlock()

		switch {
		case req.Command == wire.CmdCloseZephyr:
			g.closeOutput()
		case echo:
			g.Send(wire.Record{Kind: wire.KindNotice, Notice: req.Notice})
		}
	}
}

func (g *Gateway) matchLocked(n *wire.Notice) bool {
	for sub := range g.subs {
		if sub.Class != string(n.Class) {
			continue
		}
		if sub.Instance != wire.Wildcard && sub.Instance != string(n.Instance) {
			continue
		}
		if sub.Recipient != wire.Wildcard && sub.Recipient != string(n.Recipient) {
			continue
		}
		return true
	}
	return false
}

func (g *Gateway) closeOutput() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.closed {
		g.closed = true
		g.out.Close()
	}
}

// Send writes rec to the gateway's output. It blocks until the client has
// read the data.
func (g *Gateway) Send(rec wire.Record) error {
	return g.SendRaw(g.format.AppendRecord(nil, rec))
}

// SendNotice writes a notice record to the gateway's output.
func (g *Gateway) SendNotice(n *wire.Notice) error {
	return g.Send(wire.Record{Kind: wire.KindNotice, Notice: n})
}

// SendRaw writes data to the gateway's output without framing.
func (g *Gateway) SendRaw(data []byte) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return ErrOutputClosed
	}
	_, err := g.out.Write(data)
	return err
}

// CloseOutput closes the gateway's output, as if the gateway had exited.
func (g *Gateway) CloseOutput() { g.closeOutput() }

// Requests returns a copy of the commands received so far.
func (g *Gateway) Requests() []wire.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]wire.Request(nil), g.reqs...)
}

// Count reports the number of commands of the given type received so far.
func (g *Gateway) Count(cmd wire.Command) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	var n int
	for _, req := range g.reqs {
		if req.Command == cmd {
			n++
		}
	}
	return n
}

// Wait blocks until g has stopped reading commands, and reports the error
// that stopped it, if any.
func (g *Gateway) Wait() error {
	<-g.done
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.err
}
