// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

package zpipe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"sync"

	"github.com/creachadair/mds/mapset"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/zpipe-go/zpipe/delim"
	"github.com/zpipe-go/zpipe/metrics"
	"github.com/zpipe-go/zpipe/wire"
)

// A NoticeHandler is called with each notice received from the gateway.
type NoticeHandler func(*Pipe, *wire.Notice)

// A Handler is called with each zephyrgram received from the gateway.
type Handler func(*Pipe, *Zephyrgram)

// Grams adapts h to a NoticeHandler that decodes the text of each notice
// before calling h. Notices that cannot be decoded are logged and discarded.
func Grams(h Handler) NoticeHandler {
	return func(p *Pipe, n *wire.Notice) {
		z, err := FromNotice(n)
		if err != nil {
			p.log.Debug("Discarding undecodable notice",
				zap.ByteString("class", n.Class), zap.ByteString("instance", n.Instance), zap.Error(err))
			p.metrics.Count(metrics.NoticesDropped, 1)
			return
		}
		h(p, z)
	}
}

// A Pipe is a connection to a zpipe gateway. Commands are written to the
// gateway's input, and notices are read from its output by a background
// dispatch loop that calls a handler for each. The methods of a Pipe are safe
// for concurrent use by multiple goroutines.
//
// Notices are decoded in the order the gateway sends them, but each handler
// call runs in its own goroutine, so handlers may run concurrently and finish
// in any order. A handler that requires ordering must provide it.
type Pipe struct {
	done    chan struct{} // closed when the dispatch loop exits
	log     *zap.Logger
	format  wire.Format
	handle  NoticeHandler
	rd      *delim.Reader
	sem     *semaphore.Weighted // bounds in-flight handlers; nil if unbounded
	metrics *metrics.M
	life    lifecycle
	cmd     *exec.Cmd // nil unless started by Open or OpenRaw

	hmu      sync.Mutex
	hcond    *sync.Cond // signaled when inflight reaches zero
	inflight int        // handler calls not yet returned

	emu sync.Mutex
	err error // the error that ended the dispatch loop, if any

	mu   sync.Mutex // serializes writes; protects the fields below
	wc   io.WriteCloser
	buf  []byte
	subs mapset.Set[wire.Subscription]
}

// New returns a new pipe that reads gateway output from r and writes commands
// to wc, and starts its dispatch loop. Each notice read from r is passed to h.
// New will panic if h == nil.
func New(r io.Reader, wc io.WriteCloser, h NoticeHandler, opts *Options) *Pipe {
	p := newPipe(r, wc, h, opts)
	p.start()
	return p
}

// Open starts the gateway program described by args, whose first element is
// the path of the program, and returns a pipe connected to its standard input
// and output. Each notice received is decoded and passed to h.
func Open(args []string, h Handler, opts *Options) (*Pipe, error) {
	if h == nil {
		return nil, errors.New("nil handler")
	}
	return OpenRaw(args, Grams(h), opts)
}

// OpenRaw is as Open, but each notice is passed to h without decoding.
func OpenRaw(args []string, h NoticeHandler, opts *Options) (*Pipe, error) {
	if len(args) == 0 {
		return nil, errors.New("no gateway program specified")
	} else if h == nil {
		return nil, errors.New("nil handler")
	}
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Env = opts.env()
	cmd.Dir = opts.dir()
	cmd.Stderr = opts.stderr()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		return nil, fmt.Errorf("starting gateway: %w", err)
	}

	p := newPipe(stdout, stdin, h, opts)
	p.cmd = cmd
	p.log.Debug("Started gateway", zap.Strings("args", args), zap.Int("pid", cmd.Process.Pid))
	p.start()
	return p, nil
}

func newPipe(r io.Reader, wc io.WriteCloser, h NoticeHandler, opts *Options) *Pipe {
	if h == nil {
		panic("nil handler")
	}
	p := &Pipe{
		done:    make(chan struct{}),
		log:     opts.logger(),
		format:  opts.format(),
		handle:  h,
		rd:      delim.NewReader(r, opts.readSize()),
		metrics: opts.metrics(),
		wc:      wc,
		subs:    mapset.New[wire.Subscription](),
	}
	if n := opts.concurrency(); n > 0 {
		p.sem = semaphore.NewWeighted(n)
	}
	p.hcond = sync.NewCond(&p.hmu)
	return p
}

func (p *Pipe) start() {
	p.log.Debug("Starting dispatch loop", zap.String("format", p.format.Name()))
	go func() {
		defer close(p.done)
		p.run()
	}()
}

// run reads records from the gateway until its output ends or a record
// cannot be decoded.
func (p *Pipe) run() {
	for {
		rec, err := p.format.ReadRecord(p.rd)
		if err == io.EOF {
			if rerr := p.rd.Err(); rerr != nil {
				p.fail(fmt.Errorf("reading gateway output: %w", rerr))
				return
			}
			p.log.Debug("Gateway output ended")
			return
		} else if err != nil {
			if rerr := p.rd.Err(); rerr != nil {
				err = fmt.Errorf("reading gateway output: %w", rerr)
			}
			p.fail(err)

			// The stream is no longer aligned on a record boundary, so stop
			// dispatching. Keep reading, however, so the gateway does not block
			// on a full pipe and the close handshake can still complete.
			for len(p.rd.ReadN(delim.DefaultReadSize)) != 0 {
			}
			return
		}

		switch rec.Kind {
		case wire.KindNotice:
			p.metrics.Count(metrics.NoticesReceived, 1)
			p.dispatch(rec.Notice)
		default:
			p.log.Debug("Skipping record of unknown type",
				zap.ByteString("type", rec.Type), zap.Int("bytes", rec.Skipped))
			p.metrics.Count(metrics.RecordsSkipped, 1)
		}
	}
}

func (p *Pipe) fail(err error) {
	p.log.Error("Dispatch loop failed", zap.Error(err))
	p.emu.Lock()
	defer p.emu.Unlock()
	if p.err == nil {
		p.err = err
	}
}

// dispatch starts a goroutine to deliver n to the handler. If the number of
// handlers in flight is bounded, dispatch blocks until one is available.
func (p *Pipe) dispatch(n *wire.Notice) {
	if p.sem != nil {
		p.sem.Acquire(context.Background(), 1) // cannot fail without a deadline
	}
	p.hmu.Lock()
	p.inflight++
	p.metrics.SetMaxValue(metrics.HandlersInFlight, int64(p.inflight))
	p.hmu.Unlock()

	go func() {
		defer func() {
			if v := recover(); v != nil {
				p.log.Error("Handler panicked", zap.Any("panic", v), zap.ByteString("class", n.Class),
					zap.Stack("stack"))
				p.metrics.Count(metrics.HandlerPanics, 1)
			}
			if p.sem != nil {
				p.sem.Release(1)
			}
			p.hmu.Lock()
			defer p.hmu.Unlock()
			if p.inflight--; p.inflight == 0 {
				p.hcond.Broadcast()
			}
		}()
		p.handle(p, n)
	}()
}

// Write writes data to the gateway's input. Concurrent calls to Write, and to
// the other methods that send commands, do not interleave their data. Write
// reports ErrClosed if p has been closed.
func (p *Pipe) Write(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writeLocked(data)
}

// writeLocked writes data to the gateway. The caller must hold p.mu.
func (p *Pipe) writeLocked(data []byte) error {
	if p.life.current() == phaseClosed {
		return ErrClosed
	}
	if _, err := p.wc.Write(data); err != nil {
		return fmt.Errorf("writing to gateway: %w", err)
	}
	if f, ok := p.wc.(interface{ Flush() error }); ok {
		if err := f.Flush(); err != nil {
			return fmt.Errorf("flushing gateway input: %w", err)
		}
	}
	p.metrics.Count(metrics.BytesWritten, int64(len(data)))
	return nil
}

// sendLocked encodes a command with appendTo and writes it to the gateway.
// The caller must hold p.mu.
func (p *Pipe) sendLocked(appendTo func([]byte) []byte) error {
	p.buf = appendTo(p.buf[:0])
	if err := p.writeLocked(p.buf); err != nil {
		return err
	}
	p.metrics.Count(metrics.CommandsSent, 1)
	return nil
}

// ZwriteNotice sends n to the gateway for publication.
func (p *Pipe) ZwriteNotice(n *wire.Notice) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sendLocked(func(dst []byte) []byte { return p.format.AppendZwrite(dst, n) })
}

// Zwrite sends z to the gateway for publication.
func (p *Pipe) Zwrite(z *Zephyrgram) error { return p.ZwriteNotice(z.Notice()) }

// Subscribe asks the gateway to deliver notices matching the given class,
// instance and recipient. An empty instance or recipient is treated as the
// wildcard "*". Subscribe reports ErrInvalidState if CloseZephyr or Close has
// been called.
func (p *Pipe) Subscribe(class, instance, recipient string) error {
	return p.subscribe(wire.CmdSubscribe, class, instance, recipient)
}

// Unsubscribe cancels a subscription made by Subscribe. Its arguments and
// errors are as for Subscribe.
func (p *Pipe) Unsubscribe(class, instance, recipient string) error {
	return p.subscribe(wire.CmdUnsubscribe, class, instance, recipient)
}

func (p *Pipe) subscribe(op wire.Command, class, instance, recipient string) error {
	if instance == "" {
		instance = wire.Wildcard
	}
	if recipient == "" {
		recipient = wire.Wildcard
	}
	sub := wire.Subscription{Class: class, Instance: instance, Recipient: recipient}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.life.current() != phaseOpen {
		return ErrInvalidState
	}
	if err := p.sendLocked(func(dst []byte) []byte { return p.format.AppendSubscribe(dst, op, sub) }); err != nil {
		return err
	}
	if op == wire.CmdSubscribe {
		p.subs.Add(sub)
	} else {
		p.subs.Remove(sub)
	}
	p.log.Debug("Subscription changed", zap.String("op", string(op)),
		zap.String("class", class), zap.String("instance", instance), zap.String("recipient", recipient))
	return nil
}

// Subscriptions returns the subscriptions currently requested through p, in
// lexicographic order.
func (p *Pipe) Subscriptions() []wire.Subscription {
	p.mu.Lock()
	subs := p.subs.Slice()
	p.mu.Unlock()
	sort.Slice(subs, func(i, j int) bool {
		a, b := subs[i], subs[j]
		if a.Class != b.Class {
			return a.Class < b.Class
		} else if a.Instance != b.Instance {
			return a.Instance < b.Instance
		}
		return a.Recipient < b.Recipient
	})
	return subs
}

// CloseZephyr asks the gateway to stop delivering notices, and blocks until
// its output has ended and the dispatch loop has exited. Handlers dispatched
// before then may still be running; see Drain. Only the first call sends a
// request to the gateway; later and concurrent calls wait for the same
// outcome.
func (p *Pipe) CloseZephyr() error {
	p.mu.Lock()
	var err error
	if p.life.advance(phaseOutputClosed) {
		p.log.Debug("Requesting close of gateway output")
		err = p.sendLocked(p.format.AppendCloseZephyr)
	}
	p.mu.Unlock()
	if err != nil {
		return err
	}
	<-p.done
	return nil
}

// Close calls CloseZephyr if it has not already been called, and then closes
// the gateway's input. Close does not stop or wait for the gateway process;
// see Wait. Calling Close more than once is harmless.
func (p *Pipe) Close() error {
	err := p.CloseZephyr()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.life.advance(phaseClosed) {
		p.log.Debug("Closing gateway input")
		if cerr := p.wc.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("closing gateway input: %w", cerr)
		}
	}
	return err
}

// Drain blocks until all handler calls dispatched so far have returned.
// Calling Drain from a handler will deadlock.
func (p *Pipe) Drain() {
	p.hmu.Lock()
	defer p.hmu.Unlock()
	for p.inflight > 0 {
		p.hcond.Wait()
	}
}

// Done returns a channel that is closed when the dispatch loop exits.
func (p *Pipe) Done() <-chan struct{} { return p.done }

// Err reports the error that ended the dispatch loop, or nil if the loop is
// still running or ended at a clean end of gateway output.
func (p *Pipe) Err() error {
	p.emu.Lock()
	defer p.emu.Unlock()
	return p.err
}

// Process returns the gateway process started by Open or OpenRaw, or nil if
// p was created by New.
func (p *Pipe) Process() *os.Process {
	if p.cmd == nil {
		return nil
	}
	return p.cmd.Process
}

// Wait waits for the gateway's output to end and then for the gateway process
// to exit, and reports its exit status. If p was created by New, Wait only
// waits for the output to end, and returns nil.
func (p *Pipe) Wait() error {
	<-p.done
	if p.cmd == nil {
		return nil
	}
	return p.cmd.Wait()
}
