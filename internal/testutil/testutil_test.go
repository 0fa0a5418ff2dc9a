// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

package testutil_test

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/zpipe-go/zpipe/delim"
	"github.com/zpipe-go/zpipe/internal/testutil"
	"github.com/zpipe-go/zpipe/wire"
)

func TestGatewayEcho(t *testing.T) {
	g := testutil.NewGateway(wire.Canonical, true)
	r, wc := g.Pipe()
	rd := delim.NewReader(r, 0)

	send := func(data []byte) {
		t.Helper()
		if _, err := wc.Write(data); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	sub := wire.Subscription{Class: "echo", Instance: wire.Wildcard, Recipient: wire.Wildcard}
	send(wire.Canonical.AppendSubscribe(nil, wire.CmdSubscribe, sub))

	// A notice on an unsubscribed class is recorded but not echoed; the next
	// record read must be the echo of the subscribed one.
	other := &wire.Notice{Charset: []byte("UTF-8"), Class: []byte("other"), Instance: []byte("i"), Opcode: []byte{}}
	echo := &wire.Notice{Charset: []byte("UTF-8"), Class: []byte("echo"), Instance: []byte("i"), Opcode: []byte{},
		Message: []byte("ping")}
	send(wire.Canonical.AppendZwrite(nil, other))
	send(wire.Canonical.AppendZwrite(nil, echo))

	rec, err := wire.Canonical.ReadRecord(rd)
	if err != nil {
		t.Fatalf("ReadRecord: %v", err)
	}
	if got := string(rec.Notice.Class); got != "echo" {
		t.Errorf("Echoed class: got %q, want echo", got)
	}

	send(wire.Canonical.AppendCloseZephyr(nil))
	if _, err := wire.Canonical.ReadRecord(rd); err != io.EOF {
		t.Errorf("ReadRecord after close: got %v, want EOF", err)
	}
	if err := g.SendRaw([]byte("late")); !errors.Is(err, testutil.ErrOutputClosed) {
		t.Errorf("SendRaw after close: got %v, want %v", err, testutil.ErrOutputClosed)
	}
	wc.Close()
	if err := g.Wait(); err != nil {
		t.Errorf("Wait: unexpected error: %v", err)
	}

	want := []wire.Command{wire.CmdSubscribe, wire.CmdZwrite, wire.CmdZwrite, wire.CmdCloseZephyr}
	var got []wire.Command
	for _, req := range g.Requests() {
		got = append(got, req.Command)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Requests (-want, +got):\n%s", diff)
	}
	if n := g.Count(wire.CmdZwrite); n != 2 {
		t.Errorf("Count(zwrite): got %d, want 2", n)
	}
}

func TestGatewayBadCommand(t *testing.T) {
	g := testutil.NewGateway(wire.Canonical, false)
	g.Serve(bytes.NewReader([]byte("explode\x00")), nopCloser{io.Discard})
	var merr *wire.MalformedError
	if err := g.Wait(); !errors.As(err, &merr) {
		t.Errorf("Wait: got %v, want *wire.MalformedError", err)
	}
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
