// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

package zpipe

// This file contains tests that need to inspect the internal details of the
// implementation to verify that the results are correct.

import (
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

func TestLifecycle(t *testing.T) {
	var l lifecycle
	if got := l.current(); got != phaseOpen {
		t.Fatalf("Initial phase: got %v, want %v", got, phaseOpen)
	}
	steps := []struct {
		to   phase
		ok   bool
		want phase
	}{
		{phaseOpen, false, phaseOpen},
		{phaseOutputClosed, true, phaseOutputClosed},
		{phaseOutputClosed, false, phaseOutputClosed},
		{phaseClosed, true, phaseClosed},
		{phaseOutputClosed, false, phaseClosed},
		{phaseClosed, false, phaseClosed},
	}
	for _, step := range steps {
		if ok := l.advance(step.to); ok != step.ok {
			t.Errorf("advance(%v): got %v, want %v", step.to, ok, step.ok)
		}
		if got := l.current(); got != step.want {
			t.Errorf("After advance(%v): phase %v, want %v", step.to, got, step.want)
		}
	}
}

func TestLifecycleSkip(t *testing.T) {
	// Close without CloseZephyr is a legal transition for the state machine.
	var l lifecycle
	if !l.advance(phaseClosed) {
		t.Fatal("advance(closed) from open: got false, want true")
	}
	if l.advance(phaseOutputClosed) {
		t.Error("advance(output-closed) after closed: got true, want false")
	}
}

func TestLifecycleRace(t *testing.T) {
	var l lifecycle
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.advance(phaseOutputClosed) {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if n := wins.Load(); n != 1 {
		t.Errorf("Concurrent advance: %d winners, want 1", n)
	}
}

func TestPhaseString(t *testing.T) {
	for p, want := range map[phase]string{
		phaseOpen:         "open",
		phaseOutputClosed: "output-closed",
		phaseClosed:       "closed",
		phase(99):         "invalid",
	} {
		if got := p.String(); got != want {
			t.Errorf("phase(%d).String(): got %q, want %q", p, got, want)
		}
	}
}

func TestOptionsDefaults(t *testing.T) {
	var o *Options
	if o.format().Name() != "canonical" {
		t.Errorf("Default format: got %q, want canonical", o.format().Name())
	}
	if n := o.concurrency(); n != 0 {
		t.Errorf("Default concurrency: got %d, want 0", n)
	}
	if o.metrics() != nil {
		t.Error("Default metrics: got non-nil")
	}
	if o.logger() == nil {
		t.Error("Default logger: got nil")
	}
	if n := (&Options{Concurrency: -3}).concurrency(); n != 0 {
		t.Errorf("Negative concurrency: got %d, want 0", n)
	}
}

func TestDecodeErrorText(t *testing.T) {
	err := &DecodeError{Charset: "UTF-8", Field: "class", Offset: 4}
	if got := err.Error(); !strings.Contains(got, "class") || !strings.Contains(got, "offset 4") {
		t.Errorf("Error: got %q, want field and offset", got)
	}
}
