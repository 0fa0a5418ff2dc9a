// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

package zpipe

import "sync/atomic"

// A phase is a stage in the lifecycle of a pipe. Phases only move forward.
type phase int32

const (
	phaseOpen         phase = iota // notices are delivered, commands accepted
	phaseOutputClosed              // close_zephyr has been sent
	phaseClosed                    // the gateway's input has been closed
)

func (p phase) String() string {
	switch p {
	case phaseOpen:
		return "open"
	case phaseOutputClosed:
		return "output-closed"
	case phaseClosed:
		return "closed"
	}
	return "invalid"
}

// lifecycle tracks the phase of a pipe. Its methods are safe for concurrent
// use.
type lifecycle struct{ v atomic.Int32 }

// current reports the current phase.
func (l *lifecycle) current() phase { return phase(l.v.Load()) }

// advance moves to phase p and reports true, if the current phase precedes
// p. Otherwise it reports false and changes nothing.
func (l *lifecycle) advance(p phase) bool {
	for {
		cur := l.v.Load()
		if phase(cur) >= p {
			return false
		} else if l.v.CompareAndSwap(cur, int32(p)) {
			return true
		}
	}
}
