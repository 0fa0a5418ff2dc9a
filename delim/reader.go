// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

// Package delim implements a buffered reader that splits an input stream on
// a delimiter byte or at explicit byte counts.
//
// Unlike bufio.Reader, a delim.Reader never reports end of input as an error
// to its caller. A read that cannot be completed returns whatever data were
// available, so a truncated stream yields a short (possibly empty) result.
package delim

import (
	"bytes"
	"errors"
	"io"
)

// DefaultReadSize is the number of bytes requested from the underlying reader
// on each refill when no other size is specified.
const DefaultReadSize = 4096

// A Reader buffers data from an io.Reader. A Reader is not safe for
// concurrent use by multiple goroutines.
type Reader struct {
	r    io.Reader
	size int

	buf  []byte // unconsumed data are buf[pos:]
	pos  int    // offset of the first unconsumed byte
	scan int    // buf[pos:scan] is known not to contain the last delimiter sought
	last int    // the last delimiter sought, or -1
	eof  bool   // the underlying reader is exhausted
	err  error  // the first non-EOF error from r
}

// NewReader constructs a Reader that reads from r in chunks of at most size
// bytes. If size <= 0, DefaultReadSize is used.
func NewReader(r io.Reader, size int) *Reader {
	if size <= 0 {
		size = DefaultReadSize
	}
	return &Reader{r: r, size: size, last: -1}
}

// Buffered reports the number of unconsumed bytes held by the reader.
func (r *Reader) Buffered() int { return len(r.buf) - r.pos }

// Err reports the first error other than io.EOF returned by the underlying
// reader, or nil. Such an error ends the input just as io.EOF does.
func (r *Reader) Err() error { return r.err }

// ReadUntil returns the bytes up to and including the first occurrence of c,
// and consumes them. If strip is true the delimiter is removed from the
// result. If the input ends before c is found, ReadUntil consumes and returns
// all the remaining data, which may be empty.
func (r *Reader) ReadUntil(c byte, strip bool) []byte {
	if int(c) != r.last {
		r.last, r.scan = int(c), r.pos
	}
	for {
		if i := bytes.IndexByte(r.buf[r.scan:], c); i >= 0 {
			end := r.scan + i + 1
			out := r.take(end - r.pos)
			if strip {
				out = out[:len(out)-1]
			}
			return out
		}
		r.scan = len(r.buf)
		if !r.fill() {
			return r.take(r.Buffered())
		}
	}
}

// ReadN returns the next n bytes of input and consumes them. If the input
// ends before n bytes are available, ReadN returns all the remaining data.
func (r *Reader) ReadN(n int) []byte {
	if n <= 0 {
		return []byte{}
	}
	for r.Buffered() < n {
		if !r.fill() {
			return r.take(r.Buffered())
		}
	}
	return r.take(n)
}

// take returns a copy of the next n buffered bytes and advances past them.
func (r *Reader) take(n int) []byte {
	out := make([]byte, n)
	copy(out, r.buf[r.pos:r.pos+n])
	r.pos += n
	if r.scan < r.pos {
		r.scan = r.pos
	}
	if r.pos == len(r.buf) {
		r.buf, r.pos, r.scan = r.buf[:0], 0, 0
	}
	return out
}

// fill reads one more chunk from the underlying reader into the buffer. It
// reports false if no more data are available.
func (r *Reader) fill() bool {
	if r.eof {
		return false
	}
	r.compact()
	for {
		if cap(r.buf)-len(r.buf) < r.size {
			grown := make([]byte, len(r.buf), 2*cap(r.buf)+r.size)
			copy(grown, r.buf)
			r.buf = grown
		}
		nr, err := r.r.Read(r.buf[len(r.buf) : len(r.buf)+r.size])
		r.buf = r.buf[:len(r.buf)+nr]
		if err != nil {
			r.eof = true
			if !errors.Is(err, io.EOF) && r.err == nil {
				r.err = err
			}
			return nr > 0
		} else if nr > 0 {
			return true
		}
		// A zero-length read without error is permitted by io.Reader; retry.
	}
}

// compact shifts unconsumed data to the front of the buffer once more than
// half of it has been consumed.
func (r *Reader) compact() {
	if r.pos == 0 || r.pos < len(r.buf)/2 {
		return
	}
	n := copy(r.buf, r.buf[r.pos:])
	r.scan -= r.pos
	r.buf, r.pos = r.buf[:n], 0
}
