// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

// Package wire implements the byte-level protocol spoken between a client and
// a zpipe gateway process.
//
// Every field on the wire is a raw byte string. Scalar fields are terminated
// by a NUL byte; a message payload is preceded by its length in decimal and
// is not terminated, so it may itself contain NUL bytes. No character
// encoding is applied at this layer.
//
// The canonical encoding of a notice is the sequence
//
//	charset NUL timestamp NUL sender NUL class NUL instance NUL recipient NUL
//	opcode NUL auth NUL length NUL payload
//
// where auth is "0" or "1", length is the decimal byte length of payload, and
// timestamp is either empty or "<seconds>:<microseconds>". The seconds are
// negative for times before the epoch; the microseconds never are.
package wire

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/zpipe-go/zpipe/delim"
)

// Well-known character set names.
const (
	CharsetUTF8    = "UTF-8"
	CharsetLatin1  = "ISO-8859-1"
	CharsetUnknown = "UNKNOWN"
)

// A Notice is a single message in transit, in its raw wire form.
type Notice struct {
	Charset   []byte
	Time      *Timestamp // nil if the notice carries no time
	Sender    []byte     // empty if absent
	Class     []byte
	Instance  []byte
	Recipient []byte // empty if absent
	Opcode    []byte
	Auth      bool
	Message   []byte
}

// A Timestamp is a time in whole seconds and microseconds since the epoch.
type Timestamp struct {
	Sec  int64
	Usec int64
}

// TimestampOf returns the timestamp for t, truncated to the microsecond.
func TimestampOf(t time.Time) Timestamp {
	return Timestamp{Sec: t.Unix(), Usec: int64(t.Nanosecond() / 1000)}
}

// Time converts ts to a time.Time.
func (ts Timestamp) Time() time.Time { return time.Unix(ts.Sec, ts.Usec*1000) }

// String renders ts in its wire format.
func (ts Timestamp) String() string { return string(ts.append(nil)) }

func (ts Timestamp) append(dst []byte) []byte {
	dst = strconv.AppendInt(dst, ts.Sec, 10)
	dst = append(dst, ':')
	return strconv.AppendInt(dst, ts.Usec, 10)
}

// ParseTimestamp parses a timestamp in the wire format "<sec>:<usec>". Only
// the seconds may carry a sign.
func ParseTimestamp(data []byte) (Timestamp, error) {
	sec, usec, ok := bytes.Cut(data, []byte(":"))
	if !ok {
		return Timestamp{}, errors.New("missing separator")
	}
	neg := bytes.HasPrefix(sec, []byte("-"))
	if neg {
		sec = sec[1:]
	}
	s, err := parseCount(sec)
	if err != nil {
		return Timestamp{}, fmt.Errorf("seconds: %w", err)
	}
	u, err := parseCount(usec)
	if err != nil {
		return Timestamp{}, fmt.Errorf("microseconds: %w", err)
	} else if u >= 1e6 {
		return Timestamp{}, errors.New("microseconds out of range")
	}
	if neg {
		s = -s
	}
	return Timestamp{Sec: s, Usec: u}, nil
}

// parseCount parses a non-negative decimal integer. Unlike strconv.ParseInt
// it does not accept a sign.
func parseCount(data []byte) (int64, error) {
	if len(data) == 0 {
		return 0, errors.New("empty value")
	}
	for _, b := range data {
		if b < '0' || b > '9' {
			return 0, fmt.Errorf("invalid digit %q", b)
		}
	}
	return strconv.ParseInt(string(data), 10, 64)
}

// parseLength parses a payload length, which must also fit in an int.
func parseLength(data []byte) (int, error) {
	n, err := parseCount(data)
	if err != nil {
		return 0, err
	} else if n > math.MaxInt {
		return 0, errors.New("length out of range")
	}
	return int(n), nil
}

// validCharset reports whether cs is acceptable as a charset name: empty, or
// a token of printable ASCII without spaces.
func validCharset(cs []byte) bool {
	for _, b := range cs {
		if b <= ' ' || b >= 0x7f {
			return false
		}
	}
	return true
}

func authFlag(auth bool) byte {
	if auth {
		return '1'
	}
	return '0'
}

func parseAuth(data []byte) (bool, error) {
	switch string(data) {
	case "0":
		return false, nil
	case "1":
		return true, nil
	}
	return false, errors.New("want 0 or 1")
}

// AppendNotice appends the canonical encoding of n to dst and returns the
// updated slice.
func AppendNotice(dst []byte, n *Notice) []byte {
	field := func(data []byte) { dst = append(dst, data...); dst = append(dst, 0) }

	field(n.Charset)
	if n.Time != nil {
		dst = n.Time.append(dst)
	}
	dst = append(dst, 0)
	field(n.Sender)
	field(n.Class)
	field(n.Instance)
	field(n.Recipient)
	field(n.Opcode)
	dst = append(dst, authFlag(n.Auth), 0)
	dst = strconv.AppendInt(dst, int64(len(n.Message)), 10)
	dst = append(dst, 0)
	return append(dst, n.Message...)
}

// EncodeNotice returns the canonical encoding of n.
func EncodeNotice(n *Notice) []byte { return AppendNotice(nil, n) }

// DecodeNotice reads one canonically-encoded notice from r. If the input ends
// before the notice is complete, the error wraps ErrTruncated. Other decoding
// failures are reported as *MalformedError.
func DecodeNotice(r *delim.Reader) (*Notice, error) {
	var fields [9][]byte
	for i, name := range noticeFields {
		f, err := readField(r, name)
		if err != nil {
			return nil, err
		}
		fields[i] = f
	}

	n := &Notice{
		Charset:   fields[0],
		Sender:    fields[2],
		Class:     fields[3],
		Instance:  fields[4],
		Recipient: fields[5],
		Opcode:    fields[6],
	}
	if !validCharset(n.Charset) {
		return nil, malformed("charset", n.Charset, nil)
	}
	if len(fields[1]) != 0 {
		ts, err := ParseTimestamp(fields[1])
		if err != nil {
			return nil, malformed("timestamp", fields[1], err)
		}
		n.Time = &ts
	}
	auth, err := parseAuth(fields[7])
	if err != nil {
		return nil, malformed("auth", fields[7], err)
	}
	n.Auth = auth

	size, err := parseLength(fields[8])
	if err != nil {
		return nil, malformed("length", fields[8], err)
	}
	msg, err := readPayload(r, size)
	if err != nil {
		return nil, malformed("message", nil, err)
	}
	n.Message = msg
	return n, nil
}

var noticeFields = [...]string{
	"charset", "timestamp", "sender", "class", "instance",
	"recipient", "opcode", "auth", "length",
}

// readField reads one NUL-terminated field from r and returns it without its
// terminator. A field cut short by the end of input is an error.
func readField(r *delim.Reader, name string) ([]byte, error) {
	f := r.ReadUntil(0, false)
	if len(f) == 0 || f[len(f)-1] != 0 {
		return nil, malformed(name, nil, ErrTruncated)
	}
	return f[:len(f)-1], nil
}

// readPayload reads exactly size bytes from r, or reports ErrTruncated.
func readPayload(r *delim.Reader, size int) ([]byte, error) {
	msg := r.ReadN(size)
	if len(msg) != size {
		return nil, fmt.Errorf("got %d of %d bytes: %w", len(msg), size, ErrTruncated)
	}
	return msg, nil
}
