// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

package wire

import (
	"io"
	"strconv"

	"github.com/zpipe-go/zpipe/delim"
)

// A Command names a control command sent to the gateway.
type Command string

// The commands understood by the gateway.
const (
	CmdZwrite      Command = "zwrite"       // publish a notice
	CmdSubscribe   Command = "subscribe"    // add a subscription
	CmdUnsubscribe Command = "unsubscribe"  // remove a subscription
	CmdCloseZephyr Command = "close_zephyr" // stop delivering notices
)

// A Subscription identifies a class of notices by class, instance and
// recipient. The instance and recipient may be the wildcard "*".
type Subscription struct {
	Class     string
	Instance  string
	Recipient string
}

// Wildcard matches any instance or recipient in a Subscription.
const Wildcard = "*"

// Kind distinguishes the types of records sent by the gateway.
type Kind int

const (
	// KindNotice is a delivered notice; Record.Notice is populated.
	KindNotice Kind = iota

	// KindOther is a record of a type the client does not understand. Its
	// body has been read and discarded.
	KindOther
)

// TypeNotice is the type tag of a notice record.
const TypeNotice = "notice"

// A Record is one unit of output from the gateway.
type Record struct {
	Kind    Kind
	Type    []byte  // the type tag as sent by the gateway
	Notice  *Notice // for KindNotice
	Skipped int     // for KindOther, the number of body bytes discarded
	Body    []byte  // for KindOther, the body to send when encoding
}

// A Request is one command received by the gateway.
type Request struct {
	Command      Command
	Notice       *Notice      // for CmdZwrite
	Subscription Subscription // for CmdSubscribe and CmdUnsubscribe
}

// A Format is a framing discipline for commands sent to the gateway and
// records received from it.
type Format interface {
	// Name returns a short descriptive name for the format.
	Name() string

	// AppendZwrite appends a command publishing n to dst.
	AppendZwrite(dst []byte, n *Notice) []byte

	// AppendSubscribe appends a subscribe or unsubscribe command to dst.
	AppendSubscribe(dst []byte, op Command, s Subscription) []byte

	// AppendCloseZephyr appends a command asking the gateway to stop sending
	// notices and end its output.
	AppendCloseZephyr(dst []byte) []byte

	// ReadRecord reads the next record from r. It returns io.EOF if the input
	// ended cleanly at a record boundary.
	ReadRecord(r *delim.Reader) (Record, error)

	// The remaining methods implement the gateway side of the protocol.

	// AppendRecord appends rec to dst as the gateway sends it.
	AppendRecord(dst []byte, rec Record) []byte

	// ReadCommand reads the next command from r. It returns io.EOF if the
	// input ended cleanly at a command boundary.
	ReadCommand(r *delim.Reader) (Request, error)
}

// Canonical is the default format, in which every command and record is a
// sequence of NUL-terminated fields with no field names.
var Canonical Format = canonical{}

// FormatByName returns the format with the given name, or nil if the name is
// unknown. The names understood are "canonical" and "legacy".
func FormatByName(name string) Format {
	switch name {
	case Canonical.Name():
		return Canonical
	case Legacy.Name():
		return Legacy
	}
	return nil
}

type canonical struct{}

func (canonical) Name() string { return "canonical" }

func appendFields(dst []byte, fields ...string) []byte {
	for _, f := range fields {
		dst = append(dst, f...)
		dst = append(dst, 0)
	}
	return dst
}

func (canonical) AppendZwrite(dst []byte, n *Notice) []byte {
	return AppendNotice(appendFields(dst, string(CmdZwrite)), n)
}

func (canonical) AppendSubscribe(dst []byte, op Command, s Subscription) []byte {
	return appendFields(dst, string(op), s.Class, s.Instance, s.Recipient)
}

func (canonical) AppendCloseZephyr(dst []byte) []byte {
	return appendFields(dst, string(CmdCloseZephyr))
}

func (canonical) ReadRecord(r *delim.Reader) (Record, error) {
	tag := r.ReadUntil(0, false)
	if len(tag) == 0 {
		return Record{}, io.EOF
	} else if tag[len(tag)-1] != 0 {
		return Record{}, malformed("type", tag, ErrTruncated)
	}
	tag = tag[:len(tag)-1]

	if string(tag) == TypeNotice {
		n, err := DecodeNotice(r)
		if err != nil {
			return Record{}, err
		}
		return Record{Kind: KindNotice, Type: tag, Notice: n}, nil
	}

	size, err := readField(r, "length")
	if err != nil {
		return Record{}, err
	}
	n, err := parseLength(size)
	if err != nil {
		return Record{}, malformed("length", size, err)
	}
	if _, err := readPayload(r, n); err != nil {
		return Record{}, malformed("body", nil, err)
	}
	return Record{Kind: KindOther, Type: tag, Skipped: n}, nil
}

func (canonical) AppendRecord(dst []byte, rec Record) []byte {
	if rec.Kind == KindNotice {
		return AppendNotice(appendFields(dst, TypeNotice), rec.Notice)
	}
	dst = appendFields(dst, string(rec.Type), strconv.Itoa(len(rec.Body)))
	return append(dst, rec.Body...)
}

func (canonical) ReadCommand(r *delim.Reader) (Request, error) {
	name := r.ReadUntil(0, false)
	if len(name) == 0 {
		return Request{}, io.EOF
	} else if name[len(name)-1] != 0 {
		return Request{}, malformed("command", name, ErrTruncated)
	}
	req := Request{Command: Command(name[:len(name)-1])}
	switch req.Command {
	case CmdZwrite:
		n, err := DecodeNotice(r)
		if err != nil {
			return Request{}, err
		}
		req.Notice = n
	case CmdSubscribe, CmdUnsubscribe:
		var fields [3]string
		for i, name := range subFields {
			f, err := readField(r, name)
			if err != nil {
				return Request{}, err
			}
			fields[i] = string(f)
		}
		req.Subscription = Subscription{Class: fields[0], Instance: fields[1], Recipient: fields[2]}
	case CmdCloseZephyr:
		// no fields
	default:
		return Request{}, malformed("command", name[:len(name)-1], nil)
	}
	return req, nil
}

var subFields = [...]string{"class", "instance", "recipient"}
