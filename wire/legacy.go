// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

package wire

import (
	"errors"
	"io"
	"strconv"

	"github.com/zpipe-go/zpipe/delim"
)

// Legacy is the self-describing format spoken by older gateway builds. Each
// command and record begins with a block of NUL-terminated key/value pairs
// ended by an empty key. A notice is a second such block followed by the raw
// message, whose length is given by the "message_length" key.
//
//	command NUL zwrite NUL NUL charset NUL UTF-8 NUL ... NUL message
//	type NUL notice NUL NUL charset NUL UTF-8 NUL ... NUL message
var Legacy Format = legacy{}

type legacy struct{}

func (legacy) Name() string { return "legacy" }

// A pair is one key/value entry of a legacy header block.
type pair struct {
	key   string
	value []byte
}

func appendBlock(dst []byte, pairs ...pair) []byte {
	for _, p := range pairs {
		if p.value == nil {
			continue // absent
		}
		dst = append(dst, p.key...)
		dst = append(dst, 0)
		dst = append(dst, p.value...)
		dst = append(dst, 0)
	}
	return append(dst, 0)
}

// AppendLegacyNotice appends the legacy encoding of n to dst. Nil fields are
// omitted from the header block.
func AppendLegacyNotice(dst []byte, n *Notice) []byte {
	var ts []byte
	if n.Time != nil {
		ts = n.Time.append(nil)
	}
	dst = appendBlock(dst,
		pair{"charset", n.Charset},
		pair{"timestamp", ts},
		pair{"sender", n.Sender},
		pair{"class", n.Class},
		pair{"instance", n.Instance},
		pair{"recipient", n.Recipient},
		pair{"opcode", n.Opcode},
		pair{"auth", []byte{authFlag(n.Auth)}},
		pair{"message_length", strconv.AppendInt(nil, int64(len(n.Message)), 10)},
	)
	return append(dst, n.Message...)
}

// readBlock reads one header block. It returns io.EOF if the input ends
// before the first key.
func readBlock(r *delim.Reader) (map[string][]byte, error) {
	block := make(map[string][]byte)
	for first := true; ; first = false {
		key := r.ReadUntil(0, false)
		if len(key) == 0 && first {
			return nil, io.EOF
		}
		if len(key) == 0 || key[len(key)-1] != 0 {
			return nil, malformed("key", key, ErrTruncated)
		} else if len(key) == 1 {
			return block, nil // empty key ends the block
		}
		val, err := readField(r, string(key[:len(key)-1]))
		if err != nil {
			return nil, err
		}
		block[string(key[:len(key)-1])] = val
	}
}

func required(block map[string][]byte, key string) ([]byte, error) {
	v, ok := block[key]
	if !ok {
		return nil, malformed(key, nil, errors.New("missing field"))
	}
	return v, nil
}

// DecodeLegacyNotice reads one legacy-encoded notice from r.
func DecodeLegacyNotice(r *delim.Reader) (*Notice, error) {
	block, err := readBlock(r)
	if err == io.EOF {
		return nil, malformed("charset", nil, ErrTruncated)
	} else if err != nil {
		return nil, err
	}

	n := &Notice{Sender: block["sender"], Recipient: block["recipient"]}
	for _, f := range []struct {
		key string
		dst *[]byte
	}{
		{"charset", &n.Charset},
		{"class", &n.Class},
		{"instance", &n.Instance},
		{"opcode", &n.Opcode},
	} {
		if *f.dst, err = required(block, f.key); err != nil {
			return nil, err
		}
	}
	if !validCharset(n.Charset) {
		return nil, malformed("charset", n.Charset, nil)
	}
	if ts := block["timestamp"]; len(ts) != 0 {
		t, err := ParseTimestamp(ts)
		if err != nil {
			return nil, malformed("timestamp", ts, err)
		}
		n.Time = &t
	}

	auth, err := required(block, "auth")
	if err != nil {
		return nil, err
	} else if n.Auth, err = parseAuth(auth); err != nil {
		return nil, malformed("auth", auth, err)
	}

	size, err := required(block, "message_length")
	if err != nil {
		return nil, err
	}
	mlen, err := parseLength(size)
	if err != nil {
		return nil, malformed("message_length", size, err)
	}
	if n.Message, err = readPayload(r, mlen); err != nil {
		return nil, malformed("message", nil, err)
	}
	return n, nil
}

func (legacy) AppendZwrite(dst []byte, n *Notice) []byte {
	dst = appendBlock(dst, pair{"command", []byte(CmdZwrite)})
	return AppendLegacyNotice(dst, n)
}

func (legacy) AppendSubscribe(dst []byte, op Command, s Subscription) []byte {
	dst = appendBlock(dst, pair{"command", []byte(op)})
	return appendBlock(dst,
		pair{"class", []byte(s.Class)},
		pair{"instance", []byte(s.Instance)},
		pair{"recipient", []byte(s.Recipient)},
	)
}

func (legacy) AppendCloseZephyr(dst []byte) []byte {
	return appendBlock(dst, pair{"command", []byte(CmdCloseZephyr)})
}

func (legacy) ReadRecord(r *delim.Reader) (Record, error) {
	hdr, err := readBlock(r)
	if err != nil {
		return Record{}, err
	}
	typ, ok := hdr["type"]
	if !ok {
		// A header with no type marks the end of output.
		return Record{}, io.EOF
	}
	if string(typ) == TypeNotice {
		n, err := DecodeLegacyNotice(r)
		if err != nil {
			return Record{}, err
		}
		return Record{Kind: KindNotice, Type: typ, Notice: n}, nil
	}

	size, err := required(hdr, "length")
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
	return Record{Kind: KindOther, Type: typ, Skipped: n}, nil
}

func (legacy) AppendRecord(dst []byte, rec Record) []byte {
	if rec.Kind == KindNotice {
		dst = appendBlock(dst, pair{"type", []byte(TypeNotice)})
		return AppendLegacyNotice(dst, rec.Notice)
	}
	dst = appendBlock(dst,
		pair{"type", rec.Type},
		pair{"length", strconv.AppendInt(nil, int64(len(rec.Body)), 10)},
	)
	return append(dst, rec.Body...)
}

func (legacy) ReadCommand(r *delim.Reader) (Request, error) {
	hdr, err := readBlock(r)
	if err != nil {
		return Request{}, err
	}
	name, err := required(hdr, "command")
	if err != nil {
		return Request{}, err
	}
	req := Request{Command: Command(name)}
	switch req.Command {
	case CmdZwrite:
		if req.Notice, err = DecodeLegacyNotice(r); err != nil {
			return Request{}, err
		}
	case CmdSubscribe, CmdUnsubscribe:
		body, err := readBlock(r)
		if err == io.EOF {
			return Request{}, malformed("class", nil, ErrTruncated)
		} else if err != nil {
			return Request{}, err
		}
		var fields [3][]byte
		for i, key := range subFields {
			if fields[i], err = required(body, key); err != nil {
				return Request{}, err
			}
		}
		req.Subscription = Subscription{
			Class:     string(fields[0]),
			Instance:  string(fields[1]),
			Recipient: string(fields[2]),
		}
	case CmdCloseZephyr:
		// no body
	default:
		return Request{}, malformed("command", name, nil)
	}
	return req, nil
}
