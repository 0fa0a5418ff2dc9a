// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

package zpipe

import (
	"bytes"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"github.com/zpipe-go/zpipe/wire"
)

// A Zephyrgram is a notice whose text has been decoded.
type Zephyrgram struct {
	Sender    string // "user@REALM", or empty if absent
	Class     string
	Instance  string
	Recipient string // "user@REALM", or empty if absent
	Opcode    string
	Auth      bool
	Fields    []string  // the message, split at NUL bytes
	Time      time.Time // the zero time if absent
}

// FromNotice decodes the text of n according to its character set. Notices
// in UTF-8 or ISO-8859-1 are decoded accordingly; any other character set is
// treated as ASCII. If any field is not valid in the character set, FromNotice
// reports a *DecodeError.
func FromNotice(n *wire.Notice) (*Zephyrgram, error) {
	charset := string(n.Charset)
	decode := decoderFor(charset)

	text := func(field string, data []byte) (string, error) {
		s, bad := decode(data)
		if bad >= 0 {
			return "", &DecodeError{Charset: charset, Field: field, Offset: bad}
		}
		return s, nil
	}

	z := new(Zephyrgram)
	for _, f := range []struct {
		name string
		data []byte
		dst  *string
	}{
		{"sender", n.Sender, &z.Sender},
		{"class", n.Class, &z.Class},
		{"instance", n.Instance, &z.Instance},
		{"recipient", n.Recipient, &z.Recipient},
		{"opcode", n.Opcode, &z.Opcode},
	} {
		s, err := text(f.name, f.data)
		if err != nil {
			return nil, err
		}
		*f.dst = s
	}
	for i, part := range bytes.Split(n.Message, []byte{0}) {
		s, err := text(fmt.Sprintf("message field %d", i+1), part)
		if err != nil {
			return nil, err
		}
		z.Fields = append(z.Fields, s)
	}
	z.Auth = n.Auth
	if n.Time != nil {
		z.Time = n.Time.Time()
	}
	return z, nil
}

// Notice encodes z as a UTF-8 notice. An empty sender or recipient is encoded
// as absent. The time, if set, is truncated to the microsecond.
func (z *Zephyrgram) Notice() *wire.Notice {
	n := &wire.Notice{
		Charset:   []byte(wire.CharsetUTF8),
		Sender:    optional(z.Sender),
		Class:     []byte(z.Class),
		Instance:  []byte(z.Instance),
		Recipient: optional(z.Recipient),
		Opcode:    []byte(z.Opcode),
		Auth:      z.Auth,
		Message:   []byte(strings.Join(z.Fields, "\x00")),
	}
	if !z.Time.IsZero() {
		ts := wire.TimestampOf(z.Time)
		n.Time = &ts
	}
	return n
}

func optional(s string) []byte {
	if s == "" {
		return nil
	}
	return []byte(s)
}

// String renders z in a human-readable format for logging.
func (z *Zephyrgram) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s/%s/%s", z.Class, z.Instance, orNone(z.Recipient))
	fmt.Fprintf(&sb, " from %s", orNone(z.Sender))
	if z.Opcode != "" {
		fmt.Fprintf(&sb, " [%s]", z.Opcode)
	}
	if !z.Auth {
		sb.WriteString(" (unauthenticated)")
	}
	if !z.Time.IsZero() {
		fmt.Fprintf(&sb, " at %s", z.Time.UTC().Format(time.RFC3339Nano))
	}
	fmt.Fprintf(&sb, ": %q", z.Fields)
	return sb.String()
}

func orNone(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// decoderFor returns a function that decodes text in the named character set.
// The function returns the decoded text and -1, or the offset of the first
// byte that is invalid in the character set.
func decoderFor(charset string) func([]byte) (string, int) {
	switch charset {
	case wire.CharsetUTF8:
		return decodeUTF8
	case wire.CharsetLatin1:
		return decodeLatin1
	default:
		return decodeASCII
	}
}

func decodeUTF8(data []byte) (string, int) {
	for i := 0; i < len(data); {
		r, n := utf8.DecodeRune(data[i:])
		if r == utf8.RuneError && n <= 1 {
			return "", i
		}
		i += n
	}
	return string(data), -1
}

func decodeLatin1(data []byte) (string, int) {
	out, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
	if err != nil {
		return "", 0 // not reached: every byte is valid Latin-1
	}
	return string(out), -1
}

func decodeASCII(data []byte) (string, int) {
	for i, b := range data {
		if b >= utf8.RuneSelf {
			return "", i
		}
	}
	return string(data), -1
}
