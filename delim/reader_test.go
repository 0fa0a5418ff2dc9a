// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

package delim_test

import (
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/google/go-cmp/cmp"
	"github.com/zpipe-go/zpipe/delim"
)

// chunks is an io.Reader that delivers each of its strings in a separate
// call to Read.
type chunks []string

func (c *chunks) Read(data []byte) (int, error) {
	if len(*c) == 0 {
		return 0, io.EOF
	}
	n := copy(data, (*c)[0])
	if n == len((*c)[0]) {
		*c = (*c)[1:]
	} else {
		(*c)[0] = (*c)[0][n:]
	}
	return n, nil
}

func TestReadUntil(t *testing.T) {
	tests := []struct {
		name  string
		input []string
		size  int
		strip bool
		want  []string
	}{
		{"Empty", nil, 0, true, []string{"", ""}},
		{"Single", []string{"abc\x00"}, 0, true, []string{"abc", ""}},
		{"Keep", []string{"abc\x00def\x00"}, 0, false, []string{"abc\x00", "def\x00", ""}},
		{"EmptyFields", []string{"\x00\x00x\x00"}, 0, true, []string{"", "", "x", ""}},
		{"NoDelimAtEOF", []string{"abc\x00tail"}, 0, true, []string{"abc", "tail", ""}},
		{"SplitAcrossReads", []string{"ab", "c", "\x00d", "ef\x00"}, 0, true, []string{"abc", "def", ""}},
		{"DelimInOwnRead", []string{"abc", "\x00", "def", "\x00"}, 0, true, []string{"abc", "def", ""}},
		{"SmallChunks", []string{"first\x00second\x00third"}, 2, true, []string{"first", "second", "third", ""}},
		{"LongRecord", []string{strings.Repeat("x", 20000) + "\x00y"}, 7, true,
			[]string{strings.Repeat("x", 20000), "y", ""}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			src := chunks(append([]string(nil), test.input...))
			r := delim.NewReader(&src, test.size)
			var got []string
			for range test.want {
				got = append(got, string(r.ReadUntil(0, test.strip)))
			}
			if diff := cmp.Diff(test.want, got); diff != "" {
				t.Errorf("ReadUntil results (-want, +got):\n%s", diff)
			}
			if err := r.Err(); err != nil {
				t.Errorf("Err: unexpected error: %v", err)
			}
		})
	}
}

func TestReadUntilOneByte(t *testing.T) {
	r := delim.NewReader(iotest.OneByteReader(strings.NewReader("key\x00value\x00")), 0)
	if got := string(r.ReadUntil(0, true)); got != "key" {
		t.Errorf("ReadUntil: got %q, want %q", got, "key")
	}
	if got := string(r.ReadUntil(0, false)); got != "value\x00" {
		t.Errorf("ReadUntil: got %q, want %q", got, "value\x00")
	}
	if n := r.Buffered(); n != 0 {
		t.Errorf("Buffered: got %d, want 0", n)
	}
}

func TestReadUntilMixedDelimiters(t *testing.T) {
	// Switching delimiters must not skip data scanned for a different byte.
	r := delim.NewReader(strings.NewReader("a:b\x00c:d\x00"), 0)
	if got := string(r.ReadUntil(0, true)); got != "a:b" {
		t.Errorf("ReadUntil(0): got %q, want %q", got, "a:b")
	}
	if got := string(r.ReadUntil(':', true)); got != "c" {
		t.Errorf("ReadUntil(':'): got %q, want %q", got, "c")
	}
	if got := string(r.ReadUntil(0, true)); got != "d" {
		t.Errorf("ReadUntil(0): got %q, want %q", got, "d")
	}
}

func TestReadN(t *testing.T) {
	src := chunks{"hel", "lo\x00wor", "ld", "!"}
	r := delim.NewReader(&src, 3)

	if got := string(r.ReadN(5)); got != "hello" {
		t.Errorf("ReadN(5): got %q, want %q", got, "hello")
	}
	if got := string(r.ReadN(0)); got != "" {
		t.Errorf("ReadN(0): got %q, want empty", got)
	}
	if got := string(r.ReadN(6)); got != "\x00world" {
		t.Errorf("ReadN(6): got %q, want %q", got, "\x00world")
	}

	// Asking for more than remains returns what there is, then nothing.
	if got := string(r.ReadN(10)); got != "!" {
		t.Errorf("ReadN(10): got %q, want %q", got, "!")
	}
	if got := r.ReadN(1); len(got) != 0 {
		t.Errorf("ReadN after EOF: got %q, want empty", got)
	}
	if n := r.Buffered(); n != 0 {
		t.Errorf("Buffered: got %d, want 0", n)
	}
}

func TestReadNThenUntil(t *testing.T) {
	r := delim.NewReader(strings.NewReader("5\x00ab\x00cdnext\x00"), 0)
	if got := string(r.ReadUntil(0, true)); got != "5" {
		t.Fatalf("ReadUntil: got %q, want %q", got, "5")
	}
	if got := string(r.ReadN(5)); got != "ab\x00cd" {
		t.Errorf("ReadN: got %q, want %q", got, "ab\x00cd")
	}
	if got := string(r.ReadUntil(0, true)); got != "next" {
		t.Errorf("ReadUntil: got %q, want %q", got, "next")
	}
}

func TestReadError(t *testing.T) {
	bad := errors.New("pipe exploded")
	r := delim.NewReader(io.MultiReader(strings.NewReader("partial"), iotest.ErrReader(bad)), 0)

	// The error ends the input but the data read so far are delivered.
	if got := string(r.ReadUntil(0, true)); got != "partial" {
		t.Errorf("ReadUntil: got %q, want %q", got, "partial")
	}
	if got := r.ReadUntil(0, true); len(got) != 0 {
		t.Errorf("ReadUntil after error: got %q, want empty", got)
	}
	if err := r.Err(); !errors.Is(err, bad) {
		t.Errorf("Err: got %v, want %v", err, bad)
	}
}

func TestDataErrReader(t *testing.T) {
	// A reader that returns its final data alongside io.EOF.
	r := delim.NewReader(iotest.DataErrReader(strings.NewReader("x\x00y")), 0)
	if got := string(r.ReadUntil(0, true)); got != "x" {
		t.Errorf("ReadUntil: got %q, want %q", got, "x")
	}
	if got := string(r.ReadN(4)); got != "y" {
		t.Errorf("ReadN: got %q, want %q", got, "y")
	}
	if err := r.Err(); err != nil {
		t.Errorf("Err: unexpected error: %v", err)
	}
}
