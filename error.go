// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

package zpipe

import (
	"errors"
	"fmt"
)

// ErrClosed is reported by an attempt to write to a pipe after it has been
// closed.
var ErrClosed = errors.New("write to closed zpipe")

// ErrInvalidState is reported by an attempt to change subscriptions after the
// gateway has been asked to stop delivering notices.
var ErrInvalidState = errors.New("zephyr output is closed")

// DecodeError is the concrete type of errors reported when the text of a
// notice cannot be decoded in its declared character set.
type DecodeError struct {
	Charset string // the character set of the notice
	Field   string // the field that could not be decoded
	Offset  int    // the byte offset of the first invalid byte
}

// Error satisfies the error interface.
func (e *DecodeError) Error() string {
	return fmt.Sprintf("cannot decode %s as %s: invalid byte at offset %d", e.Field, e.Charset, e.Offset)
}
